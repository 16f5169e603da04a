package market

import "github.com/shopspring/decimal"

// Broker tick sizes: $0.01 at or above one dollar, $0.0001 below.
const (
	tickPlacesDollar = 2
	tickPlacesPenny  = 4
)

// RoundToTick rounds a price to the minimum tick the broker accepts.
func RoundToTick(price float64) float64 {
	places := int32(tickPlacesDollar)
	if price < 1.0 {
		places = tickPlacesPenny
	}
	f, _ := decimal.NewFromFloat(price).Round(places).Float64()
	return f
}

// Offset returns price*(1+pct) rounded to the tick.
func Offset(price, pct float64) float64 {
	p := decimal.NewFromFloat(price)
	m := decimal.NewFromInt(1).Add(decimal.NewFromFloat(pct))
	return RoundToTick(p.Mul(m).InexactFloat64())
}
