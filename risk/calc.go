package risk

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/breakout/market"
)

// Shares is the whole-share quantity a fixed notional buys at price.
// Zero for a non-positive price or notional.
func Shares(notional, price float64) int64 {
	if notional <= 0 || price <= 0 {
		return 0
	}
	return int64(math.Floor(notional / price))
}

// RR is reward over risk for a bracket; zero when the stop sits on the entry.
func RR(entry, stop, takeProfit float64) float64 {
	risk := math.Abs(entry - stop)
	reward := math.Abs(takeProfit - entry)
	if risk == 0 {
		return 0
	}
	return reward / risk
}

// RealizedPL returns the profit of closing quantity shares opened at entry
// and closed at exit, plus that profit as a percentage of the entry price.
//
//	long:  (exit-entry)*qty
//	short: (entry-exit)*qty
func RealizedPL(dir market.Direction, entry, exit, quantity float64) (pl, pct float64) {
	sign := decimal.NewFromFloat(dir.Sign())
	e := decimal.NewFromFloat(entry)
	x := decimal.NewFromFloat(exit)
	q := decimal.NewFromFloat(math.Abs(quantity))

	move := x.Sub(e).Mul(sign)
	pl = move.Mul(q).Round(6).InexactFloat64()
	if entry > 0 {
		pct = move.Div(e).Mul(decimal.NewFromInt(100)).Round(6).InexactFloat64()
	}
	return pl, pct
}
