package sim

import "math"

// Position is the engine's net holding in one instrument.
type Position struct {
	Instrument   string
	Quantity     float64
	AveragePrice float64
	RealizedPL   float64
}

// apply books a signed fill against the position.
func (p *Position) apply(quantity, price float64) {
	switch {
	case p.Quantity == 0 || sameSign(p.Quantity, quantity):
		total := math.Abs(p.Quantity) + math.Abs(quantity)
		p.AveragePrice = (p.AveragePrice*math.Abs(p.Quantity) + price*math.Abs(quantity)) / total
		p.Quantity += quantity

	default:
		closed := math.Min(math.Abs(p.Quantity), math.Abs(quantity))
		sign := 1.0
		if p.Quantity < 0 {
			sign = -1
		}
		p.RealizedPL += sign * (price - p.AveragePrice) * closed
		p.Quantity += quantity
		switch {
		case p.Quantity == 0:
			p.AveragePrice = 0
		case !sameSign(p.Quantity, sign):
			p.AveragePrice = price
		}
	}
}

func sameSign(a, b float64) bool { return (a > 0) == (b > 0) }
