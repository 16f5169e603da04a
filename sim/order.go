package sim

import (
	"time"

	"github.com/rustyeddy/breakout/broker"
)

type orderKind int

const (
	kindStopLimit orderKind = iota
	kindLimit
	kindStopMarket
)

func (k orderKind) String() string {
	switch k {
	case kindStopLimit:
		return "stop_limit"
	case kindLimit:
		return "limit"
	default:
		return "stop_market"
	}
}

// Order is a working order held by the engine. Quantity is signed.
type Order struct {
	ID         string
	Instrument string
	Kind       string
	Quantity   float64
	StopPrice  float64
	LimitPrice float64
	Tag        string
	Status     broker.OrderStatus
	Triggered  bool
	Created    time.Time

	kind orderKind
}

func (o *Order) buy() bool { return o.Quantity > 0 }

// evaluate decides whether the move from prev to price fills the order and
// at what price. Prices between ticks are assumed continuous: a level
// crossed between prev and price fills at the level, while a level already
// beyond prev (a gap) fills at price. prev is zero when no earlier tick
// exists.
func (o *Order) evaluate(prev, price float64) (float64, bool) {
	switch o.kind {
	case kindStopMarket:
		return o.stopTrigger(prev, price)

	case kindLimit:
		return o.limitFill(prev, price)

	case kindStopLimit:
		if !o.Triggered {
			trig, ok := o.stopTrigger(prev, price)
			if !ok {
				return 0, false
			}
			o.Triggered = true
			if o.withinLimit(trig) {
				return trig, true
			}
			return 0, false
		}
		if o.withinLimit(price) {
			return price, true
		}
	}
	return 0, false
}

func (o *Order) stopTrigger(prev, price float64) (float64, bool) {
	if o.buy() {
		if price < o.StopPrice {
			return 0, false
		}
		if prev > 0 && prev < o.StopPrice {
			return o.StopPrice, true
		}
		return price, true
	}
	if price > o.StopPrice {
		return 0, false
	}
	if prev > 0 && prev > o.StopPrice {
		return o.StopPrice, true
	}
	return price, true
}

func (o *Order) limitFill(prev, price float64) (float64, bool) {
	if !o.withinLimit(price) {
		return 0, false
	}
	if prev > 0 && !o.withinLimit(prev) {
		return o.LimitPrice, true
	}
	return price, true
}

func (o *Order) withinLimit(price float64) bool {
	if o.buy() {
		return price <= o.LimitPrice
	}
	return price >= o.LimitPrice
}
