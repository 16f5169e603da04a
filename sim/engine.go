// Package sim is a paper broker: it holds working orders, fills them
// against a price stream, and reports order events to a listener.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/breakout/broker"
	"github.com/rustyeddy/breakout/internal/id"
	"github.com/rustyeddy/breakout/market"
)

var ErrInvalidOrder = errors.New("invalid order")

var simLog = logrus.WithField("component", "sim")

type Engine struct {
	mu        sync.Mutex
	prices    *market.TickStore
	orders    map[string]*Order
	positions map[string]*Position
	listener  broker.OrderEventListener
	clock     time.Time
}

func NewEngine() *Engine {
	return &Engine{
		prices:    market.NewTickStore(),
		orders:    make(map[string]*Order),
		positions: make(map[string]*Position),
	}
}

// SetOrderEventListener sets the receiver of order events. Events are
// delivered after the engine lock is released, so the listener may call
// back into the engine.
func (e *Engine) SetOrderEventListener(l broker.OrderEventListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = l
}

func (e *Engine) Prices() *market.TickStore { return e.prices }

// Now is the latest tick time seen, or the wall clock before any tick.
// Replays pass it to the strategy so journal times follow the bars.
func (e *Engine) Now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.clock.IsZero() {
		return time.Now().UTC()
	}
	return e.clock
}

func (e *Engine) PlaceStopLimitOrder(ctx context.Context, req broker.StopLimitOrderRequest) (string, error) {
	if req.StopPrice <= 0 || req.LimitPrice <= 0 {
		return "", fmt.Errorf("stop-limit %s: %w: non-positive price", req.Instrument, ErrInvalidOrder)
	}
	return e.place(&Order{
		Instrument: req.Instrument,
		Quantity:   req.Quantity,
		StopPrice:  req.StopPrice,
		LimitPrice: req.LimitPrice,
		Tag:        req.Tag,
		kind:       kindStopLimit,
	})
}

func (e *Engine) PlaceLimitOrder(ctx context.Context, req broker.LimitOrderRequest) (string, error) {
	if req.LimitPrice <= 0 {
		return "", fmt.Errorf("limit %s: %w: non-positive price", req.Instrument, ErrInvalidOrder)
	}
	return e.place(&Order{
		Instrument: req.Instrument,
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
		Tag:        req.Tag,
		kind:       kindLimit,
	})
}

func (e *Engine) PlaceStopMarketOrder(ctx context.Context, req broker.StopMarketOrderRequest) (string, error) {
	if req.StopPrice <= 0 {
		return "", fmt.Errorf("stop-market %s: %w: non-positive price", req.Instrument, ErrInvalidOrder)
	}
	return e.place(&Order{
		Instrument: req.Instrument,
		Quantity:   req.Quantity,
		StopPrice:  req.StopPrice,
		Tag:        req.Tag,
		kind:       kindStopMarket,
	})
}

func (e *Engine) place(o *Order) (string, error) {
	if o.Instrument == "" || o.Quantity == 0 {
		return "", fmt.Errorf("%s: %w: empty instrument or zero quantity", o.kind, ErrInvalidOrder)
	}

	e.mu.Lock()
	o.ID = id.Order()
	o.Kind = o.kind.String()
	o.Status = broker.StatusSubmitted
	o.Created = e.nowLocked(o.Instrument)
	e.orders[o.ID] = o
	ev := e.eventLocked(o, broker.StatusSubmitted, 0, 0, o.Created)
	listener := e.listener
	e.mu.Unlock()

	simLog.WithFields(logrus.Fields{
		"order_id":   o.ID,
		"instrument": o.Instrument,
		"kind":       o.Kind,
		"quantity":   o.Quantity,
		"stop":       o.StopPrice,
		"limit":      o.LimitPrice,
		"tag":        o.Tag,
	}).Debug("order working")

	if listener != nil {
		listener.OnOrderEvent(ev)
	}
	return o.ID, nil
}

// CancelOrder never fails for a finished or unknown order; the result says
// which case applied.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) (broker.CancelResult, error) {
	e.mu.Lock()
	o, ok := e.orders[orderID]
	if !ok {
		e.mu.Unlock()
		return broker.CancelUnknown, nil
	}
	if o.Status.Terminal() {
		e.mu.Unlock()
		return broker.CancelAlreadyTerminal, nil
	}
	o.Status = broker.StatusCanceled
	ev := e.eventLocked(o, broker.StatusCanceled, 0, 0, e.nowLocked(o.Instrument))
	listener := e.listener
	e.mu.Unlock()

	if listener != nil {
		listener.OnOrderEvent(ev)
	}
	return broker.CancelRequested, nil
}

func (e *Engine) GetPosition(ctx context.Context, instrument string) (broker.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.positions[instrument]
	if !ok || p.Quantity == 0 {
		return broker.Position{Instrument: instrument}, nil
	}
	return broker.Position{
		Instrument:   instrument,
		Invested:     true,
		Quantity:     p.Quantity,
		AveragePrice: p.AveragePrice,
	}, nil
}

// LiquidatePosition closes the whole holding at the last price. The fill is
// also reported as an order event under a fresh order id.
func (e *Engine) LiquidatePosition(ctx context.Context, instrument, tag string) (float64, error) {
	e.mu.Lock()
	p, ok := e.positions[instrument]
	if !ok || p.Quantity == 0 {
		e.mu.Unlock()
		return 0, fmt.Errorf("liquidate %s: %w", instrument, broker.ErrNoPosition)
	}
	tick, err := e.prices.Get(instrument)
	if err != nil {
		e.mu.Unlock()
		return 0, fmt.Errorf("liquidate %s: %w", instrument, broker.ErrNoPrice)
	}

	o := &Order{
		ID:         id.Order(),
		Instrument: instrument,
		Quantity:   -p.Quantity,
		Tag:        tag,
		Status:     broker.StatusFilled,
		Created:    tick.Time,
		kind:       kindStopMarket,
	}
	o.Kind = "market"
	e.orders[o.ID] = o
	p.apply(o.Quantity, tick.Price)
	ev := e.eventLocked(o, broker.StatusFilled, tick.Price, o.Quantity, tick.Time)
	listener := e.listener
	e.mu.Unlock()

	simLog.WithFields(logrus.Fields{
		"instrument": instrument,
		"price":      tick.Price,
		"tag":        tag,
	}).Info("position liquidated")

	if listener != nil {
		listener.OnOrderEvent(ev)
	}
	return tick.Price, nil
}

// ForcePosition overwrites the holding for instrument without any order,
// the way a manual trade in the brokerage account would.
func (e *Engine) ForcePosition(instrument string, quantity, averagePrice float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.position(instrument)
	p.Quantity = quantity
	p.AveragePrice = averagePrice
	if quantity == 0 {
		p.AveragePrice = 0
	}
}

// UpdatePrice records a tick and fills every working order of the
// instrument the move crosses, in placement order.
func (e *Engine) UpdatePrice(t market.Tick) error {
	if t.Price <= 0 || math.IsNaN(t.Price) {
		return fmt.Errorf("update price %s: %w", t.Instrument, broker.ErrNoPrice)
	}

	e.mu.Lock()
	var prev float64
	if last, err := e.prices.Get(t.Instrument); err == nil {
		prev = last.Price
	}
	e.prices.Set(t)
	if t.Time.After(e.clock) {
		e.clock = t.Time
	}

	var events []broker.OrderEvent
	for _, o := range e.workingLocked(t.Instrument) {
		price, ok := o.evaluate(prev, t.Price)
		if !ok {
			continue
		}
		o.Status = broker.StatusFilled
		e.position(o.Instrument).apply(o.Quantity, price)
		events = append(events, e.eventLocked(o, broker.StatusFilled, price, o.Quantity, t.Time))
	}
	listener := e.listener
	e.mu.Unlock()

	for _, ev := range events {
		simLog.WithFields(logrus.Fields{
			"order_id":   ev.OrderID,
			"instrument": ev.Instrument,
			"price":      ev.FillPrice,
			"tag":        ev.Tag,
		}).Debug("order filled")
		if listener != nil {
			listener.OnOrderEvent(ev)
		}
	}
	return nil
}

// Orders returns the working orders of instrument, or of every instrument
// when instrument is empty, in placement order.
func (e *Engine) Orders(instrument string) []Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Order
	for _, o := range e.workingLocked(instrument) {
		out = append(out, *o)
	}
	return out
}

// RealizedPL sums realized profit across instruments.
func (e *Engine) RealizedPL() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	var total float64
	for _, p := range e.positions {
		total += p.RealizedPL
	}
	return total
}

func (e *Engine) workingLocked(instrument string) []*Order {
	var out []*Order
	for _, o := range e.orders {
		if o.Status != broker.StatusSubmitted {
			continue
		}
		if instrument != "" && o.Instrument != instrument {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) position(instrument string) *Position {
	p, ok := e.positions[instrument]
	if !ok {
		p = &Position{Instrument: instrument}
		e.positions[instrument] = p
	}
	return p
}

func (e *Engine) nowLocked(instrument string) time.Time {
	if t, err := e.prices.Get(instrument); err == nil && !t.Time.IsZero() {
		return t.Time
	}
	return time.Now().UTC()
}

func (e *Engine) eventLocked(o *Order, status broker.OrderStatus, price, qty float64, at time.Time) broker.OrderEvent {
	return broker.OrderEvent{
		OrderID:      o.ID,
		Instrument:   o.Instrument,
		Status:       status,
		FillPrice:    price,
		FillQuantity: qty,
		Direction:    broker.DirectionOf(o.Quantity),
		Tag:          o.Tag,
		Time:         at,
	}
}

var _ broker.Broker = (*Engine)(nil)
