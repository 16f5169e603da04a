package broker

import (
	"context"
	"errors"
	"time"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrNoPosition    = errors.New("no open position")
	ErrNoPrice       = errors.New("no price for instrument")
)

// OrderStatus is the lifecycle state reported by the brokerage.
type OrderStatus int

const (
	StatusSubmitted OrderStatus = iota
	StatusFilled
	StatusCanceled
	StatusInvalid
)

func (s OrderStatus) String() string {
	switch s {
	case StatusSubmitted:
		return "Submitted"
	case StatusFilled:
		return "Filled"
	case StatusCanceled:
		return "Canceled"
	case StatusInvalid:
		return "Invalid"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further events follow this status.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusInvalid
}

type OrderDirection int

const (
	Buy OrderDirection = iota
	Sell
)

func (d OrderDirection) String() string {
	if d == Sell {
		return "SELL"
	}
	return "BUY"
}

// DirectionOf maps a signed quantity to buy (>=0) or sell (<0).
func DirectionOf(quantity float64) OrderDirection {
	if quantity < 0 {
		return Sell
	}
	return Buy
}

// CancelResult is the outcome of a cancel request. Asking to cancel an order
// that already finished is not an error: fills race cancels all the time.
type CancelResult int

const (
	CancelRequested CancelResult = iota
	CancelAlreadyTerminal
	CancelUnknown
)

func (r CancelResult) String() string {
	switch r {
	case CancelRequested:
		return "requested"
	case CancelAlreadyTerminal:
		return "already-terminal"
	default:
		return "unknown-order"
	}
}

// Quantities are signed: positive buys, negative sells.

type StopLimitOrderRequest struct {
	Instrument string
	Quantity   float64
	StopPrice  float64
	LimitPrice float64
	Tag        string
}

type LimitOrderRequest struct {
	Instrument string
	Quantity   float64
	LimitPrice float64
	Tag        string
}

type StopMarketOrderRequest struct {
	Instrument string
	Quantity   float64
	StopPrice  float64
	Tag        string
}

// OrderEvent is an asynchronous notification about an order.
type OrderEvent struct {
	OrderID      string
	Instrument   string
	Status       OrderStatus
	FillPrice    float64
	FillQuantity float64
	Direction    OrderDirection
	Tag          string
	Time         time.Time
}

// Position is the broker's view of an instrument holding.
type Position struct {
	Instrument   string
	Invested     bool
	Quantity     float64
	AveragePrice float64
}

type OrderPlacer interface {
	PlaceStopLimitOrder(ctx context.Context, req StopLimitOrderRequest) (string, error)
	PlaceLimitOrder(ctx context.Context, req LimitOrderRequest) (string, error)
	PlaceStopMarketOrder(ctx context.Context, req StopMarketOrderRequest) (string, error)
	// CancelOrder must be safe to call on filled, canceled or unknown orders.
	CancelOrder(ctx context.Context, orderID string) (CancelResult, error)
}

type PositionSource interface {
	GetPosition(ctx context.Context, instrument string) (Position, error)
}

type Liquidator interface {
	// LiquidatePosition closes the whole holding at market and returns the fill price.
	LiquidatePosition(ctx context.Context, instrument, tag string) (float64, error)
}

type Broker interface {
	OrderPlacer
	PositionSource
	Liquidator
}

// OrderEventListener receives order events from a broker implementation.
type OrderEventListener interface {
	OnOrderEvent(ev OrderEvent)
}
