// Package reconcile keeps the bot's believed position per instrument and
// checks it against the broker's truth. Any disagreement halts the
// instrument until an operator clears it.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/breakout/broker"
	"github.com/rustyeddy/breakout/ledger"
	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/metrics"
	"github.com/rustyeddy/breakout/risk"
	"github.com/rustyeddy/breakout/store"
)

var reconcileLog = logrus.WithField("component", "reconciler")

type State int

const (
	Flat State = iota
	PendingEntry
	InPosition
)

func (s State) String() string {
	switch s {
	case PendingEntry:
		return "pending_entry"
	case InPosition:
		return "in_position"
	default:
		return "flat"
	}
}

// BotPosition is what the bot believes it holds.
type BotPosition struct {
	Instrument         string
	HasPosition        bool
	IsEntryPending     bool
	Direction          market.Direction
	EntryPrice         float64
	Quantity           float64
	EntryTime          time.Time
	EntryTimeRecovered bool
	TradingDaysHeld    int
	CaptureAdjusted    bool
}

func (p BotPosition) State() State {
	switch {
	case p.HasPosition:
		return InPosition
	case p.IsEntryPending:
		return PendingEntry
	default:
		return Flat
	}
}

// ClosedTrade is produced whenever a position goes back to flat.
type ClosedTrade struct {
	Instrument string
	Direction  market.Direction
	Quantity   float64
	EntryPrice float64
	ExitPrice  float64
	EntryTime  time.Time
	ExitTime   time.Time
	PnL        float64
	PnLPct     float64
	Reason     string
}

// OrderPurger cancels every working order of an instrument.
type OrderPurger interface {
	PurgeInstrument(ctx context.Context, instrument string)
}

type Reconciler struct {
	positions   map[string]*BotPosition
	halted      map[string]time.Time
	tradedToday map[string]bool

	purger  OrderPurger
	kv      store.Store
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Reconciler)

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// New starts every instrument flat. kv may be nil, in which case entry
// times and halts live only in memory.
func New(instruments []string, purger OrderPurger, kv store.Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		positions:   make(map[string]*BotPosition, len(instruments)),
		halted:      make(map[string]time.Time),
		tradedToday: make(map[string]bool),
		purger:      purger,
		kv:          kv,
		now:         time.Now,
	}
	for _, inst := range instruments {
		r.positions[inst] = &BotPosition{Instrument: inst}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) Instruments() []string {
	out := make([]string, 0, len(r.positions))
	for inst := range r.positions {
		out = append(out, inst)
	}
	sort.Strings(out)
	return out
}

func (r *Reconciler) Position(instrument string) (BotPosition, bool) {
	p, ok := r.positions[instrument]
	if !ok {
		return BotPosition{}, false
	}
	return *p, true
}

func (r *Reconciler) Positions() []BotPosition {
	out := make([]BotPosition, 0, len(r.positions))
	for _, inst := range r.Instruments() {
		out = append(out, *r.positions[inst])
	}
	return out
}

// OpenCount returns the number of instruments in position and with a
// pending entry pair.
func (r *Reconciler) OpenCount() (open, pending int) {
	for _, p := range r.positions {
		switch p.State() {
		case InPosition:
			open++
		case PendingEntry:
			pending++
		}
	}
	return open, pending
}

// SyncOnStartup adopts the broker's position verbatim. It also serves halt
// clearance. The entry time comes from the store when present, otherwise it
// is now; an adopted entry time is always flagged recovered. The held-day
// counter restarts at zero.
func (r *Reconciler) SyncOnStartup(instrument string, truth broker.Position) {
	p, ok := r.positions[instrument]
	if !ok {
		return
	}
	log := reconcileLog.WithField("instrument", instrument)

	if !truth.Invested || truth.Quantity == 0 {
		*p = BotPosition{Instrument: instrument}
		r.forgetEntryTime(instrument)
		log.Debug("flat at startup")
		return
	}

	entryTime := r.loadEntryTime(instrument)
	*p = BotPosition{
		Instrument:         instrument,
		HasPosition:        true,
		Direction:          market.DirectionOf(truth.Quantity),
		EntryPrice:         truth.AveragePrice,
		Quantity:           math.Abs(truth.Quantity),
		EntryTime:          entryTime,
		EntryTimeRecovered: true,
	}
	log.WithFields(logrus.Fields{
		"direction": p.Direction.String(),
		"quantity":  p.Quantity,
		"entry":     p.EntryPrice,
	}).Info("adopted broker position")
}

// CheckDivergence reports whether the believed position agrees with the
// broker. On disagreement the instrument is halted, its believed state is
// overwritten with the broker's, and its orders are purged. A halted
// instrument always reports false.
func (r *Reconciler) CheckDivergence(ctx context.Context, instrument string, truth broker.Position) bool {
	p, ok := r.positions[instrument]
	if !ok {
		return true
	}
	if r.IsHalted(instrument) {
		return false
	}
	if p.HasPosition == truth.Invested {
		return true
	}

	reconcileLog.WithFields(logrus.Fields{
		"instrument":      instrument,
		"believed":        p.HasPosition,
		"broker_invested": truth.Invested,
		"broker_quantity": truth.Quantity,
	}).Warn("position divergence, halting instrument")

	r.halt(instrument)

	now := r.now()
	if truth.Invested {
		*p = BotPosition{
			Instrument:         instrument,
			HasPosition:        true,
			Direction:          market.DirectionOf(truth.Quantity),
			EntryPrice:         truth.AveragePrice,
			Quantity:           math.Abs(truth.Quantity),
			EntryTime:          now,
			EntryTimeRecovered: true,
		}
	} else {
		*p = BotPosition{Instrument: instrument}
		r.forgetEntryTime(instrument)
	}

	if r.purger != nil {
		r.purger.PurgeInstrument(ctx, instrument)
	}
	return false
}

// AdvanceDay counts one more trading day for every non-halted open position.
func (r *Reconciler) AdvanceDay() {
	for inst, p := range r.positions {
		if p.HasPosition && !r.IsHalted(inst) {
			p.TradingDaysHeld++
		}
	}
}

func (r *Reconciler) MarkEntryPending(instrument string) {
	if p, ok := r.positions[instrument]; ok && !p.HasPosition {
		p.IsEntryPending = true
	}
}

func (r *Reconciler) ClearEntryPending(instrument string) {
	if p, ok := r.positions[instrument]; ok {
		p.IsEntryPending = false
	}
}

func (r *Reconciler) MarkCaptureAdjusted(instrument string) {
	if p, ok := r.positions[instrument]; ok && p.HasPosition {
		p.CaptureAdjusted = true
	}
}

// ApplyFillOutcome moves the believed state along an entry or exit fill.
// It returns the closed trade for exits. Fills on halted instruments and
// fills that do not fit the current state are ignored.
func (r *Reconciler) ApplyFillOutcome(instrument string, outcome ledger.Outcome, fillPrice, fillQuantity float64) (ClosedTrade, bool) {
	p, ok := r.positions[instrument]
	if !ok || outcome == ledger.OutcomeNone {
		return ClosedTrade{}, false
	}
	log := reconcileLog.WithFields(logrus.Fields{
		"instrument": instrument,
		"outcome":    outcome.String(),
		"state":      p.State().String(),
	})
	if r.IsHalted(instrument) {
		log.Warn("fill on halted instrument ignored")
		return ClosedTrade{}, false
	}

	switch {
	case outcome.IsEntry():
		if p.HasPosition {
			log.Error("entry fill while already in position")
			return ClosedTrade{}, false
		}
		now := r.now()
		*p = BotPosition{
			Instrument:  instrument,
			HasPosition: true,
			Direction:   outcome.Direction(),
			EntryPrice:  fillPrice,
			Quantity:    math.Abs(fillQuantity),
			EntryTime:   now,
		}
		r.saveEntryTime(instrument, now)
		log.WithField("price", fillPrice).Info("position opened")
		return ClosedTrade{}, false

	case outcome.IsExit():
		if !p.HasPosition {
			log.Error("exit fill while flat")
			return ClosedTrade{}, false
		}
		return r.close(instrument, fillPrice, outcome.Reason()), true
	}
	return ClosedTrade{}, false
}

// Liquidated closes the believed position after a forced exit.
func (r *Reconciler) Liquidated(instrument string, exitPrice float64, reason string) (ClosedTrade, bool) {
	p, ok := r.positions[instrument]
	if !ok || !p.HasPosition {
		return ClosedTrade{}, false
	}
	return r.close(instrument, exitPrice, reason), true
}

func (r *Reconciler) close(instrument string, exitPrice float64, reason string) ClosedTrade {
	p := r.positions[instrument]
	pl, pct := risk.RealizedPL(p.Direction, p.EntryPrice, exitPrice, p.Quantity)
	ct := ClosedTrade{
		Instrument: instrument,
		Direction:  p.Direction,
		Quantity:   p.Quantity,
		EntryPrice: p.EntryPrice,
		ExitPrice:  exitPrice,
		EntryTime:  p.EntryTime,
		ExitTime:   r.now(),
		PnL:        pl,
		PnLPct:     pct,
		Reason:     reason,
	}

	*p = BotPosition{Instrument: instrument}
	r.tradedToday[instrument] = true
	r.forgetEntryTime(instrument)

	reconcileLog.WithFields(logrus.Fields{
		"instrument": instrument,
		"reason":     reason,
		"pnl":        pl,
	}).Info("position closed")
	return ct
}

func (r *Reconciler) TradedToday(instrument string) bool { return r.tradedToday[instrument] }

func (r *Reconciler) MarkTradedToday(instrument string) { r.tradedToday[instrument] = true }

func (r *Reconciler) ResetTradedToday() { r.tradedToday = make(map[string]bool) }

func (r *Reconciler) IsHalted(instrument string) bool {
	_, ok := r.halted[instrument]
	return ok
}

// Halted lists halted instruments in order.
func (r *Reconciler) Halted() []string {
	out := make([]string, 0, len(r.halted))
	for inst := range r.halted {
		out = append(out, inst)
	}
	sort.Strings(out)
	return out
}

func (r *Reconciler) halt(instrument string) {
	at := r.now()
	r.halted[instrument] = at
	r.metrics.Halt()
	if r.kv == nil {
		return
	}
	if err := r.kv.Save(store.HaltKey(instrument), at.UTC().Format(time.RFC3339)); err != nil {
		reconcileLog.WithError(err).WithField("instrument", instrument).Warn("persist halt")
	}
}

// ClearHalt is the operator's clearance. It reports whether the instrument
// was halted.
func (r *Reconciler) ClearHalt(instrument string) (bool, error) {
	if !r.IsHalted(instrument) {
		return false, nil
	}
	delete(r.halted, instrument)
	reconcileLog.WithField("instrument", instrument).Info("halt cleared")
	if r.kv == nil {
		return true, nil
	}
	if err := r.kv.Delete(store.HaltKey(instrument)); err != nil {
		return true, fmt.Errorf("clear halt %s: %w", instrument, err)
	}
	return true, nil
}

// LoadHalts restores halts persisted by an earlier run. Stores that cannot
// list keys restore nothing.
func (r *Reconciler) LoadHalts() error {
	lister, ok := r.kv.(store.Lister)
	if !ok {
		return nil
	}
	entries, err := lister.List(store.HaltPrefix)
	if err != nil {
		return fmt.Errorf("load halts: %w", err)
	}
	for _, inst := range store.Keys(entries, store.HaltPrefix) {
		if _, known := r.positions[inst]; !known {
			continue
		}
		at, err := time.Parse(time.RFC3339, entries[store.HaltKey(inst)])
		if err != nil {
			at = r.now()
		}
		r.halted[inst] = at
		reconcileLog.WithField("instrument", inst).Warn("instrument halted by an earlier run")
	}
	return nil
}

func (r *Reconciler) loadEntryTime(instrument string) time.Time {
	if r.kv != nil {
		v, ok, err := r.kv.Read(store.EntryTimeKey(instrument))
		if err != nil {
			reconcileLog.WithError(err).WithField("instrument", instrument).Warn("read entry time")
		}
		if ok {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				return t
			}
		}
	}
	return r.now()
}

func (r *Reconciler) saveEntryTime(instrument string, t time.Time) {
	if r.kv == nil {
		return
	}
	if err := r.kv.Save(store.EntryTimeKey(instrument), t.UTC().Format(time.RFC3339)); err != nil {
		reconcileLog.WithError(err).WithField("instrument", instrument).Warn("persist entry time")
	}
}

func (r *Reconciler) forgetEntryTime(instrument string) {
	if r.kv == nil {
		return
	}
	if err := r.kv.Delete(store.EntryTimeKey(instrument)); err != nil {
		reconcileLog.WithError(err).WithField("instrument", instrument).Warn("delete entry time")
	}
}
