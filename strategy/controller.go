// Package strategy drives the daily breakout cycle: it stages entries at the
// open, manages exits intraday, enforces the time stop, and keeps the order
// ledger and the believed positions consistent with the broker.
//
// A Controller is not safe for concurrent use; package engine serializes
// every call through one goroutine.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/breakout/broker"
	"github.com/rustyeddy/breakout/config"
	"github.com/rustyeddy/breakout/internal/id"
	"github.com/rustyeddy/breakout/journal"
	"github.com/rustyeddy/breakout/ledger"
	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/metrics"
	"github.com/rustyeddy/breakout/reconcile"
	"github.com/rustyeddy/breakout/signal"
	"github.com/rustyeddy/breakout/store"
)

var ErrInvariant = errors.New("invariant violated")

var controllerLog = logrus.WithField("component", "controller")

// Params are the trading knobs. Percentages are fractions.
type Params struct {
	TimeStopDays    int
	PositionSize    float64
	CapturePointPct float64
	BreakevenOffset float64
	TakeProfitPct   float64
	StopLossPct     float64
	Earnings        market.EarningsCalendar
}

func ParamsFromConfig(cfg config.StrategyConfig, cal market.EarningsCalendar) Params {
	return Params{
		TimeStopDays:    cfg.TimeStopDays,
		PositionSize:    cfg.PositionSize,
		CapturePointPct: cfg.CapturePointPct,
		BreakevenOffset: cfg.BreakevenOffset,
		TakeProfitPct:   cfg.TakeProfitPct,
		StopLossPct:     cfg.StopLossPct,
		Earnings:        cal,
	}
}

// TradeLogger receives the controller's lifecycle notifications.
type TradeLogger interface {
	OnTradeClosed(journal.TradeRecord)
	OnOrderEvent(broker.OrderEvent)
	OnDailySummary(journal.DailySummary)
}

// SignalSource turns an opening price into entry levels.
type SignalSource interface {
	Generate(instrument string, openPrice float64) (signal.Signals, bool)
}

type Controller struct {
	broker  broker.Broker
	signals SignalSource
	logger  TradeLogger
	params  Params

	ledger *ledger.Ledger
	recon  *reconcile.Reconciler

	kv      store.Store
	metrics *metrics.Metrics
	now     func() time.Time

	dayTrades []journal.TradeRecord
}

type Option func(*Controller)

func WithStore(kv store.Store) Option {
	return func(c *Controller) { c.kv = kv }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func New(instruments []string, b broker.Broker, sig SignalSource, logger TradeLogger, p Params, opts ...Option) *Controller {
	c := &Controller{
		broker:  b,
		signals: sig,
		logger:  logger,
		params:  p,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ledger = ledger.New(b, ledger.WithMetrics(c.metrics))
	c.recon = reconcile.New(instruments, c.ledger, c.kv,
		reconcile.WithClock(c.now),
		reconcile.WithMetrics(c.metrics),
	)
	return c
}

func (c *Controller) Ledger() *ledger.Ledger { return c.ledger }

func (c *Controller) Reconciler() *reconcile.Reconciler { return c.recon }

// Start restores persisted halts, adopts the broker's positions, and gives
// every adopted position a fresh bracket.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.recon.LoadHalts(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	for _, inst := range c.recon.Instruments() {
		truth, err := c.broker.GetPosition(ctx, inst)
		if err != nil {
			controllerLog.WithError(err).WithField("instrument", inst).Warn("position unavailable at startup")
			continue
		}
		c.recon.SyncOnStartup(inst, truth)
		if !c.recon.IsHalted(inst) {
			c.protect(ctx, inst)
		}
	}
	c.updateBook()
	return nil
}

// OnDayStart runs the opening sequence: age positions, reconcile, apply the
// time stop, check capture at the open, then stage new entries.
func (c *Controller) OnDayStart(ctx context.Context, day time.Time, opens map[string]float64) {
	log := controllerLog.WithField("day", day.Format(market.DateLayout))
	log.Info("day start")

	c.recon.AdvanceDay()

	for _, inst := range c.recon.Instruments() {
		if c.recon.IsHalted(inst) {
			continue
		}
		c.reconcile(ctx, inst)
	}

	for _, inst := range c.recon.Instruments() {
		c.timeStop(ctx, day, inst, opens[inst])
	}

	for _, inst := range c.recon.Instruments() {
		if open, ok := opens[inst]; ok {
			c.capture(ctx, inst, open)
		}
	}

	for _, inst := range c.recon.Instruments() {
		c.stage(ctx, day, inst, opens[inst])
	}

	c.updateBook()
}

// OnTick moves stops to breakeven once price reaches the capture point.
func (c *Controller) OnTick(ctx context.Context, prices map[string]float64) {
	for inst, price := range prices {
		c.capture(ctx, inst, price)
	}
}

// OnOrderEvent routes a broker notification to the ledger and the
// reconciler.
func (c *Controller) OnOrderEvent(ctx context.Context, ev broker.OrderEvent) {
	if c.logger != nil {
		c.logger.OnOrderEvent(ev)
	}

	switch ev.Status {
	case broker.StatusFilled:
		c.onFill(ctx, ev)
	case broker.StatusCanceled, broker.StatusInvalid:
		c.onCancel(ctx, ev)
	}
	c.updateBook()
}

// OnEndOfDay withdraws untriggered entry pairs and emits the day's summary.
func (c *Controller) OnEndOfDay(ctx context.Context, day time.Time) journal.DailySummary {
	for _, e := range c.ledger.Entries() {
		c.ledger.CancelEntryPair(ctx, e.Instrument)
		c.recon.ClearEntryPending(e.Instrument)
	}
	c.recon.ResetTradedToday()

	summary := journal.Summarize(market.DateOf(day), c.dayTrades)
	c.dayTrades = nil
	if c.logger != nil {
		c.logger.OnDailySummary(summary)
	}
	c.updateBook()
	return summary
}

// ClearHalt is the operator's clearance for instrument. The broker's
// position is adopted again and a held position gets a new bracket. A flat
// broker leaves the instrument flat with no orders.
func (c *Controller) ClearHalt(ctx context.Context, instrument string) (bool, error) {
	cleared, err := c.recon.ClearHalt(instrument)
	if !cleared {
		return false, err
	}
	defer c.updateBook()

	truth, perr := c.broker.GetPosition(ctx, instrument)
	if perr != nil {
		// the next reconcile settles the believed state
		controllerLog.WithError(perr).WithField("instrument", instrument).Warn("position unavailable at clearance, no bracket attached")
		return true, errors.Join(err, fmt.Errorf("clear halt %s: %w", instrument, perr))
	}
	c.recon.SyncOnStartup(instrument, truth)
	if !truth.Invested {
		c.ledger.PurgeInstrument(ctx, instrument)
		return true, err
	}
	c.protect(ctx, instrument)
	return true, err
}

func (c *Controller) reconcile(ctx context.Context, inst string) {
	truth, err := c.broker.GetPosition(ctx, inst)
	if err != nil {
		controllerLog.WithError(err).WithField("instrument", inst).Warn("position unavailable, skipping reconcile")
		return
	}
	if c.recon.CheckDivergence(ctx, inst, truth) {
		return
	}

	at := c.now()
	c.record(journal.TradeRecord{
		Instrument: inst,
		Side:       journal.SideOverride,
		Quantity:   math.Abs(truth.Quantity),
		OpenTime:   at,
		CloseTime:  at,
		Reason:     ledger.ReasonManualIntervention,
	})
}

func (c *Controller) timeStop(ctx context.Context, day time.Time, inst string, open float64) {
	pos, ok := c.recon.Position(inst)
	if !ok || !pos.HasPosition || c.recon.IsHalted(inst) {
		return
	}
	if c.params.TimeStopDays <= 0 || pos.TradingDaysHeld < c.params.TimeStopDays {
		return
	}
	log := controllerLog.WithFields(logrus.Fields{
		"instrument": inst,
		"days_held":  pos.TradingDaysHeld,
	})
	if c.params.Earnings.InBlackout(inst, day) {
		log.Info("time stop deferred by earnings blackout")
		return
	}

	c.ledger.PurgeInstrument(ctx, inst)
	exit := open
	price, err := c.broker.LiquidatePosition(ctx, inst, ledger.ReasonTimeStop)
	if err != nil {
		log.WithError(err).Error("liquidation failed, booking at the open")
	} else if price > 0 {
		exit = price
	}

	if ct, ok := c.recon.Liquidated(inst, exit, ledger.ReasonTimeStop); ok {
		c.closed(ct)
	}
	c.recon.MarkTradedToday(inst)
	log.WithField("exit", exit).Info("time stop")
}

func (c *Controller) capture(ctx context.Context, inst string, price float64) {
	if c.params.CapturePointPct <= 0 || price <= 0 {
		return
	}
	pos, ok := c.recon.Position(inst)
	if !ok || !pos.HasPosition || pos.CaptureAdjusted || c.recon.IsHalted(inst) {
		return
	}

	target := market.Offset(pos.EntryPrice, pos.Direction.Sign()*c.params.CapturePointPct)
	reached := price >= target
	if pos.Direction == market.Short {
		reached = price <= target
	}
	if !reached {
		return
	}

	if c.ledger.AdjustStopToBreakeven(ctx, inst, pos.EntryPrice, pos.Direction, c.params.BreakevenOffset) {
		c.recon.MarkCaptureAdjusted(inst)
		controllerLog.WithFields(logrus.Fields{
			"instrument": inst,
			"target":     target,
			"price":      price,
		}).Info("capture point reached")
	}
}

func (c *Controller) stage(ctx context.Context, day time.Time, inst string, open float64) {
	log := controllerLog.WithField("instrument", inst)
	switch {
	case c.recon.IsHalted(inst):
		log.Debug("halted, no entry")
		return
	case c.recon.TradedToday(inst):
		log.Debug("already traded today")
		return
	case c.params.Earnings.InBlackout(inst, day):
		log.Info("earnings blackout, no entry")
		return
	}
	pos, ok := c.recon.Position(inst)
	if !ok || pos.State() != reconcile.Flat {
		return
	}

	sig, ok := c.signals.Generate(inst, open)
	if !ok {
		log.WithField("open", open).Debug("no signal")
		return
	}
	if c.ledger.StageEntryPair(ctx, inst, sig, c.params.PositionSize) {
		c.recon.MarkEntryPending(inst)
	}
}

func (c *Controller) onFill(ctx context.Context, ev broker.OrderEvent) {
	fill := c.ledger.ReduceFillEvent(ctx, ev.OrderID, ev.FillPrice, ev.FillQuantity)
	c.metrics.Fill(fill.Outcome.String())
	if fill.Outcome == ledger.OutcomeNone {
		return
	}

	if ct, ok := c.recon.ApplyFillOutcome(fill.Instrument, fill.Outcome, fill.Price, fill.Quantity); ok {
		c.closed(ct)
	}

	if !c.recon.IsHalted(fill.Instrument) {
		c.reconcile(ctx, fill.Instrument)
	}
	if err := c.CheckInvariants(); err != nil {
		controllerLog.WithError(err).Error("state check after fill")
	}
}

// onCancel forgets the order. An entry leg that dies on its own breaks the
// pair, so the survivor is withdrawn too.
func (c *Controller) onCancel(ctx context.Context, ev broker.OrderEvent) {
	rec, tracked := c.ledger.Record(ev.OrderID)
	if !tracked {
		return
	}
	c.ledger.ReduceCancelEvent(ev.OrderID)

	log := controllerLog.WithFields(logrus.Fields{
		"instrument": rec.Instrument,
		"order_id":   ev.OrderID,
		"role":       rec.Role.String(),
		"status":     ev.Status.String(),
	})
	switch rec.Role {
	case ledger.RoleEntryLong, ledger.RoleEntryShort:
		log.Warn("entry leg ended before the pair resolved")
		c.ledger.CancelEntryPair(ctx, rec.Instrument)
		c.recon.ClearEntryPending(rec.Instrument)
	default:
		log.Error("protective order ended without a fill")
	}
}

func (c *Controller) protect(ctx context.Context, inst string) {
	pos, ok := c.recon.Position(inst)
	if !ok || !pos.HasPosition || c.ledger.HasBracket(inst) {
		return
	}
	c.ledger.AttachBracket(ctx, inst, pos.EntryPrice, pos.Direction, pos.Quantity, c.params.TakeProfitPct, c.params.StopLossPct)
}

func (c *Controller) closed(ct reconcile.ClosedTrade) {
	side := journal.SideLong
	if ct.Direction == market.Short {
		side = journal.SideShort
	}
	c.metrics.Exit(ct.Reason, side)
	c.record(journal.TradeRecord{
		Instrument: ct.Instrument,
		Side:       side,
		Quantity:   ct.Quantity,
		EntryPrice: ct.EntryPrice,
		ExitPrice:  ct.ExitPrice,
		OpenTime:   ct.EntryTime,
		CloseTime:  ct.ExitTime,
		PnL:        ct.PnL,
		PnLPct:     ct.PnLPct,
		Reason:     ct.Reason,
	})
}

func (c *Controller) record(rec journal.TradeRecord) {
	rec.TradeID = id.Trade()
	c.dayTrades = append(c.dayTrades, rec)
	if c.logger != nil {
		c.logger.OnTradeClosed(rec)
	}
}

func (c *Controller) updateBook() {
	open, pending := c.recon.OpenCount()
	c.metrics.SetBook(open, pending)
}

// CheckInvariants verifies that every non-halted instrument holds a bracket
// exactly when it holds a position, a pending flag exactly when it has an
// entry pair, and never both an entry pair and a bracket.
func (c *Controller) CheckInvariants() error {
	var errs []error
	for _, p := range c.recon.Positions() {
		inst := p.Instrument
		pending := c.ledger.HasPendingEntry(inst)
		bracket := c.ledger.HasBracket(inst)
		if pending && bracket {
			errs = append(errs, fmt.Errorf("%w: %s has an entry pair and a bracket", ErrInvariant, inst))
		}
		if c.recon.IsHalted(inst) {
			continue
		}
		if bracket != p.HasPosition {
			errs = append(errs, fmt.Errorf("%w: %s bracket=%t position=%t", ErrInvariant, inst, bracket, p.HasPosition))
		}
		if pending != p.IsEntryPending {
			errs = append(errs, fmt.Errorf("%w: %s entry pair=%t pending=%t", ErrInvariant, inst, pending, p.IsEntryPending))
		}
	}
	return errors.Join(errs...)
}

// Snapshot is a point-in-time copy of the controller's state.
type Snapshot struct {
	Positions  []reconcile.BotPosition
	Entries    []ledger.OcoEntry
	Brackets   []ledger.BracketExit
	Halted     []string
	OpenOrders int
}

func (c *Controller) Snapshot() Snapshot {
	return Snapshot{
		Positions:  c.recon.Positions(),
		Entries:    c.ledger.Entries(),
		Brackets:   c.ledger.Brackets(),
		Halted:     c.recon.Halted(),
		OpenOrders: c.ledger.OpenOrders(),
	}
}
