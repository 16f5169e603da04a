// Package ledger owns every in-flight order of the breakout strategy: staged
// entry pairs, protective brackets, and the reverse index from broker order
// id to semantic role that the fill reducer dispatches on.
//
// A Ledger is not safe for concurrent use. Callers serialize access through a
// single event loop (see package engine).
package ledger

import (
	"context"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/breakout/broker"
	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/metrics"
	"github.com/rustyeddy/breakout/risk"
	"github.com/rustyeddy/breakout/signal"
)

// EntryLimitCushion is how far past the trigger an entry's limit sits, so a
// triggered stop-limit is not immediately stranded.
const EntryLimitCushion = 0.001

var ledgerLog = logrus.WithField("component", "ledger")

type Ledger struct {
	broker  broker.OrderPlacer
	metrics *metrics.Metrics

	entries  map[string]*OcoEntry
	brackets map[string]*BracketExit
	orders   map[string]OrderRecord
}

type Option func(*Ledger)

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

func New(b broker.OrderPlacer, opts ...Option) *Ledger {
	l := &Ledger{
		broker:   b,
		entries:  make(map[string]*OcoEntry),
		brackets: make(map[string]*BracketExit),
		orders:   make(map[string]OrderRecord),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// StageEntryPair places competing long and short stop-limit entries. It
// refuses when the instrument already has an entry pair or a bracket, when
// either side's share quantity rounds to zero, or when the broker rejects a
// leg; in every refusal the ledger is left unchanged.
func (l *Ledger) StageEntryPair(ctx context.Context, instrument string, sig signal.Signals, positionSize float64) bool {
	log := ledgerLog.WithField("instrument", instrument)

	if _, ok := l.entries[instrument]; ok {
		log.Debug("entry pair already staged")
		return false
	}
	if _, ok := l.brackets[instrument]; ok {
		log.Debug("position open, not staging entries")
		return false
	}

	longStop := market.RoundToTick(sig.LongTrigger)
	shortStop := market.RoundToTick(sig.ShortTrigger)
	longLimit := market.Offset(longStop, EntryLimitCushion)
	shortLimit := market.Offset(shortStop, -EntryLimitCushion)

	longQty := float64(risk.Shares(positionSize, longStop))
	shortQty := float64(risk.Shares(positionSize, shortStop))
	if longQty <= 0 || shortQty <= 0 {
		log.WithField("position_size", positionSize).Info("position size too small")
		return false
	}

	longID, err := l.broker.PlaceStopLimitOrder(ctx, broker.StopLimitOrderRequest{
		Instrument: instrument,
		Quantity:   longQty,
		StopPrice:  longStop,
		LimitPrice: longLimit,
		Tag:        RoleEntryLong.String(),
	})
	if err != nil {
		log.WithError(err).Error("place long entry")
		return false
	}

	shortID, err := l.broker.PlaceStopLimitOrder(ctx, broker.StopLimitOrderRequest{
		Instrument: instrument,
		Quantity:   -shortQty,
		StopPrice:  shortStop,
		LimitPrice: shortLimit,
		Tag:        RoleEntryShort.String(),
	})
	if err != nil {
		log.WithError(err).Error("place short entry")
		l.cancel(ctx, longID, "short leg rejected")
		return false
	}

	l.entries[instrument] = &OcoEntry{
		Instrument:    instrument,
		LongOrderID:   longID,
		ShortOrderID:  shortID,
		LongStop:      longStop,
		LongLimit:     longLimit,
		ShortStop:     shortStop,
		ShortLimit:    shortLimit,
		LongQuantity:  longQty,
		ShortQuantity: shortQty,
		TakeProfitPct: sig.TakeProfitPct,
		StopLossPct:   sig.StopLossPct,
	}
	l.track(longID, instrument, RoleEntryLong, longQty)
	l.track(shortID, instrument, RoleEntryShort, shortQty)

	log.WithFields(logrus.Fields{
		"long_qty":   longQty,
		"long_stop":  longStop,
		"short_qty":  shortQty,
		"short_stop": shortStop,
		"rr":         risk.RR(longStop, market.Offset(longStop, -sig.StopLossPct), market.Offset(longStop, sig.TakeProfitPct)),
	}).Info("entry pair staged")
	return true
}

// ReduceFillEvent turns a broker fill into a lifecycle outcome and performs
// the cascade it implies: an entry fill cancels its sibling and attaches a
// bracket anchored at the fill price; an exit fill cancels the other leg.
// Unknown order ids reduce to OutcomeNone.
func (l *Ledger) ReduceFillEvent(ctx context.Context, orderID string, fillPrice, fillQuantity float64) Fill {
	rec, ok := l.orders[orderID]
	if !ok {
		ledgerLog.WithField("order_id", orderID).Debug("fill for untracked order")
		return Fill{Outcome: OutcomeNone, OrderID: orderID}
	}
	delete(l.orders, orderID)

	qty := math.Abs(fillQuantity)
	if qty == 0 {
		qty = rec.Quantity
	}
	fill := Fill{OrderID: orderID, Instrument: rec.Instrument, Price: fillPrice, Quantity: qty}
	log := ledgerLog.WithFields(logrus.Fields{
		"instrument": rec.Instrument,
		"order_id":   orderID,
		"role":       rec.Role.String(),
		"price":      fillPrice,
	})

	switch rec.Role {
	case RoleEntryLong, RoleEntryShort:
		oco, ok := l.entries[rec.Instrument]
		if !ok {
			log.Warn("entry fill without a staged pair")
			return Fill{Outcome: OutcomeNone, OrderID: orderID}
		}
		dir, sibling, outcome := market.Long, oco.ShortOrderID, OutcomeEntryLong
		if rec.Role == RoleEntryShort {
			dir, sibling, outcome = market.Short, oco.LongOrderID, OutcomeEntryShort
		}

		delete(l.orders, sibling)
		if res := l.cancel(ctx, sibling, "sibling entry filled"); res == broker.CancelAlreadyTerminal {
			log.WithField("sibling", sibling).Warn("sibling entry already terminal")
		}
		delete(l.entries, rec.Instrument)

		l.AttachBracket(ctx, rec.Instrument, fillPrice, dir, qty, oco.TakeProfitPct, oco.StopLossPct)
		fill.Outcome = outcome

	case RoleTakeProfit, RoleStopLoss, RoleStopLossAdjusted:
		br, ok := l.brackets[rec.Instrument]
		if !ok {
			log.Warn("exit fill without a bracket")
			return Fill{Outcome: OutcomeNone, OrderID: orderID}
		}
		sibling := br.StopLossOrderID
		fill.Outcome = OutcomeExitTakeProfit
		switch rec.Role {
		case RoleStopLoss:
			sibling, fill.Outcome = br.TakeProfitOrderID, OutcomeExitStopLoss
		case RoleStopLossAdjusted:
			sibling, fill.Outcome = br.TakeProfitOrderID, OutcomeExitStopLossAdjusted
		}

		delete(l.orders, sibling)
		l.cancel(ctx, sibling, "bracket leg filled")
		delete(l.brackets, rec.Instrument)
	}

	log.WithField("outcome", fill.Outcome.String()).Info("fill reduced")
	return fill
}

// ReduceCancelEvent forgets a canceled or rejected order. It reports whether
// the order was tracked.
func (l *Ledger) ReduceCancelEvent(orderID string) bool {
	rec, ok := l.orders[orderID]
	if !ok {
		return false
	}
	delete(l.orders, orderID)
	ledgerLog.WithFields(logrus.Fields{
		"instrument": rec.Instrument,
		"order_id":   orderID,
		"role":       rec.Role.String(),
	}).Debug("order no longer working")
	return true
}

// AttachBracket places take-profit (limit) and stop-loss (stop-market) legs
// around entryPrice. A leg the broker rejects is left empty and logged; the
// bracket is still recorded so the position is never untracked.
func (l *Ledger) AttachBracket(ctx context.Context, instrument string, entryPrice float64, dir market.Direction, quantity, tpPct, slPct float64) bool {
	log := ledgerLog.WithField("instrument", instrument)
	if _, ok := l.brackets[instrument]; ok {
		log.Debug("bracket already attached")
		return false
	}
	if dir == market.None || quantity <= 0 {
		log.WithField("quantity", quantity).Warn("cannot bracket an empty position")
		return false
	}

	sign := dir.Sign()
	tp := market.Offset(entryPrice, sign*tpPct)
	sl := market.Offset(entryPrice, -sign*slPct)
	exitQty := -sign * quantity

	br := &BracketExit{
		Instrument:      instrument,
		EntryPrice:      entryPrice,
		Direction:       dir,
		Quantity:        quantity,
		TakeProfitPrice: tp,
		StopLossPrice:   sl,
	}

	tpID, err := l.broker.PlaceLimitOrder(ctx, broker.LimitOrderRequest{
		Instrument: instrument,
		Quantity:   exitQty,
		LimitPrice: tp,
		Tag:        RoleTakeProfit.String(),
	})
	if err != nil {
		log.WithError(err).Error("place take profit")
	} else {
		br.TakeProfitOrderID = tpID
		l.track(tpID, instrument, RoleTakeProfit, quantity)
	}

	slID, err := l.broker.PlaceStopMarketOrder(ctx, broker.StopMarketOrderRequest{
		Instrument: instrument,
		Quantity:   exitQty,
		StopPrice:  sl,
		Tag:        RoleStopLoss.String(),
	})
	if err != nil {
		log.WithError(err).Error("place stop loss")
	} else {
		br.StopLossOrderID = slID
		l.track(slID, instrument, RoleStopLoss, quantity)
	}

	l.brackets[instrument] = br
	log.WithFields(logrus.Fields{
		"direction": dir.String(),
		"entry":     entryPrice,
		"tp":        tp,
		"sl":        sl,
	}).Info("bracket attached")
	return true
}

// AdjustStopToBreakeven replaces the bracket's stop with a stop-market at
// entry*(1+offset) for longs or entry*(1-offset) for shorts. It succeeds at
// most once per bracket.
func (l *Ledger) AdjustStopToBreakeven(ctx context.Context, instrument string, entryPrice float64, dir market.Direction, breakevenOffset float64) bool {
	log := ledgerLog.WithField("instrument", instrument)

	br, ok := l.brackets[instrument]
	if !ok {
		log.Debug("no bracket to adjust")
		return false
	}
	if br.Adjusted {
		log.Debug("stop already adjusted")
		return false
	}
	if dir == market.None {
		return false
	}

	sign := dir.Sign()
	newStop := market.Offset(entryPrice, sign*breakevenOffset)
	oldID := br.StopLossOrderID

	// a stop that already filled or cannot be confirmed canceled keeps its
	// record so the pending fill still closes the position
	if oldID == "" {
		log.Warn("bracket has no stop, placing breakeven stop")
	} else if res := l.cancel(ctx, oldID, "stop moved to breakeven"); res != broker.CancelRequested {
		log.WithFields(logrus.Fields{
			"order_id": oldID,
			"result":   res.String(),
		}).Warn("original stop not canceled, keeping it")
		return false
	}
	delete(l.orders, oldID)

	newID, err := l.broker.PlaceStopMarketOrder(ctx, broker.StopMarketOrderRequest{
		Instrument: instrument,
		Quantity:   -sign * br.Quantity,
		StopPrice:  newStop,
		Tag:        RoleStopLossAdjusted.String(),
	})
	if err != nil {
		log.WithError(err).Error("place breakeven stop, restoring original stop")
		l.restoreStop(ctx, br)
		return false
	}

	br.StopLossOrderID = newID
	br.StopLossPrice = newStop
	br.Adjusted = true
	l.track(newID, instrument, RoleStopLossAdjusted, br.Quantity)

	log.WithFields(logrus.Fields{
		"offset": breakevenOffset,
		"stop":   newStop,
	}).Info("stop adjusted to breakeven")
	return true
}

func (l *Ledger) restoreStop(ctx context.Context, br *BracketExit) {
	id, err := l.broker.PlaceStopMarketOrder(ctx, broker.StopMarketOrderRequest{
		Instrument: br.Instrument,
		Quantity:   -br.Direction.Sign() * br.Quantity,
		StopPrice:  br.StopLossPrice,
		Tag:        RoleStopLoss.String(),
	})
	if err != nil {
		ledgerLog.WithField("instrument", br.Instrument).WithError(err).Error("position has no stop")
		br.StopLossOrderID = ""
		return
	}
	br.StopLossOrderID = id
	l.track(id, br.Instrument, RoleStopLoss, br.Quantity)
}

// CancelEntryPair cancels a staged pair that never triggered. It reports
// whether a pair existed.
func (l *Ledger) CancelEntryPair(ctx context.Context, instrument string) bool {
	oco, ok := l.entries[instrument]
	if !ok {
		return false
	}
	for _, id := range []string{oco.LongOrderID, oco.ShortOrderID} {
		delete(l.orders, id)
		l.cancel(ctx, id, "entry pair withdrawn")
	}
	delete(l.entries, instrument)
	ledgerLog.WithField("instrument", instrument).Info("entry pair canceled")
	return true
}

// PurgeInstrument cancels and forgets every order tracked for instrument.
// Used on reconciliation halts and time-stop liquidation.
func (l *Ledger) PurgeInstrument(ctx context.Context, instrument string) {
	l.CancelEntryPair(ctx, instrument)

	if br, ok := l.brackets[instrument]; ok {
		for _, id := range []string{br.TakeProfitOrderID, br.StopLossOrderID} {
			delete(l.orders, id)
			l.cancel(ctx, id, "instrument purged")
		}
		delete(l.brackets, instrument)
	}

	for id, rec := range l.orders {
		if rec.Instrument == instrument {
			delete(l.orders, id)
			l.cancel(ctx, id, "instrument purged")
		}
	}
	ledgerLog.WithField("instrument", instrument).Info("instrument purged")
}

// cancel is best effort. A broker error counts as terminal.
func (l *Ledger) cancel(ctx context.Context, orderID, why string) broker.CancelResult {
	if orderID == "" {
		return broker.CancelUnknown
	}
	log := ledgerLog.WithFields(logrus.Fields{"order_id": orderID, "why": why})
	res, err := l.broker.CancelOrder(ctx, orderID)
	if err != nil {
		log.WithError(err).Info("cancel failed, treating as terminal")
		l.metrics.Cancel("error")
		return broker.CancelAlreadyTerminal
	}
	l.metrics.Cancel(res.String())
	if res != broker.CancelRequested {
		log.WithField("result", res.String()).Info("cancel raced a terminal order")
	}
	return res
}

func (l *Ledger) track(orderID, instrument string, role Role, quantity float64) {
	l.orders[orderID] = OrderRecord{
		OrderID:    orderID,
		Instrument: instrument,
		Role:       role,
		Quantity:   quantity,
	}
	l.metrics.OrderPlaced(role.String())
}

func (l *Ledger) HasPendingEntry(instrument string) bool {
	_, ok := l.entries[instrument]
	return ok
}

func (l *Ledger) HasBracket(instrument string) bool {
	_, ok := l.brackets[instrument]
	return ok
}

func (l *Ledger) Entry(instrument string) (OcoEntry, bool) {
	e, ok := l.entries[instrument]
	if !ok {
		return OcoEntry{}, false
	}
	return *e, true
}

func (l *Ledger) Bracket(instrument string) (BracketExit, bool) {
	b, ok := l.brackets[instrument]
	if !ok {
		return BracketExit{}, false
	}
	return *b, true
}

func (l *Ledger) Record(orderID string) (OrderRecord, bool) {
	r, ok := l.orders[orderID]
	return r, ok
}

// Records returns the tracked orders of instrument sorted by order id.
func (l *Ledger) Records(instrument string) []OrderRecord {
	var out []OrderRecord
	for _, r := range l.orders {
		if r.Instrument == instrument {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

func (l *Ledger) Entries() []OcoEntry {
	out := make([]OcoEntry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

func (l *Ledger) Brackets() []BracketExit {
	out := make([]BracketExit, 0, len(l.brackets))
	for _, b := range l.brackets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

func (l *Ledger) OpenOrders() int { return len(l.orders) }
