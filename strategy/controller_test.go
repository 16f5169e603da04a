package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/breakout/broker"
	"github.com/rustyeddy/breakout/journal"
	"github.com/rustyeddy/breakout/ledger"
	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/reconcile"
	"github.com/rustyeddy/breakout/signal"
	"github.com/rustyeddy/breakout/sim"
	"github.com/rustyeddy/breakout/store"
)

var day1 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func dayN(n int) time.Time { return day1.AddDate(0, 0, n-1) }

// queue buffers broker events the way the engine inbox does, so the
// controller never sees an event while it is still handling another.
type queue struct {
	events []broker.OrderEvent
}

func (q *queue) OnOrderEvent(ev broker.OrderEvent) { q.events = append(q.events, ev) }

type harness struct {
	t    *testing.T
	ctx  context.Context
	sim  *sim.Engine
	q    *queue
	ctrl *Controller
	mem  *journal.Memory
	kv   *store.Memory
}

func defaultParams() Params {
	return Params{
		TimeStopDays:    4,
		PositionSize:    10000,
		CapturePointPct: 0.04,
		BreakevenOffset: 0.01,
		TakeProfitPct:   0.05,
		StopLossPct:     0.03,
	}
}

func newHarness(t *testing.T, p Params, kv *store.Memory) *harness {
	t.Helper()
	if kv == nil {
		kv = store.NewMemory()
	}
	h := &harness{
		t:   t,
		ctx: context.Background(),
		sim: sim.NewEngine(),
		q:   &queue{},
		mem: &journal.Memory{},
		kv:  kv,
	}
	h.sim.SetOrderEventListener(h.q)
	h.ctrl = New([]string{"AAPL"}, h.sim,
		signal.NewGenerator(0.02, 0.02, p.TakeProfitPct, p.StopLossPct),
		journal.NewLogger(h.mem), p, WithStore(kv))
	return h
}

func (h *harness) drain() {
	for len(h.q.events) > 0 {
		ev := h.q.events[0]
		h.q.events = h.q.events[1:]
		h.ctrl.OnOrderEvent(h.ctx, ev)
	}
	require.NoError(h.t, h.ctrl.CheckInvariants())
}

func (h *harness) price(p float64, at time.Time) {
	require.NoError(h.t, h.sim.UpdatePrice(market.Tick{Instrument: "AAPL", Price: p, Time: at}))
	h.drain()
	h.ctrl.OnTick(h.ctx, map[string]float64{"AAPL": p})
	h.drain()
}

func (h *harness) open(day time.Time, p float64) {
	require.NoError(h.t, h.sim.UpdatePrice(market.Tick{Instrument: "AAPL", Price: p, Time: day.Add(14*time.Hour + 30*time.Minute)}))
	h.drain()
	h.ctrl.OnDayStart(h.ctx, day, map[string]float64{"AAPL": p})
	h.drain()
}

func (h *harness) close(day time.Time) journal.DailySummary {
	s := h.ctrl.OnEndOfDay(h.ctx, day)
	h.drain()
	return s
}

func (h *harness) position() reconcile.BotPosition {
	p, ok := h.ctrl.Reconciler().Position("AAPL")
	require.True(h.t, ok)
	return p
}

func (h *harness) stopOrders() []sim.Order {
	var out []sim.Order
	for _, o := range h.sim.Orders("AAPL") {
		if o.Kind == "stop_market" {
			out = append(out, o)
		}
	}
	return out
}

func TestLongBreakoutToTakeProfit(t *testing.T) {
	h := newHarness(t, defaultParams(), nil)

	h.open(day1, 100)
	e, ok := h.ctrl.Ledger().Entry("AAPL")
	require.True(t, ok)
	assert.Equal(t, 102.0, e.LongStop)
	assert.Equal(t, 98.0, e.ShortStop)
	assert.Equal(t, reconcile.PendingEntry, h.position().State())

	h.price(103, day1.Add(15*time.Hour))
	p := h.position()
	assert.Equal(t, reconcile.InPosition, p.State())
	assert.Equal(t, 102.0, p.EntryPrice)
	assert.Equal(t, 98.0, p.Quantity)

	br, ok := h.ctrl.Ledger().Bracket("AAPL")
	require.True(t, ok)
	assert.Equal(t, 107.10, br.TakeProfitPrice)
	assert.Equal(t, 98.94, br.StopLossPrice)
	assert.Len(t, h.sim.Orders("AAPL"), 2, "short entry canceled, bracket working")

	// capture point 102*1.04 = 106.08
	h.price(106.5, day1.Add(16*time.Hour))
	br, _ = h.ctrl.Ledger().Bracket("AAPL")
	assert.True(t, br.Adjusted)
	assert.Equal(t, 103.02, br.StopLossPrice)
	stops := h.stopOrders()
	require.Len(t, stops, 1)
	assert.Equal(t, 103.02, stops[0].StopPrice)

	h.price(106.8, day1.Add(17*time.Hour))
	assert.Len(t, h.stopOrders(), 1)
	assert.Equal(t, stops[0].ID, h.stopOrders()[0].ID)

	h.price(108, day1.Add(18*time.Hour))
	assert.Equal(t, reconcile.Flat, h.position().State())
	assert.True(t, h.ctrl.Reconciler().TradedToday("AAPL"))
	assert.Empty(t, h.sim.Orders("AAPL"))

	require.Len(t, h.mem.Trades, 1)
	tr := h.mem.Trades[0]
	assert.Equal(t, journal.SideLong, tr.Side)
	assert.Equal(t, ledger.ReasonTakeProfit, tr.Reason)
	assert.InDelta(t, 499.8, tr.PnL, 1e-6)
	assert.InDelta(t, 5.0, tr.PnLPct, 1e-6)

	s := h.close(day1)
	assert.Equal(t, 1, s.Trades)
	assert.Equal(t, 1, s.Wins)
	assert.InDelta(t, 499.8, s.PnL, 1e-6)
	assert.Equal(t, 1, s.ExitReasons[ledger.ReasonTakeProfit])
	require.Len(t, h.mem.Summaries, 1)
	assert.False(t, h.ctrl.Reconciler().TradedToday("AAPL"))
}

func TestShortBreakoutCancelsLongAndStops(t *testing.T) {
	h := newHarness(t, defaultParams(), nil)

	h.open(day1, 100)
	e, _ := h.ctrl.Ledger().Entry("AAPL")

	h.price(97.95, day1.Add(15*time.Hour))
	p := h.position()
	assert.Equal(t, market.Short, p.Direction)
	assert.Equal(t, 98.0, p.EntryPrice)
	assert.Equal(t, 102.0, p.Quantity)
	for _, o := range h.sim.Orders("AAPL") {
		assert.NotEqual(t, e.LongOrderID, o.ID)
	}

	// stop 98*1.03 = 100.94
	h.price(101, day1.Add(16*time.Hour))
	assert.Equal(t, reconcile.Flat, h.position().State())
	require.Len(t, h.mem.Trades, 1)
	assert.Equal(t, ledger.ReasonStopLoss, h.mem.Trades[0].Reason)
	assert.InDelta(t, -299.88, h.mem.Trades[0].PnL, 1e-6)

	s := h.close(day1)
	assert.Equal(t, 1, s.Losses)
}

func TestEndOfDayWithdrawsEntries(t *testing.T) {
	h := newHarness(t, defaultParams(), nil)

	h.open(day1, 100)
	h.price(101, day1.Add(15*time.Hour))
	h.close(day1)

	assert.False(t, h.ctrl.Ledger().HasPendingEntry("AAPL"))
	assert.Equal(t, reconcile.Flat, h.position().State())
	assert.Empty(t, h.sim.Orders("AAPL"))

	// next day stages again
	h.open(dayN(2), 101)
	assert.True(t, h.ctrl.Ledger().HasPendingEntry("AAPL"))
}

func TestCaptureAdjustsOnceForAdoptedPosition(t *testing.T) {
	h := newHarness(t, defaultParams(), nil)
	require.NoError(t, h.sim.UpdatePrice(market.Tick{Instrument: "AAPL", Price: 100, Time: day1}))
	h.sim.ForcePosition("AAPL", 100, 100)

	require.NoError(t, h.ctrl.Start(h.ctx))
	h.drain()

	p := h.position()
	assert.True(t, p.HasPosition)
	assert.True(t, p.EntryTimeRecovered)
	br, ok := h.ctrl.Ledger().Bracket("AAPL")
	require.True(t, ok)
	assert.Equal(t, 105.0, br.TakeProfitPrice)
	assert.Equal(t, 97.0, br.StopLossPrice)

	h.price(103.9, day1.Add(time.Hour))
	br, _ = h.ctrl.Ledger().Bracket("AAPL")
	assert.False(t, br.Adjusted)

	h.price(104.5, day1.Add(2*time.Hour))
	br, _ = h.ctrl.Ledger().Bracket("AAPL")
	assert.True(t, br.Adjusted)
	assert.Equal(t, 101.0, br.StopLossPrice)
	assert.True(t, h.position().CaptureAdjusted)

	h.price(104.8, day1.Add(3*time.Hour))
	stops := h.stopOrders()
	require.Len(t, stops, 1)
	assert.Equal(t, 101.0, stops[0].StopPrice)
}

func TestTimeStop(t *testing.T) {
	h := newHarness(t, defaultParams(), nil)
	require.NoError(t, h.sim.UpdatePrice(market.Tick{Instrument: "AAPL", Price: 100, Time: day1}))
	h.sim.ForcePosition("AAPL", 100, 100)
	require.NoError(t, h.ctrl.Start(h.ctx))
	h.drain()

	for d := 1; d <= 3; d++ {
		h.open(dayN(d), 100.5)
		assert.Equal(t, d, h.position().TradingDaysHeld)
		assert.True(t, h.position().HasPosition)
		h.close(dayN(d))
	}

	h.open(dayN(4), 101)
	assert.Equal(t, reconcile.Flat, h.position().State())
	assert.False(t, h.ctrl.Ledger().HasPendingEntry("AAPL"), "no re-entry in the cycle that time-stopped")
	assert.False(t, h.ctrl.Ledger().HasBracket("AAPL"))
	assert.Empty(t, h.sim.Orders("AAPL"))

	truth, err := h.sim.GetPosition(h.ctx, "AAPL")
	require.NoError(t, err)
	assert.False(t, truth.Invested)

	require.Len(t, h.mem.Trades, 1)
	assert.Equal(t, ledger.ReasonTimeStop, h.mem.Trades[0].Reason)
	assert.Equal(t, 101.0, h.mem.Trades[0].ExitPrice)
	assert.InDelta(t, 100.0, h.mem.Trades[0].PnL, 1e-9)

	s := h.close(dayN(4))
	assert.Equal(t, 1, s.ExitReasons[ledger.ReasonTimeStop])

	h.open(dayN(5), 101)
	assert.True(t, h.ctrl.Ledger().HasPendingEntry("AAPL"))
}

func TestBlackoutDefersTimeStopAndBlocksEntries(t *testing.T) {
	p := defaultParams()
	p.Earnings = market.EarningsCalendar{"AAPL": dayN(4)}
	h := newHarness(t, p, nil)
	require.NoError(t, h.sim.UpdatePrice(market.Tick{Instrument: "AAPL", Price: 100, Time: day1}))
	h.sim.ForcePosition("AAPL", 100, 100)
	require.NoError(t, h.ctrl.Start(h.ctx))
	h.drain()

	// blackout covers days 2..5
	for d := 1; d <= 5; d++ {
		h.open(dayN(d), 100.5)
		assert.True(t, h.position().HasPosition, "day %d", d)
		h.close(dayN(d))
	}
	assert.Equal(t, 5, h.position().TradingDaysHeld)

	h.open(dayN(6), 100.5)
	assert.Equal(t, reconcile.Flat, h.position().State())
	assert.Equal(t, ledger.ReasonTimeStop, h.mem.Trades[0].Reason)
	h.close(dayN(6))

	// no entries inside the window either
	h2 := newHarness(t, p, nil)
	h2.open(dayN(3), 100)
	assert.False(t, h2.ctrl.Ledger().HasPendingEntry("AAPL"))
	h2.close(dayN(3))
	h2.open(dayN(6), 100)
	assert.True(t, h2.ctrl.Ledger().HasPendingEntry("AAPL"))
}

func TestDivergenceHaltsUntilCleared(t *testing.T) {
	kv := store.NewMemory()
	h := newHarness(t, defaultParams(), kv)

	h.open(day1, 100)
	require.True(t, h.ctrl.Ledger().HasPendingEntry("AAPL"))

	// someone buys 50 shares in the account by hand
	h.sim.ForcePosition("AAPL", 50, 100.2)
	h.open(dayN(2), 100.2)

	assert.True(t, h.ctrl.Reconciler().IsHalted("AAPL"))
	assert.Empty(t, h.sim.Orders("AAPL"), "stray entry orders canceled")
	assert.Zero(t, h.ctrl.Ledger().OpenOrders())
	p := h.position()
	assert.True(t, p.HasPosition)
	assert.Equal(t, 50.0, p.Quantity)

	require.Len(t, h.mem.Trades, 1)
	assert.Equal(t, journal.SideOverride, h.mem.Trades[0].Side)
	assert.Equal(t, ledger.ReasonManualIntervention, h.mem.Trades[0].Reason)

	s := h.close(dayN(2))
	assert.Zero(t, s.Trades)
	assert.Equal(t, []string{"AAPL"}, s.Interventions)

	// still halted the next day even though nothing changed
	h.open(dayN(3), 100.2)
	assert.True(t, h.ctrl.Reconciler().IsHalted("AAPL"))
	assert.False(t, h.ctrl.Ledger().HasPendingEntry("AAPL"))
	assert.Zero(t, h.position().TradingDaysHeld)
	h.close(dayN(3))

	// a restart keeps the halt
	again := New([]string{"AAPL"}, h.sim, signal.NewGenerator(0.02, 0.02, 0.05, 0.03), nil, defaultParams(), WithStore(kv))
	require.NoError(t, again.Start(h.ctx))
	assert.Equal(t, []string{"AAPL"}, again.Reconciler().Halted())

	cleared, err := h.ctrl.ClearHalt(h.ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, cleared)
	h.drain()
	br, ok := h.ctrl.Ledger().Bracket("AAPL")
	require.True(t, ok)
	assert.Equal(t, 50.0, br.Quantity)

	_, ok, _ = kv.Read(store.HaltKey("AAPL"))
	assert.False(t, ok)
}

func TestClearHaltReadsBrokerPosition(t *testing.T) {
	tests := []struct {
		name     string
		quantity float64
		price    float64
		orders   int
		state    reconcile.State
	}{
		{name: "operator flattened", quantity: 0, orders: 0, state: reconcile.Flat},
		{name: "operator resized", quantity: 30, price: 101, orders: 2, state: reconcile.InPosition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, defaultParams(), nil)
			h.open(day1, 100)
			h.sim.ForcePosition("AAPL", 50, 100.2)
			h.open(dayN(2), 100.2)
			require.True(t, h.ctrl.Reconciler().IsHalted("AAPL"))
			require.True(t, h.position().HasPosition)

			h.sim.ForcePosition("AAPL", tt.quantity, tt.price)
			cleared, err := h.ctrl.ClearHalt(h.ctx, "AAPL")
			require.NoError(t, err)
			assert.True(t, cleared)
			h.drain()

			assert.False(t, h.ctrl.Reconciler().IsHalted("AAPL"))
			assert.Len(t, h.sim.Orders("AAPL"), tt.orders)
			assert.Equal(t, tt.state, h.position().State())
			if tt.quantity == 0 {
				assert.False(t, h.ctrl.Ledger().HasBracket("AAPL"))
				assert.Zero(t, h.ctrl.Ledger().OpenOrders())
				return
			}
			br, ok := h.ctrl.Ledger().Bracket("AAPL")
			require.True(t, ok)
			assert.Equal(t, tt.quantity, br.Quantity)
			assert.Equal(t, tt.price, br.EntryPrice)
		})
	}
}

func TestRejectedEntryLegWithdrawsPair(t *testing.T) {
	h := newHarness(t, defaultParams(), nil)
	h.open(day1, 100)
	e, _ := h.ctrl.Ledger().Entry("AAPL")

	h.ctrl.OnOrderEvent(h.ctx, broker.OrderEvent{OrderID: e.LongOrderID, Instrument: "AAPL", Status: broker.StatusInvalid})
	h.drain()

	assert.False(t, h.ctrl.Ledger().HasPendingEntry("AAPL"))
	assert.Equal(t, reconcile.Flat, h.position().State())
	assert.Zero(t, h.ctrl.Ledger().OpenOrders())
}

func TestSnapshot(t *testing.T) {
	h := newHarness(t, defaultParams(), nil)
	h.open(day1, 100)

	s := h.ctrl.Snapshot()
	require.Len(t, s.Positions, 1)
	assert.True(t, s.Positions[0].IsEntryPending)
	require.Len(t, s.Entries, 1)
	assert.Empty(t, s.Brackets)
	assert.Empty(t, s.Halted)
	assert.Equal(t, 2, s.OpenOrders)
}

func TestDegenerateOpenSkipped(t *testing.T) {
	h := newHarness(t, defaultParams(), nil)
	h.ctrl.OnDayStart(h.ctx, day1, map[string]float64{"AAPL": 0})
	h.drain()
	assert.False(t, h.ctrl.Ledger().HasPendingEntry("AAPL"))

	h.ctrl.OnDayStart(h.ctx, dayN(2), map[string]float64{})
	h.drain()
	assert.False(t, h.ctrl.Ledger().HasPendingEntry("AAPL"))
}
