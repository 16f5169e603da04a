package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/breakout/broker"
	"github.com/rustyeddy/breakout/ledger"
	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/store"
)

type purgeRecorder struct {
	purged []string
}

func (p *purgeRecorder) PurgeInstrument(_ context.Context, instrument string) {
	p.purged = append(p.purged, instrument)
}

var t0 = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

func newReconciler(kv store.Store) (*Reconciler, *purgeRecorder) {
	p := &purgeRecorder{}
	r := New([]string{"AAPL", "MSFT"}, p, kv, WithClock(func() time.Time { return t0 }))
	return r, p
}

func TestLifecycle(t *testing.T) {
	t.Parallel()

	kv := store.NewMemory()
	r, _ := newReconciler(kv)

	p, ok := r.Position("AAPL")
	require.True(t, ok)
	assert.Equal(t, Flat, p.State())

	r.MarkEntryPending("AAPL")
	p, _ = r.Position("AAPL")
	assert.Equal(t, PendingEntry, p.State())

	_, closed := r.ApplyFillOutcome("AAPL", ledger.OutcomeEntryLong, 102, 98)
	assert.False(t, closed)
	p, _ = r.Position("AAPL")
	assert.Equal(t, InPosition, p.State())
	assert.Equal(t, market.Long, p.Direction)
	assert.Equal(t, 102.0, p.EntryPrice)
	assert.Equal(t, 98.0, p.Quantity)
	assert.Zero(t, p.TradingDaysHeld)

	_, ok, _ = kv.Read(store.EntryTimeKey("AAPL"))
	assert.True(t, ok)

	r.AdvanceDay()
	r.AdvanceDay()
	p, _ = r.Position("AAPL")
	assert.Equal(t, 2, p.TradingDaysHeld)

	r.MarkCaptureAdjusted("AAPL")
	ct, closed := r.ApplyFillOutcome("AAPL", ledger.OutcomeExitTakeProfit, 107.10, -98)
	require.True(t, closed)
	assert.Equal(t, ledger.ReasonTakeProfit, ct.Reason)
	assert.InDelta(t, 499.8, ct.PnL, 1e-6)
	assert.InDelta(t, 5.0, ct.PnLPct, 1e-6)

	p, _ = r.Position("AAPL")
	assert.Equal(t, Flat, p.State())
	assert.False(t, p.CaptureAdjusted)
	assert.True(t, r.TradedToday("AAPL"))

	_, ok, _ = kv.Read(store.EntryTimeKey("AAPL"))
	assert.False(t, ok)

	r.ResetTradedToday()
	assert.False(t, r.TradedToday("AAPL"))
}

func TestShortExitPnL(t *testing.T) {
	t.Parallel()

	r, _ := newReconciler(nil)
	r.ApplyFillOutcome("MSFT", ledger.OutcomeEntryShort, 98, -102)
	ct, ok := r.ApplyFillOutcome("MSFT", ledger.OutcomeExitStopLoss, 100.94, 102)
	require.True(t, ok)
	assert.Equal(t, market.Short, ct.Direction)
	assert.InDelta(t, -299.88, ct.PnL, 1e-6)
	assert.InDelta(t, -3.0, ct.PnLPct, 1e-6)
}

func TestRejectsOutOfOrderFills(t *testing.T) {
	t.Parallel()

	r, _ := newReconciler(nil)

	_, ok := r.ApplyFillOutcome("AAPL", ledger.OutcomeExitStopLoss, 99, 10)
	assert.False(t, ok)

	r.ApplyFillOutcome("AAPL", ledger.OutcomeEntryLong, 100, 10)
	r.ApplyFillOutcome("AAPL", ledger.OutcomeEntryShort, 90, -10)
	p, _ := r.Position("AAPL")
	assert.Equal(t, market.Long, p.Direction)
	assert.Equal(t, 100.0, p.EntryPrice)

	_, ok = r.ApplyFillOutcome("UNKNOWN", ledger.OutcomeEntryLong, 1, 1)
	assert.False(t, ok)
}

func TestSyncOnStartup(t *testing.T) {
	t.Parallel()

	stored := time.Date(2024, 2, 28, 15, 0, 0, 0, time.UTC)
	kv := store.NewMemory()
	require.NoError(t, kv.Save(store.EntryTimeKey("AAPL"), stored.Format(time.RFC3339)))

	r, _ := newReconciler(kv)
	r.SyncOnStartup("AAPL", broker.Position{Instrument: "AAPL", Invested: true, Quantity: 40, AveragePrice: 180.5})
	r.SyncOnStartup("MSFT", broker.Position{Instrument: "MSFT", Invested: true, Quantity: -7, AveragePrice: 400})

	p, _ := r.Position("AAPL")
	assert.True(t, p.HasPosition)
	assert.Equal(t, market.Long, p.Direction)
	assert.Equal(t, 40.0, p.Quantity)
	assert.Equal(t, stored, p.EntryTime)
	assert.True(t, p.EntryTimeRecovered, "adopted entry times are recovered even when stored")
	assert.Zero(t, p.TradingDaysHeld)

	p, _ = r.Position("MSFT")
	assert.Equal(t, market.Short, p.Direction)
	assert.Equal(t, 7.0, p.Quantity)
	assert.Equal(t, t0, p.EntryTime)
	assert.True(t, p.EntryTimeRecovered)

	open, pending := r.OpenCount()
	assert.Equal(t, 2, open)
	assert.Zero(t, pending)
}

func TestDivergenceHalts(t *testing.T) {
	t.Parallel()

	kv := store.NewMemory()
	r, purger := newReconciler(kv)
	ctx := context.Background()

	assert.True(t, r.CheckDivergence(ctx, "AAPL", broker.Position{}))

	// believed flat, broker holds 50 shares
	assert.False(t, r.CheckDivergence(ctx, "AAPL", broker.Position{Invested: true, Quantity: 50, AveragePrice: 101}))
	assert.True(t, r.IsHalted("AAPL"))
	assert.Equal(t, []string{"AAPL"}, purger.purged)
	assert.Equal(t, []string{"AAPL"}, r.Halted())

	p, _ := r.Position("AAPL")
	assert.True(t, p.HasPosition)
	assert.Equal(t, 50.0, p.Quantity)

	_, ok, _ := kv.Read(store.HaltKey("AAPL"))
	assert.True(t, ok)

	// stays halted even when the broker now agrees
	assert.False(t, r.CheckDivergence(ctx, "AAPL", broker.Position{Invested: true, Quantity: 50}))

	// halted instruments neither age nor take fills
	r.AdvanceDay()
	p, _ = r.Position("AAPL")
	assert.Zero(t, p.TradingDaysHeld)
	_, closed := r.ApplyFillOutcome("AAPL", ledger.OutcomeExitStopLoss, 99, -50)
	assert.False(t, closed)

	cleared, err := r.ClearHalt("AAPL")
	require.NoError(t, err)
	assert.True(t, cleared)
	assert.False(t, r.IsHalted("AAPL"))
	_, ok, _ = kv.Read(store.HaltKey("AAPL"))
	assert.False(t, ok)

	cleared, err = r.ClearHalt("AAPL")
	require.NoError(t, err)
	assert.False(t, cleared)
}

func TestDivergenceBelievedLong(t *testing.T) {
	t.Parallel()

	r, _ := newReconciler(nil)
	r.ApplyFillOutcome("MSFT", ledger.OutcomeEntryLong, 50, 10)

	assert.False(t, r.CheckDivergence(context.Background(), "MSFT", broker.Position{}))
	p, _ := r.Position("MSFT")
	assert.Equal(t, Flat, p.State())
}

func TestLoadHalts(t *testing.T) {
	t.Parallel()

	kv := store.NewMemory()
	require.NoError(t, kv.Save(store.HaltKey("MSFT"), t0.Format(time.RFC3339)))
	require.NoError(t, kv.Save(store.HaltKey("TSLA"), t0.Format(time.RFC3339)))

	r, _ := newReconciler(kv)
	require.NoError(t, r.LoadHalts())
	assert.Equal(t, []string{"MSFT"}, r.Halted())

	bare, _ := newReconciler(nil)
	require.NoError(t, bare.LoadHalts())
	assert.Empty(t, bare.Halted())
}

func TestLiquidated(t *testing.T) {
	t.Parallel()

	r, _ := newReconciler(nil)
	_, ok := r.Liquidated("AAPL", 100, ledger.ReasonTimeStop)
	assert.False(t, ok)

	r.ApplyFillOutcome("AAPL", ledger.OutcomeEntryLong, 100, 10)
	ct, ok := r.Liquidated("AAPL", 101, ledger.ReasonTimeStop)
	require.True(t, ok)
	assert.Equal(t, ledger.ReasonTimeStop, ct.Reason)
	assert.InDelta(t, 10.0, ct.PnL, 1e-9)
	assert.True(t, r.TradedToday("AAPL"))
}
