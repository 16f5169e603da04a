package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/breakout/config"
)

var day = time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

func sampleTrades() []TradeRecord {
	at := day.Add(15 * time.Hour)
	return []TradeRecord{
		{TradeID: "T1", Instrument: "AAPL", Side: SideLong, Quantity: 98, EntryPrice: 102, ExitPrice: 107.10, OpenTime: at, CloseTime: at, PnL: 499.8, PnLPct: 5, Reason: "TakeProfit"},
		{TradeID: "T2", Instrument: "MSFT", Side: SideShort, Quantity: 10, EntryPrice: 400, ExitPrice: 412, OpenTime: at, CloseTime: at, PnL: -120, PnLPct: -3, Reason: "StopLoss"},
		{TradeID: "T3", Instrument: "GOOGL", Side: SideLong, Quantity: 5, EntryPrice: 150, ExitPrice: 150, OpenTime: at, CloseTime: at, PnL: 0, Reason: "TimeStop"},
		{TradeID: "T4", Instrument: "AAPL", Side: SideOverride, OpenTime: at, CloseTime: at, Reason: "ManualIntervention"},
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	s := Summarize(day, sampleTrades())
	assert.Equal(t, 3, s.Trades)
	assert.Equal(t, 1, s.Wins)
	assert.Equal(t, 2, s.Losses, "break-even counts as a loss")
	assert.InDelta(t, 379.8, s.PnL, 1e-9)
	assert.Equal(t, map[string]int{"TakeProfit": 1, "StopLoss": 1, "TimeStop": 1}, s.ExitReasons)
	assert.Equal(t, []string{"AAPL"}, s.Interventions)
	assert.Equal(t, []string{"StopLoss", "TakeProfit", "TimeStop"}, s.Reasons())
	assert.InDelta(t, 1.0/3.0, s.WinRate(), 1e-9)
}

func TestSummarizeEmpty(t *testing.T) {
	t.Parallel()

	s := Summarize(day, nil)
	assert.Zero(t, s.Trades)
	assert.Zero(t, s.WinRate())
	assert.Empty(t, s.ExitReasons)
}

func TestOpen(t *testing.T) {
	t.Parallel()

	j, err := Open(config.JournalConfig{Type: "none"})
	assert.NoError(t, err)
	assert.IsType(t, &Memory{}, j)

	_, err = Open(config.JournalConfig{Type: "parquet"})
	assert.Error(t, err)
}
