// Package journal records closed trades and end-of-day summaries.
package journal

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Trade sides. Override rows mark a manual intervention the bot did not
// make; their prices are zero and they never count toward PnL.
const (
	SideLong     = "LONG"
	SideShort    = "SHORT"
	SideOverride = "OVERRIDE"
)

type TradeRecord struct {
	TradeID    string
	Instrument string
	Side       string
	Quantity   float64
	EntryPrice float64
	ExitPrice  float64
	OpenTime   time.Time
	CloseTime  time.Time
	PnL        float64
	PnLPct     float64
	Reason     string
}

func (t TradeRecord) IsIntervention() bool { return t.Side == SideOverride }

// DailySummary aggregates one trading day. Wins are trades with positive
// PnL; everything else is a loss.
type DailySummary struct {
	Date          time.Time
	Trades        int
	Wins          int
	Losses        int
	PnL           float64
	ExitReasons   map[string]int
	Interventions []string
}

// WinRate is wins over trades, zero on a day without trades.
func (s DailySummary) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades)
}

// Reasons returns the exit reasons in name order.
func (s DailySummary) Reasons() []string {
	out := make([]string, 0, len(s.ExitReasons))
	for r := range s.ExitReasons {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Summarize folds a day's trade records into a summary.
func Summarize(date time.Time, trades []TradeRecord) DailySummary {
	s := DailySummary{
		Date:        date,
		ExitReasons: make(map[string]int),
	}
	total := decimal.Zero
	for _, t := range trades {
		if t.IsIntervention() {
			s.Interventions = append(s.Interventions, t.Instrument)
			continue
		}
		s.Trades++
		if t.PnL > 0 {
			s.Wins++
		} else {
			s.Losses++
		}
		total = total.Add(decimal.NewFromFloat(t.PnL))
		s.ExitReasons[t.Reason]++
	}
	s.PnL = total.Round(2).InexactFloat64()
	return s
}

type Journal interface {
	RecordTrade(TradeRecord) error
	RecordSummary(DailySummary) error
	Close() error
}

// Memory keeps everything in process. Used when journaling is disabled and
// in tests.
type Memory struct {
	Trades    []TradeRecord
	Summaries []DailySummary
}

func (m *Memory) RecordTrade(t TradeRecord) error {
	m.Trades = append(m.Trades, t)
	return nil
}

func (m *Memory) RecordSummary(s DailySummary) error {
	m.Summaries = append(m.Summaries, s)
	return nil
}

func (m *Memory) Close() error { return nil }
