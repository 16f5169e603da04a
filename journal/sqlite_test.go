package journal

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	j, err := NewSQLite(path)
	require.NoError(t, err)
	return j, path
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('trades','daily_summaries')`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())

	assert.True(t, found["trades"])
	assert.True(t, found["daily_summaries"])
}

func TestSQLiteGetTrade(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	want := sampleTrades()[0]
	require.NoError(t, j.RecordTrade(want))

	got, err := j.GetTrade("T1")
	require.NoError(t, err)
	assert.Equal(t, want.Instrument, got.Instrument)
	assert.Equal(t, want.Side, got.Side)
	assert.InDelta(t, want.Quantity, got.Quantity, 1e-9)
	assert.InDelta(t, want.EntryPrice, got.EntryPrice, 1e-9)
	assert.InDelta(t, want.ExitPrice, got.ExitPrice, 1e-9)
	assert.InDelta(t, want.PnL, got.PnL, 1e-9)
	assert.InDelta(t, want.PnLPct, got.PnLPct, 1e-9)
	assert.True(t, got.OpenTime.Equal(want.OpenTime))
	assert.True(t, got.CloseTime.Equal(want.CloseTime))
	assert.Equal(t, want.Reason, got.Reason)

	_, err = j.GetTrade("nope")
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.Error(t, j.RecordTrade(want), "duplicate trade id")
}

func TestSQLiteListTradesOn(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	for _, tr := range sampleTrades() {
		require.NoError(t, j.RecordTrade(tr))
	}
	next := sampleTrades()[0]
	next.TradeID = "T5"
	next.CloseTime = day.AddDate(0, 0, 1).Add(15 * time.Hour)
	require.NoError(t, j.RecordTrade(next))

	got, err := j.ListTradesOn(day)
	require.NoError(t, err)
	assert.Len(t, got, 4)

	got, err = j.ListTradesOn(day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "T5", got[0].TradeID)

	got, err = j.ListTradesClosedBetween(day.AddDate(0, 0, -7), day)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteSummaries(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	s := Summarize(day, sampleTrades())
	require.NoError(t, j.RecordSummary(s))

	// same day again replaces
	s.Trades = 4
	require.NoError(t, j.RecordSummary(s))
	require.NoError(t, j.RecordSummary(Summarize(day.AddDate(0, 0, 1), nil)))

	got, err := j.GetSummary(day)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Trades)
	assert.Equal(t, s.ExitReasons, got.ExitReasons)
	assert.Equal(t, []string{"AAPL"}, got.Interventions)
	assert.InDelta(t, s.PnL, got.PnL, 1e-9)

	all, err := j.ListSummaries()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[1].Date.Equal(day.AddDate(0, 0, 1)))
	assert.Empty(t, all[1].ExitReasons)
	assert.Nil(t, all[1].Interventions)

	_, err = j.GetSummary(day.AddDate(0, 0, 9))
	assert.True(t, errors.Is(err, ErrNotFound))
}
