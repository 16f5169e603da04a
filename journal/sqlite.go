package journal

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/breakout/market"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordTrade(t TradeRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO trades
		(trade_id, instrument, side, quantity, entry_price, exit_price, open_time, close_time, pnl, pnl_pct, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.Instrument, t.Side, t.Quantity, t.EntryPrice, t.ExitPrice,
		t.OpenTime.UTC(), t.CloseTime.UTC(), t.PnL, t.PnLPct, t.Reason,
	)
	if err != nil {
		return fmt.Errorf("record trade %s: %w", t.TradeID, err)
	}
	return nil
}

// RecordSummary replaces any earlier summary for the same date.
func (j *SQLite) RecordSummary(s DailySummary) error {
	_, err := j.db.Exec(`
		INSERT INTO daily_summaries
		(date, trades, wins, losses, pnl, exit_reasons, interventions)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			trades = excluded.trades,
			wins = excluded.wins,
			losses = excluded.losses,
			pnl = excluded.pnl,
			exit_reasons = excluded.exit_reasons,
			interventions = excluded.interventions`,
		s.Date.Format(market.DateLayout), s.Trades, s.Wins, s.Losses, s.PnL,
		encodeReasons(s.ExitReasons), encodeList(s.Interventions),
	)
	if err != nil {
		return fmt.Errorf("record summary: %w", err)
	}
	return nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
