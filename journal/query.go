package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/breakout/market"
)

var ErrNotFound = errors.New("not found")

const tradeColumns = `trade_id, instrument, side, quantity, entry_price, exit_price, open_time, close_time, pnl, pnl_pct, reason`

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(s scanner) (TradeRecord, error) {
	var rec TradeRecord
	err := s.Scan(
		&rec.TradeID,
		&rec.Instrument,
		&rec.Side,
		&rec.Quantity,
		&rec.EntryPrice,
		&rec.ExitPrice,
		&rec.OpenTime,
		&rec.CloseTime,
		&rec.PnL,
		&rec.PnLPct,
		&rec.Reason,
	)
	return rec, err
}

// GetTrade returns a single trade record by ID.
func (j *SQLite) GetTrade(tradeID string) (TradeRecord, error) {
	row := j.db.QueryRow(`SELECT `+tradeColumns+` FROM trades WHERE trade_id = ?`, tradeID)
	rec, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TradeRecord{}, fmt.Errorf("trade %q: %w", tradeID, ErrNotFound)
		}
		return TradeRecord{}, err
	}
	return rec, nil
}

// ListTradesClosedBetween returns trades whose close_time is within [start, end).
func (j *SQLite) ListTradesClosedBetween(start, end time.Time) ([]TradeRecord, error) {
	rows, err := j.db.Query(`
		SELECT `+tradeColumns+`
		FROM trades
		WHERE close_time >= ? AND close_time < ?
		ORDER BY close_time ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListTradesOn returns the trades closed on the calendar day of day (UTC).
func (j *SQLite) ListTradesOn(day time.Time) ([]TradeRecord, error) {
	start := market.DateOf(day)
	return j.ListTradesClosedBetween(start, start.AddDate(0, 0, 1))
}

// GetSummary returns the stored summary for day.
func (j *SQLite) GetSummary(day time.Time) (DailySummary, error) {
	row := j.db.QueryRow(`
		SELECT date, trades, wins, losses, pnl, exit_reasons, interventions
		FROM daily_summaries WHERE date = ?`, day.Format(market.DateLayout))
	s, err := scanSummary(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DailySummary{}, fmt.Errorf("summary %s: %w", day.Format(market.DateLayout), ErrNotFound)
		}
		return DailySummary{}, err
	}
	return s, nil
}

// ListSummaries returns stored summaries ordered by date.
func (j *SQLite) ListSummaries() ([]DailySummary, error) {
	rows, err := j.db.Query(`
		SELECT date, trades, wins, losses, pnl, exit_reasons, interventions
		FROM daily_summaries ORDER BY date ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailySummary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSummary(s scanner) (DailySummary, error) {
	var (
		out           DailySummary
		date          string
		reasons       string
		interventions string
	)
	if err := s.Scan(&date, &out.Trades, &out.Wins, &out.Losses, &out.PnL, &reasons, &interventions); err != nil {
		return DailySummary{}, err
	}
	d, err := time.Parse(market.DateLayout, date)
	if err != nil {
		return DailySummary{}, fmt.Errorf("summary date %q: %w", date, err)
	}
	out.Date = d
	if out.ExitReasons, err = decodeReasons(reasons); err != nil {
		return DailySummary{}, err
	}
	out.Interventions = decodeList(interventions)
	return out, nil
}
