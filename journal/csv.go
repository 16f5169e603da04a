package journal

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/breakout/market"
)

var (
	tradeHeader   = []string{"trade_id", "instrument", "side", "quantity", "entry_price", "exit_price", "open_time", "close_time", "pnl", "pnl_pct", "reason"}
	summaryHeader = []string{"date", "trades", "wins", "losses", "pnl", "exit_reasons", "interventions"}
)

// CSV appends trades and summaries to two files, writing the header only
// when a file is new.
type CSV struct {
	trades    *csv.Writer
	summaries *csv.Writer
	tf, sf    *os.File
}

func NewCSV(tradesPath, summaryPath string) (*CSV, error) {
	tf, tw, err := openAppend(tradesPath, tradeHeader)
	if err != nil {
		return nil, err
	}
	sf, sw, err := openAppend(summaryPath, summaryHeader)
	if err != nil {
		_ = tf.Close()
		return nil, err
	}
	return &CSV{trades: tw, summaries: sw, tf: tf, sf: sf}, nil
}

func openAppend(path string, header []string) (*os.File, *csv.Writer, error) {
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	st, err := fh.Stat()
	if err != nil {
		_ = fh.Close()
		return nil, nil, err
	}
	w := csv.NewWriter(fh)
	if st.Size() == 0 {
		if err := w.Write(header); err != nil {
			_ = fh.Close()
			return nil, nil, err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			_ = fh.Close()
			return nil, nil, err
		}
	}
	return fh, w, nil
}

func (j *CSV) RecordTrade(t TradeRecord) error {
	err := j.trades.Write([]string{
		t.TradeID,
		t.Instrument,
		t.Side,
		f(t.Quantity),
		f(t.EntryPrice),
		f(t.ExitPrice),
		t.OpenTime.UTC().Format(time.RFC3339),
		t.CloseTime.UTC().Format(time.RFC3339),
		f(t.PnL),
		f(t.PnLPct),
		t.Reason,
	})
	if err != nil {
		return err
	}
	j.trades.Flush()
	return j.trades.Error()
}

func (j *CSV) RecordSummary(s DailySummary) error {
	err := j.summaries.Write([]string{
		s.Date.Format(market.DateLayout),
		strconv.Itoa(s.Trades),
		strconv.Itoa(s.Wins),
		strconv.Itoa(s.Losses),
		f(s.PnL),
		encodeReasons(s.ExitReasons),
		encodeList(s.Interventions),
	})
	if err != nil {
		return err
	}
	j.summaries.Flush()
	return j.summaries.Error()
}

func (j *CSV) Close() error {
	j.trades.Flush()
	j.summaries.Flush()
	return errors.Join(j.trades.Error(), j.summaries.Error(), j.tf.Close(), j.sf.Close())
}

// ReadTradesCSV loads a trades file written by CSV.
func ReadTradesCSV(path string) ([]TradeRecord, error) {
	rows, err := readRows(path, tradeHeader)
	if err != nil {
		return nil, err
	}
	out := make([]TradeRecord, 0, len(rows))
	for i, r := range rows {
		rec := TradeRecord{
			TradeID:    r[0],
			Instrument: r[1],
			Side:       r[2],
			Reason:     r[10],
		}
		nums := []*float64{&rec.Quantity, &rec.EntryPrice, &rec.ExitPrice}
		for k, p := range nums {
			if *p, err = strconv.ParseFloat(r[3+k], 64); err != nil {
				return nil, fmt.Errorf("%s line %d: %w", path, i+2, err)
			}
		}
		if rec.OpenTime, err = time.Parse(time.RFC3339, r[6]); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+2, err)
		}
		if rec.CloseTime, err = time.Parse(time.RFC3339, r[7]); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+2, err)
		}
		if rec.PnL, err = strconv.ParseFloat(r[8], 64); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+2, err)
		}
		if rec.PnLPct, err = strconv.ParseFloat(r[9], 64); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+2, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// ReadSummariesCSV loads a summary file written by CSV.
func ReadSummariesCSV(path string) ([]DailySummary, error) {
	rows, err := readRows(path, summaryHeader)
	if err != nil {
		return nil, err
	}
	out := make([]DailySummary, 0, len(rows))
	for i, r := range rows {
		var s DailySummary
		bad := func(err error) error { return fmt.Errorf("%s line %d: %w", path, i+2, err) }
		if s.Date, err = time.Parse(market.DateLayout, r[0]); err != nil {
			return nil, bad(err)
		}
		for k, p := range []*int{&s.Trades, &s.Wins, &s.Losses} {
			if *p, err = strconv.Atoi(r[1+k]); err != nil {
				return nil, bad(err)
			}
		}
		if s.PnL, err = strconv.ParseFloat(r[4], 64); err != nil {
			return nil, bad(err)
		}
		if s.ExitReasons, err = decodeReasons(r[5]); err != nil {
			return nil, bad(err)
		}
		s.Interventions = decodeList(r[6])
		out = append(out, s)
	}
	return out, nil
}

func readRows(path string, header []string) ([][]string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	r := csv.NewReader(fh)
	r.FieldsPerRecord = len(header)
	first, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if strings.Join(first, ",") != strings.Join(header, ",") {
		return nil, fmt.Errorf("%s: unexpected header %v", path, first)
	}
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// encodeReasons renders "StopLoss=1;TakeProfit=2", sorted by reason.
func encodeReasons(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strconv.Itoa(m[k]))
	}
	return strings.Join(parts, ";")
}

func decodeReasons(s string) (map[string]int, error) {
	out := make(map[string]int)
	if s == "" {
		return out, nil
	}
	for _, part := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("exit reason %q", part)
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("exit reason %q: %w", part, err)
		}
		out[k] = n
	}
	return out, nil
}

func encodeList(xs []string) string { return strings.Join(xs, ";") }

func decodeList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ";")
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
