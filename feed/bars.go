// Package feed reads daily OHLC bars and replays them as a trading session.
package feed

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

// ErrBadBar is wrapped by every row rejected while reading bars.
var ErrBadBar = errors.New("bad bar")

// Bar is one instrument's daily OHLC.
type Bar struct {
	Date       time.Time
	Instrument string
	Open       float64
	High       float64
	Low        float64
	Close      float64
}

// Bullish reports whether the bar closed at or above its open.
func (b Bar) Bullish() bool { return b.Close >= b.Open }

func (b Bar) validate() error {
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return fmt.Errorf("%w: non-positive price", ErrBadBar)
	}
	if b.High < b.Low || b.High < b.Open || b.High < b.Close || b.Low > b.Open || b.Low > b.Close {
		return fmt.Errorf("%w: high/low do not bound open and close", ErrBadBar)
	}
	return nil
}

// Day is every bar sharing one date, sorted by instrument.
type Day struct {
	Date time.Time
	Bars []Bar
}

// Opens maps instrument to opening price.
func (d Day) Opens() map[string]float64 {
	out := make(map[string]float64, len(d.Bars))
	for _, b := range d.Bars {
		out[b.Instrument] = b.Open
	}
	return out
}

// LoadBars reads a bar CSV from path.
func LoadBars(path string) ([]Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadBars(f)
}

// ReadBars parses rows of
//
//	date,instrument,open,high,low,close
//
// with date as YYYY-MM-DD. A leading header row is skipped and blank rows
// are ignored.
func ReadBars(r io.Reader) ([]Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var (
		bars []Bar
		line int
	)
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return bars, nil
		}
		if err != nil {
			return nil, err
		}
		line++

		if line == 1 && len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "date") {
			continue
		}
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}

		b, err := parseBarRow(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, b)
	}
}

func parseBarRow(row []string) (Bar, error) {
	if len(row) < 6 {
		return Bar{}, fmt.Errorf("%w: want 6 columns, got %d", ErrBadBar, len(row))
	}

	ds := strings.TrimSpace(row[0])
	d, err := time.Parse(market.DateLayout, ds)
	if err != nil {
		return Bar{}, fmt.Errorf("%w: date %q: %v", ErrBadBar, ds, err)
	}

	inst := strings.TrimSpace(row[1])
	if inst == "" {
		return Bar{}, fmt.Errorf("%w: empty instrument", ErrBadBar)
	}

	var px [4]float64
	for i := range px {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[2+i]), 64)
		if err != nil {
			return Bar{}, fmt.Errorf("%w: price %q: %v", ErrBadBar, row[2+i], err)
		}
		px[i] = v
	}

	b := Bar{Date: d, Instrument: inst, Open: px[0], High: px[1], Low: px[2], Close: px[3]}
	if err := b.validate(); err != nil {
		return Bar{}, err
	}
	return b, nil
}

// GroupByDay collects bars into days in date order. A later bar for the same
// date and instrument replaces the earlier one.
func GroupByDay(bars []Bar) []Day {
	byDate := make(map[time.Time]map[string]Bar)
	for _, b := range bars {
		d := market.DateOf(b.Date)
		m, ok := byDate[d]
		if !ok {
			m = make(map[string]Bar)
			byDate[d] = m
		}
		m[b.Instrument] = b
	}

	days := make([]Day, 0, len(byDate))
	for d, m := range byDate {
		day := Day{Date: d, Bars: make([]Bar, 0, len(m))}
		for _, b := range m {
			day.Bars = append(day.Bars, b)
		}
		sort.Slice(day.Bars, func(i, j int) bool { return day.Bars[i].Instrument < day.Bars[j].Instrument })
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date.Before(days[j].Date) })
	return days
}

// Path is the intraday price sequence assumed for a bar: a bullish day
// visits the low before the high, a bearish day the high before the low.
func Path(b Bar) []float64 {
	if b.Bullish() {
		return []float64{b.Open, b.Low, b.High, b.Close}
	}
	return []float64{b.Open, b.High, b.Low, b.Close}
}
