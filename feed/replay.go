package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/breakout/market"
)

var feedLog = logrus.WithField("component", "feed")

const (
	// SessionOpen is the regular-session open as an offset from midnight UTC.
	SessionOpen   = 14*time.Hour + 30*time.Minute
	SessionLength = 6*time.Hour + 30*time.Minute
)

// PriceUpdater is the simulated broker's price input.
type PriceUpdater interface {
	UpdatePrice(t market.Tick) error
}

// Sink receives the session events. Flush returns once everything sent so
// far, and anything it caused, has been handled.
type Sink interface {
	DayStart(day time.Time, opens map[string]float64)
	Tick(prices map[string]float64)
	EndOfDay(day time.Time)
	Flush(ctx context.Context) error
}

// Replay drives days through the broker and the sink in order: the opening
// prices and DayStart, each remaining point of every bar's path, then
// EndOfDay. The broker sees a price before the sink hears about it.
func Replay(ctx context.Context, days []Day, prices PriceUpdater, sink Sink) error {
	for _, d := range days {
		if err := replayDay(ctx, d, prices, sink); err != nil {
			return fmt.Errorf("replay %s: %w", d.Date.Format(market.DateLayout), err)
		}
	}
	return nil
}

func replayDay(ctx context.Context, d Day, prices PriceUpdater, sink Sink) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	feedLog.WithFields(logrus.Fields{
		"day":         d.Date.Format(market.DateLayout),
		"instruments": len(d.Bars),
	}).Debug("replaying day")

	paths := make([][]float64, len(d.Bars))
	steps := 0
	for i, b := range d.Bars {
		paths[i] = Path(b)
		steps = max(steps, len(paths[i]))
	}

	for step := 0; step < steps; step++ {
		at := d.Date.Add(SessionOpen + SessionLength*time.Duration(step)/time.Duration(max(steps-1, 1)))

		px := make(map[string]float64, len(d.Bars))
		for i, b := range d.Bars {
			if step >= len(paths[i]) {
				continue
			}
			p := paths[i][step]
			if err := prices.UpdatePrice(market.Tick{Instrument: b.Instrument, Time: at, Price: p}); err != nil {
				return err
			}
			px[b.Instrument] = p
		}
		// fills caused by the price move are handled before the sink sees it
		if err := sink.Flush(ctx); err != nil {
			return err
		}

		if step == 0 {
			sink.DayStart(d.Date, d.Opens())
		} else {
			sink.Tick(px)
		}
		if err := sink.Flush(ctx); err != nil {
			return err
		}
	}

	sink.EndOfDay(d.Date)
	return sink.Flush(ctx)
}
