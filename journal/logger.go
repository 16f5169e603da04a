package journal

import (
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/breakout/broker"
	"github.com/rustyeddy/breakout/internal/id"
)

var tradeLog = logrus.WithField("component", "trade_logger")

// Logger writes lifecycle notifications to the log and persists trades and
// summaries to a Journal. Journal errors are logged, never returned.
type Logger struct {
	j Journal
}

func NewLogger(j Journal) *Logger {
	if j == nil {
		j = &Memory{}
	}
	return &Logger{j: j}
}

func (l *Logger) OnTradeClosed(t TradeRecord) {
	if t.TradeID == "" {
		t.TradeID = id.Trade()
	}
	fields := logrus.Fields{
		"trade_id":   t.TradeID,
		"instrument": t.Instrument,
		"side":       t.Side,
		"reason":     t.Reason,
	}
	if t.IsIntervention() {
		tradeLog.WithFields(fields).Warn("manual intervention recorded")
	} else {
		fields["quantity"] = t.Quantity
		fields["entry"] = t.EntryPrice
		fields["exit"] = t.ExitPrice
		fields["pnl"] = t.PnL
		fields["pnl_pct"] = t.PnLPct
		tradeLog.WithFields(fields).Info("trade closed")
	}
	if err := l.j.RecordTrade(t); err != nil {
		tradeLog.WithError(err).Error("journal trade")
	}
}

// OnOrderEvent logs fills at info and rejections at error. Submissions and
// cancels are routine and stay quiet.
func (l *Logger) OnOrderEvent(ev broker.OrderEvent) {
	entry := tradeLog.WithFields(logrus.Fields{
		"order_id":   ev.OrderID,
		"instrument": ev.Instrument,
		"tag":        ev.Tag,
	})
	switch ev.Status {
	case broker.StatusFilled:
		entry.WithFields(logrus.Fields{
			"direction": ev.Direction.String(),
			"price":     ev.FillPrice,
			"quantity":  ev.FillQuantity,
		}).Info("FILL")
	case broker.StatusInvalid:
		entry.Error("order rejected")
	}
}

func (l *Logger) OnDailySummary(s DailySummary) {
	tradeLog.WithFields(logrus.Fields{
		"date":          s.Date.Format("2006-01-02"),
		"trades":        s.Trades,
		"wins":          s.Wins,
		"losses":        s.Losses,
		"pnl":           s.PnL,
		"exit_reasons":  encodeReasons(s.ExitReasons),
		"interventions": len(s.Interventions),
	}).Info("daily summary")
	if err := l.j.RecordSummary(s); err != nil {
		tradeLog.WithError(err).Error("journal summary")
	}
}

func (l *Logger) Close() error { return l.j.Close() }
