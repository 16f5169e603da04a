// Package signal turns a session's opening price into breakout trigger levels.
package signal

// Signals are the raw (unrounded) entry levels for one instrument and the
// exit percentages to attach once an entry fills.
type Signals struct {
	Instrument    string
	OpenPrice     float64
	LongTrigger   float64
	ShortTrigger  float64
	TakeProfitPct float64
	StopLossPct   float64
}

// Generator is stateless; the same open price always yields the same levels.
type Generator struct {
	LongOffset    float64
	ShortOffset   float64
	TakeProfitPct float64
	StopLossPct   float64
}

func NewGenerator(longOffset, shortOffset, tpPct, slPct float64) *Generator {
	return &Generator{
		LongOffset:    longOffset,
		ShortOffset:   shortOffset,
		TakeProfitPct: tpPct,
		StopLossPct:   slPct,
	}
}

// Generate returns false for a non-positive open or when either trigger
// does not sit strictly outside the open (zero or negative offsets).
func (g *Generator) Generate(instrument string, openPrice float64) (Signals, bool) {
	if openPrice <= 0 {
		return Signals{}, false
	}

	long := openPrice * (1 + g.LongOffset)
	short := openPrice * (1 - g.ShortOffset)
	if long <= openPrice || short >= openPrice {
		return Signals{}, false
	}

	return Signals{
		Instrument:    instrument,
		OpenPrice:     openPrice,
		LongTrigger:   long,
		ShortTrigger:  short,
		TakeProfitPct: g.TakeProfitPct,
		StopLossPct:   g.StopLossPct,
	}, true
}
