package journal

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// FormatTradeOrg renders a TradeRecord as an Org-mode block. Structured
// facts go in the PROPERTIES drawer; the Review heading is left for notes.
func FormatTradeOrg(t TradeRecord) string {
	heading := fmt.Sprintf("** Trade: %s %s (%s)", t.Instrument, t.Side, shortID(t.TradeID))
	open := t.OpenTime.UTC().Format(time.RFC3339)
	close := t.CloseTime.UTC().Format(time.RFC3339)

	var b strings.Builder
	b.WriteString(heading)
	b.WriteString("\n")
	b.WriteString(":PROPERTIES:\n")
	b.WriteString(fmt.Sprintf(":TRADE_ID: %s\n", t.TradeID))
	b.WriteString(fmt.Sprintf(":INSTRUMENT: %s\n", t.Instrument))
	b.WriteString(fmt.Sprintf(":SIDE: %s\n", t.Side))
	b.WriteString(fmt.Sprintf(":QUANTITY: %.0f\n", t.Quantity))
	b.WriteString(fmt.Sprintf(":ENTRY_PRICE: %.2f\n", t.EntryPrice))
	b.WriteString(fmt.Sprintf(":EXIT_PRICE: %.2f\n", t.ExitPrice))
	b.WriteString(fmt.Sprintf(":OPEN_TIME: %s\n", open))
	b.WriteString(fmt.Sprintf(":CLOSE_TIME: %s\n", close))
	b.WriteString(fmt.Sprintf(":PNL: %.2f\n", t.PnL))
	b.WriteString(fmt.Sprintf(":PNL_PCT: %.2f\n", t.PnLPct))
	b.WriteString(fmt.Sprintf(":REASON: %s\n", t.Reason))
	b.WriteString(":END:\n")
	b.WriteString("\n")
	b.WriteString("*** Review\n- \n")

	return b.String()
}

// FormatTradesOrg renders multiple trades separated by blank lines.
func FormatTradesOrg(trades []TradeRecord) string {
	var b strings.Builder
	for i, t := range trades {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(FormatTradeOrg(t))
	}
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 12 {
		return full
	}
	return full[:12]
}

var summaryOrgFuncs = template.FuncMap{
	"pct": func(x float64) float64 { return x * 100.0 },
}

var summaryOrg = template.Must(template.New("summary").Funcs(summaryOrgFuncs).Parse(SummaryOrgTemplate))

// FormatSummaryOrg renders a daily summary as an Org-mode heading.
func FormatSummaryOrg(s DailySummary) (string, error) {
	var buf bytes.Buffer
	if err := summaryOrg.Execute(&buf, s); err != nil {
		return "", fmt.Errorf("summary org: %w", err)
	}
	return buf.String(), nil
}

const SummaryOrgTemplate = `* DAY: {{.Date.Format "2006-01-02"}}
:PROPERTIES:
:TRADES:   {{.Trades}}
:WINS:     {{.Wins}}
:LOSSES:   {{.Losses}}
:WIN_RATE: {{printf "%.2f" (pct .WinRate)}}
:PNL:      {{printf "%.2f" .PnL}}
:END:
{{- if .ExitReasons }}

** Exit Reasons
| Reason | Count |
|--------+-------|
{{- range .Reasons }}
| {{.}} | {{index $.ExitReasons .}} |
{{- end }}
{{- end }}
{{- if .Interventions }}

** Manual Interventions
{{- range .Interventions }}
- {{.}}
{{- end }}
{{- end }}
`
