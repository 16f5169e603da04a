package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/breakout/journal"
	"github.com/rustyeddy/breakout/market"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query trade journal data",
	Long: `Query and display trade journal records. The journal type and paths
come from the config file; --db forces a SQLite journal.

Subcommands:
  trade    - Get details of a specific trade by ID
  today    - List trades closed today (UTC)
  day      - List trades closed on a specific day
  summary  - Show one daily summary, or all of them

Examples:
  breakout journal trade trd_01HV...
  breakout journal day 2024-01-15
  breakout journal summary 2024-01-15`,
}

var journalTradeCmd = &cobra.Command{
	Use:   "trade <trade-id>",
	Short: "Get details of a specific trade",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTrade,
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List trades closed today",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listTradesOn(cmd, time.Now().UTC())
	},
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List trades closed on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := time.Parse(market.DateLayout, args[0])
		if err != nil {
			return fmt.Errorf("date: %w", err)
		}
		return listTradesOn(cmd, day)
	},
}

var journalSummaryCmd = &cobra.Command{
	Use:   "summary [YYYY-MM-DD]",
	Short: "Show daily summaries",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runJournalSummary,
}

var journalDBPath string

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTradeCmd)
	journalCmd.AddCommand(journalTodayCmd)
	journalCmd.AddCommand(journalDayCmd)
	journalCmd.AddCommand(journalSummaryCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "", "path to SQLite journal DB (overrides config)")
}

// journalReader is the read side shared by the SQLite and CSV journals.
type journalReader interface {
	trade(id string) (journal.TradeRecord, error)
	tradesOn(day time.Time) ([]journal.TradeRecord, error)
	summaries() ([]journal.DailySummary, error)
	Close() error
}

func openJournalReader() (journalReader, error) {
	if journalDBPath != "" {
		return openSQLiteReader(journalDBPath)
	}
	switch cfg.Journal.Type {
	case "sqlite":
		return openSQLiteReader(cfg.Journal.DBPath)
	case "csv":
		return csvReader{trades: cfg.Journal.TradesFile, summary: cfg.Journal.SummaryFile}, nil
	default:
		return nil, fmt.Errorf("journal type %q keeps nothing to query", cfg.Journal.Type)
	}
}

type sqliteReader struct{ *journal.SQLite }

func openSQLiteReader(path string) (journalReader, error) {
	j, err := journal.NewSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return sqliteReader{j}, nil
}

func (r sqliteReader) trade(id string) (journal.TradeRecord, error) { return r.GetTrade(id) }

func (r sqliteReader) tradesOn(day time.Time) ([]journal.TradeRecord, error) {
	return r.ListTradesOn(day)
}

func (r sqliteReader) summaries() ([]journal.DailySummary, error) { return r.ListSummaries() }

type csvReader struct {
	trades  string
	summary string
}

func (r csvReader) trade(id string) (journal.TradeRecord, error) {
	all, err := journal.ReadTradesCSV(r.trades)
	if err != nil {
		return journal.TradeRecord{}, err
	}
	for _, t := range all {
		if t.TradeID == id {
			return t, nil
		}
	}
	return journal.TradeRecord{}, fmt.Errorf("trade %s: %w", id, journal.ErrNotFound)
}

func (r csvReader) tradesOn(day time.Time) ([]journal.TradeRecord, error) {
	all, err := journal.ReadTradesCSV(r.trades)
	if err != nil {
		return nil, err
	}
	d := market.DateOf(day)
	var out []journal.TradeRecord
	for _, t := range all {
		if market.DateOf(t.CloseTime.UTC()).Equal(d) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r csvReader) summaries() ([]journal.DailySummary, error) {
	return journal.ReadSummariesCSV(r.summary)
}

func (csvReader) Close() error { return nil }

func runJournalTrade(cmd *cobra.Command, args []string) error {
	r, err := openJournalReader()
	if err != nil {
		return err
	}
	defer r.Close()

	rec, err := r.trade(args[0])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatTradeOrg(rec))
	return nil
}

func listTradesOn(cmd *cobra.Command, day time.Time) error {
	r, err := openJournalReader()
	if err != nil {
		return err
	}
	defer r.Close()

	recs, err := r.tradesOn(day)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatTradesOrg(recs))
	return nil
}

func runJournalSummary(cmd *cobra.Command, args []string) error {
	r, err := openJournalReader()
	if err != nil {
		return err
	}
	defer r.Close()

	all, err := r.summaries()
	if err != nil {
		return fmt.Errorf("query summaries: %w", err)
	}

	if len(args) == 1 {
		day, err := time.Parse(market.DateLayout, args[0])
		if err != nil {
			return fmt.Errorf("date: %w", err)
		}
		var found []journal.DailySummary
		for _, s := range all {
			if s.Date.Equal(day) {
				found = append(found, s)
			}
		}
		if len(found) == 0 {
			return fmt.Errorf("summary %s: %w", args[0], journal.ErrNotFound)
		}
		all = found
	}

	out := cmd.OutOrStdout()
	for _, s := range all {
		text, err := journal.FormatSummaryOrg(s)
		if err != nil {
			return fmt.Errorf("format summary %s: %w", s.Date.Format(market.DateLayout), err)
		}
		fmt.Fprint(out, text)
	}
	return nil
}
