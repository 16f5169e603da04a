package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/breakout/store"
)

var haltCmd = &cobra.Command{
	Use:   "halt",
	Short: "Inspect or clear reconciliation halts",
	Long: `An instrument is halted when the bot's book disagrees with the
broker's position. It stays halted across restarts until an operator clears
it here. Clearing a halt does not touch the broker; the bot re-attaches a
bracket to any position it finds on its next start.

Examples:
  breakout halt list
  breakout halt clear AAPL`,
}

var haltListCmd = &cobra.Command{
	Use:   "list",
	Short: "List halted instruments",
	Args:  cobra.NoArgs,
	RunE:  runHaltList,
}

var haltClearCmd = &cobra.Command{
	Use:   "clear <ticker>",
	Short: "Clear the halt on an instrument",
	Args:  cobra.ExactArgs(1),
	RunE:  runHaltClear,
}

var haltDBPath string

func init() {
	rootCmd.AddCommand(haltCmd)
	haltCmd.AddCommand(haltListCmd)
	haltCmd.AddCommand(haltClearCmd)

	haltCmd.PersistentFlags().StringVarP(&haltDBPath, "db", "d", "", "path to the state DB (overrides store.db_path)")
}

func openStateStore() (*store.SQLite, error) {
	path := haltDBPath
	if path == "" {
		if cfg.Store.Type != "sqlite" {
			return nil, fmt.Errorf("halts persist only in a sqlite store (store.type is %q)", cfg.Store.Type)
		}
		path = cfg.Store.DBPath
	}
	return store.NewSQLite(path)
}

func runHaltList(cmd *cobra.Command, args []string) error {
	s, err := openStateStore()
	if err != nil {
		return err
	}
	defer s.Close()

	halts, err := s.List(store.HaltPrefix)
	if err != nil {
		return fmt.Errorf("list halts: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(halts) == 0 {
		fmt.Fprintln(out, "No halted instruments.")
		return nil
	}
	for _, inst := range store.Keys(halts, store.HaltPrefix) {
		since := halts[store.HaltKey(inst)]
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			since = t.Format("2006-01-02 15:04 MST")
		}
		fmt.Fprintf(out, "%-8s halted since %s\n", inst, since)
	}
	return nil
}

func runHaltClear(cmd *cobra.Command, args []string) error {
	s, err := openStateStore()
	if err != nil {
		return err
	}
	defer s.Close()

	inst := strings.ToUpper(strings.TrimSpace(args[0]))
	key := store.HaltKey(inst)
	if _, ok, err := s.Read(key); err != nil {
		return fmt.Errorf("read halt: %w", err)
	} else if !ok {
		return fmt.Errorf("%s is not halted", inst)
	}
	if err := s.Delete(key); err != nil {
		return fmt.Errorf("clear halt: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Cleared halt on %s\n", inst)
	return nil
}
