package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/breakout/config"
	"github.com/rustyeddy/breakout/store"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, logLevel, journalDBPath, haltDBPath, runMetricsAddr = "", "", "", "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	c := config.Default()
	c.Universe.Tickers = []string{"AAPL"}
	c.Journal = config.JournalConfig{Type: "sqlite", DBPath: filepath.Join(dir, "journal.db")}
	c.Store = config.StoreConfig{Type: "sqlite", DBPath: filepath.Join(dir, "state.db")}
	c.Log.Level = "error"

	path := filepath.Join(dir, "breakout.yaml")
	require.NoError(t, c.SaveToFile(path))
	return path
}

func TestRunAndQueryJournal(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)

	bars := filepath.Join(dir, "bars.csv")
	require.NoError(t, os.WriteFile(bars, []byte(strings.Join([]string{
		"date,instrument,open,high,low,close",
		"2024-03-04,AAPL,100,108,99.5,107",
		"2024-03-05,AAPL,107,109,104,105",
	}, "\n")), 0o644))

	out, err := execute(t, "run", "-c", cfgPath, "--bars", bars)
	require.NoError(t, err)
	assert.Contains(t, out, "* DAY: 2024-03-05")
	assert.Contains(t, out, "| TakeProfit | 1 |")
	assert.Contains(t, out, "Working orders: 0")

	out, err = execute(t, "journal", "-c", cfgPath, "day", "2024-03-05")
	require.NoError(t, err)
	assert.Contains(t, out, "** Trade: AAPL LONG")
	assert.Contains(t, out, ":EXIT_PRICE: 107.10")

	out, err = execute(t, "journal", "-c", cfgPath, "summary", "2024-03-05")
	require.NoError(t, err)
	assert.Contains(t, out, ":PNL:      499.80")

	_, err = execute(t, "journal", "-c", cfgPath, "summary", "2023-01-01")
	assert.Error(t, err)
}

func TestHaltListAndClear(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)

	out, err := execute(t, "halt", "-c", cfgPath, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No halted instruments.")

	s, err := store.NewSQLite(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	require.NoError(t, s.Save(store.HaltKey("AAPL"), "2024-03-04T14:30:00Z"))
	require.NoError(t, s.Close())

	out, err = execute(t, "halt", "-c", cfgPath, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "AAPL")

	out, err = execute(t, "halt", "-c", cfgPath, "clear", "aapl")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared halt on AAPL")

	_, err = execute(t, "halt", "-c", cfgPath, "clear", "AAPL")
	assert.Error(t, err)
}

func TestConfigInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "breakout.toml")

	out, err := execute(t, "config", "init", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Created default configuration")

	out, err = execute(t, "config", "validate", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Tickers: AAPL, MSFT, GOOGL")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "breakout version")
}
