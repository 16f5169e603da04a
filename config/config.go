package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/breakout/market"
)

// Config is the complete bot configuration.
type Config struct {
	Strategy StrategyConfig `json:"strategy" yaml:"strategy" toml:"strategy"`
	Universe UniverseConfig `json:"universe" yaml:"universe" toml:"universe"`
	Journal  JournalConfig  `json:"journal" yaml:"journal" toml:"journal"`
	Store    StoreConfig    `json:"store" yaml:"store" toml:"store"`
	Log      LogConfig      `json:"log" yaml:"log" toml:"log"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics" toml:"metrics"`
}

// StrategyConfig holds the breakout parameters. Percentages are fractions
// (0.02 == 2%).
type StrategyConfig struct {
	LongEntryOffset  float64 `json:"long_entry_offset" yaml:"long_entry_offset" toml:"long_entry_offset"`
	ShortEntryOffset float64 `json:"short_entry_offset" yaml:"short_entry_offset" toml:"short_entry_offset"`
	TakeProfitPct    float64 `json:"tp_percentage" yaml:"tp_percentage" toml:"tp_percentage"`
	StopLossPct      float64 `json:"sl_percentage" yaml:"sl_percentage" toml:"sl_percentage"`
	TimeStopDays     int     `json:"time_stop_days" yaml:"time_stop_days" toml:"time_stop_days"`
	PositionSize     float64 `json:"position_size" yaml:"position_size" toml:"position_size"`
	CapturePointPct  float64 `json:"capture_point_pct" yaml:"capture_point_pct" toml:"capture_point_pct"`
	BreakevenOffset  float64 `json:"breakeven_offset" yaml:"breakeven_offset" toml:"breakeven_offset"`
}

// UniverseConfig lists the traded tickers and their earnings dates
// (YYYY-MM-DD).
type UniverseConfig struct {
	Tickers  []string          `json:"tickers" yaml:"tickers" toml:"tickers"`
	Earnings map[string]string `json:"earnings,omitempty" yaml:"earnings,omitempty" toml:"earnings,omitempty"`
}

type JournalConfig struct {
	Type        string `json:"type" yaml:"type" toml:"type"` // "csv", "sqlite" or "none"
	TradesFile  string `json:"trades_file,omitempty" yaml:"trades_file,omitempty" toml:"trades_file,omitempty"`
	SummaryFile string `json:"summary_file,omitempty" yaml:"summary_file,omitempty" toml:"summary_file,omitempty"`
	DBPath      string `json:"db_path,omitempty" yaml:"db_path,omitempty" toml:"db_path,omitempty"`
}

type StoreConfig struct {
	Type   string `json:"type" yaml:"type" toml:"type"` // "memory" or "sqlite"
	DBPath string `json:"db_path,omitempty" yaml:"db_path,omitempty" toml:"db_path,omitempty"`
}

type LogConfig struct {
	Level      string `json:"level" yaml:"level" toml:"level"`
	Format     string `json:"format,omitempty" yaml:"format,omitempty" toml:"format,omitempty"`
	File       string `json:"file,omitempty" yaml:"file,omitempty" toml:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty" toml:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty" toml:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty" yaml:"max_age_days,omitempty" toml:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty" yaml:"compress,omitempty" toml:"compress,omitempty"`
}

type MetricsConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty" toml:"addr,omitempty"` // e.g. ":9102"; empty disables
}

// LoadFromFile loads configuration from a file. TOML is chosen by the
// .toml extension; anything else is tried as YAML, then JSON.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	if isTOML(path) {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse toml config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile writes YAML, TOML or JSON depending on the extension.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	case ".toml":
		data, err = toml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func (c *Config) normalize() {
	seen := make(map[string]bool, len(c.Universe.Tickers))
	tickers := c.Universe.Tickers[:0]
	for _, t := range c.Universe.Tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tickers = append(tickers, t)
	}
	c.Universe.Tickers = tickers
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	s := c.Strategy
	if s.LongEntryOffset <= 0 || s.LongEntryOffset >= 1 {
		return fmt.Errorf("strategy.long_entry_offset must be between 0 and 1")
	}
	if s.ShortEntryOffset <= 0 || s.ShortEntryOffset >= 1 {
		return fmt.Errorf("strategy.short_entry_offset must be between 0 and 1")
	}
	if s.TakeProfitPct <= 0 || s.TakeProfitPct >= 1 {
		return fmt.Errorf("strategy.tp_percentage must be between 0 and 1")
	}
	if s.StopLossPct <= 0 || s.StopLossPct >= 1 {
		return fmt.Errorf("strategy.sl_percentage must be between 0 and 1")
	}
	if s.TimeStopDays < 0 {
		return fmt.Errorf("strategy.time_stop_days must not be negative")
	}
	if s.PositionSize <= 0 {
		return fmt.Errorf("strategy.position_size must be positive")
	}
	if s.CapturePointPct < 0 || s.BreakevenOffset < 0 {
		return fmt.Errorf("strategy.capture_point_pct and breakeven_offset must not be negative")
	}
	if s.CapturePointPct > 0 && s.BreakevenOffset >= s.CapturePointPct {
		return fmt.Errorf("strategy.breakeven_offset must be below capture_point_pct")
	}
	if len(c.Universe.Tickers) == 0 {
		return fmt.Errorf("universe.tickers is required")
	}
	if _, err := market.ParseEarnings(c.Universe.Earnings); err != nil {
		return fmt.Errorf("universe.earnings: %w", err)
	}

	switch c.Journal.Type {
	case "none":
	case "csv":
		if c.Journal.TradesFile == "" || c.Journal.SummaryFile == "" {
			return fmt.Errorf("journal trades_file and summary_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	default:
		return fmt.Errorf("journal.type must be 'csv', 'sqlite' or 'none'")
	}

	switch c.Store.Type {
	case "memory":
	case "sqlite":
		if c.Store.DBPath == "" {
			return fmt.Errorf("store db_path required for SQLite type")
		}
	default:
		return fmt.Errorf("store.type must be 'memory' or 'sqlite'")
	}
	return nil
}

// EarningsCalendar parses Universe.Earnings.
func (c *Config) EarningsCalendar() (market.EarningsCalendar, error) {
	return market.ParseEarnings(c.Universe.Earnings)
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Strategy: StrategyConfig{
			LongEntryOffset:  0.02,
			ShortEntryOffset: 0.02,
			TakeProfitPct:    0.05,
			StopLossPct:      0.03,
			TimeStopDays:     4,
			PositionSize:     10000,
			CapturePointPct:  0.04,
			BreakevenOffset:  0.01,
		},
		Universe: UniverseConfig{
			Tickers: []string{"AAPL", "MSFT", "GOOGL"},
		},
		Journal: JournalConfig{
			Type:        "csv",
			TradesFile:  "./trades.csv",
			SummaryFile: "./summary.csv",
		},
		Store: StoreConfig{
			Type:   "sqlite",
			DBPath: "./breakout-state.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
