package journal

import (
	"fmt"

	"github.com/rustyeddy/breakout/config"
)

// Open builds the journal selected by cfg.
func Open(cfg config.JournalConfig) (Journal, error) {
	switch cfg.Type {
	case "csv":
		return NewCSV(cfg.TradesFile, cfg.SummaryFile)
	case "sqlite":
		return NewSQLite(cfg.DBPath)
	case "", "none":
		return &Memory{}, nil
	default:
		return nil, fmt.Errorf("unknown journal type %q", cfg.Type)
	}
}
