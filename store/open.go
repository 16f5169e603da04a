package store

import (
	"fmt"
	"io"

	"github.com/rustyeddy/breakout/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open builds the store selected by cfg. The closer is never nil.
func Open(cfg config.StoreConfig) (Store, io.Closer, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemory(), nopCloser{}, nil
	case "sqlite":
		s, err := NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, nopCloser{}, fmt.Errorf("open store: %w", err)
		}
		return s, s, nil
	default:
		return nil, nopCloser{}, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}
