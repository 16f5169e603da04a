package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/breakout/config"
)

type kv interface {
	Store
	Lister
}

func exercise(t *testing.T, s kv) {
	t.Helper()

	_, ok, err := s.Read(EntryTimeKey("AAPL"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(EntryTimeKey("AAPL"), "2024-01-02T09:31:00Z"))
	require.NoError(t, s.Save(EntryTimeKey("AAPL"), "2024-01-03T09:31:00Z"))
	require.NoError(t, s.Save(HaltKey("MSFT"), "2024-01-03T09:30:00Z"))
	require.NoError(t, s.Save(HaltKey("GOOGL"), "2024-01-03T09:30:00Z"))

	v, ok, err := s.Read(EntryTimeKey("AAPL"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2024-01-03T09:31:00Z", v)

	halts, err := s.List(HaltPrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{"GOOGL", "MSFT"}, Keys(halts, HaltPrefix))

	require.NoError(t, s.Delete(HaltKey("MSFT")))
	require.NoError(t, s.Delete(HaltKey("never-saved")))
	halts, err = s.List(HaltPrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{"GOOGL"}, Keys(halts, HaltPrefix))
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	exercise(t, NewMemory())
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.db")
	s, err := NewSQLite(path)
	require.NoError(t, err)
	exercise(t, s)
	require.NoError(t, s.Close())

	// survives reopen
	s, err = NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	v, ok, err := s.Read(EntryTimeKey("AAPL"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2024-01-03T09:31:00Z", v)
}

func TestOpen(t *testing.T) {
	t.Parallel()

	s, c, err := Open(config.StoreConfig{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)
	require.NoError(t, c.Close())

	s, c, err = Open(config.StoreConfig{Type: "sqlite", DBPath: filepath.Join(t.TempDir(), "state.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, s)
	require.NoError(t, s.Save(HaltKey("AAPL"), "x"))
	require.NoError(t, c.Close())

	_, c, err = Open(config.StoreConfig{Type: "redis"})
	assert.Error(t, err)
	assert.NotNil(t, c)
}
