// Package store is the best-effort key-value persistence used for entry
// timestamps and operator halts.
package store

import (
	"sort"
	"strings"
	"sync"
)

type Store interface {
	Save(key, value string) error
	// Read reports ok=false for a missing key.
	Read(key string) (value string, ok bool, err error)
	Delete(key string) error
}

// Lister is implemented by stores that can enumerate keys by prefix.
type Lister interface {
	List(prefix string) (map[string]string, error)
}

// Key helpers shared by the writers and the CLI.
const (
	EntryTimePrefix = "entry_time/"
	HaltPrefix      = "halt/"
)

func EntryTimeKey(instrument string) string { return EntryTimePrefix + instrument }
func HaltKey(instrument string) string      { return HaltPrefix + instrument }

type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Save(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Read(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) List(prefix string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string)
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

// Keys returns the sorted keys of a List result with prefix trimmed.
func Keys(m map[string]string, prefix string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, strings.TrimPrefix(k, prefix))
	}
	sort.Strings(out)
	return out
}
