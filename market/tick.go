package market

import (
	"errors"
	"sync"
	"time"
)

// ErrNoPrice is returned by TickStore.Get for unknown instruments.
var ErrNoPrice = errors.New("price not found")

// Tick is a last-trade price observation.
type Tick struct {
	Instrument string
	Time       time.Time
	Price      float64
}

type TickStore struct {
	mu    sync.RWMutex
	ticks map[string]Tick
}

func NewTickStore() *TickStore {
	return &TickStore{ticks: make(map[string]Tick)}
}

func (ts *TickStore) Set(t Tick) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.ticks[t.Instrument] = t
}

func (ts *TickStore) Get(instr string) (Tick, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	t, ok := ts.ticks[instr]
	if !ok {
		return Tick{}, ErrNoPrice
	}
	return t, nil
}
