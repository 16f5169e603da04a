// Package engine serializes every input to the strategy controller through a
// single goroutine. Market data, broker events and operator commands all land
// in one FIFO inbox, so the controller never sees two inputs at once.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/breakout/broker"
	"github.com/rustyeddy/breakout/journal"
	"github.com/rustyeddy/breakout/strategy"
)

var engineLog = logrus.WithField("component", "engine")

// ErrStopped is returned by requests made after Run has returned.
var ErrStopped = errors.New("engine stopped")

type commandType int

const (
	cmdDayStart commandType = iota
	cmdTick
	cmdOrderEvent
	cmdEndOfDay
	cmdClearHalt
	cmdSnapshot
	cmdFlush
)

func (t commandType) String() string {
	switch t {
	case cmdDayStart:
		return "day_start"
	case cmdTick:
		return "tick"
	case cmdOrderEvent:
		return "order_event"
	case cmdEndOfDay:
		return "end_of_day"
	case cmdClearHalt:
		return "clear_halt"
	case cmdSnapshot:
		return "snapshot"
	case cmdFlush:
		return "flush"
	default:
		return "unknown"
	}
}

type command struct {
	typ    commandType
	day    time.Time
	prices map[string]float64
	event  broker.OrderEvent
	inst   string
	reply  chan reply
}

type reply struct {
	cleared  bool
	snapshot strategy.Snapshot
	err      error
}

// Stats counts what the loop has processed.
type Stats struct {
	Commands    int64
	OrderEvents int64
	Panics      int64
}

// Engine is the single-writer front of a strategy.Controller. Enqueueing
// never blocks, which lets a broker call OnOrderEvent from inside a
// controller operation without deadlocking the loop.
type Engine struct {
	ctrl *strategy.Controller

	mu      sync.Mutex
	inbox   []command
	wake    chan struct{}
	stopped chan struct{}
	running atomic.Bool

	commands    atomic.Int64
	orderEvents atomic.Int64
	panics      atomic.Int64

	onSummary func(journal.DailySummary)
}

type Option func(*Engine)

// WithSummaryHook receives every daily summary after the controller has
// produced it.
func WithSummaryHook(fn func(journal.DailySummary)) Option {
	return func(e *Engine) { e.onSummary = fn }
}

func New(ctrl *strategy.Controller, opts ...Option) *Engine {
	e := &Engine{
		ctrl:    ctrl,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ broker.OrderEventListener = (*Engine)(nil)

// Run starts the controller and processes the inbox until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine already running")
	}
	defer close(e.stopped)

	if err := e.ctrl.Start(ctx); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	engineLog.Info("engine started")

	for {
		for {
			cmd, ok := e.next()
			if !ok {
				break
			}
			e.handle(ctx, cmd)
		}

		select {
		case <-e.wake:
		case <-ctx.Done():
			e.drain()
			engineLog.Info("engine stopped")
			return nil
		}
	}
}

func (e *Engine) DayStart(day time.Time, opens map[string]float64) {
	e.enqueue(command{typ: cmdDayStart, day: day, prices: opens})
}

func (e *Engine) Tick(prices map[string]float64) {
	e.enqueue(command{typ: cmdTick, prices: prices})
}

func (e *Engine) EndOfDay(day time.Time) {
	e.enqueue(command{typ: cmdEndOfDay, day: day})
}

// OnOrderEvent queues a broker notification.
func (e *Engine) OnOrderEvent(ev broker.OrderEvent) {
	e.enqueue(command{typ: cmdOrderEvent, event: ev})
}

// ClearHalt queues the operator clearance for instrument and waits for the
// result.
func (e *Engine) ClearHalt(ctx context.Context, instrument string) (bool, error) {
	r, err := e.request(ctx, command{typ: cmdClearHalt, inst: instrument})
	if err != nil {
		return false, err
	}
	return r.cleared, r.err
}

// Snapshot returns the controller state as of every input queued before it.
func (e *Engine) Snapshot(ctx context.Context) (strategy.Snapshot, error) {
	r, err := e.request(ctx, command{typ: cmdSnapshot})
	if err != nil {
		return strategy.Snapshot{}, err
	}
	return r.snapshot, nil
}

// Flush waits until the inbox is empty, including events that handling the
// queued inputs produced.
func (e *Engine) Flush(ctx context.Context) error {
	r, err := e.request(ctx, command{typ: cmdFlush})
	if err != nil {
		return err
	}
	return r.err
}

func (e *Engine) Stats() Stats {
	return Stats{
		Commands:    e.commands.Load(),
		OrderEvents: e.orderEvents.Load(),
		Panics:      e.panics.Load(),
	}
}

func (e *Engine) enqueue(cmd command) {
	e.mu.Lock()
	e.inbox = append(e.inbox, cmd)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) next() (command, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.inbox) == 0 {
		return command{}, false
	}
	cmd := e.inbox[0]
	e.inbox[0] = command{}
	e.inbox = e.inbox[1:]
	return cmd, true
}

func (e *Engine) pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inbox)
}

func (e *Engine) request(ctx context.Context, cmd command) (reply, error) {
	cmd.reply = make(chan reply, 1)
	e.enqueue(cmd)

	select {
	case r := <-cmd.reply:
		return r, nil
	case <-e.stopped:
		return reply{}, ErrStopped
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

// drain answers waiting requests once the loop is shutting down.
func (e *Engine) drain() {
	e.mu.Lock()
	left := e.inbox
	e.inbox = nil
	e.mu.Unlock()

	for _, cmd := range left {
		if cmd.reply != nil {
			cmd.reply <- reply{err: ErrStopped}
		}
	}
	if len(left) > 0 {
		engineLog.WithField("dropped", len(left)).Warn("inbox not empty at shutdown")
	}
}

func (e *Engine) handle(ctx context.Context, cmd command) {
	defer func() {
		if r := recover(); r != nil {
			e.panics.Add(1)
			engineLog.WithField("command", cmd.typ.String()).Errorf("handler panic: %v", r)
			if cmd.reply != nil {
				cmd.reply <- reply{err: fmt.Errorf("engine: %s panicked: %v", cmd.typ, r)}
			}
		}
	}()

	e.commands.Add(1)

	switch cmd.typ {
	case cmdDayStart:
		e.ctrl.OnDayStart(ctx, cmd.day, cmd.prices)
	case cmdTick:
		e.ctrl.OnTick(ctx, cmd.prices)
	case cmdOrderEvent:
		e.orderEvents.Add(1)
		e.ctrl.OnOrderEvent(ctx, cmd.event)
	case cmdEndOfDay:
		summary := e.ctrl.OnEndOfDay(ctx, cmd.day)
		if e.onSummary != nil {
			e.onSummary(summary)
		}
	case cmdClearHalt:
		cleared, err := e.ctrl.ClearHalt(ctx, cmd.inst)
		cmd.reply <- reply{cleared: cleared, err: err}
	case cmdSnapshot:
		cmd.reply <- reply{snapshot: e.ctrl.Snapshot()}
	case cmdFlush:
		if e.pending() > 0 {
			// events produced by earlier commands are still queued
			e.enqueue(cmd)
			return
		}
		cmd.reply <- reply{}
	default:
		engineLog.WithField("command", int(cmd.typ)).Warn("unknown command")
	}
}
