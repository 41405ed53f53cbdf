// Package eventbus fans dispatcher and scheduler lifecycle events out to
// in-process listeners (metrics, logging) without blocking the publisher.
package eventbus

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Options sizes the bus. Zero values select the defaults.
type Options struct {
	Workers    int
	BufferSize int
}

const (
	defaultWorkers    = 2
	defaultBufferSize = 256
)

type subscription struct {
	types    []string
	listener Listener
}

func (s subscription) wants(eventType string) bool {
	return len(s.types) == 0 || slices.Contains(s.types, eventType)
}

// Bus is an asynchronous broadcast bus. Publish never blocks: when the
// buffer is full the event is counted as dropped.
type Bus struct {
	logger *slog.Logger
	events chan Event

	mu     sync.RWMutex
	subs   []subscription
	closed bool

	dropped atomic.Uint64
	wg      sync.WaitGroup
}

// New starts a bus with opts.Workers delivery goroutines.
func New(opts Options, logger *slog.Logger) *Bus {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		logger: logger,
		events: make(chan Event, opts.BufferSize),
	}
	b.wg.Add(opts.Workers)
	for range opts.Workers {
		go b.work()
	}
	return b
}

func (b *Bus) work() {
	defer b.wg.Done()
	for e := range b.events {
		b.mu.RLock()
		subs := slices.Clone(b.subs)
		b.mu.RUnlock()

		for _, s := range subs {
			if s.wants(e.Type) {
				b.deliver(s.listener, e)
			}
		}
	}
}

func (b *Bus) deliver(l Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked", "event", e.Type, "panic", r)
		}
	}()
	l(e)
}

// Publish queues an event for delivery.
func (b *Bus) Publish(eventType string, payload map[string]string) {
	e := Event{Type: eventType, Timestamp: time.Now().UTC(), Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.dropped.Add(1)
		b.logger.Warn("event published after close", "event", eventType)
		return
	}
	select {
	case b.events <- e:
	default:
		b.dropped.Add(1)
		b.logger.Warn("event buffer full, dropping event", "event", eventType)
	}
}

// Subscribe registers l for the given event types, or for every event when
// no type is given.
func (b *Bus) Subscribe(l Listener, types ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{types: types, listener: l})
}

// Dropped returns how many events were discarded since start.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Pending returns the number of buffered events not yet delivered.
func (b *Bus) Pending() int {
	return len(b.events)
}

// Close stops intake and waits until buffered events are delivered.
// Calling it again is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.events)
	b.mu.Unlock()
	b.wg.Wait()
}

// LogListener writes failures at warn level and everything else at debug.
func LogListener(logger *slog.Logger, failureTypes ...string) Listener {
	return func(e Event) {
		level := slog.LevelDebug
		if slices.Contains(failureTypes, e.Type) {
			level = slog.LevelWarn
		}
		logger.Log(context.Background(), level, "lifecycle event", "event", e)
	}
}
