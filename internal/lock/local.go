package lock

import (
	"context"
	"sync"
	"time"
)

// Local is an in-process Locker for single-instance deployments.
type Local struct {
	mu    sync.Mutex
	held  map[string]localHold
	seq   uint64
	clock func() time.Time
}

type localHold struct {
	token   uint64
	expires time.Time
}

// NewLocal returns an empty Local locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]localHold), clock: time.Now}
}

// Acquire takes key unless an unexpired holder owns it.
func (l *Local) Acquire(_ context.Context, key string, ttl time.Duration) (Unlock, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if h, ok := l.held[key]; ok && now.Before(h.expires) {
		return nil, false, nil
	}
	l.seq++
	token := l.seq
	l.held[key] = localHold{token: token, expires: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if h, ok := l.held[key]; ok && h.token == token {
			delete(l.held, key)
		}
		return nil
	}, true, nil
}
