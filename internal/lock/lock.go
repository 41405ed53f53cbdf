// Package lock provides the batch lock that keeps two queue runs from
// working the same batch at once.
package lock

import (
	"context"
	"time"
)

// Unlock releases a held lock.
type Unlock = func(ctx context.Context) error

// Locker acquires named, expiring locks. Acquire reports acquired=false,
// with a nil error, when another holder owns key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock Unlock, acquired bool, err error)
}
