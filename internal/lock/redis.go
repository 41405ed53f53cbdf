package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockLost is returned by Unlock when the lock expired or was taken over.
var ErrLockLost = errors.New("lock not owned by this holder")

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every instance connected to the same server.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis wraps client. Keys are stored under prefix.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// NewRedisFromURL connects using a redis:// or rediss:// URL and verifies
// the connection.
func NewRedisFromURL(ctx context.Context, rawURL, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewRedis(client, prefix), nil
}

// Acquire sets the key with NX and a TTL.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (Unlock, bool, error) {
	fullKey := r.prefix + key
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquiring lock %q: %w", fullKey, err)
	}
	if !ok {
		return nil, false, nil
	}

	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, r.client, []string{fullKey}, token).Int()
		if err != nil {
			return fmt.Errorf("releasing lock %q: %w", fullKey, err)
		}
		if n == 0 {
			return ErrLockLost
		}
		return nil
	}, true, nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
