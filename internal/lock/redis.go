package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	radix "github.com/mediocregopher/radix/v3"
	"go.uber.org/zap"
)

// ErrNotAcquired is returned when a redis lock could not be taken before the
// context expired.
var ErrNotAcquired = errors.New("lock not acquired")

// releaseScript deletes the key only if it still holds our token, so an
// expired lease taken over by another holder is never released by us.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

const acquireRetryInterval = 50 * time.Millisecond

// Redis is a distributed Locker backed by redis SET NX PX leases. The lease is
// time-bounded so a crashed holder cannot deadlock the system.
type Redis struct {
	client radix.Client
	lease  time.Duration
}

func NewRedis(addr string, lease time.Duration) (*Redis, error) {
	pool, err := radix.NewPool("tcp", addr, 10)
	if err != nil {
		return nil, fmt.Errorf("unable to connect redis: %w", err)
	}
	return &Redis{client: pool, lease: lease}, nil
}

// NewRedisWithClient wraps an existing client (tests).
func NewRedisWithClient(client radix.Client, lease time.Duration) *Redis {
	return &Redis{client: client, lease: lease}
}

func (r *Redis) WithLock(ctx context.Context, resource string, fn func(ctx context.Context) error) error {
	token := uuid.New().String()

	if err := r.acquire(ctx, resource, token); err != nil {
		return err
	}
	defer r.release(resource, token)

	return fn(ctx)
}

func (r *Redis) acquire(ctx context.Context, resource, token string) error {
	leaseMillis := fmt.Sprintf("%d", r.lease.Milliseconds())
	deadline := time.Now().Add(r.lease)

	for {
		var reply string
		err := r.client.Do(radix.Cmd(&reply, "SET", resource, token, "NX", "PX", leaseMillis))
		if err != nil {
			return fmt.Errorf("unable to acquire lock %s: %w", resource, err)
		}
		if reply == "OK" {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrNotAcquired, resource)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(acquireRetryInterval):
		}
	}
}

func (r *Redis) release(resource, token string) {
	var deleted int
	err := r.client.Do(radix.Cmd(&deleted, "EVAL", releaseScript, "1", resource, token))
	if err != nil {
		zap.L().Warn("Failed to release lock", zap.String("resource", resource), zap.Error(err))
		return
	}
	if deleted == 0 {
		// lease expired and possibly changed hands; nothing to release
		zap.L().Warn("Lock lease expired before release", zap.String("resource", resource))
	}
}
