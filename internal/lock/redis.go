package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-join-server/pkg/lorawan"
)

const lockKeyTempl = "js:lock:%s"

// releaseScript deletes the key only when it still holds our token, so an
// expired lease taken over by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker backed by a Redis lease, shared by all join server
// instances using the same Redis.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker creates a RedisLocker. The lease expires after ttl when the
// holder dies without releasing it.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		retry:  10 * time.Millisecond,
	}
}

// Lock polls for the lease until acquired or ctx is done.
func (r *RedisLocker) Lock(ctx context.Context, devEUI lorawan.EUI64) (func(), error) {
	key := fmt.Sprintf(lockKeyTempl, devEUI)
	token := uuid.NewString()

	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()

	for {
		set, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
			}
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if set {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
		case <-ticker.C:
		}
	}

	return func() {
		// the caller context may be done already
		ctx, cancel := context.WithTimeout(context.Background(), r.ttl)
		defer cancel()

		if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
			log.Warn().Err(err).Str("devEUI", devEUI.String()).Msg("Failed to release join lock")
		}
	}, nil
}
