package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared across processes. Each lock is a key set with
// NX and a TTL so a crashed holder cannot block a subject forever.
type Redis struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger

	// TTL bounds how long a lock survives without being released.
	TTL time.Duration
	// MaxWait bounds how long Lock polls for a held key.
	MaxWait time.Duration
}

func NewRedis(client *redis.Client, prefix string, logger zerolog.Logger) *Redis {
	return &Redis{
		client:  client,
		prefix:  prefix,
		logger:  logger.With().Str("component", "redis-lock").Logger(),
		TTL:     30 * time.Second,
		MaxWait: 10 * time.Second,
	}
}

func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	full := r.prefix + key
	token := uuid.NewString()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = r.MaxWait

	err := backoff.Retry(func() error {
		ok, err := r.client.SetNX(ctx, full, token, r.TTL).Result()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("redis setnx %s: %w", full, err))
		}
		if !ok {
			return ErrNotAcquired
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.release(full, token) })
	}, nil
}

func (r *Redis) release(key, token string) {
	rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(rctx, r.client, []string{key}, token).Err(); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("failed to release lock")
	}
}
