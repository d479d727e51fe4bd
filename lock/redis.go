/*
Package lock provides ledger.Locker implementations.

PURPOSE:
  The sweep wraps guard + post for each series in Locker.Acquire so two
  ledger processes never materialize the same occurrence at the same
  time. The store's unique index is the last line; the lock keeps the
  losing process from doing the work at all.

IMPLEMENTATIONS:
  RedisLocker: SET key token NX PX ttl, released by a compare-and-delete
               script so an expired holder never frees someone else's lock.
  Local:       In-process keyed mutex for single-instance deployments.

SEE ALSO:
  - ledger/events.go: The Locker interface
  - ledger/sweep.go: Where locks are taken
*/
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/warp/finance-ledger/ledger"
)

var errHeld = errors.New("lock held")

// unlockScript deletes the key only if it still holds our token.
var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// RedisOptions configures a RedisLocker.
type RedisOptions struct {
	// TTL bounds how long a crashed holder keeps the key. Default 30s.
	TTL time.Duration
	// MaxWait bounds how long Acquire retries a held key. Default 5s.
	MaxWait time.Duration
	// Prefix is prepended to every key.
	Prefix string
}

// RedisLocker is a distributed ledger.Locker backed by Redis.
type RedisLocker struct {
	client redis.UniversalClient
	opts   RedisOptions
}

var _ ledger.Locker = (*RedisLocker)(nil)

// NewRedisLocker creates a locker using client.
func NewRedisLocker(client redis.UniversalClient, opts RedisOptions) *RedisLocker {
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 5 * time.Second
	}
	return &RedisLocker{client: client, opts: opts}
}

// Acquire takes the lock for key, retrying with exponential backoff while
// another holder has it. It returns ledger.ErrSeriesLocked when MaxWait
// elapses and a wrapped ledger.ErrStoreUnavailable when Redis fails.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	key = l.opts.Prefix + key
	token := uuid.NewString()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = l.opts.MaxWait

	err := backoff.Retry(func() error {
		ok, err := l.client.SetNX(ctx, key, token, l.opts.TTL).Result()
		if err != nil {
			return backoff.Permanent(ledger.NewStoreError("redis lock", err))
		}
		if !ok {
			return errHeld
		}
		return nil
	}, backoff.WithContext(policy, ctx))

	switch {
	case errors.Is(err, errHeld):
		return nil, fmt.Errorf("%w: %s", ledger.ErrSeriesLocked, key)
	case err != nil:
		return nil, err
	}

	return func() { l.release(key, token) }, nil
}

func (l *RedisLocker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// An error leaves the key to expire with its TTL.
	_ = unlockScript.Run(ctx, l.client, []string{key}, token).Err()
}
