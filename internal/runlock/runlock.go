// Package runlock serialises pipeline runs across processes. Overlapping schedule
// firings of the same pipeline are refused rather than run concurrently.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lendz/syncer/internal/logging"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLocked is returned when another run holds the lock.
	ErrLocked = errors.New("run already in progress")
	// ErrNotHeld is returned when releasing a lock which has expired or been taken over.
	ErrNotHeld = errors.New("lock not held")
)

// Lock is a held run lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out run locks by pipeline name.
type Locker interface {
	Acquire(ctx context.Context, name string) (Lock, error)
	Close() error
}

// Noop is a Locker which always succeeds, used when no redis is configured.
type Noop struct{}

type noopLock struct{}

func (noopLock) Release(context.Context) error { return nil }

// Acquire implements Locker.
func (Noop) Acquire(context.Context, string) (Lock, error) { return noopLock{}, nil }

// Close implements Locker.
func (Noop) Close() error { return nil }

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Redis is a Locker backed by redis SET NX with a TTL. The TTL bounds how long a
// crashed run can block its successors.
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	log    *slog.Logger
}

// NewRedis connects to redis at addr and checks the connection.
func NewRedis(ctx context.Context, addr, password string, db int, ttl time.Duration, logger *slog.Logger) (*Redis, error) {
	if addr == "" {
		return nil, errors.New("redis address is empty")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	if logger == nil {
		logger = logging.Discard()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &Redis{
		rdb:    rdb,
		prefix: "syncer:lock:",
		ttl:    ttl,
		log:    logger,
	}, nil
}

type redisLock struct {
	r     *Redis
	key   string
	token string
}

// Acquire takes the lock for name or returns ErrLocked.
func (r *Redis) Acquire(ctx context.Context, name string) (Lock, error) {
	key := r.prefix + name
	token := uuid.NewString()

	ok, err := r.rdb.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: %w", name, ErrLocked)
	}
	r.log.Debug(fmt.Sprintf("acquired run lock %s", key))
	return &redisLock{r: r, key: key, token: token}, nil
}

// Release deletes the lock if it is still ours.
func (l *redisLock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.r.rdb, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("release %s: %w", l.key, ErrNotHeld)
	}
	l.r.log.Debug(fmt.Sprintf("released run lock %s", l.key))
	return nil
}

// Close closes the redis client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
