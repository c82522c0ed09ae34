// Package lock provides the keyed mutual exclusion used to serialize
// inventory balance updates for one (tenant, site, item).
//
// Local serializes callers inside one process. Redis extends the guarantee
// across processes using bsm/redislock; the store's own atomic balance
// update still backs both.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

// ErrNotObtained is returned when a keyed lock could not be acquired
// within the retry budget.
var ErrNotObtained = errors.New("farmledger: keyed lock not obtained")

// Locker acquires exclusive leases on string keys.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Release(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// In-process
// ──────────────────────────────────────────────────

// Local is an in-process keyed mutex. Entries are reference counted and
// removed once no caller holds or waits on them.
type Local struct {
	mu   sync.Mutex
	keys map[string]*localEntry
}

type localEntry struct {
	ch   chan struct{}
	refs int
}

// NewLocal returns an empty Local locker.
func NewLocal() *Local {
	return &Local{keys: make(map[string]*localEntry)}
}

// Acquire blocks until key is free or ctx is done.
func (l *Local) Acquire(ctx context.Context, key string) (Lease, error) {
	l.mu.Lock()
	e, ok := l.keys[key]
	if !ok {
		e = &localEntry{ch: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return &localLease{owner: l, key: key, entry: e}, nil
	case <-ctx.Done():
		l.unref(key, e)
		return nil, fmt.Errorf("%w: %s: %v", ErrNotObtained, key, ctx.Err())
	}
}

// Keys reports how many keys are currently held or awaited.
func (l *Local) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

func (l *Local) unref(key string, e *localEntry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
	l.mu.Unlock()
}

type localLease struct {
	once  sync.Once
	owner *Local
	key   string
	entry *localEntry
}

func (ll *localLease) Release(context.Context) error {
	ll.once.Do(func() {
		<-ll.entry.ch
		ll.owner.unref(ll.key, ll.entry)
	})
	return nil
}

// ──────────────────────────────────────────────────
// Redis
// ──────────────────────────────────────────────────

// RedisConfig tunes the Redis locker.
type RedisConfig struct {
	// Prefix is prepended to every key.
	Prefix string `json:"prefix" mapstructure:"prefix" yaml:"prefix"`
	// TTL bounds how long a crashed holder can block the key.
	TTL time.Duration `json:"ttl" mapstructure:"ttl" yaml:"ttl"`
	// RetryInterval and MaxRetries shape the linear backoff while waiting.
	RetryInterval time.Duration `json:"retry_interval" mapstructure:"retry_interval" yaml:"retry_interval"`
	MaxRetries    int           `json:"max_retries" mapstructure:"max_retries" yaml:"max_retries"`
}

// DefaultRedisConfig returns the defaults used by NewRedis.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Prefix:        "farmledger:lock:",
		TTL:           30 * time.Second,
		RetryInterval: 50 * time.Millisecond,
		MaxRetries:    100,
	}
}

// Redis is a distributed keyed lock on top of redislock.
type Redis struct {
	client *redislock.Client
	cfg    RedisConfig
}

// NewRedis wraps a redislock client. Zero fields of cfg take their defaults.
func NewRedis(client *redislock.Client, cfg RedisConfig) *Redis {
	def := DefaultRedisConfig()
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	return &Redis{client: client, cfg: cfg}
}

// Acquire obtains key, retrying with linear backoff.
func (r *Redis) Acquire(ctx context.Context, key string) (Lease, error) {
	l, err := r.client.Obtain(ctx, r.cfg.Prefix+key, r.cfg.TTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(r.cfg.RetryInterval), r.cfg.MaxRetries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrNotObtained, key)
	}
	if err != nil {
		return nil, fmt.Errorf("lock: obtain %s: %w", key, err)
	}
	return &redisLease{lock: l}, nil
}

type redisLease struct {
	once sync.Once
	lock *redislock.Lock
	err  error
}

func (rl *redisLease) Release(ctx context.Context) error {
	rl.once.Do(func() {
		err := rl.lock.Release(ctx)
		if err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			rl.err = fmt.Errorf("lock: release %s: %w", rl.lock.Key(), err)
		}
	})
	return rl.err
}
