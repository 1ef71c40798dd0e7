package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisLocker.
type RedisOptions struct {
	// Prefix is prepended to every key.
	Prefix string
	// Expiry is the lease of a lock. Held locks are extended every Expiry/2.
	Expiry time.Duration
	// Tries and RetryDelay bound how long Lock waits for a held key.
	Tries      int
	RetryDelay time.Duration
}

// DefaultRedisOptions waits up to a minute for a held key.
func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		Prefix:     "accountantbot:lock:",
		Expiry:     30 * time.Second,
		Tries:      600,
		RetryDelay: 100 * time.Millisecond,
	}
}

// RedisLocker is a Locker shared by every coordinator instance using the
// same Redis, built on the redsync RedLock implementation.
type RedisLocker struct {
	rs   *redsync.Redsync
	opts RedisOptions
}

var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker creates a locker on client.
func NewRedisLocker(client redis.UniversalClient, opts RedisOptions) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client is nil")
	}
	def := DefaultRedisOptions()
	if opts.Expiry <= 0 {
		opts.Expiry = def.Expiry
	}
	if opts.Tries < 1 {
		opts.Tries = def.Tries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	return &RedisLocker{rs: redsync.New(goredis.NewPool(client)), opts: opts}, nil
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (Handle, error) {
	name := l.opts.Prefix + key
	mutex := l.rs.NewMutex(name,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("failed to lock %s: %w", key, ctxErr)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrBusy, key, err)
	}

	h := &redisHandle{
		mutex: mutex,
		name:  name,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		lost:  make(chan struct{}),
	}
	go h.keepAlive(l.opts.Expiry / 2)
	return h, nil
}

type redisHandle struct {
	mutex *redsync.Mutex
	name  string
	stop  chan struct{}
	done  chan struct{}
	lost  chan struct{}
	once  sync.Once
}

// keepAlive extends the lease while the holder is still working, e.g.
// waiting for a settlement to confirm. A failed extension means another
// instance may take the key once the lease runs out, so the holder is told
// to stop.
func (h *redisHandle) keepAlive(every time.Duration) {
	defer close(h.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			if ok, err := h.mutex.Extend(); err != nil || !ok {
				slog.Error("Lock lease lost", "lock", h.name, "error", err)
				close(h.lost)
				return
			}
		}
	}
}

func (h *redisHandle) Lost() <-chan struct{} {
	return h.lost
}

func (h *redisHandle) Unlock(ctx context.Context) error {
	var err error
	h.once.Do(func() {
		close(h.stop)
		<-h.done
		ok, uerr := h.mutex.UnlockContext(ctx)
		if uerr != nil {
			err = fmt.Errorf("failed to unlock %s: %w", h.name, uerr)
			return
		}
		if !ok {
			err = fmt.Errorf("lock %s was not held or already expired", h.name)
		}
	})
	return err
}
