// Package lock provides mutual exclusion keyed by string, used to serialize
// every mutation of a single split.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrBusy is returned when a lock could not be acquired within its wait bound.
	ErrBusy = errors.New("lock busy")
	// ErrLockLost is the cancellation cause of a WithLock context whose lock
	// stopped being held before fn returned.
	ErrLockLost = errors.New("lock lost")
)

// Handle is a held lock.
type Handle interface {
	// Lost is closed if the lock stops being held before Unlock, e.g. when a
	// lease could not be renewed. A nil channel means the lock cannot be lost.
	Lost() <-chan struct{}
	Unlock(ctx context.Context) error
}

// Locker acquires exclusive locks by key. Lock blocks until the lock is held,
// ctx is done, or the implementation gives up with ErrBusy.
type Locker interface {
	Lock(ctx context.Context, key string) (Handle, error)
}

// WithLock runs fn while holding key. The context passed to fn is cancelled
// with ErrLockLost if the lock is lost midway.
func WithLock(ctx context.Context, l Locker, key string, fn func(ctx context.Context) error) error {
	h, err := l.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		// Unlock with a fresh context: a cancelled caller must still release.
		_ = h.Unlock(context.WithoutCancel(ctx))
	}()

	lost := h.Lost()
	if lost == nil {
		return fn(ctx)
	}

	held, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		select {
		case <-lost:
			cancel(ErrLockLost)
		case <-held.Done():
		}
	}()

	err = fn(held)
	if err != nil && errors.Is(context.Cause(held), ErrLockLost) {
		return fmt.Errorf("%w: %s: %w", ErrLockLost, key, err)
	}
	return err
}

type slot struct {
	ch   chan struct{}
	refs int
}

// KeyedMutex is an in-process Locker. Slots are reference counted and freed
// once nobody holds or waits for a key.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*slot
}

var _ Locker = (*KeyedMutex)(nil)

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]*slot)}
}

func (m *KeyedMutex) Lock(ctx context.Context, key string) (Handle, error) {
	m.mu.Lock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	m.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return &localHandle{m: m, key: key, s: s}, nil
	case <-ctx.Done():
		m.release(key, s)
		return nil, fmt.Errorf("failed to lock %s: %w", key, ctx.Err())
	}
}

func (m *KeyedMutex) release(key string, s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}

// size reports how many keys currently have holders or waiters.
func (m *KeyedMutex) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

type localHandle struct {
	m    *KeyedMutex
	key  string
	s    *slot
	once sync.Once
}

func (h *localHandle) Lost() <-chan struct{} {
	return nil
}

func (h *localHandle) Unlock(context.Context) error {
	h.once.Do(func() {
		<-h.s.ch
		h.m.release(h.key, h.s)
	})
	return nil
}
