package lib

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrTimeout = errors.New("lock timeout")

// Mutex is a channel-based mutex that supports timeouts and context cancellation
type Mutex struct {
	ch chan struct{}
}

func NewMutex() Mutex {
	return Mutex{
		ch: make(chan struct{}, 1),
	}
}

func (m Mutex) Lock() {
	m.ch <- struct{}{}
}

func (m Mutex) LockTimeout(t time.Duration) error {
	if t == 0 {
		select {
		case m.ch <- struct{}{}:
			return nil
		default:
			return ErrTimeout
		}
	}

	timer := time.NewTimer(t)
	defer timer.Stop()

	select {
	case m.ch <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrTimeout
	}
}

func (m Mutex) LockCtx(ctx context.Context) error {
	select {
	case m.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unlock of an unlocked mutex is a no-op
func (m Mutex) Unlock() {
	select {
	case <-m.ch:
	default:
	}
}

// KeyedMutex provides a mutex per string key. The per-key entry is released
// when nobody holds or awaits it.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	m    Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		locks: make(map[string]*keyedLock),
	}
}

// Lock blocks until the key lock is acquired and returns the unlock function
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{m: NewMutex()}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.m.Lock()

	return func() {
		l.m.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// LockCtx is Lock bounded by context cancellation
func (k *KeyedMutex) LockCtx(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{m: NewMutex()}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	release := func() {
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}

	if err := l.m.LockCtx(ctx); err != nil {
		release()
		return nil, err
	}

	return func() {
		l.m.Unlock()
		release()
	}, nil
}
