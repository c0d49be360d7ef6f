// Package lock serializes join transactions per device.
package lock

import (
	"context"
	"errors"
	"sync"

	"github.com/lorawan-server/lorawan-join-server/pkg/lorawan"
)

// ErrLockTimeout is returned when a lock could not be acquired before the
// context expired.
var ErrLockTimeout = errors.New("lock: acquire timeout")

// Locker hands out exclusive per-DevEUI locks. The returned function
// releases the lock and must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, devEUI lorawan.EUI64) (func(), error)
}

// KeyedMutex is an in-process Locker.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[lorawan.EUI64]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[lorawan.EUI64]*keyedLock)}
}

// Lock blocks until the lock for devEUI is free or ctx is done.
func (m *KeyedMutex) Lock(ctx context.Context, devEUI lorawan.EUI64) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[devEUI]
	if !ok {
		l = &keyedLock{ch: make(chan struct{}, 1)}
		m.locks[devEUI] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(devEUI, l)
		return nil, errors.Join(ErrLockTimeout, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			m.release(devEUI, l)
		})
	}, nil
}

func (m *KeyedMutex) release(devEUI lorawan.EUI64, l *keyedLock) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(m.locks, devEUI)
	}
}

// Len returns the number of keys currently held or waited on.
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
