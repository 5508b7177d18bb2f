package service

import (
	"context"
	"sync"
)

// KeyedMutex serializes work per key. Lock waits honour context
// cancellation. Entries are dropped once no goroutine holds or waits for
// the key.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

// Lock acquires key or returns ctx's error.
func (m *KeyedMutex) Lock(ctx context.Context, key string) error {
	m.mu.Lock()
	kl, ok := m.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = kl
	}
	kl.refs++
	m.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		m.release(key, kl)
		return ctx.Err()
	}
}

// Unlock releases key. It must follow a successful Lock.
func (m *KeyedMutex) Unlock(key string) {
	m.mu.Lock()
	kl := m.locks[key]
	m.mu.Unlock()

	<-kl.ch
	m.release(key, kl)
}

func (m *KeyedMutex) release(key string, kl *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(m.locks, key)
	}
}

// Len returns the number of keys currently held or awaited.
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
