// Package lock holds the mutual-exclusion contracts of the import pipeline:
// per-client serialization of reconcile steps and the guard that keeps an
// audit from running alongside an import.
package lock

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrLockNotAcquired = errors.New("client lock not acquired")
	ErrGuardBusy       = errors.New("store is busy with another run")
)

// ClientLocker runs fn while holding the lock for key.
type ClientLocker interface {
	WithClientLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// RunGuard lets any number of imports share the store but gives an audit
// exclusive access. Both Begin methods fail fast with ErrGuardBusy.
type RunGuard interface {
	BeginImport(ctx context.Context) (release func(), err error)
	BeginAudit(ctx context.Context) (release func(), err error)
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// KeyedMutex is the in-process ClientLocker.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

func (m *KeyedMutex) WithClientLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.ch }()

	return fn(ctx)
}

// LocalGuard is the in-process RunGuard.
type LocalGuard struct {
	mu       sync.Mutex
	imports  int
	auditing bool
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{}
}

func (g *LocalGuard) BeginImport(_ context.Context) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.auditing {
		return nil, ErrGuardBusy
	}
	g.imports++

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.imports--
			g.mu.Unlock()
		})
	}, nil
}

func (g *LocalGuard) BeginAudit(_ context.Context) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.auditing || g.imports > 0 {
		return nil, ErrGuardBusy
	}
	g.auditing = true

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.auditing = false
			g.mu.Unlock()
		})
	}, nil
}
