package engine

import (
	"context"
	"fmt"
	"sync"
)

// Locker serializes the balance writers of a single user. Different users
// never wait on each other.
type Locker interface {
	Acquire(ctx context.Context, userID string) (release func(), err error)
}

type userLock struct {
	sem  chan struct{}
	refs int
}

type keyedLocker struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

// NewKeyedLocker returns an in-process Locker
func NewKeyedLocker() Locker {
	return &keyedLocker{
		locks: make(map[string]*userLock),
	}
}

func (l *keyedLocker) Acquire(ctx context.Context, userID string) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[userID]
	if !ok {
		lock = &userLock{sem: make(chan struct{}, 1)}
		l.locks[userID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case lock.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(userID, lock)
		return nil, fmt.Errorf("timed out waiting for lock of user %s: %w", userID, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lock.sem
			l.unref(userID, lock)
		})
	}, nil
}

func (l *keyedLocker) unref(userID string, lock *userLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, userID)
	}
}
