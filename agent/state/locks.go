package state

import (
	"context"
	"sync"
)

// SessionLocks hands out one mutex per session key. Entries are dropped when the
// last holder or waiter releases, so the map only tracks keys in use.
type SessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	ch   chan struct{} // capacity 1; a token in the channel means held
	refs int
}

func NewSessionLocks() *SessionLocks {
	return &SessionLocks{locks: make(map[string]*sessionLock)}
}

// Lock blocks until the key is free or ctx is done. The returned func releases it.
func (l *SessionLocks) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	sl, ok := l.locks[key]
	if !ok {
		sl = &sessionLock{ch: make(chan struct{}, 1)}
		l.locks[key] = sl
	}
	sl.refs++
	l.mu.Unlock()

	select {
	case sl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, sl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-sl.ch
			l.release(key, sl)
		})
	}, nil
}

func (l *SessionLocks) release(key string, sl *sessionLock) {
	l.mu.Lock()
	sl.refs--
	if sl.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// Active reports how many keys are currently held or awaited.
func (l *SessionLocks) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
