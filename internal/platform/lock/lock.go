// Package lock provides per-key critical sections. The evaluator uses them to
// serialize escalation of one alert subject and BCMA uses them to serialize
// administrations of one medication.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotAcquired is returned when a lock could not be taken before the
// context or the wait budget ran out.
var ErrNotAcquired = errors.New("lock not acquired")

// Unlock releases a held lock. It is safe to call more than once.
type Unlock func()

type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// Local is an in-process Locker backed by one mutex per key. Entries are
// dropped once no goroutine holds or waits for them.
type Local struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{locks: make(map[string]*entry)}
}

func (l *Local) Lock(ctx context.Context, key string) (Unlock, error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e, false)
		return nil, errors.Join(ErrNotAcquired, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, e, true) })
	}, nil
}

func (l *Local) release(key string, e *entry, held bool) {
	if held {
		<-e.ch
	}
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// Len reports how many keys currently have holders or waiters.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
