// Package limiter bounds in-flight requests per backend.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrBusy is returned when the caller's context ends before a slot frees up.
var ErrBusy = errors.New("backend busy")

// Local hands out a fixed number of in-process slots per key. Callers over
// the limit wait their turn.
type Local struct {
	maxInflight int
	mu          sync.Mutex
	sem         map[string]chan struct{}
}

// New returns a limiter with maxInflight slots per key. A non-positive
// value means unlimited.
func New(maxInflight int) *Local {
	return &Local{maxInflight: maxInflight, sem: map[string]chan struct{}{}}
}

// Acquire blocks until a slot for key is free or ctx is done.
// The returned release function is safe to call more than once.
func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	if l == nil || l.maxInflight <= 0 {
		return func() {}, nil
	}
	ch := l.slots(key)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return func() {}, fmt.Errorf("%w: %v", ErrBusy, ctx.Err())
	}
}

func (l *Local) slots(key string) chan struct{} {
	key = strings.ToLower(key)
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.sem[key]
	if !ok {
		ch = make(chan struct{}, l.maxInflight)
		l.sem[key] = ch
	}
	return ch
}

// Inflight reports the slots currently held for key.
func (l *Local) Inflight(key string) int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if ch, ok := l.sem[strings.ToLower(key)]; ok {
		return len(ch)
	}
	return 0
}
