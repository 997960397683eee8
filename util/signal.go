package util

import (
	"context"
	"sync"
)

// Signal is a one-shot broadcast event, the Go equivalent of the have-key
// wait/notify primitive the transfer pipeline needs: many goroutines can
// wait on it, a single Fire call wakes all of them, and firing twice is a
// no-op rather than a panic.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// NewSignal returns an unfired Signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Fire wakes every current and future waiter. Safe to call more than once
// and safe to call concurrently.
func (s *Signal) Fire() {
	s.once.Do(func() { close(s.ch) })
}

// Fired reports whether Fire has already been called.
func (s *Signal) Fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed once Fire has been called.
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

// Wait blocks until Fire is called or ctx is cancelled.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
