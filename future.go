// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

import (
	"context"
	"sync"
	"time"
)

// FutureValue is what a Future resolves to: the reply message, or the error
// that ended the wait (usually a connection failure from a registry flush).
type FutureValue struct {
	Message Message
	Err     error
}

// Future is a single-assignment result cell for one outbound call.
type Future struct {
	mu    sync.Mutex
	start time.Time
	stop  time.Time
	value FutureValue
	done  chan struct{}

	// name labels call duration metrics.
	name string
}

func NewFuture() *Future {
	return &Future{
		start: time.Now(),
		done:  make(chan struct{}),
	}
}

// Signal resolves the future. Only the first call has any effect; later
// calls return ErrFutureSignalled.
func (f *Future) Signal(v FutureValue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
		return ErrFutureSignalled
	default:
	}
	f.value = v
	f.stop = time.Now()
	close(f.done)
	return nil
}

// Done is closed once the future is signalled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Value blocks until the future is signalled or ctx ends. Abandoning the
// wait does not cancel the call; a late signal is simply never read.
func (f *Future) Value(ctx context.Context) (Message, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value.Message, f.value.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Wait is Value bounded by timeout.
func (f *Future) Wait(timeout time.Duration) (Message, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return f.Value(ctx)
}

// Runtime is the time from creation to signal, or to now if unsignalled.
func (f *Future) Runtime() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stop.IsZero() {
		return time.Since(f.start)
	}
	return f.stop.Sub(f.start)
}
