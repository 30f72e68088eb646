// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

import (
	"sync"
)

// Registry holds the pending futures of one node, keyed by channel and
// message id. Get removes what it returns, so a future is handed out at
// most once: either to a matching reply or to Flush, never both.
type Registry struct {
	mu       sync.Mutex
	channels map[Channel]map[uint32]*Future
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[Channel]map[uint32]*Future)}
}

func (r *Registry) Set(ch Channel, id uint32, f *Future) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.channels[ch]
	if !ok {
		m = make(map[uint32]*Future)
		r.channels[ch] = m
	}
	m[id] = f
}

// Get removes and returns the future pending under (ch, id), or nil.
func (r *Registry) Get(ch Channel, id uint32) *Future {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.channels[ch]
	if !ok {
		return nil
	}
	f, ok := m[id]
	if !ok {
		return nil
	}
	delete(m, id)
	return f
}

// Flush fails every pending future with err and empties the registry.
// It returns the number of futures flushed.
func (r *Registry) Flush(err error) int {
	r.mu.Lock()
	channels := r.channels
	r.channels = make(map[Channel]map[uint32]*Future)
	r.mu.Unlock()

	n := 0
	for _, m := range channels {
		for _, f := range m {
			_ = f.Signal(FutureValue{Err: err})
			n++
		}
	}
	return n
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.channels {
		n += len(m)
	}
	return n
}

func (r *Registry) Empty() bool {
	return r.Len() == 0
}
