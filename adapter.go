// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

import (
	"fmt"
	"sort"
	"sync"
)

// Adapter names shipped with the package.
const (
	AdapterMsgpack = "msgpack"
	AdapterJSON    = "json"
)

// DefaultAdapter is used when no adapter is configured.
const DefaultAdapter = AdapterMsgpack

// Adapter packs and unpacks adapter-native payloads (requests, responses
// and notifications). Ext-framed control messages never pass through it.
type Adapter interface {
	// Name is the canonical name exchanged in Synchronize messages.
	Name() string

	// Pack appends the encoding of v to dst.
	Pack(v interface{}, dst []byte) ([]byte, error)

	// Unpack decodes one complete value from data.
	Unpack(data []byte) (interface{}, error)

	// NewUnpacker opens an incremental reader over src.
	NewUnpacker(src *Buffer) Unpacker
}

// Unpacker decodes consecutive values from a shared Buffer using its own
// cursor. Read returns ErrNeedMore without moving the cursor when the
// buffered bytes hold only part of a value.
type Unpacker interface {
	Read() (interface{}, error)
	Pos() int
	Seek(pos int)
}

// SizeHinter is implemented by unpackers that know, after Read returned
// ErrNeedMore, how many bytes from their cursor the pending value needs at
// least. The parser skips decode attempts until that many are buffered.
type SizeHinter interface {
	Need() int
}

// AdapterRegistry maps adapter names and ext heads to adapters. It is built
// once at startup and owned by a Config; lookups are safe for concurrent use.
type AdapterRegistry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	extHeads map[byte]Adapter
}

// NewAdapterRegistry returns an empty registry.
func NewAdapterRegistry() *AdapterRegistry {
	return &AdapterRegistry{
		adapters: make(map[string]Adapter),
		extHeads: make(map[byte]Adapter),
	}
}

// DefaultAdapters returns a registry holding the msgpack and json adapters.
func DefaultAdapters() *AdapterRegistry {
	r := NewAdapterRegistry()
	r.Register(MsgpackAdapter{})
	r.Register(JSONAdapter{})
	return r
}

// Register binds a under its name. The first registration for a name wins.
func (r *AdapterRegistry) Register(a Adapter) Adapter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.adapters[a.Name()]; ok {
		return existing
	}
	r.adapters[a.Name()] = a
	return a
}

// RegisterExtHead binds an ext head byte to a so that ext frames carrying
// that head are decoded through it. Protocol heads are reserved.
func (r *AdapterRegistry) RegisterExtHead(a Adapter, head byte) error {
	if head == HeadSynchronize || head == HeadAcknowledge {
		return fmt.Errorf("ext head %d is reserved for protocol messages", head)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.extHeads[head]; !ok {
		r.extHeads[head] = a
	}
	return nil
}

// Get returns the adapter registered under name.
func (r *AdapterRegistry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, newError(KindInvalidAdapter, "lookup", "", fmt.Errorf("unknown adapter %q", name))
	}
	return a, nil
}

// GetByExtHead returns the adapter bound to head.
func (r *AdapterRegistry) GetByExtHead(head byte) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.extHeads[head]
	if !ok {
		return nil, invalidExt("unknown adapter for ext head %d", head)
	}
	return a, nil
}

// Names returns the registered adapter names in sorted order.
func (r *AdapterRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
