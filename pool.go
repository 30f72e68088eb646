// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

import (
	"context"
	"fmt"
	"time"
)

// pool bounds the number of operations running against one node at once.
type pool struct {
	addr    string
	slots   chan struct{}
	timeout time.Duration
}

func newPool(addr string, size int, timeout time.Duration) *pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	return &pool{addr: addr, slots: make(chan struct{}, size), timeout: timeout}
}

// acquire takes a slot. It fails with PoolSaturated when no slot frees up
// within the pool timeout, and with PoolTimeout when ctx ends first.
func (p *pool) acquire(ctx context.Context) (release func(), err error) {
	release = func() { <-p.slots }
	select {
	case p.slots <- struct{}{}:
		return release, nil
	default:
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case p.slots <- struct{}{}:
		return release, nil
	case <-timer.C:
		return nil, newError(KindPoolSaturated, "checkout", p.addr,
			fmt.Errorf("all %d slots busy for %s", cap(p.slots), p.timeout))
	case <-ctx.Done():
		return nil, newError(KindPoolTimeout, "checkout", p.addr, ctx.Err())
	}
}

func (p *pool) inUse() int { return len(p.slots) }
