// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// ReadPreference picks the node an operation runs on.
type ReadPreference interface {
	WithNode(ctx context.Context, c *Cluster, fn func(*Node) error) error
}

// Nearest tries available nodes in order of connect latency. A connection
// failure moves on to the next node; when every node has failed, it waits
// the retry interval and starts over, up to the cluster's max retries.
type Nearest struct{}

func (Nearest) WithNode(ctx context.Context, c *Cluster, fn func(*Node) error) error {
	var lastErr error
	retries := c.MaxRetries()
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(c.RetryInterval())
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		nodes := c.Nodes(ctx)
		sort.SliceStable(nodes, func(i, j int) bool {
			return nodes[i].Latency() < nodes[j].Latency()
		})
		for _, n := range nodes {
			err := fn(n)
			if err == nil {
				return nil
			}
			if !IsKind(err, KindConnectionFailure) {
				return err
			}
			lastErr = err
		}
	}
	if lastErr == nil {
		return connectionFailure("select node", "", ErrNoNodes)
	}
	return connectionFailure("select node", "", fmt.Errorf("%w: %w", ErrNoNodes, lastErr))
}
