// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Cluster is the set of known nodes and the policy deciding which of them
// are eligible for use.
type Cluster struct {
	cfg    *Config
	logger *zap.Logger

	mu    sync.Mutex
	seeds []*Node
}

// NewCluster builds a node for every host. Hosts that do not resolve are
// kept as down nodes.
func NewCluster(cfg *Config, hosts []string) (*Cluster, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	c := &Cluster{cfg: cfg, logger: cfg.Logger}
	for _, host := range hosts {
		n, err := NewNode(host, cfg)
		if err != nil {
			return nil, err
		}
		c.addSeed(n)
	}
	return c, nil
}

// Seeds returns every known node.
func (c *Cluster) Seeds() []*Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Node(nil), c.seeds...)
}

func (c *Cluster) DownInterval() time.Duration { return c.cfg.DownInterval }

func (c *Cluster) RefreshInterval() time.Duration { return c.cfg.RefreshInterval }

func (c *Cluster) RetryInterval() time.Duration { return c.cfg.RetryInterval }

// MaxRetries is the configured value, or the number of known nodes.
func (c *Cluster) MaxRetries() int {
	if c.cfg.MaxRetries > 0 {
		return c.cfg.MaxRetries
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seeds)
}

// Nodes returns the nodes available for use. Nodes whose down interval has
// elapsed, and nodes not refreshed within the refresh interval, are
// refreshed first; nodes still down afterwards are left out.
func (c *Cluster) Nodes(ctx context.Context) []*Node {
	now := c.cfg.Now()
	var stale, available []*Node
	for _, n := range c.Seeds() {
		if c.refreshable(n, now) {
			stale = append(stale, n)
		} else {
			available = append(available, n)
		}
	}

	if len(stale) > 0 {
		refreshed, err := c.Refresh(ctx, stale...)
		if err != nil {
			c.logger.Warn("cluster refresh", zap.Error(err))
		}
		available = append(available, refreshed...)
	}

	nodes := available[:0]
	for _, n := range available {
		if !n.IsDown() {
			nodes = append(nodes, n)
		}
	}
	c.observeDown()
	return nodes
}

// Refresh refreshes the given nodes, or every seed when none are given, and
// returns those that answered. Unknown nodes are added to the seeds.
// Connection failures only drop the node from the result; other errors are
// collected and returned after the pass completes.
func (c *Cluster) Refresh(ctx context.Context, nodes ...*Node) ([]*Node, error) {
	if len(nodes) == 0 {
		nodes = c.Seeds()
	}

	var (
		refreshed []*Node
		errs      error
		seen      = make(map[string]bool, len(nodes))
		worklist  = append([]*Node(nil), nodes...)
	)
	for len(worklist) > 0 {
		n := worklist[0]
		worklist = worklist[1:]
		if seen[n.ID()] {
			continue
		}
		seen[n.ID()] = true
		c.addSeed(n)

		if err := n.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return refreshed, multierr.Append(errs, ctx.Err())
			}
			if !IsKind(err, KindConnectionFailure) {
				errs = multierr.Append(errs, fmt.Errorf("refresh %s: %w", n.ID(), err))
			}
			continue
		}
		refreshed = append(refreshed, n)
	}
	return refreshed, errs
}

// Disconnect closes every node's connection.
func (c *Cluster) Disconnect() error {
	var errs error
	for _, n := range c.Seeds() {
		errs = multierr.Append(errs, n.Disconnect())
	}
	return errs
}

func (c *Cluster) observeDown() {
	down := 0
	for _, n := range c.Seeds() {
		if n.IsDown() {
			down++
		}
	}
	c.cfg.Metrics.nodesDown(down)
}

func (c *Cluster) addSeed(n *Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.seeds {
		if s == n || s.ID() == n.ID() {
			return
		}
	}
	c.seeds = append(c.seeds, n)
}

// refreshable reports whether n has been down longer than the down interval
// or, when up, has not been refreshed within the refresh interval.
func (c *Cluster) refreshable(n *Node, now time.Time) bool {
	if downAt, down := n.DownAt(); down {
		return downAt.Before(now.Add(-c.cfg.DownInterval))
	}
	return n.NeedsRefresh(now.Add(-c.cfg.RefreshInterval))
}
