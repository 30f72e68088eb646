// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Id ranges. Request ids fit a signed 32-bit wire integer; synack ids use
// the 4-byte ext field minus its top value.
const (
	maxRequestID uint32 = math.MaxInt32
	maxSynackID  uint32 = math.MaxUint32 - 1
)

// Node is a client to one server. It owns a single connection, the
// registry of calls pending on it, and the node's health state.
type Node struct {
	address  *Address
	cfg      *Config
	adapter  Adapter
	registry *Registry
	pool     *pool
	logger   *zap.Logger
	connect  singleflight.Group

	mu          sync.Mutex
	conn        *Connection
	downAt      time.Time
	latency     time.Duration
	refreshedAt time.Time
	requestID   uint32
	synackID    uint32
}

// NewNode builds a node for addr and resolves it. An address that does not
// resolve leaves the node marked down rather than failing construction.
func NewNode(addr string, cfg *Config) (*Node, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	adapter, err := cfg.Adapters.Get(cfg.Adapter)
	if err != nil {
		return nil, err
	}
	n := &Node{
		address:  NewAddress(addr),
		cfg:      cfg,
		adapter:  adapter,
		registry: NewRegistry(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := n.address.Resolve(ctx, cfg.Resolver); err != nil {
		n.warn("could not resolve IP or UNIX path", err)
		n.Down()
	}
	n.pool = newPool(n.ID(), cfg.PoolSize, cfg.Timeout)
	n.logger = cfg.Logger.With(zap.String("node", n.ID()))
	return n, nil
}

// ID is the node identity: its resolved address.
func (n *Node) ID() string { return n.address.Resolved() }

func (n *Node) Address() *Address { return n.address }

func (n *Node) Adapter() Adapter { return n.adapter }

func (n *Node) String() string { return "<Node resolved_address=" + n.ID() + ">" }

// Connect opens a fresh connection, replacing any existing one. On success
// the node is no longer down and its latency is the time the dial took.
func (n *Node) Connect(ctx context.Context) error {
	_, err, _ := n.connect.Do("connect", func() (interface{}, error) {
		return n.dial(ctx)
	})
	return err
}

func (n *Node) dial(ctx context.Context) (*Connection, error) {
	start := time.Now()
	_ = n.Disconnect()
	if err := n.address.Resolve(ctx, n.cfg.Resolver); err != nil {
		n.cfg.Metrics.connectionFailure(n.ID())
		return nil, err
	}
	c, err := dialConnection(ctx, n.address, n.cfg.Dial, n.cfg.TLSConfig, connHandler{
		addr:      n.ID(),
		adapter:   n.adapter,
		adapters:  n.cfg.Adapters,
		registry:  n.registry,
		onMessage: n.handleMessage,
		onClose:   n.cleanup,
		timeout:   n.cfg.Timeout,
		logger:    n.cfg.Logger,
	})
	if err != nil {
		n.cfg.Metrics.connectionFailure(n.ID())
		return nil, err
	}
	n.mu.Lock()
	n.conn = c
	n.latency = time.Since(start)
	n.downAt = time.Time{}
	n.mu.Unlock()
	return c, nil
}

// Connected reports whether the node holds a live connection.
func (n *Node) Connected() bool {
	n.mu.Lock()
	c := n.conn
	n.mu.Unlock()
	return c != nil && c.Alive()
}

// Disconnect closes the current connection, failing its pending calls.
func (n *Node) Disconnect() error {
	n.mu.Lock()
	c := n.conn
	n.conn = nil
	n.mu.Unlock()
	if c != nil {
		return c.Close()
	}
	return nil
}

// Down marks the node down now and drops its connection.
func (n *Node) Down() {
	n.mu.Lock()
	n.downAt = n.cfg.Now()
	n.latency = 0
	n.mu.Unlock()
	_ = n.Disconnect()
}

// DownAt returns when the node went down and whether it is down.
func (n *Node) DownAt() (time.Time, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.downAt, !n.downAt.IsZero()
}

func (n *Node) IsDown() bool {
	_, down := n.DownAt()
	return down
}

func (n *Node) Latency() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.latency
}

func (n *Node) RefreshedAt() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.refreshedAt
}

// NeedsRefresh reports whether the node was last refreshed before t.
func (n *Node) NeedsRefresh(t time.Time) bool {
	r := n.RefreshedAt()
	return r.IsZero() || r.Before(t)
}

// Pending returns the number of calls awaiting a reply.
func (n *Node) Pending() int { return n.registry.Len() }

// EnsureConnected connects if needed and runs fn on the live connection.
// Failures go through the failover strategy for their kind instead of being
// returned directly.
func (n *Node) EnsureConnected(ctx context.Context, fn func(*Connection) error) error {
	release, err := n.pool.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	attempt := func() error {
		c, err := n.connection(ctx)
		if err != nil {
			return err
		}
		return fn(c)
	}
	err = attempt()
	if err == nil || isContextError(err) {
		return err
	}
	return StrategyFor(err).Execute(n, err, attempt)
}

func (n *Node) connection(ctx context.Context) (*Connection, error) {
	n.mu.Lock()
	c := n.conn
	n.mu.Unlock()
	if c != nil && c.Alive() {
		return c, nil
	}
	v, err, _ := n.connect.Do("connect", func() (interface{}, error) {
		return n.dial(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Connection), nil
}

// Request sends method(params...) and returns the future for its Response.
func (n *Node) Request(ctx context.Context, method string, params ...interface{}) (*Future, error) {
	var f *Future
	err := n.EnsureConnected(ctx, func(c *Connection) error {
		f = NewFuture()
		f.name = method
		return n.process(ctx, c, &Request{ID: n.nextRequestID(), Method: method, Params: params}, f)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Notify sends a one-way message.
func (n *Node) Notify(ctx context.Context, method string, params ...interface{}) error {
	return n.EnsureConnected(ctx, func(c *Connection) error {
		return n.process(ctx, c, &Notify{Method: method, Params: params}, nil)
	})
}

// Synchronize sends the node's adapter name and returns the future for the
// peer's Acknowledge.
func (n *Node) Synchronize(ctx context.Context) (*Future, error) {
	var f *Future
	err := n.EnsureConnected(ctx, func(c *Connection) error {
		f = NewFuture()
		f.name = "synchronize"
		return n.process(ctx, c, &Synchronize{ID: n.nextSynackID(), Adapter: n.adapter.Name()}, f)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Refresh re-resolves the address and runs a synack exchange bounded by the
// configured timeout. A missing or negative acknowledgement marks the node
// down; connection failures are returned.
func (n *Node) Refresh(ctx context.Context) error {
	if err := n.address.Resolve(ctx, n.cfg.Resolver); err != nil {
		n.warn("could not resolve IP or UNIX path", err)
		n.Down()
		return err
	}

	f, err := n.Synchronize(ctx)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()
	msg, err := f.Value(wctx)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return ctx.Err()
	case !isContextError(err):
		return err
	}
	if ack, ok := msg.(*Acknowledge); ok && ack.Ready {
		n.mu.Lock()
		n.refreshedAt = n.cfg.Now()
		n.mu.Unlock()
		return nil
	}
	n.Down()
	return nil
}

func (n *Node) process(ctx context.Context, c *Connection, msg Message, f *Future) error {
	n.cfg.Metrics.message("out", msg)
	return n.cfg.Instrumenter.Instrument(Event{
		Topic:    TopicOperations,
		Node:     n.ID(),
		Messages: []Message{msg},
	}, func() error {
		return c.Write(ctx, []operation{{msg: msg, future: f}})
	})
}

// handleMessage runs on the reader goroutine for every decoded message.
func (n *Node) handleMessage(msg Message) {
	n.cfg.Metrics.message("in", msg)
	_ = n.cfg.Instrumenter.Instrument(Event{
		Topic:    TopicOperations,
		Node:     n.ID(),
		Messages: []Message{msg},
	}, func() error {
		r, ok := msg.(Reply)
		if !ok {
			n.logger.Debug("ignoring unsolicited message", zap.Stringer("message", msg))
			return nil
		}
		f := r.Lookup(n.registry)
		if f == nil {
			return nil
		}
		if err := r.Signal(f); err != nil {
			return err
		}
		n.cfg.Metrics.call(f.name, f.Runtime())
		return nil
	})
}

// cleanup runs once per connection when it terminates.
// The registry is flushed while n.conn still points at the dead connection:
// a concurrent dial has to close it first, which waits for this to return,
// so no future attached on the next connection is failed by this flush.
func (n *Node) cleanup(c *Connection, cause error) {
	var flushErr error = connectionFailure("read", n.ID(), errors.New("socket closed"))
	if IsKind(cause, KindConnectionFailure) {
		flushErr = cause
	} else if cause != nil {
		flushErr = connectionFailure("read", n.ID(), cause)
	}
	if flushed := n.registry.Flush(flushErr); flushed > 0 {
		n.logger.Warn("flushed pending calls", zap.Int("count", flushed), zap.Error(cause))
	}

	n.mu.Lock()
	if n.conn == c {
		n.conn = nil
	}
	n.refreshedAt = time.Time{}
	n.mu.Unlock()
}

func (n *Node) nextRequestID() uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.requestID
	if n.requestID >= maxRequestID {
		n.requestID = 0
	} else {
		n.requestID++
	}
	return id
}

func (n *Node) nextSynackID() uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.synackID
	if n.synackID >= maxSynackID {
		n.synackID = 0
	} else {
		n.synackID++
	}
	return id
}

func (n *Node) warn(note string, err error) {
	_ = n.cfg.Instrumenter.Instrument(Event{Topic: TopicWarn, Node: n.address.Original(), Note: note}, func() error {
		return err
	})
}
