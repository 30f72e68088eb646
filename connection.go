// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const readChunk = 4096

// DialFunc opens the raw byte stream to a node.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// operation pairs an outbound message with the future awaiting its reply.
// future is nil for one-way messages.
type operation struct {
	msg    Message
	future *Future
}

type writeRequest struct {
	ops    []operation
	result chan error
}

// connHandler is the owning node's side of a connection.
type connHandler struct {
	addr      string
	adapter   Adapter
	adapters  *AdapterRegistry
	registry  *Registry
	onMessage func(Message)
	onClose   func(c *Connection, cause error)
	timeout   time.Duration
	logger    *zap.Logger
}

// Connection is one live socket to a node with its writer and reader
// goroutines. The two terminate together: whichever fails first closes the
// socket and the other follows.
type Connection struct {
	id      string
	conn    net.Conn
	h       connHandler
	writes  chan *writeRequest
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	cause   error
	started time.Time
}

func dialConnection(ctx context.Context, addr *Address, dial DialFunc, tlsConfig *tls.Config, h connHandler) (*Connection, error) {
	network, address := addr.Network()
	if dial == nil {
		d := &net.Dialer{Timeout: h.timeout}
		dial = d.DialContext
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	raw, err := dial(ctx, network, address)
	if err != nil {
		return nil, connectionFailure("connect", h.addr, err)
	}
	if tlsConfig != nil {
		cfg := tlsConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = addr.Host()
		}
		tc := tls.Client(raw, cfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, connectionFailure("tls handshake", h.addr, err)
		}
		raw = tc
	}
	return newConnection(raw, h), nil
}

func newConnection(raw net.Conn, h connHandler) *Connection {
	c := &Connection{
		id:      uuid.NewString(),
		conn:    raw,
		h:       h,
		writes:  make(chan *writeRequest),
		done:    make(chan struct{}),
		started: time.Now(),
	}
	c.h.logger = h.logger.With(zap.String("conn", c.id), zap.String("node", h.addr))
	go c.writeLoop()
	go c.readLoop()
	return c
}

// ID identifies the connection in logs.
func (c *Connection) ID() string { return c.id }

// Alive reports whether both goroutines are still running. The reader sees
// end-of-stream as soon as the peer closes, so this needs no extra socket check.
func (c *Connection) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Done is closed when the connection terminates.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Err returns why the connection terminated, or nil while alive.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

// Write hands ops to the writer goroutine and waits until they are on the
// wire. Futures are attached to the registry before the bytes are written.
func (c *Connection) Write(ctx context.Context, ops []operation) error {
	req := &writeRequest{ops: ops, result: make(chan error, 1)}
	select {
	case c.writes <- req:
	case <-c.done:
		return c.closedError("write")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.result:
		return err
	case <-c.done:
		// The writer reports before terminating, so prefer its answer.
		select {
		case err := <-req.result:
			return err
		default:
			return c.closedError("write")
		}
	}
}

// Close terminates the connection and flushes pending futures.
func (c *Connection) Close() error {
	c.terminate(connectionFailure("close", c.h.addr, ErrClosed))
	return nil
}

func (c *Connection) writeLoop() {
	var buf []byte
	for {
		select {
		case <-c.done:
			return
		case req := <-c.writes:
			var err error
			buf = buf[:0]
			for _, op := range req.ops {
				if buf, err = Encode(op.msg, c.h.adapter, buf); err != nil {
					break
				}
			}
			if err != nil {
				req.result <- err
				continue
			}
			if err := c.attach(req.ops); err != nil {
				req.result <- err
				return
			}
			if c.h.timeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.h.timeout))
			}
			if _, err := c.conn.Write(buf); err != nil {
				werr := connectionFailure("write", c.h.addr, err)
				c.h.logger.Warn("writer terminating", zap.Error(err))
				req.result <- werr
				c.terminate(werr)
				return
			}
			req.result <- nil
		}
	}
}

// attach registers the futures of ops. If the connection terminated in the
// meantime its flush may already have run, so the futures are taken back
// out and failed here instead of lingering in the registry.
func (c *Connection) attach(ops []operation) error {
	for _, op := range ops {
		if a, ok := op.msg.(Attachable); ok && op.future != nil {
			a.Attach(c.h.registry, op.future)
		}
	}
	select {
	case <-c.done:
	default:
		return nil
	}
	err := c.closedError("write")
	for _, op := range ops {
		if a, ok := op.msg.(Attachable); ok && op.future != nil {
			if f := a.Detach(c.h.registry); f != nil {
				_ = f.Signal(FutureValue{Err: err})
			}
		}
	}
	return err
}

func (c *Connection) readLoop() {
	parser := NewParser(c.h.adapter, c.h.adapters)
	chunk := make([]byte, readChunk)
	for {
		n, err := c.conn.Read(chunk)
		if n > 0 {
			parser.Feed(chunk[:n])
			if perr := parser.Drain(c.h.onMessage); perr != nil {
				c.h.logger.Error("reader terminating on malformed input", zap.Error(perr))
				c.terminate(perr)
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("socket closed")
			}
			select {
			case <-c.done:
			default:
				c.h.logger.Warn("reader terminating", zap.Error(err))
			}
			c.terminate(connectionFailure("read", c.h.addr, err))
			return
		}
	}
}

// terminate runs once: it records the cause, stops both goroutines, closes
// the socket and lets the node flush its registry. Callers return only after
// the flush has happened.
func (c *Connection) terminate(cause error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.cause = cause
		c.mu.Unlock()
		close(c.done)
		_ = c.conn.Close()
		if c.h.onClose != nil {
			c.h.onClose(c, cause)
		}
	})
}

func (c *Connection) closedError(op string) error {
	if err := c.Err(); err != nil && IsKind(err, KindConnectionFailure) {
		return err
	}
	return connectionFailure(op, c.h.addr, ErrClosed)
}
