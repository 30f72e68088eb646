// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

// peerFunc answers one message received by a simulated server. Returning
// hangup closes the server side of the connection.
type peerFunc func(m Message) (replies []Message, hangup bool)

// echoPeer acknowledges every synchronize and answers requests:
// "fail" with an error, "user" with a map, anything else with its first
// param.
func echoPeer(m Message) ([]Message, bool) {
	switch m := m.(type) {
	case *Synchronize:
		return []Message{&Acknowledge{ID: m.ID, Ready: true}}, false
	case *Request:
		switch m.Method {
		case "fail":
			return []Message{&Response{ID: m.ID, Error: "boom"}}, false
		case "user":
			return []Message{&Response{ID: m.ID, Result: map[string]interface{}{"name": "ada", "age": 36}}}, false
		case "hangup":
			return nil, true
		case "silent":
			return nil, false
		}
		var result interface{}
		if len(m.Params) > 0 {
			result = m.Params[0]
		}
		return []Message{&Response{ID: m.ID, Result: result}}, false
	}
	return nil, false
}

// servePeer runs a simulated server on conn until either side closes.
func servePeer(conn net.Conn, a Adapter, handle peerFunc, seen chan<- Message) {
	defer conn.Close()
	p := NewParser(a, DefaultAdapters())
	chunk := make([]byte, readChunk)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			p.Feed(chunk[:n])
			var (
				out    []byte
				hangup bool
			)
			_ = p.Drain(func(m Message) {
				if seen != nil {
					select {
					case seen <- m:
					default:
					}
				}
				replies, h := handle(m)
				hangup = hangup || h
				for _, r := range replies {
					out, _ = Encode(r, a, out)
				}
			})
			if hangup {
				return
			}
			if len(out) > 0 {
				if _, err := conn.Write(out); err != nil {
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// pipeDialer hands out in-memory connections to simulated servers.
type pipeDialer struct {
	adapter Adapter
	handle  peerFunc
	seen    chan Message

	mu       sync.Mutex
	dials    map[string]int
	failures map[string]int // remaining failed dials per address, -1 for all
}

func newPipeDialer(a Adapter, handle peerFunc) *pipeDialer {
	return &pipeDialer{
		adapter:  a,
		handle:   handle,
		seen:     make(chan Message, 64),
		dials:    make(map[string]int),
		failures: make(map[string]int),
	}
}

func (d *pipeDialer) fail(address string, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[address] = n
}

func (d *pipeDialer) count(address string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[address]
}

func (d *pipeDialer) Dial(_ context.Context, _, address string) (net.Conn, error) {
	d.mu.Lock()
	d.dials[address]++
	left := d.failures[address]
	if left > 0 {
		d.failures[address] = left - 1
	}
	d.mu.Unlock()
	if left != 0 {
		return nil, errors.New("connection refused")
	}

	client, server := net.Pipe()
	go servePeer(server, d.adapter, d.handle, d.seen)
	return client, nil
}

func testConfig(d *pipeDialer, opts ...DialOption) *Config {
	cfg := DefaultConfig()
	cfg.Timeout = time.Second
	cfg.RetryInterval = time.Millisecond
	cfg.Dial = d.Dial
	if d.adapter != nil {
		cfg.Adapter = d.adapter.Name()
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
