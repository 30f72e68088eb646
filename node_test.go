// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testAddr = "127.0.0.1:7000"

func newTestNode(t *testing.T, d *pipeDialer, opts ...DialOption) *Node {
	t.Helper()
	n, err := NewNode(testAddr, testConfig(d, opts...))
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Disconnect() })
	return n
}

func TestNodeRequestResponse(t *testing.T) {
	for _, a := range []Adapter{MsgpackAdapter{}, JSONAdapter{}} {
		t.Run(a.Name(), func(t *testing.T) {
			n := newTestNode(t, newPipeDialer(a, echoPeer))
			ctx := context.Background()

			f, err := n.Request(ctx, "echo", "hello")
			require.NoError(t, err)
			msg, err := f.Wait(time.Second)
			require.NoError(t, err)

			resp, ok := msg.(*Response)
			require.True(t, ok)
			assert.Equal(t, "hello", resp.Result)
			assert.Nil(t, resp.Error)
			assert.True(t, n.Connected())
			assert.Equal(t, 0, n.Pending())
		})
	}
}

func TestNodeConnectClearsDown(t *testing.T) {
	d := newPipeDialer(MsgpackAdapter{}, echoPeer)
	n := newTestNode(t, d)
	n.Down()
	require.True(t, n.IsDown())

	require.NoError(t, n.Connect(context.Background()))
	assert.False(t, n.IsDown())
	assert.True(t, n.Connected())
	assert.Greater(t, n.Latency(), time.Duration(0))

	d.fail(testAddr, 1)
	err := n.Connect(context.Background())
	assert.True(t, IsKind(err, KindConnectionFailure))
	assert.False(t, n.Connected(), "a failed connect drops the previous connection")
}

func TestNodeRequestIDsAdvance(t *testing.T) {
	n := newTestNode(t, newPipeDialer(MsgpackAdapter{}, echoPeer))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f, err := n.Request(ctx, "echo", i)
		require.NoError(t, err)
		msg, err := f.Wait(time.Second)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), msg.(*Response).ID)
	}
}

func TestNodeNotify(t *testing.T) {
	d := newPipeDialer(JSONAdapter{}, echoPeer)
	n := newTestNode(t, d)

	require.NoError(t, n.Notify(context.Background(), "tick", 1))
	select {
	case m := <-d.seen:
		notify, ok := m.(*Notify)
		require.True(t, ok)
		assert.Equal(t, "tick", notify.Method)
	case <-time.After(time.Second):
		t.Fatal("notify never reached the peer")
	}
	assert.Equal(t, 0, n.Pending())
}

func TestNodeRefresh(t *testing.T) {
	clock := newFakeClock()
	n := newTestNode(t, newPipeDialer(MsgpackAdapter{}, echoPeer), WithClock(clock.Now))

	require.NoError(t, n.Refresh(context.Background()))
	assert.Equal(t, clock.Now(), n.RefreshedAt())
	assert.False(t, n.IsDown())
	assert.False(t, n.NeedsRefresh(clock.Now().Add(-time.Minute)))
}

func TestNodeRefreshNotReady(t *testing.T) {
	notReady := func(m Message) ([]Message, bool) {
		if s, ok := m.(*Synchronize); ok {
			return []Message{&Acknowledge{ID: s.ID, Ready: false}}, false
		}
		return nil, false
	}
	n := newTestNode(t, newPipeDialer(MsgpackAdapter{}, notReady))

	require.NoError(t, n.Refresh(context.Background()))
	assert.True(t, n.IsDown())
	assert.True(t, n.RefreshedAt().IsZero())
}

func TestNodeRefreshTimeout(t *testing.T) {
	silent := func(Message) ([]Message, bool) { return nil, false }
	n := newTestNode(t, newPipeDialer(MsgpackAdapter{}, silent), WithTimeout(50*time.Millisecond))

	require.NoError(t, n.Refresh(context.Background()))
	assert.True(t, n.IsDown())
	assert.False(t, n.Connected())
	assert.Equal(t, 0, n.Pending(), "the abandoned synack future is flushed")
}

func TestNodeFailoverRetrySucceeds(t *testing.T) {
	d := newPipeDialer(MsgpackAdapter{}, echoPeer)
	d.fail(testAddr, 1)
	n := newTestNode(t, d)

	f, err := n.Request(context.Background(), "echo", "again")
	require.NoError(t, err)
	msg, err := f.Wait(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "again", msg.(*Response).Result)
	assert.Equal(t, 2, d.count(testAddr))
	assert.False(t, n.IsDown())
}

func TestNodeFailoverMarksDown(t *testing.T) {
	d := newPipeDialer(MsgpackAdapter{}, echoPeer)
	d.fail(testAddr, -1)
	n := newTestNode(t, d)

	_, err := n.Request(context.Background(), "echo", 1)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConnectionFailure))
	assert.True(t, n.IsDown())
	assert.Equal(t, 2, d.count(testAddr), "one attempt plus one retry")
}

func TestNodeDisconnectStrategyTagsSocket(t *testing.T) {
	n := newTestNode(t, newPipeDialer(JSONAdapter{}, echoPeer))

	_, err := n.Request(context.Background(), "echo", make(chan int))
	require.Error(t, err)
	assert.True(t, IsSocketError(err))
	assert.False(t, n.IsDown())
	assert.False(t, n.Connected())
}

func TestNodeFlushOnPeerClose(t *testing.T) {
	n := newTestNode(t, newPipeDialer(MsgpackAdapter{}, echoPeer))

	f, err := n.Request(context.Background(), "hangup")
	require.NoError(t, err)
	_, err = f.Wait(time.Second)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConnectionFailure))
	assert.Equal(t, 0, n.Pending())

	// The next operation reconnects.
	f, err = n.Request(context.Background(), "echo", "back")
	require.NoError(t, err)
	msg, err := f.Wait(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "back", msg.(*Response).Result)
}

func TestNodeUnsolicitedResponseIgnored(t *testing.T) {
	stray := func(m Message) ([]Message, bool) {
		if r, ok := m.(*Request); ok {
			return []Message{
				&Response{ID: r.ID + 100, Result: "stray"},
				&Response{ID: r.ID, Result: "mine"},
			}, false
		}
		return nil, false
	}
	n := newTestNode(t, newPipeDialer(MsgpackAdapter{}, stray))

	f, err := n.Request(context.Background(), "echo")
	require.NoError(t, err)
	msg, err := f.Wait(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "mine", msg.(*Response).Result)
	assert.True(t, n.Connected())
}

func TestNodeIDWrap(t *testing.T) {
	n := newTestNode(t, newPipeDialer(MsgpackAdapter{}, echoPeer))

	n.requestID = maxRequestID
	assert.Equal(t, maxRequestID, n.nextRequestID())
	assert.Equal(t, uint32(0), n.nextRequestID())

	n.synackID = maxSynackID
	assert.Equal(t, maxSynackID, n.nextSynackID())
	assert.Equal(t, uint32(0), n.nextSynackID())
}

func TestNodeUnresolvableIsDown(t *testing.T) {
	n, err := NewNode("not-an-address", testConfig(newPipeDialer(MsgpackAdapter{}, echoPeer)))
	require.NoError(t, err)
	assert.True(t, n.IsDown())
	assert.Equal(t, "not-an-address", n.ID())
}

func TestNodeInvalidAdapter(t *testing.T) {
	_, err := NewNode(testAddr, testConfig(newPipeDialer(nil, echoPeer), WithAdapter("term")))
	assert.True(t, IsKind(err, KindInvalidAdapter))
}

func TestPoolCheckout(t *testing.T) {
	p := newPool("n1", 1, 20*time.Millisecond)
	release, err := p.acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, p.inUse())

	_, err = p.acquire(context.Background())
	assert.True(t, IsKind(err, KindPoolSaturated))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := newPool("n2", 1, time.Minute)
	hold, err := slow.acquire(context.Background())
	require.NoError(t, err)
	_, err = slow.acquire(ctx)
	assert.True(t, IsKind(err, KindPoolTimeout))
	hold()

	release()
	release, err = p.acquire(context.Background())
	require.NoError(t, err)
	release()
}

// brokenConn fails every Write after the first ok ones.
type brokenConn struct {
	net.Conn
	ok     int32
	writes atomic.Int32
}

func (c *brokenConn) Write(p []byte) (int, error) {
	if c.writes.Add(1) > c.ok {
		return 0, errors.New("broken pipe")
	}
	return c.Conn.Write(p)
}

func (n *Node) currentConn() *Connection {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conn
}

// A failed write ends the whole connection: pending calls are flushed, the
// reader stops with the writer, and the retry goes out on a new socket.
func TestNodeWriteFailureTerminatesConnection(t *testing.T) {
	d := newPipeDialer(MsgpackAdapter{}, echoPeer)
	var dials atomic.Int32
	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		conn, err := d.Dial(ctx, network, address)
		if err != nil || dials.Add(1) > 1 {
			return conn, err
		}
		return &brokenConn{Conn: conn, ok: 1}, nil
	}
	n := newTestNode(t, d, WithDialer(dial))
	ctx := context.Background()

	pending, err := n.Request(ctx, "silent")
	require.NoError(t, err)
	first := n.currentConn()
	require.NotNil(t, first)

	f, err := n.Request(ctx, "echo", "retried")
	require.NoError(t, err)

	_, err = pending.Wait(time.Second)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConnectionFailure))
	assert.Contains(t, err.Error(), "broken pipe")

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("reader outlived the failed writer")
	}
	assert.True(t, IsKind(first.Err(), KindConnectionFailure))

	msg, err := f.Wait(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "retried", msg.(*Response).Result)
	assert.Equal(t, int32(2), dials.Load())
	assert.NotSame(t, first, n.currentConn())
	assert.False(t, n.IsDown())
}

// The flush of a dead connection happens before the node lets go of it, so
// a reconnect cannot slip a new future in ahead of the flush.
func TestNodeCleanupFlushesBeforeRelease(t *testing.T) {
	var (
		n           *Node
		c           *Connection
		heldAtFlush atomic.Bool
	)
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core, zap.Hooks(func(e zapcore.Entry) error {
		if e.Message == "flushed pending calls" {
			heldAtFlush.Store(n.currentConn() == c)
		}
		return nil
	}))
	n = newTestNode(t, newPipeDialer(MsgpackAdapter{}, echoPeer), WithLogger(logger))

	f, err := n.Request(context.Background(), "silent")
	require.NoError(t, err)
	c = n.currentConn()
	require.NoError(t, c.Close())

	_, err = f.Wait(time.Second)
	assert.True(t, IsKind(err, KindConnectionFailure))
	require.Equal(t, 1, logs.FilterMessage("flushed pending calls").Len())
	assert.True(t, heldAtFlush.Load())
	assert.Nil(t, n.currentConn())
}

func TestConnectionAttachAfterTerminate(t *testing.T) {
	registry := NewRegistry()
	c := &Connection{h: connHandler{addr: "n1", registry: registry}, done: make(chan struct{})}
	req := &Request{ID: 9, Method: "late"}
	f := NewFuture()

	require.NoError(t, c.attach([]operation{{msg: req, future: f}}))
	assert.Equal(t, 1, registry.Len())
	assert.Same(t, f, req.Detach(registry))

	close(c.done)
	err := c.attach([]operation{{msg: req, future: f}, {msg: &Notify{Method: "x"}}})
	assert.True(t, IsKind(err, KindConnectionFailure))
	assert.True(t, registry.Empty(), "nothing is left behind for a flush that already ran")
	_, err = f.Wait(time.Second)
	assert.True(t, IsKind(err, KindConnectionFailure))
}
