// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type user struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func dialTest(t *testing.T, d *pipeDialer, opts ...DialOption) *Session {
	t.Helper()
	opts = append([]DialOption{
		WithDialer(d.Dial),
		WithAdapter(d.adapter.Name()),
		WithRetryInterval(time.Millisecond),
	}, opts...)
	s, err := Dial(context.Background(), []string{testAddr, otherAddr}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionCall(t *testing.T) {
	for _, a := range []Adapter{MsgpackAdapter{}, JSONAdapter{}} {
		t.Run(a.Name(), func(t *testing.T) {
			s := dialTest(t, newPipeDialer(a, echoPeer))
			ctx := context.Background()

			var echoed string
			require.NoError(t, s.Call(ctx, "echo", []interface{}{"hi"}, &echoed))
			assert.Equal(t, "hi", echoed)

			var u user
			require.NoError(t, s.Call(ctx, "user", nil, &u))
			assert.Equal(t, user{Name: "ada", Age: 36}, u)

			require.NoError(t, s.Call(ctx, "echo", []interface{}{"ignored"}, nil))
		})
	}
}

func TestSessionCallRemoteError(t *testing.T) {
	s := dialTest(t, newPipeDialer(JSONAdapter{}, echoPeer))

	err := s.Call(context.Background(), "fail", nil, nil)
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "boom", remote.Value)
	assert.False(t, IsSocketError(err))

	// The connection survives an application error.
	var echoed string
	require.NoError(t, s.Call(context.Background(), "echo", []interface{}{"still here"}, &echoed))
	assert.Equal(t, "still here", echoed)
}

func TestSessionCallDeadline(t *testing.T) {
	s := dialTest(t, newPipeDialer(MsgpackAdapter{}, echoPeer))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := s.Call(ctx, "silent", nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSessionNotifyAndSynchronize(t *testing.T) {
	d := newPipeDialer(MsgpackAdapter{}, echoPeer)
	s := dialTest(t, d)
	ctx := context.Background()

	require.NoError(t, s.Notify(ctx, "tick"))

	f, err := s.Synchronize(ctx)
	require.NoError(t, err)
	msg, err := f.Wait(time.Second)
	require.NoError(t, err)
	ack, ok := msg.(*Acknowledge)
	require.True(t, ok)
	assert.True(t, ack.Ready)
}

func TestSessionAllNodesDown(t *testing.T) {
	d := newPipeDialer(MsgpackAdapter{}, echoPeer)
	d.fail(testAddr, -1)
	d.fail(otherAddr, -1)
	s := dialTest(t, d, WithMaxRetries(1))

	_, err := s.Request(context.Background(), "echo", 1)
	assert.ErrorIs(t, err, ErrNoNodes)
}

func TestDialURI(t *testing.T) {
	d := newPipeDialer(JSONAdapter{}, echoPeer)
	s, err := DialURI(context.Background(), "bones://127.0.0.1:7000/?adapter=json&timeout=2", WithDialer(d.Dial))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, AdapterJSON, s.Config().Adapter)
	assert.Equal(t, 2*time.Second, s.Config().Timeout)
	require.Len(t, s.Cluster().Seeds(), 1)

	var echoed float64
	require.NoError(t, s.Call(context.Background(), "echo", []interface{}{4}, &echoed))
	assert.Equal(t, float64(4), echoed)
}

func TestDialCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Dial(ctx, []string{testAddr})
	assert.ErrorIs(t, err, context.Canceled)
}
