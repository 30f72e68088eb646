// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

import (
	"context"
	"encoding/json"
	"fmt"
)

// Session is the root of all interaction with a cluster. Operations run on
// the node picked by the session's read preference.
type Session struct {
	cfg     *Config
	cluster *Cluster
	pref    ReadPreference
}

var _ Client = (*Session)(nil)

// NewSession builds a session over cfg.Seeds.
func NewSession(cfg *Config) (*Session, error) {
	cluster, err := NewCluster(cfg, cfg.Seeds)
	if err != nil {
		return nil, err
	}
	return &Session{cfg: cfg, cluster: cluster, pref: Nearest{}}, nil
}

func (s *Session) Cluster() *Cluster { return s.cluster }

func (s *Session) Config() *Config { return s.cfg }

// Request sends a request to the nearest available node.
func (s *Session) Request(ctx context.Context, method string, params ...interface{}) (*Future, error) {
	var f *Future
	err := s.pref.WithNode(ctx, s.cluster, func(n *Node) error {
		var err error
		f, err = n.Request(ctx, method, params...)
		return err
	})
	return f, err
}

func (s *Session) Notify(ctx context.Context, method string, params ...interface{}) error {
	return s.pref.WithNode(ctx, s.cluster, func(n *Node) error {
		return n.Notify(ctx, method, params...)
	})
}

func (s *Session) Synchronize(ctx context.Context) (*Future, error) {
	var f *Future
	err := s.pref.WithNode(ctx, s.cluster, func(n *Node) error {
		var err error
		f, err = n.Synchronize(ctx)
		return err
	})
	return f, err
}

// Call sends a request and waits for its response, bounded by the session
// timeout when ctx has no deadline. An error carried by the response is
// returned as *RemoteError; otherwise the result is decoded into reply
// (which may be nil).
func (s *Session) Call(ctx context.Context, method string, params []interface{}, reply interface{}) error {
	f, err := s.Request(ctx, method, params...)
	if err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	msg, err := f.Value(ctx)
	if err != nil {
		return err
	}
	resp, ok := msg.(*Response)
	if !ok {
		return fmt.Errorf("unexpected reply %s", msg)
	}
	if resp.Error != nil {
		return StrategyIgnore.Execute(nil, &RemoteError{ID: resp.ID, Value: resp.Error}, nil)
	}
	if reply == nil {
		return nil
	}
	return s.decode(resp.Result, reply)
}

// Close disconnects every node.
func (s *Session) Close() error {
	return s.cluster.Disconnect()
}

func (s *Session) decode(result interface{}, reply interface{}) error {
	var codec Codec
	if a, err := s.cfg.Adapters.Get(s.cfg.Adapter); err == nil {
		codec, _ = a.(Codec)
	}
	if codec == nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		return json.Unmarshal(b, reply)
	}
	b, err := codec.Encode(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := codec.Decode(b, reply); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}
