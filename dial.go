// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

import (
	"context"
)

// Dial builds a session over seeds using the default config. Connections are
// opened lazily by the first operation routed to each node.
func Dial(ctx context.Context, seeds []string, opts ...DialOption) (*Session, error) {
	return DialConfig(ctx, DefaultConfig(), seeds, opts...)
}

// DialConfig is Dial starting from cfg (for example one returned by
// LoadConfig). Seeds given here are added to cfg.Seeds.
func DialConfig(ctx context.Context, cfg *Config, seeds []string, opts ...DialOption) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.Seeds = append(cfg.Seeds, seeds...)
	return NewSession(cfg)
}

// DialURI parses a bones:// connection string and dials its hosts.
// Options are applied after the URI's own settings.
func DialURI(ctx context.Context, uri string, opts ...DialOption) (*Session, error) {
	u, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	u.Apply(cfg)
	return DialConfig(ctx, cfg, nil, opts...)
}
