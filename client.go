// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

import (
	"context"
	"crypto/tls"
	"time"

	"go.uber.org/zap"
)

// Client is the caller-facing RPC interface. Session implements it.
type Client interface {
	// Call makes a request and decodes the response result into reply
	Call(ctx context.Context, method string, params []interface{}, reply interface{}) error

	// Request sends a request and returns the pending future
	Request(ctx context.Context, method string, params ...interface{}) (*Future, error)

	// Notify sends a one-way message (no response expected)
	Notify(ctx context.Context, method string, params ...interface{}) error

	// Close closes every connection
	Close() error
}

// Codec decodes a value into a typed destination. Adapters that implement
// it are used to fill Call replies.
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
}

// DialOption configures a session
type DialOption func(*Config)

// WithAdapter sets the adapter name
func WithAdapter(name string) DialOption {
	return func(c *Config) { c.Adapter = name }
}

// WithAdapters replaces the adapter registry
func WithAdapters(r *AdapterRegistry) DialOption {
	return func(c *Config) { c.Adapters = r }
}

// WithTimeout sets the connect, write and synack timeout
func WithTimeout(d time.Duration) DialOption {
	return func(c *Config) { c.Timeout = d }
}

// WithTLS enables TLS using cfg (nil for defaults)
func WithTLS(cfg *tls.Config) DialOption {
	return func(c *Config) {
		c.SSL = true
		c.TLSConfig = cfg
	}
}

func WithDownInterval(d time.Duration) DialOption {
	return func(c *Config) { c.DownInterval = d }
}

func WithRefreshInterval(d time.Duration) DialOption {
	return func(c *Config) { c.RefreshInterval = d }
}

func WithRetryInterval(d time.Duration) DialOption {
	return func(c *Config) { c.RetryInterval = d }
}

func WithMaxRetries(n int) DialOption {
	return func(c *Config) { c.MaxRetries = n }
}

func WithPoolSize(n int) DialOption {
	return func(c *Config) { c.PoolSize = n }
}

// WithLogger sets the logger used by every component
func WithLogger(l *zap.Logger) DialOption {
	return func(c *Config) { c.Logger = l }
}

func WithInstrumenter(i Instrumenter) DialOption {
	return func(c *Config) { c.Instrumenter = i }
}

func WithMetrics(m *Metrics) DialOption {
	return func(c *Config) { c.Metrics = m }
}

// WithDialer replaces the network dialer (tests use it to inject pipes)
func WithDialer(d DialFunc) DialOption {
	return func(c *Config) { c.Dial = d }
}

// WithClock replaces the clock used for down and refresh bookkeeping
func WithClock(now func() time.Time) DialOption {
	return func(c *Config) { c.Now = now }
}
