// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
	"strings"
	"sync"
)

const unixPrefix = "unix:"

// Address is a node location: host:port, [v6]:port or unix:/path. It is
// resolved once and re-resolved only on demand.
type Address struct {
	mu       sync.RWMutex
	original string
	host     string
	ip       net.IP
	port     int
	path     string
}

func NewAddress(s string) *Address {
	return &Address{original: s}
}

func (a *Address) Original() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.original
}

// Host is the unresolved host name, used as the TLS server name.
func (a *Address) Host() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.host
}

func (a *Address) Port() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.port
}

// Valid reports whether the address can be dialled.
func (a *Address) Valid() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.valid()
}

func (a *Address) valid() bool {
	return a.path != "" || (a.ip != nil && a.port != 0)
}

// Resolved renders ip:port, [ip]:port or unix:path once resolved, and the
// original string before that.
func (a *Address) Resolved() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	switch {
	case !a.valid():
		return a.original
	case a.path != "":
		return unixPrefix + a.path
	default:
		return net.JoinHostPort(a.ip.String(), strconv.Itoa(a.port))
	}
}

func (a *Address) String() string { return a.Resolved() }

// Network returns the dial network and address for net.Dialer.
func (a *Address) Network() (network, address string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.path != "" {
		return "unix", a.path
	}
	return "tcp", net.JoinHostPort(a.ip.String(), strconv.Itoa(a.port))
}

// Resolve resolves the address unless it is already valid.
func (a *Address) Resolve(ctx context.Context, r *net.Resolver) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.valid() {
		return nil
	}
	if err := a.resolve(ctx, r); err != nil {
		return connectionFailure("resolve", a.original, err)
	}
	return nil
}

func (a *Address) resolve(ctx context.Context, r *net.Resolver) error {
	if strings.HasPrefix(a.original, unixPrefix) {
		path := strings.TrimPrefix(a.original, unixPrefix)
		if path == "" {
			return fmt.Errorf("empty unix socket path")
		}
		a.path = path
		return nil
	}

	host, portStr, err := net.SplitHostPort(a.original)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %q", portStr)
	}
	a.host = host
	a.port = port

	if ip := net.ParseIP(host); ip != nil {
		if ip.To4() == nil {
			a.original = net.JoinHostPort(host, portStr)
		}
		a.ip = ip
		return nil
	}

	if r == nil {
		r = net.DefaultResolver
	}
	addrs, err := r.LookupIPAddr(ctx, host)
	if err != nil {
		return err
	}
	if len(addrs) == 0 {
		return fmt.Errorf("dns result has no information for %s", host)
	}
	// Pseudo-random pick for round-robin DNS.
	a.ip = addrs[rand.IntN(len(addrs))].IP
	return nil
}
