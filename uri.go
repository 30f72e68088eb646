// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// URIScheme is the scheme of a connection string.
const URIScheme = "bones://"

// URI is a parsed connection string:
//
//	bones://host1:port,host2:port/?adapter=json&timeout=2&ssl=true
//
// timeout accepts seconds ("2", "0.5") or a Go duration ("750ms").
type URI struct {
	Hosts   []string
	Adapter string
	Timeout time.Duration
	SSL     bool
	// Options holds the raw query, including keys not mapped to a field.
	Options url.Values
}

// ParseURI parses s. Hosts are kept verbatim; they are resolved when
// nodes are built.
func ParseURI(s string) (*URI, error) {
	if !strings.HasPrefix(s, URIScheme) {
		return nil, invalidURI("missing %q scheme", URIScheme)
	}
	rest := strings.TrimPrefix(s, URIScheme)

	hostPart, query, _ := strings.Cut(rest, "?")
	hostPart = strings.TrimSuffix(hostPart, "/")
	if hostPart == "" {
		return nil, invalidURI("no hosts")
	}

	u := &URI{}
	for _, h := range strings.Split(hostPart, ",") {
		h = strings.TrimSpace(h)
		if h == "" {
			return nil, invalidURI("empty host in %q", hostPart)
		}
		u.Hosts = append(u.Hosts, h)
	}

	opts, err := url.ParseQuery(query)
	if err != nil {
		return nil, invalidURI("bad query: %v", err)
	}
	u.Options = opts

	u.Adapter = opts.Get("adapter")
	if v := opts.Get("timeout"); v != "" {
		if u.Timeout, err = parseTimeout(v); err != nil {
			return nil, err
		}
	}
	if v := opts.Get("ssl"); v != "" {
		if u.SSL, err = strconv.ParseBool(v); err != nil {
			return nil, invalidURI("bad ssl %q", v)
		}
	}
	return u, nil
}

// Apply copies the URI's hosts and settings onto cfg.
func (u *URI) Apply(cfg *Config) {
	cfg.Seeds = append(cfg.Seeds, u.Hosts...)
	if u.Adapter != "" {
		cfg.Adapter = u.Adapter
	}
	if u.Timeout > 0 {
		cfg.Timeout = u.Timeout
	}
	if u.SSL {
		cfg.SSL = true
	}
}

func parseTimeout(v string) (time.Duration, error) {
	d, err := parseSeconds(v)
	if err != nil || d <= 0 {
		return 0, invalidURI("bad timeout %q", v)
	}
	return d, nil
}

// parseSeconds reads a bare number as seconds ("2", "0.5") and anything
// else as a Go duration ("750ms").
func parseSeconds(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

func invalidURI(format string, args ...interface{}) error {
	return newError(KindInvalidURI, "parse uri", "", fmt.Errorf(format, args...))
}
