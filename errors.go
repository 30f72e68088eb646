// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

import (
	"errors"
	"fmt"
)

// ErrorKind classifies errors raised by the client. Failover dispatch
// switches over this closed set.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindConnectionFailure
	KindInvalidAdapter
	KindInvalidExtMessage
	KindPoolSaturated
	KindPoolTimeout
	KindInvalidURI
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnectionFailure:
		return "connection failure"
	case KindInvalidAdapter:
		return "invalid adapter"
	case KindInvalidExtMessage:
		return "invalid ext message"
	case KindPoolSaturated:
		return "pool saturated"
	case KindPoolTimeout:
		return "pool timeout"
	case KindInvalidURI:
		return "invalid uri"
	default:
		return "unknown"
	}
}

var (
	// ErrNeedMore is returned by the parser when the buffered bytes end in
	// the middle of a message. It is not surfaced past the reader.
	ErrNeedMore = errors.New("bones: need more data")

	ErrFutureSignalled = errors.New("bones: future already signalled")
	ErrClosed          = errors.New("bones: connection closed")
	ErrNoNodes         = errors.New("bones: could not connect to any nodes")
)

// Error is the error type returned for every classified failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Addr string
	Err  error

	// Socket is set by the disconnect failover strategy so callers can tell
	// transport-level failures apart from application errors.
	Socket bool
}

func (e *Error) Error() string {
	msg := "bones: " + e.Kind.String()
	if e.Op != "" {
		msg += " during " + e.Op
	}
	if e.Addr != "" {
		msg += " on " + e.Addr
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so that errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Addr == "" && t.Err == nil
}

func newError(kind ErrorKind, op, addr string, err error) *Error {
	return &Error{Kind: kind, Op: op, Addr: addr, Err: err}
}

func connectionFailure(op, addr string, err error) *Error {
	return newError(KindConnectionFailure, op, addr, err)
}

func invalidExt(format string, args ...interface{}) *Error {
	return newError(KindInvalidExtMessage, "parse", "", fmt.Errorf(format, args...))
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsSocketError reports whether err was tagged by the disconnect strategy.
func IsSocketError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Socket
	}
	return false
}

// RemoteError is an application error carried in the error field of a
// Response. It is never produced by the transport.
type RemoteError struct {
	ID    uint32
	Value interface{}
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("bones: remote error for request %d: %v", e.ID, e.Value)
}
