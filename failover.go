// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

import (
	"context"
	"errors"
)

// Strategy is the recovery action taken when an operation on a node fails.
type Strategy uint8

const (
	// StrategyDisconnect drops the connection and returns the error tagged
	// as a socket error.
	StrategyDisconnect Strategy = iota

	// StrategyRetry drops the connection and runs the operation once more.
	// A second failure marks the node down and returns the retry's error.
	StrategyRetry

	// StrategyIgnore returns the error untouched. It is never picked by
	// StrategyFor; callers select it for application errors.
	StrategyIgnore
)

func (s Strategy) String() string {
	switch s {
	case StrategyRetry:
		return "retry"
	case StrategyIgnore:
		return "ignore"
	default:
		return "disconnect"
	}
}

// StrategyFor maps an error to its failover strategy.
func StrategyFor(err error) Strategy {
	switch KindOf(err) {
	case KindConnectionFailure:
		return StrategyRetry
	default:
		return StrategyDisconnect
	}
}

// failoverTarget is the part of a node a strategy acts on.
type failoverTarget interface {
	Disconnect() error
	Down()
}

// Execute applies s to err raised on target. retry re-runs the failed
// operation and is only used by StrategyRetry.
func (s Strategy) Execute(target failoverTarget, err error, retry func() error) error {
	switch s {
	case StrategyIgnore:
		return err
	case StrategyRetry:
		_ = target.Disconnect()
		if retry == nil {
			target.Down()
			return err
		}
		if rerr := retry(); rerr != nil {
			target.Down()
			return rerr
		}
		return nil
	default:
		_ = target.Disconnect()
		return tagSocket(err)
	}
}

func tagSocket(err error) error {
	var e *Error
	if errors.As(err, &e) {
		tagged := *e
		tagged.Socket = true
		return &tagged
	}
	return &Error{Kind: KindUnknown, Err: err, Socket: true}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
