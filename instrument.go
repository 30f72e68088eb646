// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

import (
	"time"

	"go.uber.org/zap"
)

// Instrumentation topics.
const (
	TopicOperations = "bones-rpc.operations"
	TopicWarn       = "bones-rpc.warn"
)

// Event describes one instrumented operation.
type Event struct {
	Topic    string
	Node     string
	Messages []Message
	Note     string
}

// Instrumenter wraps an operation for timing and logging. Implementations
// must call fn exactly once and return its error.
type Instrumenter interface {
	Instrument(ev Event, fn func() error) error
}

// NoopInstrumenter runs the operation and records nothing.
type NoopInstrumenter struct{}

func (NoopInstrumenter) Instrument(_ Event, fn func() error) error {
	if fn == nil {
		return nil
	}
	return fn()
}

// LogInstrumenter logs every operation through zap. Operations are logged
// at debug level, warnings and failures at warn.
type LogInstrumenter struct {
	Logger *zap.Logger
}

func NewLogInstrumenter(logger *zap.Logger) *LogInstrumenter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogInstrumenter{Logger: logger}
}

func (l *LogInstrumenter) Instrument(ev Event, fn func() error) error {
	start := time.Now()
	var err error
	if fn != nil {
		err = fn()
	}
	runtime := time.Since(start)

	log := l.Logger.With(zap.String("topic", ev.Topic), zap.String("node", ev.Node))
	if ev.Topic == TopicWarn {
		log.Warn(ev.Note, zap.Error(err))
		return err
	}
	for _, m := range ev.Messages {
		log.Debug("BONES-RPC", zap.Stringer("message", m), zap.Duration("runtime", runtime))
	}
	if err != nil {
		log.Warn("operation failed", zap.Int("messages", len(ev.Messages)), zap.Error(err))
	}
	return err
}
