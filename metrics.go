// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects client metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Messages           *prometheus.CounterVec
	CallDuration       *prometheus.HistogramVec
	ConnectionFailures *prometheus.CounterVec
	NodesDown          prometheus.Gauge
}

// NewMetrics registers the client metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Messages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bones_rpc_messages_total",
				Help: "The total number of protocol messages written and read",
			},
			[]string{"direction", "kind"},
		),
		CallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bones_rpc_call_duration_seconds",
				Help:    "Time from request write to response",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ConnectionFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bones_rpc_connection_failures_total",
				Help: "The total number of connection failures per node",
			},
			[]string{"node"},
		),
		NodesDown: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bones_rpc_nodes_down",
			Help: "The number of known nodes currently marked down",
		}),
	}
}

func (m *Metrics) message(direction string, msg Message) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(direction, messageKind(msg)).Inc()
}

func (m *Metrics) call(method string, d time.Duration) {
	if m == nil {
		return
	}
	m.CallDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) connectionFailure(node string) {
	if m == nil {
		return
	}
	m.ConnectionFailures.WithLabelValues(node).Inc()
}

func (m *Metrics) nodesDown(n int) {
	if m == nil {
		return
	}
	m.NodesDown.Set(float64(n))
}

func messageKind(msg Message) string {
	switch msg.(type) {
	case *Request:
		return "request"
	case *Response:
		return "response"
	case *Notify:
		return "notify"
	case *Synchronize:
		return "synchronize"
	case *Acknowledge:
		return "acknowledge"
	default:
		return "raw"
	}
}
