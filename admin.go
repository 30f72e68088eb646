// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NodeStatus is the health view of one node served by the admin handler.
type NodeStatus struct {
	ID          string     `json:"id"`
	Address     string     `json:"address"`
	Connected   bool       `json:"connected"`
	Down        bool       `json:"down"`
	DownAt      *time.Time `json:"down_at,omitempty"`
	RefreshedAt *time.Time `json:"refreshed_at,omitempty"`
	LatencyMS   float64    `json:"latency_ms"`
	Pending     int        `json:"pending"`
}

// Status snapshots n.
func (n *Node) Status() NodeStatus {
	s := NodeStatus{
		ID:        n.ID(),
		Address:   n.address.Original(),
		Connected: n.Connected(),
		LatencyMS: float64(n.Latency()) / float64(time.Millisecond),
		Pending:   n.Pending(),
	}
	if at, down := n.DownAt(); down {
		s.Down = true
		s.DownAt = &at
	}
	if r := n.RefreshedAt(); !r.IsZero() {
		s.RefreshedAt = &r
	}
	return s
}

// NewAdminHandler serves GET /nodes with the health of every known node and
// GET /metrics from gatherer. A nil gatherer serves the default registry.
func NewAdminHandler(c *Cluster, gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r := mux.NewRouter()
	r.HandleFunc("/nodes", func(w http.ResponseWriter, _ *http.Request) {
		seeds := c.Seeds()
		out := make([]NodeStatus, 0, len(seeds))
		for _, n := range seeds {
			out = append(out, n.Status())
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(out); err != nil {
			c.logger.Warn("failed to encode node status", zap.Error(err))
		}
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}
