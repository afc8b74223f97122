// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry exposes Prometheus metrics for the proxy and actor
// runtime, adapted from the teacher's telemetry/churn module: a handful of
// global counters/gauges/histograms, registered once, served over an
// optional standalone /metrics endpoint.
package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "armour_proxy_requests_total",
		Help: "Total HTTP requests handled by the proxy, by policy decision",
	}, []string{"decision"})

	ResponsesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "armour_proxy_responses_total",
		Help: "Total HTTP responses returned by the proxy, by status class",
	}, []string{"class"})

	TCPConnectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "armour_proxy_tcp_connections_total",
		Help: "Total TCP connections handled by the proxy, by policy decision",
	}, []string{"decision"})

	TCPBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "armour_proxy_tcp_bytes_total",
		Help: "Total bytes spliced through TCP half-connections",
	}, []string{"direction"})

	TCPBackpressureClosesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "armour_proxy_tcp_backpressure_closes_total",
		Help: "Total TCP connections closed for exceeding the frame backpressure window",
	})

	PolicyEvalDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "armour_policy_eval_seconds",
		Help:    "Distribution of interpreter evaluation latency",
		Buckets: prometheus.DefBuckets,
	})

	PolicyInstallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "armour_policy_installs_total",
		Help: "Total SetPolicy installs, by protocol",
	}, []string{"protocol"})

	ExternalCallErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "armour_external_call_errors_total",
		Help: "Total external-call RPC failures",
	})
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		ResponsesTotal,
		TCPConnectionsTotal,
		TCPBytesTotal,
		TCPBackpressureClosesTotal,
		PolicyEvalDuration,
		PolicyInstallsTotal,
		ExternalCallErrorsTotal,
	)
}

// Server serves /metrics on its own listener, mirroring the teacher's
// opt-in standalone metrics endpoint (churn.Config.MetricsAddr).
type Server struct {
	httpServer *http.Server
}

// NewServer builds (but does not start) a metrics server bound to addr.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux}}
}

// Start runs the metrics server until the process exits or Stop is called;
// on clean shutdown (http.ErrServerClosed) it returns nil.
func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the metrics server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
