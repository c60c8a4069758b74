// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics is the Prometheus instrumentation surface both daemons
// expose (spec §2's ambient observability commitment). The teacher only
// ever uses prometheus/client_golang as a query client against an external
// Prometheus server (internal/metricdata/prometheus.go); this package is
// the server-exposition half of the same module (promauto/promhttp),
// applied the way every ecosystem service built on client_golang exposes
// its own counters rather than only reading someone else's.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the counters/histograms the Work Manager and Scenario
// Evaluator daemons feed, each on its own prometheus.Registry so a test can
// construct an isolated one instead of racing the global default registry.
// Its methods are what satisfy internal/workmanager.MetricsSink and the
// equivalent seam in internal/scenario, keeping neither package importing
// prometheus/client_golang directly.
type Registry struct {
	reg *prometheus.Registry

	jobsProcessed   *prometheus.CounterVec
	backendLatency  *prometheus.HistogramVec
	brokerRedeliver prometheus.Counter
	scenarioEvals   prometheus.Counter
	scenarioMatches *prometheus.CounterVec
	scenarioEvalDur prometheus.Histogram
}

// New registers every collector against a fresh registry under namespace.
func New(namespace string) *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		jobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Number of per-object jobs the Work Manager has finalised, by outcome (ok/error/time_out/max_retries).",
		}, []string{"outcome"}),
		backendLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_invoke_seconds",
			Help:      "Latency of a single backend Invoke RPC, by object type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"object_type"}),
		brokerRedeliver: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_redeliveries_total",
			Help:      "Number of deliveries the broker adapter nacked for requeue.",
		}),
		scenarioEvals: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenario_evaluations_total",
			Help:      "Number of completed works the Scenario Evaluator has evaluated.",
		}),
		scenarioMatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenario_matches_total",
			Help:      "Number of scenario matches recorded, by scenario name.",
		}, []string{"scenario"}),
		scenarioEvalDur: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scenario_evaluation_seconds",
			Help:      "Wall-clock time spent evaluating one work against the live scenario table.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Handler exposes the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// JobProcessed satisfies internal/workmanager.MetricsSink.
func (r *Registry) JobProcessed(outcome string) {
	r.jobsProcessed.WithLabelValues(outcome).Inc()
}

// BackendLatency satisfies internal/workmanager.MetricsSink.
func (r *Registry) BackendLatency(objectType string, d time.Duration) {
	r.backendLatency.WithLabelValues(objectType).Observe(d.Seconds())
}

// BrokerRedelivery satisfies internal/broker's optional metrics hook.
func (r *Registry) BrokerRedelivery() {
	r.brokerRedeliver.Inc()
}

// ScenarioEvaluated satisfies internal/scenario.MetricsSink.
func (r *Registry) ScenarioEvaluated(d time.Duration) {
	r.scenarioEvals.Inc()
	r.scenarioEvalDur.Observe(d.Seconds())
}

// ScenarioMatched satisfies internal/scenario.MetricsSink.
func (r *Registry) ScenarioMatched(scenarioName string) {
	r.scenarioMatches.WithLabelValues(scenarioName).Inc()
}
