// Package metrics defines the Prometheus collectors for the economy engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	JobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "economy_job_runs_total",
			Help: "Scheduled job executions by job and status",
		},
		[]string{"job", "status"},
	)
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "economy_job_duration_seconds",
			Help:    "Scheduled job execution time",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"job"},
	)
	TapUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "economy_tap_updates_total",
			Help: "Balance update requests by outcome",
		},
		[]string{"outcome"},
	)
	PaymentsSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "economy_payments_settled_total",
			Help: "Settled payments by product type and result",
		},
		[]string{"product_type", "result"},
	)
	ReferralChains = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "economy_referral_chains_total",
			Help: "Referral chain walks by stop reason",
		},
		[]string{"stop"},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "economy_http_requests_total",
			Help: "API requests by route and status code",
		},
		[]string{"route", "status"},
	)
)

// Job statuses.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

func init() {
	prometheus.MustRegister(JobRuns)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(TapUpdates)
	prometheus.MustRegister(PaymentsSettled)
	prometheus.MustRegister(ReferralChains)
	prometheus.MustRegister(HTTPRequests)
}

// PoolStats is the subset of pgxpool statistics exported as gauges.
type PoolStats interface {
	AcquiredConns() int32
	IdleConns() int32
	TotalConns() int32
}

// RegisterPoolGauges exposes connection pool usage. stat is called on every scrape.
func RegisterPoolGauges(reg prometheus.Registerer, stat func() PoolStats) {
	gauge := func(name, help string, pick func(PoolStats) int32) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: name, Help: help},
			func() float64 { return float64(pick(stat())) },
		)
	}
	reg.MustRegister(
		gauge("economy_db_acquired_conns", "Connections in use", PoolStats.AcquiredConns),
		gauge("economy_db_idle_conns", "Idle connections", PoolStats.IdleConns),
		gauge("economy_db_total_conns", "Open connections", PoolStats.TotalConns),
	)
}
