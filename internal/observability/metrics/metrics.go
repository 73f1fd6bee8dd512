// Package metrics provides Prometheus instrumentation for ipenforcer.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled      bool
	serviceName  string
	registerOnce sync.Once

	// HTTP metrics
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	// Workflow metrics
	workflowTransitionsTotal *prometheus.CounterVec
	disputeTriggerTotal      *prometheus.CounterVec
	recapRequestsTotal       *prometheus.CounterVec

	// Session metrics
	sessionsActive prometheus.Gauge

	// Case intake and evidence metrics
	caseRecordTotal     *prometheus.CounterVec
	evidenceUploadTotal *prometheus.CounterVec
)

// Init initializes the metrics system.
func Init(enabledFlag bool, svcName string) {
	enabled = enabledFlag
	serviceName = svcName

	if !enabled {
		return
	}
	registerOnce.Do(register)
}

// register creates the collectors on the default registry.
func register() {
	// HTTP request counter
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTP request duration histogram
	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Workflow state transitions
	workflowTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_transitions_total",
			Help: "Total number of report workflow state transitions",
		},
		[]string{"from", "to"},
	)

	// Dispute trigger outcomes
	disputeTriggerTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispute_trigger_total",
			Help: "Total number of dispute triggers by outcome",
		},
		[]string{"outcome"},
	)

	// Recap side channel
	recapRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recap_requests_total",
			Help: "Total number of recap requests by result",
		},
		[]string{"result"},
	)

	// Live sessions
	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Number of live report sessions",
		},
	)

	// Case intake
	caseRecordTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "case_record_total",
			Help: "Total number of arbitration cases recorded",
		},
		[]string{"status"},
	)

	// Evidence uploads
	evidenceUploadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evidence_upload_total",
			Help: "Total number of evidence uploads",
		},
		[]string{"status"},
	)

	// Note: Go runtime metrics (goroutines, memory, GC) are automatically
	// collected by prometheus/client_golang - no custom collector needed
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	if !enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.Handler()
}

// Enabled returns whether metrics are enabled.
func Enabled() bool {
	return enabled
}

// ServiceName returns the configured service name for metric labels.
func ServiceName() string {
	return serviceName
}
