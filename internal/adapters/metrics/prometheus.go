package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aleeai_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aleeai_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aleeai_llm_requests_total",
		Help: "Total LLM requests",
	}, []string{"model", "status"})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aleeai_llm_request_duration_seconds",
		Help:    "LLM request duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"model"})

	LLMTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aleeai_llm_tokens_total",
		Help: "Tokens reported by the remote service",
	}, []string{"model", "kind"})

	PipelineRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aleeai_pipeline_runs_total",
		Help: "Optimization runs by final state",
	}, []string{"state"})

	PipelineStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aleeai_pipeline_stage_duration_seconds",
		Help:    "Duration of each pipeline stage",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"stage"})

	PipelineRunsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aleeai_pipeline_runs_active",
		Help: "Number of optimization runs in progress",
	})

	VersionOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aleeai_version_operations_total",
		Help: "Version store operations",
	}, []string{"operation", "status"})
)

// Status label values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// StatusLabel maps an error to a status label.
func StatusLabel(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}
