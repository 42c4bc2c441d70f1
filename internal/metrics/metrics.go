// Package metrics exposes pipeline counters and latencies in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ihm"

// Metrics owns a private registry so tests and multiple servers don't collide on the
// global one.
type Metrics struct {
	registry *prometheus.Registry

	llmRequests *prometheus.CounterVec
	llmDuration *prometheus.HistogramVec
	fallbacks   prometheus.Counter
	jobs        *prometheus.CounterVec
	jobDuration prometheus.Histogram
	httpReqs    *prometheus.CounterVec
	rows        prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Model calls by stage and outcome.",
		}, []string{"stage", "outcome"}),
		llmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Model call latency by stage.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 240, 480},
		}, []string{"stage"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_fallbacks_total",
			Help:      "Documents that fell back from the single call to chunked extraction.",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Pipeline runs by terminal status.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "End-to-end pipeline latency.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		httpReqs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		rows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extracted_rows",
			Help:      "Rows extracted per document.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	m.registry.MustRegister(
		m.llmRequests, m.llmDuration, m.fallbacks, m.jobs, m.jobDuration, m.httpReqs, m.rows,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveLLM records one model call.
func (m *Metrics) ObserveLLM(stage, outcome string, elapsed time.Duration) {
	m.llmRequests.WithLabelValues(stage, outcome).Inc()
	m.llmDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func (m *Metrics) Fallback() { m.fallbacks.Inc() }

// JobFinished records a pipeline run ending in status ("done" or "error").
func (m *Metrics) JobFinished(status string, rows int, elapsed time.Duration) {
	m.jobs.WithLabelValues(status).Inc()
	m.jobDuration.Observe(elapsed.Seconds())
	if status == "done" {
		m.rows.Observe(float64(rows))
	}
}

func (m *Metrics) HTTPRequest(route, method string, code int) {
	m.httpReqs.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
