// Package metrics exposes governance metrics in the Prometheus text format.
//
// A nil *Registry is valid and records nothing.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var approvalBuckets = []float64{5, 15, 30, 60, 120, 300, 600, 900, 1800}

type Registry struct {
	reg             *prometheus.Registry
	approvalLatency prometheus.Histogram
	workerErrors    *prometheus.CounterVec
}

func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		approvalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "approval_latency_seconds",
			Help:    "Seconds between action proposal and reviewer approval.",
			Buckets: approvalBuckets,
		}),
		workerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_errors_total",
			Help: "Worker executions that ended FAILED, by worker and error code.",
		}, []string{"worker", "code"}),
	}
	r.reg.MustRegister(
		r.approvalLatency,
		r.workerErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveApprovalLatency records the time an action waited for its reviewers.
func (r *Registry) ObserveApprovalLatency(d time.Duration) {
	if r == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	r.approvalLatency.Observe(d.Seconds())
}

func (r *Registry) IncWorkerError(worker, code string) {
	if r == nil {
		return
	}
	worker = strings.TrimSpace(worker)
	if worker == "" {
		worker = "unknown"
	}
	code = strings.TrimSpace(code)
	if code == "" {
		code = "none"
	}
	r.workerErrors.WithLabelValues(worker, code).Inc()
}

// Handler serves the registry. A nil registry serves 404.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
