// Package prompush implements a metrics.Backend that pushes to a Prometheus
// Pushgateway on Flush.
package prompush

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"trackload/internal/metrics"
)

// Backend owns a private registry so pushes carry only this job's series.
type Backend struct {
	pusher *push.Pusher

	stepTotal    *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	records      *prometheus.CounterVec
	batches      prometheus.Counter
	httpRequests *prometheus.CounterVec
	httpErrors   *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewBackend registers the pipeline's collectors and prepares a pusher for
// gatewayURL under the given job name.
func NewBackend(job, gatewayURL string) (*Backend, error) {
	if strings.TrimSpace(gatewayURL) == "" {
		return nil, fmt.Errorf("prompush: empty pushgateway url")
	}
	if job == "" {
		job = "trackload"
	}

	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	b := &Backend{
		pusher: push.New(gatewayURL, job).Gatherer(reg),

		stepTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Pipeline stage executions by status.",
		}, []string{"step", "status"}),
		stepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.StepDurationSeconds,
			Help:    "Pipeline stage duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 9),
		}, []string{"step", "status"}),
		records: f.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Records processed by kind.",
		}, []string{"kind"}),
		batches: f.NewCounter(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "API batches requested.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.HTTPRequestsTotal,
			Help: "HTTP requests by endpoint and status.",
		}, []string{"endpoint", "status"}),
		httpErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.HTTPErrorsTotal,
			Help: "Failed HTTP requests by endpoint and status.",
		}, []string{"endpoint", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.HTTPDurationSeconds,
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint", "status"}),
	}
	return b, nil
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, l metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.StepTotal:
		b.stepTotal.WithLabelValues(l["step"], l["status"]).Add(delta)
	case metrics.RecordsTotal:
		b.records.WithLabelValues(l["kind"]).Add(delta)
	case metrics.BatchesTotal:
		b.batches.Add(delta)
	case metrics.HTTPRequestsTotal:
		b.httpRequests.WithLabelValues(l["endpoint"], l["status"]).Add(delta)
	case metrics.HTTPErrorsTotal:
		b.httpErrors.WithLabelValues(l["endpoint"], l["status"]).Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, l metrics.Labels) {
	if value < 0 {
		return
	}
	switch name {
	case metrics.StepDurationSeconds:
		b.stepDuration.WithLabelValues(l["step"], l["status"]).Observe(value)
	case metrics.HTTPDurationSeconds:
		b.httpDuration.WithLabelValues(l["endpoint"], l["status"]).Observe(value)
	}
}

// Flush pushes every collected series, replacing the job's previous group.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: %w", err)
	}
	return nil
}

var _ metrics.Backend = (*Backend)(nil)
