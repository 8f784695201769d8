// Package metrics is the backend-neutral metrics facade used by the pipeline.
//
// Pipeline code calls the Record* helpers; a concrete Backend (Datadog,
// Prometheus Pushgateway) is installed once at startup with SetBackend. Until
// then every call goes to a no-op backend.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Labels are metric dimensions ("step" -> "fetch").
type Labels map[string]string

// Backend receives metric observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names. Backends map these onto their own naming scheme.
const (
	StepTotal           = "trackload_step_total"
	StepDurationSeconds = "trackload_step_duration_seconds"
	RecordsTotal        = "trackload_records_total"
	BatchesTotal        = "trackload_batches_total"
	HTTPRequestsTotal   = "trackload_http_requests_total"
	HTTPErrorsTotal     = "trackload_http_errors_total"
	HTTPDurationSeconds = "trackload_http_request_duration_seconds"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. Nil restores the no-op
// backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the installed backend.
func Flush() error { return current().Flush() }

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordStep counts one execution of a pipeline stage and observes its
// duration.
func RecordStep(step string, err error, d time.Duration) {
	l := Labels{"step": step, "status": statusOf(err)}
	b := current()
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordRecords counts records by kind ("fetched", "skipped", "rows").
func RecordRecords(kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}

// RecordBatch counts one API batch sent.
func RecordBatch() {
	current().IncCounter(BatchesTotal, 1, Labels{})
}

// RecordHTTP records one HTTP exchange. status is 0 when no response was
// received.
func RecordHTTP(endpoint string, status int, err error, d time.Duration) {
	st := "none"
	if status > 0 {
		st = strconv.Itoa(status)
	}
	l := Labels{"endpoint": endpoint, "status": st}

	b := current()
	b.IncCounter(HTTPRequestsTotal, 1, l)
	if err != nil || status >= 400 {
		b.IncCounter(HTTPErrorsTotal, 1, l)
	}
	b.ObserveHistogram(HTTPDurationSeconds, d.Seconds(), l)
}
