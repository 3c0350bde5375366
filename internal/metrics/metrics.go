// Package metrics exports Prometheus instruments for the transaction engine.
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the engine's instruments.
type Recorder struct {
	executions  *prometheus.CounterVec
	failures    *prometheus.CounterVec
	receiptWait prometheus.Histogram
	fallbacks   prometheus.Counter
}

// New creates a Recorder and registers it with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "txwal_executions_total",
			Help: "Transaction executions by terminal status.",
		}, []string{"status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "txwal_failures_total",
			Help: "Failed executions by error code.",
		}, []string{"code"}),
		receiptWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "txwal_receipt_wait_seconds",
			Help:    "Time spent waiting for transaction receipts.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "txwal_journal_fallback_total",
			Help: "Journal opens that fell back to the file backend.",
		}),
	}
	if reg == nil {
		return r, nil
	}
	for _, c := range []prometheus.Collector{r.executions, r.failures, r.receiptWait, r.fallbacks} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Execution counts an execution that ended in status.
func (r *Recorder) Execution(status string) {
	if r == nil {
		return
	}
	r.executions.WithLabelValues(status).Inc()
}

// Failure counts a failure by code.
func (r *Recorder) Failure(code string) {
	if r == nil {
		return
	}
	r.failures.WithLabelValues(code).Inc()
}

// ReceiptWait observes the duration of one receipt wait.
func (r *Recorder) ReceiptWait(d time.Duration) {
	if r == nil {
		return
	}
	r.receiptWait.Observe(d.Seconds())
}

// JournalFallback counts a file-backend fallback.
func (r *Recorder) JournalFallback() {
	if r == nil {
		return
	}
	r.fallbacks.Inc()
}
