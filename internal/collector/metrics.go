package collector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Failure reasons used as the "reason" label.
const (
	reasonSubmission = "submission"
	reasonStream     = "stream"
	reasonCancelled  = "cancelled"
)

// Metrics are the collector's prometheus metrics. Create them once per
// registerer and share them between collectors.
type Metrics struct {
	streamsStarted     prometheus.Counter
	streamsFailed      *prometheus.CounterVec
	streamsInFlight    prometheus.Gauge
	rowsReceived       prometheus.Counter
	duplicateTerminals prometheus.Counter
	batchDuration      prometheus.Histogram
}

// NewMetrics registers the metrics on reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		streamsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "report_streams_started_total",
			Help: "Total number of search streams submitted.",
		}),
		streamsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "report_streams_failed_total",
			Help: "Total number of search streams that ended in failure.",
		}, []string{"reason"}),
		streamsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "report_streams_in_flight",
			Help: "Number of search streams not yet terminal.",
		}),
		rowsReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "report_rows_received_total",
			Help: "Total number of result rows received.",
		}),
		duplicateTerminals: f.NewCounter(prometheus.CounterOpts{
			Name: "report_duplicate_terminal_events_total",
			Help: "Terminal stream events ignored because the stream was already resolved.",
		}),
		batchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "report_batch_duration_seconds",
			Help:    "Time from dispatching a query batch to joining all of its streams.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}
