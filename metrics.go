package inlineimages

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors updated by a run.
type Metrics struct {
	images   *prometheus.CounterVec
	fields   prometheus.Counter
	records  *prometheus.CounterVec
	duration prometheus.Histogram
	runs     prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		images: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inlineimages",
			Name:      "images_total",
			Help:      "Inline images processed, by outcome.",
		}, []string{"outcome"}),
		fields: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "inlineimages",
			Name:      "fields_rewritten_total",
			Help:      "Content fields rewritten.",
		}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inlineimages",
			Name:      "records_total",
			Help:      "Records processed, by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "inlineimages",
			Name:      "image_duration_seconds",
			Help:      "Time spent fetching, generating and rendering one image.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "inlineimages",
			Name:      "runs_total",
			Help:      "Completed runs.",
		}),
	}
	reg.MustRegister(m.images, m.fields, m.records, m.duration, m.runs)
	return m
}

func (m *Metrics) observeImage(o Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.images.WithLabelValues(o.Status.String()).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) observeRecord(r RecordReport) {
	if m == nil {
		return
	}
	for _, f := range r.Fields {
		if f.Changed {
			m.fields.Inc()
		}
	}
	switch {
	case r.Err != nil:
		m.records.WithLabelValues("failed").Inc()
	case r.Saved:
		m.records.WithLabelValues("saved").Inc()
	default:
		m.records.WithLabelValues("unchanged").Inc()
	}
}

func (m *Metrics) observeRun() {
	if m == nil {
		return
	}
	m.runs.Inc()
}
