// Package metrics records per-stamp measurement outcomes as Prometheus
// collectors so a batch driver can report failed-stamp rates.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"fpfs/internal/models"
)

// Outcomes lists every label value of the outcome counter
var Outcomes = []string{"ok", "shape_mismatch", "uninitialized", "deconvolution", "configuration", "error"}

// Recorder holds the measurement collectors
type Recorder struct {
	stamps   *prometheus.CounterVec // Stamps measured, by outcome
	duration prometheus.Histogram   // Seconds per stamp measurement
}

// NewRecorder creates the collectors and registers them on reg
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	r := &Recorder{
		stamps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fpfs_stamps_total",
				Help: "Number of stamps measured, by outcome",
			},
			[]string{"outcome"},
		),
		duration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fpfs_measure_duration_seconds",
				Help:    "Time spent measuring one stamp",
				Buckets: prometheus.ExponentialBuckets(1e-4, 4, 8),
			},
		),
	}

	// Expose every outcome from the start so rates can be computed
	for _, o := range Outcomes {
		r.stamps.WithLabelValues(o)
	}
	return r
}

// Observe records the outcome and duration of one stamp measurement
func (r *Recorder) Observe(err error, elapsed time.Duration) {
	r.stamps.WithLabelValues(models.Outcome(err)).Inc()
	r.duration.Observe(elapsed.Seconds())
}

// Counts returns the number of stamps per outcome
func (r *Recorder) Counts() map[string]float64 {
	counts := make(map[string]float64, len(Outcomes))
	for _, o := range Outcomes {
		m := &dto.Metric{}
		if err := r.stamps.WithLabelValues(o).Write(m); err != nil {
			continue
		}
		counts[o] = m.GetCounter().GetValue()
	}
	return counts
}

// Total returns the number of stamps observed
func (r *Recorder) Total() uint64 {
	m := &dto.Metric{}
	if err := r.duration.Write(m); err != nil {
		return 0
	}
	return m.GetHistogram().GetSampleCount()
}
