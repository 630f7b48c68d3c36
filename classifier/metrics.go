package classifier

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the Prometheus collectors of a classifier
type Metrics struct {
	ForwardDuration prometheus.Histogram
	SamplesTotal    prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with registerer
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ForwardDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "graphsensor_classify_duration_seconds",
			Help:    "Time taken by one Classify call",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}),
		SamplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "graphsensor_classified_samples_total",
			Help: "Total number of signals classified",
		}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphsensor_classify_errors_total",
			Help: "Failed Classify calls partitioned by error category",
		}, []string{"category"}),
	}
	if err := registerer.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register classifier metrics: %w", err)
	}
	return m, nil
}

// Describe implements prometheus.Collector
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.ForwardDuration.Describe(ch)
	m.SamplesTotal.Describe(ch)
	m.ErrorsTotal.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.ForwardDuration.Collect(ch)
	m.SamplesTotal.Collect(ch)
	m.ErrorsTotal.Collect(ch)
}
