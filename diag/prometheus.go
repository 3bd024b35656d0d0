package diag

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PromSink exports the latest diagnostics as Prometheus metrics. Histograms
// observe every value of a tensor under a "tensor" label; scalars become
// gauges under a "name" label.
type PromSink struct {
	values  *prometheus.HistogramVec
	scalars *prometheus.GaugeVec
	steps   prometheus.Gauge
}

// NewPromSink registers the sampler metrics on reg.
func NewPromSink(reg prometheus.Registerer) (*PromSink, error) {
	s := &PromSink{
		values: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hmc_parameter_values",
			Help:    "Distribution of network parameter values at summary steps",
			Buckets: prometheus.LinearBuckets(-3, 0.25, 25),
		}, []string{"tensor"}),
		scalars: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hmc_scalar",
			Help: "Latest value of a named sampler scalar",
		}, []string{"name"}),
		steps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hmc_summary_step",
			Help: "Step index of the latest summary",
		}),
	}
	for _, c := range []prometheus.Collector{s.values, s.scalars, s.steps} {
		if err := reg.Register(c); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch existing := already.ExistingCollector.(type) {
				case *prometheus.HistogramVec:
					s.values = existing
				case *prometheus.GaugeVec:
					s.scalars = existing
				case prometheus.Gauge:
					s.steps = existing
				}
				continue
			}
			return nil, err
		}
	}
	return s, nil
}

func (s *PromSink) Histogram(name string, step int, values []float64) error {
	h := s.values.WithLabelValues(name)
	for _, v := range values {
		h.Observe(v)
	}
	s.steps.Set(float64(step))
	return nil
}

func (s *PromSink) Scalar(name string, step int, value float64) error {
	s.scalars.WithLabelValues(name).Set(value)
	s.steps.Set(float64(step))
	return nil
}

func (s *PromSink) Flush() error { return nil }

// Close leaves the metrics registered so a scrape after the run still sees them.
func (s *PromSink) Close() error { return nil }
