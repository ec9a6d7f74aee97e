package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// KMEMetrics holds the counters of the key distribution service.
type KMEMetrics struct {
	allocated prometheus.Counter
	retrieved prometheus.Counter
	refills   prometheus.Counter
	generated prometheus.Counter
	failed    *prometheus.CounterVec
}

// NewKMEMetrics creates the KME counters and registers them with reg.
func NewKMEMetrics(namespace string, reg prometheus.Registerer) (*KMEMetrics, error) {
	m := &KMEMetrics{
		allocated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keys_allocated_total",
			Help:      "Keys bound to a master and slave set.",
		}),
		retrieved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keys_retrieved_total",
			Help:      "Keys delivered to authorized slaves.",
		}),
		refills: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_refills_total",
			Help:      "Pool refills that generated keys.",
		}),
		generated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keys_generated_total",
			Help:      "Keys generated by pool refills.",
		}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_failed_total",
			Help:      "Failed KME operations by operation and reason.",
		}, []string{"op", "reason"}),
	}

	for _, c := range []prometheus.Collector{m.allocated, m.retrieved, m.refills, m.generated, m.failed} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *KMEMetrics) KeysAllocated(n int) {
	m.allocated.Add(float64(n))
}

func (m *KMEMetrics) KeysRetrieved(n int) {
	m.retrieved.Add(float64(n))
}

func (m *KMEMetrics) PoolRefilled(generated int) {
	m.refills.Inc()
	m.generated.Add(float64(generated))
}

func (m *KMEMetrics) RequestFailed(op, reason string) {
	m.failed.WithLabelValues(op, reason).Inc()
}

// RegisterPoolGauge exposes the number of unused pooled keys, read through
// fn at scrape time.
func RegisterPoolGauge(namespace string, reg prometheus.Registerer, fn func() float64) error {
	if fn == nil {
		return errors.New("pool gauge needs a value function")
	}
	return reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_unused_keys",
		Help:      "Unused keys of the default size waiting in the pool.",
	}, fn))
}
