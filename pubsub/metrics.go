package pubsub

import "github.com/prometheus/client_golang/prometheus"

// StatsProvider is anything exposing a Stats snapshot; both Subscriber
// and Publisher satisfy it.
type StatsProvider interface {
	Stats() Stats
}

// NewCollector builds a prometheus.Collector reporting name's
// capacity/buffered/pending/rate gauges by sampling provider on every
// scrape, grounded on services/kv/cli.go's grpc_prometheus.Register
// wiring. name labels every metric so a process hosting several queues
// (one per store, say) can register one collector per queue without
// clashing.
func NewCollector(name string, provider StatsProvider) prometheus.Collector {
	return &collector{name: name, provider: provider}
}

type collector struct {
	name     string
	provider StatsProvider
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	st := c.provider.Stats()
	labels := prometheus.Labels{"queue": c.name}

	capacity := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "broker",
		Subsystem:   "pubsub",
		Name:        "capacity",
		Help:        "configured capacity of the bounded queue",
		ConstLabels: labels,
	})
	capacity.Set(float64(st.Capacity))
	ch <- capacity

	buffered := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "broker",
		Subsystem:   "pubsub",
		Name:        "buffered",
		Help:        "items currently buffered in the queue",
		ConstLabels: labels,
	})
	buffered.Set(float64(st.Buffered))
	ch <- buffered

	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "broker",
		Subsystem:   "pubsub",
		Name:        "pending",
		Help:        "free slots remaining in the queue (capacity minus buffered)",
		ConstLabels: labels,
	})
	pending.Set(float64(st.Pending))
	ch <- pending

	rate := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "broker",
		Subsystem:   "pubsub",
		Name:        "rate",
		Help:        "average throughput over the sampling window, items per second",
		ConstLabels: labels,
	})
	rate.Set(st.Rate)
	ch <- rate
}
