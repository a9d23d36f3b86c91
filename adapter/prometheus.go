package adapter

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/counterpage/api"
)

// Collector is a prometheus.Collector reading the shared state on every
// scrape.
type Collector struct {
	health  api.Health
	workers int
	now     func() uint64

	generation   *prometheus.Desc
	shuttingDown *prometheus.Desc
	configured   *prometheus.Desc
	live         *prometheus.Desc
	ready        *prometheus.Desc
}

// NewCollector reports on the first workers worker slots.
func NewCollector(h api.Health, workers int, now func() uint64) *Collector {
	return &Collector{
		health:  h,
		workers: workers,
		now:     now,
		generation: prometheus.NewDesc("counterpage_generation",
			"Generation most recently promoted.", nil, nil),
		shuttingDown: prometheus.NewDesc("counterpage_shutting_down",
			"1 once the supervisor started a shutdown.", nil, nil),
		configured: prometheus.NewDesc("counterpage_workers",
			"Number of configured workers.", nil, nil),
		live: prometheus.NewDesc("counterpage_live_workers",
			"Workers within their deadline.", nil, nil),
		ready: prometheus.NewDesc("counterpage_ready_workers",
			"Workers that reported ready.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.generation
	ch <- c.shuttingDown
	ch <- c.configured
	ch <- c.live
	ch <- c.ready
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.configured, prometheus.GaugeValue, float64(c.workers))

	if gen, err := c.health.CurrentGeneration(); err != nil {
		ch <- prometheus.NewInvalidMetric(c.generation, err)
	} else {
		ch <- prometheus.MustNewConstMetric(c.generation, prometheus.GaugeValue, float64(gen))
	}

	if down, err := c.health.ShuttingDown(); err != nil {
		ch <- prometheus.NewInvalidMetric(c.shuttingDown, err)
	} else {
		ch <- prometheus.MustNewConstMetric(c.shuttingDown, prometheus.GaugeValue, boolToFloat(down))
	}

	if live, err := c.health.LiveWorkers(c.workers, c.now()); err != nil {
		ch <- prometheus.NewInvalidMetric(c.live, err)
	} else {
		ch <- prometheus.MustNewConstMetric(c.live, prometheus.GaugeValue, float64(live))
	}

	if ready, err := c.health.ReadyWorkers(c.workers); err != nil {
		ch <- prometheus.NewInvalidMetric(c.ready, err)
	} else {
		ch <- prometheus.MustNewConstMetric(c.ready, prometheus.GaugeValue, float64(ready))
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
