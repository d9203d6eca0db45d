// Package metrics exports solver storage statistics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/setanarut/cmbatch"
)

const namespace = "cmbatch"

// StatsFunc returns a consistent snapshot of solver statistics. It is called
// from the scraping goroutine, so it must synchronize with the solver owner.
type StatsFunc func() cmbatch.Stats

// Collector is a prometheus.Collector reading a StatsFunc on every scrape.
type Collector struct {
	stats StatsFunc

	activeBatches  *prometheus.Desc
	inactiveSets   *prometheus.Desc
	typeBatches    *prometheus.Desc
	constraints    *prometheus.Desc
	poolTakes      *prometheus.Desc
	poolAllocs     *prometheus.Desc
	poolBytesInUse *prometheus.Desc
}

// NewCollector creates a collector. constLabels are attached to every metric.
func NewCollector(stats StatsFunc, constLabels prometheus.Labels) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, constLabels)
	}
	return &Collector{
		stats:          stats,
		activeBatches:  desc("active_batches", "Constraint batches in the active set."),
		inactiveSets:   desc("inactive_sets", "Sleeping constraint sets."),
		typeBatches:    desc("type_batches", "Type batches over all sets."),
		constraints:    desc("constraints", "Stored constraints by set kind.", "set"),
		poolTakes:      desc("pool_takes_total", "Buffers taken from the solver pool."),
		poolAllocs:     desc("pool_allocations_total", "Pool takes that allocated a new buffer."),
		poolBytesInUse: desc("pool_bytes_in_use", "Bytes held by buffers currently taken from the pool."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeBatches
	ch <- c.inactiveSets
	ch <- c.typeBatches
	ch <- c.constraints
	ch <- c.poolTakes
	ch <- c.poolAllocs
	ch <- c.poolBytesInUse
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(c.activeBatches, prometheus.GaugeValue, float64(s.ActiveBatches))
	ch <- prometheus.MustNewConstMetric(c.inactiveSets, prometheus.GaugeValue, float64(s.InactiveSets))
	ch <- prometheus.MustNewConstMetric(c.typeBatches, prometheus.GaugeValue, float64(s.TypeBatches))
	ch <- prometheus.MustNewConstMetric(c.constraints, prometheus.GaugeValue, float64(s.ActiveConstraints), "active")
	ch <- prometheus.MustNewConstMetric(c.constraints, prometheus.GaugeValue, float64(s.Constraints-s.ActiveConstraints), "inactive")
	ch <- prometheus.MustNewConstMetric(c.poolTakes, prometheus.CounterValue, float64(s.Pool.Takes))
	ch <- prometheus.MustNewConstMetric(c.poolAllocs, prometheus.CounterValue, float64(s.Pool.Allocations))
	ch <- prometheus.MustNewConstMetric(c.poolBytesInUse, prometheus.GaugeValue, float64(s.Pool.BytesInUse))
}
