package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wippyai/contract-vm/cache"
)

// CacheCollector reports module cache counters at scrape time.
type CacheCollector struct {
	cache *cache.Cache

	lookups      *prometheus.Desc
	misses       *prometheus.Desc
	compilations *prometheus.Desc
	evictions    *prometheus.Desc
	entries      *prometheus.Desc
	bytes        *prometheus.Desc
}

// NewCacheCollector creates a collector over c.
func NewCacheCollector(c *cache.Cache, namespace string, constLabels prometheus.Labels) *CacheCollector {
	name := func(n string) string { return prometheus.BuildFQName(namespace, "module_cache", n) }
	return &CacheCollector{
		cache:        c,
		lookups:      prometheus.NewDesc(name("hits_total"), "Cache hits by tier", []string{"tier"}, constLabels),
		misses:       prometheus.NewDesc(name("misses_total"), "Lookups that found no artifact in any tier", nil, constLabels),
		compilations: prometheus.NewDesc(name("compilations_total"), "Modules compiled from code", nil, constLabels),
		evictions:    prometheus.NewDesc(name("evictions_total"), "Modules evicted from the memory tier", nil, constLabels),
		entries:      prometheus.NewDesc(name("entries"), "Resident modules by tier", []string{"tier"}, constLabels),
		bytes:        prometheus.NewDesc(name("bytes"), "Instrumented code size held by the memory tier", nil, constLabels),
	}
}

func (c *CacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.lookups
	ch <- c.misses
	ch <- c.compilations
	ch <- c.evictions
	ch <- c.entries
	ch <- c.bytes
}

func (c *CacheCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.cache.Stats()
	ch <- prometheus.MustNewConstMetric(c.lookups, prometheus.CounterValue, float64(s.HitsPinned), "pinned")
	ch <- prometheus.MustNewConstMetric(c.lookups, prometheus.CounterValue, float64(s.HitsMemory), "memory")
	ch <- prometheus.MustNewConstMetric(c.lookups, prometheus.CounterValue, float64(s.HitsStore), "store")
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(c.compilations, prometheus.CounterValue, float64(s.Compilations))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(s.Evictions))
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(s.Pinned), "pinned")
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(s.Entries), "memory")
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(s.Bytes))
}
