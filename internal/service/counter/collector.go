package counter

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/actioncounter/internal/lru"
)

// Collector exposes cache sizes and activity of a Store to Prometheus.
type Collector struct {
	store     *Store
	size      *prometheus.Desc
	capacity  *prometheus.Desc
	evictions *prometheus.Desc
	hits      *prometheus.Desc
	misses    *prometheus.Desc
}

// NewCollector describes the cache metrics of store.
func NewCollector(store *Store) *Collector {
	labels := []string{"source", "cache"}
	return &Collector{
		store:     store,
		size:      prometheus.NewDesc("actioncounter_cache_entries", "Entries currently held by a counter cache", labels, nil),
		capacity:  prometheus.NewDesc("actioncounter_cache_capacity", "Configured capacity of a counter cache", labels, nil),
		evictions: prometheus.NewDesc("actioncounter_cache_evictions_total", "Entries evicted from a counter cache", labels, nil),
		hits:      prometheus.NewDesc("actioncounter_cache_hits_total", "Counter cache lookups that found the key", labels, nil),
		misses:    prometheus.NewDesc("actioncounter_cache_misses_total", "Counter cache lookups that missed", labels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.size
	ch <- c.capacity
	ch <- c.evictions
	ch <- c.hits
	ch <- c.misses
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.store == nil {
		return
	}
	c.store.Each(func(src *Source) {
		c.emit(ch, src.Name, "repos", src.Repos.Stats())
		c.emit(ch, src.Name, "rates", src.Rates.Stats())
	})
}

func (c *Collector) emit(ch chan<- prometheus.Metric, source, cache string, st lru.Stats) {
	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(st.Len), source, cache)
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(st.Capacity), source, cache)
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(st.Evictions), source, cache)
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(st.Hits), source, cache)
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(st.Misses), source, cache)
}
