// Package prometheus exports lockcache statistics as Prometheus metrics.
//
// Prometheus counters are monotonic, so Reset only clears the in-process
// snapshot returned by Statistics; exported series keep counting.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/lockcache"
)

const namespace = "lockcache"

type Collector struct {
	snap *lockcache.MemoryStatistics

	puts     *prometheus.CounterVec
	gets     *prometheus.CounterVec
	hits     *prometheus.CounterVec
	misses   *prometheus.CounterVec
	deletes  *prometheus.CounterVec
	lockWait *prometheus.CounterVec
}

var _ lockcache.StatisticsCollector = (*Collector)(nil)

// New registers the collector's metrics with reg (prometheus.DefaultRegisterer
// when nil).
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{"cache"})
	}
	c := &Collector{
		snap:     lockcache.NewStatistics(),
		puts:     counter("puts_total", "Entries written."),
		gets:     counter("gets_total", "Entry reads."),
		hits:     counter("hits_total", "Reads that found an entry."),
		misses:   counter("misses_total", "Reads that found nothing."),
		deletes:  counter("deletes_total", "Entries deleted."),
		lockWait: counter("lock_wait_seconds_total", "Time spent waiting for cache locks."),
	}
	for _, cv := range []*prometheus.CounterVec{c.puts, c.gets, c.hits, c.misses, c.deletes, c.lockWait} {
		if err := reg.Register(cv); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) IncPuts(name string) {
	c.snap.IncPuts(name)
	c.puts.WithLabelValues(name).Inc()
}

func (c *Collector) IncGets(name string) {
	c.snap.IncGets(name)
	c.gets.WithLabelValues(name).Inc()
}

func (c *Collector) IncHits(name string) {
	c.snap.IncHits(name)
	c.hits.WithLabelValues(name).Inc()
}

func (c *Collector) IncMisses(name string) {
	c.snap.IncMisses(name)
	c.misses.WithLabelValues(name).Inc()
}

func (c *Collector) IncDeletes(name string, n int64) {
	if n <= 0 {
		return
	}
	c.snap.IncDeletes(name, n)
	c.deletes.WithLabelValues(name).Add(float64(n))
}

func (c *Collector) IncLockWait(name string, d time.Duration) {
	if d <= 0 {
		return
	}
	c.snap.IncLockWait(name, d)
	c.lockWait.WithLabelValues(name).Add(d.Seconds())
}

func (c *Collector) Statistics(name string) lockcache.Statistics { return c.snap.Statistics(name) }
func (c *Collector) Reset(name string)                           { c.snap.Reset(name) }
