// Package metrics exports streamer statistics to Prometheus.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bamsammich/streamio/internal/stats"
)

// Source is anything publishing a statistics snapshot, normally a *streamer.Streamer.
type Source interface {
	ID() string
	Statistics() []stats.Stat
}

var descStat = prometheus.NewDesc(
	"streamio_stat",
	"Latest value of a streamer statistic, labeled by stage, statistic name and kind.",
	[]string{"run", "stage", "name", "kind"}, nil,
)

var descStats = prometheus.NewDesc(
	"streamio_stats_published",
	"Number of statistics in the latest snapshot.",
	[]string{"run"}, nil,
)

type collector struct {
	sources []Source
}

var _ prometheus.Collector = &collector{}

// NewCollector returns a collector reading the latest snapshot of each source
// on every scrape. Counts and byte totals are exported as gauges because a
// stage's counters restart when the stack is rebuilt.
func NewCollector(sources ...Source) prometheus.Collector {
	return &collector{sources: sources}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descStat
	ch <- descStats
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	for _, src := range c.sources {
		run := src.ID()
		snapshot := src.Statistics()
		ch <- prometheus.MustNewConstMetric(descStats, prometheus.GaugeValue, float64(len(snapshot)), run)
		for _, s := range snapshot {
			stage, name := splitName(s.Name)
			ch <- prometheus.MustNewConstMetric(descStat, prometheus.GaugeValue, s.Value, run, stage, name, s.Kind.String())
		}
	}
}

// splitName turns "DedicatedCache.Cache.0.HitRate" into ("DedicatedCache", "Cache.0.HitRate").
func splitName(full string) (stage, name string) {
	stage, name, ok := strings.Cut(full, ".")
	if !ok {
		return "", full
	}
	return stage, name
}

// NewRegistry builds a registry with the Go runtime collectors and one
// collector over sources.
func NewRegistry(sources ...Source) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		NewCollector(sources...),
	)
	return reg
}
