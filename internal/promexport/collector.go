// Package promexport exposes a run's metric registry in the Prometheus text
// format while the run is in progress.
package promexport

import (
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"steadyvu/internal/stats"
)

const namespace = "steadyvu"

// Collector converts the live values of a stats.Registry into Prometheus
// metrics on every scrape. Counters become counters, rates become gauges
// holding the true fraction and trends become summaries in milliseconds,
// read from their histograms so a scrape never copies trend samples.
// Per-group submetrics such as http_req_duration{group:login} are folded
// into their base family under a "group" label.
type Collector struct {
	reg *stats.Registry
}

func NewCollector(reg *stats.Registry) *Collector {
	return &Collector{reg: reg}
}

var summaryQuantiles = []float64{50, 90, 95, 99}

// Describe sends nothing: metric names are only known once observed, which
// makes this an unchecked collector.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, name := range c.reg.Names() {
		kind, ok := c.reg.Kind(name)
		if !ok {
			continue
		}
		base, group := splitGroup(name)

		switch kind {
		case stats.Counter:
			v, _ := c.reg.Live(name)
			desc := prometheus.NewDesc(fqName(base, "_total"), "Counter "+base+".", []string{"group"}, nil)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, v, group)
		case stats.Rate:
			v, _ := c.reg.Live(name)
			desc := prometheus.NewDesc(fqName(base, "_ratio"), "Share of true observations of "+base+".", []string{"group"}, nil)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, group)
		case stats.Trend:
			lt, ok := c.reg.LiveTrendOf(name, summaryQuantiles...)
			if !ok {
				continue
			}
			quantiles := make(map[float64]float64, len(lt.Quantiles))
			for q, v := range lt.Quantiles {
				quantiles[q/100] = v
			}
			desc := prometheus.NewDesc(fqName(base, ""), "Trend "+base+" (ms).", []string{"group"}, nil)
			ch <- prometheus.MustNewConstSummary(desc, uint64(lt.Count), lt.Mean*float64(lt.Count), quantiles, group)
		}
	}

	groups := c.reg.LiveGroups()
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	callsDesc := prometheus.NewDesc(fqName("group_calls", "_total"), "API calls per group by outcome.", []string{"group", "outcome"}, nil)
	for _, group := range names {
		g := groups[group]
		ch <- prometheus.MustNewConstMetric(callsDesc, prometheus.CounterValue, float64(g.Success), group, "success")
		ch <- prometheus.MustNewConstMetric(callsDesc, prometheus.CounterValue, float64(g.Failure), group, "failure")
	}
}

// splitGroup splits "base{group:name}" into its parts.
func splitGroup(name string) (base, group string) {
	i := strings.Index(name, "{group:")
	if i < 0 || !strings.HasSuffix(name, "}") {
		return name, ""
	}
	return name[:i], name[i+len("{group:") : len(name)-1]
}

func fqName(base, suffix string) string {
	clean := sanitize(base)
	if suffix != "" && !strings.HasSuffix(clean, suffix) {
		clean += suffix
	}
	return prometheus.BuildFQName(namespace, "", clean)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
