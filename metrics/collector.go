/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector adapts a Stats pointer to prometheus.Collector, exposing each
// counter as a const metric computed on demand at scrape time.
type Collector struct {
	stats *Stats
	descs []statDesc
}

// NewCollector builds a Collector over stats. namespace prefixes every
// metric name (e.g. "mcast"); constLabels are attached to every series
// (hostname, interface, build mode, etc).
func NewCollector(stats *Stats, namespace string, constLabels prometheus.Labels) *Collector {
	return &Collector{
		stats: stats,
		descs: newStatDescs(namespace, constLabels),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d.desc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, d := range c.descs {
		ch <- prometheus.MustNewConstMetric(d.desc, d.valType, float64(d.supplier(c.stats)))
	}
}
