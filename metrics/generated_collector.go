/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Code generated by cmd/metricsgen from the `mcast` struct tags on Stats.
// DO NOT EDIT.

package metrics

import "github.com/prometheus/client_golang/prometheus"

type statDesc struct {
	desc     *prometheus.Desc
	valType  prometheus.ValueType
	supplier func(*Stats) uint64
}

func newStatDescs(namespace string, constLabels prometheus.Labels) []statDesc {
	return []statDesc{
		{
			desc:     prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "mcast_in_all"), "Inbound multicast datagrams seen, before any drop decision.", nil, constLabels),
			valType:  prometheus.CounterValue,
			supplier: func(s *Stats) uint64 { return s.Snapshot().McastInAll },
		},
		{
			desc:     prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "mcast_in_unique"), "Inbound multicast datagrams accepted as new (not duplicate/stale).", nil, constLabels),
			valType:  prometheus.CounterValue,
			supplier: func(s *Stats) uint64 { return s.Snapshot().McastInUnique },
		},
		{
			desc:     prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "mcast_fwd"), "Buffered datagrams re-transmitted during periodic processing.", nil, constLabels),
			valType:  prometheus.CounterValue,
			supplier: func(s *Stats) uint64 { return s.Snapshot().McastFwd },
		},
		{
			desc:     prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "mcast_out"), "Locally originated multicast datagrams accepted for transmission.", nil, constLabels),
			valType:  prometheus.CounterValue,
			supplier: func(s *Stats) uint64 { return s.Snapshot().McastOut },
		},
		{
			desc:     prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "mcast_bad"), "Inbound multicast datagrams dropped as malformed.", nil, constLabels),
			valType:  prometheus.CounterValue,
			supplier: func(s *Stats) uint64 { return s.Snapshot().McastBad },
		},
		{
			desc:     prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "mcast_dropped"), "Inbound multicast datagrams dropped as duplicate/stale or to resource exhaustion.", nil, constLabels),
			valType:  prometheus.CounterValue,
			supplier: func(s *Stats) uint64 { return s.Snapshot().McastDropped },
		},
		{
			desc:     prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "icmp_in"), "ICMPv6 Trickle-mcast messages received.", nil, constLabels),
			valType:  prometheus.CounterValue,
			supplier: func(s *Stats) uint64 { return s.Snapshot().IcmpIn },
		},
		{
			desc:     prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "icmp_out"), "ICMPv6 Trickle-mcast summaries emitted.", nil, constLabels),
			valType:  prometheus.CounterValue,
			supplier: func(s *Stats) uint64 { return s.Snapshot().IcmpOut },
		},
		{
			desc:     prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "icmp_bad"), "ICMPv6 Trickle-mcast messages dropped as malformed.", nil, constLabels),
			valType:  prometheus.CounterValue,
			supplier: func(s *Stats) uint64 { return s.Snapshot().IcmpBad },
		},
	}
}
