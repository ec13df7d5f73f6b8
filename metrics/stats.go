/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package metrics exposes the forwarder's write-only failure/activity
// counters to the outside world as Prometheus counters, using a
// tagged-struct-plus-reflection style for per-field metric generation.
package metrics

import "sync/atomic"

// Stats holds the forwarder's only user-visible signal of failure: a set
// of monotonic counters. Every field is incremented with
// atomic.AddUint64; the engine itself is single-threaded, so the atomics
// only guard against a concurrent Prometheus scrape reading a torn value,
// not concurrent writers.
type Stats struct {
	McastInAll    uint64 `mcast:"name=mcast_in_all,prom_type=counter,prom_help='Inbound multicast datagrams seen, before any drop decision.'"`
	McastInUnique uint64 `mcast:"name=mcast_in_unique,prom_type=counter,prom_help='Inbound multicast datagrams accepted as new (not duplicate/stale).'"`
	McastFwd      uint64 `mcast:"name=mcast_fwd,prom_type=counter,prom_help='Buffered datagrams re-transmitted during periodic processing.'"`
	McastOut      uint64 `mcast:"name=mcast_out,prom_type=counter,prom_help='Locally originated multicast datagrams accepted for transmission.'"`
	McastBad      uint64 `mcast:"name=mcast_bad,prom_type=counter,prom_help='Inbound multicast datagrams dropped as malformed.'"`
	McastDropped  uint64 `mcast:"name=mcast_dropped,prom_type=counter,prom_help='Inbound multicast datagrams dropped as duplicate/stale or to resource exhaustion.'"`
	IcmpIn        uint64 `mcast:"name=icmp_in,prom_type=counter,prom_help='ICMPv6 Trickle-mcast messages received.'"`
	IcmpOut       uint64 `mcast:"name=icmp_out,prom_type=counter,prom_help='ICMPv6 Trickle-mcast summaries emitted.'"`
	IcmpBad       uint64 `mcast:"name=icmp_bad,prom_type=counter,prom_help='ICMPv6 Trickle-mcast messages dropped as malformed.'"`
}

func (s *Stats) incr(counter *uint64) { atomic.AddUint64(counter, 1) }

func (s *Stats) McastInAllInc()    { s.incr(&s.McastInAll) }
func (s *Stats) McastInUniqueInc() { s.incr(&s.McastInUnique) }
func (s *Stats) McastFwdInc()      { s.incr(&s.McastFwd) }
func (s *Stats) McastOutInc()      { s.incr(&s.McastOut) }
func (s *Stats) McastBadInc()      { s.incr(&s.McastBad) }
func (s *Stats) McastDroppedInc()  { s.incr(&s.McastDropped) }
func (s *Stats) IcmpInInc()        { s.incr(&s.IcmpIn) }
func (s *Stats) IcmpOutInc()       { s.incr(&s.IcmpOut) }
func (s *Stats) IcmpBadInc()       { s.incr(&s.IcmpBad) }

// Snapshot returns a copy of the current counter values, safe to read
// concurrently with the engine's writes.
func (s *Stats) Snapshot() Stats {
	return Stats{
		McastInAll:    atomic.LoadUint64(&s.McastInAll),
		McastInUnique: atomic.LoadUint64(&s.McastInUnique),
		McastFwd:      atomic.LoadUint64(&s.McastFwd),
		McastOut:      atomic.LoadUint64(&s.McastOut),
		McastBad:      atomic.LoadUint64(&s.McastBad),
		McastDropped:  atomic.LoadUint64(&s.McastDropped),
		IcmpIn:        atomic.LoadUint64(&s.IcmpIn),
		IcmpOut:       atomic.LoadUint64(&s.IcmpOut),
		IcmpBad:       atomic.LoadUint64(&s.IcmpBad),
	}
}
