/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package pool implements the fixed-capacity sliding-window and
// packet-buffer pools the forwarder core allocates from. Both pools are
// sized once, at New, and never grow: allocation and reclamation only flip
// in-use flags and overwrite pre-sized storage, matching the bare-metal
// target's "no heap" constraint as closely as a hosted Go program can.
package pool

import (
	"github.com/kfathallah/contiki-mcast/serial"
)

// MaxWindows and MaxPackets bound how large a caller may ask New to size
// the pools; they stand in for the compile-time array sizes of the source
// implementation.
const (
	MaxWindows = 64
	MaxPackets = 256

	// noSeq is the "-1" sentinel for lower_bound/upper_bound/min_listed.
	noSeq = -1
)

// SeedID identifies the originating node of a multicast stream. In short
// mode it carries a 16-bit id out of the HBH option; in long mode it is
// the 128-bit source IPv6 address and is never carried on the wire.
type SeedID struct {
	Long  bool
	Short uint16
	Addr  [16]byte
}

// ShortSeedID builds a short-mode SeedID from a 16-bit id.
func ShortSeedID(v uint16) SeedID {
	return SeedID{Short: v}
}

// LongSeedID builds a long-mode SeedID from a 128-bit address.
func LongSeedID(addr [16]byte) SeedID {
	return SeedID{Long: true, Addr: addr}
}

// Equal compares two SeedIDs byte-wise within their mode. Two SeedIDs built
// under different modes are never equal.
func (s SeedID) Equal(o SeedID) bool {
	if s.Long != o.Long {
		return false
	}
	if s.Long {
		return s.Addr == o.Addr
	}
	return s.Short == o.Short
}

// IsNull reports whether s is the all-zero short id or the unspecified
// IPv6 address.
func (s SeedID) IsNull() bool {
	if s.Long {
		return s.Addr == [16]byte{}
	}
	return s.Short == 0
}

// Window is a SlidingWindow: the per-(seed, M) cache of live sequence
// values and their RFC-1982-comparable bounds.
type Window struct {
	InUse   bool
	Seed    SeedID
	M       uint8 // 0 or 1
	Count   int
	Lower   int32 // -1 means unset
	Upper   int32 // -1 means unset
	Listed  bool  // listed-by-current-ICMPv6: any packet (or the window itself) was referenced by the ICMPv6 message under parse
	MinListed int32 // -1 before/outside a parse

	// touched is scratch state used only during UpdateBounds to tell a
	// window's first live packet (which sets Lower==Upper==seq) from
	// subsequent ones (which only extend the bounds).
	touched bool
}

// Packet is a BufferedPacket: a cached copy of a forwardable datagram plus
// its lifetime accounting.
type Packet struct {
	InUse       bool
	Data        []byte // full datagram bytes, capped at the host MTU
	Len         int
	SeqVal      serial.Value
	WindowIndex int // index into Pools.Windows; -1 when InUse is false

	Active int64 // ticks
	Dwell  int64 // ticks; invariant Dwell >= Active

	ShortSeed SeedID // valid only in short-seed mode: the embedded seed id

	MustSend bool
	Listed   bool // listed-in-current-ICMPv6
}

// Pools holds the two fixed-capacity arenas. Capacity is fixed at New and
// never changes afterwards.
type Pools struct {
	Windows []Window
	Packets []Packet
}

// New allocates the two pools at the given sizes. Both bounds are
// inclusive of MaxWindows/MaxPackets.
func New(wins, buffNum int) *Pools {
	if wins <= 0 || wins > MaxWindows {
		panic("pool: window pool size out of range")
	}
	if buffNum <= 0 || buffNum > MaxPackets {
		panic("pool: packet pool size out of range")
	}
	p := &Pools{
		Windows: make([]Window, wins),
		Packets: make([]Packet, buffNum),
	}
	for i := range p.Windows {
		p.Windows[i].Lower = noSeq
		p.Windows[i].Upper = noSeq
		p.Windows[i].MinListed = noSeq
	}
	for i := range p.Packets {
		p.Packets[i].WindowIndex = -1
	}
	return p
}

// AllocateWindow scans the window pool high-to-low for a free slot,
// resets its bounds, marks it in-use and returns its index. ok is false
// when the pool is full.
func (p *Pools) AllocateWindow() (idx int, ok bool) {
	for i := len(p.Windows) - 1; i >= 0; i-- {
		if !p.Windows[i].InUse {
			p.Windows[i] = Window{InUse: true, Lower: noSeq, Upper: noSeq, MinListed: noSeq}
			return i, true
		}
	}
	return -1, false
}

// LookupWindow returns the unique live window matching (seed, m), if any.
func (p *Pools) LookupWindow(seed SeedID, m uint8) (idx int, ok bool) {
	for i := range p.Windows {
		w := &p.Windows[i]
		if w.InUse && w.M == m && w.Seed.Equal(seed) {
			return i, true
		}
	}
	return -1, false
}

// FreeWindow clears the in-use flag. The caller must ensure no packet
// still references this window (WindowIndex points here) before calling.
func (p *Pools) FreeWindow(idx int) {
	p.Windows[idx] = Window{Lower: noSeq, Upper: noSeq, MinListed: noSeq}
}

// AllocatePacket scans the packet pool high-to-low for a free slot.
func (p *Pools) AllocatePacket() (idx int, ok bool) {
	for i := len(p.Packets) - 1; i >= 0; i-- {
		if !p.Packets[i].InUse {
			p.Packets[i] = Packet{InUse: true, WindowIndex: -1}
			return i, true
		}
	}
	return -1, false
}

// ReclaimPacket evicts a packet to make room for a new one. It selects the
// live window with the largest Count (ties broken by whichever is reached
// first scanning high-to-low); if that maximum is 1, it refuses, since no
// window may be starved below a single buffered packet. Otherwise it frees
// the packet in that window whose SeqVal equals the window's Lower bound,
// decrements Count, and recomputes bounds across all windows.
func (p *Pools) ReclaimPacket() (idx int, ok bool) {
	biggest := -1
	biggestCount := 0
	for i := len(p.Windows) - 1; i >= 0; i-- {
		w := &p.Windows[i]
		if w.InUse && w.Count > biggestCount {
			biggestCount = w.Count
			biggest = i
		}
	}
	if biggest < 0 || biggestCount <= 1 {
		return -1, false
	}

	w := &p.Windows[biggest]
	for i := range p.Packets {
		pk := &p.Packets[i]
		if pk.InUse && pk.WindowIndex == biggest && int32(pk.SeqVal) == w.Lower {
			freed := i
			p.Packets[i] = Packet{WindowIndex: -1}
			w.Count--
			p.UpdateBounds()
			return freed, true
		}
	}
	// Invariant violation: a window claimed Count>0 but no matching packet
	// was found. Treat as exhaustion rather than panic.
	return -1, false
}

// UpdateBounds recomputes Lower/Upper for every live window from scratch,
// by scanning every live packet. Call after any bulk change to the packet
// set (periodic processing, reclaim).
func (p *Pools) UpdateBounds() {
	for i := range p.Windows {
		w := &p.Windows[i]
		if !w.InUse {
			continue
		}
		w.Lower = noSeq
		w.Upper = noSeq
		w.touched = false
	}

	for i := range p.Packets {
		pk := &p.Packets[i]
		if !pk.InUse || pk.WindowIndex < 0 {
			continue
		}
		w := &p.Windows[pk.WindowIndex]
		if !w.touched {
			w.Lower = int32(pk.SeqVal)
			w.Upper = int32(pk.SeqVal)
			w.touched = true
			continue
		}
		if serial.Lt(pk.SeqVal, serial.Value(w.Lower)) {
			w.Lower = int32(pk.SeqVal)
		}
		if serial.Gt(pk.SeqVal, serial.Value(w.Upper)) {
			w.Upper = int32(pk.SeqVal)
		}
	}
}

// LiveWindows returns the indices of all currently in-use windows, in
// pool order.
func (p *Pools) LiveWindows() []int {
	var out []int
	for i := range p.Windows {
		if p.Windows[i].InUse {
			out = append(out, i)
		}
	}
	return out
}

// PacketsIn returns the indices of all live packets bound to window idx,
// in pool order.
func (p *Pools) PacketsIn(idx int) []int {
	var out []int
	for i := range p.Packets {
		if p.Packets[i].InUse && p.Packets[i].WindowIndex == idx {
			out = append(out, i)
		}
	}
	return out
}
