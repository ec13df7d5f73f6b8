/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package pool

import (
	"testing"

	"github.com/kfathallah/contiki-mcast/serial"
)

func newPacket(p *Pools, windowIdx int, seq serial.Value) int {
	pi, ok := p.AllocatePacket()
	if !ok {
		panic("test setup: packet pool exhausted")
	}
	p.Packets[pi].WindowIndex = windowIdx
	p.Packets[pi].SeqVal = seq
	w := &p.Windows[windowIdx]
	if w.Count == 0 {
		w.Lower = int32(seq)
	}
	if w.Count == 0 || serial.Gt(seq, serial.Value(w.Upper)) {
		w.Upper = int32(seq)
	}
	w.Count++
	return pi
}

func TestWindowAllocateHighToLow(t *testing.T) {
	p := New(4, 8)
	idx, ok := p.AllocateWindow()
	if !ok || idx != 3 {
		t.Fatalf("first allocation = (%d,%v), want (3,true)", idx, ok)
	}
	idx, ok = p.AllocateWindow()
	if !ok || idx != 2 {
		t.Fatalf("second allocation = (%d,%v), want (2,true)", idx, ok)
	}
}

func TestWindowPoolExhaustion(t *testing.T) {
	p := New(2, 8)
	if _, ok := p.AllocateWindow(); !ok {
		t.Fatal("expected first allocation to succeed")
	}
	if _, ok := p.AllocateWindow(); !ok {
		t.Fatal("expected second allocation to succeed")
	}
	if _, ok := p.AllocateWindow(); ok {
		t.Fatal("expected third allocation to fail: pool exhausted")
	}
}

func TestLookupWindowUniqueness(t *testing.T) {
	p := New(4, 8)
	wi, _ := p.AllocateWindow()
	p.Windows[wi].Seed = ShortSeedID(0xBEEF)
	p.Windows[wi].M = 0

	if found, ok := p.LookupWindow(ShortSeedID(0xBEEF), 0); !ok || found != wi {
		t.Fatalf("LookupWindow = (%d,%v), want (%d,true)", found, ok, wi)
	}
	if _, ok := p.LookupWindow(ShortSeedID(0xBEEF), 1); ok {
		t.Fatal("lookup with wrong M must not match (I4)")
	}
	if _, ok := p.LookupWindow(ShortSeedID(0xCAFE), 0); ok {
		t.Fatal("lookup with wrong seed must not match")
	}
}

// UpdateBounds must produce bounds that contain every live packet's
// sequence value.
func TestUpdateBoundsInvariant(t *testing.T) {
	p := New(4, 8)
	wi, _ := p.AllocateWindow()
	p.Windows[wi].Seed = ShortSeedID(1)

	newPacket(p, wi, 7)
	newPacket(p, wi, 9)
	newPacket(p, wi, 3)
	p.UpdateBounds()

	w := p.Windows[wi]
	if w.Lower != 3 || w.Upper != 9 {
		t.Fatalf("bounds = [%d,%d], want [3,9]", w.Lower, w.Upper)
	}
}

// S7 — reclaim under pressure: fill BUFF_NUM=8 across two windows with
// count={6,2}; a new datagram for a third seed should evict the lower
// bound of the window with count=6.
func TestReclaimPicksLargestWindow(t *testing.T) {
	p := New(4, 8)
	w1, _ := p.AllocateWindow()
	p.Windows[w1].Seed = ShortSeedID(1)
	w2, _ := p.AllocateWindow()
	p.Windows[w2].Seed = ShortSeedID(2)

	for i := 0; i < 6; i++ {
		newPacket(p, w1, serial.Value(100+i))
	}
	for i := 0; i < 2; i++ {
		newPacket(p, w2, serial.Value(200+i))
	}
	p.UpdateBounds()

	freedIdx, ok := p.ReclaimPacket()
	if !ok {
		t.Fatal("expected reclaim to succeed")
	}
	if p.Packets[freedIdx].InUse {
		t.Fatal("reclaimed packet slot must be free")
	}
	if got := p.Windows[w1].Count; got != 5 {
		t.Fatalf("w1.Count = %d, want 5", got)
	}
	if got := p.Windows[w2].Count; got != 2 {
		t.Fatalf("w2.Count = %d, want unchanged 2", got)
	}
}

// ReclaimPacket must refuse when the largest window holds exactly one
// packet — no window may be starved below a single buffered packet.
func TestReclaimRefusesAtCountOne(t *testing.T) {
	p := New(4, 2)
	w1, _ := p.AllocateWindow()
	p.Windows[w1].Seed = ShortSeedID(1)
	newPacket(p, w1, 42)
	p.UpdateBounds()

	if _, ok := p.ReclaimPacket(); ok {
		t.Fatal("expected reclaim to refuse when largest window has count=1")
	}
}

func TestFreeWindowResetsBounds(t *testing.T) {
	p := New(2, 4)
	wi, _ := p.AllocateWindow()
	p.Windows[wi].Seed = ShortSeedID(9)
	newPacket(p, wi, 5)
	p.FreeWindow(wi)

	if p.Windows[wi].InUse {
		t.Fatal("window should be free")
	}
	if p.Windows[wi].Lower != noSeq || p.Windows[wi].Upper != noSeq {
		t.Fatal("freed window bounds should reset to -1")
	}
}

func TestSeedIDEqualAndNull(t *testing.T) {
	a := ShortSeedID(0)
	if !a.IsNull() {
		t.Fatal("all-zero short id should be null")
	}
	b := LongSeedID([16]byte{})
	if !b.IsNull() {
		t.Fatal("unspecified address should be null")
	}
	if a.Equal(b) {
		t.Fatal("short and long mode SeedIDs must never be equal")
	}
}
