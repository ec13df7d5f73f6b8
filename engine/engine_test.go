/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package engine

import (
	"net"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/kfathallah/contiki-mcast/adapters/simstack"
	"github.com/kfathallah/contiki-mcast/metrics"
	"github.com/kfathallah/contiki-mcast/serial"
	"github.com/kfathallah/contiki-mcast/wire"
)

const testMTU = 1280

var linkLocalSrc = net.ParseIP("fe80::1")
var allRoutersMcast = net.ParseIP("ff02::2")

func testConfig() Config {
	return Config{
		Params: [2]ParamConfig{
			{IMin: 16, IMax: 4, K: 4, TActive: 2, TDwell: 4},
			{IMin: 16, IMax: 4, K: 4, TActive: 2, TDwell: 4},
		},
		Wins:       4,
		BuffNum:    4,
		ShortSeeds: true,
		ICMPCode:   0,
		IPHopLimit: DefaultIPHopLimit,
	}
}

type harness struct {
	eng   *Engine
	stack *simstack.Stack
	clock *simstack.Clock
	sched *simstack.Scheduler
	stats *metrics.Stats
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	stack := simstack.NewStack(testMTU)
	stack.SetLinkLocalAddress(linkLocalSrc)
	clock := &simstack.Clock{}
	sched := simstack.NewScheduler(clock)
	rng := simstack.NewRNG(42)
	stats := &metrics.Stats{}

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	eng := New(cfg, stack, clock, rng, sched, simstack.Watchdog{}, stats, log)
	eng.Init()

	return &harness{eng: eng, stack: stack, clock: clock, sched: sched, stats: stats}
}

// buildDatagram assembles a 40-byte IPv6 header, an 8-byte Trickle HBH
// block and a payload into one buffer ready to hand to the engine.
func buildDatagram(t *testing.T, src, dst net.IP, hopLimit uint8, seed uint16, m uint8, seq serial.Value, payload []byte) []byte {
	t.Helper()
	buf := make([]byte, wire.FixedHeaderLen+8+len(payload))
	hdr, err := wire.NewIPv6Header(buf)
	if err != nil {
		t.Fatalf("NewIPv6Header: %v", err)
	}
	hdr.SetNextHeader(nextHeaderHBH)
	hdr.SetHopLimit(hopLimit)
	hdr.SetSource(src)
	hdr.SetDestination(dst)
	hdr.SetPayloadLen(uint16(8 + len(payload)))

	opt := wire.HBHOption{Seed: wire.SeedID{Short: seed}, M: m, Seq: seq}
	block := wire.EncodeHBH(wire.ShortSeed, 59 /* no next header */, opt)
	copy(buf[wire.FixedHeaderLen:wire.FixedHeaderLen+8], block)
	copy(buf[wire.FixedHeaderLen+8:], payload)
	return buf
}

func deliverInbound(h *harness, dgram []byte) bool {
	buf := h.stack.Buffer()
	copy(buf, dgram)
	h.stack.SetBufferLen(len(dgram))
	return h.eng.Accept(DirectionInbound)
}

// A fresh (seed, m, seq) is accepted: one window and one packet
// allocated, mcast_in_unique incremented.
func TestAcceptFreshSeed(t *testing.T) {
	h := newHarness(t, testConfig())
	dgram := buildDatagram(t, linkLocalSrc, allRoutersMcast, 64, 0xabcd, 0, serial.Value(1), []byte("hello"))

	if ok := deliverInbound(h, dgram); !ok {
		t.Fatalf("Accept() = false, want true")
	}
	if got := len(h.eng.pools.LiveWindows()); got != 1 {
		t.Fatalf("live windows = %d, want 1", got)
	}
	if got := h.stats.Snapshot().McastInUnique; got != 1 {
		t.Fatalf("mcast_in_unique = %d, want 1", got)
	}
}

// The same (seed, m, seq) delivered twice is rejected the second time
// as a duplicate, bumping mcast_dropped rather than mcast_in_unique.
func TestAcceptDuplicateRejected(t *testing.T) {
	h := newHarness(t, testConfig())
	dgram := buildDatagram(t, linkLocalSrc, allRoutersMcast, 64, 0xabcd, 0, serial.Value(1), []byte("hello"))

	if ok := deliverInbound(h, dgram); !ok {
		t.Fatalf("first Accept() = false, want true")
	}
	if ok := deliverInbound(h, dgram); ok {
		t.Fatalf("second Accept() = true, want false (duplicate)")
	}
	snap := h.stats.Snapshot()
	if snap.McastInUnique != 1 {
		t.Fatalf("mcast_in_unique = %d, want 1", snap.McastInUnique)
	}
	if snap.McastDropped != 1 {
		t.Fatalf("mcast_dropped = %d, want 1", snap.McastDropped)
	}
}

// Two originates starting one tick before the serial space wraps
// produce sequence numbers 0x0000 then 0x0001.
func TestOriginateSerialWrap(t *testing.T) {
	h := newHarness(t, testConfig())
	h.eng.lastSeq = serial.Value(0x7fff)

	payload := make([]byte, wire.FixedHeaderLen)
	hdr, _ := wire.NewIPv6Header(payload)
	hdr.SetNextHeader(59)
	hdr.SetHopLimit(64)
	hdr.SetSource(linkLocalSrc)
	hdr.SetDestination(allRoutersMcast)

	buf := h.stack.Buffer()
	copy(buf, payload)
	h.stack.SetBufferLen(len(payload))
	if ok := h.eng.Originate(); !ok {
		t.Fatalf("first Originate() = false, want true")
	}
	if h.eng.lastSeq != 0x0000 {
		t.Fatalf("first originate seq = %#x, want 0x0000", h.eng.lastSeq)
	}

	copy(buf, payload)
	h.stack.SetBufferLen(len(payload))
	if ok := h.eng.Originate(); !ok {
		t.Fatalf("second Originate() = false, want true")
	}
	if h.eng.lastSeq != 0x0001 {
		t.Fatalf("second originate seq = %#x, want 0x0001", h.eng.lastSeq)
	}
}

// A buffered packet whose dwell budget elapses is freed, and so is
// its window once its last packet is gone.
func TestDwellExpiryFreesPacketAndWindow(t *testing.T) {
	h := newHarness(t, testConfig())
	dgram := buildDatagram(t, linkLocalSrc, allRoutersMcast, 64, 0x1111, 0, serial.Value(7), nil)
	if ok := deliverInbound(h, dgram); !ok {
		t.Fatalf("Accept() = false, want true")
	}

	dwellBudget := h.eng.timers[0].DwellBudget()
	h.clock.Advance(dwellBudget + 1)

	for i := 0; i < 64 && h.sched.Fire(); i++ {
	}

	if got := len(h.eng.pools.LiveWindows()); got != 0 {
		t.Fatalf("live windows after dwell expiry = %d, want 0", got)
	}
}

// An ICMPv6 summary that lists exactly what's buffered increments the
// consistency counter without resetting the timer.
func TestConsistentSummaryIncrementsCounter(t *testing.T) {
	h := newHarness(t, testConfig())
	dgram := buildDatagram(t, linkLocalSrc, allRoutersMcast, 64, 0x2222, 0, serial.Value(3), nil)
	if ok := deliverInbound(h, dgram); !ok {
		t.Fatalf("Accept() = false, want true")
	}
	h.eng.timers[0].Inconsistency = false
	before := h.eng.timers[0].TStart

	icmp := buildICMPv6Summary(t, []wire.SeqListEntry{
		{Long: false, M: 0, Seed: wire.SeedID{Short: 0x2222}, Seqs: []serial.Value{3}},
	})
	buf := h.stack.Buffer()
	copy(buf, icmp)
	h.stack.SetBufferLen(len(icmp))

	if ok := h.eng.IcmpInput(); !ok {
		t.Fatalf("IcmpInput() = false, want true")
	}
	if h.eng.timers[0].C != 1 {
		t.Fatalf("C = %d, want 1", h.eng.timers[0].C)
	}
	if h.eng.timers[0].TStart != before {
		t.Fatalf("TStart changed, timer was reset but consistent summary should not reset it")
	}
}

// An ICMPv6 summary naming a window we don't hold at all is "they
// have new" information we can't corroborate: it must raise an
// inconsistency and reset that timer.
func TestUnknownWindowTriggersInconsistency(t *testing.T) {
	h := newHarness(t, testConfig())
	before := h.eng.timers[0].TStart
	h.clock.Advance(5)

	icmp := buildICMPv6Summary(t, []wire.SeqListEntry{
		{Long: false, M: 0, Seed: wire.SeedID{Short: 0x9999}, Seqs: []serial.Value{1}},
	})
	buf := h.stack.Buffer()
	copy(buf, icmp)
	h.stack.SetBufferLen(len(icmp))

	if ok := h.eng.IcmpInput(); !ok {
		t.Fatalf("IcmpInput() = false, want true")
	}
	if h.eng.timers[0].TStart == before {
		t.Fatalf("TStart unchanged, want timer reset on unknown-window inconsistency")
	}
	if h.eng.timers[0].C != 0 {
		t.Fatalf("C = %d, want 0 after reset", h.eng.timers[0].C)
	}
}

// With only two packet slots, a datagram for a second seed forces
// reclamation from whichever existing window holds the most packets.
func TestReclaimUnderPressure(t *testing.T) {
	cfg := testConfig()
	cfg.Wins = 4
	cfg.BuffNum = 2
	h := newHarness(t, cfg)

	d1 := buildDatagram(t, linkLocalSrc, allRoutersMcast, 64, 0x0001, 0, serial.Value(1), nil)
	d2 := buildDatagram(t, linkLocalSrc, allRoutersMcast, 64, 0x0001, 0, serial.Value(2), nil)
	if ok := deliverInbound(h, d1); !ok {
		t.Fatalf("accept d1 failed")
	}
	if ok := deliverInbound(h, d2); !ok {
		t.Fatalf("accept d2 failed")
	}

	d3 := buildDatagram(t, linkLocalSrc, allRoutersMcast, 64, 0x0002, 0, serial.Value(1), nil)
	if ok := deliverInbound(h, d3); !ok {
		t.Fatalf("accept d3 (should reclaim) failed")
	}

	total := 0
	for i := range h.eng.pools.Packets {
		if h.eng.pools.Packets[i].InUse {
			total++
		}
	}
	if total != 2 {
		t.Fatalf("live packets = %d, want 2 (pool capacity)", total)
	}
}

func buildICMPv6Summary(t *testing.T, entries []wire.SeqListEntry) []byte {
	t.Helper()
	payload := wire.EncodeSummary(entries)
	buf := make([]byte, wire.FixedHeaderLen+icmpHeaderLen+len(payload))
	hdr, err := wire.NewIPv6Header(buf)
	if err != nil {
		t.Fatalf("NewIPv6Header: %v", err)
	}
	hdr.SetNextHeader(58)
	hdr.SetHopLimit(DefaultIPHopLimit)
	hdr.SetSource(linkLocalSrc)
	hdr.SetDestination(allRoutersMcast)
	hdr.SetPayloadLen(uint16(icmpHeaderLen + len(payload)))

	icmp := buf[wire.FixedHeaderLen:]
	icmp[0] = icmpTypeTrickleMcast
	icmp[1] = 0
	copy(icmp[icmpHeaderLen:], payload)
	return buf
}
