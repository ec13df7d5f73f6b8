/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package engine implements the forwarder core: it binds the serial,
// pool, wire and trickle packages together over a hostif.Stack and
// decides, for every inbound or locally originated multicast datagram and
// every ICMPv6 Trickle-mcast message, what happens next.
package engine

import (
	"net"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/kfathallah/contiki-mcast/hostif"
	"github.com/kfathallah/contiki-mcast/metrics"
	"github.com/kfathallah/contiki-mcast/pool"
	"github.com/kfathallah/contiki-mcast/serial"
	"github.com/kfathallah/contiki-mcast/trickle"
	"github.com/kfathallah/contiki-mcast/wire"
)

// nextHeaderHBH is IPPROTO_HOPOPTS.
const nextHeaderHBH = 0

// icmpTypeTrickleMcast is the experimental ICMPv6 type used for Trickle
// sequence-list summaries (RFC 4443 private-experimentation range).
const icmpTypeTrickleMcast = 200

const icmpHeaderLen = 4 // type, code, checksum

// Direction distinguishes a datagram the stack just received from one the
// engine is about to originate locally, since the two share almost all of
// the Accept decision but differ in how hop limit and must-send are set.
type Direction int

const (
	DirectionInbound Direction = iota
	DirectionOutbound
)

// Engine is the forwarder core. One Engine owns one pair of Trickle
// timers and one pair of fixed-capacity pools.
type Engine struct {
	cfg   Config
	pools *pool.Pools
	timers [2]trickle.Timer

	lastSeq serial.Value

	stack hostif.Stack
	clock hostif.Clock
	rng   hostif.RNG
	sched hostif.Scheduler
	wd    hostif.Watchdog

	stats *metrics.Stats
	log   *logrus.Entry
}

// New builds an Engine. Init must be called once before any other method.
func New(cfg Config, stack hostif.Stack, clock hostif.Clock, rng hostif.RNG, sched hostif.Scheduler, wd hostif.Watchdog, stats *metrics.Stats, log *logrus.Logger) *Engine {
	return &Engine{
		cfg:   cfg,
		stack: stack,
		clock: clock,
		rng:   rng,
		sched: sched,
		wd:    wd,
		stats: stats,
		log:   log.WithField("component", "engine"),
	}
}

// Init allocates the pools and starts both Trickle timers.
func (e *Engine) Init() {
	e.pools = pool.New(e.cfg.Wins, e.cfg.BuffNum)
	for m := 0; m < 2; m++ {
		e.timers[m] = trickle.Timer{
			Index:   m,
			IMin:    e.cfg.Params[m].IMin,
			IMax:    e.cfg.Params[m].IMax,
			K:       e.cfg.Params[m].K,
			TActive: e.cfg.Params[m].TActive,
			TDwell:  e.cfg.Params[m].TDwell,
		}
		e.startTimer(m)
	}
}

func (e *Engine) startTimer(m int) {
	now := e.clock.Ticks()
	e.timers[m].Reset(now, e.rng, e.sched, func() { e.fireTransmitPoint(m) })
}

func (e *Engine) resetTimer(m int) {
	now := e.clock.Ticks()
	e.timers[m].Reset(now, e.rng, e.sched, func() { e.fireTransmitPoint(m) })
}

// fireTransmitPoint is the scheduled callback for a timer's randomised
// transmission point: if the stack has no link-local address yet, the
// engine declines to do anything I/O-bearing and simply resets the timer
// to try again later.
func (e *Engine) fireTransmitPoint(m int) {
	if _, ok := e.stack.GetLinkLocalAddress(true); !ok {
		e.log.WithError(errNoLinkLocal).Debug("deferring transmit point")
		e.resetTimer(m)
		return
	}
	e.runPeriodic(m)
}

func (e *Engine) fireDouble(m int) {
	now := e.clock.Ticks()
	e.timers[m].DoubleInterval(now, e.rng, e.sched, func() { e.fireTransmitPoint(m) })
}

// runPeriodic is the periodic processing pass for timer m's transmission
// point: age every buffered packet bound to a window of this
// parametrization, free whatever has dwelled too long, re-transmit
// whatever is due, and emit a consistency summary if suppression allows
// it.
func (e *Engine) runPeriodic(m int) {
	t := &e.timers[m]
	now := e.clock.Ticks()

	diffStart := int64(now - t.TStart)
	diffLast := int64(now - t.TLastTrigger)
	t.TLastTrigger = now

	var live []int
	for i := range e.pools.Packets {
		pk := &e.pools.Packets[i]
		if pk.InUse && pk.WindowIndex >= 0 && e.pools.Windows[pk.WindowIndex].M == uint8(m) {
			live = append(live, i)
		}
	}

	for _, i := range live {
		pk := &e.pools.Packets[i]
		if pk.Active == 0 {
			pk.Active += diffStart
			pk.Dwell += diffStart
		} else {
			pk.Active += diffLast
			pk.Dwell += diffLast
		}

		if uint64(pk.Dwell) > t.DwellBudget() {
			widx := pk.WindowIndex
			e.pools.Packets[i] = pool.Packet{WindowIndex: -1}
			w := &e.pools.Windows[widx]
			w.Count--
			if w.Count <= 0 {
				e.pools.FreeWindow(widx)
			}
			continue
		}

		hdr, err := wire.NewIPv6Header(pk.Data)
		if err != nil {
			continue
		}
		if hdr.HopLimit() == 0 {
			continue
		}

		due := (t.SuppressionEnabled() && pk.MustSend) || (!t.SuppressionEnabled() && uint64(pk.Active) < t.ActiveBudget())
		if due {
			if err := e.transmitCached(pk.Data); err != nil {
				e.log.WithError(err).Warn("retransmit failed")
			} else {
				pk.MustSend = false
				e.wd.Kick()
				e.stats.McastFwdInc()
			}
		}
	}

	if t.ShouldEmitSummary() {
		e.icmpOutput(m)
	}

	t.Inconsistency = false
	t.C = 0
	e.pools.UpdateBounds()
	t.ScheduleDoubleAt(now, e.sched, func() { e.fireDouble(m) })
}

func (e *Engine) transmitCached(datagram []byte) error {
	buf := e.stack.Buffer()
	n := copy(buf, datagram)
	e.stack.SetBufferLen(n)
	return e.stack.Output()
}

// Accept runs the full admission decision (wire-level framing, window
// lookup, pool allocation, bounds update, inconsistency marking) against
// whatever datagram currently sits in the stack's buffer. dir tells it
// whether the datagram just arrived off the link or is about to be
// originated locally.
func (e *Engine) Accept(dir Direction) bool {
	if dir == DirectionInbound {
		e.stats.McastInAllInc()
	}

	buf := e.stack.Buffer()[:e.stack.BufferLen()]
	hdr, err := wire.NewIPv6Header(buf)
	if err != nil {
		e.dropBad(dir, err)
		return false
	}

	dst := hdr.Destination()
	src := hdr.Source()
	if !wire.IsRoutableMulticast(dst) || src.IsUnspecified() {
		e.dropBad(dir, errBadDestOrSource)
		return false
	}

	if hdr.NextHeader() != nextHeaderHBH || len(buf) < wire.FixedHeaderLen+8 {
		e.dropBad(dir, errBadOption)
		return false
	}
	hbhBlock := buf[wire.FixedHeaderLen : wire.FixedHeaderLen+8]
	_, opt, err := wire.DecodeHBH(e.cfg.seedMode(), hbhBlock)
	if err != nil {
		e.dropBad(dir, err)
		return false
	}

	var seed pool.SeedID
	if e.cfg.ShortSeeds {
		seed = opt.Seed
	} else {
		var addr [16]byte
		copy(addr[:], src.To16())
		seed = pool.LongSeedID(addr)
	}
	m := opt.M
	seq := opt.Seq

	widx, haveWindow := e.pools.LookupWindow(seed, m)
	if haveWindow {
		w := &e.pools.Windows[widx]
		if w.Count > 0 && serial.Lt(seq, serial.Value(w.Lower)) {
			e.dropStale(dir, errStaleOrDup)
			return false
		}
		for _, pi := range e.pools.PacketsIn(widx) {
			if e.pools.Packets[pi].SeqVal == seq {
				e.dropStale(dir, errStaleOrDup)
				return false
			}
		}
	}

	if !haveWindow {
		var ok bool
		widx, ok = e.pools.AllocateWindow()
		if !ok {
			e.dropResource(dir, errPoolExhausted)
			return false
		}
	}

	pidx, ok := e.pools.AllocatePacket()
	if !ok {
		pidx, ok = e.pools.ReclaimPacket()
		if !ok {
			if !haveWindow && e.pools.Windows[widx].Count == 0 {
				e.pools.FreeWindow(widx)
			}
			e.dropResource(dir, errPoolExhausted)
			return false
		}
	}

	w := &e.pools.Windows[widx]
	w.InUse = true
	w.M = m
	w.Seed = seed
	if w.Count == 0 {
		w.Lower = int32(seq)
		w.Upper = int32(seq)
	} else if serial.Gt(seq, serial.Value(w.Upper)) {
		w.Upper = int32(seq)
	}
	w.Count++

	dgram := append([]byte(nil), buf...)
	p := &e.pools.Packets[pidx]
	*p = pool.Packet{
		InUse:       true,
		Data:        dgram,
		Len:         len(dgram),
		SeqVal:      seq,
		WindowIndex: widx,
	}
	if e.cfg.ShortSeeds {
		p.ShortSeed = seed
	}

	if dir == DirectionInbound {
		p.MustSend = true
		if h, err := wire.NewIPv6Header(p.Data); err == nil && h.HopLimit() > 0 {
			h.SetHopLimit(h.HopLimit() - 1)
		}
		e.stats.McastInUniqueInc()
	}

	e.timers[m].Inconsistency = true
	e.resetTimer(int(m))

	return true
}

func (e *Engine) dropBad(dir Direction, reason error) {
	if dir == DirectionInbound {
		e.stats.McastBadInc()
	}
	e.log.WithError(reason).WithField("direction", dir).Debug("datagram rejected")
}

func (e *Engine) dropStale(dir Direction, reason error) {
	if dir == DirectionInbound {
		e.stats.McastDroppedInc()
	}
	e.log.WithError(reason).WithField("direction", dir).Debug("datagram dropped")
}

func (e *Engine) dropICMP(reason error) {
	e.stats.IcmpBadInc()
	e.log.WithError(reason).Debug("icmpv6 message rejected")
}

func (e *Engine) dropResource(dir Direction, reason error) {
	if dir == DirectionInbound {
		e.stats.McastDroppedInc()
	}
	e.log.WithError(reason).WithField("direction", dir).Warn("pool exhausted")
}

// Originate wraps the datagram currently sitting in the stack's buffer
// with a Trickle HBH option, advances the sequence counter, and hands it
// to Accept as an outbound admission. On success it transmits via
// stack.Output.
func (e *Engine) Originate() bool {
	if _, ok := e.stack.GetLinkLocalAddress(true); !ok {
		return false
	}

	buf := e.stack.Buffer()
	total := e.stack.BufferLen()
	hdr, err := wire.NewIPv6Header(buf[:total])
	if err != nil {
		return false
	}
	originalProto := hdr.NextHeader()
	originalPayloadLen := hdr.PayloadLen()

	const hbhLen = 8
	if total+hbhLen > len(buf) {
		return false
	}

	copy(buf[wire.FixedHeaderLen+hbhLen:total+hbhLen], buf[wire.FixedHeaderLen:total])
	for i := wire.FixedHeaderLen; i < wire.FixedHeaderLen+hbhLen; i++ {
		buf[i] = 0
	}
	e.stack.SetBufferLen(total + hbhLen)
	e.stack.SetExtLen(e.stack.ExtLen() + hbhLen)

	hdr, err = wire.NewIPv6Header(buf[:total+hbhLen])
	if err != nil {
		return false
	}
	hdr.SetNextHeader(nextHeaderHBH)
	hdr.SetPayloadLen(originalPayloadLen + hbhLen)

	var seedID pool.SeedID
	m := uint8(0)
	if e.cfg.SetMBit {
		m = 1
	}
	if e.cfg.ShortSeeds {
		ll, ok := e.stack.GetLinkLocalAddress(true)
		if !ok {
			return false
		}
		b := ll.To16()
		seedID = pool.ShortSeedID(uint16(b[14])<<8 | uint16(b[15]))
	}

	e.lastSeq = serial.Add(e.lastSeq, 1)
	opt := wire.HBHOption{Seed: seedID, M: m, Seq: e.lastSeq}
	block := wire.EncodeHBH(e.cfg.seedMode(), originalProto, opt)
	copy(buf[wire.FixedHeaderLen:wire.FixedHeaderLen+hbhLen], block)

	if !e.Accept(DirectionOutbound) {
		return false
	}
	e.stats.McastOutInc()

	if err := e.stack.Output(); err != nil {
		e.log.WithError(err).Warn("originate transmit failed")
		return false
	}
	return true
}

// IcmpInput parses an ICMPv6 Trickle-mcast message currently sitting in
// the stack's buffer and updates inconsistency state for both timers.
func (e *Engine) IcmpInput() bool {
	buf := e.stack.Buffer()[:e.stack.BufferLen()]
	hdr, err := wire.NewIPv6Header(buf)
	if err != nil {
		e.dropICMP(errBadICMPFraming)
		return false
	}

	if hdr.HopLimit() != e.cfg.hopLimit() {
		e.dropICMP(errBadICMPFraming)
		return false
	}
	if !isLinkLocal(hdr.Source()) || !isLinkLocal(hdr.Destination()) {
		e.dropICMP(errBadICMPFraming)
		return false
	}

	if len(buf) < wire.FixedHeaderLen+icmpHeaderLen {
		e.dropICMP(errBadICMPFraming)
		return false
	}
	icmp := buf[wire.FixedHeaderLen:]
	icmpType := icmp[0]
	icmpCode := icmp[1]
	if icmpType != icmpTypeTrickleMcast || icmpCode != e.cfg.ICMPCode {
		e.dropICMP(errBadICMPFraming)
		return false
	}

	entries, err := wire.DecodeSummary(!e.cfg.ShortSeeds, icmp[icmpHeaderLen:])
	if err != nil {
		e.dropICMP(errBadICMPPayload)
		return false
	}

	for i := range e.pools.Windows {
		w := &e.pools.Windows[i]
		w.Listed = false
		w.MinListed = -1
	}
	for i := range e.pools.Packets {
		e.pools.Packets[i].Listed = false
	}

	for _, entry := range entries {
		var seed pool.SeedID
		if entry.Long {
			seed = pool.LongSeedID(entry.Seed.Addr)
		} else {
			seed = pool.ShortSeedID(entry.Seed.Short)
		}

		widx, ok := e.pools.LookupWindow(seed, entry.M)
		if !ok {
			e.timers[entry.M].Inconsistency = true
			continue
		}

		w := &e.pools.Windows[widx]
		w.Listed = true
		for _, seq := range entry.Seqs {
			if w.Count > 0 && serial.Gt(seq, serial.Value(w.Upper)) {
				e.timers[entry.M].Inconsistency = true
				continue
			}
			within := w.Count > 0 && !serial.Lt(seq, serial.Value(w.Lower)) && !serial.Gt(seq, serial.Value(w.Upper))
			if !within {
				continue
			}
			found := false
			for _, pi := range e.pools.PacketsIn(widx) {
				if e.pools.Packets[pi].SeqVal == seq {
					e.pools.Packets[pi].Listed = true
					if w.MinListed < 0 || serial.Lt(seq, serial.Value(w.MinListed)) {
						w.MinListed = int32(seq)
					}
					found = true
					break
				}
			}
			if !found {
				e.timers[entry.M].Inconsistency = true
			}
		}
	}

	for i := range e.pools.Packets {
		pk := &e.pools.Packets[i]
		if !pk.InUse || pk.WindowIndex < 0 {
			continue
		}
		w := &e.pools.Windows[pk.WindowIndex]
		if !w.Listed {
			e.timers[w.M].Inconsistency = true
			pk.MustSend = true
			continue
		}
		if !pk.Listed && w.MinListed >= 0 && serial.Gt(pk.SeqVal, serial.Value(w.MinListed)) {
			e.timers[w.M].Inconsistency = true
			pk.MustSend = true
		}
	}

	for m := 0; m < 2; m++ {
		if e.timers[m].Inconsistency {
			e.resetTimer(m)
		} else {
			e.timers[m].C++
		}
	}

	e.stats.IcmpInInc()
	return true
}

// icmpOutput builds and emits an ICMPv6 Trickle-mcast summary listing
// every window bound to timer m.
func (e *Engine) icmpOutput(m int) {
	var entries []wire.SeqListEntry
	for _, widx := range e.pools.LiveWindows() {
		w := e.pools.Windows[widx]
		if w.M != uint8(m) || w.Count == 0 {
			continue
		}
		seqs := make([]serial.Value, 0, w.Count)
		for _, pi := range e.pools.PacketsIn(widx) {
			seqs = append(seqs, e.pools.Packets[pi].SeqVal)
		}
		entries = append(entries, wire.SeqListEntry{
			Long: !e.cfg.ShortSeeds,
			M:    w.M,
			Seed: w.Seed,
			Seqs: seqs,
		})
	}

	payload := wire.EncodeSummary(entries)

	destAddr := e.cfg.destAddr()
	dst := net.IP(destAddr[:])
	src := e.stack.SelectSourceAddress(dst)

	total := wire.FixedHeaderLen + icmpHeaderLen + len(payload)
	buf := e.stack.Buffer()
	if total > len(buf) {
		e.log.WithField("trace", xid.New().String()).Warn("summary too large to emit")
		return
	}

	hdr, err := wire.NewIPv6Header(buf[:wire.FixedHeaderLen])
	if err != nil {
		return
	}
	hdr.SetNextHeader(58) // IPPROTO_ICMPV6
	hdr.SetHopLimit(e.cfg.hopLimit())
	hdr.SetSource(src)
	hdr.SetDestination(dst)
	hdr.SetPayloadLen(icmpHeaderLen + len(payload))

	icmp := buf[wire.FixedHeaderLen:total]
	icmp[0] = icmpTypeTrickleMcast
	icmp[1] = e.cfg.ICMPCode
	icmp[2], icmp[3] = 0, 0
	copy(icmp[icmpHeaderLen:], payload)

	sum := e.stack.ICMP6Checksum(src, dst, icmp)
	icmp[2] = byte(sum >> 8)
	icmp[3] = byte(sum)

	e.stack.SetBufferLen(total)
	if err := e.stack.IPv6Output(dst); err != nil {
		e.log.WithError(err).Warn("summary transmit failed")
		return
	}
	e.stats.IcmpOutInc()
}

func (c Config) hopLimit() uint8 {
	if c.IPHopLimit != 0 {
		return c.IPHopLimit
	}
	return DefaultIPHopLimit
}

func (c Config) destAddr() [16]byte {
	if c.DestAllNodes {
		return LinkLocalAllNodes
	}
	return LinkLocalAllRouters
}

func isLinkLocal(ip net.IP) bool {
	return ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}
