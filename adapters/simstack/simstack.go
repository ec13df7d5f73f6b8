/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package simstack is a deterministic, in-process implementation of the
// hostif collaborator interfaces, used to drive the engine under test and
// by cmd/mcastsim without any real sockets, goroutines or wall-clock time.
package simstack

import (
	"net"
	"sort"

	"github.com/kfathallah/contiki-mcast/hostif"
)

// Clock is a manually advanced virtual tick counter.
type Clock struct {
	now uint64
}

func (c *Clock) Ticks() uint64 { return c.now }

// Advance moves the clock forward by n ticks and returns the new value.
func (c *Clock) Advance(n uint64) uint64 {
	c.now += n
	return c.now
}

// Set pins the clock to an absolute tick value, used to jump straight to
// a scheduled callback's fire time.
func (c *Clock) Set(t uint64) { c.now = t }

// RNG is a seeded linear congruential generator: fixed output for a fixed
// seed, independent of wall-clock entropy, using Knuth's MMIX multiplier
// and increment.
type RNG struct {
	state uint64
}

func NewRNG(seed uint64) *RNG {
	if seed == 0 {
		seed = 1
	}
	return &RNG{state: seed}
}

func (r *RNG) Uint32() uint32 {
	r.state = r.state*6364136223846793005 + 1442695040888963407
	return uint32(r.state >> 32)
}

// pending is one outstanding scheduled callback.
type pending struct {
	due uint64
	fn  func()
}

// Scheduler is a map-backed queue of pending callbacks, keyed by
// hostif.Handle. Rescheduling a handle implicitly drops whatever was
// pending on it, matching the Scheduler contract.
type Scheduler struct {
	clock   *Clock
	pending map[hostif.Handle]*pending
}

func NewScheduler(clock *Clock) *Scheduler {
	return &Scheduler{clock: clock, pending: make(map[hostif.Handle]*pending)}
}

func (s *Scheduler) Schedule(h hostif.Handle, delayTicks uint64, fn func()) {
	s.pending[h] = &pending{due: s.clock.Ticks() + delayTicks, fn: fn}
}

// Next returns the due time of the next scheduled callback, or ok=false
// if nothing is pending.
func (s *Scheduler) Next() (due uint64, ok bool) {
	for _, p := range s.pending {
		if !ok || p.due < due {
			due = p.due
			ok = true
		}
	}
	return due, ok
}

// Fire advances the clock to the earliest pending callback (if it is
// later than the current time) and runs every callback due at or before
// that time, in ascending Handle order. It returns false if nothing was
// pending.
func (s *Scheduler) Fire() bool {
	due, ok := s.Next()
	if !ok {
		return false
	}
	if due > s.clock.Ticks() {
		s.clock.Set(due)
	}
	var dueHandles []hostif.Handle
	for h, p := range s.pending {
		if p.due <= s.clock.Ticks() {
			dueHandles = append(dueHandles, h)
		}
	}
	sort.Slice(dueHandles, func(i, j int) bool { return dueHandles[i] < dueHandles[j] })
	for _, h := range dueHandles {
		p := s.pending[h]
		delete(s.pending, h)
		p.fn()
	}
	return true
}

// Watchdog is a no-op: the simulation has no hardware reset timer to
// feed.
type Watchdog struct{}

func (Watchdog) Kick() {}

// Stack is a loopback hostif.Stack: Output and IPv6Output deliver
// directly into an Inbox rather than touching a real link, and address
// selection is entirely caller-configured.
type Stack struct {
	buf       []byte
	bufLen    int
	extLen    int
	linkLocal net.IP
	haveLL    bool
	source    net.IP

	// Inbox collects every datagram handed to Output/IPv6Output, in
	// order, for test assertions to inspect.
	Inbox [][]byte
}

// NewStack allocates a Stack with an MTU-sized buffer.
func NewStack(mtu int) *Stack {
	return &Stack{buf: make([]byte, mtu)}
}

func (s *Stack) Buffer() []byte { return s.buf }

func (s *Stack) SetBufferLen(n int) { s.bufLen = n }
func (s *Stack) BufferLen() int     { return s.bufLen }

func (s *Stack) ExtLen() int      { return s.extLen }
func (s *Stack) SetExtLen(n int)  { s.extLen = n }

// SetLinkLocalAddress configures the address GetLinkLocalAddress returns.
// Until called, GetLinkLocalAddress reports none assigned.
func (s *Stack) SetLinkLocalAddress(ip net.IP) {
	s.linkLocal = ip
	s.haveLL = ip != nil
}

func (s *Stack) GetLinkLocalAddress(preferred bool) (net.IP, bool) {
	return s.linkLocal, s.haveLL
}

// SetSourceAddress configures the fixed return value of
// SelectSourceAddress, regardless of dest.
func (s *Stack) SetSourceAddress(ip net.IP) { s.source = ip }

func (s *Stack) SelectSourceAddress(dest net.IP) net.IP {
	if s.source != nil {
		return s.source
	}
	return s.linkLocal
}

// ICMP6Checksum computes the real RFC 2460 pseudo-header checksum, so
// tests that decode an emitted summary can verify it the same way a real
// receiver would.
func (s *Stack) ICMP6Checksum(src, dst net.IP, payload []byte) uint16 {
	var sum uint32
	add := func(b []byte) {
		for i := 0; i+1 < len(b); i += 2 {
			sum += uint32(b[i])<<8 | uint32(b[i+1])
		}
		if len(b)%2 == 1 {
			sum += uint32(b[len(b)-1]) << 8
		}
	}
	add(src.To16())
	add(dst.To16())
	var lenBuf [4]byte
	lenBuf[0] = byte(len(payload) >> 24)
	lenBuf[1] = byte(len(payload) >> 16)
	lenBuf[2] = byte(len(payload) >> 8)
	lenBuf[3] = byte(len(payload))
	add(lenBuf[:])
	add([]byte{0, 0, 0, 58})
	add(payload)
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

func (s *Stack) Output() error {
	out := make([]byte, s.bufLen)
	copy(out, s.buf[:s.bufLen])
	s.Inbox = append(s.Inbox, out)
	return nil
}

func (s *Stack) IPv6Output(dst net.IP) error {
	return s.Output()
}

var _ hostif.Stack = (*Stack)(nil)
var _ hostif.Clock = (*Clock)(nil)
var _ hostif.RNG = (*RNG)(nil)
var _ hostif.Scheduler = (*Scheduler)(nil)
var _ hostif.Watchdog = Watchdog{}
