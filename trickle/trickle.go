/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package trickle implements the Trickle interval timer from the ROLL
// multicast-forwarding draft: exponential interval doubling, a randomised
// transmission point in [I/2, I), reset on detected inconsistency, and
// catch-up compensation when the host's scheduler fires late.
package trickle

import "github.com/kfathallah/contiki-mcast/hostif"

// InfiniteRedundancy disables suppression: a timer configured with this K
// never suppresses a transmission, matching the draft's "k == infinity"
// escape hatch.
const InfiniteRedundancy uint32 = ^uint32(0)

// Timer is one Trickle interval state machine. The engine holds an array
// of two (one per parametrization) and dispatches by index rather than by
// identity.
type Timer struct {
	Index int // 0 or 1, used as the hostif.Handle for scheduling

	IMin uint32 // minimum interval, ticks
	IMax uint8  // maximum doublings

	ICurrent uint8 // current doubling count, 0..IMax
	TStart   uint64
	TEnd     uint64

	TLastTrigger uint64

	C uint32 // consistency counter
	K uint32 // redundancy constant; InfiniteRedundancy disables suppression

	TActive uint32 // multiple of I_max ticks
	TDwell  uint32 // multiple of I_max ticks

	Inconsistency bool
}

// SuppressionEnabled reports whether K is a real redundancy constant
// rather than the InfiniteRedundancy sentinel.
func (t *Timer) SuppressionEnabled() bool {
	return t.K != InfiniteRedundancy
}

// IMaxTicks returns I_max in ticks: i_min << i_max.
func (t *Timer) IMaxTicks() uint64 {
	return uint64(t.IMin) << t.IMax
}

// ActiveBudget returns T_active in ticks: t_active * I_max.
func (t *Timer) ActiveBudget() uint64 {
	return uint64(t.TActive) * t.IMaxTicks()
}

// DwellBudget returns T_dwell in ticks: t_dwell * I_max.
func (t *Timer) DwellBudget() uint64 {
	return uint64(t.TDwell) * t.IMaxTicks()
}

func randomPoint(iMin uint32, iCurrent uint8, rng hostif.RNG) uint64 {
	var min uint64
	if iCurrent == 0 {
		min = uint64(iMin) / 2
	} else {
		min = uint64(iMin) << (iCurrent - 1)
	}
	interval := uint64(iMin) << iCurrent
	span := interval - 1 - min
	if span == 0 {
		return min
	}
	return min + uint64(rng.Uint32())%span
}

// Reset collapses the interval back to I_min, clears the consistency
// counter, and schedules the next transmit-point callback at a random
// point in [I_min/2, I_min).
func (t *Timer) Reset(now uint64, rng hostif.RNG, sched hostif.Scheduler, onFire func()) {
	t.ICurrent = 0
	t.TStart = now
	t.TEnd = now + uint64(t.IMin)
	t.TLastTrigger = now
	t.C = 0
	t.Inconsistency = false

	delay := randomPoint(t.IMin, 0, rng)
	sched.Schedule(hostif.Handle(t.Index), delay, onFire)
}

// DoubleInterval performs the interval-doubling step, invoked when the
// current interval ends. now is the time the scheduler actually ran this
// callback, which may be later than TEnd; the random delay is compensated
// by that overshoot, firing immediately if the delay would already have
// elapsed.
func (t *Timer) DoubleInterval(now uint64, rng hostif.RNG, sched hostif.Scheduler, onFire func()) {
	if t.ICurrent < t.IMax {
		t.ICurrent++
	}
	overshoot := uint64(0)
	if now > t.TEnd {
		overshoot = now - t.TEnd
	}
	t.TStart = t.TEnd
	t.TEnd = t.TStart + (uint64(t.IMin) << t.ICurrent)

	delay := randomPoint(t.IMin, t.ICurrent, rng)
	if delay <= overshoot {
		onFire()
		return
	}
	sched.Schedule(hostif.Handle(t.Index), delay-overshoot, onFire)
}

// ScheduleDoubleAt schedules DoubleInterval to run at TEnd (clamped to
// "now" if already past). Callers invoke this as the last step of their
// periodic transmit-point processing.
func (t *Timer) ScheduleDoubleAt(now uint64, sched hostif.Scheduler, onDouble func()) {
	delay := uint64(0)
	if t.TEnd > now {
		delay = t.TEnd - now
	}
	sched.Schedule(hostif.Handle(t.Index), delay, onDouble)
}

// ShouldEmitSummary reports whether this timer's periodic pass should emit
// an ICMPv6 summary: suppression must be enabled and the consistency
// counter must not yet have reached K.
func (t *Timer) ShouldEmitSummary() bool {
	return t.SuppressionEnabled() && t.C < t.K
}
