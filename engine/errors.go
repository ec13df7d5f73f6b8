/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package engine

import "errors"

// These sentinels exist purely for internal control flow and logging
// context. They never cross the public API: Accept, IcmpInput and
// Originate report failure as a plain bool/counter bump, never as a
// returned error.
var (
	errBadDestOrSource = errors.New("engine: destination not routable multicast, or source unspecified")
	errBadOption       = errors.New("engine: missing or malformed Trickle HBH option")
	errStaleOrDup      = errors.New("engine: sequence value too old or already buffered")
	errPoolExhausted   = errors.New("engine: window or packet pool exhausted")
	errNoLinkLocal     = errors.New("engine: no link-local address assigned yet")
	errTooLong         = errors.New("engine: datagram too large for HBH expansion")
	errBadICMPFraming  = errors.New("engine: ICMPv6 message failed framing checks")
	errBadICMPPayload  = errors.New("engine: ICMPv6 sequence-list payload malformed")
)
