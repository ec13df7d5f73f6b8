/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package engine

import "github.com/kfathallah/contiki-mcast/wire"

// ParamConfig configures one of the two Trickle parametrizations.
type ParamConfig struct {
	IMin    uint32 // IMIN_m: minimum interval, ticks
	IMax    uint8  // IMAX_m: max doublings
	K       uint32 // K_m: redundancy constant; trickle.InfiniteRedundancy disables suppression
	TActive uint32 // T_ACTIVE_m: active window, multiple of I_max
	TDwell  uint32 // T_DWELL_m: dwell window, multiple of I_max
}

// Config carries the forwarder's build-time options.
type Config struct {
	Params [2]ParamConfig

	Wins    int // WINS: sliding-window pool size
	BuffNum int // BUFF_NUM: packet pool size

	ShortSeeds   bool // SHORT_SEEDS
	DestAllNodes bool // DEST_ALL_NODES: true = all-nodes, false = all-routers
	SetMBit      bool // SET_M_BIT: default M on originate

	ICMPCode  uint8 // ICMP_CODE
	IPHopLimit uint8 // IP_HOP_LIMIT
}

func (c Config) seedMode() wire.Mode {
	if c.ShortSeeds {
		return wire.ShortSeed
	}
	return wire.LongSeed
}

// DefaultIPHopLimit is the fixed hop limit control traffic uses unless
// overridden by Config.IPHopLimit.
const DefaultIPHopLimit = 255

// LinkLocalAllNodes and LinkLocalAllRouters are the two ICMPv6 summary
// destinations available for control traffic, selected by Config.DestAllNodes.
var (
	LinkLocalAllNodes   = [16]byte{0xff, 0x02, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x01}
	LinkLocalAllRouters = [16]byte{0xff, 0x02, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x02}
)
