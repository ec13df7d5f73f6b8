/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package wire encodes and decodes the Trickle Hop-by-Hop option and the
// ICMPv6 Trickle-mcast sequence-list payload. Decoding checks a slice's
// length before reading fixed offsets from it; there is no separate
// reader/writer type.
package wire

import (
	"errors"

	"github.com/kfathallah/contiki-mcast/pool"
	"github.com/kfathallah/contiki-mcast/serial"
)

// Mode selects the seed-id representation, fixed at build time.
type Mode int

const (
	ShortSeed Mode = iota
	LongSeed
)

// OptType is the HBH option type assigned to the Trickle option.
const OptType = 0x0c

const (
	shortOptLen = 4
	longOptLen  = 2
)

var (
	ErrTruncated    = errors.New("wire: buffer too short")
	ErrBadOptType   = errors.New("wire: first HBH option is not the Trickle option")
	ErrBadOptLen    = errors.New("wire: option length does not match active seed mode")
	ErrReservedBits = errors.New("wire: reserved bits set")
	ErrSeedModeMismatch = errors.New("wire: S bit disagrees with engine's compile-time seed mode")
)

// HBHOption is the decoded Trickle HBH option: (seed, m, seq).
type HBHOption struct {
	Seed SeedID
	M    uint8 // 0 or 1
	Seq  serial.Value
}

// SeedID is re-exported from pool so callers of wire don't need to import
// pool directly just to build options.
type SeedID = pool.SeedID

// EncodeHBH builds the 8-byte-aligned HBH block (2-byte ext header + the
// Trickle option, plus a trailing PadN(0) in long-seed mode) carrying opt.
// nextHeader is the protocol number that follows this HBH header.
func EncodeHBH(mode Mode, nextHeader uint8, opt HBHOption) []byte {
	flags := (opt.M&1)<<7 | uint8((opt.Seq>>8)&0x7f)
	seqLSB := uint8(opt.Seq & 0xff)

	var body []byte
	switch mode {
	case ShortSeed:
		body = []byte{
			OptType, shortOptLen,
			byte(opt.Seed.Short >> 8), byte(opt.Seed.Short),
			flags, seqLSB,
		}
	case LongSeed:
		body = []byte{
			OptType, longOptLen,
			flags, seqLSB,
			0x01, 0x00, // PadN(0)
		}
	default:
		panic("wire: unknown mode")
	}

	// hdrlen is the HBH header length in 8-octet units, minus 1 (the unit
	// excludes the first 8 octets, which this layout always is exactly).
	out := make([]byte, 0, 2+len(body))
	out = append(out, nextHeader, 0)
	out = append(out, body...)
	return out
}

// DecodeHBH parses an HBH block built by EncodeHBH. It validates that the
// first option is the Trickle option and that its length matches mode;
// any other violation drops the option without returning partial data.
func DecodeHBH(mode Mode, block []byte) (nextHeader uint8, opt HBHOption, err error) {
	if len(block) < 8 {
		return 0, HBHOption{}, ErrTruncated
	}
	nextHeader = block[0]
	// block[1] is hdrlen; this codec only ever emits/expects the single
	// fixed 8-byte layout, so hdrlen is not cross-checked beyond the
	// fixed block length already enforced by callers.

	optType := block[2]
	optLen := block[3]
	if optType != OptType {
		return 0, HBHOption{}, ErrBadOptType
	}

	switch mode {
	case ShortSeed:
		if optLen != shortOptLen {
			return 0, HBHOption{}, ErrBadOptLen
		}
		seed := uint16(block[4])<<8 | uint16(block[5])
		flags := block[6]
		seqLSB := block[7]
		opt.Seed = pool.ShortSeedID(seed)
		opt.M = flags >> 7
		opt.Seq = serial.Value(uint16(flags&0x7f)<<8 | uint16(seqLSB))
	case LongSeed:
		if optLen != longOptLen {
			return 0, HBHOption{}, ErrBadOptLen
		}
		flags := block[4]
		seqLSB := block[5]
		opt.M = flags >> 7
		opt.Seq = serial.Value(uint16(flags&0x7f)<<8 | uint16(seqLSB))
	default:
		panic("wire: unknown mode")
	}

	return nextHeader, opt, nil
}
