/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package wire

import (
	"github.com/kfathallah/contiki-mcast/serial"
)

// SeqListEntry is one entry of the ICMPv6 Trickle-mcast payload: all the
// sequence values a neighbour holds for one (seed, M) window.
type SeqListEntry struct {
	Long bool // S bit: 0 short, 1 long
	M    uint8
	Seed SeedID
	Seqs []serial.Value
}

const reservedMask = 0x3f // bits5..0 of the entry flags byte, MUST be zero

// EncodeSummary serialises entries into an ICMPv6 Trickle-mcast payload.
func EncodeSummary(entries []SeqListEntry) []byte {
	var out []byte
	for _, e := range entries {
		flags := uint8(0)
		if e.Long {
			flags |= 1 << 7
		}
		if e.M != 0 {
			flags |= 1 << 6
		}
		out = append(out, flags, uint8(len(e.Seqs)))
		if e.Long {
			out = append(out, e.Seed.Addr[:]...)
		} else {
			out = append(out, byte(e.Seed.Short>>8), byte(e.Seed.Short))
		}
		for _, s := range e.Seqs {
			out = append(out, byte(s>>8), byte(s))
		}
	}
	return out
}

// DecodeSummary parses an ICMPv6 Trickle-mcast payload. wantLong is the
// engine's compile-time seed mode (true for long/128-bit seeds); every
// entry's S bit must agree with it or the whole message is rejected.
func DecodeSummary(wantLong bool, payload []byte) ([]SeqListEntry, error) {
	var entries []SeqListEntry
	i := 0
	for i < len(payload) {
		if i+2 > len(payload) {
			return nil, ErrTruncated
		}
		flags := payload[i]
		seqLen := int(payload[i+1])
		i += 2

		if flags&reservedMask != 0 {
			return nil, ErrReservedBits
		}

		isLong := flags&(1<<7) != 0
		if isLong != wantLong {
			return nil, ErrSeedModeMismatch
		}
		m := uint8(0)
		if flags&(1<<6) != 0 {
			m = 1
		}

		var seed SeedID
		if isLong {
			if i+16 > len(payload) {
				return nil, ErrTruncated
			}
			var addr [16]byte
			copy(addr[:], payload[i:i+16])
			seed.Long = true
			seed.Addr = addr
			i += 16
		} else {
			if i+2 > len(payload) {
				return nil, ErrTruncated
			}
			seed.Short = uint16(payload[i])<<8 | uint16(payload[i+1])
			i += 2
		}

		if i+seqLen*2 > len(payload) {
			return nil, ErrTruncated
		}
		seqs := make([]serial.Value, seqLen)
		for j := 0; j < seqLen; j++ {
			seqs[j] = serial.Value(uint16(payload[i])<<8 | uint16(payload[i+1]))
			i += 2
		}

		entries = append(entries, SeqListEntry{Long: isLong, M: m, Seed: seed, Seqs: seqs})
	}
	return entries, nil
}
