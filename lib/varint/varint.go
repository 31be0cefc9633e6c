/*
Copyright 2026 The QuicFuscate Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package varint implements the QUIC variable-length integer encoding
// (RFC 9000 §16): a 2-bit length prefix in the high-order bits of the
// first byte selects a 1/2/4/8-byte encoding carrying 6/14/30/62 data
// bits respectively.
package varint

import (
	"github.com/quicfuscate/quicsand/lib/errkind"
)

// MaxValue is the largest value representable in 62 bits, the
// encoding's ceiling (OVERLARGE above this).
const MaxValue = (1 << 62) - 1

const (
	prefix1 = 0x00
	prefix2 = 0x40
	prefix4 = 0x80
	prefix8 = 0xC0
)

// Len returns the number of bytes Encode would produce for v, or 0 if v
// exceeds MaxValue.
func Len(v uint64) int {
	switch {
	case v <= 0x3F:
		return 1
	case v <= 0x3FFF:
		return 2
	case v <= 0x3FFFFFFF:
		return 4
	case v <= MaxValue:
		return 8
	default:
		return 0
	}
}

// Encode appends the varint encoding of v to dst and returns the result.
// It returns an OVERLARGE error (errkind.KindOutOfRange) if v > MaxValue.
func Encode(dst []byte, v uint64) ([]byte, error) {
	switch n := Len(v); n {
	case 1:
		return append(dst, byte(v)|prefix1), nil
	case 2:
		return append(dst, byte(v>>8)|prefix2, byte(v)), nil
	case 4:
		return append(dst,
			byte(v>>24)|prefix4, byte(v>>16), byte(v>>8), byte(v)), nil
	case 8:
		return append(dst,
			byte(v>>56)|prefix8, byte(v>>48), byte(v>>40), byte(v>>32),
			byte(v>>24), byte(v>>16), byte(v>>8), byte(v)), nil
	default:
		return dst, errkind.New(errkind.KindOutOfRange,
			"varint: value %d exceeds maximum encodable value %d", v, uint64(MaxValue))
	}
}

// Decode reads a varint from the front of b, returning the value, the
// number of bytes consumed, and an error. It fails with
// errkind.KindFrameError ("TRUNCATED" per spec) if fewer bytes remain
// than the length prefix demands.
func Decode(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, errkind.New(errkind.KindFrameError, "varint: truncated, no bytes available")
	}

	n := 1 << (b[0] >> 6)
	if len(b) < n {
		return 0, 0, errkind.New(errkind.KindFrameError,
			"varint: truncated, need %d bytes, have %d", n, len(b))
	}

	v := uint64(b[0] & 0x3F)
	for i := 1; i < n; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v, n, nil
}
