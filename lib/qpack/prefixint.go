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

package qpack

import "github.com/quicfuscate/quicsand/lib/errkind"

// appendPrefixInt implements RFC 7541 §5.1's variable-length integer
// representation, shared by QPACK's field-line and instruction codecs:
// marker already has its non-prefix bits set; prefixBits is how many low
// bits of the first byte carry value before falling into continuation
// bytes.
func appendPrefixInt(dst []byte, marker byte, prefixBits uint, value uint64) []byte {
	max := uint64(1)<<prefixBits - 1
	if value < max {
		return append(dst, marker|byte(value))
	}

	dst = append(dst, marker|byte(max))
	value -= max
	for value >= 0x80 {
		dst = append(dst, byte(value&0x7f)|0x80)
		value >>= 7
	}
	return append(dst, byte(value))
}

// readPrefixInt decodes a prefixed integer from b, returning the value
// and the number of bytes consumed.
func readPrefixInt(b []byte, prefixBits uint) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, errkind.New(errkind.KindFrameError, "qpack: truncated prefixed integer")
	}

	max := uint64(1)<<prefixBits - 1
	value := uint64(b[0]) & max
	if value < max {
		return value, 1, nil
	}

	shift := uint(0)
	i := 1
	for {
		if i >= len(b) {
			return 0, 0, errkind.New(errkind.KindFrameError, "qpack: truncated prefixed integer continuation")
		}
		next := b[i]
		value += uint64(next&0x7f) << shift
		i++
		shift += 7
		if next&0x80 == 0 {
			break
		}
		if shift > 63 {
			return 0, 0, errkind.New(errkind.KindFrameError, "qpack: prefixed integer overflow")
		}
	}
	return value, i, nil
}
