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

import (
	"bytes"

	"golang.org/x/net/http2/hpack"

	"github.com/quicfuscate/quicsand/lib/errkind"
)

// QPACK (RFC 9204) reuses RFC 7541's Huffman code table verbatim, so the
// HTTP/2 HPACK package's Huffman coder is directly reusable rather than
// reimplemented.

// appendString encodes s as a QPACK string literal: one H bit plus a
// 7-bit-prefixed length, followed by the (possibly Huffman-coded)
// bytes. Huffman coding is used whenever it is not larger than the raw
// bytes, matching real-world QPACK encoders.
func appendString(dst []byte, s string) []byte {
	huffLen := hpack.HuffmanEncodeLength(s)
	if huffLen < uint64(len(s)) {
		dst = appendPrefixInt(dst, 0x80, 7, huffLen)
		var buf bytes.Buffer
		_, _ = hpack.HuffmanEncode(&buf, s)
		return append(dst, buf.Bytes()...)
	}
	dst = appendPrefixInt(dst, 0x00, 7, uint64(len(s)))
	return append(dst, s...)
}

// readString decodes a QPACK string literal from the front of b,
// returning the string and bytes consumed.
func readString(b []byte) (string, int, error) {
	if len(b) == 0 {
		return "", 0, errkind.New(errkind.KindFrameError, "qpack: truncated string literal")
	}
	huffman := b[0]&0x80 != 0

	length, n, err := readPrefixInt(b, 7)
	if err != nil {
		return "", 0, err
	}
	if uint64(len(b)-n) < length {
		return "", 0, errkind.New(errkind.KindFrameError, "qpack: truncated string literal body")
	}
	data := b[n : n+int(length)]

	if !huffman {
		return string(data), n + int(length), nil
	}

	var buf bytes.Buffer
	if _, err := hpack.HuffmanDecode(&buf, data); err != nil {
		return "", 0, errkind.Wrap(err, errkind.KindQPACKDecode, "qpack: huffman decode")
	}
	return buf.String(), n + int(length), nil
}
