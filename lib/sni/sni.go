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

// Package sni edits the TLS ClientHello's server_name extension in
// place inside the first outbound handshake record (spec §4.6): split,
// pad, omit, and domain-fronting techniques, each preserving every
// nested length field exactly.
package sni

import (
	"encoding/binary"

	"github.com/quicfuscate/quicsand/lib/errkind"
)

const (
	recordTypeHandshake  = 0x16
	handshakeTypeClient  = 0x01
	extensionTypeSNI     = 0x0000
	extensionTypePadding = 0x0015
	nameTypeHostName     = 0x00
)

// recordLayout locates the byte ranges of a single TLS record carrying
// one ClientHello handshake message, in terms of offsets into the raw
// buffer passed to the edit functions.
type recordLayout struct {
	recordLengthOff     int // 2-byte record length field
	handshakeLengthOff  int // 3-byte handshake body length field
	extBlockLengthOff   int // 2-byte total-extensions length field
	extBlockStart       int
	extBlockEnd         int
	sniExtOff           int // offset of the server_name extension header, or -1
	sniExtDataLengthOff int
	sniListLengthOff    int // server_name_list length (2 bytes), inside ext data
	sniNameTypeOff      int
	sniNameLengthOff    int
	sniNameStart        int
	sniNameEnd          int
}

// parseRecord walks a raw TLS record buffer (record header, handshake
// header, ClientHello body) and locates the server_name extension if
// present.
func parseRecord(b []byte) (recordLayout, error) {
	var layout recordLayout
	if len(b) < 5 || b[0] != recordTypeHandshake {
		return layout, errkind.New(errkind.KindInvalidArgument, "sni: not a TLS handshake record")
	}
	layout.recordLengthOff = 3
	recordLen := int(binary.BigEndian.Uint16(b[3:5]))
	if 5+recordLen > len(b) {
		return layout, errkind.New(errkind.KindInvalidArgument, "sni: record length exceeds buffer")
	}

	hsOff := 5
	if len(b) < hsOff+4 || b[hsOff] != handshakeTypeClient {
		return layout, errkind.New(errkind.KindInvalidArgument, "sni: not a ClientHello handshake")
	}
	layout.handshakeLengthOff = hsOff + 1
	hsLen := int(b[hsOff+1])<<16 | int(b[hsOff+2])<<8 | int(b[hsOff+3])

	body := hsOff + 4
	if body+hsLen > len(b) {
		return layout, errkind.New(errkind.KindInvalidArgument, "sni: handshake length exceeds buffer")
	}

	pos := body + 2 + 32 // client_version(2) + random(32)
	if pos >= len(b) {
		return layout, errkind.New(errkind.KindInvalidArgument, "sni: truncated ClientHello")
	}
	sessionIDLen := int(b[pos])
	pos += 1 + sessionIDLen

	if pos+2 > len(b) {
		return layout, errkind.New(errkind.KindInvalidArgument, "sni: truncated cipher suites")
	}
	cipherLen := int(binary.BigEndian.Uint16(b[pos : pos+2]))
	pos += 2 + cipherLen

	if pos+1 > len(b) {
		return layout, errkind.New(errkind.KindInvalidArgument, "sni: truncated compression methods")
	}
	compLen := int(b[pos])
	pos += 1 + compLen

	if pos+2 > len(b) {
		return layout, errkind.New(errkind.KindInvalidArgument, "sni: missing extensions block")
	}
	layout.extBlockLengthOff = pos
	extBlockLen := int(binary.BigEndian.Uint16(b[pos : pos+2]))
	pos += 2
	layout.extBlockStart = pos
	layout.extBlockEnd = pos + extBlockLen
	if layout.extBlockEnd > len(b) {
		return layout, errkind.New(errkind.KindInvalidArgument, "sni: extensions block exceeds buffer")
	}

	layout.sniExtOff = -1
	cursor := layout.extBlockStart
	for cursor+4 <= layout.extBlockEnd {
		extType := binary.BigEndian.Uint16(b[cursor : cursor+2])
		extLen := int(binary.BigEndian.Uint16(b[cursor+2 : cursor+4]))
		extDataOff := cursor + 4
		if extType == extensionTypeSNI {
			layout.sniExtOff = cursor
			layout.sniExtDataLengthOff = cursor + 2
			layout.sniListLengthOff = extDataOff
			nameTypeOff := extDataOff + 2
			layout.sniNameTypeOff = nameTypeOff
			layout.sniNameLengthOff = nameTypeOff + 1
			nameLen := int(binary.BigEndian.Uint16(b[layout.sniNameLengthOff : layout.sniNameLengthOff+2]))
			layout.sniNameStart = layout.sniNameLengthOff + 2
			layout.sniNameEnd = layout.sniNameStart + nameLen
		}
		cursor = extDataOff + extLen
	}
	return layout, nil
}

// HasSNI reports whether b's ClientHello carries a server_name
// extension.
func HasSNI(b []byte) (bool, error) {
	layout, err := parseRecord(b)
	if err != nil {
		return false, err
	}
	return layout.sniExtOff >= 0, nil
}

// ExtractHostname returns the raw server_name bytes (which may contain
// an embedded NUL after Split has been applied).
func ExtractHostname(b []byte) (string, error) {
	layout, err := parseRecord(b)
	if err != nil {
		return "", err
	}
	if layout.sniExtOff < 0 {
		return "", errkind.New(errkind.KindInvalidArgument, "sni: no server_name extension present")
	}
	return string(b[layout.sniNameStart:layout.sniNameEnd]), nil
}

// growBy inserts n zero bytes at offset pos and fixes up every nested
// length field that covers the insertion point, per spec's length
// invariant (§4.6, §8 "SNI length invariant").
func growBy(b []byte, layout recordLayout, pos int, n int) []byte {
	out := make([]byte, 0, len(b)+n)
	out = append(out, b[:pos]...)
	out = append(out, make([]byte, n)...)
	out = append(out, b[pos:]...)

	addUint16 := func(off int, delta int) {
		cur := int(binary.BigEndian.Uint16(out[off : off+2]))
		binary.BigEndian.PutUint16(out[off:off+2], uint16(cur+delta))
	}
	addUint24 := func(off int, delta int) {
		cur := int(out[off])<<16 | int(out[off+1])<<8 | int(out[off+2])
		cur += delta
		out[off] = byte(cur >> 16)
		out[off+1] = byte(cur >> 8)
		out[off+2] = byte(cur)
	}

	if layout.sniNameLengthOff >= 0 {
		addUint16(layout.sniNameLengthOff, n)
	}
	addUint16(layout.sniListLengthOff, n)
	addUint16(layout.sniExtDataLengthOff, n)
	addUint16(layout.extBlockLengthOff, n)
	addUint24(layout.handshakeLengthOff, n)
	addUint16(layout.recordLengthOff, n)
	return out
}

// Split inserts a zero byte near the midpoint of the hostname (spec
// §4.6, §8 scenario 7).
func Split(b []byte) ([]byte, error) {
	layout, err := parseRecord(b)
	if err != nil {
		return nil, err
	}
	if layout.sniExtOff < 0 {
		return nil, errkind.New(errkind.KindInvalidArgument, "sni: no server_name extension present")
	}
	nameLen := layout.sniNameEnd - layout.sniNameStart
	mid := layout.sniNameStart + nameLen/2
	return growBy(b, layout, mid, 1), nil
}

// Pad appends n padding bytes after the hostname field (spec §4.6).
// Nested length fields covering the server_name field are NOT advanced
// since the padding sits outside the name; only the enclosing
// extensions-block/handshake/record lengths grow.
func Pad(b []byte, n int) ([]byte, error) {
	layout, err := parseRecord(b)
	if err != nil {
		return nil, err
	}
	if layout.sniExtOff < 0 {
		return nil, errkind.New(errkind.KindInvalidArgument, "sni: no server_name extension present")
	}
	if n <= 0 {
		return append([]byte(nil), b...), nil
	}

	// Append bytes at the end of the extensions block as a standalone
	// padding extension (type 0x0015, all-zero payload), rather than
	// disturbing the SNI extension's internal layout.
	paddingExt := make([]byte, 4+n)
	binary.BigEndian.PutUint16(paddingExt[0:2], extensionTypePadding)
	binary.BigEndian.PutUint16(paddingExt[2:4], uint16(n))

	out := make([]byte, 0, len(b)+len(paddingExt))
	out = append(out, b[:layout.extBlockEnd]...)
	out = append(out, paddingExt...)
	out = append(out, b[layout.extBlockEnd:]...)

	delta := len(paddingExt)
	addUint16 := func(off int, d int) {
		cur := int(binary.BigEndian.Uint16(out[off : off+2]))
		binary.BigEndian.PutUint16(out[off:off+2], uint16(cur+d))
	}
	addUint24 := func(off int, d int) {
		cur := int(out[off])<<16 | int(out[off+1])<<8 | int(out[off+2])
		cur += d
		out[off] = byte(cur >> 16)
		out[off+1] = byte(cur >> 8)
		out[off+2] = byte(cur)
	}
	addUint16(layout.extBlockLengthOff, delta)
	addUint24(layout.handshakeLengthOff, delta)
	addUint16(layout.recordLengthOff, delta)
	return out, nil
}

// Omit removes the server_name extension entirely (spec §4.6; "use with
// care, some servers will reject").
func Omit(b []byte) ([]byte, error) {
	layout, err := parseRecord(b)
	if err != nil {
		return nil, err
	}
	if layout.sniExtOff < 0 {
		return append([]byte(nil), b...), nil
	}
	extLen := 4 + int(binary.BigEndian.Uint16(b[layout.sniExtDataLengthOff:layout.sniExtDataLengthOff+2]))

	out := make([]byte, 0, len(b)-extLen)
	out = append(out, b[:layout.sniExtOff]...)
	out = append(out, b[layout.sniExtOff+extLen:]...)

	delta := -extLen
	addUint16 := func(off int, d int) {
		cur := int(binary.BigEndian.Uint16(out[off : off+2]))
		binary.BigEndian.PutUint16(out[off:off+2], uint16(cur+d))
	}
	addUint24 := func(off int, d int) {
		cur := int(out[off])<<16 | int(out[off+1])<<8 | int(out[off+2])
		cur += d
		out[off] = byte(cur >> 16)
		out[off+1] = byte(cur >> 8)
		out[off+2] = byte(cur)
	}
	addUint16(layout.extBlockLengthOff, delta)
	addUint24(layout.handshakeLengthOff, delta)
	addUint16(layout.recordLengthOff, delta)
	return out, nil
}

// Front replaces the server_name hostname with front while leaving
// every other field untouched; the true host is expected to travel
// instead in the inner HTTP Host header, applied upstream by the
// masquerading pipeline (spec §4.6, §4.8).
func Front(b []byte, front string) ([]byte, error) {
	layout, err := parseRecord(b)
	if err != nil {
		return nil, err
	}
	if layout.sniExtOff < 0 {
		return nil, errkind.New(errkind.KindInvalidArgument, "sni: no server_name extension present")
	}
	if len(front) > 0xFFFF {
		return nil, errkind.New(errkind.KindOutOfRange, "sni: front hostname too long")
	}

	oldLen := layout.sniNameEnd - layout.sniNameStart
	newLen := len(front)
	delta := newLen - oldLen

	out := make([]byte, 0, len(b)+delta)
	out = append(out, b[:layout.sniNameStart]...)
	out = append(out, []byte(front)...)
	out = append(out, b[layout.sniNameEnd:]...)

	if delta == 0 {
		return out, nil
	}

	addUint16 := func(off int, d int) {
		cur := int(binary.BigEndian.Uint16(out[off : off+2]))
		binary.BigEndian.PutUint16(out[off:off+2], uint16(cur+d))
	}
	addUint24 := func(off int, d int) {
		cur := int(out[off])<<16 | int(out[off+1])<<8 | int(out[off+2])
		cur += d
		out[off] = byte(cur >> 16)
		out[off+1] = byte(cur >> 8)
		out[off+2] = byte(cur)
	}
	addUint16(layout.sniNameLengthOff, delta)
	addUint16(layout.sniListLengthOff, delta)
	addUint16(layout.sniExtDataLengthOff, delta)
	addUint16(layout.extBlockLengthOff, delta)
	addUint24(layout.handshakeLengthOff, delta)
	addUint16(layout.recordLengthOff, delta)
	return out, nil
}
