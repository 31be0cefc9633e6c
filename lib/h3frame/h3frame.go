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

// Package h3frame implements the HTTP/3 frame codec (spec §4.4): typed
// frames of the form <type:varint><length:varint><payload>, parsed
// incrementally so a short buffer waits for more bytes rather than
// erroring, and with unknown frame types preserved bit-exact.
package h3frame

import (
	"github.com/quicfuscate/quicsand/lib/errkind"
	"github.com/quicfuscate/quicsand/lib/varint"
)

// Type identifies a frame's wire type.
type Type uint64

const (
	TypeData        Type = 0x00
	TypeHeaders     Type = 0x01
	TypeCancelPush  Type = 0x03
	TypeSettings    Type = 0x04
	TypePushPromise Type = 0x05
	TypeGoaway      Type = 0x07
	TypeMaxPushID   Type = 0x0D
)

// SettingID identifies a SETTINGS (id, value) pair.
type SettingID uint64

const (
	SettingQPACKMaxTableCapacity SettingID = 0x01
	SettingMaxFieldSectionSize   SettingID = 0x06
	SettingQPACKBlockedStreams   SettingID = 0x07
)

// Frame is a decoded HTTP/3 frame. Known types expose structured fields
// via the accessor methods below; unknown types are carried in Payload
// verbatim (spec §4.4: "Unknown types are preserved, not rejected").
type Frame struct {
	Type    Type
	Payload []byte
}

// Data builds a DATA frame wrapping opaque bytes.
func Data(payload []byte) Frame { return Frame{Type: TypeData, Payload: payload} }

// Headers builds a HEADERS frame wrapping a QPACK-encoded field section.
func Headers(qpackBlock []byte) Frame { return Frame{Type: TypeHeaders, Payload: qpackBlock} }

// CancelPush builds a CANCEL_PUSH frame.
func CancelPush(pushID uint64) (Frame, error) {
	payload, err := varint.Encode(nil, pushID)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: TypeCancelPush, Payload: payload}, nil
}

// Setting is one (id, value) pair carried by a SETTINGS frame.
type Setting struct {
	ID    SettingID
	Value uint64
}

// Settings builds a SETTINGS frame from zero or more (id, value) pairs.
func Settings(settings []Setting) (Frame, error) {
	var payload []byte
	var err error
	for _, s := range settings {
		payload, err = varint.Encode(payload, uint64(s.ID))
		if err != nil {
			return Frame{}, err
		}
		payload, err = varint.Encode(payload, s.Value)
		if err != nil {
			return Frame{}, err
		}
	}
	return Frame{Type: TypeSettings, Payload: payload}, nil
}

// ParseSettings decodes a SETTINGS frame's payload.
func ParseSettings(payload []byte) ([]Setting, error) {
	var out []Setting
	for len(payload) > 0 {
		id, n, err := varint.Decode(payload)
		if err != nil {
			return nil, errkind.Wrap(err, errkind.KindFrameError, "h3frame: settings id")
		}
		payload = payload[n:]
		value, n, err := varint.Decode(payload)
		if err != nil {
			return nil, errkind.Wrap(err, errkind.KindFrameError, "h3frame: settings value")
		}
		payload = payload[n:]
		out = append(out, Setting{ID: SettingID(id), Value: value})
	}
	return out, nil
}

// PushPromise builds a PUSH_PROMISE frame.
func PushPromise(pushID uint64, qpackBlock []byte) (Frame, error) {
	payload, err := varint.Encode(nil, pushID)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: TypePushPromise, Payload: append(payload, qpackBlock...)}, nil
}

// Goaway builds a GOAWAY frame naming the largest processed stream id.
func Goaway(largestProcessedStreamID uint64) (Frame, error) {
	payload, err := varint.Encode(nil, largestProcessedStreamID)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: TypeGoaway, Payload: payload}, nil
}

// MaxPushID builds a MAX_PUSH_ID frame.
func MaxPushID(pushID uint64) (Frame, error) {
	payload, err := varint.Encode(nil, pushID)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: TypeMaxPushID, Payload: payload}, nil
}

// Serialize appends the wire encoding of f to dst.
func Serialize(dst []byte, f Frame) ([]byte, error) {
	dst, err := varint.Encode(dst, uint64(f.Type))
	if err != nil {
		return nil, err
	}
	dst, err = varint.Encode(dst, uint64(len(f.Payload)))
	if err != nil {
		return nil, err
	}
	return append(dst, f.Payload...), nil
}

// Parse reads one frame from the front of b. If the declared length
// exceeds the buffered bytes, it reports bytesConsumed == 0 and no
// error, so the caller waits for more data (spec §4.4: "if the declared
// length exceeds buffered bytes, the parser reports bytes_consumed
// unchanged and waits").
func Parse(b []byte) (frame Frame, bytesConsumed int, err error) {
	typeVal, n, err := varint.Decode(b)
	if err != nil {
		return Frame{}, 0, nil // need more bytes for the type varint itself
	}
	rest := b[n:]

	length, n2, err := varint.Decode(rest)
	if err != nil {
		return Frame{}, 0, nil // need more bytes for the length varint
	}
	rest = rest[n2:]

	if uint64(len(rest)) < length {
		return Frame{}, 0, nil // need more bytes for the payload
	}

	payload := append([]byte(nil), rest[:length]...)
	consumed := n + n2 + int(length)
	return Frame{Type: Type(typeVal), Payload: payload}, consumed, nil
}

// ParseAll parses as many complete frames as are available in b,
// returning the frames and total bytes consumed; a trailing partial
// frame is left unconsumed for the next read.
func ParseAll(b []byte) ([]Frame, int, error) {
	var frames []Frame
	total := 0
	for {
		f, n, err := Parse(b[total:])
		if err != nil {
			return frames, total, err
		}
		if n == 0 {
			break
		}
		frames = append(frames, f)
		total += n
	}
	return frames, total, nil
}
