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

// EncoderInstruction tags the parsed result of ApplyEncoderInstruction
// for callers that want to log/trace table mutations.
type EncoderInstruction int

const (
	InstructionSetCapacity EncoderInstruction = iota
	InstructionInsertWithNameReference
	InstructionInsertWithLiteralName
	InstructionDuplicate
)

// ApplyEncoderInstruction parses and applies one encoder-stream
// instruction (spec §4.3: SET_CAPACITY, INSERT_WITH_NAME_REFERENCE,
// INSERT_WITH_LITERAL_NAME, DUPLICATE) against dynamic, returning the
// instruction kind and bytes consumed.
func ApplyEncoderInstruction(dynamic *DynamicTable, b []byte) (EncoderInstruction, int, error) {
	if len(b) == 0 {
		return 0, 0, errkind.New(errkind.KindFrameError, "qpack: truncated encoder instruction")
	}

	first := b[0]
	switch {
	case first&0x80 != 0: // Insert With Name Reference: 1 T iiiiii
		isStatic := first&0x40 != 0
		idx, n, err := readPrefixInt(b, 6)
		if err != nil {
			return 0, 0, errkind.Wrap(err, errkind.KindQPACKDecode, "qpack: insert with name reference")
		}
		var name string
		if isStatic {
			if idx >= uint64(len(StaticTable)) {
				return 0, 0, errkind.New(errkind.KindQPACKDecode, "qpack: invalid static name index %d", idx)
			}
			name = StaticTable[idx].Name
		} else {
			f, ok := dynamic.EntryByAbsolute(idx)
			if !ok {
				return 0, 0, errkind.New(errkind.KindQPACKDecode, "qpack: invalid dynamic name index %d", idx)
			}
			name = f.Name
		}
		value, vn, err := readString(b[n:])
		if err != nil {
			return 0, 0, err
		}
		dynamic.Insert(name, value)
		return InstructionInsertWithNameReference, n + vn, nil

	case first&0x40 != 0: // Insert With Literal Name: 01 xxxxx
		_, n, err := readPrefixInt(b, 5)
		if err != nil {
			return 0, 0, errkind.Wrap(err, errkind.KindQPACKDecode, "qpack: insert with literal name")
		}
		name, nn, err := readString(b[n:])
		if err != nil {
			return 0, 0, err
		}
		value, vn, err := readString(b[n+nn:])
		if err != nil {
			return 0, 0, err
		}
		dynamic.Insert(name, value)
		return InstructionInsertWithLiteralName, n + nn + vn, nil

	case first&0x20 != 0: // Set Dynamic Table Capacity: 001 xxxxx
		capacity, n, err := readPrefixInt(b, 5)
		if err != nil {
			return 0, 0, errkind.Wrap(err, errkind.KindQPACKDecode, "qpack: set capacity")
		}
		dynamic.SetCapacity(int(capacity))
		return InstructionSetCapacity, n, nil

	default: // Duplicate: 000 xxxxx
		idx, n, err := readPrefixInt(b, 5)
		if err != nil {
			return 0, 0, errkind.Wrap(err, errkind.KindQPACKDecode, "qpack: duplicate")
		}
		insertCount := dynamic.InsertCount()
		if idx >= insertCount {
			return 0, 0, errkind.New(errkind.KindQPACKDecode, "qpack: invalid duplicate index %d", idx)
		}
		absIdx := insertCount - 1 - idx
		if _, ok := dynamic.Duplicate(absIdx); !ok {
			return 0, 0, errkind.New(errkind.KindQPACKDecode, "qpack: duplicate target %d already evicted", absIdx)
		}
		return InstructionDuplicate, n, nil
	}
}

// AppendDuplicate encodes the DUPLICATE encoder-stream instruction
// referencing the entry `distance` insertions behind the newest.
func AppendDuplicate(dst []byte, distanceFromNewest uint64) []byte {
	return appendPrefixInt(dst, 0x00, 5, distanceFromNewest)
}

// DecoderInstruction tags the parsed result of ApplyDecoderInstruction.
type DecoderInstruction int

const (
	InstructionSectionAck DecoderInstruction = iota
	InstructionStreamCancellation
	InstructionInsertCountIncrement
)

// ApplyDecoderInstruction parses one decoder-stream instruction (spec
// §4.3: SECTION_ACK, STREAM_CANCELLATION, INSERT_COUNT_INCREMENT). Only
// INSERT_COUNT_INCREMENT carries an explicit count and advances
// dynamic's known-received count directly; SECTION_ACK and
// STREAM_CANCELLATION carry a stream id instead and are returned for the
// masquerading pipeline to correlate against its own per-stream
// required-insert-count bookkeeping.
func ApplyDecoderInstruction(dynamic *DynamicTable, b []byte) (DecoderInstruction, uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, 0, errkind.New(errkind.KindFrameError, "qpack: truncated decoder instruction")
	}

	first := b[0]
	switch {
	case first&0x80 != 0: // Section Acknowledgment: 1 xxxxxxx (stream id)
		streamID, n, err := readPrefixInt(b, 7)
		if err != nil {
			return 0, 0, 0, err
		}
		return InstructionSectionAck, streamID, n, nil

	case first&0x40 != 0: // Stream Cancellation: 01 xxxxxx (stream id)
		streamID, n, err := readPrefixInt(b, 6)
		if err != nil {
			return 0, 0, 0, err
		}
		return InstructionStreamCancellation, streamID, n, nil

	default: // Insert Count Increment: 00 xxxxxx
		increment, n, err := readPrefixInt(b, 6)
		if err != nil {
			return 0, 0, 0, err
		}
		dynamic.AdvanceKnownReceived(increment)
		return InstructionInsertCountIncrement, increment, n, nil
	}
}

// AppendSectionAck, AppendStreamCancellation, AppendInsertCountIncrement
// encode the three decoder-stream instructions.
func AppendSectionAck(dst []byte, streamID uint64) []byte {
	return appendPrefixInt(dst, 0x80, 7, streamID)
}

func AppendStreamCancellation(dst []byte, streamID uint64) []byte {
	return appendPrefixInt(dst, 0x40, 6, streamID)
}

func AppendInsertCountIncrement(dst []byte, increment uint64) []byte {
	return appendPrefixInt(dst, 0x00, 6, increment)
}
