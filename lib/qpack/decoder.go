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

// ErrBlocked is returned by Decoder.DecodeFieldSection when the local
// dynamic table has not yet received enough insertions to satisfy the
// encoded block's required insert count (spec §4.3 invariant 2). Callers
// should retry once the encoder stream has delivered more insertions.
var ErrBlocked = errkind.New(errkind.KindQPACKBlocked, "qpack: decoding blocked on required insert count")

// Decoder turns QPACK-encoded field sections back into header lists,
// sharing a DynamicTable with the matching Encoder.
type Decoder struct {
	dynamic *DynamicTable
}

// NewDecoder builds a Decoder over the given dynamic table.
func NewDecoder(dynamic *DynamicTable) *Decoder {
	return &Decoder{dynamic: dynamic}
}

// DecodeFieldSection parses a field section produced by
// Encoder.EncodeFieldSection. It never speculatively decodes past a
// required-insert-count it cannot yet satisfy: it returns ErrBlocked
// immediately in that case (spec §4.3 invariant 2).
func (d *Decoder) DecodeFieldSection(b []byte) ([]Field, error) {
	requiredInsertCount, n, err := readPrefixInt(b, 8)
	if err != nil {
		return nil, errkind.Wrap(err, errkind.KindQPACKDecode, "qpack: decode prefix required-insert-count")
	}
	b = b[n:]

	base, n, err := readPrefixInt(b, 7)
	if err != nil {
		return nil, errkind.Wrap(err, errkind.KindQPACKDecode, "qpack: decode prefix base")
	}
	b = b[n:]

	if requiredInsertCount > d.dynamic.InsertCount() {
		return nil, ErrBlocked
	}

	var fields []Field
	for len(b) > 0 {
		f, consumed, err := d.decodeField(b, base)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
		b = b[consumed:]
	}
	return fields, nil
}

func (d *Decoder) decodeField(b []byte, base uint64) (Field, int, error) {
	first := b[0]
	switch {
	case first&0x80 != 0: // Indexed Field Line: 1 T iiiiii
		isStatic := first&0x40 != 0
		idx, n, err := readPrefixInt(b, 6)
		if err != nil {
			return Field{}, 0, errkind.Wrap(err, errkind.KindQPACKDecode, "qpack: indexed field line")
		}
		if isStatic {
			if idx >= uint64(len(StaticTable)) {
				return Field{}, 0, errkind.New(errkind.KindQPACKDecode, "qpack: invalid static index %d", idx)
			}
			return StaticTable[idx], n, nil
		}
		absIdx := base - 1 - idx
		f, ok := d.dynamic.EntryByAbsolute(absIdx)
		if !ok {
			return Field{}, 0, errkind.New(errkind.KindQPACKDecode, "qpack: invalid dynamic index %d", absIdx)
		}
		return f, n, nil

	case first&0x40 != 0: // Literal Field Line With Name Reference: 01 N T nnnn
		isStatic := first&0x10 != 0
		idx, n, err := readPrefixInt(b, 4)
		if err != nil {
			return Field{}, 0, errkind.Wrap(err, errkind.KindQPACKDecode, "qpack: literal with name reference")
		}
		var name string
		if isStatic {
			if idx >= uint64(len(StaticTable)) {
				return Field{}, 0, errkind.New(errkind.KindQPACKDecode, "qpack: invalid static name index %d", idx)
			}
			name = StaticTable[idx].Name
		} else {
			absIdx := base - 1 - idx
			f, ok := d.dynamic.EntryByAbsolute(absIdx)
			if !ok {
				return Field{}, 0, errkind.New(errkind.KindQPACKDecode, "qpack: invalid dynamic name index %d", absIdx)
			}
			name = f.Name
		}
		value, vn, err := readString(b[n:])
		if err != nil {
			return Field{}, 0, err
		}
		return Field{Name: name, Value: value}, n + vn, nil

	case first&0x20 != 0: // Literal Field Line With Literal Name: 001 N xxx
		_, n, err := readPrefixInt(b, 3)
		if err != nil {
			return Field{}, 0, errkind.Wrap(err, errkind.KindQPACKDecode, "qpack: literal with literal name")
		}
		name, nn, err := readString(b[n:])
		if err != nil {
			return Field{}, 0, err
		}
		value, vn, err := readString(b[n+nn:])
		if err != nil {
			return Field{}, 0, err
		}
		return Field{Name: name, Value: value}, n + nn + vn, nil

	default:
		return Field{}, 0, errkind.New(errkind.KindQPACKDecode, "qpack: unknown field line type 0x%02x", first)
	}
}
