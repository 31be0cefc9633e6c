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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticIndexedFieldLine(t *testing.T) {
	t.Parallel()

	// spec §8 scenario 3: encoding {(":method", "GET")} with an empty
	// dynamic table produces prefix 0x00 0x00 then a single indexed byte
	// 0xC2 (static, index 2).
	dyn := NewDynamicTable(4096)
	enc := NewEncoder(dyn)

	got := enc.EncodeFieldSection([]Field{{":method", "GET"}})
	require.Equal(t, []byte{0x00, 0x00, 0xC2}, got)

	dec := NewDecoder(dyn)
	fields, err := dec.DecodeFieldSection(got)
	require.NoError(t, err)
	require.Equal(t, []Field{{":method", "GET"}}, fields)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		fields []Field
	}{
		{"static only", []Field{{":method", "GET"}, {":scheme", "https"}, {":path", "/"}}},
		{"mixed static+custom", []Field{
			{":method", "POST"},
			{":authority", "example.com"},
			{"x-custom-header", "some-value-that-is-reasonably-long-for-huffman"},
		}},
		{"empty list", nil},
		{"repeated name literal", []Field{{"x-trace-id", "abc123"}, {"x-trace-id", "def456"}}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dyn := NewDynamicTable(4096)
			enc := NewEncoder(dyn)
			dec := NewDecoder(dyn)

			encoded := enc.EncodeFieldSection(tt.fields)
			decoded, err := dec.DecodeFieldSection(encoded)
			require.NoError(t, err)
			require.Equal(t, tt.fields, decoded)
		})
	}
}

func TestDynamicTableSharedBetweenEncoderAndDecoder(t *testing.T) {
	t.Parallel()

	encSide := NewDynamicTable(4096)
	decSide := NewDynamicTable(4096)
	enc := NewEncoder(encSide)
	dec := NewDecoder(decSide)

	insertInstr := enc.InsertWithLiteralName("x-session", "abcdefghijklmnopqrstuvwxyz")
	kind, n, err := ApplyEncoderInstruction(decSide, insertInstr)
	require.NoError(t, err)
	require.Equal(t, InstructionInsertWithLiteralName, kind)
	require.Equal(t, len(insertInstr), n)

	block := enc.EncodeFieldSection([]Field{{"x-session", "abcdefghijklmnopqrstuvwxyz"}})
	fields, err := dec.DecodeFieldSection(block)
	require.NoError(t, err)
	require.Equal(t, []Field{{"x-session", "abcdefghijklmnopqrstuvwxyz"}}, fields)
}

func TestDecodeBlocksOnMissingInsertions(t *testing.T) {
	t.Parallel()

	encSide := NewDynamicTable(4096)
	decSide := NewDynamicTable(4096)
	enc := NewEncoder(encSide)
	dec := NewDecoder(decSide)

	_ = enc.InsertWithLiteralName("x-session", "value")
	block := enc.EncodeFieldSection([]Field{{"x-session", "value"}})

	// decSide never received the insertion instruction.
	_, err := dec.DecodeFieldSection(block)
	require.ErrorIs(t, err, ErrBlocked)
}

func TestDynamicTableEvictionAndSizeAccounting(t *testing.T) {
	t.Parallel()

	dyn := NewDynamicTable(entrySize("k", "v") + 10)
	idx0 := dyn.Insert("k", "v")
	require.Equal(t, uint64(0), idx0)
	require.Equal(t, entrySize("k", "v"), dyn.Size())

	// Second insert must evict the first to fit.
	idx1 := dyn.Insert("k2", "v2")
	require.Equal(t, uint64(1), idx1)
	_, ok := dyn.EntryByAbsolute(0)
	require.False(t, ok, "oldest entry should have been evicted")
	_, ok = dyn.EntryByAbsolute(1)
	require.True(t, ok)
}

func TestDynamicTableDropsOverCapacityEntryButCreditsInsertion(t *testing.T) {
	t.Parallel()

	dyn := NewDynamicTable(8) // smaller than any real entry's overhead (32 bytes alone)
	before := dyn.InsertCount()
	dyn.Insert("name", "value")
	require.Equal(t, before+1, dyn.InsertCount())
	require.Equal(t, 0, dyn.Size())
	_, ok := dyn.EntryByAbsolute(before)
	require.False(t, ok)
}

func TestHuffmanRoundTrip(t *testing.T) {
	t.Parallel()

	samples := []string{"", "a", "GET", "https://example.com/path?x=1", "the quick brown fox jumps"}
	for _, s := range samples {
		encoded := appendString(nil, s)
		decoded, n, err := readString(encoded)
		require.NoError(t, err)
		require.Equal(t, s, decoded)
		require.Equal(t, len(encoded), n)
	}
}

func TestPrefixIntRoundTrip(t *testing.T) {
	t.Parallel()

	values := []uint64{0, 1, 62, 63, 64, 1000, 1 << 20, 1 << 40}
	for _, prefixBits := range []uint{3, 4, 5, 6, 7, 8} {
		for _, v := range values {
			enc := appendPrefixInt(nil, 0, prefixBits, v)
			got, n, err := readPrefixInt(enc, prefixBits)
			require.NoError(t, err)
			require.Equal(t, v, got)
			require.Equal(t, len(enc), n)
		}
	}
}
