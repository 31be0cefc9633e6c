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

package h3frame

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDataFrameWireFormat(t *testing.T) {
	t.Parallel()

	// spec §8 scenario 5: DATA{"hi"} -> 0x00 0x02 0x68 0x69.
	encoded, err := Serialize(nil, Data([]byte("hi")))
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x02, 0x68, 0x69}, encoded)

	f, n, err := Parse(encoded)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, TypeData, f.Type)
	require.Equal(t, []byte{0x68, 0x69}, f.Payload)
}

func TestRoundTripKnownFrames(t *testing.T) {
	t.Parallel()

	cancelPush, err := CancelPush(7)
	require.NoError(t, err)
	settings, err := Settings([]Setting{
		{SettingQPACKMaxTableCapacity, 4096},
		{SettingQPACKBlockedStreams, 16},
	})
	require.NoError(t, err)
	pushPromise, err := PushPromise(3, []byte{0x00, 0x00, 0xC2})
	require.NoError(t, err)
	goaway, err := Goaway(42)
	require.NoError(t, err)
	maxPushID, err := MaxPushID(5)
	require.NoError(t, err)

	frames := []Frame{
		Data([]byte("payload")),
		Headers([]byte{0x00, 0x00, 0xC2}),
		cancelPush,
		settings,
		pushPromise,
		goaway,
		maxPushID,
		{Type: 0xFF, Payload: []byte{0xDE, 0xAD, 0xBE, 0xEF}}, // unknown type preserved
	}

	var buf []byte
	for _, f := range frames {
		var err error
		buf, err = Serialize(buf, f)
		require.NoError(t, err)
	}

	got, consumed, err := ParseAll(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), consumed)
	require.Equal(t, frames, got)
}

func TestParseSettingsRoundTrip(t *testing.T) {
	t.Parallel()

	want := []Setting{{SettingMaxFieldSectionSize, 65536}, {SettingQPACKBlockedStreams, 4}}
	f, err := Settings(want)
	require.NoError(t, err)

	got, err := ParseSettings(f.Payload)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestParseWaitsOnShortBuffer(t *testing.T) {
	t.Parallel()

	full, err := Serialize(nil, Data([]byte("hello world")))
	require.NoError(t, err)

	for _, cut := range []int{0, 1, 2, 3, len(full) - 1} {
		f, n, err := Parse(full[:cut])
		require.NoError(t, err)
		require.Equal(t, 0, n)
		require.Equal(t, Frame{}, f)
	}
}

func TestParseAllStopsAtTrailingPartialFrame(t *testing.T) {
	t.Parallel()

	complete, err := Serialize(nil, Data([]byte("first")))
	require.NoError(t, err)
	partial, err := Serialize(nil, Data([]byte("second frame body")))
	require.NoError(t, err)
	buf := append(append([]byte{}, complete...), partial[:len(partial)-3]...)

	frames, consumed, err := ParseAll(buf)
	require.NoError(t, err)
	require.Equal(t, len(complete), consumed)
	require.Equal(t, []Frame{Data([]byte("first"))}, frames)
}
