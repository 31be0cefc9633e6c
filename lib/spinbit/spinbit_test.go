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

package spinbit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAlternatingMatchesScenario(t *testing.T) {
	t.Parallel()

	start := time.Now()
	p := NewAlternating(start, 100*time.Millisecond)

	cases := []struct {
		elapsed time.Duration
		want    byte
	}{
		{0, 0},
		{50 * time.Millisecond, 0},
		{120 * time.Millisecond, 1},
		{250 * time.Millisecond, 0},
	}
	for _, tc := range cases {
		got := p.Apply(0, start.Add(tc.elapsed))
		require.Equal(t, tc.want, got, "elapsed=%s", tc.elapsed)
	}
}

func TestConstantPolicies(t *testing.T) {
	t.Parallel()

	zero := NewConstant(0)
	one := NewConstant(1)
	now := time.Now()

	require.Equal(t, byte(0), zero.Apply(1, now))
	require.Equal(t, byte(1), one.Apply(0, now))
}

func TestMimicryWrapsPattern(t *testing.T) {
	t.Parallel()

	p, err := NewMimicry([]byte{1, 0, 1})
	require.NoError(t, err)

	now := time.Now()
	got := []byte{p.Apply(0, now), p.Apply(0, now), p.Apply(0, now), p.Apply(0, now)}
	require.Equal(t, []byte{1, 0, 1, 1}, got)
}

func TestMimicryRejectsEmptyPattern(t *testing.T) {
	t.Parallel()

	_, err := NewMimicry(nil)
	require.Error(t, err)
}

func TestStampPacketLeavesLongHeaderUntouched(t *testing.T) {
	t.Parallel()

	pkt := []byte{0xC0, 0x01, 0x02}
	original := append([]byte(nil), pkt...)
	StampPacket(pkt, NewConstant(1), time.Now())
	require.Equal(t, original, pkt)
}

func TestStampPacketSetsAndClearsShortHeaderBit(t *testing.T) {
	t.Parallel()

	now := time.Now()

	pkt := []byte{0x40, 0xAA}
	StampPacket(pkt, NewConstant(1), now)
	require.Equal(t, byte(0x60), pkt[0])

	pkt2 := []byte{0x60, 0xAA}
	StampPacket(pkt2, NewConstant(0), now)
	require.Equal(t, byte(0x40), pkt2[0])
}

func TestRandomFlipsWithProbabilityOne(t *testing.T) {
	t.Parallel()

	p := NewRandom(1.0)
	p.randSource = func() float64 { return 0 }
	got := p.Apply(0, time.Now())
	require.Equal(t, byte(1), got)
}

func TestTimingBasedIsDeterministicForFixedClock(t *testing.T) {
	t.Parallel()

	p := NewTimingBased()
	now := time.Date(2026, 1, 1, 0, 0, 0, 123456, time.UTC)
	a := p.Apply(0, now)
	b := p.Apply(0, now)
	require.Equal(t, a, b)
}
