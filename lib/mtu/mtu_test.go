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

package mtu

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestBinarySearchBlackholeMatchesScenario(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	m, err := NewManager(Config{
		Min: 1200, Max: 1500, Step: 10, BlackholeThreshold: 3,
		Clock: clock,
	})
	require.NoError(t, err)

	for _, size := range []int{1210, 1220, 1230} {
		probed, ok := m.Probe()
		require.True(t, ok)
		require.Equal(t, size, probed)
		m.OnSuccess(size)
		require.Equal(t, Searching, m.Status())
	}

	for i := 0; i < 3; i++ {
		probed, ok := m.Probe()
		require.True(t, ok)
		require.Equal(t, 1240, probed)
		m.OnFailure(1240)
	}

	require.Equal(t, Blackhole, m.Status())
	require.Equal(t, 1230, m.Current())
	require.Equal(t, 1230, m.LastSuccessful())

	_, ok := m.Probe()
	require.False(t, ok, "blackhole status stops probing")
}

func TestConvergenceMatchesScenario(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	m, err := NewManager(Config{
		Min: 1200, Max: 1500, Step: 10, BlackholeThreshold: 3,
		PeriodicInterval: 60 * time.Second,
		Clock:            clock,
	})
	require.NoError(t, err)

	size := 1200
	for size < 1500 {
		probed, ok := m.Probe()
		require.True(t, ok)
		size = probed
		m.OnSuccess(size)
	}

	require.Equal(t, Validated, m.Status())
	require.Equal(t, 1500, m.Current())

	_, ok := m.Probe()
	require.False(t, ok, "periodic interval has not elapsed yet")

	clock.Advance(61 * time.Second)
	probed, ok := m.Probe()
	require.True(t, ok)
	require.Equal(t, 1500, probed)

	outstanding := m.OutstandingProbes()
	require.Len(t, outstanding, 1)
	_, has1500 := outstanding[1500]
	require.True(t, has1500)
}

func TestInvariantHoldsAcrossEvents(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	m, err := NewManager(Config{
		Min: 1200, Max: 1500, Step: 10, BlackholeThreshold: 2,
		Clock: clock,
	})
	require.NoError(t, err)

	assertInvariant := func() {
		require.LessOrEqual(t, 1200, m.LastSuccessful())
		require.LessOrEqual(t, m.LastSuccessful(), m.Current())
		require.LessOrEqual(t, m.Current(), 1500)
		require.Contains(t, []Status{Unknown, Searching, Validated, Blackhole, Unstable}, m.Status())
	}

	assertInvariant()
	probed, _ := m.Probe()
	assertInvariant()
	m.OnSuccess(probed)
	assertInvariant()
	probed, _ = m.Probe()
	m.OnFailure(probed)
	assertInvariant()
	probed, _ = m.Probe()
	m.OnFailure(probed)
	assertInvariant()
	require.Equal(t, Blackhole, m.Status())
}

func TestNewManagerRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := NewManager(Config{Min: 1500, Max: 1200, Step: 10, BlackholeThreshold: 1})
	require.Error(t, err)

	_, err = NewManager(Config{Min: 1200, Max: 1500, Step: 0, BlackholeThreshold: 1})
	require.Error(t, err)

	_, err = NewManager(Config{Min: 1200, Max: 1500, Step: 10, BlackholeThreshold: 0})
	require.Error(t, err)
}
