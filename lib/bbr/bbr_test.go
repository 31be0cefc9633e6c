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

package bbr

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestStartupExitMatchesScenario(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	c := New(clock, 1200, nil)

	require.Equal(t, Startup, c.State())
	require.InDelta(t, startupPacingGain, c.PacingGain(), 1e-9)

	// 3 rounds of ever-increasing bandwidth.
	bandwidths := []float64{1_000_000, 1_500_000, 2_000_000}
	for _, bw := range bandwidths {
		c.OnRoundComplete(RoundSample{BandwidthBytesPerSec: bw, RTT: 20 * time.Millisecond})
		require.Equal(t, Startup, c.State())
	}
	require.Equal(t, float64(2_000_000), c.MaxBandwidth())

	// 3 rounds within 25% of peak (plateau).
	plateau := []float64{2_050_000, 1_900_000, 2_100_000}
	for i, bw := range plateau {
		c.OnRoundComplete(RoundSample{BandwidthBytesPerSec: bw, RTT: 20 * time.Millisecond})
		if i < len(plateau)-1 {
			require.Equal(t, Startup, c.State(), "round %d should still be STARTUP", i)
		}
	}

	require.Equal(t, Drain, c.State())
	require.InDelta(t, drainPacingGain, c.PacingGain(), 1e-9)
}

func TestDrainTransitionsToProbeBWWhenQueueDrained(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	c := New(clock, 1200, nil)

	for _, bw := range []float64{1e6, 2e6, 3e6, 3.1e6, 3.05e6, 3.05e6} {
		c.OnRoundComplete(RoundSample{BandwidthBytesPerSec: bw, RTT: 10 * time.Millisecond})
	}
	require.Equal(t, Drain, c.State())

	c.OnRoundComplete(RoundSample{BandwidthBytesPerSec: 3e6, RTT: 10 * time.Millisecond, BytesInFlight: 0})
	require.Equal(t, ProbeBW, c.State())
	require.Equal(t, probeBWCwndGain, c.CwndGain())
}

func TestProbeRTTEnteredAfterInterval(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	c := New(clock, 1200, nil)
	c.state = ProbeBW
	c.maxBandwidth = 1e6
	c.minRTT = 20 * time.Millisecond
	c.minRTTObserved = clock.Now()

	clock.Advance(probeRTTInterval + time.Second)
	c.OnRoundComplete(RoundSample{BandwidthBytesPerSec: 1e6, RTT: 20 * time.Millisecond})
	require.Equal(t, ProbeRTT, c.State())

	clock.Advance(probeRTTDuration + time.Millisecond)
	c.OnRoundComplete(RoundSample{BandwidthBytesPerSec: 1e6, RTT: 20 * time.Millisecond})
	require.Equal(t, ProbeBW, c.State())
}

func TestPacingRateAndCongestionWindow(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	c := New(clock, 1200, nil)
	c.OnRoundComplete(RoundSample{BandwidthBytesPerSec: 1_000_000, RTT: 50 * time.Millisecond})

	require.InDelta(t, startupPacingGain*1_000_000, c.PacingRate(), 1e-6)
	require.Equal(t, uint64(startupCwndGain*1_000_000*0.05), c.CongestionWindow())
}
