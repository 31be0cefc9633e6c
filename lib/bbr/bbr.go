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

// Package bbr implements a BBRv2-shaped congestion controller (spec
// §4.9): STARTUP, DRAIN, PROBE_BW, and PROBE_RTT states driven by
// round-trip bandwidth/RTT samples, with pacing and cwnd gains that
// only change at state transitions or cycle epochs (spec §8 "BBRv2
// monotonicity").
package bbr

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// State is one of BBRv2's four top-level phases.
type State int

const (
	Startup State = iota
	Drain
	ProbeBW
	ProbeRTT
)

func (s State) String() string {
	switch s {
	case Startup:
		return "STARTUP"
	case Drain:
		return "DRAIN"
	case ProbeBW:
		return "PROBE_BW"
	case ProbeRTT:
		return "PROBE_RTT"
	default:
		return "UNKNOWN"
	}
}

const (
	startupPacingGain = 2.885 // 2/ln(2), standard BBR startup gain
	startupCwndGain   = 2.0
	drainPacingGain   = 0.75
	drainCwndGain     = 2.0
	probeBWCwndGain   = 2.0

	// fullBandwidthThreshold: a round is considered a plateau round when
	// its bandwidth sample is not at least this much above the
	// previously recorded peak (spec §8 scenario 8: "within 25% of
	// peak").
	fullBandwidthThreshold = 1.25

	// fullBandwidthRounds is the number of consecutive plateau rounds
	// required to exit STARTUP.
	fullBandwidthRounds = 3

	probeRTTInterval = 10 * time.Second
	probeRTTDuration = 200 * time.Millisecond

	// minCwndMTUs is the cwnd floor during normal operation, expressed
	// as a multiple of the path MTU (spec §4.9: "cwnd = max(4 x MTU,
	// BDP x cwnd_gain)").
	minCwndMTUs = 4

	// probeBWGainCycle is BBR's canonical 8-phase pacing gain cycle for
	// PROBE_BW; entry N determines the gain applied for that cycle
	// phase.
)

var probeBWGainCycle = [8]float64{1.25, 0.75, 1, 1, 1, 1, 1, 1}

// RoundSample is one round-trip's aggregate observation, fed by the
// connection core after each round completes.
type RoundSample struct {
	BandwidthBytesPerSec float64
	RTT                  time.Duration
	BytesInFlight        uint64
	BytesLost            uint64
}

// Controller is a single connection's BBRv2 state machine. Not safe
// for concurrent use; the connection core's single-writer loop is the
// only caller.
type Controller struct {
	state State

	pacingGain float64
	cwndGain   float64
	pathMTU    uint64

	maxBandwidth   float64
	minRTT         time.Duration
	minRTTObserved time.Time

	plateauRounds int
	round         int

	probeBWPhase      int
	probeBWPhaseAt    time.Time
	probeRTTEnteredAt time.Time

	clock  clockwork.Clock
	logger *slog.Logger
}

// New builds a Controller starting in STARTUP, as BBRv2 always does
// for a fresh connection. A nil clock defaults to the real wall clock.
// A nil logger defaults to slog.Default(), tagged with the
// "quicsand/bbr" component (spec §1.1 AMBIENT STACK: "each subsystem
// holds a *slog.Logger... passed in at construction"). pathMTU seeds
// the cwnd floor (spec §4.9: "cwnd = max(4 x MTU, BDP x cwnd_gain)")
// and is updated via SetPathMTU as path MTU discovery converges.
func New(clock clockwork.Clock, pathMTU uint64, logger *slog.Logger) *Controller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if pathMTU == 0 {
		pathMTU = 1200
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		state:          Startup,
		pacingGain:     startupPacingGain,
		cwndGain:       startupCwndGain,
		pathMTU:        pathMTU,
		clock:          clock,
		minRTTObserved: clock.Now(),
		logger:         logger.With("component", "quicsand/bbr"),
	}
}

// SetPathMTU updates the cwnd floor as the path MTU manager converges.
func (c *Controller) SetPathMTU(mtu uint64) {
	if mtu > 0 {
		c.pathMTU = mtu
	}
}

// State returns the current top-level phase.
func (c *Controller) State() State { return c.state }

// PacingGain returns the gain currently applied to BtlBw to derive the
// pacing rate.
func (c *Controller) PacingGain() float64 { return c.pacingGain }

// CwndGain returns the gain currently applied to BDP to derive cwnd.
func (c *Controller) CwndGain() float64 { return c.cwndGain }

// MaxBandwidth returns the highest bandwidth sample recorded so far
// (the BtlBw estimate).
func (c *Controller) MaxBandwidth() float64 { return c.maxBandwidth }

// MinRTT returns the lowest RTT sample recorded so far (the RTprop
// estimate).
func (c *Controller) MinRTT() time.Duration { return c.minRTT }

// OnRoundComplete feeds one round's aggregate sample into the state
// machine, possibly transitioning state or updating gains. Gains only
// change here, never mid-round (spec §8 "BBRv2 monotonicity").
func (c *Controller) OnRoundComplete(sample RoundSample) {
	c.round++
	c.updateMinRTT(sample.RTT)

	switch c.state {
	case Startup:
		c.stepStartup(sample)
	case Drain:
		c.stepDrain(sample)
	case ProbeBW:
		c.stepProbeBW(sample)
	case ProbeRTT:
		c.stepProbeRTT(sample)
	}

	if c.state == ProbeBW && c.shouldEnterProbeRTT() {
		c.enterProbeRTT()
	}
}

func (c *Controller) updateMinRTT(rtt time.Duration) {
	if rtt <= 0 {
		return
	}
	if c.minRTT == 0 || rtt < c.minRTT {
		c.minRTT = rtt
		c.minRTTObserved = c.clock.Now()
	}
}

func (c *Controller) stepStartup(sample RoundSample) {
	if sample.BandwidthBytesPerSec > c.maxBandwidth*fullBandwidthThreshold {
		c.maxBandwidth = sample.BandwidthBytesPerSec
		c.plateauRounds = 0
		return
	}
	if sample.BandwidthBytesPerSec > c.maxBandwidth {
		c.maxBandwidth = sample.BandwidthBytesPerSec
	}
	c.plateauRounds++
	if c.plateauRounds >= fullBandwidthRounds {
		plateauRatio := 0.0
		if c.maxBandwidth > 0 {
			plateauRatio = sample.BandwidthBytesPerSec / c.maxBandwidth
		}
		c.logger.Debug("exiting STARTUP on bandwidth plateau",
			"plateau_rounds", c.plateauRounds,
			"plateau_ratio", plateauRatio,
			"max_bandwidth_bytes_per_sec", c.maxBandwidth,
		)
		c.enterDrain()
	}
}

func (c *Controller) enterDrain() {
	c.state = Drain
	c.pacingGain = drainPacingGain
	c.cwndGain = drainCwndGain
}

// stepDrain stays in DRAIN until bytes in flight have fallen to the
// estimated bandwidth-delay product, then transitions to PROBE_BW.
func (c *Controller) stepDrain(sample RoundSample) {
	bdp := estimateBDP(c.maxBandwidth, c.minRTT)
	if bdp == 0 || sample.BytesInFlight <= bdp {
		c.enterProbeBW()
	}
}

func (c *Controller) enterProbeBW() {
	c.state = ProbeBW
	c.cwndGain = probeBWCwndGain
	c.probeBWPhase = 0
	c.probeBWPhaseAt = c.clock.Now()
	c.pacingGain = probeBWGainCycle[0]
}

func (c *Controller) stepProbeBW(sample RoundSample) {
	if sample.BandwidthBytesPerSec > c.maxBandwidth {
		c.maxBandwidth = sample.BandwidthBytesPerSec
	}
	c.probeBWPhase = (c.probeBWPhase + 1) % len(probeBWGainCycle)
	c.pacingGain = probeBWGainCycle[c.probeBWPhase]
}

// shouldEnterProbeRTT reports whether PROBE_BW has gone rtt_probe_window
// without a fresh min-RTT sample (spec §4.9: "Exit to PROBE_RTT when
// min-RTT has not been refreshed for rtt_probe_window").
func (c *Controller) shouldEnterProbeRTT() bool {
	return c.minRTT > 0 && c.clock.Now().Sub(c.minRTTObserved) >= probeRTTInterval
}

func (c *Controller) enterProbeRTT() {
	c.state = ProbeRTT
	c.pacingGain = 1.0
	c.cwndGain = 1.0
	c.probeRTTEnteredAt = c.clock.Now()
}

// stepProbeRTT holds cwnd at its floor for probeRTTDuration, resamples
// min-RTT, then re-enters PROBE_BW with a fresh min-RTT window.
func (c *Controller) stepProbeRTT(sample RoundSample) {
	if c.clock.Now().Sub(c.probeRTTEnteredAt) >= probeRTTDuration {
		c.minRTTObserved = c.clock.Now()
		c.enterProbeBW()
	}
}

// estimateBDP computes the bandwidth-delay product in bytes from a
// bandwidth (bytes/sec) and an RTT.
func estimateBDP(bandwidthBytesPerSec float64, rtt time.Duration) uint64 {
	if bandwidthBytesPerSec <= 0 || rtt <= 0 {
		return 0
	}
	return uint64(bandwidthBytesPerSec * rtt.Seconds())
}

// PacingRate returns the current pacing rate in bytes/sec: pacing_gain
// * BtlBw.
func (c *Controller) PacingRate() float64 {
	return c.pacingGain * c.maxBandwidth
}

// CongestionWindow returns the current cwnd in bytes: max(4 x MTU,
// cwnd_gain * BDP) (spec §4.9), or just the 4 x MTU floor while in
// PROBE_RTT.
func (c *Controller) CongestionWindow() uint64 {
	floor := minCwndMTUs * c.pathMTU
	if c.state == ProbeRTT {
		return floor
	}
	cwnd := uint64(c.cwndGain * float64(estimateBDP(c.maxBandwidth, c.minRTT)))
	if cwnd < floor {
		return floor
	}
	return cwnd
}
