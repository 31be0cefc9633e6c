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

// Package mtu implements bidirectional path MTU discovery (spec §4.10):
// a binary-search-shaped probe ladder with blackhole and instability
// detection, absorbing probe failures locally and surfacing state only
// through Status/Current (spec §7 "Probe failures in the MTU manager
// are absorbed locally and surface only through the manager's
// status").
package mtu

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/quicfuscate/quicsand/lib/errkind"
)

// Status is the manager's externally visible discovery state (spec §8
// "MTU invariant").
type Status int

const (
	Unknown Status = iota
	Searching
	Validated
	Blackhole
	Unstable
)

func (s Status) String() string {
	switch s {
	case Unknown:
		return "UNKNOWN"
	case Searching:
		return "SEARCHING"
	case Validated:
		return "VALIDATED"
	case Blackhole:
		return "BLACKHOLE"
	case Unstable:
		return "UNSTABLE"
	default:
		return "UNKNOWN"
	}
}

const (
	defaultPeriodicProbeInterval = 60 * time.Second

	// defaultAdaptiveCheckInterval is how often Probe re-evaluates the
	// latest loss-rate/RTT sample for a proactive adjustment (spec §4.10
	// "adaptive adjustment"), grounded on
	// original_source/core/quic_path_mtu_manager.cpp's adapt_mtu_dynamically,
	// which runs on its own cadence independent of the probe ladder.
	defaultAdaptiveCheckInterval = 5 * time.Second

	// adaptiveLossThreshold is the observed loss rate above which the
	// adaptive check backs the MTU off by one step rather than probing
	// upward, mirroring adapt_mtu_dynamically's loss-driven decrease.
	adaptiveLossThreshold = 0.05

	// stabilityWindow and maxStableChanges implement the spec's
	// "UNSTABLE triggered by more than three distinct MTU changes within
	// a 1-minute window", grounded on quic_path_mtu_manager.cpp's
	// update_stability_tracking/is_mtu_unstable.
	stabilityWindow  = time.Minute
	maxStableChanges = 3
)

// Manager drives path MTU probing for one connection. Not safe for
// concurrent Probe/OnSuccess/OnFailure calls from multiple goroutines
// without its own internal lock, which it holds.
type Manager struct {
	mu sync.Mutex

	min, max, step     int
	blackholeThreshold int
	periodicInterval   time.Duration
	adaptiveInterval   time.Duration
	clock              clockwork.Clock
	logger             *slog.Logger

	current        int
	lastSuccessful int
	attempt        int

	consecutiveFailures int
	status              Status

	outstanding       map[int]time.Time
	lastPeriodicProbe time.Time

	lastAdaptiveCheck time.Time
	lastLossRate      float64
	lastRTT           time.Duration

	// mtuChanges records the time of every change to current, pruned to
	// the trailing stabilityWindow, to drive UNSTABLE detection.
	mtuChanges []time.Time
}

// Config parameterizes a Manager.
type Config struct {
	Min, Max, Step       int
	BlackholeThreshold   int
	PeriodicInterval     time.Duration
	AdaptiveCheckInterval time.Duration
	Clock                clockwork.Clock
	Logger                *slog.Logger
}

// NewManager validates cfg and builds a Manager starting at Min with
// status UNKNOWN.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Min <= 0 || cfg.Max <= 0 || cfg.Min > cfg.Max {
		return nil, errkind.New(errkind.KindInvalidArgument, "mtu: invalid min/max (%d/%d)", cfg.Min, cfg.Max)
	}
	if cfg.Step <= 0 {
		return nil, errkind.New(errkind.KindInvalidArgument, "mtu: step must be positive")
	}
	if cfg.BlackholeThreshold <= 0 {
		return nil, errkind.New(errkind.KindInvalidArgument, "mtu: blackhole threshold must be positive")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	interval := cfg.PeriodicInterval
	if interval <= 0 {
		interval = defaultPeriodicProbeInterval
	}
	adaptiveInterval := cfg.AdaptiveCheckInterval
	if adaptiveInterval <= 0 {
		adaptiveInterval = defaultAdaptiveCheckInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		min:                cfg.Min,
		max:                cfg.Max,
		step:                cfg.Step,
		blackholeThreshold: cfg.BlackholeThreshold,
		periodicInterval:   interval,
		adaptiveInterval:   adaptiveInterval,
		clock:              clock,
		logger:             logger.With("component", "quicsand/mtu"),
		current:            cfg.Min,
		lastSuccessful:     cfg.Min,
		status:             Unknown,
		outstanding:        make(map[int]time.Time),
	}, nil
}

// Observe records the connection core's latest loss-rate ([0,1]) and
// RTT sample; the next Probe call consults it at most once per
// adaptiveInterval (spec §4.10 "adaptive adjustment").
func (m *Manager) Observe(lossRate float64, rtt time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLossRate = lossRate
	m.lastRTT = rtt
}

// Status returns the current discovery status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Current returns the currently validated/operating MTU.
func (m *Manager) Current() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// LastSuccessful returns the largest MTU ever confirmed to work.
func (m *Manager) LastSuccessful() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSuccessful
}

// OutstandingProbes returns a snapshot of sizes currently awaiting a
// response, keyed by the time each was sent.
func (m *Manager) OutstandingProbes() map[int]time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int]time.Time, len(m.outstanding))
	for k, v := range m.outstanding {
		out[k] = v
	}
	return out
}

func (m *Manager) nextAttempt() int {
	next := m.current + m.step
	if next > m.max {
		next = m.max
	}
	return next
}

// recordChange notes that current just changed, pruning the tracking
// window to the trailing stabilityWindow and flipping to UNSTABLE once
// more than maxStableChanges fall inside it (spec §4.10 "stability":
// "UNSTABLE triggered by more than three distinct MTU changes within a
// 1-minute window"). Steps up the ladder while SEARCHING are not
// tracked, so the initial climb cannot by itself trip UNSTABLE.
func (m *Manager) recordChange(reason string, newSize int) {
	if m.status == Searching {
		m.logger.Debug("path MTU changed", "reason", reason, "new_size", newSize)
		return
	}
	now := m.clock.Now()
	m.mtuChanges = append(m.mtuChanges, now)
	cutoff := now.Add(-stabilityWindow)
	kept := m.mtuChanges[:0]
	for _, t := range m.mtuChanges {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.mtuChanges = kept

	if len(m.mtuChanges) > maxStableChanges && m.status != Blackhole {
		m.status = Unstable
		m.logger.Warn("path MTU unstable", "changes_in_window", len(m.mtuChanges), "window", stabilityWindow)
		return
	}
	m.logger.Debug("path MTU changed", "reason", reason, "new_size", newSize)
}

// adaptCheck runs at most once per adaptiveInterval while VALIDATED: a
// high observed loss rate backs the MTU off by one step immediately,
// otherwise a healthy path queues an upward probe. Returns the size to
// probe and true if one was queued, so Probe's common outstanding-probe
// bookkeeping still applies.
func (m *Manager) adaptCheck() (probe int, queued bool) {
	if m.status != Validated {
		return 0, false
	}
	if m.clock.Now().Sub(m.lastAdaptiveCheck) < m.adaptiveInterval {
		return 0, false
	}
	m.lastAdaptiveCheck = m.clock.Now()

	if m.lastLossRate > adaptiveLossThreshold {
		newSize := m.current - m.step
		if newSize < m.min {
			newSize = m.min
		}
		if newSize != m.current {
			m.current = newSize
			m.lastPeriodicProbe = m.clock.Now()
			m.recordChange("adaptive decrease on loss", newSize)
		}
		return 0, false
	}

	if m.current < m.max {
		return m.nextAttempt(), true
	}
	return 0, false
}

// Probe returns the next MTU size to probe, or ok=false if no probe is
// due right now (e.g. VALIDATED and neither the adaptive check nor the
// periodic interval has anything to do, or BLACKHOLE/UNSTABLE, which
// stop probing).
func (m *Manager) Probe() (size int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.status {
	case Unknown:
		m.status = Searching
		m.attempt = m.nextAttempt()
	case Searching:
		if m.attempt == 0 {
			m.attempt = m.nextAttempt()
		}
	case Validated:
		if probe, queued := m.adaptCheck(); queued {
			m.attempt = probe
			break
		}
		if m.clock.Now().Sub(m.lastPeriodicProbe) < m.periodicInterval {
			return 0, false
		}
		// periodic re-probe targets current+step, not just current, so a
		// path that can now sustain a larger MTU is actually discovered
		// (spec §4.10) rather than only re-confirming the existing size.
		m.attempt = m.nextAttempt()
	case Blackhole, Unstable:
		return 0, false
	}

	m.outstanding[m.attempt] = m.clock.Now()
	return m.attempt, true
}

// OnSuccess records that a probe of size succeeded.
func (m *Manager) OnSuccess(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.outstanding, size)
	m.consecutiveFailures = 0
	m.lastSuccessful = size
	changed := size != m.current
	m.current = size

	switch m.status {
	case Searching:
		if size >= m.max {
			m.status = Validated
			m.lastPeriodicProbe = m.clock.Now()
		} else {
			m.attempt = m.nextAttempt()
		}
	case Validated:
		m.lastPeriodicProbe = m.clock.Now()
	case Unstable:
		m.status = Validated
		m.lastPeriodicProbe = m.clock.Now()
	}

	if changed {
		m.recordChange("probe succeeded", size)
	}
}

// OnFailure records that a probe of size failed (timed out or
// triggered an ICMP too-big response). A VALIDATED path's probe
// failure (e.g. an upward adaptive/periodic probe not panning out)
// does not by itself indicate a blackhole or instability: the
// currently-validated size is still known to work, and stability is
// tracked separately via recordChange's distinct-change-count window.
func (m *Manager) OnFailure(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.outstanding, size)
	m.consecutiveFailures++

	switch m.status {
	case Searching:
		if m.consecutiveFailures >= m.blackholeThreshold {
			m.status = Blackhole
			m.logger.Warn("path MTU blackhole detected", "consecutive_failures", m.consecutiveFailures, "reverting_to", m.lastSuccessful)
			m.current = m.lastSuccessful
		}
		// otherwise retry the same attempt size on the next Probe call.
	case Validated:
		// retried on the next periodic/adaptive check; current MTU stays
		// in effect.
	}
}
