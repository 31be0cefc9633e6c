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

// Package config holds a connection's full configuration surface
// (spec §6) and the functional options used to build one. Validate
// runs synchronously at conn.Dial, never in a background goroutine, so
// a misconfiguration is always reported before any socket is opened.
package config

import (
	"time"

	"github.com/quicfuscate/quicsand/lib/errkind"
	"github.com/quicfuscate/quicsand/lib/fingerprint"
	"github.com/quicfuscate/quicsand/lib/masquerade"
	"github.com/quicfuscate/quicsand/lib/spinbit"
)

// CongestionAlgorithm selects the connection's congestion controller.
// BBRv2 is the only algorithm this module implements (spec §4.9);
// others are named for configuration-surface completeness and are
// rejected by Validate until implemented.
type CongestionAlgorithm int

const (
	CongestionBBRv2 CongestionAlgorithm = iota
	CongestionReno
	CongestionCubic
)

// SNI groups the ClientHello-hiding options (spec §4.6, §6).
type SNI struct {
	Technique   masquerade.SNITechnique
	PadBytes    int
	FrontDomain string
	RealDomain  string
}

// MTU groups path MTU discovery bounds (spec §4.10, §6).
type MTU struct {
	Min, Max, Step     int
	BlackholeThreshold int
}

// FEC groups forward-error-correction options (spec §4.11, §6).
type FEC struct {
	Enabled    bool
	Redundancy int
	// EnergyEfficient scales the loss-adjusted redundancy down by a
	// further fixed factor (spec §4.11: "in energy-efficient operating
	// modes the ratio is scaled down by a fixed factor").
	EnergyEfficient bool
}

// Migration groups connection-migration options (spec §4.13, §6).
type Migration struct {
	Enabled            bool
	PreferredInterface string
}

// Burst groups outbound burst-coalescing options (spec §4.16, §6).
type Burst struct {
	Enabled  bool
	MinSize  int
	MaxSize  int
	Interval time.Duration
}

// Config is one connection's full, validated configuration.
type Config struct {
	BrowserProfile fingerprint.ProfileID
	StealthLevel   int // 0-3, spec §6

	SNI SNI

	SpinBitStrategy spinbit.Strategy

	MTU MTU

	CongestionAlgorithm CongestionAlgorithm

	FEC FEC

	ZeroRTTEnabled bool

	Migration Migration

	Burst Burst
}

// Option mutates a Config under construction.
type Option func(*Config)

// WithBrowserProfile selects the TLS/HTTP fingerprint profile.
func WithBrowserProfile(id fingerprint.ProfileID) Option {
	return func(c *Config) { c.BrowserProfile = id }
}

// WithStealthLevel sets the 0-3 stealth level (spec §6).
func WithStealthLevel(level int) Option {
	return func(c *Config) { c.StealthLevel = level }
}

// WithSNI configures ClientHello hiding.
func WithSNI(sni SNI) Option {
	return func(c *Config) { c.SNI = sni }
}

// WithSpinBitStrategy configures the spin-bit policy (spec §4.7).
func WithSpinBitStrategy(strategy spinbit.Strategy) Option {
	return func(c *Config) { c.SpinBitStrategy = strategy }
}

// WithMTU configures path MTU discovery bounds.
func WithMTU(mtu MTU) Option {
	return func(c *Config) { c.MTU = mtu }
}

// WithCongestionAlgorithm selects the congestion controller.
func WithCongestionAlgorithm(alg CongestionAlgorithm) Option {
	return func(c *Config) { c.CongestionAlgorithm = alg }
}

// WithFEC configures forward error correction.
func WithFEC(fec FEC) Option {
	return func(c *Config) { c.FEC = fec }
}

// WithZeroRTT enables or disables 0-RTT session resumption.
func WithZeroRTT(enabled bool) Option {
	return func(c *Config) { c.ZeroRTTEnabled = enabled }
}

// WithMigration configures connection migration.
func WithMigration(m Migration) Option {
	return func(c *Config) { c.Migration = m }
}

// WithBurst configures outbound burst coalescing.
func WithBurst(b Burst) Option {
	return func(c *Config) { c.Burst = b }
}

// Default returns the baseline configuration: Chrome fingerprint,
// stealth level 1, no SNI hiding, random spin-bit, BBRv2, FEC and
// migration enabled with conservative defaults, burst coalescing off.
func Default() Config {
	return Config{
		BrowserProfile:      fingerprint.ChromeLatest,
		StealthLevel:        1,
		SNI:                 SNI{Technique: masquerade.SNINone},
		SpinBitStrategy:     spinbit.Random,
		MTU:                 MTU{Min: 1200, Max: 1452, Step: 16, BlackholeThreshold: 3},
		CongestionAlgorithm: CongestionBBRv2,
		FEC:                 FEC{Enabled: true, Redundancy: 2},
		ZeroRTTEnabled:      true,
		Migration:           Migration{Enabled: true},
		Burst:               Burst{Enabled: false, MinSize: 512, MaxSize: 8192, Interval: 5 * time.Millisecond},
	}
}

// New builds a Config from Default plus opts, in order.
func New(opts ...Option) Config {
	c := Default()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Validate checks the configuration surface for internal consistency.
// conn.Dial calls this synchronously before opening any socket.
func (c Config) Validate() error {
	if c.StealthLevel < 0 || c.StealthLevel > 3 {
		return errkind.New(errkind.KindOutOfRange, "config: stealth_level must be in [0,3], got %d", c.StealthLevel)
	}
	if _, err := fingerprint.Lookup(c.BrowserProfile); err != nil {
		return errkind.Wrap(err, errkind.KindInvalidArgument, "config: browser_profile")
	}
	if c.SNI.Technique == masquerade.SNIFront && c.SNI.FrontDomain == "" {
		return errkind.New(errkind.KindMissingOption, "config: sni.front_domain is required for the front technique")
	}
	if c.SNI.Technique == masquerade.SNIPad && c.SNI.PadBytes < 0 {
		return errkind.New(errkind.KindOutOfRange, "config: sni.pad_bytes must be >= 0")
	}
	if c.MTU.Min <= 0 || c.MTU.Max <= 0 || c.MTU.Min > c.MTU.Max {
		return errkind.New(errkind.KindInvalidArgument, "config: mtu.min/max invalid (%d/%d)", c.MTU.Min, c.MTU.Max)
	}
	if c.MTU.Step <= 0 {
		return errkind.New(errkind.KindInvalidArgument, "config: mtu.step must be positive")
	}
	if c.MTU.BlackholeThreshold <= 0 {
		return errkind.New(errkind.KindInvalidArgument, "config: mtu.blackhole_threshold must be positive")
	}
	if c.CongestionAlgorithm != CongestionBBRv2 {
		return errkind.New(errkind.KindNotImplemented, "config: cc.algorithm %d is not implemented, only BBRv2", c.CongestionAlgorithm)
	}
	if c.FEC.Enabled && (c.FEC.Redundancy <= 0) {
		return errkind.New(errkind.KindInvalidArgument, "config: fec.redundancy must be positive when fec.enabled")
	}
	if c.Burst.Enabled {
		if c.Burst.MinSize <= 0 || c.Burst.MaxSize <= 0 || c.Burst.MinSize > c.Burst.MaxSize {
			return errkind.New(errkind.KindInvalidArgument, "config: burst.min_size/max_size invalid (%d/%d)", c.Burst.MinSize, c.Burst.MaxSize)
		}
		if c.Burst.Interval <= 0 {
			return errkind.New(errkind.KindInvalidArgument, "config: burst.interval must be positive when burst.enabled")
		}
	}
	return nil
}
