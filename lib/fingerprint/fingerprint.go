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

// Package fingerprint models per-browser TLS ClientHello parameter sets
// (spec §4.5) and a rotator that cycles the active profile between
// connections.
package fingerprint

import (
	"crypto/tls"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quicfuscate/quicsand/lib/errkind"
)

// ProfileID names a fingerprint profile.
type ProfileID string

const (
	ChromeLatest    ProfileID = "chrome-latest"
	FirefoxLatest   ProfileID = "firefox-latest"
	SafariLatest    ProfileID = "safari-latest"
	EdgeLatest      ProfileID = "edge-latest"
	ChromeMobile    ProfileID = "chrome-mobile"
	SafariMobile    ProfileID = "safari-mobile"
)

// Profile is an immutable record per browser-profile-id (spec §3, §4.5).
type Profile struct {
	ID                ProfileID
	CipherSuites      []uint16
	GreaseExtensions  []uint16
	SupportedGroups   []tls.CurveID
	SignatureSchemes  []tls.SignatureScheme
	ALPN              []string
	MinVersion        uint16
	MaxVersion        uint16
	SessionTickets    bool
	EarlyData         bool
	PSKModes          bool
	CosmeticHeaders   map[string]string
}

// greaseBase are the IANA-reserved GREASE extension/cipher values (RFC
// 8701): 0x?A?A for each nibble 0x0-0xF.
var greaseBase = []uint16{
	0x0A0A, 0x1A1A, 0x2A2A, 0x3A3A, 0x4A4A, 0x5A5A, 0x6A6A, 0x7A7A,
	0x8A8A, 0x9A9A, 0xAAAA, 0xBABA, 0xCACA, 0xDADA, 0xEAEA, 0xFAFA,
}

// builtinProfiles is the fixed set of recognized browser profiles
// (spec §6 "browser_profile" option).
var builtinProfiles = map[ProfileID]Profile{
	ChromeLatest: {
		ID: ChromeLatest,
		CipherSuites: []uint16{
			tls.TLS_AES_128_GCM_SHA256,
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
		GreaseExtensions: greaseBase,
		SupportedGroups:  []tls.CurveID{tls.X25519, tls.CurveP256, tls.CurveP384},
		SignatureSchemes: []tls.SignatureScheme{
			tls.ECDSAWithP256AndSHA256, tls.PSSWithSHA256, tls.PKCS1WithSHA256,
		},
		ALPN:            []string{"h3", "h2", "http/1.1"},
		MinVersion:      tls.VersionTLS12,
		MaxVersion:      tls.VersionTLS13,
		SessionTickets:  true,
		EarlyData:       true,
		PSKModes:        true,
		CosmeticHeaders: map[string]string{"sec-ch-ua-platform": `"Windows"`},
	},
	FirefoxLatest: {
		ID: FirefoxLatest,
		CipherSuites: []uint16{
			tls.TLS_AES_128_GCM_SHA256,
			tls.TLS_CHACHA20_POLY1305_SHA256,
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		},
		SupportedGroups: []tls.CurveID{tls.X25519, tls.CurveP256, tls.CurveP384, tls.CurveP521},
		SignatureSchemes: []tls.SignatureScheme{
			tls.ECDSAWithP256AndSHA256, tls.PKCS1WithSHA256, tls.PSSWithSHA256,
		},
		ALPN:           []string{"h3", "h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		MaxVersion:     tls.VersionTLS13,
		SessionTickets: true,
		EarlyData:      false,
		PSKModes:       true,
	},
	SafariLatest: {
		ID: SafariLatest,
		CipherSuites: []uint16{
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_AES_128_GCM_SHA256,
			tls.TLS_CHACHA20_POLY1305_SHA256,
		},
		SupportedGroups: []tls.CurveID{tls.X25519, tls.CurveP256},
		SignatureSchemes: []tls.SignatureScheme{
			tls.ECDSAWithP256AndSHA256, tls.PSSWithSHA256,
		},
		ALPN:           []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		MaxVersion:     tls.VersionTLS13,
		SessionTickets: true,
		EarlyData:      false,
		PSKModes:       false,
	},
	EdgeLatest: {
		ID:               "edge-latest",
		CipherSuites:     builtinProfilesChromeCiphers(),
		GreaseExtensions: greaseBase,
		SupportedGroups:  []tls.CurveID{tls.X25519, tls.CurveP256, tls.CurveP384},
		ALPN:             []string{"h3", "h2", "http/1.1"},
		MinVersion:       tls.VersionTLS12,
		MaxVersion:       tls.VersionTLS13,
		SessionTickets:   true,
		EarlyData:        true,
		PSKModes:         true,
		CosmeticHeaders:  map[string]string{"sec-ch-ua-platform": `"Windows"`},
	},
	ChromeMobile: {
		ID:               ChromeMobile,
		CipherSuites:     builtinProfilesChromeCiphers(),
		GreaseExtensions: greaseBase,
		SupportedGroups:  []tls.CurveID{tls.X25519, tls.CurveP256},
		ALPN:             []string{"h3", "h2", "http/1.1"},
		MinVersion:       tls.VersionTLS12,
		MaxVersion:       tls.VersionTLS13,
		SessionTickets:   true,
		EarlyData:        true,
		PSKModes:         true,
		CosmeticHeaders:  map[string]string{"sec-ch-ua-platform": `"Android"`},
	},
	SafariMobile: {
		ID:              SafariMobile,
		CipherSuites:    []uint16{tls.TLS_AES_256_GCM_SHA384, tls.TLS_AES_128_GCM_SHA256},
		SupportedGroups: []tls.CurveID{tls.X25519},
		ALPN:            []string{"h2", "http/1.1"},
		MinVersion:      tls.VersionTLS12,
		MaxVersion:      tls.VersionTLS13,
		SessionTickets:  true,
	},
}

func builtinProfilesChromeCiphers() []uint16 {
	return []uint16{
		tls.TLS_AES_128_GCM_SHA256,
		tls.TLS_AES_256_GCM_SHA384,
		tls.TLS_CHACHA20_POLY1305_SHA256,
	}
}

// Lookup returns the named builtin profile.
func Lookup(id ProfileID) (Profile, error) {
	p, ok := builtinProfiles[id]
	if !ok {
		return Profile{}, errkind.New(errkind.KindInvalidArgument, "fingerprint: unknown profile %q", id)
	}
	return p, nil
}

// ApplyToTLSConfig sets the wire-visible fields of cfg (spec §4.5: "a
// parameter record applied to the outgoing TLS ClientHello built by the
// underlying TLS stack"). Go's crypto/tls does not expose raw extension
// ordering or GREASE injection directly; ApplyToTLSConfig sets every
// knob crypto/tls does expose (cipher suites, curve preferences, ALPN,
// version bounds, session tickets), and the GREASE/ordering-sensitive
// parts are applied at the raw-byte layer by lib/sni against the
// produced ClientHello record, consistent with spec's framing of
// fingerprinting as "applied to TLS config" plus separate wire editing.
func (p Profile) ApplyToTLSConfig(cfg *tls.Config) {
	cfg.CipherSuites = append([]uint16(nil), p.CipherSuites...)
	cfg.CurvePreferences = append([]tls.CurveID(nil), p.SupportedGroups...)
	cfg.NextProtos = append([]string(nil), p.ALPN...)
	cfg.MinVersion = p.MinVersion
	cfg.MaxVersion = p.MaxVersion
	cfg.SessionTicketsDisabled = !p.SessionTickets
}

// Strategy selects how a Rotator advances between connections (spec
// §4.5).
type Strategy int

const (
	Sequential Strategy = iota
	Random
	TimeBased
	ConnectionBased
)

// Rotator cycles the active profile by Strategy. Rotation changes the
// profile used for the next connection only, never mid-handshake (spec
// §4.5).
type Rotator struct {
	mu       sync.Mutex
	profiles []ProfileID
	strategy Strategy
	interval time.Duration

	idx        int
	lastRotate time.Time
	connCount  atomic.Int64

	randSource func(n int) int
}

// NewRotator builds a Rotator over profiles using strategy. interval is
// only consulted for TimeBased.
func NewRotator(profiles []ProfileID, strategy Strategy, interval time.Duration) *Rotator {
	return &Rotator{
		profiles:   profiles,
		strategy:   strategy,
		interval:   interval,
		lastRotate: time.Now(),
		randSource: defaultRandSource,
	}
}

// Next returns the profile id to use for the upcoming connection.
func (r *Rotator) Next(now time.Time) (ProfileID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.profiles) == 0 {
		return "", errkind.New(errkind.KindMissingOption, "fingerprint: rotator has no profiles configured")
	}
	if len(r.profiles) == 1 {
		return r.profiles[0], nil
	}

	switch r.strategy {
	case Sequential:
		id := r.profiles[r.idx]
		r.idx = (r.idx + 1) % len(r.profiles)
		return id, nil
	case Random:
		return r.profiles[r.randSource(len(r.profiles))], nil
	case TimeBased:
		if r.interval <= 0 {
			return r.profiles[r.idx], nil
		}
		elapsed := now.Sub(r.lastRotate)
		if elapsed >= r.interval {
			steps := int(elapsed / r.interval)
			r.idx = (r.idx + steps) % len(r.profiles)
			r.lastRotate = now
		}
		return r.profiles[r.idx], nil
	case ConnectionBased:
		n := r.connCount.Add(1)
		return r.profiles[int(n-1)%len(r.profiles)], nil
	default:
		return r.profiles[0], nil
	}
}
