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

package fingerprint

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLookupKnownProfiles(t *testing.T) {
	t.Parallel()

	for _, id := range []ProfileID{ChromeLatest, FirefoxLatest, SafariLatest, EdgeLatest, ChromeMobile, SafariMobile} {
		p, err := Lookup(id)
		require.NoError(t, err)
		require.Equal(t, id, p.ID)
		require.NotEmpty(t, p.CipherSuites)
		require.NotEmpty(t, p.ALPN)
	}
}

func TestLookupUnknownProfile(t *testing.T) {
	t.Parallel()

	_, err := Lookup("made-up-browser")
	require.Error(t, err)
}

func TestApplyToTLSConfig(t *testing.T) {
	t.Parallel()

	p, err := Lookup(ChromeLatest)
	require.NoError(t, err)

	cfg := &tls.Config{}
	p.ApplyToTLSConfig(cfg)

	require.Equal(t, p.CipherSuites, cfg.CipherSuites)
	require.Equal(t, p.SupportedGroups, cfg.CurvePreferences)
	require.Equal(t, p.ALPN, cfg.NextProtos)
	require.Equal(t, p.MinVersion, cfg.MinVersion)
	require.Equal(t, p.MaxVersion, cfg.MaxVersion)
	require.False(t, cfg.SessionTicketsDisabled)
}

func TestRotatorSequential(t *testing.T) {
	t.Parallel()

	r := NewRotator([]ProfileID{ChromeLatest, FirefoxLatest, SafariLatest}, Sequential, 0)
	now := time.Now()

	var got []ProfileID
	for i := 0; i < 4; i++ {
		id, err := r.Next(now)
		require.NoError(t, err)
		got = append(got, id)
	}
	require.Equal(t, []ProfileID{ChromeLatest, FirefoxLatest, SafariLatest, ChromeLatest}, got)
}

func TestRotatorConnectionBased(t *testing.T) {
	t.Parallel()

	r := NewRotator([]ProfileID{ChromeLatest, FirefoxLatest}, ConnectionBased, 0)
	now := time.Now()

	first, err := r.Next(now)
	require.NoError(t, err)
	second, err := r.Next(now)
	require.NoError(t, err)
	third, err := r.Next(now)
	require.NoError(t, err)

	require.Equal(t, ChromeLatest, first)
	require.Equal(t, FirefoxLatest, second)
	require.Equal(t, ChromeLatest, third)
}

func TestRotatorTimeBasedAdvancesAfterInterval(t *testing.T) {
	t.Parallel()

	r := NewRotator([]ProfileID{ChromeLatest, FirefoxLatest, SafariLatest}, TimeBased, 100*time.Millisecond)
	start := time.Now()

	id0, err := r.Next(start)
	require.NoError(t, err)
	require.Equal(t, ChromeLatest, id0)

	id1, err := r.Next(start.Add(50 * time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, ChromeLatest, id1, "interval has not elapsed yet")

	id2, err := r.Next(start.Add(150 * time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, FirefoxLatest, id2, "one interval elapsed since last rotation")
}

func TestRotatorSinglesProfileAlwaysReturnsIt(t *testing.T) {
	t.Parallel()

	r := NewRotator([]ProfileID{SafariLatest}, Random, 0)
	id, err := r.Next(time.Now())
	require.NoError(t, err)
	require.Equal(t, SafariLatest, id)
}

func TestRotatorRejectsEmptyProfileList(t *testing.T) {
	t.Parallel()

	r := NewRotator(nil, Sequential, 0)
	_, err := r.Next(time.Now())
	require.Error(t, err)
}
