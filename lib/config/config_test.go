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

package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quicfuscate/quicsand/lib/fingerprint"
	"github.com/quicfuscate/quicsand/lib/masquerade"
)

func TestDefaultValidates(t *testing.T) {
	t.Parallel()
	require.NoError(t, Default().Validate())
}

func TestNewAppliesOptionsOverDefault(t *testing.T) {
	t.Parallel()

	c := New(
		WithBrowserProfile(fingerprint.FirefoxLatest),
		WithStealthLevel(3),
		WithBurst(Burst{Enabled: true, MinSize: 256, MaxSize: 1024, Interval: 10}),
	)
	require.NoError(t, c.Validate())
	require.Equal(t, fingerprint.FirefoxLatest, c.BrowserProfile)
	require.Equal(t, 3, c.StealthLevel)
	require.True(t, c.Burst.Enabled)
}

func TestValidateRejectsOutOfRangeStealthLevel(t *testing.T) {
	t.Parallel()
	c := New(WithStealthLevel(4))
	require.Error(t, c.Validate())
}

func TestValidateRejectsUnknownBrowserProfile(t *testing.T) {
	t.Parallel()
	c := New(WithBrowserProfile("not-a-real-profile"))
	require.Error(t, c.Validate())
}

func TestValidateRejectsFrontTechniqueWithoutFrontDomain(t *testing.T) {
	t.Parallel()
	c := New(WithSNI(SNI{Technique: masquerade.SNIFront}))
	require.Error(t, c.Validate())
}

func TestValidateRejectsInvalidMTUBounds(t *testing.T) {
	t.Parallel()
	c := New(WithMTU(MTU{Min: 1500, Max: 1200, Step: 16, BlackholeThreshold: 3}))
	require.Error(t, c.Validate())
}

func TestValidateRejectsNonBBRv2Algorithm(t *testing.T) {
	t.Parallel()
	c := New(WithCongestionAlgorithm(CongestionCubic))
	require.Error(t, c.Validate())
}

func TestValidateRejectsIncompleteBurstConfig(t *testing.T) {
	t.Parallel()
	c := New(WithBurst(Burst{Enabled: true}))
	require.Error(t, c.Validate())
}
