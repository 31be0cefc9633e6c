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

// Package spinbit rewrites the QUIC short-header spin bit (bit 5 of
// the first byte) on outbound 1-RTT packets according to a configured
// strategy (spec §4.7). Long-header packets carry no spin bit and are
// left untouched by callers.
package spinbit

import (
	"math/rand/v2"
	"time"

	"github.com/quicfuscate/quicsand/lib/errkind"
)

const spinBitMask = 0x20

// Strategy selects how the spin bit is derived for each outbound
// packet.
type Strategy int

const (
	ConstantZero Strategy = iota
	ConstantOne
	Random
	Alternating
	TimingBased
	Mimicry
)

// Policy computes the spin bit to apply to the next outbound 1-RTT
// packet. It is not safe for concurrent use without external
// synchronization, matching the single-writer actor model the
// connection core drives it from.
type Policy struct {
	strategy Strategy
	start    time.Time

	// Alternating
	interval time.Duration

	// Random
	probability float64
	randSource  func() float64

	// Mimicry
	pattern []byte
	mimicPos int
}

// NewAlternating builds a Policy implementing the ALTERNATING strategy:
// (elapsed_since_start / interval) mod 2 (spec §4.7, §8 scenario 6).
func NewAlternating(start time.Time, interval time.Duration) *Policy {
	return &Policy{strategy: Alternating, start: start, interval: interval}
}

// NewConstant builds a Policy that always emits bit.
func NewConstant(bit byte) *Policy {
	s := ConstantZero
	if bit != 0 {
		s = ConstantOne
	}
	return &Policy{strategy: s}
}

// NewRandom builds a Policy that flips the original bit with
// probability p.
func NewRandom(p float64) *Policy {
	return &Policy{strategy: Random, probability: p, randSource: rand.Float64}
}

// NewTimingBased builds a Policy that XORs the original bit with a bit
// derived from a sub-millisecond clock reading.
func NewTimingBased() *Policy {
	return &Policy{strategy: TimingBased}
}

// NewMimicry builds a Policy that replays pattern's bits in order,
// wrapping around at the end.
func NewMimicry(pattern []byte) (*Policy, error) {
	if len(pattern) == 0 {
		return nil, errkind.New(errkind.KindInvalidArgument, "spinbit: mimicry pattern must not be empty")
	}
	return &Policy{strategy: Mimicry, pattern: append([]byte(nil), pattern...)}, nil
}

// Apply computes the spin bit to stamp into a packet's first byte,
// given the packet's original spin bit (as produced by the transport
// layer before obfuscation) and now. It does not mutate p's position
// for strategies that do not depend on call order (ConstantZero/One,
// Alternating, TimingBased); Random and Mimicry advance internal state
// per call.
func (p *Policy) Apply(originalBit byte, now time.Time) byte {
	switch p.strategy {
	case ConstantZero:
		return 0
	case ConstantOne:
		return 1
	case Random:
		if p.randSource() < p.probability {
			return originalBit ^ 1
		}
		return originalBit
	case Alternating:
		elapsed := now.Sub(p.start)
		if elapsed < 0 {
			elapsed = 0
		}
		return byte((elapsed / p.interval) % 2)
	case TimingBased:
		sub := now.Nanosecond() % 1_000_000 // sub-millisecond component
		timingBit := byte((sub >> 9) & 1)   // a bit derived from the low-order timing noise
		return originalBit ^ timingBit
	case Mimicry:
		bit := p.pattern[p.mimicPos%len(p.pattern)] & 1
		p.mimicPos++
		return bit
	default:
		return originalBit
	}
}

// StampPacket rewrites bit 5 of the first byte of a short-header QUIC
// packet in place, leaving long-header packets (top bit set) untouched
// (spec §4.7: "Long-header packets are untouched").
func StampPacket(packet []byte, policy *Policy, now time.Time) {
	if len(packet) == 0 {
		return
	}
	if packet[0]&0x80 != 0 { // long header: no spin bit
		return
	}
	original := (packet[0] >> 5) & 1
	bit := policy.Apply(original, now)
	if bit != 0 {
		packet[0] |= spinBitMask
	} else {
		packet[0] &^= spinBitMask
	}
}
