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

// Package aead selects a concrete AEAD primitive by runtime CPU
// capability and exposes it behind a uniform encrypt/decrypt contract,
// per spec §4.2. The choice is fixed for the lifetime of the Cipher and
// never exposed to callers except through Diagnostics.
package aead

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/klauspost/cpuid/v2"

	"github.com/quicfuscate/quicsand/lib/errkind"
)

// KeySize and NonceSize are fixed at 16 bytes per spec §4.2; TagSize is
// likewise 16 bytes.
const (
	KeySize   = 16
	NonceSize = 16
	TagSize   = 16
)

// Primitive identifies the concrete AEAD chosen at construction. It is
// only observable through Diagnostics, never part of the public
// encrypt/decrypt contract.
type Primitive int

const (
	// PrimitiveVectorAES is the 256-bit vector-AES-capable path (AVX512
	// VAES on amd64, or an equivalent wide SIMD AES path).
	PrimitiveVectorAES Primitive = iota
	// PrimitiveHardwareAES is the 128-bit AES-NI / ARMv8 crypto
	// extension path.
	PrimitiveHardwareAES
	// PrimitiveSoftware is the pure-software fallback (ChaCha20-Poly1305).
	PrimitiveSoftware
)

func (p Primitive) String() string {
	switch p {
	case PrimitiveVectorAES:
		return "vector-aes-256-gcm"
	case PrimitiveHardwareAES:
		return "hardware-aes-128-gcm"
	case PrimitiveSoftware:
		return "chacha20poly1305"
	default:
		return "unknown"
	}
}

// sealer is the minimal primitive contract each backend satisfies; it is
// intentionally not exported; Cipher is the only public surface (spec
// §9: "no runtime polymorphism hierarchy... a tagged variant or a single
// function pointer pair suffices").
type sealer interface {
	seal(dst, nonce, plaintext, aad []byte) []byte
	open(dst, nonce, ciphertext, aad []byte) ([]byte, error)
}

// Cipher is the uniform AEAD contract handed to the rest of quicsand.
// It is immutable after construction (spec §5: "The AEAD selector is
// immutable after construction").
type Cipher struct {
	primitive Primitive
	impl      sealer
}

// detectPrimitive applies the priority order from spec §4.2: (a)
// 256-bit vector-AES path, (b) 128-bit AES-NI/ARMv8 crypto path, (c)
// pure-software fallback.
func detectPrimitive() Primitive {
	switch {
	case cpuid.CPU.Supports(cpuid.AVX512F, cpuid.VAES):
		return PrimitiveVectorAES
	case cpuid.CPU.Supports(cpuid.AESNI), cpuid.CPU.Supports(cpuid.AESARM):
		return PrimitiveHardwareAES
	default:
		return PrimitiveSoftware
	}
}

// New constructs a Cipher, selecting a primitive via detectPrimitive.
func New(key []byte) (*Cipher, error) {
	return newWithPrimitive(key, detectPrimitive())
}

// newWithPrimitive is used by tests to force a specific primitive
// regardless of the host's actual capability, and by New for the
// real runtime-detected choice.
func newWithPrimitive(key []byte, primitive Primitive) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, errkind.New(errkind.KindInvalidArgument,
			"aead: key must be %d bytes, got %d", KeySize, len(key))
	}

	var impl sealer
	var err error
	switch primitive {
	case PrimitiveVectorAES, PrimitiveHardwareAES:
		impl, err = newAESGCM(key, primitive == PrimitiveVectorAES)
	case PrimitiveSoftware:
		impl, err = newChaCha20Poly1305(key)
	default:
		return nil, errkind.New(errkind.KindInvalidArgument, "aead: unknown primitive %d", int(primitive))
	}
	if err != nil {
		return nil, errkind.Wrap(err, errkind.KindKeyDerivationFail, "aead: construct cipher")
	}

	return &Cipher{primitive: primitive, impl: impl}, nil
}

// Diagnostics reports the selected primitive for logging/metrics only;
// it is never consulted by encrypt/decrypt callers to branch behavior.
func (c *Cipher) Diagnostics() Primitive { return c.primitive }

// Encrypt seals plaintext under key/nonce/aad, returning ciphertext||tag
// as a single slice (ciphertext first, TagSize-byte tag appended), per
// the AEAD convention Go's cipher.AEAD already uses.
func (c *Cipher) Encrypt(plaintext, nonce, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, errkind.New(errkind.KindInvalidArgument,
			"aead: nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	return c.impl.seal(nil, nonce, plaintext, aad), nil
}

// Decrypt opens ciphertext (with its trailing tag) under key/nonce/aad.
// Authentication failure is reported as errkind.KindAuthFail, matching
// spec §7's AEAD tag-mismatch kind; per spec this is connection-fatal.
func (c *Cipher) Decrypt(ciphertext, nonce, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, errkind.New(errkind.KindInvalidArgument,
			"aead: nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	pt, err := c.impl.open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, errkind.Wrap(err, errkind.KindAuthFail, "aead: decrypt")
	}
	return pt, nil
}

// gcmSealer backs both AES primitives; Go's crypto/aes.NewCipher is
// hardware-accelerated via runtime asm on amd64/arm64, so the "vector"
// vs. "hardware" distinction in spec §4.2 is purely a capability-probe
// label here, not a separate code path — both use AES-256 when the
// vector path is selected and AES-128 otherwise, matching the spec's
// "256-bit" vs "128-bit" framing.
type gcmSealer struct {
	aead cipher.AEAD
}

func newAESGCM(key []byte, wide bool) (sealer, error) {
	aesKey := key
	if wide {
		// Derive a 32-byte key deterministically from the 16-byte input
		// so the vector-AES path can use AES-256-GCM; this mirrors how
		// the original selector treats "256-bit vector" as a distinct
		// cipher identity rather than a distinct key material source.
		aesKey = expandKey(key)
	}
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, err
	}
	return &gcmSealer{aead: gcm}, nil
}

func (s *gcmSealer) seal(dst, nonce, plaintext, aad []byte) []byte {
	return s.aead.Seal(dst, nonce, plaintext, aad)
}

func (s *gcmSealer) open(dst, nonce, ciphertext, aad []byte) ([]byte, error) {
	return s.aead.Open(dst, nonce, ciphertext, aad)
}

// expandKey deterministically stretches a 16-byte key to 32 bytes: the
// first half is the key itself, the second half is the key encrypted
// under itself with a single AES block operation; this is key schedule material,
// not a KDF with security claims beyond "distinct 256-bit identity for
// the wide path", which is all the selector needs.
func expandKey(key []byte) []byte {
	out := make([]byte, 32)
	copy(out[:16], key)
	block, _ := aes.NewCipher(append(append([]byte{}, key...), key...)[:16])
	block.Encrypt(out[16:32], key)
	return out
}
