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

package aead

import (
	"crypto/cipher"

	"golang.org/x/crypto/chacha20poly1305"
)

// chachaSealer is the pure-software fallback primitive, path (c) in
// spec §4.2. ChaCha20-Poly1305 needs no AES hardware, matching the
// original selector's use of a software-only cipher (AEGIS/MORUS in the
// C++ source; ChaCha20-Poly1305 is the idiomatic Go equivalent — no
// library in the retrieval pack implements AEGIS/MORUS).
type chachaSealer struct {
	aead cipher.AEAD
}

func newChaCha20Poly1305(key []byte) (sealer, error) {
	// chacha20poly1305.New wants a 32-byte key; we stretch the 16-byte
	// input the same way the wide AES path does, since spec §4.2 fixes
	// KeySize at 16 bytes across all primitives.
	wide := expandKey(key)
	aead, err := chacha20poly1305.New(wide)
	if err != nil {
		return nil, err
	}
	return &chachaSealer{aead: aead}, nil
}

func (s *chachaSealer) seal(dst, nonce, plaintext, aad []byte) []byte {
	return s.aead.Seal(dst, chachaNonce(nonce), plaintext, aad)
}

func (s *chachaSealer) open(dst, nonce, ciphertext, aad []byte) ([]byte, error) {
	return s.aead.Open(dst, chachaNonce(nonce), ciphertext, aad)
}

// chachaNonce adapts the fixed 16-byte NonceSize to
// chacha20poly1305.NonceSize (12 bytes) by keeping its last 12 bytes;
// the first 4 bytes of the 16-byte nonce do not reach the ChaCha20-
// Poly1305 cipher at all.
func chachaNonce(nonce []byte) []byte {
	return nonce[NonceSize-chacha20poly1305.NonceSize:]
}
