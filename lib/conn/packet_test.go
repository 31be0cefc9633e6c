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

package conn

import (
	"crypto/tls"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quicfuscate/quicsand/lib/aead"
)

func testCipher(t *testing.T) *aead.Cipher {
	t.Helper()
	key := make([]byte, aead.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	c, err := aead.New(key)
	require.NoError(t, err)
	return c
}

func TestCryptoPacketRoundTrip(t *testing.T) {
	t.Parallel()
	pkt := encodeCryptoPacket(tls.QUICEncryptionLevelHandshake, []byte("client hello bytes"))
	level, data, err := decodeCryptoPacket(pkt)
	require.NoError(t, err)
	require.Equal(t, tls.QUICEncryptionLevelHandshake, level)
	require.Equal(t, []byte("client hello bytes"), data)
}

func TestChallengeResponseRoundTrip(t *testing.T) {
	t.Parallel()
	challenge := encodePathChallenge(0xdeadbeefcafebabe)
	value, err := decodeChallengeOrResponse(challenge)
	require.NoError(t, err)
	require.Equal(t, uint64(0xdeadbeefcafebabe), value)

	response := encodePathResponse(42)
	value, err = decodeChallengeOrResponse(response)
	require.NoError(t, err)
	require.Equal(t, uint64(42), value)
}

func TestMTUProbeAckRoundTrip(t *testing.T) {
	t.Parallel()
	ack := encodeMTUProbeAck(1350)
	size, err := decodeMTUProbeAck(ack)
	require.NoError(t, err)
	require.Equal(t, 1350, size)
}

func TestAckRoundTrip(t *testing.T) {
	t.Parallel()
	pkt := encodeAck(7, 123456789)
	seq, echoed, err := decodeAck(pkt)
	require.NoError(t, err)
	require.Equal(t, uint64(7), seq)
	require.Equal(t, int64(123456789), echoed)
}

func TestStreamFramesRoundTrip(t *testing.T) {
	t.Parallel()
	frames := []streamFrame{
		{StreamID: 4, Fin: false, Payload: []byte("hello")},
		{StreamID: 8, Fin: true, Payload: []byte("world")},
	}
	encoded, err := encodeStreamFrames(frames)
	require.NoError(t, err)

	decoded, err := decodeStreamFrames(encoded)
	require.NoError(t, err)
	require.Equal(t, frames, decoded)
}

func TestDecodeStreamFramesRejectsTruncatedPayload(t *testing.T) {
	t.Parallel()
	frames := []streamFrame{{StreamID: 1, Payload: []byte("abcdef")}}
	encoded, err := encodeStreamFrames(frames)
	require.NoError(t, err)

	_, err = decodeStreamFrames(encoded[:len(encoded)-2])
	require.Error(t, err)
}

func TestApplicationPacketSealOpenRoundTrip(t *testing.T) {
	t.Parallel()
	cipher := testCipher(t)
	hdr := applicationHeader{Datagram: false, Seq: 99, SentAtNanos: 1000}
	plaintext := []byte("application data payload")

	sealed, err := sealApplicationPacket(cipher, hdr, plaintext)
	require.NoError(t, err)

	parsed, err := parseApplicationHeader(sealed)
	require.NoError(t, err)
	require.Equal(t, hdr, parsed)

	openedHdr, opened, err := openApplicationPacket(cipher, sealed)
	require.NoError(t, err)
	require.Equal(t, hdr, openedHdr)
	require.Equal(t, plaintext, opened)
}

func TestApplicationPacketOpenRejectsTamperedCiphertext(t *testing.T) {
	t.Parallel()
	cipher := testCipher(t)
	hdr := applicationHeader{Seq: 1, SentAtNanos: 5}
	sealed, err := sealApplicationPacket(cipher, hdr, []byte("secret"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, _, err = openApplicationPacket(cipher, sealed)
	require.Error(t, err)
}

func TestApplicationPacketNoncesAreNotReused(t *testing.T) {
	t.Parallel()
	cipher := testCipher(t)
	hdr := applicationHeader{Seq: 1, SentAtNanos: 5}

	a, err := sealApplicationPacket(cipher, hdr, []byte("payload"))
	require.NoError(t, err)
	b, err := sealApplicationPacket(cipher, hdr, []byte("payload"))
	require.NoError(t, err)

	nonceStart := 17
	nonceEnd := applicationHeaderSize
	require.NotEqual(t, a[nonceStart:nonceEnd], b[nonceStart:nonceEnd])
}
