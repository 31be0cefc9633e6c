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

// This file implements the datagram wire format the connection core
// sends over the UDP socket (spec §4.12's "internal receive/send
// loop"). It deliberately does not reproduce RFC 9001's Initial/
// Handshake packet protection bit-for-bit: both ends of a quicsand
// connection always run this same code, so the confidentiality
// boundary the spec actually tests (the masquerading/stealth layer,
// §4.6-§4.8) sits above the point where 1-RTT keys are installed, not
// in interoperating with a third-party QUIC stack's Initial secrets.
// Crypto-stream bytes before that point travel in a dedicated
// unprotected packet type instead.
package conn

import (
	"crypto/rand"
	"crypto/tls"
	"encoding/binary"

	"github.com/quicfuscate/quicsand/lib/aead"
	"github.com/quicfuscate/quicsand/lib/errkind"
	"github.com/quicfuscate/quicsand/lib/varint"
)

const (
	flagLongHeader = 0x80
	flagSpinBit    = 0x20
	flagDatagram   = 0x10

	longTypeCrypto        = flagLongHeader | 0x00
	longTypePathChallenge = flagLongHeader | 0x01
	longTypePathResponse  = flagLongHeader | 0x02
	longTypeMTUProbe      = flagLongHeader | 0x03
	longTypeMTUProbeAck   = flagLongHeader | 0x04
	longTypeRepair        = flagLongHeader | 0x05
	longTypeAck           = flagLongHeader | 0x06
)

// encodeCryptoPacket wraps a chunk of TLS/QUIC crypto-stream data for
// the given encryption level.
func encodeCryptoPacket(level tls.QUICEncryptionLevel, data []byte) []byte {
	out := make([]byte, 0, 2+len(data))
	out = append(out, longTypeCrypto, byte(level))
	out = append(out, data...)
	return out
}

func decodeCryptoPacket(b []byte) (level tls.QUICEncryptionLevel, data []byte, err error) {
	if len(b) < 2 {
		return 0, nil, errkind.New(errkind.KindFrameError, "conn: truncated crypto packet")
	}
	return tls.QUICEncryptionLevel(b[1]), b[2:], nil
}

func encodePathChallenge(value uint64) []byte {
	out := make([]byte, 9)
	out[0] = longTypePathChallenge
	binary.BigEndian.PutUint64(out[1:], value)
	return out
}

func encodePathResponse(value uint64) []byte {
	out := make([]byte, 9)
	out[0] = longTypePathResponse
	binary.BigEndian.PutUint64(out[1:], value)
	return out
}

func decodeChallengeOrResponse(b []byte) (uint64, error) {
	if len(b) < 9 {
		return 0, errkind.New(errkind.KindFrameError, "conn: truncated path challenge/response")
	}
	return binary.BigEndian.Uint64(b[1:9]), nil
}

// encodeMTUProbe builds a padded probe datagram of exactly size bytes
// (spec §4.10/§6: PING + padding; see the Open Question decision in
// DESIGN.md for why the dedicated 0x77/0x78 framing is not used).
func encodeMTUProbe(size int) []byte {
	out := make([]byte, size)
	out[0] = longTypeMTUProbe
	return out
}

func encodeMTUProbeAck(size int) []byte {
	out := make([]byte, 3)
	out[0] = longTypeMTUProbeAck
	binary.BigEndian.PutUint16(out[1:], uint16(size))
	return out
}

func decodeMTUProbeAck(b []byte) (int, error) {
	if len(b) < 3 {
		return 0, errkind.New(errkind.KindFrameError, "conn: truncated MTU probe ack")
	}
	return int(binary.BigEndian.Uint16(b[1:3])), nil
}

func encodeAck(ackedSeq uint64, echoedSentAtNanos int64) []byte {
	out := make([]byte, 17)
	out[0] = longTypeAck
	binary.BigEndian.PutUint64(out[1:9], ackedSeq)
	binary.BigEndian.PutUint64(out[9:17], uint64(echoedSentAtNanos))
	return out
}

func decodeAck(b []byte) (ackedSeq uint64, echoedSentAtNanos int64, err error) {
	if len(b) < 17 {
		return 0, 0, errkind.New(errkind.KindFrameError, "conn: truncated ack")
	}
	return binary.BigEndian.Uint64(b[1:9]), int64(binary.BigEndian.Uint64(b[9:17])), nil
}

// streamFrame is one multiplexed chunk of a stream write, carried
// inside an application packet's plaintext.
type streamFrame struct {
	StreamID uint64
	Fin      bool
	Payload  []byte
}

// encodeStreamFrames serializes frames as
// (varint streamID, fin byte, varint length, bytes) repeated, using
// the same QUIC varint encoding as the rest of the transport (lib/varint).
func encodeStreamFrames(frames []streamFrame) ([]byte, error) {
	var out []byte
	var err error
	for _, f := range frames {
		out, err = varint.Encode(out, f.StreamID)
		if err != nil {
			return nil, err
		}
		if f.Fin {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
		out, err = varint.Encode(out, uint64(len(f.Payload)))
		if err != nil {
			return nil, err
		}
		out = append(out, f.Payload...)
	}
	return out, nil
}

func decodeStreamFrames(b []byte) ([]streamFrame, error) {
	var frames []streamFrame
	for len(b) > 0 {
		streamID, n, err := varint.Decode(b)
		if err != nil {
			return nil, err
		}
		b = b[n:]
		if len(b) < 1 {
			return nil, errkind.New(errkind.KindFrameError, "conn: truncated stream frame fin byte")
		}
		fin := b[0] != 0
		b = b[1:]
		length, n, err := varint.Decode(b)
		if err != nil {
			return nil, err
		}
		b = b[n:]
		if uint64(len(b)) < length {
			return nil, errkind.New(errkind.KindFrameError, "conn: truncated stream frame payload")
		}
		frames = append(frames, streamFrame{StreamID: streamID, Fin: fin, Payload: b[:length]})
		b = b[length:]
	}
	return frames, nil
}

// applicationHeader is the cleartext portion of an application-data
// packet: enough to demultiplex, ack, and AEAD-authenticate without
// decrypting first.
type applicationHeader struct {
	Datagram    bool
	Seq         uint64
	SentAtNanos int64
}

const applicationHeaderSize = 1 + 8 + 8 + aead.NonceSize

// sealApplicationPacket builds a full wire packet: cleartext header,
// a random nonce, then the AEAD-sealed plaintext under AAD = header
// bytes (spin bit is stamped into byte0 by the caller afterward, once
// the packet's final bytes are fixed, since stamping must be the very
// last step before the socket write).
func sealApplicationPacket(cipher *aead.Cipher, hdr applicationHeader, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errkind.Wrap(err, errkind.KindInvalidOperation, "conn: generate packet nonce")
	}

	flags := byte(0)
	if hdr.Datagram {
		flags |= flagDatagram
	}

	aad := make([]byte, applicationHeaderSize)
	aad[0] = flags
	binary.BigEndian.PutUint64(aad[1:9], hdr.Seq)
	binary.BigEndian.PutUint64(aad[9:17], uint64(hdr.SentAtNanos))
	copy(aad[17:], nonce)

	ciphertext, err := cipher.Encrypt(plaintext, nonce, aad)
	if err != nil {
		return nil, errkind.Wrap(err, errkind.KindAuthFail, "conn: seal application packet")
	}
	return append(aad, ciphertext...), nil
}

// parseApplicationHeader reads just the cleartext header, without
// touching the AEAD-sealed remainder. Used on receipt before 1-RTT
// keys are necessarily available yet (e.g. to feed the FEC decoder or
// send an ack), and internally by openApplicationPacket.
func parseApplicationHeader(b []byte) (applicationHeader, error) {
	if len(b) < applicationHeaderSize {
		return applicationHeader{}, errkind.New(errkind.KindFrameError, "conn: truncated application packet header")
	}
	return applicationHeader{
		Datagram:    b[0]&flagDatagram != 0,
		Seq:         binary.BigEndian.Uint64(b[1:9]),
		SentAtNanos: int64(binary.BigEndian.Uint64(b[9:17])),
	}, nil
}

// openApplicationPacket parses the cleartext header, then decrypts the
// remainder under it as AAD. The spin bit is cleared in the AAD copy,
// since the sender stamps it into byte0 only after sealing.
func openApplicationPacket(cipher *aead.Cipher, b []byte) (applicationHeader, []byte, error) {
	hdr, err := parseApplicationHeader(b)
	if err != nil {
		return applicationHeader{}, nil, err
	}
	nonce := b[17:applicationHeaderSize]
	aad := append([]byte(nil), b[:applicationHeaderSize]...)
	aad[0] &^= flagSpinBit
	plaintext, err := cipher.Decrypt(b[applicationHeaderSize:], nonce, aad)
	if err != nil {
		return applicationHeader{}, nil, err
	}
	return hdr, plaintext, nil
}

