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
	"context"
	"crypto/sha256"
	"crypto/tls"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/quicfuscate/quicsand/lib/aead"
	"github.com/quicfuscate/quicsand/lib/errkind"
)

// deriveLevelKey expands a TLS-negotiated traffic secret into a
// quicsand AEAD key. This is a local derivation, not RFC 9001's "quic
// key" HKDF label: the spec's scope is the stealth/transport layer
// above the cryptographic handshake, not bit-exact QUIC-TLS interop
// with third-party stacks, so a private label is sufficient here as
// long as both endpoints (always both quicsand peers) derive the same
// way. The label is a single constant rather than one keyed off
// read/write: a client's write secret and the server's read secret for
// the same level are the identical byte string, so deriving off the
// local event kind (QUICSetReadSecret vs QUICSetWriteSecret) instead
// of the secret's own identity would make each side compute a
// different key for what must be one shared key. Application packets
// additionally carry a fresh random nonce per packet (see
// sealApplicationPacket), so no per-level IV needs deriving alongside
// the key.
func deriveLevelKey(secret []byte) (*aead.Cipher, error) {
	key := make([]byte, aead.KeySize)
	r := hkdf.New(sha256.New, secret, nil, []byte("quicsand record key"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, errkind.Wrap(err, errkind.KindKeyDerivationFail, "conn: derive record key")
	}
	return aead.New(key)
}

// runHandshake drives tls.QUICConn to completion, feeding crypto-stream
// bytes through the socket via sendCryptoData and populating c's
// per-level keys as each QUICSetReadSecret/QUICSetWriteSecret event
// arrives. It returns once the handshake event queue runs dry (the
// caller then waits on incoming datagrams to keep feeding it).
func (c *Conn) runHandshake(ctx context.Context) error {
	if err := c.tlsConn.Start(ctx); err != nil {
		return errkind.Wrap(err, errkind.KindHandshakeFailed, "conn: start TLS/QUIC handshake")
	}
	return c.drainHandshakeEvents()
}

// feedCryptoData hands received crypto-stream bytes for level to the
// handshake state machine and drains any resulting events.
func (c *Conn) feedCryptoData(level tls.QUICEncryptionLevel, data []byte) error {
	if err := c.tlsConn.HandleData(level, data); err != nil {
		return errkind.Wrap(err, errkind.KindHandshakeFailed, "conn: handle crypto data at level %d", level)
	}
	return c.drainHandshakeEvents()
}

// drainHandshakeEvents pumps tlsConn.NextEvent until it reports no
// further progress is possible without more input.
func (c *Conn) drainHandshakeEvents() error {
	for {
		ev := c.tlsConn.NextEvent()
		switch ev.Kind {
		case tls.QUICNoEvent:
			return nil

		case tls.QUICSetReadSecret:
			cipher, err := deriveLevelKey(ev.Data)
			if err != nil {
				return err
			}
			c.setLevelRead(ev.Level, cipher)

		case tls.QUICSetWriteSecret:
			cipher, err := deriveLevelKey(ev.Data)
			if err != nil {
				return err
			}
			c.setLevelWrite(ev.Level, cipher)

		case tls.QUICWriteData:
			if err := c.sendCryptoData(ev.Level, ev.Data); err != nil {
				return err
			}

		case tls.QUICTransportParametersRequired:
			// spec's scope is the stealth/transport layer; full RFC 9000
			// transport parameter negotiation is not reimplemented, so an
			// empty parameter set is offered/accepted on both sides.
			c.tlsConn.SetTransportParameters(nil)

		case tls.QUICHandshakeDone:
			c.handshakeDone = true

		case tls.QUICRejectedEarlyData:
			c.zeroRTTAccepted = false

		default:
			// QUICTransportParameters, QUICResumeSession, and any future
			// event kinds have no effect here; 0-RTT ticket storage goes
			// through tls.Config's standard ClientSessionCache, not this
			// event loop.
		}
	}
}
