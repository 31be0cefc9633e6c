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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quicfuscate/quicsand/lib/aead"
	"github.com/quicfuscate/quicsand/lib/config"
)

// generateTestCertificate builds a self-signed ECDSA certificate for
// 127.0.0.1, good enough to terminate a loopback TLS/QUIC handshake in
// tests. It is its own trust anchor: IsCA is set so it can sit directly
// in a RootCAs pool.
func generateTestCertificate(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "quicsand test server"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}
}

// testServerConn is a minimal loopback QUIC peer for exercising Dial
// end to end: the connection core is client-side only (spec §4.12), so
// there is no production server to test against. It drives its own
// tls.QUICConn directly and reuses the package's wire codec, then
// echoes every received application payload back on the same stream
// (or as a datagram), which is enough to prove a stream write/read
// round trip and the datagram path both work against a real handshake.
type testServerConn struct {
	sock       *net.UDPConn
	tlsConn    *tls.QUICConn
	clientAddr *net.UDPAddr

	readKeys  map[tls.QUICEncryptionLevel]*aead.Cipher
	writeKeys map[tls.QUICEncryptionLevel]*aead.Cipher

	outSeq uint64
}

func (s *testServerConn) drainEvents(t *testing.T) {
	t.Helper()
	for {
		ev := s.tlsConn.NextEvent()
		switch ev.Kind {
		case tls.QUICNoEvent:
			return

		case tls.QUICSetReadSecret:
			cipher, err := deriveLevelKey(ev.Data)
			require.NoError(t, err)
			s.readKeys[ev.Level] = cipher

		case tls.QUICSetWriteSecret:
			cipher, err := deriveLevelKey(ev.Data)
			require.NoError(t, err)
			s.writeKeys[ev.Level] = cipher

		case tls.QUICWriteData:
			pkt := encodeCryptoPacket(ev.Level, ev.Data)
			_, err := s.sock.WriteToUDP(pkt, s.clientAddr)
			require.NoError(t, err)

		case tls.QUICTransportParametersRequired:
			s.tlsConn.SetTransportParameters(nil)

		default:
			// QUICHandshakeDone, QUICTransportParameters, and the rest
			// need no action from this harness.
		}
	}
}

func (s *testServerConn) run(t *testing.T, done <-chan struct{}) {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-done:
			return
		default:
		}
		s.sock.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, addr, err := s.sock.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		if s.clientAddr == nil {
			s.clientAddr = addr
		}
		pkt := append([]byte(nil), buf[:n]...)
		s.handlePacket(t, pkt)
	}
}

func (s *testServerConn) handlePacket(t *testing.T, pkt []byte) {
	if len(pkt) == 0 {
		return
	}
	if pkt[0]&flagLongHeader == 0 {
		s.handleApplication(t, pkt)
		return
	}

	switch pkt[0] {
	case longTypeCrypto:
		level, data, err := decodeCryptoPacket(pkt)
		require.NoError(t, err)
		require.NoError(t, s.tlsConn.HandleData(level, data))
		s.drainEvents(t)

	case longTypeMTUProbe:
		ack := encodeMTUProbeAck(len(pkt))
		s.sock.WriteToUDP(ack, s.clientAddr)

	default:
		// path challenge/response and FEC repair are not exercised by
		// this harness; the client-side features they support are
		// covered independently by their own package tests.
	}
}

func (s *testServerConn) handleApplication(t *testing.T, pkt []byte) {
	hdr, err := parseApplicationHeader(pkt)
	require.NoError(t, err)

	ack := encodeAck(hdr.Seq, hdr.SentAtNanos)
	s.sock.WriteToUDP(ack, s.clientAddr)

	cipher := s.readKeys[tls.QUICEncryptionLevelApplication]
	if cipher == nil {
		return
	}
	_, plaintext, err := openApplicationPacket(cipher, pkt)
	require.NoError(t, err)

	s.echo(t, plaintext, hdr.Datagram)
}

// echo re-seals plaintext under the server's own write key and sends it
// straight back. For stream data this preserves the encoded
// streamFrame (same stream id, fin bit, and masquerade-framed payload)
// so the client's own pipeline decodes it as if the peer had replied;
// for a datagram the raw bytes travel back unchanged.
func (s *testServerConn) echo(t *testing.T, plaintext []byte, datagram bool) {
	cipher := s.writeKeys[tls.QUICEncryptionLevelApplication]
	if cipher == nil {
		return
	}
	seq := s.outSeq
	s.outSeq++
	hdr := applicationHeader{Datagram: datagram, Seq: seq, SentAtNanos: time.Now().UnixNano()}
	sealed, err := sealApplicationPacket(cipher, hdr, plaintext)
	require.NoError(t, err)
	_, err = s.sock.WriteToUDP(sealed, s.clientAddr)
	require.NoError(t, err)
}

func TestDialHandshakeStreamAndDatagramRoundTrip(t *testing.T) {
	cert := generateTestCertificate(t)
	pool := x509.NewCertPool()
	pool.AddCert(cert.Leaf)

	serverSock, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)

	serverTLS := tls.QUICServer(&tls.QUICConfig{
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"h3"},
			MinVersion:   tls.VersionTLS13,
		},
	})
	srv := &testServerConn{
		sock:      serverSock,
		tlsConn:   serverTLS,
		readKeys:  make(map[tls.QUICEncryptionLevel]*aead.Cipher),
		writeKeys: make(map[tls.QUICEncryptionLevel]*aead.Cipher),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, serverTLS.Start(ctx))
	srv.drainEvents(t)

	serverDone := make(chan struct{})
	var srvWG sync.WaitGroup
	srvWG.Add(1)
	go func() {
		defer srvWG.Done()
		srv.run(t, serverDone)
	}()
	t.Cleanup(func() {
		close(serverDone)
		srvWG.Wait()
		serverSock.Close()
	})

	prevRoots := testRootCAs
	testRootCAs = pool
	defer func() { testRootCAs = prevRoots }()

	port := serverSock.LocalAddr().(*net.UDPAddr).Port
	cfg := config.New(
		config.WithMigration(config.Migration{Enabled: false}),
	)

	c, err := Dial(ctx, "127.0.0.1", port, cfg, nil)
	require.NoError(t, err)
	defer c.Close(nil)

	require.Equal(t, "OPEN", c.State())

	streamID, err := c.OpenStream()
	require.NoError(t, err)

	payload := []byte("hello quicsand")
	n, err := c.Write(streamID, payload, false)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	readCtx, readCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer readCancel()
	got, err := c.Read(readCtx, streamID)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	require.NoError(t, c.SendDatagram([]byte("unreliable ping")))

	dgCtx, dgCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dgCancel()
	datagram, err := c.ReceiveDatagram(dgCtx)
	require.NoError(t, err)
	require.Equal(t, []byte("unreliable ping"), datagram)
}
