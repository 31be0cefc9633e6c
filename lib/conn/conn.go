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

// Package conn is the connection core (spec §4.12): it owns the UDP
// socket, the tls.QUICConn handshake state, the AEAD read/write keys,
// the masquerading pipeline, the MTU manager, the BBRv2 controller,
// the migration controller, and the FEC engine, and drives them all
// from a single goroutine per the actor-style single-writer model
// (spec §5): public methods submit closures on an internal channel
// rather than touching state directly, and two background goroutines
// (the UDP receive loop and the periodic ticker) do the same.
package conn

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/quicfuscate/quicsand/lib/aead"
	"github.com/quicfuscate/quicsand/lib/bbr"
	"github.com/quicfuscate/quicsand/lib/config"
	"github.com/quicfuscate/quicsand/lib/conn/burst"
	"github.com/quicfuscate/quicsand/lib/conn/session"
	"github.com/quicfuscate/quicsand/lib/errkind"
	"github.com/quicfuscate/quicsand/lib/fec"
	"github.com/quicfuscate/quicsand/lib/fingerprint"
	"github.com/quicfuscate/quicsand/lib/masquerade"
	"github.com/quicfuscate/quicsand/lib/migration"
	"github.com/quicfuscate/quicsand/lib/mtu"
	"github.com/quicfuscate/quicsand/lib/spinbit"
)

const (
	defaultQPACKDynamicCapacity = 4096
	mtuProbeTimeout             = time.Second
	tickInterval                = 20 * time.Millisecond
	cmdQueueDepth               = 64
	datagramQueueDepth          = 64

	// lossDetectionTimeout is how long an application packet may go
	// unacked before onTick treats it as lost for loss-rate accounting
	// (spec §4.11/§4.10's loss-rate telemetry feeding FEC and MTU).
	lossDetectionTimeout = 500 * time.Millisecond

	// fecRescaleInterval is how often the live FEC params are
	// re-derived from the current loss-rate window (spec §4.11: "the
	// connection core monitors observed loss rate and adjusts the
	// target ratio").
	fecRescaleInterval = 2 * time.Second
)

var bbrStateNames = []string{
	bbr.Startup.String(), bbr.Drain.String(), bbr.ProbeBW.String(), bbr.ProbeRTT.String(),
}

// testRootCAs overrides the certificate pool Dial verifies the server
// against. Left nil (meaning the system pool) outside of this
// package's own tests, which point it at a loopback test CA.
var testRootCAs *x509.CertPool

type connState int

const (
	connStateConnecting connState = iota
	connStateOpen
	connStateClosed
)

func (s connState) String() string {
	switch s {
	case connStateConnecting:
		return "CONNECTING"
	case connStateOpen:
		return "OPEN"
	default:
		return "CLOSED"
	}
}

type sentRecord struct {
	size   int
	sentAt time.Time
}

// Conn is one obfuscated QUIC connection, client-side only: the
// library's public surface is consumed programmatically via Dial
// (spec §6.1: "No cmd/ demo binary is added... the library is
// consumed programmatically via conn.Dial").
type Conn struct {
	cfg config.Config
	id  string

	sock       *net.UDPConn
	remoteAddr *net.UDPAddr
	host       string

	tlsConn         *tls.QUICConn
	handshakeDone   bool
	zeroRTTAccepted bool
	handshakeOnce   sync.Once
	handshakeResult chan error

	readKeys  map[tls.QUICEncryptionLevel]*aead.Cipher
	writeKeys map[tls.QUICEncryptionLevel]*aead.Cipher

	pipeline   *masquerade.Pipeline
	mtuMgr     *mtu.Manager
	bbrCtrl    *bbr.Controller
	migCtrl    *migration.Controller
	fecCoder   fec.Coder
	fecParams  fec.Params
	burstBuf   *burst.Buffer
	sessions   session.Store
	reporter   *errkind.Reporter
	spinPolicy *spinbit.Policy
	metrics    *metrics
	clock      clockwork.Clock
	logger     *slog.Logger

	nextStreamID uint64

	outSeq uint64
	sent   map[uint64]sentRecord

	fecExpectedNext uint64
	fecMissing      map[int]struct{}

	mtuOutstanding map[int]time.Time

	// lossWindowSentBytes/lossWindowLostBytes accumulate since the last
	// fecRescaleInterval boundary, giving onTick a real per-window loss
	// rate to feed both the MTU manager's adaptive check and the FEC
	// coder's ScaleForLoss (spec §4.10/§4.11).
	lossWindowSentBytes uint64
	lossWindowLostBytes uint64
	lastRTT             time.Duration
	lastFECRescale      time.Time

	datagramCh chan []byte

	// mu guards only the fields below: state, closeErr, and the
	// streams map. Every other field is touched exclusively by the
	// single actor goroutine (run); these three are the one exception,
	// since Close and stream lookups must be callable from arbitrary
	// caller goroutines without routing through the actor.
	mu       sync.Mutex
	state    connState
	closeErr error
	streams  map[uint64]*stream

	cmdCh     chan func()
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial resolves host:port, opens a UDP socket, and drives the QUIC
// handshake to completion (spec §4.12 "connect"), including fingerprint
// overlay and SNI hiding applied to the Initial flight. sessions, if
// nil, defaults to an in-memory store; pass a FileStore to persist
// 0-RTT tickets across process restarts.
func Dial(ctx context.Context, host string, port int, cfg config.Config, sessions session.Store) (*Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = session.NewMemStore()
	}

	raddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, errkind.Wrap(err, errkind.KindDNSFail, "conn: resolve %s:%d", host, port)
	}
	sock, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, errkind.Wrap(err, errkind.KindSocketUnavailable, "conn: dial udp %s:%d", host, port)
	}

	profile, err := fingerprint.Lookup(cfg.BrowserProfile)
	if err != nil {
		sock.Close()
		return nil, errkind.Wrap(err, errkind.KindInvalidArgument, "conn: look up browser profile")
	}

	// logger is the root per-connection logger; every subsystem is
	// handed a derived child tagged with its own "component" attribute
	// at construction (spec §1.1 AMBIENT STACK), never a package-global.
	logger := slog.Default()

	mtuMgr, err := mtu.NewManager(mtu.Config{
		Min:                cfg.MTU.Min,
		Max:                cfg.MTU.Max,
		Step:               cfg.MTU.Step,
		BlackholeThreshold: cfg.MTU.BlackholeThreshold,
		Clock:              clockwork.NewRealClock(),
		Logger:             logger,
	})
	if err != nil {
		sock.Close()
		return nil, err
	}

	var fecCoder fec.Coder
	fecParams := fec.DefaultParams()
	if cfg.FEC.Enabled {
		fecParams.Redundancy = cfg.FEC.Redundancy
		if fecParams.Redundancy > fecParams.BlockSize {
			fecParams.Redundancy = fecParams.BlockSize
		}
		coder, err := fec.NewXORCoder(fecParams)
		if err != nil {
			sock.Close()
			return nil, err
		}
		fecCoder = coder
	}

	var burstBuf *burst.Buffer
	if cfg.Burst.Enabled {
		burstBuf, err = burst.NewBuffer(burst.Config{
			MinBytes:    cfg.Burst.MinSize,
			MaxBytes:    cfg.Burst.MaxSize,
			MinInterval: cfg.Burst.Interval,
			MaxInterval: 10 * cfg.Burst.Interval,
		})
		if err != nil {
			sock.Close()
			return nil, err
		}
	}

	connID := uuid.New().String()

	tlsCfg := &tls.Config{
		ServerName:         host,
		MinVersion:         tls.VersionTLS13,
		ClientSessionCache: newSessionCacheBridge(sessions),
		RootCAs:            testRootCAs,
	}
	profile.ApplyToTLSConfig(tlsCfg)

	c := &Conn{
		cfg:             cfg,
		id:              connID,
		sock:            sock,
		remoteAddr:      raddr,
		host:            host,
		zeroRTTAccepted: cfg.ZeroRTTEnabled,
		handshakeResult: make(chan error, 1),
		readKeys:        make(map[tls.QUICEncryptionLevel]*aead.Cipher),
		writeKeys:       make(map[tls.QUICEncryptionLevel]*aead.Cipher),
		pipeline:        masquerade.NewPipeline(profile, defaultQPACKDynamicCapacity, logger),
		mtuMgr:          mtuMgr,
		bbrCtrl:         bbr.New(clockwork.NewRealClock(), uint64(cfg.MTU.Min), logger),
		fecCoder:        fecCoder,
		fecParams:       fecParams,
		burstBuf:        burstBuf,
		sessions:        sessions,
		reporter:        errkind.NewReporter(connID, 0, logger),
		spinPolicy:      newSpinPolicy(cfg.SpinBitStrategy),
		metrics:         newMetrics(connID),
		clock:           clockwork.NewRealClock(),
		logger:          logger.With("component", "quicsand/conn", "conn_id", connID),
		nextStreamID:    1,
		sent:            make(map[uint64]sentRecord),
		fecMissing:      make(map[int]struct{}),
		mtuOutstanding:  make(map[int]time.Time),
		datagramCh:      make(chan []byte, datagramQueueDepth),
		streams:         make(map[uint64]*stream),
		cmdCh:           make(chan func(), cmdQueueDepth),
		done:            make(chan struct{}),
	}

	c.tlsConn = tls.QUICClient(&tls.QUICConfig{TLSConfig: tlsCfg})

	if cfg.Migration.Enabled {
		migCtrl, err := migration.NewController(migration.Config{
			PreferredInterface: cfg.Migration.PreferredInterface,
			Clock:              clockwork.NewRealClock(),
			OpenPath:           c.openMigrationPath,
			Logger:             logger,
		}, migration.Endpoint{Interface: cfg.Migration.PreferredInterface, LocalAddr: sock.LocalAddr()})
		if err != nil {
			sock.Close()
			return nil, err
		}
		c.migCtrl = migCtrl
	}

	go c.run()
	c.wg.Add(2)
	go c.receiveLoop()
	go c.tickLoop()

	c.submit(func() {
		c.driveHandshake(func() error { return c.runHandshake(ctx) })
	})

	select {
	case err := <-c.handshakeResult:
		if err != nil {
			c.shutdown(err)
			c.wg.Wait()
			return nil, err
		}
	case <-ctx.Done():
		werr := errkind.Wrap(ctx.Err(), errkind.KindTimeout, "conn: handshake did not complete before context deadline")
		c.shutdown(werr)
		c.wg.Wait()
		return nil, werr
	}

	c.mu.Lock()
	c.state = connStateOpen
	c.mu.Unlock()

	return c, nil
}

func newSpinPolicy(strategy spinbit.Strategy) *spinbit.Policy {
	switch strategy {
	case spinbit.ConstantZero:
		return spinbit.NewConstant(0)
	case spinbit.ConstantOne:
		return spinbit.NewConstant(1)
	case spinbit.Alternating:
		return spinbit.NewAlternating(time.Now(), time.Second)
	case spinbit.TimingBased:
		return spinbit.NewTimingBased()
	default:
		return spinbit.NewRandom(0.5)
	}
}

// run is the single-writer actor loop: every mutation of connection
// state (other than the mu-guarded fields) happens inside a closure
// executed here.
func (c *Conn) run() {
	for {
		select {
		case fn := <-c.cmdCh:
			fn()
		case <-c.done:
			return
		}
	}
}

// submit posts fn to the actor loop, dropping it silently if the
// connection is already closed.
func (c *Conn) submit(fn func()) {
	select {
	case c.cmdCh <- fn:
	case <-c.done:
	}
}

// submitSync posts fn to the actor loop and waits for it to run.
func (c *Conn) submitSync(fn func() error) error {
	result := make(chan error, 1)
	c.submit(func() { result <- fn() })
	select {
	case err := <-result:
		return err
	case <-c.done:
		return errkind.New(errkind.KindInvalidState, "conn: connection closed")
	}
}

func (c *Conn) driveHandshake(step func() error) {
	err := step()
	if err != nil {
		c.handshakeOnce.Do(func() { c.handshakeResult <- err })
		return
	}
	if c.handshakeDone {
		c.handshakeOnce.Do(func() { c.handshakeResult <- nil })
	}
}

func (c *Conn) setLevelRead(level tls.QUICEncryptionLevel, cipher *aead.Cipher) {
	c.readKeys[level] = cipher
}

func (c *Conn) setLevelWrite(level tls.QUICEncryptionLevel, cipher *aead.Cipher) {
	c.writeKeys[level] = cipher
}

func (c *Conn) writeRaw(b []byte) error {
	if _, err := c.sock.Write(b); err != nil {
		return errkind.Wrap(err, errkind.KindSocketUnavailable, "conn: write udp datagram")
	}
	return nil
}

func (c *Conn) sendCryptoData(level tls.QUICEncryptionLevel, data []byte) error {
	if level == tls.QUICEncryptionLevelInitial && c.cfg.SNI.Technique != masquerade.SNINone {
		edited, err := masquerade.ApplySNIHiding(c.cfg.SNI.Technique, data, c.cfg.SNI.PadBytes, c.cfg.SNI.FrontDomain)
		if err != nil {
			return errkind.Wrap(err, errkind.KindInvalidOperation, "conn: apply SNI hiding to initial flight")
		}
		data = edited
	}
	return c.writeRaw(encodeCryptoPacket(level, data))
}

// OpenStream allocates the next stream id and registers it with the
// masquerading pipeline (spec §4.12 "open_stream").
func (c *Conn) OpenStream() (uint64, error) {
	var id uint64
	err := c.submitSync(func() error {
		id = c.nextStreamID
		c.nextStreamID++
		c.registerStream(id)
		return nil
	})
	return id, err
}

func (c *Conn) registerStream(id uint64) *stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[id]
	if !ok {
		s = newStream(id)
		c.streams[id] = s
		c.metrics.streamsOpen.Inc()
	}
	return s
}

func (c *Conn) lookupStream(id uint64) (*stream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[id]
	return s, ok
}

// Write frames b as a stream write (HEADERS+DATA on the stream's first
// write, DATA afterward, via the masquerading pipeline) and either
// sends it immediately or queues it in the burst buffer, depending on
// configuration (spec §4.12 "write", §4.16).
func (c *Conn) Write(streamID uint64, b []byte, fin bool) (int, error) {
	var n int
	err := c.submitSync(func() error {
		s, ok := c.streams[streamID]
		if !ok {
			return errkind.New(errkind.KindInvalidArgument, "conn: unknown stream %d", streamID)
		}
		if s.localFin {
			return errkind.New(errkind.KindInvalidState, "conn: write on locally closed stream %d", streamID)
		}

		req := masquerade.Request{Method: "POST", Scheme: "https", Authority: c.authority(), Path: "/"}
		framed, err := c.pipeline.WriteRequestStream(streamID, req, b, fin)
		if err != nil {
			s.fail(err)
			return err
		}
		frame, err := encodeStreamFrames([]streamFrame{{StreamID: streamID, Fin: fin, Payload: framed}})
		if err != nil {
			return err
		}
		if fin {
			s.localFin = true
		}
		if err := c.enqueueOutbound(frame); err != nil {
			return err
		}
		n = len(b)
		return nil
	})
	return n, err
}

func (c *Conn) authority() string {
	if c.cfg.SNI.Technique == masquerade.SNIFront && c.cfg.SNI.RealDomain != "" {
		return c.cfg.SNI.RealDomain
	}
	return c.host
}

func (c *Conn) enqueueOutbound(frame []byte) error {
	if c.burstBuf == nil {
		return c.sendApplicationPacket([][]byte{frame}, false)
	}
	drained := c.burstBuf.Add(burst.Item{Payload: frame, Priority: 0, Deadline: c.clock.Now().Add(c.cfg.Burst.Interval)})
	if drained == nil {
		return nil
	}
	return c.sendApplicationPacket(drained, false)
}

// Read blocks until a chunk of data is available on streamID, the
// stream reaches EOF, or ctx is done (spec §4.12 "read"). Read does
// not route through the actor loop: streams guard their own buffer
// independently, matching the single-writer model's one exception.
func (c *Conn) Read(ctx context.Context, streamID uint64) ([]byte, error) {
	s, ok := c.lookupStream(streamID)
	if !ok {
		return nil, errkind.New(errkind.KindInvalidArgument, "conn: unknown stream %d", streamID)
	}
	return s.read(ctx)
}

// SendDatagram sends b over the unreliable datagram path (spec §4.12
// "send_datagram"): no retransmission, no stream framing, just an
// application packet whose entire plaintext is b.
func (c *Conn) SendDatagram(b []byte) error {
	payload := append([]byte(nil), b...)
	return c.submitSync(func() error {
		return c.sendApplicationPacket([][]byte{payload}, true)
	})
}

// ReceiveDatagram blocks for the next inbound unreliable datagram.
func (c *Conn) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	select {
	case b := <-c.datagramCh:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, errkind.New(errkind.KindConnectionReset, "conn: connection closed")
	}
}

func sumLens(chunks [][]byte) int {
	total := 0
	for _, ch := range chunks {
		total += len(ch)
	}
	return total
}

func (c *Conn) sendApplicationPacket(chunks [][]byte, datagram bool) error {
	cipher := c.writeKeys[tls.QUICEncryptionLevelApplication]
	if cipher == nil {
		return errkind.New(errkind.KindInvalidState, "conn: 1-RTT write key not yet installed")
	}

	plaintext := make([]byte, 0, sumLens(chunks))
	for _, ch := range chunks {
		plaintext = append(plaintext, ch...)
	}

	seq := c.outSeq
	c.outSeq++
	now := c.clock.Now()
	hdr := applicationHeader{Datagram: datagram, Seq: seq, SentAtNanos: now.UnixNano()}

	pkt, err := sealApplicationPacket(cipher, hdr, plaintext)
	if err != nil {
		return err
	}
	masquerade.StampSpinBit(pkt, c.spinPolicy, now)

	c.sent[seq] = sentRecord{size: len(pkt), sentAt: now}
	c.lossWindowSentBytes += uint64(len(pkt))
	c.metrics.bytesInFlight.Add(float64(len(pkt)))

	if c.fecCoder != nil {
		if _, err := c.fecCoder.AddSource(pkt); err != nil {
			c.reporter.Report(err, nil)
		} else if repair, ok, rerr := c.fecCoder.GenerateRepair(); rerr != nil {
			c.reporter.Report(rerr, nil)
		} else if ok {
			if werr := c.writeRaw(append([]byte{longTypeRepair}, repair...)); werr != nil {
				c.reporter.Report(werr, nil)
			}
		}
	}

	if err := c.writeRaw(pkt); err != nil {
		return err
	}
	c.metrics.bytesSent.Add(float64(len(pkt)))
	return nil
}

// Close flushes pending state, stops the background goroutines, and
// transitions to CLOSED (spec §4.12 "close"). Safe to call more than
// once and from any goroutine.
func (c *Conn) Close(reason error) error {
	if reason == nil {
		reason = errkind.New(errkind.KindCancelled, "conn: closed by caller")
	}
	c.shutdown(reason)
	c.wg.Wait()
	return nil
}

// shutdown is the non-blocking half of Close: it is also called by the
// actor loop itself on a fatal error, where waiting on c.wg would
// deadlock (the actor loop's own goroutine is part of what wg tracks
// indirectly via the receive/tick loops it depends on).
func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeErr = err
		c.state = connStateClosed
		streams := make([]*stream, 0, len(c.streams))
		for _, s := range c.streams {
			streams = append(streams, s)
		}
		c.mu.Unlock()

		close(c.done)
		c.sock.Close()
		for _, s := range streams {
			s.fail(err)
		}
	})
}

func (c *Conn) fatal(err error) {
	c.reporter.Report(err, nil)
	c.shutdown(err)
}

// State reports the connection's lifecycle state for diagnostics.
func (c *Conn) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.String()
}

// ZeroRTTAccepted reports whether the server accepted 0-RTT early data
// for this connection (false until the handshake completes, or if the
// server rejected it).
func (c *Conn) ZeroRTTAccepted() bool { return c.zeroRTTAccepted }

// Reporter exposes the connection's diagnostic error reporter (spec
// §7, §9).
func (c *Conn) Reporter() *errkind.Reporter { return c.reporter }

// receiveLoop reads UDP datagrams and hands each to the actor loop for
// processing; it never touches connection state directly (spec §5).
func (c *Conn) receiveLoop() {
	defer c.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		n, err := c.sock.Read(buf)
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.submit(func() { c.fatal(errkind.Wrap(err, errkind.KindConnectionReset, "conn: read udp socket")) })
			return
		}
		pkt := append([]byte(nil), buf[:n]...)
		c.submit(func() { c.handleInbound(pkt) })
	}
}

// tickLoop drives the MTU ticker, migration timeouts, and burst-buffer
// draining, all via the actor loop (spec §5 "MTU periodic ticker,
// migration PATH_CHALLENGE waiter").
func (c *Conn) tickLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			c.submit(func() { c.onTick(now) })
		}
	}
}

func (c *Conn) onTick(now time.Time) {
	lossRate := c.updateLossWindow(now)
	c.mtuMgr.Observe(lossRate, c.lastRTT)
	c.rescaleFEC(now, lossRate)

	if size, ok := c.mtuMgr.Probe(); ok {
		c.mtuOutstanding[size] = now
		if err := c.writeRaw(encodeMTUProbe(size)); err != nil {
			c.reporter.Report(err, nil)
		}
	}
	for size, sentAt := range c.mtuOutstanding {
		if now.Sub(sentAt) > mtuProbeTimeout {
			delete(c.mtuOutstanding, size)
			c.mtuMgr.OnFailure(size)
		}
	}
	c.metrics.mtuCurrent.Set(float64(c.mtuMgr.Current()))
	c.bbrCtrl.SetPathMTU(uint64(c.mtuMgr.Current()))
	c.metrics.probesOutstanding.Set(float64(len(c.mtuOutstanding)))

	if c.migCtrl != nil {
		if err := c.migCtrl.Tick(now); err != nil {
			c.reporter.Report(err, nil)
		}
	}

	if c.burstBuf != nil {
		if drained := c.burstBuf.Tick(now); drained != nil {
			if err := c.sendApplicationPacket(drained, false); err != nil {
				c.reporter.Report(err, nil)
			}
		}
	}
}

// updateLossWindow sweeps c.sent for packets that have gone unacked
// past lossDetectionTimeout, counts them as lost against the current
// window, and returns the window's loss rate in [0,1]. This is the
// connection core's only source of loss telemetry (spec §4.10/§4.11:
// both the MTU manager's adaptive check and the FEC coder's
// ScaleForLoss need a real observed loss rate, not a hardcoded zero).
func (c *Conn) updateLossWindow(now time.Time) float64 {
	for seq, rec := range c.sent {
		if now.Sub(rec.sentAt) <= lossDetectionTimeout {
			continue
		}
		delete(c.sent, seq)
		c.lossWindowLostBytes += uint64(rec.size)
		c.metrics.bytesInFlight.Sub(float64(rec.size))
	}
	if c.lossWindowSentBytes == 0 {
		return 0
	}
	return float64(c.lossWindowLostBytes) / float64(c.lossWindowSentBytes)
}

// rescaleFEC re-derives the live FEC params from lossRate at most once
// per fecRescaleInterval, rebuilding the coder when the target
// redundancy actually changes (spec §4.11: "the connection core
// monitors observed loss rate and adjusts the target ratio", scaled
// further down in energy-efficient modes). The loss window resets on
// every rescale so lossRate always reflects the most recent interval,
// not the connection's whole lifetime.
func (c *Conn) rescaleFEC(now time.Time, lossRate float64) {
	defer func() {
		if now.Sub(c.lastFECRescale) >= fecRescaleInterval {
			c.lastFECRescale = now
			c.lossWindowSentBytes = 0
			c.lossWindowLostBytes = 0
		}
	}()

	if c.fecCoder == nil || now.Sub(c.lastFECRescale) < fecRescaleInterval {
		return
	}

	scaled := c.fecParams.ScaleForLoss(lossRate)
	if c.cfg.FEC.EnergyEfficient {
		scaled = scaled.ScaleForEnergyEfficiency(0.5)
	}
	if scaled == c.fecParams {
		return
	}

	coder, err := fec.NewXORCoder(scaled)
	if err != nil {
		c.reporter.Report(err, nil)
		return
	}
	c.logger.Debug("FEC redundancy rescaled", "loss_rate", lossRate, "old_redundancy", c.fecParams.Redundancy, "new_redundancy", scaled.Redundancy)
	c.fecParams = scaled
	c.fecCoder = coder
}

func (c *Conn) handleInbound(pkt []byte) {
	if len(pkt) == 0 {
		return
	}
	if pkt[0]&flagLongHeader != 0 {
		c.handleLongHeader(pkt)
		return
	}
	c.handleApplicationPacket(pkt)
}

func (c *Conn) handleLongHeader(pkt []byte) {
	switch pkt[0] {
	case longTypeCrypto:
		level, data, err := decodeCryptoPacket(pkt)
		if err != nil {
			c.reporter.Report(err, nil)
			return
		}
		c.driveHandshake(func() error { return c.feedCryptoData(level, data) })

	case longTypePathChallenge:
		value, err := decodeChallengeOrResponse(pkt)
		if err != nil {
			c.reporter.Report(err, nil)
			return
		}
		if err := c.writeRaw(encodePathResponse(value)); err != nil {
			c.reporter.Report(err, nil)
		}

	case longTypePathResponse:
		value, err := decodeChallengeOrResponse(pkt)
		if err != nil {
			c.reporter.Report(err, nil)
			return
		}
		if c.migCtrl != nil {
			if _, err := c.migCtrl.OnPathResponse(value); err != nil {
				c.reporter.Report(err, nil)
			}
		}

	case longTypeMTUProbe:
		if err := c.writeRaw(encodeMTUProbeAck(len(pkt))); err != nil {
			c.reporter.Report(err, nil)
		}

	case longTypeMTUProbeAck:
		size, err := decodeMTUProbeAck(pkt)
		if err != nil {
			c.reporter.Report(err, nil)
			return
		}
		delete(c.mtuOutstanding, size)
		c.mtuMgr.OnSuccess(size)
		c.metrics.mtuCurrent.Set(float64(c.mtuMgr.Current()))

	case longTypeRepair:
		if c.fecCoder == nil {
			return
		}
		if err := c.fecCoder.OnRepair(pkt[1:]); err != nil {
			c.reporter.Report(err, nil)
			return
		}
		c.tryFECRecovery()

	case longTypeAck:
		ackedSeq, echoedSentAtNanos, err := decodeAck(pkt)
		if err != nil {
			c.reporter.Report(err, nil)
			return
		}
		c.onAck(ackedSeq, echoedSentAtNanos)

	default:
		c.reporter.Report(errkind.New(errkind.KindFrameError, "conn: unknown long-header packet type 0x%02x", pkt[0]), nil)
	}
}

func (c *Conn) handleApplicationPacket(pkt []byte) {
	hdr, err := parseApplicationHeader(pkt)
	if err != nil {
		c.reporter.Report(err, nil)
		return
	}

	c.trackFECGap(hdr.Seq)
	if c.fecCoder != nil {
		if err := c.fecCoder.OnSource(pkt, int(hdr.Seq)); err != nil {
			c.reporter.Report(err, nil)
		}
	}

	if err := c.writeRaw(encodeAck(hdr.Seq, hdr.SentAtNanos)); err != nil {
		c.reporter.Report(err, nil)
	}

	cipher := c.readKeys[tls.QUICEncryptionLevelApplication]
	if cipher == nil {
		// 1-RTT read key not installed yet (packet arrived ahead of the
		// handshake finishing); the packet has been acked and is dropped
		// here, not buffered for later decryption.
		return
	}
	_, plaintext, err := openApplicationPacket(cipher, pkt)
	if err != nil {
		c.reporter.Report(err, nil)
		return
	}
	c.metrics.bytesReceived.Add(float64(len(pkt)))
	c.deliverPlaintext(hdr, plaintext)
}

// trackFECGap records sequence numbers skipped over by a newly
// received packet as candidates for FEC recovery.
func (c *Conn) trackFECGap(seq uint64) {
	if c.fecCoder == nil {
		return
	}
	for missing := c.fecExpectedNext; missing < seq; missing++ {
		c.fecMissing[int(missing)] = struct{}{}
	}
	if seq >= c.fecExpectedNext {
		c.fecExpectedNext = seq + 1
	}
	delete(c.fecMissing, int(seq))
}

// tryFECRecovery attempts Recover on every index still marked missing,
// delivering any that succeed as if they had just arrived on the wire.
func (c *Conn) tryFECRecovery() {
	cipher := c.readKeys[tls.QUICEncryptionLevelApplication]
	for idx := range c.fecMissing {
		pkt, ok := c.fecCoder.Recover(idx)
		if !ok {
			continue
		}
		delete(c.fecMissing, idx)
		c.metrics.fecRecoveries.Inc()
		if cipher == nil {
			continue
		}
		hdr, plaintext, err := openApplicationPacket(cipher, pkt)
		if err != nil {
			c.reporter.Report(err, nil)
			continue
		}
		c.deliverPlaintext(hdr, plaintext)
	}
}

func (c *Conn) deliverPlaintext(hdr applicationHeader, plaintext []byte) {
	if hdr.Datagram {
		select {
		case c.datagramCh <- append([]byte(nil), plaintext...):
		default:
			// receiver not keeping up; datagrams are unreliable by
			// definition, so the newest one is dropped rather than
			// blocking the actor loop.
		}
		return
	}

	frames, err := decodeStreamFrames(plaintext)
	if err != nil {
		c.reporter.Report(err, nil)
		return
	}
	for _, f := range frames {
		s := c.registerStream(f.StreamID)
		inbound, err := c.pipeline.OnInbound(f.StreamID, false, f.Payload, f.Fin)
		if err != nil {
			s.fail(err)
			sid := f.StreamID
			c.reporter.Report(err, &sid)
			continue
		}
		for _, chunk := range inbound.Data {
			s.pushData(chunk, false)
		}
		if f.Fin || inbound.StreamEnd {
			s.pushData(nil, true)
		}
	}
}

func (c *Conn) onAck(seq uint64, echoedSentAtNanos int64) {
	rec, ok := c.sent[seq]
	if !ok {
		return
	}
	delete(c.sent, seq)
	c.metrics.bytesInFlight.Sub(float64(rec.size))

	rtt := time.Duration(c.clock.Now().UnixNano() - echoedSentAtNanos)
	if rtt < 0 {
		rtt = 0
	}
	c.lastRTT = rtt

	var inFlight uint64
	for _, r := range c.sent {
		inFlight += uint64(r.size)
	}

	bandwidth := 0.0
	if rtt > 0 {
		bandwidth = float64(rec.size) / rtt.Seconds()
	}

	c.bbrCtrl.OnRoundComplete(bbr.RoundSample{
		BandwidthBytesPerSec: bandwidth,
		RTT:                  rtt,
		BytesInFlight:        inFlight,
		BytesLost:            c.lossWindowLostBytes,
	})
	c.metrics.setBBRMode(c.bbrCtrl.State().String(), bbrStateNames)
}

// openMigrationPath binds a second UDP socket on iface and returns a
// migration.PathSocket over it (spec §4.13 step 2).
func (c *Conn) openMigrationPath(iface net.Interface) (migration.PathSocket, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, errkind.Wrap(err, errkind.KindSocketUnavailable, "conn: list addresses for interface %s", iface.Name)
	}
	var localIP net.IP
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if ok && !ipNet.IP.IsLoopback() {
			localIP = ipNet.IP
			break
		}
	}
	if localIP == nil {
		return nil, errkind.New(errkind.KindSocketUnavailable, "conn: no usable address on interface %s", iface.Name)
	}
	sock, err := net.DialUDP("udp", &net.UDPAddr{IP: localIP}, c.remoteAddr)
	if err != nil {
		return nil, errkind.Wrap(err, errkind.KindSocketUnavailable, "conn: bind migration path on %s", iface.Name)
	}
	return &udpPathSocket{conn: sock}, nil
}

type udpPathSocket struct {
	conn *net.UDPConn
}

func (p *udpPathSocket) SendChallenge(value uint64) error {
	if _, err := p.conn.Write(encodePathChallenge(value)); err != nil {
		return errkind.Wrap(err, errkind.KindSocketUnavailable, "conn: send path challenge")
	}
	return nil
}

func (p *udpPathSocket) LocalAddr() net.Addr { return p.conn.LocalAddr() }
func (p *udpPathSocket) Close() error        { return p.conn.Close() }
