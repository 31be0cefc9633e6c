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

package masquerade

import (
	"log/slog"
	"sync"
	"time"

	"github.com/quicfuscate/quicsand/lib/errkind"
	"github.com/quicfuscate/quicsand/lib/fingerprint"
	"github.com/quicfuscate/quicsand/lib/h3frame"
	"github.com/quicfuscate/quicsand/lib/qpack"
	"github.com/quicfuscate/quicsand/lib/sni"
	"github.com/quicfuscate/quicsand/lib/spinbit"
)

// Pipeline is a connection's single instance of the masquerading layer:
// it owns the shared QPACK dynamic table, tracks every stream's
// lifecycle, and is the one place wire-shaping is applied, whether that
// is HTTP/3 framing, the active fingerprint's header cosmetics, SNI
// hiding on the ClientHello, or spin-bit stamping on packet headers.
// Not safe for concurrent use beyond its own internal lock; the
// connection core's single-writer loop is the expected caller.
type Pipeline struct {
	mu sync.Mutex

	profile fingerprint.Profile
	dynamic *qpack.DynamicTable
	encoder *qpack.Encoder
	decoder *qpack.Decoder
	logger  *slog.Logger

	streams map[uint64]*streamState

	peerSettings []h3frame.Setting
}

// NewPipeline builds a Pipeline for one connection's lifetime, seeded
// with the active fingerprint profile and the starting QPACK dynamic
// table capacity. A nil logger defaults to slog.Default(), tagged with
// the "quicsand/masquerade" component (spec §1.1 AMBIENT STACK).
func NewPipeline(profile fingerprint.Profile, dynamicCapacity int, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	dynamic := qpack.NewDynamicTable(dynamicCapacity)
	return &Pipeline{
		profile: profile,
		dynamic: dynamic,
		encoder: qpack.NewEncoder(dynamic),
		decoder: qpack.NewDecoder(dynamic),
		logger:  logger.With("component", "quicsand/masquerade"),
		streams: make(map[uint64]*streamState),
	}
}

// DynamicTable exposes the shared QPACK table for diagnostics.
func (p *Pipeline) DynamicTable() *qpack.DynamicTable { return p.dynamic }

// PeerSettings returns the most recent SETTINGS values received on the
// peer's control stream.
func (p *Pipeline) PeerSettings() []h3frame.Setting {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]h3frame.Setting(nil), p.peerSettings...)
}

func (p *Pipeline) streamFor(id uint64, unidirectional bool) *streamState {
	s, ok := p.streams[id]
	if !ok {
		s = newStreamState(unidirectional)
		p.streams[id] = s
	}
	return s
}

// StreamState reports a stream's lifecycle state (IDLE until first
// observed).
func (p *Pipeline) StreamState(id uint64) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.streams[id]; ok {
		return s.state
	}
	return Idle
}

// WriteRequestStream frames one outbound write on a bidirectional
// request/response stream: HEADERS+DATA on the stream's first write,
// DATA only afterward (spec §4.8).
func (p *Pipeline) WriteRequestStream(streamID uint64, req Request, payload []byte, fin bool) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.streamFor(streamID, false)
	if err := s.observeLocal(fin); err != nil {
		return nil, err
	}

	var out []byte
	var err error

	if !s.headersSent {
		block := p.encoder.EncodeFieldSection(SynthesizeHeaders(p.profile, req))
		out, err = h3frame.Serialize(out, h3frame.Headers(block))
		if err != nil {
			s.fail()
			return nil, errkind.Wrap(err, errkind.KindFrameError, "masquerade: serialize headers for stream %d", streamID)
		}
		s.headersSent = true
	}
	if len(payload) > 0 {
		out, err = h3frame.Serialize(out, h3frame.Data(payload))
		if err != nil {
			s.fail()
			return nil, errkind.Wrap(err, errkind.KindFrameError, "masquerade: serialize data for stream %d", streamID)
		}
	}
	return out, nil
}

// OpenControlStream tags streamID as the local control stream and
// returns its opening bytes: the stream-type tag followed by a
// SETTINGS frame (spec §4.8).
func (p *Pipeline) OpenControlStream(streamID uint64, settings []h3frame.Setting) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.streamFor(streamID, true)
	if s.typeKnown {
		return nil, errkind.New(errkind.KindInvalidState, "masquerade: control stream %d already open", streamID)
	}
	s.streamType = StreamTypeControl
	s.typeKnown = true
	if err := s.observeLocal(false); err != nil {
		return nil, err
	}

	frame, err := h3frame.Settings(settings)
	if err != nil {
		s.fail()
		return nil, err
	}
	out := []byte{byte(StreamTypeControl)}
	out, err = h3frame.Serialize(out, frame)
	if err != nil {
		s.fail()
		return nil, err
	}
	return out, nil
}

// OpenQPACKStream tags streamID as one of the two QPACK instruction
// streams and returns its opening tag byte. Instruction bytes written
// afterward pass through untouched; use DynamicTable/Encoder to build
// them.
func (p *Pipeline) OpenQPACKStream(streamID uint64, typ StreamType) ([]byte, error) {
	if typ != StreamTypeQPACKEncoder && typ != StreamTypeQPACKDecoder {
		return nil, errkind.New(errkind.KindInvalidArgument, "masquerade: %s is not a QPACK stream type", typ)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.streamFor(streamID, true)
	if s.typeKnown {
		return nil, errkind.New(errkind.KindInvalidState, "masquerade: stream %d already open", streamID)
	}
	s.streamType = typ
	s.typeKnown = true
	if err := s.observeLocal(false); err != nil {
		return nil, err
	}
	return []byte{byte(typ)}, nil
}

// Inbound is the decoded result of OnInbound: any complete header
// sections and data chunks found in newly consumed bytes.
type Inbound struct {
	Headers   []qpack.Field
	Data      [][]byte
	Consumed  int
	StreamEnd bool
}

// OnInbound feeds newly received bytes for a stream through the
// pipeline, learning its stream type from the leading byte on first
// receipt for unidirectional streams, applying control/QPACK
// instruction effects and discarding those frames, and surfacing
// HEADERS/DATA for application delivery on request/response streams.
// Consumed may be less than len(b) when a trailing frame is only
// partially buffered; the caller retains the remainder for the next
// call (spec §4.4's incremental-parse contract).
func (p *Pipeline) OnInbound(streamID uint64, unidirectional bool, b []byte, fin bool) (Inbound, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.streamFor(streamID, unidirectional)
	if s.state == Closed || s.state == Errored {
		return Inbound{}, errkind.New(errkind.KindInvalidState, "masquerade: bytes received on %s stream %d", s.state, streamID)
	}

	consumed := 0
	if unidirectional && !s.typeKnown {
		if len(b) == 0 {
			return Inbound{}, nil
		}
		s.streamType = StreamType(b[0])
		s.typeKnown = true
		b = b[1:]
		consumed = 1
	}

	if err := s.observeRemote(fin); err != nil {
		return Inbound{}, err
	}

	if unidirectional {
		switch s.streamType {
		case StreamTypeControl:
			frames, n, err := h3frame.ParseAll(b)
			if err != nil {
				s.fail()
				return Inbound{}, errkind.Wrap(err, errkind.KindFrameError, "masquerade: control stream %d", streamID)
			}
			for _, f := range frames {
				if f.Type == h3frame.TypeSettings {
					settings, serr := h3frame.ParseSettings(f.Payload)
					if serr != nil {
						s.fail()
						return Inbound{}, serr
					}
					p.peerSettings = settings
					p.logger.Debug("peer SETTINGS applied", "stream_id", streamID, "count", len(settings))
				}
				// non-SETTINGS control frames are discarded once their
				// effect, if any, has been applied (spec §4.8).
			}
			return Inbound{Consumed: consumed + n, StreamEnd: s.state == Closed || s.state == RemoteClosed}, nil

		case StreamTypeQPACKEncoder:
			total := 0
			for total < len(b) {
				_, n, err := qpack.ApplyEncoderInstruction(p.dynamic, b[total:])
				if err != nil {
					s.fail()
					return Inbound{}, err
				}
				if n == 0 {
					break
				}
				total += n
			}
			return Inbound{Consumed: consumed + total}, nil

		case StreamTypeQPACKDecoder:
			total := 0
			for total < len(b) {
				_, _, n, err := qpack.ApplyDecoderInstruction(p.dynamic, b[total:])
				if err != nil {
					s.fail()
					return Inbound{}, err
				}
				if n == 0 {
					break
				}
				total += n
			}
			return Inbound{Consumed: consumed + total}, nil

		case StreamTypePush:
			frames, n, err := h3frame.ParseAll(b)
			if err != nil {
				s.fail()
				return Inbound{}, errkind.Wrap(err, errkind.KindFrameError, "masquerade: push stream %d", streamID)
			}
			out := Inbound{Consumed: consumed + n}
			for _, f := range frames {
				switch f.Type {
				case h3frame.TypeHeaders:
					fields, derr := p.decoder.DecodeFieldSection(f.Payload)
					if derr != nil {
						s.fail()
						return Inbound{}, derr
					}
					out.Headers = append(out.Headers, fields...)
				case h3frame.TypeData:
					out.Data = append(out.Data, f.Payload)
				}
			}
			return out, nil

		default:
			s.fail()
			return Inbound{}, errkind.New(errkind.KindStreamError, "masquerade: unrecognized stream type 0x%02x on stream %d", byte(s.streamType), streamID)
		}
	}

	frames, n, err := h3frame.ParseAll(b)
	if err != nil {
		s.fail()
		return Inbound{}, errkind.Wrap(err, errkind.KindFrameError, "masquerade: stream %d", streamID)
	}
	out := Inbound{Consumed: consumed + n, StreamEnd: s.state == Closed || s.state == RemoteClosed}
	for _, f := range frames {
		switch f.Type {
		case h3frame.TypeHeaders:
			fields, derr := p.decoder.DecodeFieldSection(f.Payload)
			if derr != nil {
				s.fail()
				return Inbound{}, derr
			}
			out.Headers = append(out.Headers, fields...)
			s.headersRecv = true
		case h3frame.TypeData:
			out.Data = append(out.Data, f.Payload)
		default:
			// unknown frame types are preserved by h3frame and simply
			// have no application-visible effect here.
		}
	}
	return out, nil
}

// SNITechnique selects one of lib/sni's ClientHello-editing strategies
// (spec §4.6).
type SNITechnique int

const (
	SNINone SNITechnique = iota
	SNISplit
	SNIPad
	SNIOmit
	SNIFront
)

// ApplySNIHiding rewrites a raw ClientHello buffer per technique,
// delegating to lib/sni. padBytes and frontHost are only consulted by
// SNIPad and SNIFront respectively.
func ApplySNIHiding(technique SNITechnique, clientHello []byte, padBytes int, frontHost string) ([]byte, error) {
	switch technique {
	case SNINone:
		return clientHello, nil
	case SNISplit:
		return sni.Split(clientHello)
	case SNIPad:
		return sni.Pad(clientHello, padBytes)
	case SNIOmit:
		return sni.Omit(clientHello)
	case SNIFront:
		return sni.Front(clientHello, frontHost)
	default:
		return nil, errkind.New(errkind.KindInvalidArgument, "masquerade: unknown SNI technique %d", technique)
	}
}

// StampSpinBit applies the configured spin-bit policy to an outbound
// short-header packet, delegating to lib/spinbit.
func StampSpinBit(packet []byte, policy *spinbit.Policy, now time.Time) {
	spinbit.StampPacket(packet, policy, now)
}
