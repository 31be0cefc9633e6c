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

// Package masquerade implements the HTTP/3 masquerading pipeline (spec
// §4.8): it frames outbound stream payloads as HEADERS+DATA on open and
// DATA on subsequent writes, tags unidirectional streams with their
// stream-type byte, drives the QPACK codec (C3), synthesizes
// browser-profile-shaped header lists (C5), and exposes the SNI (C6)
// and spin-bit (C7) transforms as the single place a connection applies
// them to the wire.
package masquerade

import (
	"github.com/quicfuscate/quicsand/lib/errkind"
)

// StreamType is the leading byte of a unidirectional stream (spec §3:
// "unidirectional streams carry a type byte as their first octet").
type StreamType byte

const (
	StreamTypeControl      StreamType = 0x00
	StreamTypePush         StreamType = 0x01
	StreamTypeQPACKEncoder StreamType = 0x02
	StreamTypeQPACKDecoder StreamType = 0x03
)

func (t StreamType) String() string {
	switch t {
	case StreamTypeControl:
		return "control"
	case StreamTypePush:
		return "push"
	case StreamTypeQPACKEncoder:
		return "qpack-encoder"
	case StreamTypeQPACKDecoder:
		return "qpack-decoder"
	default:
		return "unknown"
	}
}

// State is a stream's lifecycle position (spec §3): IDLE → OPEN →
// {LOCAL_CLOSED, REMOTE_CLOSED} → CLOSED → ERROR. Once CLOSED, no
// further bytes are accepted; once ERROR, all pending I/O fails.
type State int

const (
	Idle State = iota
	Open
	LocalClosed
	RemoteClosed
	Closed
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Open:
		return "OPEN"
	case LocalClosed:
		return "LOCAL_CLOSED"
	case RemoteClosed:
		return "REMOTE_CLOSED"
	case Closed:
		return "CLOSED"
	case Errored:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// streamState is the pipeline's per-stream bookkeeping: lifecycle state,
// the stream-type tag (unidirectional streams only, learned from the
// leading byte on first receipt or assigned on local open), and whether
// the opening HEADERS frame has been emitted/consumed yet.
type streamState struct {
	state          State
	streamType     StreamType
	typeKnown      bool
	unidirectional bool
	headersSent    bool
	headersRecv    bool
	localFin       bool
	remoteFin      bool
}

func newStreamState(unidirectional bool) *streamState {
	return &streamState{state: Idle, unidirectional: unidirectional}
}

// observeLocal transitions IDLE→OPEN on the first locally-sent byte and
// records a local FIN, folding LOCAL_CLOSED/CLOSED per spec §3.
func (s *streamState) observeLocal(fin bool) error {
	if s.state == Closed || s.state == Errored {
		return errkind.New(errkind.KindInvalidState, "masquerade: write on %s stream", s.state)
	}
	if s.state == Idle {
		s.state = Open
	}
	if fin {
		s.localFin = true
		s.foldClose()
	}
	return nil
}

// observeRemote transitions IDLE→OPEN on the first received byte and
// records a remote FIN.
func (s *streamState) observeRemote(fin bool) error {
	if s.state == Closed || s.state == Errored {
		return errkind.New(errkind.KindInvalidState, "masquerade: bytes received on %s stream", s.state)
	}
	if s.state == Idle {
		s.state = Open
	}
	if fin {
		s.remoteFin = true
		s.foldClose()
	}
	return nil
}

func (s *streamState) foldClose() {
	switch {
	case s.localFin && s.remoteFin:
		s.state = Closed
	case s.localFin:
		s.state = LocalClosed
	case s.remoteFin:
		s.state = RemoteClosed
	}
}

// fail marks the stream ERROR; transitions out of ERROR are impossible
// (spec §4.8: "Transitions from CLOSED are impossible").
func (s *streamState) fail() {
	if s.state != Closed {
		s.state = Errored
	}
}
