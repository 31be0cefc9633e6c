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

// Package errkind defines the error-kind taxonomy shared across the
// quicsand packages and a per-connection diagnostic reporter.
//
// Fallible operations return ordinary Go errors wrapped with
// github.com/gravitational/trace; Kind classifies the wrapped error
// without requiring callers to string-match messages.
package errkind

import (
	"fmt"

	"github.com/gravitational/trace"
)

// Kind is a coarse error category, matching spec §7.
type Kind int

const (
	KindUnknown Kind = iota

	// Network
	KindConnectionRefused
	KindConnectionReset
	KindTimeout
	KindSocketUnavailable
	KindDNSFail
	KindMTUBlackhole
	KindPacketTooLarge

	// Crypto
	KindHandshakeFailed
	KindCertificateError
	KindAuthFail
	KindKeyDerivationFail

	// Protocol
	KindInvalidState
	KindFrameError
	KindStreamError
	KindFlowControlViolation
	KindTransportError
	KindQPACKDecode
	KindQPACKBlocked

	// Configuration
	KindInvalidArgument
	KindMissingOption
	KindOutOfRange

	// Runtime
	KindInvalidOperation
	KindCancelled
	KindNotImplemented

	// Internal
	KindInvariantViolation
)

func (k Kind) String() string {
	switch k {
	case KindConnectionRefused:
		return "connection-refused"
	case KindConnectionReset:
		return "connection-reset"
	case KindTimeout:
		return "timeout"
	case KindSocketUnavailable:
		return "socket-unavailable"
	case KindDNSFail:
		return "dns-fail"
	case KindMTUBlackhole:
		return "mtu-blackhole"
	case KindPacketTooLarge:
		return "packet-too-large"
	case KindHandshakeFailed:
		return "handshake-failed"
	case KindCertificateError:
		return "certificate-error"
	case KindAuthFail:
		return "auth-fail"
	case KindKeyDerivationFail:
		return "key-derivation-fail"
	case KindInvalidState:
		return "invalid-state"
	case KindFrameError:
		return "frame-error"
	case KindStreamError:
		return "stream-error"
	case KindFlowControlViolation:
		return "flow-control-violation"
	case KindTransportError:
		return "transport-error"
	case KindQPACKDecode:
		return "qpack-decode"
	case KindQPACKBlocked:
		return "qpack-blocked"
	case KindInvalidArgument:
		return "invalid-argument"
	case KindMissingOption:
		return "missing-option"
	case KindOutOfRange:
		return "out-of-range"
	case KindInvalidOperation:
		return "invalid-operation"
	case KindCancelled:
		return "cancelled"
	case KindNotImplemented:
		return "not-implemented"
	case KindInvariantViolation:
		return "invariant-violation"
	default:
		return "unknown"
	}
}

// kindError layers a Kind onto a trace-wrapped error without depending on
// trace's internal field layout; it chains via Unwrap so errors.Is/As
// still see through to the original cause.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// Wrap annotates err with kind and returns a trace-wrapped error. A nil
// err returns nil, matching trace.Wrap's convention.
func Wrap(err error, kind Kind, format string, args ...any) error {
	if err == nil {
		return nil
	}
	wrapped := err
	if format != "" {
		wrapped = trace.Wrap(err, format, args...)
	} else {
		wrapped = trace.Wrap(err)
	}
	return &kindError{kind: kind, err: wrapped}
}

// New creates a fresh error of the given kind.
func New(kind Kind, format string, args ...any) error {
	return Wrap(fmt.Errorf(format, args...), kind, "")
}

// KindOf extracts the Kind attached by Wrap/New, defaulting to
// KindUnknown when the error carries none (e.g. an error from a
// collaborator that never went through this package).
func KindOf(err error) Kind {
	for err != nil {
		if k, ok := err.(*kindError); ok {
			return k.kind
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return KindUnknown
		}
		err = unwrapper.Unwrap()
	}
	return KindUnknown
}

// IsConnectionFatal reports whether kind marks the owning connection
// CLOSED per spec §7's propagation policy.
func IsConnectionFatal(kind Kind) bool {
	switch kind {
	case KindAuthFail, KindInvariantViolation, KindTransportError,
		KindHandshakeFailed, KindConnectionReset:
		return true
	default:
		return false
	}
}
