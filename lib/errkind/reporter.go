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

package errkind

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/rs/xid"
)

// Entry is one recorded diagnostic record, per spec §7: "A central error
// reporter records (category, code, message, source location, optional
// connection/stream id, timestamp) for diagnostics".
type Entry struct {
	ID           xid.ID
	Kind         Kind
	Message      string
	Source       string
	ConnectionID string
	StreamID     *uint64
	Time         time.Time
}

// Reporter is a per-connection (never process-global, per spec §9)
// bounded ring buffer of diagnostic Entry records.
type Reporter struct {
	mu       sync.Mutex
	capacity int
	entries  []Entry
	next     int
	count    int
	connID   string
	logger   *slog.Logger
}

// NewReporter builds a Reporter with room for capacity entries. capacity
// <= 0 defaults to 256. A nil logger defaults to slog.Default(); every
// entry recorded through Report is also emitted as a structured log
// line under the "quicsand/errkind" component, which is what makes this
// single reporter double as the connection's central error log (spec
// §1.1 AMBIENT STACK) without each of its dozens of call sites needing
// its own logger.
func NewReporter(connID string, capacity int, logger *slog.Logger) *Reporter {
	if capacity <= 0 {
		capacity = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		capacity: capacity,
		entries:  make([]Entry, capacity),
		connID:   connID,
		logger:   logger.With("component", "quicsand/errkind", "conn_id", connID),
	}
}

// reportLevel maps a Kind to the severity its occurrence deserves: a
// caller explicitly cancelling or closing something is routine, an
// invariant violation is a bug, everything else is a warning-worthy
// operational fault.
func reportLevel(k Kind) slog.Level {
	switch k {
	case KindCancelled, KindInvalidOperation:
		return slog.LevelInfo
	case KindInvariantViolation:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// Report records err (already classified via Wrap/New, or KindUnknown
// otherwise) along with the caller's source location, and logs it.
func (r *Reporter) Report(err error, streamID *uint64) Entry {
	_, file, line, _ := runtime.Caller(1)
	e := Entry{
		ID:           xid.New(),
		Kind:         KindOf(err),
		Message:      err.Error(),
		Source:       fmt.Sprintf("%s:%d", file, line),
		ConnectionID: r.connID,
		StreamID:     streamID,
		Time:         time.Now(),
	}

	r.mu.Lock()
	r.entries[r.next] = e
	r.next = (r.next + 1) % r.capacity
	if r.count < r.capacity {
		r.count++
	}
	r.mu.Unlock()

	attrs := []any{"kind", e.Kind.String(), "source", e.Source, "entry_id", e.ID.String()}
	if streamID != nil {
		attrs = append(attrs, "stream_id", *streamID)
	}
	r.logger.Log(nil, reportLevel(e.Kind), e.Message, attrs...)

	return e
}

// Snapshot returns the recorded entries, oldest first, for diagnostics.
func (r *Reporter) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, r.count)
	if r.count < r.capacity {
		out = append(out, r.entries[:r.count]...)
		return out
	}
	out = append(out, r.entries[r.next:]...)
	out = append(out, r.entries[:r.next]...)
	return out
}
