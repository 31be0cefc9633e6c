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
	"io"
	"sync"
)

// stream buffers one stream's received-but-unread chunks and tracks
// its half-close state. The connection core's single-writer loop is
// the only writer; Read is the only method called from an arbitrary
// caller goroutine, so it owns its own lock rather than relying on the
// connection's actor loop for synchronization.
type stream struct {
	id   uint64
	mu   sync.Mutex
	cond *sync.Cond

	pending     [][]byte
	localFin    bool
	remoteFin   bool
	err         error
}

func newStream(id uint64) *stream {
	s := &stream{id: id}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// pushData appends newly received bytes for delivery to Read, waking
// any blocked reader.
func (s *stream) pushData(b []byte, fin bool) {
	s.mu.Lock()
	if len(b) > 0 {
		s.pending = append(s.pending, append([]byte(nil), b...))
	}
	if fin {
		s.remoteFin = true
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

// fail marks the stream as fatally errored, waking any blocked reader.
func (s *stream) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

// read blocks until a chunk is available, the stream hits EOF (remote
// fin, no more pending bytes), the stream errors, or ctx is done.
func (s *stream) read(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx != nil {
		stop := context.AfterFunc(ctx, func() {
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		})
		defer stop()
	}

	for len(s.pending) == 0 && !s.remoteFin && s.err == nil {
		if ctx != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.cond.Wait()
	}

	if s.err != nil {
		return nil, s.err
	}
	if len(s.pending) == 0 && s.remoteFin {
		return nil, io.EOF
	}
	b := s.pending[0]
	s.pending = s.pending[1:]
	return b, nil
}
