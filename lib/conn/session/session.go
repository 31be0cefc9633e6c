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

// Package session stores 0-RTT session tickets across connections
// (spec §4.15, §6 "Persisted state"). Ticket bytes are opaque to this
// package; it only keys and persists them.
package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/quicfuscate/quicsand/lib/errkind"
)

// Store loads and saves a session ticket for a hostname. Implementations
// must be safe for concurrent use.
type Store interface {
	Load(hostname string) (ticket []byte, ok bool)
	Save(hostname string, ticket []byte) error
}

// MemStore is an in-process Store backed by a mutex-guarded map; it
// does not survive process restart and is the default when no
// persistence is configured.
type MemStore struct {
	mu      sync.Mutex
	tickets map[string][]byte
}

// NewMemStore builds an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{tickets: make(map[string][]byte)}
}

// Load returns the ticket stored for hostname, if any.
func (s *MemStore) Load(hostname string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[hostname]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), t...), true
}

// Save records ticket for hostname, replacing any previous value.
func (s *MemStore) Save(hostname string, ticket []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[hostname] = append([]byte(nil), ticket...)
	return nil
}

// FileStore persists tickets to a JSON file, one per hostname, via a
// temp-file-then-rename write so a crash mid-save cannot corrupt the
// existing file (spec §6 "auto_save" persists via atomic rewrite).
type FileStore struct {
	mu   sync.Mutex
	path string
	data map[string][]byte
}

// OpenFileStore loads path if it exists (a missing file is not an
// error; it starts empty) and returns a FileStore that rewrites path
// atomically on every Save.
func OpenFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, data: make(map[string][]byte)}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fs, nil
		}
		return nil, errkind.Wrap(err, errkind.KindInvalidOperation, "session: read %s", path)
	}
	if len(b) == 0 {
		return fs, nil
	}
	if err := json.Unmarshal(b, &fs.data); err != nil {
		return nil, errkind.Wrap(err, errkind.KindInvalidOperation, "session: decode %s", path)
	}
	return fs, nil
}

// Load returns the ticket stored for hostname, if any.
func (s *FileStore) Load(hostname string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.data[hostname]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), t...), true
}

// Save records ticket for hostname and atomically rewrites the backing
// file: write to a sibling temp file, fsync, then rename over path.
func (s *FileStore) Save(hostname string, ticket []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[hostname] = append([]byte(nil), ticket...)
	b, err := json.Marshal(s.data)
	if err != nil {
		return errkind.Wrap(err, errkind.KindInvalidOperation, "session: encode tickets")
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return errkind.Wrap(err, errkind.KindInvalidOperation, "session: create temp file")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errkind.Wrap(err, errkind.KindInvalidOperation, "session: write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errkind.Wrap(err, errkind.KindInvalidOperation, "session: sync temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errkind.Wrap(err, errkind.KindInvalidOperation, "session: close temp file")
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return errkind.Wrap(err, errkind.KindInvalidOperation, "session: rename temp file over %s", s.path)
	}
	return nil
}
