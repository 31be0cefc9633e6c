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

package session

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemStoreSaveLoad(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	_, ok := s.Load("example.com")
	require.False(t, ok)

	require.NoError(t, s.Save("example.com", []byte("ticket-bytes")))
	got, ok := s.Load("example.com")
	require.True(t, ok)
	require.Equal(t, []byte("ticket-bytes"), got)
}

func TestFileStoreSaveLoadAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tickets.json")

	s1, err := OpenFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s1.Save("example.com", []byte("ticket-1")))
	require.NoError(t, s1.Save("other.example", []byte("ticket-2")))

	s2, err := OpenFileStore(path)
	require.NoError(t, err)
	got, ok := s2.Load("example.com")
	require.True(t, ok)
	require.Equal(t, []byte("ticket-1"), got)
	got, ok = s2.Load("other.example")
	require.True(t, ok)
	require.Equal(t, []byte("ticket-2"), got)
}

func TestFileStoreMissingFileStartsEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	s, err := OpenFileStore(path)
	require.NoError(t, err)
	_, ok := s.Load("example.com")
	require.False(t, ok)
}

func TestFileStoreOverwritesExistingTicket(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tickets.json")
	s, err := OpenFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Save("example.com", []byte("first")))
	require.NoError(t, s.Save("example.com", []byte("second")))

	got, ok := s.Load("example.com")
	require.True(t, ok)
	require.Equal(t, []byte("second"), got)
}
