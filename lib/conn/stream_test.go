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
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStreamReadReturnsPushedData(t *testing.T) {
	t.Parallel()
	s := newStream(1)
	s.pushData([]byte("hello"), false)

	b, err := s.read(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), b)
}

func TestStreamReadBlocksUntilDataArrives(t *testing.T) {
	t.Parallel()
	s := newStream(1)

	done := make(chan []byte, 1)
	go func() {
		b, err := s.read(context.Background())
		require.NoError(t, err)
		done <- b
	}()

	time.Sleep(10 * time.Millisecond)
	s.pushData([]byte("late"), false)

	select {
	case b := <-done:
		require.Equal(t, []byte("late"), b)
	case <-time.After(time.Second):
		t.Fatal("read did not unblock after pushData")
	}
}

func TestStreamReadReturnsEOFAfterRemoteFinDrains(t *testing.T) {
	t.Parallel()
	s := newStream(1)
	s.pushData([]byte("x"), true)

	b, err := s.read(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("x"), b)

	_, err = s.read(context.Background())
	require.ErrorIs(t, err, io.EOF)
}

func TestStreamReadPropagatesFail(t *testing.T) {
	t.Parallel()
	s := newStream(1)
	sentinel := errors.New("boom")
	s.fail(sentinel)

	_, err := s.read(context.Background())
	require.ErrorIs(t, err, sentinel)
}

func TestStreamReadRespectsContextCancellation(t *testing.T) {
	t.Parallel()
	s := newStream(1)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := s.read(ctx)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("read did not unblock after context cancellation")
	}
}
