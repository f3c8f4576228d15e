/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srediag/zerobuffer/pkg/shm"
)

var bufferSeq int64

func testPair(t *testing.T) (*shm.Writer, *shm.Reader) {
	t.Helper()
	cfg := shm.DefaultConfig()
	cfg.MetadataSize = 64
	cfg.PayloadSize = 4096
	cfg.LivenessInterval = 20 * time.Millisecond
	cfg.LogOutput = io.Discard

	name := fmt.Sprintf("zb-pump-%d-%d", os.Getpid(), atomic.AddInt64(&bufferSeq, 1))
	r, err := shm.NewReader(name, cfg)
	require.NoError(t, err)
	w, err := shm.OpenWriter(name, cfg)
	if err != nil {
		_ = r.Close()
		t.Fatalf("OpenWriter(%s): %v", name, err)
	}
	t.Cleanup(func() {
		_ = w.Close()
		_ = r.Close()
	})
	return w, r
}

type PumpTestSuite struct {
	suite.Suite
}

func TestPumpTestSuite(t *testing.T) {
	suite.Run(t, new(PumpTestSuite))
}

func (s *PumpTestSuite) TestVerifyConfig() {
	s.Require().NoError(VerifyConfig(DefaultConfig()))

	cfg := DefaultConfig()
	cfg.Workers = 0
	s.Require().Error(VerifyConfig(cfg))

	cfg = DefaultConfig()
	cfg.QueueSize = 1
	s.Require().Error(VerifyConfig(cfg))

	cfg = DefaultConfig()
	cfg.ReadTimeout = 0
	s.Require().Error(VerifyConfig(cfg))

	_, err := NewPump(nil, func(context.Context, Message) error { return nil }, nil)
	s.Require().Error(err)
}

func (s *PumpTestSuite) TestDeliversInOrderUntilWriterCloses() {
	w, r := testPair(s.T())
	const frames = 200

	var (
		mu   sync.Mutex
		seqs []uint64
		data [][]byte
	)
	p, err := NewPump(r, func(_ context.Context, msg Message) error {
		mu.Lock()
		defer mu.Unlock()
		seqs = append(seqs, msg.Sequence)
		data = append(data, append([]byte(nil), msg.Data...))
		return nil
	}, nil)
	s.Require().NoError(err)

	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(context.Background()) }()

	ctx := context.Background()
	for i := 0; i < frames; i++ {
		// more than the ring holds at once
		s.Require().NoError(w.WriteFrame(ctx, []byte(fmt.Sprintf("frame-%03d", i)), 5*time.Second))
	}
	s.Require().Eventually(func() bool {
		return p.Stats().Received == frames
	}, 5*time.Second, 10*time.Millisecond)
	s.Require().NoError(w.Close())

	select {
	case err := <-errCh:
		s.Require().ErrorIs(err, shm.ErrWriterDead)
	case <-time.After(5 * time.Second):
		s.FailNow("pump did not stop after writer closed")
	}

	stats := p.Stats()
	s.Equal(uint64(frames), stats.Dispatched)
	s.Zero(stats.Failed)
	mu.Lock()
	defer mu.Unlock()
	s.Require().Len(seqs, frames)
	for i := range seqs {
		s.Equal(uint64(i+1), seqs[i])
		s.Equal(fmt.Sprintf("frame-%03d", i), string(data[i]))
	}
}

func (s *PumpTestSuite) TestCancelDrainsQueuedMessages() {
	w, r := testPair(s.T())
	release := make(chan struct{})
	var handled atomic.Int64

	cfg := DefaultConfig()
	cfg.ReadTimeout = 20 * time.Millisecond
	p, err := NewPump(r, func(_ context.Context, msg Message) error {
		<-release
		handled.Add(1)
		return nil
	}, cfg)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	for i := 0; i < 5; i++ {
		s.Require().NoError(w.WriteFrame(context.Background(), []byte{byte(i)}, time.Second))
	}
	s.Require().Eventually(func() bool {
		return p.Stats().Received == 5
	}, 5*time.Second, 10*time.Millisecond)

	// ring space is returned before the handlers finish
	s.Equal(uint64(4096), w.Snapshot().PayloadFreeBytes)

	cancel()
	close(release)
	select {
	case err := <-errCh:
		s.Require().NoError(err)
	case <-time.After(5 * time.Second):
		s.FailNow("pump did not stop after cancel")
	}
	s.Equal(int64(5), handled.Load())
	s.Equal(uint64(5), p.Stats().Dispatched)
}

func (s *PumpTestSuite) TestHandlerErrorsAreCounted() {
	w, r := testPair(s.T())
	boom := errors.New("boom")

	var (
		mu     sync.Mutex
		failed []uint64
	)
	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.OnError = func(msg Message, err error) {
		mu.Lock()
		defer mu.Unlock()
		assert.ErrorIs(s.T(), err, boom)
		assert.Equal(s.T(), r.Name(), msg.Buffer)
		failed = append(failed, msg.Sequence)
	}
	p, err := NewPump(r, func(_ context.Context, msg Message) error {
		if msg.Sequence%2 == 0 {
			return boom
		}
		return nil
	}, cfg)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	for i := 0; i < 10; i++ {
		s.Require().NoError(w.WriteFrame(context.Background(), []byte("x"), time.Second))
	}
	s.Require().Eventually(func() bool {
		return p.Stats().Dispatched == 10
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	s.Require().NoError(<-errCh)

	s.Equal(uint64(5), p.Stats().Failed)
	mu.Lock()
	defer mu.Unlock()
	s.ElementsMatch([]uint64{2, 4, 6, 8, 10}, failed)
}

func (s *PumpTestSuite) TestRunTwice() {
	_, r := testPair(s.T())
	p, err := NewPump(r, func(context.Context, Message) error { return nil }, nil)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()
	s.Require().Eventually(func() bool { return p.running.Load() }, time.Second, time.Millisecond)
	s.Require().Error(p.Run(ctx))
	cancel()
	s.Require().NoError(<-errCh)
}
