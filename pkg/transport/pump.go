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

// Package transport moves frames out of a shared memory ring and hands them
// to application handlers running on a worker pool.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/panjf2000/ants/v2"
	"github.com/valyala/bytebufferpool"

	"github.com/srediag/zerobuffer/api"
	"github.com/srediag/zerobuffer/pkg/shm"
)

const (
	defaultWorkers     = 1
	defaultQueueSize   = 64
	defaultReadTimeout = 100 * time.Millisecond

	pollInterval = 10 * time.Millisecond
)

// Message is a frame copied out of the ring. Data is only valid for the
// duration of the handler call.
type Message struct {
	Buffer   string
	Sequence uint64
	Data     []byte
}

// Handler processes one message.
type Handler func(ctx context.Context, msg Message) error

// Config tunes a Pump.
type Config struct {
	// Workers is the number of handlers running at once. One keeps frames in write order.
	Workers int
	// QueueSize bounds the messages copied out of the ring but not yet dispatched.
	// The pump stops reading while the queue is full.
	QueueSize uint64
	// ReadTimeout is the timeout of each ReadFrame call.
	ReadTimeout time.Duration
	// OnError is called for every handler error. Optional.
	OnError func(msg Message, err error)
}

// DefaultConfig returns a config with one worker.
func DefaultConfig() *Config {
	return &Config{
		Workers:     defaultWorkers,
		QueueSize:   defaultQueueSize,
		ReadTimeout: defaultReadTimeout,
	}
}

// VerifyConfig is used to verify the sanity of configuration.
func VerifyConfig(config *Config) error {
	if config.Workers < 1 {
		return fmt.Errorf("Workers must be at least 1, got %d", config.Workers)
	}
	if config.QueueSize < 2 {
		return fmt.Errorf("QueueSize must be at least 2, got %d", config.QueueSize)
	}
	if config.ReadTimeout <= 0 {
		return fmt.Errorf("ReadTimeout must be positive, got %v", config.ReadTimeout)
	}
	return nil
}

// Stats counts the messages a Pump has handled.
type Stats struct {
	Received   uint64
	Dispatched uint64
	Failed     uint64
}

type envelope struct {
	sequence uint64
	buf      *bytebufferpool.ByteBuffer
}

// Pump copies frames out of a reader as soon as they arrive, releasing ring
// space immediately, and runs a handler for each one on a worker pool.
type Pump struct {
	src     api.FrameReader
	handler Handler
	cfg     Config

	received   atomic.Uint64
	dispatched atomic.Uint64
	failed     atomic.Uint64
	running    atomic.Bool
}

// NewPump creates a pump reading from src. A nil config uses DefaultConfig.
func NewPump(src api.FrameReader, handler Handler, config *Config) (*Pump, error) {
	if src == nil || handler == nil {
		return nil, errors.New("transport: source and handler are required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := VerifyConfig(config); err != nil {
		return nil, err
	}
	return &Pump{src: src, handler: handler, cfg: *config}, nil
}

// Stats returns the current counters.
func (p *Pump) Stats() Stats {
	return Stats{
		Received:   p.received.Load(),
		Dispatched: p.dispatched.Load(),
		Failed:     p.failed.Load(),
	}
}

// Run pumps frames until ctx ends or the reader fails. It returns nil when
// ctx ends and the reader's error otherwise, such as a PeerDeadError once
// the writer is gone. Messages already copied are handled before Run returns.
func (p *Pump) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("transport: pump already running")
	}
	defer p.running.Store(false)

	pool, err := ants.NewPool(p.cfg.Workers)
	if err != nil {
		return fmt.Errorf("transport: create worker pool: %w", err)
	}
	defer pool.Release()

	ring := queue.NewRingBuffer(p.cfg.QueueSize)
	var (
		inflight sync.WaitGroup
		stopping atomic.Bool
		done     = make(chan struct{})
	)
	go func() {
		defer close(done)
		p.dispatch(ctx, ring, pool, &inflight, &stopping)
	}()

	runErr := p.read(ctx, ring)
	stopping.Store(true)
	<-done
	inflight.Wait()
	ring.Dispose()
	return runErr
}

// read copies frames into the ring until ctx ends or the reader fails.
func (p *Pump) read(ctx context.Context, ring *queue.RingBuffer) error {
	for {
		f, err := p.src.ReadFrame(ctx, p.cfg.ReadTimeout)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, shm.ErrTimeout):
			continue
		default:
			return err
		}

		buf := bytebufferpool.Get()
		_, _ = buf.Write(f.Data())
		seq := f.Sequence()
		f.Release()
		p.received.Add(1)

		// blocks while the queue is full
		if err := ring.Put(&envelope{sequence: seq, buf: buf}); err != nil {
			bytebufferpool.Put(buf)
			return err
		}
	}
}

// dispatch hands queued messages to the pool until the reader has stopped
// and the queue is empty.
func (p *Pump) dispatch(ctx context.Context, ring *queue.RingBuffer, pool *ants.Pool, inflight *sync.WaitGroup, stopping *atomic.Bool) {
	for {
		item, err := ring.Poll(pollInterval)
		if err != nil {
			if errors.Is(err, queue.ErrTimeout) && !(stopping.Load() && ring.Len() == 0) {
				continue
			}
			return
		}
		env := item.(*envelope)
		msg := Message{Buffer: p.src.Name(), Sequence: env.sequence, Data: env.buf.B}
		inflight.Add(1)
		task := func() {
			defer inflight.Done()
			defer bytebufferpool.Put(env.buf)
			// handlers run to completion even after ctx ends
			if err := p.handler(context.WithoutCancel(ctx), msg); err != nil {
				p.failed.Add(1)
				if p.cfg.OnError != nil {
					p.cfg.OnError(msg, err)
				}
			}
			p.dispatched.Add(1)
		}
		if err := pool.Submit(task); err != nil {
			// pool closed; run inline so the message is not lost
			task()
		}
	}
}
