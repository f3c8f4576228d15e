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

package shm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srediag/zerobuffer/internal/health"
	internalshm "github.com/srediag/zerobuffer/internal/shm"
)

// endpoint is the state a Writer and a Reader share: the mapped segment,
// this side's role and PID, and what it has seen of the peer.
type endpoint struct {
	name string
	role Role
	self uint64
	cfg  *Config
	log  *logger
	tel  *telemetry
	seg  *segment

	// peerSeen is set once the peer's PID has been observed, so a PID that
	// later drops back to zero reads as a detach.
	peerSeen atomic.Bool
	closed   atomic.Bool
	unclaim  func()

	// mu is held for reading while the mapping is in use and for writing while it is torn down.
	mu sync.RWMutex
}

func openEndpoint(ctx context.Context, name string, role Role, mode acquireMode, timeout time.Duration, config *Config) (*endpoint, error) {
	cfg := withDefaults(config)
	if err := VerifyConfig(cfg); err != nil {
		return nil, err
	}
	object, err := internalshm.ObjectName(name)
	if err != nil {
		return nil, err
	}
	unclaim, err := claim(object, role)
	if err != nil {
		return nil, err
	}
	log := newLogger(fmt.Sprintf("%s/%s", object, role), cfg.LogOutput)
	self := health.CurrentPID()

	seg, created, err := acquireSegment(ctx, object, role, mode, timeout, cfg, log, self)
	if err != nil {
		unclaim()
		return nil, err
	}
	e := &endpoint{
		name:    object,
		role:    role,
		self:    self,
		cfg:     cfg,
		log:     log,
		tel:     newTelemetry(cfg, object, role, log),
		seg:     seg,
		unclaim: unclaim,
	}
	if !created && seg.oieb.load(pidOffset(role.peer())) != 0 {
		e.peerSeen.Store(true)
	}
	return e, nil
}

// Name returns the buffer name.
func (e *endpoint) Name() string { return e.name }

// Snapshot returns a copy of the control block, or a zero OIEB once closed.
func (e *endpoint) Snapshot() OIEB {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed.Load() {
		return OIEB{}
	}
	return e.seg.oieb.snapshot()
}

// peerDead reports whether the peer was recorded and is now gone, either
// because its process exited or because it detached. A peer that attached
// and left between two checks is still caught by the progress it made.
func (e *endpoint) peerDead() (pid uint64, dead bool) {
	pid = e.seg.oieb.load(pidOffset(e.role.peer()))
	if pid == 0 {
		return 0, e.peerSeen.Load() || e.seg.oieb.load(progressOffset(e.role.peer())) > 0
	}
	e.peerSeen.Store(true)
	return pid, !e.cfg.IsProcessAlive(pid)
}

// PeerAlive reports whether the peer is attached and running.
func (e *endpoint) PeerAlive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed.Load() {
		return false
	}
	pid := e.seg.oieb.load(pidOffset(e.role.peer()))
	return pid != 0 && e.cfg.IsProcessAlive(pid)
}

func (e *endpoint) peerDeadError(ctx context.Context, pid uint64) error {
	e.tel.deadPeer(ctx)
	e.log.warnf("%s process %d is gone", e.role.peer(), pid)
	return &PeerDeadError{Role: e.role.peer(), PID: pid}
}

// deadline converts a call timeout into an absolute deadline. A zero
// deadline means no limit.
func deadline(timeout time.Duration) (time.Time, bool) {
	if timeout < 0 {
		return time.Time{}, false
	}
	return time.Now().Add(timeout), true
}

// waitSlice blocks on sem until it is posted, the deadline passes or one
// liveness interval elapses, whichever comes first. It returns ErrTimeout
// once the deadline has passed.
func (e *endpoint) waitSlice(ctx context.Context, sem *internalshm.Semaphore, until time.Time, bounded bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.closed.Load() {
		return ErrClosed
	}
	slice := e.cfg.LivenessInterval
	if bounded {
		remaining := time.Until(until)
		if remaining <= 0 {
			return ErrTimeout
		}
		if remaining < slice {
			slice = remaining
		}
	}
	if _, err := sem.Wait(slice); err != nil {
		return fmt.Errorf("semaphore wait: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.closed.Load() {
		return ErrClosed
	}
	return nil
}

// wakeOnCancel posts sem when ctx ends so a blocked wait returns promptly.
func wakeOnCancel(ctx context.Context, sem *internalshm.Semaphore) (stop func() bool) {
	return context.AfterFunc(ctx, func() { _ = sem.Post() })
}

// beginClose marks the endpoint closed and wakes any call blocked on
// either semaphore. It reports false if the endpoint was already closed.
func (e *endpoint) beginClose() bool {
	if !e.closed.CompareAndSwap(false, true) {
		return false
	}
	_ = e.seg.dataSem.Post()
	_ = e.seg.spaceSem.Post()
	return true
}

// finishClose detaches this side and unmaps the segment once in-flight
// calls have drained. The last side out unlinks the segment.
func (e *endpoint) finishClose() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.unclaim()

	e.seg.oieb.store(pidOffset(e.role), 0)
	peer := e.seg.oieb.load(pidOffset(e.role.peer()))
	// wake the peer so it notices the detach without waiting a full interval
	if e.role == RoleWriter {
		_ = e.seg.dataSem.Post()
	} else {
		_ = e.seg.spaceSem.Post()
	}

	last := peer == 0 || !e.cfg.IsProcessAlive(peer)
	err := e.seg.close(last)
	if last {
		e.log.infof("closed and removed buffer %s", e.name)
	} else {
		e.log.debugf("detached from buffer %s", e.name)
	}
	return err
}
