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
	"encoding/binary"
	"sync"
	"time"
)

// metadataPrefixSize is the length prefix in front of the metadata record.
const metadataPrefixSize = 4

// Writer appends frames to a buffer. A buffer has at most one Writer at a time.
type Writer struct {
	*endpoint

	opMu        sync.Mutex
	nextSeq     uint64
	reservation *reservation
}

type reservation struct {
	offset   uint64
	length   uint64
	sequence uint64
}

// OpenWriter creates the named buffer with config's geometry, or attaches to
// it when a live reader already created it. A segment left behind by dead
// processes is removed and recreated.
func OpenWriter(name string, config *Config) (*Writer, error) {
	return OpenWriterContext(context.Background(), name, config)
}

// OpenWriterContext is OpenWriter with a context bounding the attach retries.
func OpenWriterContext(ctx context.Context, name string, config *Config) (*Writer, error) {
	ep, err := openEndpoint(ctx, name, RoleWriter, createOrAttach, settleTime, config)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		endpoint: ep,
		nextSeq:  ep.seg.oieb.load(offPayloadWrittenCount) + 1,
	}
	return w, nil
}

// WriteMetadata stores data in the metadata block. It can be called once per buffer.
func (w *Writer) WriteMetadata(data []byte) error {
	w.opMu.Lock()
	defer w.opMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed.Load() {
		return ErrClosed
	}

	o := w.seg.oieb
	if o.load(offMetadataWrittenBytes) > 0 {
		return ErrAlreadyWritten
	}
	need := uint64(metadataPrefixSize + len(data))
	free := o.load(offMetadataFreeBytes)
	if need > free {
		return &CapacityError{What: "metadata", Requested: need, Capacity: free}
	}
	binary.LittleEndian.PutUint32(w.seg.metadata, uint32(len(data)))
	copy(w.seg.metadata[metadataPrefixSize:], data)
	o.store(offMetadataFreeBytes, free-need)
	o.store(offMetadataWrittenBytes, need)
	w.log.debugf("wrote %d bytes of metadata", len(data))
	return nil
}

// WriteFrame copies data into the ring as one frame, blocking up to timeout
// for space. A zero timeout does not block and a negative one waits until
// space frees, the reader dies or ctx ends.
func (w *Writer) WriteFrame(ctx context.Context, data []byte, timeout time.Duration) error {
	w.opMu.Lock()
	defer w.opMu.Unlock()
	if w.reservation != nil {
		return ErrReservationPending
	}
	w.mu.RLock()
	defer w.mu.RUnlock()

	buf, err := w.reserve(ctx, len(data), timeout)
	if err != nil {
		return err
	}
	copy(buf, data)
	return w.commit(ctx)
}

// ReserveFrame returns a slice of n bytes inside the ring for the caller to
// fill in place. The frame is published by CommitFrame or dropped by
// AbortFrame; the slice must not be used after either, or after Close.
func (w *Writer) ReserveFrame(ctx context.Context, n int, timeout time.Duration) ([]byte, error) {
	w.opMu.Lock()
	defer w.opMu.Unlock()
	if w.reservation != nil {
		return nil, ErrReservationPending
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.reserve(ctx, n, timeout)
}

// CommitFrame publishes the reserved frame to the reader.
func (w *Writer) CommitFrame() error {
	w.opMu.Lock()
	defer w.opMu.Unlock()
	if w.reservation == nil {
		return ErrNoReservation
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.commit(context.Background())
}

// AbortFrame drops the reserved frame without publishing it.
func (w *Writer) AbortFrame() error {
	w.opMu.Lock()
	defer w.opMu.Unlock()
	if w.reservation == nil {
		return ErrNoReservation
	}
	w.reservation = nil
	return nil
}

// reserve finds room for a frame of n bytes, wrapping to the start of the
// ring and blocking on the space semaphore as needed. Callers hold opMu and mu.RLock.
func (w *Writer) reserve(ctx context.Context, n int, timeout time.Duration) ([]byte, error) {
	if n <= 0 {
		return nil, ErrEmptyFrame
	}
	size := w.seg.payloadSize
	total := recordSize(uint64(n))
	if total > size {
		return nil, &CapacityError{What: "frame", Requested: uint64(n), Capacity: size - FrameHeaderSize}
	}
	until, bounded := deadline(timeout)

	var (
		endWait func(error)
		stop    func() bool
	)
	finish := func(err error) error {
		if endWait != nil {
			stop()
			endWait(err)
		}
		return err
	}

	o := w.seg.oieb
	for {
		if w.closed.Load() {
			return nil, finish(ErrClosed)
		}
		wpos := o.load(offPayloadWritePos)
		free := o.load(offPayloadFreeBytes)
		if wpos >= size || free > size {
			return nil, finish(w.corrupted(wpos, "write cursor or free bytes outside the ring"))
		}
		toEnd := size - wpos

		if total <= toEnd && total <= free {
			w.reservation = &reservation{offset: wpos, length: uint64(n), sequence: w.nextSeq}
			start := wpos + FrameHeaderSize
			return w.seg.payload[start : start+uint64(n)], finish(nil)
		}
		if total > toEnd && free >= toEnd {
			w.wrap(wpos, toEnd)
			continue
		}

		if pid, dead := w.peerDead(); dead {
			return nil, finish(w.peerDeadError(ctx, pid))
		}
		if endWait == nil {
			ctx, endWait = w.tel.startWait(ctx)
			stop = wakeOnCancel(ctx, w.seg.spaceSem)
		}
		if err := w.waitSlice(ctx, w.seg.spaceSem, until, bounded); err != nil {
			return nil, finish(err)
		}
	}
}

// wrap gives up the tail of the ring past wpos and restarts writing at 0.
// A wrap marker is written when the tail can hold a header; a shorter tail
// is skipped by the reader implicitly.
func (w *Writer) wrap(wpos, toEnd uint64) {
	if toEnd >= FrameHeaderSize {
		encodeFrameHeader(w.seg.payload[wpos:], frameHeader{kind: recordWrapMarker, sequence: w.nextSeq})
	}
	o := w.seg.oieb
	o.sub(offPayloadFreeBytes, toEnd)
	o.store(offPayloadWritePos, 0)
	_ = w.seg.dataSem.Post()
	w.log.tracef("wrapped at %d, skipped %d bytes", wpos, toEnd)
}

// commit publishes the pending reservation. Callers hold opMu and mu.RLock.
func (w *Writer) commit(ctx context.Context) error {
	r := w.reservation
	w.reservation = nil
	if w.closed.Load() {
		return ErrClosed
	}
	total := recordSize(r.length)
	encodeFrameHeader(w.seg.payload[r.offset:], frameHeader{kind: recordFrame, sequence: r.sequence, length: r.length})

	o := w.seg.oieb
	o.sub(offPayloadFreeBytes, total)
	o.store(offPayloadWritePos, (r.offset+total)%w.seg.payloadSize)
	o.add(offPayloadWrittenCount, 1)
	if err := w.seg.dataSem.Post(); err != nil {
		return err
	}
	w.nextSeq++
	w.tel.wrote(ctx, int(r.length))
	return nil
}

func (w *Writer) corrupted(offset uint64, reason string) error {
	err := &CorruptionError{Reason: reason, Offset: offset}
	w.log.errorf("%v", err)
	if debugMode {
		DebugBufferDetail(w.name)
	}
	return err
}

// Close detaches the writer. The reader sees the detach as ErrWriterDead
// once it has drained the ring. Close is idempotent.
func (w *Writer) Close() error {
	if !w.beginClose() {
		return nil
	}
	w.opMu.Lock()
	defer w.opMu.Unlock()
	w.reservation = nil
	return w.finishClose()
}
