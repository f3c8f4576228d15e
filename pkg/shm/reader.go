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
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"sync/atomic"
	"time"
)

// Reader consumes frames from a buffer. A buffer has at most one Reader at a time.
type Reader struct {
	*endpoint

	opMu    sync.Mutex
	current *Frame

	// releaseMu orders frame releases, which may come from any goroutine.
	releaseMu   sync.Mutex
	expectedSeq atomic.Uint64
}

// NewReader creates the named buffer with config's geometry. If the buffer
// already exists and a live writer owns it, the reader attaches instead; a
// buffer nobody is using any more is removed and recreated.
func NewReader(name string, config *Config) (*Reader, error) {
	ep, err := openEndpoint(context.Background(), name, RoleReader, createOrAttach, settleTime, config)
	if err != nil {
		return nil, err
	}
	return newReader(ep), nil
}

// OpenReader attaches to an existing buffer, retrying until it appears or
// timeout elapses. Geometry comes from the buffer; config only supplies the
// runtime settings.
func OpenReader(ctx context.Context, name string, timeout time.Duration, config *Config) (*Reader, error) {
	ep, err := openEndpoint(ctx, name, RoleReader, attachOnly, timeout, config)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, errSegmentNotReady) {
			return nil, fmt.Errorf("%w: open %s: %w", ErrTimeout, name, err)
		}
		return nil, err
	}
	return newReader(ep), nil
}

func newReader(ep *endpoint) *Reader {
	r := &Reader{endpoint: ep}
	r.expectedSeq.Store(ep.seg.oieb.load(offPayloadReadCount) + 1)
	return r
}

// ReadFrame returns the next frame, blocking up to timeout for one to be
// written. Any frame returned by the previous call is released first. A
// zero timeout does not block and a negative one waits until a frame
// arrives, the writer dies or ctx ends.
func (r *Reader) ReadFrame(ctx context.Context, timeout time.Duration) (*Frame, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	if cur := r.current; cur != nil {
		r.current = nil
		cur.Release()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
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

	o := r.seg.oieb
	for {
		if r.closed.Load() {
			return nil, finish(ErrClosed)
		}
		written := o.load(offPayloadWrittenCount)
		read := o.load(offPayloadReadCount)
		if read > written {
			return nil, finish(r.corrupted(o.load(offPayloadReadPos),
				fmt.Sprintf("read count %d ahead of written count %d", read, written)))
		}
		pending := written > read
		rpos := o.load(offPayloadReadPos)
		// write_pos is loaded after the count so it is never older than
		// the frames already consumed
		published := pending || o.load(offPayloadWritePos) != rpos

		if published {
			f, skipped, err := r.next(rpos, pending)
			if err != nil {
				return nil, finish(err)
			}
			if skipped {
				continue
			}
			if f != nil {
				r.seg.dataSem.TryWait()
				r.current = f
				r.tel.read(ctx, f.Len())
				return f, finish(nil)
			}
		}

		if !pending {
			if pid, dead := r.peerDead(); dead {
				// a frame committed just before the writer went away still counts
				if o.load(offPayloadWrittenCount) > read {
					continue
				}
				return nil, finish(r.peerDeadError(ctx, pid))
			}
		}
		if endWait == nil {
			ctx, endWait = r.tel.startWait(ctx)
			stop = wakeOnCancel(ctx, r.seg.dataSem)
		}
		if err := r.waitSlice(ctx, r.seg.dataSem, until, bounded); err != nil {
			return nil, finish(err)
		}
	}
}

// next decodes the record at rpos. A wrap marker or a tail too short for a
// header is skipped. A real header is only turned into a Frame once its
// frame is counted as written.
func (r *Reader) next(rpos uint64, pending bool) (f *Frame, skipped bool, err error) {
	size := r.seg.payloadSize
	if rpos >= size {
		return nil, false, r.corrupted(rpos, fmt.Sprintf("read position beyond ring size %d", size))
	}
	toEnd := size - rpos
	if toEnd < FrameHeaderSize {
		r.skip(rpos, toEnd)
		return nil, true, nil
	}
	h := decodeFrameHeader(r.seg.payload[rpos:])
	if h.kind == recordWrapMarker {
		r.skip(rpos, toEnd)
		return nil, true, nil
	}
	if !pending {
		return nil, false, nil
	}

	if h.length > toEnd-FrameHeaderSize {
		return nil, false, r.corrupted(rpos, fmt.Sprintf("frame length %d overruns ring end", h.length))
	}
	total := recordSize(h.length)
	if free := r.seg.oieb.load(offPayloadFreeBytes); free > size || total > size-free {
		return nil, false, r.corrupted(rpos, fmt.Sprintf("frame length %d exceeds used space (free %d)", h.length, free))
	}
	if expected := r.expectedSeq.Load(); h.sequence != expected {
		return nil, false, r.corrupted(rpos, fmt.Sprintf("sequence %d, expected %d", h.sequence, expected))
	}
	start := rpos + FrameHeaderSize
	return &Frame{
		sequence: h.sequence,
		offset:   rpos,
		length:   h.length,
		data:     r.seg.payload[start : start+h.length : start+h.length],
		reader:   r,
	}, false, nil
}

// skip moves the read cursor from a wrapped tail back to the start of the ring.
func (r *Reader) skip(rpos, toEnd uint64) {
	o := r.seg.oieb
	o.store(offPayloadReadPos, 0)
	o.add(offPayloadFreeBytes, toEnd)
	_ = r.seg.spaceSem.Post()
	r.log.tracef("followed wrap at %d, reclaimed %d bytes", rpos, toEnd)
}

// release hands the frame's space back to the writer. It does not take
// opMu, so a frame can be released from any goroutine while ReadFrame runs.
func (r *Reader) release(f *Frame) {
	r.releaseMu.Lock()
	defer r.releaseMu.Unlock()
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed.Load() {
		return
	}
	o := r.seg.oieb
	o.store(offPayloadReadPos, (f.offset+f.total())%r.seg.payloadSize)
	o.add(offPayloadFreeBytes, f.total())
	o.add(offPayloadReadCount, 1)
	_ = r.seg.spaceSem.Post()
	r.expectedSeq.Store(f.sequence + 1)
}

// Metadata returns a copy of the metadata record. ok is false until the
// writer has stored it.
func (r *Reader) Metadata() (data []byte, ok bool, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed.Load() {
		return nil, false, ErrClosed
	}
	o := r.seg.oieb
	written := o.load(offMetadataWrittenBytes)
	if written == 0 {
		return nil, false, nil
	}
	if written < metadataPrefixSize || written > uint64(len(r.seg.metadata)) {
		return nil, false, &CorruptionError{Reason: fmt.Sprintf("metadata written bytes %d out of range", written)}
	}
	n := uint64(binary.LittleEndian.Uint32(r.seg.metadata))
	if metadataPrefixSize+n != written {
		return nil, false, &CorruptionError{Reason: fmt.Sprintf("metadata prefix %d does not match written bytes %d", n, written)}
	}
	data = make([]byte, n)
	copy(data, r.seg.metadata[metadataPrefixSize:metadataPrefixSize+n])
	return data, true, nil
}

func (r *Reader) corrupted(offset uint64, reason string) error {
	err := &CorruptionError{Reason: reason, Offset: offset}
	r.log.errorf("%v", err)
	if debugMode {
		DebugBufferDetail(r.name)
	}
	return err
}

// Close detaches the reader. A frame still held is not released, so a
// reader attaching later reads it again. Close is idempotent.
func (r *Reader) Close() error {
	if !r.beginClose() {
		return nil
	}
	r.opMu.Lock()
	defer r.opMu.Unlock()
	r.current = nil
	return r.finishClose()
}
