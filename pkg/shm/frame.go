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
	"encoding/binary"
	"sync"
)

// FrameHeaderSize is the size of the header that precedes every record in the payload ring.
const FrameHeaderSize = 16

const (
	offFrameSequence = 0
	offFrameLength   = 8
)

// recordKind tells a real frame header from a wrap marker.
type recordKind int

const (
	recordFrame recordKind = iota
	recordWrapMarker
)

// frameHeader is a decoded record header. A zero length marks a wrap: the
// writer restarted at offset 0 and the rest of the ring is unused.
type frameHeader struct {
	kind     recordKind
	sequence uint64
	length   uint64
}

func encodeFrameHeader(dst []byte, h frameHeader) {
	length := h.length
	if h.kind == recordWrapMarker {
		length = 0
	}
	binary.LittleEndian.PutUint64(dst[offFrameSequence:], h.sequence)
	binary.LittleEndian.PutUint64(dst[offFrameLength:], length)
}

func decodeFrameHeader(src []byte) frameHeader {
	h := frameHeader{
		sequence: binary.LittleEndian.Uint64(src[offFrameSequence:]),
		length:   binary.LittleEndian.Uint64(src[offFrameLength:]),
	}
	if h.length == 0 {
		h.kind = recordWrapMarker
	}
	return h
}

// recordSize is the ring space a frame of n data bytes occupies.
func recordSize(n uint64) uint64 {
	return FrameHeaderSize + n
}

// Frame is a zero-copy view of one frame in the payload ring. It is valid
// until it is released, either explicitly or by the reader's next ReadFrame.
type Frame struct {
	sequence uint64
	offset   uint64
	length   uint64
	data     []byte

	once   sync.Once
	reader *Reader
}

// Sequence returns the frame's sequence number. The first frame written to a buffer is 1.
func (f *Frame) Sequence() uint64 { return f.sequence }

// Len returns the number of data bytes.
func (f *Frame) Len() int { return int(f.length) }

// Data returns the frame bytes inside the shared mapping. The slice must not
// be used after the frame is released.
func (f *Frame) Data() []byte { return f.data }

// Offset returns the ring offset of the frame header.
func (f *Frame) Offset() uint64 { return f.offset }

// Release hands the frame's ring space back to the writer. It may be called
// from any goroutine; calling it more than once is a no-op.
func (f *Frame) Release() {
	if f == nil || f.reader == nil {
		return
	}
	f.once.Do(func() {
		f.reader.release(f)
		f.data = nil
	})
}

func (f *Frame) total() uint64 {
	return recordSize(f.length)
}
