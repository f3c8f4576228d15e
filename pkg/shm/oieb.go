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
	"fmt"

	internalshm "github.com/srediag/zerobuffer/internal/shm"
)

// OIEBSize is the encoded size of the control block.
const OIEBSize = 128

// Field offsets of the control block. All multi-byte fields are little-endian.
const (
	offOIEBSize             = 0  // u32
	offVersion              = 4  // 4 x u8
	offMetadataSize         = 8  // u64
	offMetadataFreeBytes    = 16 // u64
	offMetadataWrittenBytes = 24 // u64
	offPayloadSize          = 32 // u64
	offPayloadFreeBytes     = 40 // u64
	offPayloadWritePos      = 48 // u64
	offPayloadReadPos       = 56 // u64
	offPayloadWrittenCount  = 64 // u64
	offPayloadReadCount     = 72 // u64
	offWriterPID            = 80 // u64
	offReaderPID            = 88 // u64
	offReserved             = 96 // 4 x u64

	reservedWords = 4
)

// the field table must end exactly at OIEBSize
var _ = [1]struct{}{}[offReserved+reservedWords*8-OIEBSize]

// CurrentVersion is the layout version written by this package.
var CurrentVersion = Version{Major: 1, Minor: 0, Patch: 0}

// Version is the layout version stored in the control block.
type Version struct {
	Major    uint8
	Minor    uint8
	Patch    uint8
	Reserved uint8
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Patch, v.Reserved)
}

func (v Version) pack() uint32 {
	return uint32(v.Major) | uint32(v.Minor)<<8 | uint32(v.Patch)<<16 | uint32(v.Reserved)<<24
}

func unpackVersion(u uint32) Version {
	return Version{Major: uint8(u), Minor: uint8(u >> 8), Patch: uint8(u >> 16), Reserved: uint8(u >> 24)}
}

// OIEB is a decoded copy of the 128-byte control block at the start of a buffer.
type OIEB struct {
	OIEBSize             uint32
	Version              Version
	MetadataSize         uint64
	MetadataFreeBytes    uint64
	MetadataWrittenBytes uint64
	PayloadSize          uint64
	PayloadFreeBytes     uint64
	PayloadWritePos      uint64
	PayloadReadPos       uint64
	PayloadWrittenCount  uint64
	PayloadReadCount     uint64
	WriterPID            uint64
	ReaderPID            uint64
	Reserved             [reservedWords]uint64
}

// Pending returns the number of frames written but not yet released.
func (o OIEB) Pending() uint64 {
	if o.PayloadWrittenCount < o.PayloadReadCount {
		return 0
	}
	return o.PayloadWrittenCount - o.PayloadReadCount
}

// MarshalBinary encodes the control block in its 128-byte wire layout.
func (o OIEB) MarshalBinary() ([]byte, error) {
	b := make([]byte, OIEBSize)
	le := binary.LittleEndian
	le.PutUint32(b[offOIEBSize:], o.OIEBSize)
	le.PutUint32(b[offVersion:], o.Version.pack())
	le.PutUint64(b[offMetadataSize:], o.MetadataSize)
	le.PutUint64(b[offMetadataFreeBytes:], o.MetadataFreeBytes)
	le.PutUint64(b[offMetadataWrittenBytes:], o.MetadataWrittenBytes)
	le.PutUint64(b[offPayloadSize:], o.PayloadSize)
	le.PutUint64(b[offPayloadFreeBytes:], o.PayloadFreeBytes)
	le.PutUint64(b[offPayloadWritePos:], o.PayloadWritePos)
	le.PutUint64(b[offPayloadReadPos:], o.PayloadReadPos)
	le.PutUint64(b[offPayloadWrittenCount:], o.PayloadWrittenCount)
	le.PutUint64(b[offPayloadReadCount:], o.PayloadReadCount)
	le.PutUint64(b[offWriterPID:], o.WriterPID)
	le.PutUint64(b[offReaderPID:], o.ReaderPID)
	for i, r := range o.Reserved {
		le.PutUint64(b[offReserved+i*8:], r)
	}
	return b, nil
}

// UnmarshalBinary decodes a control block from at least 128 bytes.
func (o *OIEB) UnmarshalBinary(b []byte) error {
	if len(b) < OIEBSize {
		return fmt.Errorf("zerobuffer: control block needs %d bytes, got %d", OIEBSize, len(b))
	}
	le := binary.LittleEndian
	o.OIEBSize = le.Uint32(b[offOIEBSize:])
	o.Version = unpackVersion(le.Uint32(b[offVersion:]))
	o.MetadataSize = le.Uint64(b[offMetadataSize:])
	o.MetadataFreeBytes = le.Uint64(b[offMetadataFreeBytes:])
	o.MetadataWrittenBytes = le.Uint64(b[offMetadataWrittenBytes:])
	o.PayloadSize = le.Uint64(b[offPayloadSize:])
	o.PayloadFreeBytes = le.Uint64(b[offPayloadFreeBytes:])
	o.PayloadWritePos = le.Uint64(b[offPayloadWritePos:])
	o.PayloadReadPos = le.Uint64(b[offPayloadReadPos:])
	o.PayloadWrittenCount = le.Uint64(b[offPayloadWrittenCount:])
	o.PayloadReadCount = le.Uint64(b[offPayloadReadCount:])
	o.WriterPID = le.Uint64(b[offWriterPID:])
	o.ReaderPID = le.Uint64(b[offReaderPID:])
	for i := range o.Reserved {
		o.Reserved[i] = le.Uint64(b[offReserved+i*8:])
	}
	return nil
}

// oiebView accesses the live control block in a mapping with atomic loads and stores.
type oiebView struct {
	mem []byte
}

func (v oiebView) load(off int) uint64 {
	return internalshm.AtomicLoadUint64(internalshm.Word64(v.mem, off))
}

func (v oiebView) store(off int, val uint64) {
	internalshm.AtomicStoreUint64(internalshm.Word64(v.mem, off), val)
}

func (v oiebView) add(off int, delta uint64) uint64 {
	return internalshm.AtomicAddUint64(internalshm.Word64(v.mem, off), delta)
}

func (v oiebView) sub(off int, delta uint64) uint64 {
	return internalshm.AtomicAddUint64(internalshm.Word64(v.mem, off), ^(delta - 1))
}

func (v oiebView) size() uint32 {
	return internalshm.AtomicLoadUint32(internalshm.Word32(v.mem, offOIEBSize))
}

func (v oiebView) version() Version {
	return unpackVersion(internalshm.AtomicLoadUint32(internalshm.Word32(v.mem, offVersion)))
}

// init writes a fresh control block owned by the process pid in role.
// oieb_size is stored last so an attaching process never sees a
// half-initialised block as valid, nor one without its creator's PID.
func (v oiebView) init(metadataSize, payloadSize uint64, role Role, pid uint64) {
	internalshm.AtomicStoreUint32(internalshm.Word32(v.mem, offVersion), CurrentVersion.pack())
	v.store(offMetadataSize, metadataSize)
	v.store(offMetadataFreeBytes, metadataSize)
	v.store(offMetadataWrittenBytes, 0)
	v.store(offPayloadSize, payloadSize)
	v.store(offPayloadFreeBytes, payloadSize)
	v.store(offPayloadWritePos, 0)
	v.store(offPayloadReadPos, 0)
	v.store(offPayloadWrittenCount, 0)
	v.store(offPayloadReadCount, 0)
	v.store(offWriterPID, 0)
	v.store(offReaderPID, 0)
	for i := 0; i < reservedWords; i++ {
		v.store(offReserved+i*8, 0)
	}
	v.store(pidOffset(role), pid)
	internalshm.AtomicStoreUint32(internalshm.Word32(v.mem, offOIEBSize), OIEBSize)
}

// snapshot copies the live control block field by field. Fields owned by
// the peer may be mid-update, so the copy is not a consistent cut.
func (v oiebView) snapshot() OIEB {
	o := OIEB{
		OIEBSize:             v.size(),
		Version:              v.version(),
		MetadataSize:         v.load(offMetadataSize),
		MetadataFreeBytes:    v.load(offMetadataFreeBytes),
		MetadataWrittenBytes: v.load(offMetadataWrittenBytes),
		PayloadSize:          v.load(offPayloadSize),
		PayloadFreeBytes:     v.load(offPayloadFreeBytes),
		PayloadWritePos:      v.load(offPayloadWritePos),
		PayloadReadPos:       v.load(offPayloadReadPos),
		PayloadWrittenCount:  v.load(offPayloadWrittenCount),
		PayloadReadCount:     v.load(offPayloadReadCount),
		WriterPID:            v.load(offWriterPID),
		ReaderPID:            v.load(offReaderPID),
	}
	for i := range o.Reserved {
		o.Reserved[i] = v.load(offReserved + i*8)
	}
	return o
}

func pidOffset(role Role) int {
	if role == RoleWriter {
		return offWriterPID
	}
	return offReaderPID
}

// progressOffset is the counter that only role advances.
func progressOffset(role Role) int {
	if role == RoleWriter {
		return offPayloadWrittenCount
	}
	return offPayloadReadCount
}

// Severity grades a Problem found by Validate.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "ERROR"
	}
	return "WARNING"
}

// Problem is a control block field that breaks an invariant.
type Problem struct {
	Severity Severity
	Field    string
	Expected string
	Actual   string
}

func (p Problem) String() string {
	return fmt.Sprintf("%s: %s: expected %s, got %s", p.Severity, p.Field, p.Expected, p.Actual)
}

// Validate checks the control block invariants. Errors make the block
// unusable; warnings flag values this package does not interpret. A
// Snapshot of a buffer in use is not a consistent cut, so it can briefly
// break an invariant that holds between operations.
func (o OIEB) Validate() []Problem {
	var problems []Problem
	fail := func(sev Severity, field, expected string, actual interface{}) {
		problems = append(problems, Problem{Severity: sev, Field: field, Expected: expected, Actual: fmt.Sprint(actual)})
	}

	if o.OIEBSize != OIEBSize {
		fail(SeverityError, "oieb_size", fmt.Sprint(OIEBSize), o.OIEBSize)
	}
	if o.Version.Major != CurrentVersion.Major {
		fail(SeverityWarning, "version", fmt.Sprintf("major %d", CurrentVersion.Major), o.Version)
	}
	if o.MetadataSize == 0 {
		fail(SeverityError, "metadata_size", "> 0", o.MetadataSize)
	}
	if o.MetadataFreeBytes+o.MetadataWrittenBytes != o.MetadataSize {
		fail(SeverityError, "metadata_free_bytes + metadata_written_bytes",
			fmt.Sprintf("metadata_size (%d)", o.MetadataSize), o.MetadataFreeBytes+o.MetadataWrittenBytes)
	}
	if o.PayloadSize == 0 {
		fail(SeverityError, "payload_size", "> 0", o.PayloadSize)
	} else {
		if o.PayloadWritePos >= o.PayloadSize {
			fail(SeverityError, "payload_write_pos", fmt.Sprintf("< %d", o.PayloadSize), o.PayloadWritePos)
		}
		if o.PayloadReadPos >= o.PayloadSize {
			fail(SeverityError, "payload_read_pos", fmt.Sprintf("< %d", o.PayloadSize), o.PayloadReadPos)
		}
	}
	if o.PayloadFreeBytes > o.PayloadSize {
		fail(SeverityError, "payload_free_bytes", fmt.Sprintf("<= %d", o.PayloadSize), o.PayloadFreeBytes)
	}
	if o.PayloadReadCount > o.PayloadWrittenCount {
		fail(SeverityError, "payload_read_count", fmt.Sprintf("<= %d", o.PayloadWrittenCount), o.PayloadReadCount)
	}
	for i, r := range o.Reserved {
		if r != 0 {
			fail(SeverityWarning, fmt.Sprintf("reserved[%d]", i), "0", r)
		}
	}
	return problems
}

// HasErrors reports whether any of the problems is an error.
func HasErrors(problems []Problem) bool {
	for _, p := range problems {
		if p.Severity == SeverityError {
			return true
		}
	}
	return false
}
