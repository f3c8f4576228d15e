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
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when a blocking call makes no progress before its timeout.
	ErrTimeout = errors.New("zerobuffer: operation timed out")
	// ErrAlreadyWritten is returned by a second WriteMetadata call.
	ErrAlreadyWritten = errors.New("zerobuffer: metadata already written")
	// ErrEmptyFrame is returned when writing a zero-length frame, which would read as a wrap marker.
	ErrEmptyFrame = errors.New("zerobuffer: empty frame")
	// ErrClosed is returned by operations on a closed Writer or Reader.
	ErrClosed = errors.New("zerobuffer: buffer closed")
	// ErrReservationPending is returned when a frame is reserved but neither committed nor aborted.
	ErrReservationPending = errors.New("zerobuffer: frame reservation pending")
	// ErrNoReservation is returned by CommitFrame and AbortFrame without a preceding ReserveFrame.
	ErrNoReservation = errors.New("zerobuffer: no frame reserved")
	// ErrWriterAlreadyConnected is returned when another live writer is attached.
	ErrWriterAlreadyConnected = errors.New("zerobuffer: writer already connected")
	// ErrReaderAlreadyConnected is returned when another live reader is attached.
	ErrReaderAlreadyConnected = errors.New("zerobuffer: reader already connected")
	// ErrIncompatibleVersion is wrapped by FormatError for an unsupported major version.
	ErrIncompatibleVersion = errors.New("zerobuffer: incompatible version")
	// ErrInvalidOIEBSize is wrapped by FormatError when oieb_size is not 128.
	ErrInvalidOIEBSize = errors.New("zerobuffer: invalid oieb size")
	// ErrTooLarge is matched by every CapacityError.
	ErrTooLarge = errors.New("zerobuffer: too large")
	// ErrWriterDead is matched by a PeerDeadError about the writer.
	ErrWriterDead = errors.New("zerobuffer: writer process is dead")
	// ErrReaderDead is matched by a PeerDeadError about the reader.
	ErrReaderDead = errors.New("zerobuffer: reader process is dead")
	// ErrCorrupted is matched by every CorruptionError.
	ErrCorrupted = errors.New("zerobuffer: buffer corrupted")

	// errSegmentNotReady means the segment exists but its creator has not finished initialising it.
	errSegmentNotReady = errors.New("zerobuffer: segment not initialised")
)

// FormatError reports a control block that this package cannot interpret.
type FormatError struct {
	Field    string
	Expected uint64
	Actual   uint64
	Err      error
}

func (e *FormatError) Error() string {
	msg := fmt.Sprintf("zerobuffer: format error: %s: expected %d, got %d", e.Field, e.Expected, e.Actual)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error { return e.Err }

// CapacityError reports a frame or metadata record larger than its region.
type CapacityError struct {
	What      string
	Requested uint64
	Capacity  uint64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("zerobuffer: %s of %d bytes exceeds capacity %d", e.What, e.Requested, e.Capacity)
}

func (e *CapacityError) Is(target error) bool { return target == ErrTooLarge }

// PeerDeadError reports that the process on the other side of the buffer is gone.
type PeerDeadError struct {
	Role Role
	PID  uint64
}

func (e *PeerDeadError) Error() string {
	return fmt.Sprintf("zerobuffer: %s process %d is dead", e.Role, e.PID)
}

func (e *PeerDeadError) Is(target error) bool {
	switch target {
	case ErrWriterDead:
		return e.Role == RoleWriter
	case ErrReaderDead:
		return e.Role == RoleReader
	}
	return false
}

// CorruptionError reports an impossible cursor, length or sequence combination.
type CorruptionError struct {
	Reason string
	Offset uint64
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("zerobuffer: corruption at payload offset %d: %s", e.Offset, e.Reason)
}

func (e *CorruptionError) Is(target error) bool { return target == ErrCorrupted }

// Role names a side of the buffer.
type Role string

const (
	RoleWriter Role = "writer"
	RoleReader Role = "reader"
)

func (r Role) peer() Role {
	if r == RoleWriter {
		return RoleReader
	}
	return RoleWriter
}
