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

// Package shm contains platform-specific helpers for shared memory buffer implementation.
package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupported is returned by every mapping call on platforms without POSIX shared memory.
	ErrUnsupported = errors.New("shared memory not supported on this platform")
	// ErrInvalidName is returned for names that cannot be used as a shared memory object name.
	ErrInvalidName = errors.New("invalid shared memory name")
	// ErrEmptyObject is returned when an existing shared memory object has zero length.
	ErrEmptyObject = errors.New("shared memory object is empty")
	// ErrNoSpace is returned when the shared memory filesystem cannot hold a new object.
	ErrNoSpace = errors.New("share memory had not left space")
	// ErrFutexTimeout is returned by futexWait when the wait times out.
	ErrFutexTimeout = errors.New("futex timeout")
)

// devShmDir is where POSIX shm_open objects live on Linux.
var devShmDir = "/dev/shm"

// MappedRegion represents a memory-mapped shared region.
type MappedRegion struct {
	Addr     []byte
	Name     string
	Path     string
	ReadOnly bool
}

// Size returns the mapped length in bytes.
func (r *MappedRegion) Size() int {
	if r == nil {
		return 0
	}
	return len(r.Addr)
}

// MapOptions defines options for mapping shared memory.
type MapOptions struct {
	// Name is the shm object name, with or without the leading "/".
	Name string
	// Size is the object size. Required with Create; zero on open maps the whole object.
	Size int
	// Create creates the object exclusively; it fails with fs.ErrExist if the name is taken.
	Create bool
	// ReadOnly maps the object with PROT_READ only.
	ReadOnly bool
}

// ObjectName normalises name to the bare object name used under the shm directory.
func ObjectName(name string) (string, error) {
	trimmed := strings.TrimPrefix(name, "/")
	if trimmed == "" || strings.ContainsRune(trimmed, '/') || trimmed == "." || trimmed == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return trimmed, nil
}

// SegmentPath returns the filesystem path backing the shm object name.
// It falls back to the temporary directory when /dev/shm is not available.
func SegmentPath(name string) (string, error) {
	object, err := ObjectName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(shmDir(), object), nil
}

func shmDir() string {
	if info, err := os.Stat(devShmDir); err == nil && info.IsDir() {
		return devShmDir
	}
	return os.TempDir()
}

func isUnderDevShm(path string) bool {
	return strings.HasPrefix(path, devShmDir+"/")
}
