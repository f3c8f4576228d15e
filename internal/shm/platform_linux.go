//go:build linux

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
	"os"

	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sys/unix"
)

// MapRegion maps or creates a shared memory region (Linux implementation).
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	object, err := ObjectName(opts.Name)
	if err != nil {
		return nil, err
	}
	shmPath, err := SegmentPath(object)
	if err != nil {
		return nil, err
	}

	flags := unix.O_RDWR | unix.O_CLOEXEC
	prot := unix.PROT_READ | unix.PROT_WRITE
	if opts.ReadOnly {
		flags = unix.O_RDONLY | unix.O_CLOEXEC
		prot = unix.PROT_READ
	}
	if opts.Create {
		if opts.Size <= 0 {
			return nil, fmt.Errorf("create %s: invalid size %d", shmPath, opts.Size)
		}
		if !CanCreate(uint64(opts.Size), shmPath) {
			return nil, fmt.Errorf("%w: path %s, size %d", ErrNoSpace, shmPath, opts.Size)
		}
		flags |= unix.O_CREAT | unix.O_EXCL
	}

	fd, err := unix.Open(shmPath, flags, 0600)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: shmPath, Err: err}
	}
	// the mapping stays valid once the descriptor is closed
	defer func() {
		_ = unix.Close(fd)
	}()

	size := opts.Size
	if opts.Create {
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			_ = unix.Unlink(shmPath)
			return nil, fmt.Errorf("ftruncate: %w", err)
		}
	} else {
		var st unix.Stat_t
		if err := unix.Fstat(fd, &st); err != nil {
			return nil, fmt.Errorf("fstat: %w", err)
		}
		if size == 0 || int64(size) > st.Size {
			size = int(st.Size)
		}
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyObject, shmPath)
	}

	addr, err := unix.Mmap(fd, 0, size, prot, unix.MAP_SHARED)
	if err != nil {
		if opts.Create {
			_ = unix.Unlink(shmPath)
		}
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &MappedRegion{
		Addr:     addr,
		Name:     object,
		Path:     shmPath,
		ReadOnly: opts.ReadOnly,
	}, nil
}

// UnmapRegion unmaps the shared memory region (Linux implementation).
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	if region == nil || region.Addr == nil {
		return nil
	}
	if err := unix.Munmap(region.Addr); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	region.Addr = nil
	return nil
}

// Unlink removes the shm object name. Existing mappings stay valid.
func Unlink(name string) error {
	shmPath, err := SegmentPath(name)
	if err != nil {
		return err
	}
	if err := unix.Unlink(shmPath); err != nil {
		return &os.PathError{Op: "unlink", Path: shmPath, Err: err}
	}
	return nil
}

// Exists reports whether the shm object name is present.
func Exists(name string) bool {
	shmPath, err := SegmentPath(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(shmPath)
	return err == nil
}

// CanCreate reports whether an object of size bytes fits on /dev/shm.
// Paths outside /dev/shm are always allowed.
func CanCreate(size uint64, shmPath string) bool {
	if !isUnderDevShm(shmPath) {
		return true
	}
	stat, err := disk.Usage(devShmDir)
	if err != nil {
		internalWarnf("could not read %s usage: %v", devShmDir, err)
		return true
	}
	return stat.Free >= size
}
