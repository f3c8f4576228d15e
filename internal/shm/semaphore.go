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
	"errors"
	"fmt"
	"time"
	"unsafe"
)

const (
	// SemaphoreObjectSize is the size of the shm object that backs a semaphore.
	SemaphoreObjectSize = 64

	semValueOffset = 0
	semMaxOffset   = 4
	semMagicOffset = 8

	semMagic = 0x4d45535a // "ZSEM"
)

var (
	// ErrSemaphoreNotReady is returned when opening a semaphore whose creator
	// has not finished initialising it.
	ErrSemaphoreNotReady = errors.New("semaphore not initialised")
	// ErrSemaphoreClosed is returned by operations on a closed semaphore.
	ErrSemaphoreClosed = errors.New("semaphore closed")
)

// Semaphore is a counting semaphore shared between processes. The counter
// lives in its own shm object and blocking uses a shared futex on it.
type Semaphore struct {
	region *MappedRegion
	value  *uint32
	max    uint32
}

// CreateSemaphore exclusively creates the named semaphore with the given
// initial count and upper bound.
func CreateSemaphore(ctx context.Context, name string, initial, max uint32) (*Semaphore, error) {
	if max == 0 || initial > max {
		return nil, fmt.Errorf("semaphore %s: invalid initial %d / max %d", name, initial, max)
	}
	region, err := MapRegion(ctx, MapOptions{Name: name, Size: SemaphoreObjectSize, Create: true})
	if err != nil {
		return nil, err
	}
	AtomicStoreUint32(Word32(region.Addr, semValueOffset), initial)
	AtomicStoreUint32(Word32(region.Addr, semMaxOffset), max)
	// magic goes last so openers never see a half-written header
	AtomicStoreUint32(Word32(region.Addr, semMagicOffset), semMagic)
	return newSemaphore(region), nil
}

// OpenSemaphore attaches to an existing semaphore.
func OpenSemaphore(ctx context.Context, name string) (*Semaphore, error) {
	region, err := MapRegion(ctx, MapOptions{Name: name})
	if err != nil {
		return nil, err
	}
	if region.Size() < SemaphoreObjectSize || AtomicLoadUint32(Word32(region.Addr, semMagicOffset)) != semMagic {
		_ = UnmapRegion(ctx, region)
		return nil, fmt.Errorf("%w: %s", ErrSemaphoreNotReady, name)
	}
	return newSemaphore(region), nil
}

func newSemaphore(region *MappedRegion) *Semaphore {
	return &Semaphore{
		region: region,
		value:  (*uint32)(Word32(region.Addr, semValueOffset)),
		max:    AtomicLoadUint32(Word32(region.Addr, semMaxOffset)),
	}
}

// Name returns the shm object name of the semaphore.
func (s *Semaphore) Name() string {
	return s.region.Name
}

// Value returns the current count.
func (s *Semaphore) Value() uint32 {
	if s.value == nil {
		return 0
	}
	return AtomicLoadUint32(unsafe.Pointer(s.value))
}

// Post increments the count, saturating at the maximum, and wakes a waiter.
func (s *Semaphore) Post() error {
	if s.value == nil {
		return ErrSemaphoreClosed
	}
	p := unsafe.Pointer(s.value)
	for {
		v := AtomicLoadUint32(p)
		if v >= s.max {
			break
		}
		if AtomicCompareAndSwapUint32(p, v, v+1) {
			break
		}
	}
	_, err := futexWake(s.value, 1)
	return err
}

// TryWait decrements the count if it is positive and reports whether it did.
func (s *Semaphore) TryWait() bool {
	if s.value == nil {
		return false
	}
	p := unsafe.Pointer(s.value)
	for {
		v := AtomicLoadUint32(p)
		if v == 0 {
			return false
		}
		if AtomicCompareAndSwapUint32(p, v, v-1) {
			return true
		}
	}
}

// Wait decrements the count, blocking up to timeout for it to become
// positive. A zero timeout only tries once and a negative one waits forever.
// It reports whether the count was decremented.
func (s *Semaphore) Wait(timeout time.Duration) (bool, error) {
	if s.value == nil {
		return false, ErrSemaphoreClosed
	}
	if s.TryWait() {
		return true, nil
	}
	if timeout == 0 {
		return false, nil
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		var remaining time.Duration
		if !deadline.IsZero() {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return s.TryWait(), nil
			}
		}
		err := futexWait(s.value, 0, remaining)
		if s.TryWait() {
			return true, nil
		}
		if err != nil && !errors.Is(err, ErrFutexTimeout) {
			return false, err
		}
	}
}

// Close unmaps the semaphore. The shm object is left in place.
func (s *Semaphore) Close() error {
	if s.value == nil {
		return nil
	}
	s.value = nil
	return UnmapRegion(context.Background(), s.region)
}

// Unlink removes the semaphore's shm object name.
func (s *Semaphore) Unlink() error {
	return Unlink(s.region.Name)
}
