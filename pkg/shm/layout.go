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
	"io/fs"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	internalshm "github.com/srediag/zerobuffer/internal/shm"
)

const (
	// dataSemMax bounds the data semaphore, which counts committed frames.
	dataSemMax = math.MaxInt32
	// spaceSemMax makes the space semaphore a binary "space freed" signal.
	spaceSemMax = 1

	// settleTime is how long an attacher waits for a creator to finish
	// initialising a segment before treating it as abandoned.
	settleTime = 2 * time.Second
)

func alignUp64(n uint64) uint64 {
	return (n + 63) &^ 63
}

// payloadOffset returns where the payload ring starts in a segment.
func payloadOffset(metadataSize uint64) uint64 {
	return OIEBSize + alignUp64(metadataSize)
}

// SegmentSize returns the size of the shm segment for the given geometry.
func SegmentSize(metadataSize, payloadSize uint64) uint64 {
	return payloadOffset(metadataSize) + payloadSize
}

func dataSemName(name string) string  { return "sem-w-" + name }
func spaceSemName(name string) string { return "sem-r-" + name }

// segment is one mapped buffer plus its two semaphores.
type segment struct {
	name        string
	region      *internalshm.MappedRegion
	oieb        oiebView
	metadata    []byte
	payload     []byte
	payloadSize uint64

	// dataSem is posted by the writer for each committed frame.
	dataSem *internalshm.Semaphore
	// spaceSem is posted by the reader whenever it frees ring space.
	spaceSem *internalshm.Semaphore
}

func newSegment(name string, region *internalshm.MappedRegion, metadataSize, payloadSize uint64) *segment {
	off := payloadOffset(metadataSize)
	return &segment{
		name:        name,
		region:      region,
		oieb:        oiebView{mem: region.Addr[:OIEBSize]},
		metadata:    region.Addr[OIEBSize : OIEBSize+metadataSize],
		payload:     region.Addr[off : off+payloadSize],
		payloadSize: payloadSize,
	}
}

// createSegment exclusively creates and initialises the named segment with
// role's PID recorded. It fails with fs.ErrExist if the name is taken.
func createSegment(ctx context.Context, name string, cfg *Config, role Role, pid uint64) (*segment, error) {
	size := SegmentSize(cfg.MetadataSize, cfg.PayloadSize)
	region, err := internalshm.MapRegion(ctx, internalshm.MapOptions{Name: name, Size: int(size), Create: true})
	if err != nil {
		return nil, err
	}
	seg := newSegment(name, region, cfg.MetadataSize, cfg.PayloadSize)

	// semaphores left behind by a crashed session would carry stale counts
	_ = internalshm.Unlink(dataSemName(name))
	_ = internalshm.Unlink(spaceSemName(name))
	if seg.dataSem, err = internalshm.CreateSemaphore(ctx, dataSemName(name), 0, dataSemMax); err != nil {
		_ = seg.close(true)
		return nil, fmt.Errorf("create data semaphore: %w", err)
	}
	if seg.spaceSem, err = internalshm.CreateSemaphore(ctx, spaceSemName(name), 0, spaceSemMax); err != nil {
		_ = seg.close(true)
		return nil, fmt.Errorf("create space semaphore: %w", err)
	}

	seg.oieb.init(cfg.MetadataSize, cfg.PayloadSize, role, pid)
	return seg, nil
}

// openSegment maps an existing segment and validates its control block.
// errSegmentNotReady means the creator is still initialising it.
func openSegment(ctx context.Context, name string) (*segment, error) {
	region, err := internalshm.MapRegion(ctx, internalshm.MapOptions{Name: name})
	if err != nil {
		if errors.Is(err, internalshm.ErrEmptyObject) {
			return nil, fmt.Errorf("%w: %v", errSegmentNotReady, err)
		}
		return nil, err
	}
	fail := func(err error) (*segment, error) {
		_ = internalshm.UnmapRegion(ctx, region)
		return nil, err
	}
	if region.Size() < OIEBSize {
		return fail(errSegmentNotReady)
	}

	view := oiebView{mem: region.Addr[:OIEBSize]}
	switch size := view.size(); size {
	case 0:
		return fail(errSegmentNotReady)
	case OIEBSize:
	default:
		return fail(&FormatError{Field: "oieb_size", Expected: OIEBSize, Actual: uint64(size), Err: ErrInvalidOIEBSize})
	}
	if v := view.version(); v.Major != CurrentVersion.Major {
		return fail(&FormatError{Field: "version.major", Expected: uint64(CurrentVersion.Major), Actual: uint64(v.Major), Err: ErrIncompatibleVersion})
	}
	metadataSize := view.load(offMetadataSize)
	payloadSize := view.load(offPayloadSize)
	if payloadSize < minPayloadSize {
		return fail(&FormatError{Field: "payload_size", Expected: minPayloadSize, Actual: payloadSize})
	}
	if want := SegmentSize(metadataSize, payloadSize); uint64(region.Size()) < want {
		return fail(&FormatError{Field: "segment_size", Expected: want, Actual: uint64(region.Size())})
	}

	seg := newSegment(name, region, metadataSize, payloadSize)
	if seg.dataSem, err = internalshm.OpenSemaphore(ctx, dataSemName(name)); err != nil {
		_ = seg.close(false)
		return nil, fmt.Errorf("open data semaphore: %w", err)
	}
	if seg.spaceSem, err = internalshm.OpenSemaphore(ctx, spaceSemName(name)); err != nil {
		_ = seg.close(false)
		return nil, fmt.Errorf("open space semaphore: %w", err)
	}
	return seg, nil
}

// close unmaps the segment and, with unlink, removes its shm objects.
func (s *segment) close(unlink bool) error {
	var errs []error
	for _, sem := range []*internalshm.Semaphore{s.dataSem, s.spaceSem} {
		if sem != nil {
			errs = append(errs, sem.Close())
		}
	}
	errs = append(errs, internalshm.UnmapRegion(context.Background(), s.region))
	if unlink {
		errs = append(errs, unlinkSegment(s.name))
	}
	return errors.Join(errs...)
}

// unlinkSegment removes the segment and both semaphore objects. Missing objects are not an error.
func unlinkSegment(name string) error {
	var errs []error
	for _, object := range []string{name, dataSemName(name), spaceSemName(name)} {
		if err := internalshm.Unlink(object); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// acquireMode selects how acquireSegment treats a missing or abandoned segment.
type acquireMode int

const (
	// createOrAttach creates the segment, or attaches when a live peer owns it.
	createOrAttach acquireMode = iota
	// attachOnly requires an existing segment.
	attachOnly
)

// acquireSegment creates or attaches to the named segment for role and records this process's PID.
func acquireSegment(ctx context.Context, name string, role Role, mode acquireMode, timeout time.Duration, cfg *Config, log *logger, self uint64) (*segment, bool, error) {
	alive := func(pid uint64) bool {
		return pid != 0 && cfg.IsProcessAlive(pid)
	}

	var (
		seg     *segment
		created bool
	)
	op := func() error {
		if mode == createOrAttach {
			s, err := createSegment(ctx, name, cfg, role, self)
			if err == nil {
				seg, created = s, true
				log.infof("created buffer %s (metadata %d, payload %d)", name, cfg.MetadataSize, cfg.PayloadSize)
				return nil
			}
			if !errors.Is(err, fs.ErrExist) {
				return backoff.Permanent(err)
			}
		}

		s, err := openSegment(ctx, name)
		if err != nil {
			if errors.Is(err, errSegmentNotReady) || errors.Is(err, fs.ErrNotExist) {
				// being created or being removed
				return err
			}
			return backoff.Permanent(err)
		}

		ownPID := s.oieb.load(pidOffset(role))
		peerPID := s.oieb.load(pidOffset(role.peer()))
		if ownPID != self && alive(ownPID) {
			_ = s.close(false)
			if role == RoleWriter {
				return backoff.Permanent(ErrWriterAlreadyConnected)
			}
			return backoff.Permanent(ErrReaderAlreadyConnected)
		}
		if mode == createOrAttach && !alive(peerPID) {
			log.infof("buffer %s is stale (writer %d, reader %d), recreating",
				name, s.oieb.load(offWriterPID), s.oieb.load(offReaderPID))
			_ = s.close(true)
			return errors.New("stale buffer removed")
		}

		s.oieb.store(pidOffset(role), self)
		seg = s
		log.debugf("attached to buffer %s as %s (peer %d)", name, role, peerPID)
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = timeout
	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if err != nil && mode == createOrAttach && errors.Is(err, errSegmentNotReady) {
		// the creator died before finishing initialisation
		log.warnf("buffer %s never finished initialising, recreating", name)
		if uerr := unlinkSegment(name); uerr != nil {
			return nil, false, uerr
		}
		err = op()
	}
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return nil, false, err
	}
	return seg, created, nil
}
