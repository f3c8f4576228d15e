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
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	internalshm "github.com/srediag/zerobuffer/internal/shm"
)

// Report is the result of inspecting a buffer's control block.
type Report struct {
	Name        string
	Path        string
	SegmentSize int64
	Raw         [OIEBSize]byte
	OIEB        OIEB
	Problems    []Problem
}

// Valid reports whether no error-severity problem was found.
func (r *Report) Valid() bool {
	return !HasErrors(r.Problems)
}

// Inspect maps the named buffer read-only and validates its control block.
func Inspect(name string) (*Report, error) {
	ctx := context.Background()
	region, err := internalshm.MapRegion(ctx, internalshm.MapOptions{Name: name, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = internalshm.UnmapRegion(ctx, region)
	}()
	return newReport(region.Name, region.Path, region.Addr, int64(region.Size()))
}

// InspectFile validates the control block at the start of a file, such as a
// copy of a segment.
func InspectFile(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	head := make([]byte, OIEBSize)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return newReport(info.Name(), path, head[:n], info.Size())
}

func newReport(name, path string, mem []byte, size int64) (*Report, error) {
	if len(mem) < OIEBSize {
		return nil, fmt.Errorf("%s: %d bytes is too small for a %d-byte control block", path, len(mem), OIEBSize)
	}
	r := &Report{Name: name, Path: path, SegmentSize: size}
	copy(r.Raw[:], mem[:OIEBSize])
	if err := r.OIEB.UnmarshalBinary(r.Raw[:]); err != nil {
		return nil, err
	}
	r.Problems = r.OIEB.Validate()
	o := r.OIEB
	if o.MetadataSize <= maxPayloadSize && o.PayloadSize <= maxPayloadSize {
		if want := SegmentSize(o.MetadataSize, o.PayloadSize); uint64(size) < want && size > OIEBSize {
			r.Problems = append(r.Problems, Problem{
				Severity: SeverityError,
				Field:    "segment_size",
				Expected: fmt.Sprintf(">= %d", want),
				Actual:   fmt.Sprint(size),
			})
		}
	}
	return r, nil
}

// WriteTo prints the control block fields, the problems found, a verdict
// and a hex dump of the raw block.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	b := bufio.NewWriter(cw)
	o := r.OIEB
	p := func(format string, a ...interface{}) {
		_, _ = fmt.Fprintf(b, format+"\n", a...)
	}

	p("Buffer: %s", r.Name)
	p("Path: %s", r.Path)
	p("Shared memory size: %d bytes", r.SegmentSize)
	p("")
	p("=== OIEB Structure ===")
	p("OIEB size field: %d (should be %d)", o.OIEBSize, OIEBSize)
	p("Version: %s", o.Version)
	p("")
	p("=== Metadata ===")
	p("Metadata size: %d bytes", o.MetadataSize)
	p("Metadata free: %d bytes", o.MetadataFreeBytes)
	p("Metadata written: %d bytes", o.MetadataWrittenBytes)
	p("")
	p("=== Payload ===")
	p("Payload size: %d bytes", o.PayloadSize)
	p("Payload free: %d bytes", o.PayloadFreeBytes)
	p("Write position: %d", o.PayloadWritePos)
	p("Read position: %d", o.PayloadReadPos)
	p("Written count: %d", o.PayloadWrittenCount)
	p("Read count: %d", o.PayloadReadCount)
	p("Pending frames: %d", o.Pending())
	p("")
	p("=== Process Info ===")
	p("Writer PID: %d", o.WriterPID)
	p("Reader PID: %d", o.ReaderPID)
	p("")
	p("=== Validation ===")
	for _, pr := range r.Problems {
		p("%s", pr)
	}
	if r.Valid() {
		p("OK: OIEB structure appears valid")
	} else {
		p("INVALID: OIEB structure has validation errors")
	}
	p("")
	p("=== First %d bytes (hex) ===", OIEBSize)
	for i := 0; i < OIEBSize; i += 16 {
		_, _ = fmt.Fprintf(b, "  %03d:", i)
		for _, c := range r.Raw[i : i+16] {
			_, _ = fmt.Fprintf(b, " %02x", c)
		}
		_ = b.WriteByte('\n')
	}
	err := b.Flush()
	return cw.n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
