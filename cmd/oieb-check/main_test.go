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

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/zerobuffer/pkg/shm"
)

func writeSegment(t *testing.T, o shm.OIEB) string {
	t.Helper()
	raw, err := o.MarshalBinary()
	require.NoError(t, err)
	seg := make([]byte, shm.SegmentSize(o.MetadataSize, o.PayloadSize))
	copy(seg, raw)
	path := filepath.Join(t.TempDir(), "segment")
	require.NoError(t, os.WriteFile(path, seg, 0o600))
	return path
}

func validOIEB() shm.OIEB {
	return shm.OIEB{
		OIEBSize:          shm.OIEBSize,
		Version:           shm.CurrentVersion,
		MetadataSize:      256,
		MetadataFreeBytes: 256,
		PayloadSize:       1024,
		PayloadFreeBytes:  1024,
	}
}

func TestRunValidFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"--file", writeSegment(t, validOIEB())}, &stdout, &stderr)

	assert.Equal(t, exitValid, code, stderr.String())
	assert.Contains(t, stdout.String(), "OK: OIEB structure appears valid")
	assert.Contains(t, stdout.String(), "Payload size: 1024 bytes")
	assert.Contains(t, stdout.String(), "  112:")
}

func TestRunInvalidSize(t *testing.T) {
	o := validOIEB()
	o.OIEBSize = 64
	var stdout, stderr bytes.Buffer
	code := run([]string{"-f", writeSegment(t, o)}, &stdout, &stderr)

	assert.Equal(t, exitInvalid, code)
	assert.Contains(t, stdout.String(), "ERROR: oieb_size: expected 128, got 64")
	assert.Contains(t, stdout.String(), "INVALID")
}

func TestRunLiveBuffer(t *testing.T) {
	cfg := shm.DefaultConfig()
	cfg.MetadataSize = 64
	cfg.PayloadSize = 1024
	name := fmt.Sprintf("zb-check-%d", os.Getpid())
	r, err := shm.NewReader(name, cfg)
	require.NoError(t, err)
	defer r.Close()

	var stdout, stderr bytes.Buffer
	code := run([]string{name}, &stdout, &stderr)
	assert.Equal(t, exitValid, code, stderr.String())
	assert.Contains(t, stdout.String(), fmt.Sprintf("Reader PID: %d", os.Getpid()))
}

func TestRunErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, exitIOError, run([]string{"zb-check-missing"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "error:")

	stderr.Reset()
	assert.Equal(t, exitIOError, run(nil, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Usage: oieb-check")

	assert.Equal(t, exitIOError, run([]string{"--file", "a", "b"}, &stdout, &stderr))
	assert.Equal(t, exitIOError, run([]string{"--bogus"}, &stdout, &stderr))
	assert.Equal(t, exitValid, run([]string{"--help"}, &stdout, &stderr))
}
