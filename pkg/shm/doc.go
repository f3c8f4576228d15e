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

// Package shm provides a single-writer single-reader frame ring in POSIX shared memory.
//
// A buffer is one shm segment laid out as a 128-byte control block (OIEB), a
// write-once metadata block and a payload ring of length-prefixed frames. Two
// futex-backed semaphores in their own shm objects let the reader block until
// data is available and the writer block until space is freed. Each side
// records its PID in the control block and the peer checks it while blocked,
// so a crashed process surfaces as a PeerDeadError instead of a hang.
//
// The package is instrumented with OpenTelemetry metrics and tracing (OTel Go SDK v1.30.0).
//
// Example usage:
//
//	cfg := shm.DefaultConfig()
//	cfg.PayloadSize = 1 << 20
//	r, err := shm.NewReader("camera0", cfg)
//	// ...
//	w, err := shm.OpenWriter("camera0", cfg)
//	err = w.WriteMetadata([]byte(`{"width":640}`))
//	err = w.WriteFrame(ctx, frame, time.Second)
//	// ...
//	f, err := r.ReadFrame(ctx, time.Second)
//	process(f.Data())
//	f.Release()
//
// Platform-specific helpers are in internal/shm.
package shm
