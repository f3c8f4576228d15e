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

// Package health contains internal helpers for peer liveness checks.
package health

import (
	"context"
	"math"
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// LivenessFunc reports whether the process with the given PID is running.
type LivenessFunc func(pid uint64) bool

// ProcessAlive reports whether pid names a running process. PID 0 is never
// alive. Zombies count as dead and a process we may not signal counts as alive.
func ProcessAlive(pid uint64) bool {
	return ProcessAliveContext(context.Background(), pid)
}

// ProcessAliveContext is ProcessAlive with a context for the /proc lookups.
func ProcessAliveContext(ctx context.Context, pid uint64) bool {
	if pid == 0 || pid > math.MaxInt32 {
		return false
	}
	if pid == uint64(os.Getpid()) {
		return true
	}
	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil || !exists {
		return false
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		// it exists but cannot be inspected
		return true
	}
	status, err := p.StatusWithContext(ctx)
	if err != nil {
		return true
	}
	for _, s := range status {
		if s == process.Zombie {
			return false
		}
	}
	return true
}

// CurrentPID returns the PID of the calling process as stored in shared memory.
func CurrentPID() uint64 {
	return uint64(os.Getpid())
}
