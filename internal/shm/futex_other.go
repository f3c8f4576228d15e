//go:build !linux

package shm

import (
	"sync/atomic"
	"time"
)

const futexPollInterval = time.Millisecond

// futexWait polls until *addr != val or timeout elapses.
func futexWait(addr *uint32, val uint32, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for atomic.LoadUint32(addr) == val {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return ErrFutexTimeout
		}
		time.Sleep(futexPollInterval)
	}
	return nil
}

func futexWake(addr *uint32, n int) (int, error) {
	return 0, nil
}
