// Package api defines public API contracts for zerobuffer.
package api

import "github.com/srediag/zerobuffer/pkg/shm"

// Health reports whether the process on the other side of a buffer is attached and running.
type Health interface {
	PeerAlive() bool
}

// Inspector exposes a copy of a buffer's control block.
type Inspector interface {
	Name() string
	Snapshot() shm.OIEB
}

var (
	_ Health    = (*shm.Writer)(nil)
	_ Health    = (*shm.Reader)(nil)
	_ Inspector = (*shm.Writer)(nil)
	_ Inspector = (*shm.Reader)(nil)
)
