// Package api defines public API contracts for zerobuffer.
package api

import (
	"context"
	"time"

	"github.com/srediag/zerobuffer/pkg/shm"
)

// FrameWriter is the producer side of a buffer, as consumed by SDK layers.
type FrameWriter interface {
	Name() string
	WriteMetadata(data []byte) error
	WriteFrame(ctx context.Context, data []byte, timeout time.Duration) error
	Close() error
}

// FrameReader is the consumer side of a buffer. A frame returned by
// ReadFrame stays valid until it is released or ReadFrame is called again.
type FrameReader interface {
	Name() string
	ReadFrame(ctx context.Context, timeout time.Duration) (*shm.Frame, error)
	Metadata() ([]byte, bool, error)
	Close() error
}

var (
	_ FrameWriter = (*shm.Writer)(nil)
	_ FrameReader = (*shm.Reader)(nil)
)
