package shm

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"
)

var bufferSeq int64

// testBufferName returns a buffer name unique to this test process.
func testBufferName() string {
	return fmt.Sprintf("zb-test-%d-%d", os.Getpid(), atomic.AddInt64(&bufferSeq, 1))
}

func testConfig(metadataSize, payloadSize uint64) *Config {
	cfg := DefaultConfig()
	cfg.MetadataSize = metadataSize
	cfg.PayloadSize = payloadSize
	cfg.LivenessInterval = 20 * time.Millisecond
	cfg.LogOutput = io.Discard
	return cfg
}

// testPair creates a buffer with a reader and attaches a writer to it.
func testPair(t *testing.T, cfg *Config) (*Writer, *Reader) {
	t.Helper()
	name := testBufferName()
	r, err := NewReader(name, cfg)
	if err != nil {
		t.Fatalf("NewReader(%s): %v", name, err)
	}
	w, err := OpenWriter(name, cfg)
	if err != nil {
		_ = r.Close()
		t.Fatalf("OpenWriter(%s): %v", name, err)
	}
	t.Cleanup(func() {
		_ = w.Close()
		_ = r.Close()
	})
	return w, r
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*7)
	}
	return b
}

// unsafeBytes views an 8-byte aligned backing array as bytes.
func unsafeBytes(words []uint64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*8)
}
