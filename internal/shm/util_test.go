package shm

import "unsafe"

// unsafeBytes views an 8-byte aligned backing array as bytes.
func unsafeBytes(words []uint64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*8)
}
