package shm

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// AtomicLoadUint64 loads a uint64 from shared memory atomically.
func AtomicLoadUint64(addr unsafe.Pointer) uint64 {
	return atomic.LoadUint64((*uint64)(addr))
}

// AtomicStoreUint64 stores a uint64 to shared memory atomically.
func AtomicStoreUint64(addr unsafe.Pointer, val uint64) {
	atomic.StoreUint64((*uint64)(addr), val)
}

// AtomicAddUint64 adds delta to a uint64 in shared memory and returns the new value.
// Subtract with ^uint64(n-1).
func AtomicAddUint64(addr unsafe.Pointer, delta uint64) uint64 {
	return atomic.AddUint64((*uint64)(addr), delta)
}

// AtomicCompareAndSwapUint64 atomically compares and swaps a uint64 in shared memory.
func AtomicCompareAndSwapUint64(addr unsafe.Pointer, old, new uint64) bool {
	return atomic.CompareAndSwapUint64((*uint64)(addr), old, new)
}

// AtomicLoadUint32 loads a uint32 from shared memory atomically.
func AtomicLoadUint32(addr unsafe.Pointer) uint32 {
	return atomic.LoadUint32((*uint32)(addr))
}

// AtomicStoreUint32 stores a uint32 to shared memory atomically.
func AtomicStoreUint32(addr unsafe.Pointer, val uint32) {
	atomic.StoreUint32((*uint32)(addr), val)
}

// AtomicCompareAndSwapUint32 atomically compares and swaps a uint32 in shared memory.
func AtomicCompareAndSwapUint32(addr unsafe.Pointer, old, new uint32) bool {
	return atomic.CompareAndSwapUint32((*uint32)(addr), old, new)
}

// Word64 returns a pointer to the 8-byte word at off in mem.
// It panics when the word is out of range or misaligned.
func Word64(mem []byte, off int) unsafe.Pointer {
	return word(mem, off, 8)
}

// Word32 returns a pointer to the 4-byte word at off in mem.
// It panics when the word is out of range or misaligned.
func Word32(mem []byte, off int) unsafe.Pointer {
	return word(mem, off, 4)
}

func word(mem []byte, off, size int) unsafe.Pointer {
	if off < 0 || off+size > len(mem) {
		panic(fmt.Sprintf("shm: word at %d out of range [0,%d)", off, len(mem)))
	}
	p := unsafe.Pointer(&mem[off])
	if uintptr(p)%uintptr(size) != 0 {
		panic(fmt.Sprintf("shm: word at %d is not %d-byte aligned", off, size))
	}
	return p
}
