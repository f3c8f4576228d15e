//go:build !linux

package shm

import "context"

// MapRegion maps or creates a shared memory region. Not supported on this platform.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	return nil, ErrUnsupported
}

// UnmapRegion unmaps the shared memory region. Not supported on this platform.
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	return ErrUnsupported
}

// Unlink removes the shm object name. Not supported on this platform.
func Unlink(name string) error {
	return ErrUnsupported
}

// Exists reports whether the shm object name is present.
func Exists(name string) bool {
	return false
}

// CanCreate reports whether an object of size bytes can be created.
func CanCreate(size uint64, shmPath string) bool {
	return false
}
