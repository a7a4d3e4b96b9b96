//go:build unix

package arena

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Alloc maps a zeroed, anonymous, private region of size bytes. The region is
// not managed by the Go heap. Free it with Free and the same size.
func Alloc(size int) (unsafe.Pointer, error) {
	checkSize(size)

	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map an anonymous region of %d bytes", size)
	}

	return unsafe.Pointer(&region[0]), nil
}

// Free unmaps a region previously returned by Alloc. size must be the size the
// region was allocated with.
func Free(ptr unsafe.Pointer, size int) {
	checkSize(size)

	err := unix.Munmap(unsafe.Slice((*byte)(ptr), size))
	if err != nil {
		panic(errors.Wrapf(err, "failed to unmap a region of %d bytes", size))
	}
}
