//go:build !unix

package arena

import (
	"sync"
	"unsafe"

	"github.com/dolthub/swiss"
)

// On platforms without mmap the regions come from the Go heap instead. The
// registry pins every live region so that interior pointers hidden inside
// other regions cannot be collected out from under their referents.
var (
	registryMutex sync.Mutex
	registry      = swiss.NewMap[uintptr, []byte](64)
)

// Alloc returns a zeroed region of size bytes, pinned until Free is called.
func Alloc(size int) (unsafe.Pointer, error) {
	checkSize(size)

	region := make([]byte, size)
	ptr := unsafe.Pointer(&region[0])

	registryMutex.Lock()
	registry.Put(uintptr(ptr), region)
	registryMutex.Unlock()

	return ptr, nil
}

// Free unpins a region previously returned by Alloc. size must be the size the
// region was allocated with.
func Free(ptr unsafe.Pointer, size int) {
	checkSize(size)

	registryMutex.Lock()
	registry.Delete(uintptr(ptr))
	registryMutex.Unlock()
}
