// Package heap implements the kernel's dynamic memory allocator: a free-list
// allocator over a growable virtual memory region. It backs every dynamic
// allocation the kernel performs after early boot.
package heap

import "helios/kernel/sync"

var (
	kernelHeap Allocator
	heapLock   sync.Spinlock
)

// Init carves the initial kernel heap out of the already-mapped region
// [startAddr, startAddr+size). Further growth happens on demand by mapping
// fresh frames above the region.
func Init(startAddr, size uintptr) {
	heapLock.Acquire()
	kernelHeap.Init(startAddr, size)
	heapLock.Release()
}

// Alloc returns the address of a block of at least size bytes aligned to
// align, or 0 when the system is out of memory. Callers must not re-enter
// the allocator from a failure path while the allocation lock is held.
func Alloc(size, align uintptr) uintptr {
	heapLock.Acquire()
	addr := kernelHeap.Alloc(size, align)
	heapLock.Release()

	return addr
}

// Free returns the block at addr to the heap. The size and align values must
// match the ones passed to the Alloc call that produced addr.
func Free(addr, size, align uintptr) {
	heapLock.Acquire()
	kernelHeap.Free(addr, size, align)
	heapLock.Release()
}
