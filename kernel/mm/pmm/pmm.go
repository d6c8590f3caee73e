// Package pmm implements the physical memory manager: a bitmap-based frame
// allocator that tracks reservations across the usable memory regions
// reported by the boot loader.
package pmm

import (
	"math"
	"reflect"
	"unsafe"

	"helios/kernel"
	"helios/kernel/kfmt"
	"helios/kernel/mm"
	"helios/kernel/mm/vmm"
	"helios/kernel/sync"
)

// maxMemoryRegions caps the number of usable regions the allocator can
// manage. The pool table is statically sized so the allocator never needs to
// allocate memory for its own bookkeeping.
const maxMemoryRegions = 16

var (
	errOutOfMemory     = &kernel.Error{Module: "pmm", Message: "out of memory"}
	errDoubleRelease   = &kernel.Error{Module: "pmm", Message: "frame is not allocated"}
	errFrameNotManaged = &kernel.Error{Module: "pmm", Message: "frame not managed by any pool"}
	errMetadataSpace   = &kernel.Error{Module: "pmm", Message: "no region can hold the allocator metadata"}

	// FrameAllocator is the BitmapAllocator instance that serves all
	// physical frame reservations while the kernel runs.
	FrameAllocator BitmapAllocator
)

// MemoryRegion describes a usable physical memory region reported by the
// boot loader. Region boundaries are not required to be page-aligned.
type MemoryRegion struct {
	Start  uintptr
	Length uintptr
}

type framePool struct {
	// startFrame is the frame number for the first page in this pool.
	// Free bitmap bit i corresponds to frame (startFrame + i).
	startFrame mm.Frame

	// endFrame tracks the last frame in the pool (inclusive).
	endFrame mm.Frame

	// freeCount tracks the available pages in this pool. The allocator
	// uses this field to skip fully allocated pools without scanning
	// their bitmaps.
	freeCount uint32

	// freeBitmap tracks used/free pages in the pool. A set bit marks a
	// reserved frame.
	freeBitmap []uint64
}

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations across the available memory pools using bitmaps. The bitmaps
// themselves live in physical frames carved out of the managed regions and
// are accessed through the physical memory window.
type BitmapAllocator struct {
	mutex sync.Spinlock

	// totalPages tracks the total number of pages across all pools.
	totalPages uint32

	// reservedPages tracks the number of reserved pages across all pools.
	reservedPages uint32

	pools     [maxMemoryRegions]framePool
	poolCount int
}

// init builds the pool table for the supplied regions, carves out frames for
// the pool bitmaps and marks the kernel image and the bitmap frames as
// reserved.
func (alloc *BitmapAllocator) init(regions []MemoryRegion, kernelStart, kernelEnd uintptr) *kernel.Error {
	totalWords := alloc.setupPools(regions)
	if alloc.poolCount == 0 {
		return errMetadataSpace
	}

	bitmapFrames := mm.Frame((uintptr(totalWords)<<3 + (mm.PageSize - 1)) >> mm.PageShift)
	metaStart, err := alloc.findMetadataFrames(bitmapFrames, kernelStart, kernelEnd)
	if err != nil {
		return err
	}

	// Overlay a word slice on top of the metadata frames via the physical
	// memory window and hand each pool its chunk.
	kernel.Memset(vmm.PhysToVirt(metaStart.Address()), 0, uintptr(bitmapFrames)<<mm.PageShift)
	allWords := *(*[]uint64)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  totalWords,
		Cap:  totalWords,
		Data: vmm.PhysToVirt(metaStart.Address()),
	}))

	wordOffset := 0
	for i := 0; i < alloc.poolCount; i++ {
		pool := &alloc.pools[i]
		pageCount := uint32(pool.endFrame-pool.startFrame) + 1
		words := int((pageCount + 63) >> 6)

		pool.freeBitmap = allWords[wordOffset : wordOffset+words]
		wordOffset += words

		// frames past the end of the pool have no backing memory; mark
		// the trailing bits of the last word so the allocator never
		// hands them out
		for bit := pageCount; bit < uint32(words)<<6; bit++ {
			pool.freeBitmap[bit>>6] |= 1 << (bit & 63)
		}
	}

	// The kernel image and the allocator metadata are off-limits.
	for frame := mm.FrameFromAddress(kernelStart); frame.Address() < kernelEnd; frame++ {
		alloc.markReserved(frame)
	}
	for frame := metaStart; frame < metaStart+bitmapFrames; frame++ {
		alloc.markReserved(frame)
	}

	return nil
}

// setupPools fills in the pool table from the region list and returns the
// total number of bitmap words required to track every pool.
func (alloc *BitmapAllocator) setupPools(regions []MemoryRegion) int {
	var totalWords int

	for _, region := range regions {
		if alloc.poolCount == maxMemoryRegions {
			break
		}

		// Region boundaries may not be page-aligned; round up to get
		// the start frame and round down to get the end frame.
		startFrame := mm.FrameFromAddress(region.Start + mm.PageSize - 1)
		endFrame := mm.Frame((region.Start+region.Length)>>mm.PageShift) - 1
		if endFrame < startFrame || region.Length < mm.PageSize {
			continue
		}

		pageCount := uint32(endFrame-startFrame) + 1
		pool := &alloc.pools[alloc.poolCount]
		pool.startFrame = startFrame
		pool.endFrame = endFrame
		pool.freeCount = pageCount

		alloc.poolCount++
		alloc.totalPages += pageCount
		totalWords += int((pageCount + 63) >> 6)
	}

	return totalWords
}

// findMetadataFrames locates a run of frameCount consecutive frames for the
// pool bitmaps, skipping past the kernel image if a candidate pool overlaps
// it.
func (alloc *BitmapAllocator) findMetadataFrames(frameCount mm.Frame, kernelStart, kernelEnd uintptr) (mm.Frame, *kernel.Error) {
	kernelStartFrame := mm.FrameFromAddress(kernelStart)
	kernelEndFrame := mm.FrameFromAddress(kernelEnd + mm.PageSize - 1)

	for i := 0; i < alloc.poolCount; i++ {
		pool := &alloc.pools[i]

		start := pool.startFrame
		if start < kernelEndFrame && kernelStartFrame <= pool.endFrame {
			start = kernelEndFrame
		}

		if start+frameCount-1 <= pool.endFrame {
			return start, nil
		}
	}

	return mm.InvalidFrame, errMetadataSpace
}

// markReserved flags the given frame as reserved in the pool that contains
// it. Frames outside every pool (e.g. parts of the kernel image loaded in
// unmanaged memory) are ignored.
func (alloc *BitmapAllocator) markReserved(frame mm.Frame) {
	poolIndex := alloc.poolForFrame(frame)
	if poolIndex < 0 {
		return
	}

	pool := &alloc.pools[poolIndex]
	bit := uint32(frame - pool.startFrame)
	mask := uint64(1) << (bit & 63)
	if pool.freeBitmap[bit>>6]&mask != 0 {
		return
	}

	pool.freeBitmap[bit>>6] |= mask
	pool.freeCount--
	alloc.reservedPages++
}

// poolForFrame returns the index of the pool that contains frame or -1 if
// the frame is not managed by this allocator.
func (alloc *BitmapAllocator) poolForFrame(frame mm.Frame) int {
	for i := 0; i < alloc.poolCount; i++ {
		if frame >= alloc.pools[i].startFrame && frame <= alloc.pools[i].endFrame {
			return i
		}
	}

	return -1
}

// AllocFrame reserves and returns the first free frame, scanning the pools
// in ascending physical address order.
func (alloc *BitmapAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	alloc.mutex.Acquire()
	defer alloc.mutex.Release()

	for i := 0; i < alloc.poolCount; i++ {
		pool := &alloc.pools[i]
		if pool.freeCount == 0 {
			continue
		}

		for wordIndex, word := range pool.freeBitmap {
			if word == math.MaxUint64 {
				continue
			}

			for bit := 0; bit < 64; bit++ {
				mask := uint64(1) << bit
				if word&mask != 0 {
					continue
				}

				pool.freeBitmap[wordIndex] |= mask
				pool.freeCount--
				alloc.reservedPages++
				return pool.startFrame + mm.Frame(wordIndex<<6+bit), nil
			}
		}
	}

	return mm.InvalidFrame, errOutOfMemory
}

// ReleaseFrame returns a previously allocated frame to its pool. Releasing a
// frame that is already free or that belongs to no pool is an error.
func (alloc *BitmapAllocator) ReleaseFrame(frame mm.Frame) *kernel.Error {
	alloc.mutex.Acquire()
	defer alloc.mutex.Release()

	poolIndex := alloc.poolForFrame(frame)
	if poolIndex < 0 {
		return errFrameNotManaged
	}

	pool := &alloc.pools[poolIndex]
	bit := uint32(frame - pool.startFrame)
	mask := uint64(1) << (bit & 63)
	if pool.freeBitmap[bit>>6]&mask == 0 {
		return errDoubleRelease
	}

	pool.freeBitmap[bit>>6] &^= mask
	pool.freeCount++
	alloc.reservedPages--

	return nil
}

// printMemoryMap logs the pool layout and the amount of usable memory.
func (alloc *BitmapAllocator) printMemoryMap() {
	kfmt.Printf("[pmm] physical memory map:\n")
	for i := 0; i < alloc.poolCount; i++ {
		pool := &alloc.pools[i]
		kfmt.Printf("[pmm]   0x%16x - 0x%16x, %d pages (%d free)\n",
			pool.startFrame.Address(),
			pool.endFrame.Address()+mm.PageSize-1,
			uint32(pool.endFrame-pool.startFrame)+1,
			pool.freeCount,
		)
	}
	kfmt.Printf("[pmm] free memory: %dKb, reserved: %dKb\n",
		uint64(alloc.totalPages-alloc.reservedPages)<<(mm.PageShift-10),
		uint64(alloc.reservedPages)<<(mm.PageShift-10),
	)
}

// Init sets up the kernel physical memory allocation sub-system from the
// boot loader's region list and registers it as the system frame supplier.
func Init(regions []MemoryRegion, kernelStart, kernelEnd uintptr) *kernel.Error {
	if err := FrameAllocator.init(regions, kernelStart, kernelEnd); err != nil {
		return err
	}
	FrameAllocator.printMemoryMap()

	mm.SetFrameAllocator(allocFrame)
	mm.SetFrameReleaser(releaseFrame)
	return nil
}

func allocFrame() (mm.Frame, *kernel.Error) {
	return FrameAllocator.AllocFrame()
}

func releaseFrame(frame mm.Frame) *kernel.Error {
	return FrameAllocator.ReleaseFrame(frame)
}
