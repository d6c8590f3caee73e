package heap

import (
	"unsafe"

	"helios/kernel"
	"helios/kernel/kfmt"
	"helios/kernel/mm"
	"helios/kernel/mm/vmm"
)

const (
	// PagesPerExtend is the number of pages mapped by each heap growth.
	PagesPerExtend = uintptr(128)

	// extendBytes is the size of one heap extension.
	extendBytes = PagesPerExtend << mm.PageShift

	nodeSize  = unsafe.Sizeof(node{})
	nodeAlign = unsafe.Alignof(node{})
)

var (
	errBadFreeBlock = &kernel.Error{Module: "heap", Message: "free block is misaligned or smaller than a free-list node"}

	// The following functions are used by tests to run the allocator
	// without a live page table hierarchy.
	allocFrameFn = mm.AllocFrame
	mapPageFn    = mapPage
)

func mapPage(page mm.Page, frame mm.Frame) *kernel.Error {
	return vmm.CurrentRootTable().MapWritable(page, frame)
}

// node describes one free memory block: its size and a link to the next free
// block. The node itself is materialized at the start of the block it
// describes, so every free block must be able to host a node.
type node struct {
	size uintptr
	next *node
}

// canHold reports whether this block can satisfy a request of size bytes at
// the given alignment and, if so, the address the allocation would start at.
// A block that technically fits the request is still rejected when the
// leftover tail would be too small to host a free-list node, since such a
// fragment could never be tracked or reused.
func (n *node) canHold(size, align uintptr) (uintptr, bool) {
	start := uintptr(unsafe.Pointer(n))
	end := start + n.size

	allocStart := alignUp(start, align)
	allocEnd := allocStart + size
	if allocEnd < allocStart || allocEnd > end {
		return 0, false
	}

	if excess := end - allocEnd; excess > 0 && excess < nodeSize {
		return 0, false
	}

	return allocStart, true
}

// Allocator implements a first-fit free-list allocator over a contiguous
// virtual memory region that can be grown on demand by mapping fresh frames
// above heapEnd. The zero value is not usable; call Init first.
type Allocator struct {
	// head is a sentinel node anchoring the free list. Free blocks are
	// kept in insertion order, not address order, and insertion is
	// always at the head.
	head node

	// heapEnd tracks the upper bound of the heap's virtual range.
	heapEnd uintptr
}

// Init seeds the allocator with a single free block spanning the supplied
// region. The region start is aligned up to the free-list node alignment and
// the size shrunk accordingly; heapEnd always bounds the seeded block.
func (a *Allocator) Init(startAddr, size uintptr) {
	adjustedStart := alignUp(startAddr, nodeAlign)
	size -= adjustedStart - startAddr

	a.head = node{}
	a.heapEnd = adjustedStart + size
	a.addFreeNode(adjustedStart, size)
}

// Alloc returns the address of a block of at least size bytes aligned to
// align. When no free block can satisfy the request the heap is grown and
// the search retried; if growth fails, Alloc returns 0.
func (a *Allocator) Alloc(size, align uintptr) uintptr {
	size, align = sizeAlign(size, align)

	for {
		if addr := a.takeFreeBlock(size, align); addr != 0 {
			return addr
		}

		if err := a.extendHeap(); err != nil {
			return 0
		}
	}
}

// Free returns the block at addr to the free list. The size and align values
// must match the ones passed to the Alloc call that produced addr. Free does
// not coalesce the block with physically adjacent free neighbours; only the
// heap growth path merges whole-extension blocks.
func (a *Allocator) Free(addr, size, align uintptr) {
	size, _ = sizeAlign(size, align)
	a.addFreeNode(addr, size)
}

// takeFreeBlock unlinks and returns the start address of the first free
// block that can hold the request, re-inserting any leftover space as new
// free blocks. It returns 0 if no block fits.
func (a *Allocator) takeFreeBlock(size, align uintptr) uintptr {
	for prev, cur := &a.head, a.head.next; cur != nil; prev, cur = cur, cur.next {
		allocStart, ok := cur.canHold(size, align)
		if !ok {
			continue
		}

		blockStart := uintptr(unsafe.Pointer(cur))
		blockSize := cur.size
		prev.next = cur.next

		// an over-aligned request can leave a gap at the front of the
		// block; gaps too small to host a node are dropped
		if gap := allocStart - blockStart; gap >= nodeSize {
			a.addFreeNode(blockStart, gap)
		}
		if excess := blockStart + blockSize - (allocStart + size); excess > 0 {
			a.addFreeNode(allocStart+size, excess)
		}

		return allocStart
	}

	return 0
}

// addFreeNode materializes a free-list node at addr spanning size bytes and
// inserts it at the head of the free list.
func (a *Allocator) addFreeNode(addr, size uintptr) {
	if addr&(nodeAlign-1) != 0 || size < nodeSize {
		kfmt.Panic(errBadFreeBlock)
	}

	n := (*node)(unsafe.Pointer(addr))
	n.size = size
	n.next = a.head.next
	a.head.next = n
}

// extendHeap grows the heap by PagesPerExtend pages mapped immediately above
// heapEnd and inserts the new region as one free block. If a frame cannot be
// supplied or mapped mid-extension the error is returned with no rollback of
// already mapped pages; heapEnd and the free list keep their previous values
// so a failed growth never corrupts allocator state.
func (a *Allocator) extendHeap() *kernel.Error {
	startPage := mm.PageFromAddress(alignUp(a.heapEnd, mm.PageSize))

	pages := mm.NewPageRange(startPage, startPage+mm.Page(PagesPerExtend)-1)
	for {
		page, ok := pages.Next()
		if !ok {
			break
		}

		frame, err := allocFrameFn()
		if err != nil {
			return err
		}
		if err = mapPageFn(page, frame); err != nil {
			return err
		}
	}

	a.addFreeNode(startPage.Address(), extendBytes)
	a.heapEnd = startPage.Address() + extendBytes

	// Fold neighbouring whole-extension blocks into a single node. The
	// merge deliberately recognizes only blocks whose size is an exact
	// multiple of one extension; arbitrary adjacent free blocks are left
	// fragmented.
	for {
		first := a.head.next
		if first == nil || first.next == nil {
			break
		}

		second := first.next
		if second.size%extendBytes != 0 {
			break
		}

		merged := first
		if uintptr(unsafe.Pointer(second)) < uintptr(unsafe.Pointer(first)) {
			merged = second
		}
		mergedSize := first.size + second.size
		rest := second.next

		merged.size = mergedSize
		merged.next = rest
		a.head.next = merged
	}

	return nil
}

// sizeAlign normalizes a requested (size, align) pair so that any block
// handed out can later host a free-list node: the alignment is raised to at
// least the node alignment and the size is rounded up to a multiple of the
// alignment and to at least one node.
func sizeAlign(size, align uintptr) (uintptr, uintptr) {
	if align < nodeAlign {
		align = nodeAlign
	}

	size = alignUp(size, align)
	if size < nodeSize {
		size = nodeSize
	}

	return size, align
}

// alignUp rounds value up to the next multiple of align, which must be a
// power of 2.
func alignUp(value, align uintptr) uintptr {
	return (value + align - 1) &^ (align - 1)
}
