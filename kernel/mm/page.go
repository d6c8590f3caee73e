// Package mm declares the basic types and global hooks shared by the
// physical and virtual memory managers.
package mm

import (
	"helios/kernel"
	"math"
)

// Frame describes a physical memory page index.
type Frame uintptr

// InvalidFrame is returned by failing frame allocations.
const InvalidFrame = Frame(math.MaxUint64)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns a pointer to the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f) << PageShift
}

// FrameFromAddress returns a Frame that corresponds to the physical frame
// containing addr. Addresses in the middle of a frame map to the frame's start.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame(physAddr >> PageShift)
}

// Page describes a virtual memory page index.
type Page uintptr

// Address returns a pointer to the virtual memory address pointed to by this Page.
func (p Page) Address() uintptr {
	return uintptr(p) << PageShift
}

// PageFromAddress returns a Page that corresponds to the page containing
// virtAddr. Addresses in the middle of a page map to the page's start.
func PageFromAddress(virtAddr uintptr) Page {
	return Page(virtAddr >> PageShift)
}

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (Frame, *kernel.Error)

// FrameReleaserFn is a function that releases a previously allocated frame.
type FrameReleaserFn func(Frame) *kernel.Error

var (
	frameAllocator FrameAllocatorFn
	frameReleaser  FrameReleaserFn

	errAllocatorNotSet = &kernel.Error{Module: "mm", Message: "no frame allocator registered"}
)

// SetFrameAllocator registers a frame allocator function that will be used by
// the kernel whenever a new physical frame is required.
func SetFrameAllocator(allocFn FrameAllocatorFn) {
	frameAllocator = allocFn
}

// AllocFrame allocates a new physical frame using the currently registered
// frame allocator.
func AllocFrame() (Frame, *kernel.Error) {
	if frameAllocator == nil {
		return InvalidFrame, errAllocatorNotSet
	}

	return frameAllocator()
}

// SetFrameReleaser registers the function used to return physical frames back
// to the system.
func SetFrameReleaser(releaseFn FrameReleaserFn) {
	frameReleaser = releaseFn
}

// ReleaseFrame returns frame back to the system, making it available for
// future allocations. Releasing a frame while no releaser is registered is
// a no-op.
func ReleaseFrame(f Frame) *kernel.Error {
	if frameReleaser == nil {
		return nil
	}

	return frameReleaser(f)
}
