// Package vmm implements the virtual memory manager: the page table entry
// model, the 4-level translation hierarchy and the operations for building,
// inspecting and tearing down address spaces.
//
// All page tables are accessed through the physical memory window, a region
// of the kernel's virtual address space that maps the whole of physical
// memory at a fixed offset. The boot loader establishes the window before the
// kernel runs and SetPhysOffset records its location.
package vmm

import (
	"unsafe"

	"helios/kernel"
	"helios/kernel/cpu"
	"helios/kernel/mm"
)

var (
	// ErrInvalidMapping is returned when a translation is requested for a
	// virtual address that is not mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address not mapped"}

	// ErrFrameAllocationFailed is returned when the frame supply cannot
	// produce a frame for a new page table or address space root.
	ErrFrameAllocationFailed = &kernel.Error{Module: "vmm", Message: "frame allocation failed"}

	// physOffset is the offset of the physical memory window. Every
	// physical address physAddr is also mapped at physAddr + physOffset.
	physOffset uintptr

	// The following functions wrap privileged instructions or depend on
	// the physical memory window being live; tests override them to run
	// in user-mode.
	activePDTFn      = cpu.ActivePDT
	switchPDTFn      = cpu.SwitchPDT
	flushTLBEntryFn  = cpu.FlushTLBEntry
	tableFromFrameFn = tableFromFrame
	frameFromTableFn = frameFromTable
)

// SetPhysOffset records the location of the physical memory window. It must
// be called once during early boot before any page table is accessed.
func SetPhysOffset(offset uintptr) {
	physOffset = offset
}

// PhysToVirt returns the virtual address inside the physical memory window
// that aliases physAddr.
func PhysToVirt(physAddr uintptr) uintptr {
	return physAddr + physOffset
}

// tableFromFrame reinterprets the contents of a physical frame as a page
// table, accessed through the physical memory window.
func tableFromFrame(frame mm.Frame) *PageTable {
	return (*PageTable)(unsafe.Pointer(PhysToVirt(frame.Address())))
}

// frameFromTable returns the physical frame backing a page table that was
// obtained through the physical memory window.
func frameFromTable(pt *PageTable) mm.Frame {
	return mm.FrameFromAddress(uintptr(unsafe.Pointer(pt)) - physOffset)
}

// CurrentRootTable returns a mutable view of the currently active root page
// table. The returned table aliases live hardware state; the caller must
// ensure no two code paths mutate it concurrently.
func CurrentRootTable() *PageTable {
	return tableFromFrameFn(mm.FrameFromAddress(activePDTFn()))
}

// Translate returns the physical address that virtAddr maps to in the
// currently active address space.
func Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	return CurrentRootTable().Translate(virtAddr)
}

// AllocatePML4 builds the root table for a new address space: it allocates a
// frame, zeroizes it and copies the kernel's higher-half entries from the
// active root so the new space shares the kernel mappings.
func AllocatePML4() (mm.Frame, *kernel.Error) {
	frame, err := mm.AllocFrame()
	if err != nil {
		return mm.InvalidFrame, ErrFrameAllocationFailed
	}

	pt := tableFromFrameFn(frame)
	pt.Zeroize()
	pt.CopyHigherHalf()

	return frame, nil
}

// FreePML4 tears down the address space rooted at pml4Frame. Every frame
// reachable through the private lower half of the hierarchy is released,
// data frames and intermediate tables alike, followed by the root frame
// itself. The shared higher-half entries are skipped; the kernel mappings
// they alias belong to all address spaces. The caller must not free the
// currently active address space.
func FreePML4(pml4Frame mm.Frame) {
	pt := tableFromFrameFn(pml4Frame)
	for i := 0; i < higherHalfIdx; i++ {
		pte := pt.entries[i]
		if !pte.HasFlags(FlagPresent) {
			continue
		}

		if pte.HasAnyFlag(FlagHugePage) {
			mm.ReleaseFrame(pte.Frame())
			continue
		}

		tableFromFrameFn(pte.Frame()).free(pageLevels - 1)
	}

	mm.ReleaseFrame(pml4Frame)
}

// ActivatePML4 switches the MMU to the address space rooted at pml4Frame.
// The switch implicitly flushes all non-global TLB entries.
func ActivatePML4(pml4Frame mm.Frame) {
	switchPDTFn(pml4Frame.Address())
}

// FlushTLBEntry invalidates the cached translation for a single virtual
// address. It must be called after any change to an active mapping.
func FlushTLBEntry(virtAddr uintptr) {
	flushTLBEntryFn(virtAddr)
}
