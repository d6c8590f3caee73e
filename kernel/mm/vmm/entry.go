package vmm

import (
	"helios/kernel"
	"helios/kernel/mm"
)

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uintptr

// pageTableEntry describes a page table entry. These entries encode
// a physical frame address and a set of flags. The physical address can
// only be extracted if the FlagPresent flag is set.
type pageTableEntry uintptr

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) == uintptr(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = pageTableEntry(uintptr(*pte) | uintptr(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = pageTableEntry(uintptr(*pte) &^ uintptr(flags))
}

// Frame returns the physical page frame that this page table entry points to.
// The returned value is only meaningful while FlagPresent is set.
func (pte pageTableEntry) Frame() mm.Frame {
	return mm.FrameFromAddress(uintptr(pte) & ptePhysPageMask)
}

// SetFrame updates the page table entry to point to the given frame.
func (pte *pageTableEntry) SetFrame(frame mm.Frame) {
	*pte = pageTableEntry((uintptr(*pte) &^ ptePhysPageMask) | frame.Address())
}

// nextTable returns the page table that this entry points to, allocating and
// zeroing a fresh table frame if the entry is not present. In both cases the
// requested flags are merged into the entry so that a later mapping with
// broader permissions is never masked by a stale intermediate entry. Callers
// that need different permissions on intermediate and leaf entries are not
// supported.
func (pte *pageTableEntry) nextTable(flags PageTableEntryFlag) (*PageTable, *kernel.Error) {
	if pte.HasFlags(FlagPresent) {
		pte.SetFlags(flags)
		return tableFromFrameFn(pte.Frame()), nil
	}

	frame, err := mm.AllocFrame()
	if err != nil {
		return nil, ErrFrameAllocationFailed
	}

	table := tableFromFrameFn(frame)
	table.Zeroize()

	*pte = 0
	pte.SetFrame(frame)
	pte.SetFlags(FlagPresent | flags)

	return table, nil
}
