package vmm

import (
	"helios/kernel"
	"helios/kernel/mm"
)

// PageTable describes one level of the 4-level translation hierarchy. The
// struct layout matches the hardware format so a *PageTable obtained through
// the physical memory window aliases the table the MMU actually walks.
type PageTable struct {
	entries [pageTableEntries]pageTableEntry
}

// pteIndex extracts the page table index for the given level out of a virtual
// address. Level 0 selects the root table entry.
func pteIndex(virtAddr uintptr, level int) uint {
	return uint((virtAddr >> pageLevelShifts[level]) & (pageTableEntries - 1))
}

// PageOffset returns the offset of virtAddr within its page.
func PageOffset(virtAddr uintptr) uintptr {
	return virtAddr & (mm.PageSize - 1)
}

// Zeroize clears every entry in the table.
func (pt *PageTable) Zeroize() {
	for i := range pt.entries {
		pt.entries[i] = 0
	}
}

// CopyHigherHalf copies the higher-half entries of the currently active root
// table into pt. After the copy, the address space rooted at pt shares the
// kernel mappings with every other address space; the teardown code relies on
// this sharing and never descends into the higher half.
func (pt *PageTable) CopyHigherHalf() {
	active := CurrentRootTable()
	for i := higherHalfIdx; i < pageTableEntries; i++ {
		pt.entries[i] = active.entries[i]
	}
}

// Map establishes a mapping from page to frame in the hierarchy rooted at pt,
// allocating any missing intermediate tables on the way down. An existing
// mapping for page is silently overwritten without releasing the frame it
// pointed to; the caller owns that frame. Map returns
// ErrFrameAllocationFailed when an intermediate table cannot be allocated, in
// which case tables created by earlier levels of the same call are left in
// place.
func (pt *PageTable) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	var err *kernel.Error

	table := pt
	virtAddr := page.Address()
	for level := 0; level < pageLevels-1; level++ {
		if table, err = table.entries[pteIndex(virtAddr, level)].nextTable(flags); err != nil {
			return err
		}
	}

	pte := &table.entries[pteIndex(virtAddr, pageLevels-1)]
	*pte = 0
	pte.SetFrame(frame)
	pte.SetFlags(flags)

	flushTLBEntryFn(virtAddr)

	return nil
}

// MapWritable maps page to frame with a kernel read/write mapping.
func (pt *PageTable) MapWritable(page mm.Page, frame mm.Frame) *kernel.Error {
	return pt.Map(page, frame, FlagPresent|FlagRW)
}

// Translate returns the physical address that virtAddr maps to in the
// hierarchy rooted at pt, or ErrInvalidMapping if any table on the walk is
// missing.
func (pt *PageTable) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	table := pt
	for level := 0; level < pageLevels-1; level++ {
		pte := table.entries[pteIndex(virtAddr, level)]
		if !pte.HasFlags(FlagPresent) {
			return 0, ErrInvalidMapping
		}

		table = tableFromFrameFn(pte.Frame())
	}

	pte := table.entries[pteIndex(virtAddr, pageLevels-1)]
	if !pte.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}

	return pte.Frame().Address() + PageOffset(virtAddr), nil
}

// free releases every frame reachable from pt and finally the frame backing
// pt itself. The depth argument counts down the remaining levels; at depth 1
// the entries point at data frames which are released directly. Entries
// carrying FlagHugePage terminate the recursion early since they map a frame
// rather than a table.
func (pt *PageTable) free(depth int) {
	for i := 0; i < pageTableEntries; i++ {
		pte := pt.entries[i]
		if !pte.HasFlags(FlagPresent) {
			continue
		}

		if depth == 1 || pte.HasAnyFlag(FlagHugePage) {
			mm.ReleaseFrame(pte.Frame())
			continue
		}

		tableFromFrameFn(pte.Frame()).free(depth - 1)
	}

	mm.ReleaseFrame(frameFromTableFn(pt))
}
