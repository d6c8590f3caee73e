package vmm

const (
	// pageLevels indicates the number of page table levels supported by the
	// amd64 architecture.
	pageLevels = 4

	// pageTableEntries is the number of entries in each page table. Each
	// page level consumes 9 virtual address bits which amounts to 512
	// entries per table.
	pageTableEntries = 512

	// higherHalfIdx is the index of the first root table entry belonging
	// to the higher half of the virtual address space. Entries at and
	// above this index are shared between all address spaces and map the
	// kernel.
	higherHalfIdx = 256

	// ptePhysPageMask is a mask that allows us to extract the physical memory
	// address pointed to by a page table entry. For this particular architecture,
	// bits 12-51 contain the physical memory address.
	ptePhysPageMask = uintptr(0x000ffffffffff000)
)

// pageLevelShifts defines the shift required to extract each page table index
// from a virtual address. Index 0 corresponds to the root table.
var pageLevelShifts = [pageLevels]uint8{
	39,
	30,
	21,
	12,
}

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set when an intermediate entry maps a large page
	// directly instead of pointing at a next-level table.
	FlagHugePage

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when swapping page tables by updating the CR3 register.
	FlagGlobal

	// FlagNoExecute if set, indicates that a page contains non-executable code.
	FlagNoExecute = PageTableEntryFlag(1) << 63
)
