// Package multiboot parses the boot information record that a multiboot2
// compliant boot loader leaves in memory before jumping into the kernel. The
// package performs no memory allocations; it is usable before the kernel
// heap exists.
package multiboot

import (
	"unsafe"

	"helios/kernel/mm/pmm"
)

// infoAddr points at the boot information record. It is set once by the boot
// glue via SetInfoPtr.
var infoAddr uintptr

type tagKind uint32

// nolint
const (
	tagEnd tagKind = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
	tagVbeInfo
	tagFramebufferInfo
	tagElfSymbols
	tagApmTable
)

// tagHeader precedes each tag in the record. Size includes the header but
// not the padding that aligns the next tag to an 8-byte boundary.
type tagHeader struct {
	kind tagKind
	size uint32
}

// mmapHeader precedes the memory map entries.
type mmapHeader struct {
	entrySize    uint32
	entryVersion uint32
}

// RegionKind describes how a memory region may be used.
type RegionKind uint32

const (
	// RegionAvailable indicates that the memory region is available for use.
	RegionAvailable RegionKind = iota + 1

	// RegionReserved indicates that the memory region must not be used.
	RegionReserved

	// RegionAcpiReclaimable indicates a region holding ACPI tables that
	// the kernel may reuse once it has consumed them.
	RegionAcpiReclaimable

	// RegionNvs indicates memory that must be preserved when hibernating.
	RegionNvs

	// Kinds at or above regionUnknown are mapped to RegionReserved.
	regionUnknown
)

// MemoryMapEntry describes one memory region reported by the boot loader.
// The layout mirrors the on-disk format of a memory map entry.
type MemoryMapEntry struct {
	PhysAddress uint64
	Length      uint64
	Kind        RegionKind
}

// SetInfoPtr records the address of the boot information record. It must be
// invoked before any other function in this package.
func SetInfoPtr(addr uintptr) {
	infoAddr = addr
}

// VisitMemRegions invokes visit for each entry of the boot loader's memory
// map. The visitor returns false to stop the scan early. Entries with a kind
// this kernel does not know about are reported as reserved.
func VisitMemRegions(visit func(*MemoryMapEntry) bool) {
	payload, size := findTag(tagMemoryMap)
	if size == 0 {
		return
	}

	hdr := (*mmapHeader)(unsafe.Pointer(payload))
	end := payload + uintptr(size)

	for cur := payload + uintptr(unsafe.Sizeof(mmapHeader{})); cur < end; cur += uintptr(hdr.entrySize) {
		entry := (*MemoryMapEntry)(unsafe.Pointer(cur))
		if entry.Kind == 0 || entry.Kind >= regionUnknown {
			entry.Kind = RegionReserved
		}

		if !visit(entry) {
			return
		}
	}
}

// bootRegions backs the slice returned by UsableMemRegions so the scan can
// run before the kernel heap exists. Its capacity matches the pool limit of
// the frame allocator.
var bootRegions [16]pmm.MemoryRegion

// UsableMemRegions collects the available-memory entries of the memory map
// in a form the frame allocator accepts. The returned slice stays valid
// until the next call.
func UsableMemRegions() []pmm.MemoryRegion {
	count := 0
	VisitMemRegions(func(entry *MemoryMapEntry) bool {
		if entry.Kind != RegionAvailable {
			return true
		}

		bootRegions[count] = pmm.MemoryRegion{
			Start:  uintptr(entry.PhysAddress),
			Length: uintptr(entry.Length),
		}
		count++
		return count < len(bootRegions)
	})

	return bootRegions[:count]
}

// elfSectionsHeader describes the payload of the ELF symbols tag.
type elfSectionsHeader struct {
	numSections        uint16
	sectionSize        uint32
	strtabSectionIndex uint32

	// sectionData marks the start of the section headers that follow.
	sectionData [0]byte
}

// elfSection64 mirrors a 64-bit ELF section header.
type elfSection64 struct {
	nameIndex   uint32
	sectionType uint32
	flags       uint64
	address     uint64
	offset      uint64
	size        uint64
	link        uint32
	info        uint32
	addrAlign   uint64
	entSize     uint64
}

// elfSectionAllocated flags a section that occupies memory when the image is
// loaded.
const elfSectionAllocated = 0x2

// KernelImageBounds returns the address range covered by the kernel's loaded
// ELF sections, computed from the section list the boot loader captured. It
// returns (0, 0) when the record carries no section information.
func KernelImageBounds() (uintptr, uintptr) {
	payload, size := findTag(tagElfSymbols)
	if size == 0 {
		return 0, 0
	}

	var (
		hdr   = (*elfSectionsHeader)(unsafe.Pointer(payload))
		cur   = uintptr(unsafe.Pointer(&hdr.sectionData))
		start = ^uintptr(0)
		end   uintptr
	)

	for i := uint16(0); i < hdr.numSections; i, cur = i+1, cur+unsafe.Sizeof(elfSection64{}) {
		sec := (*elfSection64)(unsafe.Pointer(cur))
		if sec.size == 0 || sec.flags&elfSectionAllocated == 0 {
			continue
		}

		if addr := uintptr(sec.address); addr < start {
			start = addr
		}
		if secEnd := uintptr(sec.address + sec.size); secEnd > end {
			end = secEnd
		}
	}

	if end == 0 {
		return 0, 0
	}

	return start, end
}

// findTag scans the tag list for the first tag of the given kind and returns
// the address and size of its payload, or (0, 0) if the record does not
// contain such a tag.
func findTag(kind tagKind) (uintptr, uint32) {
	// the record starts with a fixed header (total size plus a reserved
	// word) followed by the tag list
	cur := infoAddr + 8
	for {
		hdr := (*tagHeader)(unsafe.Pointer(cur))
		switch hdr.kind {
		case tagEnd:
			return 0, 0
		case kind:
			return cur + 8, hdr.size - 8
		}

		cur += uintptr((hdr.size + 7) &^ 7)
	}
}
