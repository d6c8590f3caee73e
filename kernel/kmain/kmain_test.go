package kmain

import (
	"bytes"
	"encoding/binary"
	"runtime"
	"strings"
	"testing"
	"unsafe"

	"helios/kernel/heap"
	"helios/kernel/mm"
	"helios/kernel/mm/pmm"
	"helios/kernel/mm/vmm"
)

func TestKmainBringsUpMemoryManagement(t *testing.T) {
	defer func() {
		vmm.SetPhysOffset(0)
		pmm.FrameAllocator = pmm.BitmapAllocator{}
		mm.SetFrameAllocator(nil)
		mm.SetFrameReleaser(nil)
	}()

	// simulate 1MB of physical memory at 0x100000 with a Go buffer
	const physBase = uintptr(0x100000)
	arena := make([]byte, 1<<20)
	defer runtime.KeepAlive(arena)
	arenaBase := uintptr(unsafe.Pointer(&arena[0]))

	var console bytes.Buffer
	info := &BootInfo{
		PhysOffset:  arenaBase - physBase,
		MemRegions:  []pmm.MemoryRegion{{Start: physBase, Length: 1 << 20}},
		KernelStart: physBase,
		KernelEnd:   physBase + 2*mm.PageSize,
		// the heap seed region lives directly in the test's address
		// space and is sized so no allocation below needs growth
		HeapStart:  arenaBase + 0x80000,
		HeapSize:   0x10000,
		ConsoleOut: &console,
	}

	Kmain(info)

	out := console.String()
	for _, exp := range []string{"[pmm] physical memory map:", "[kmain] memory management online"} {
		if !strings.Contains(out, exp) {
			t.Errorf("expected console output to contain %q; got:\n%s", exp, out)
		}
	}
	if !strings.HasPrefix(out, "helios: ") {
		t.Errorf("expected console lines to carry the log prefix; got:\n%s", out)
	}

	// the frame supply must be live
	frame, err := mm.AllocFrame()
	if err != nil {
		t.Fatalf("expected frame allocation to work after Kmain; got %v", err)
	}
	if rerr := mm.ReleaseFrame(frame); rerr != nil {
		t.Fatalf("expected frame release to work after Kmain; got %v", rerr)
	}

	// the heap must serve allocations from the seed region
	addr := heap.Alloc(128, 8)
	if addr < info.HeapStart || addr >= info.HeapStart+info.HeapSize {
		t.Fatalf("expected heap allocation inside the seed region; got %x", addr)
	}
	heap.Free(addr, 128, 8)
}

func TestKmainMultiboot(t *testing.T) {
	defer func() {
		vmm.SetPhysOffset(0)
		pmm.FrameAllocator = pmm.BitmapAllocator{}
		mm.SetFrameAllocator(nil)
		mm.SetFrameReleaser(nil)
	}()

	const physBase = uintptr(0x100000)
	arena := make([]byte, 1<<20)
	defer runtime.KeepAlive(arena)
	arenaBase := uintptr(unsafe.Pointer(&arena[0]))

	// boot record: a 1-entry memory map and a single loaded ELF section
	// delimiting the kernel image
	record := make([]byte, 160)
	defer runtime.KeepAlive(record)
	le := binary.LittleEndian
	le.PutUint32(record[0:], 144)               // record size
	le.PutUint32(record[8:], 6)                 // memory map tag
	le.PutUint32(record[12:], 8+8+24)           // tag size
	le.PutUint32(record[16:], 24)               // entry size
	le.PutUint64(record[24:], uint64(physBase)) // region start
	le.PutUint64(record[32:], 1<<20)            // region length
	le.PutUint32(record[40:], 1)                // available
	le.PutUint32(record[48:], 9)                // ELF symbols tag
	le.PutUint32(record[52:], 8+12+64)          // tag size
	le.PutUint16(record[56:], 1)                // section count
	le.PutUint32(record[60:], 64)               // section header size
	le.PutUint64(record[76:], 0x2)              // section flags: allocated
	le.PutUint64(record[84:], uint64(physBase)) // section address
	le.PutUint64(record[100:], 0x2000)          // section size
	le.PutUint32(record[136:], 0)               // end tag
	le.PutUint32(record[140:], 8)

	var console bytes.Buffer
	KmainMultiboot(
		uintptr(unsafe.Pointer(&record[0])),
		arenaBase-physBase,
		arenaBase+0x80000, 0x10000,
		&console,
	)

	if !strings.Contains(console.String(), "[kmain] memory management online") {
		t.Fatalf("expected bring-up to complete; console output:\n%s", console.String())
	}

	// the kernel image frames reported via the ELF section must be
	// reserved: the first handed-out frame lies past the image and the
	// allocator metadata page
	frame, err := mm.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}
	if exp := mm.FrameFromAddress(physBase) + 3; frame != exp {
		t.Fatalf("expected first free frame %x; got %x", exp, frame)
	}
}
