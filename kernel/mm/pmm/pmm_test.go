package pmm

import (
	"runtime"
	"testing"
	"unsafe"

	"helios/kernel/mm"
	"helios/kernel/mm/vmm"
)

// testArena simulates physical memory with a Go-allocated buffer and points
// the physical memory window at it so the allocator's bitmap accesses land
// inside the buffer.
func testArena(t *testing.T, physBase, physSize uintptr) func() {
	t.Helper()

	arena := make([]byte, physSize)
	vmm.SetPhysOffset(uintptr(unsafe.Pointer(&arena[0])) - physBase)

	return func() {
		vmm.SetPhysOffset(0)
		runtime.KeepAlive(arena)
	}
}

func TestSetupPools(t *testing.T) {
	specs := []struct {
		regions       []MemoryRegion
		expPools      int
		expTotalPages uint32
	}{
		// page-aligned region
		{[]MemoryRegion{{Start: 0x100000, Length: 0x100000}}, 1, 256},
		// unaligned boundaries round inwards
		{[]MemoryRegion{{Start: 0x100800, Length: 0x100000}}, 1, 255},
		// regions smaller than one page are dropped
		{[]MemoryRegion{{Start: 0x100000, Length: 0x800}}, 0, 0},
		{
			[]MemoryRegion{
				{Start: 0x100000, Length: 0x100000},
				{Start: 0x1000000, Length: 0x10000},
			},
			2, 256 + 16,
		},
	}

	for specIndex, spec := range specs {
		var alloc BitmapAllocator
		alloc.setupPools(spec.regions)

		if alloc.poolCount != spec.expPools {
			t.Errorf("[spec %d] expected %d pools; got %d", specIndex, spec.expPools, alloc.poolCount)
		}
		if alloc.totalPages != spec.expTotalPages {
			t.Errorf("[spec %d] expected %d total pages; got %d", specIndex, spec.expTotalPages, alloc.totalPages)
		}
	}
}

func TestBitmapAllocatorInit(t *testing.T) {
	defer testArena(t, 0x100000, 4*mm.PageSize)()

	var alloc BitmapAllocator
	err := alloc.init(
		[]MemoryRegion{{Start: 0x100000, Length: 0x100000}},
		0x100000, 0x102000,
	)
	if err != nil {
		t.Fatal(err)
	}

	// 2 kernel image pages plus 1 page of bitmap metadata
	if exp := uint32(3); alloc.reservedPages != exp {
		t.Fatalf("expected %d reserved pages; got %d", exp, alloc.reservedPages)
	}

	// the first handed-out frame must follow the kernel and the metadata
	frame, allocErr := alloc.AllocFrame()
	if allocErr != nil {
		t.Fatal(allocErr)
	}
	if exp := mm.Frame(0x103); frame != exp {
		t.Fatalf("expected first free frame to be %x; got %x", exp, frame)
	}
}

func TestBitmapAllocatorInitWithoutUsableRegion(t *testing.T) {
	var alloc BitmapAllocator
	if err := alloc.init(nil, 0x100000, 0x102000); err != errMetadataSpace {
		t.Fatalf("expected errMetadataSpace; got %v", err)
	}
}

func TestAllocAndReleaseFrame(t *testing.T) {
	defer testArena(t, 0x100000, 4*mm.PageSize)()

	var alloc BitmapAllocator
	if err := alloc.init(
		[]MemoryRegion{{Start: 0x100000, Length: 0x100000}},
		0x100000, 0x102000,
	); err != nil {
		t.Fatal(err)
	}

	free := alloc.totalPages - alloc.reservedPages

	// drain the pool; each handed-out frame must be unique
	seen := make(map[mm.Frame]bool)
	for i := uint32(0); i < free; i++ {
		frame, err := alloc.AllocFrame()
		if err != nil {
			t.Fatalf("allocation %d failed: %v", i, err)
		}
		if seen[frame] {
			t.Fatalf("frame %x handed out twice", frame)
		}
		seen[frame] = true
	}

	if _, err := alloc.AllocFrame(); err != errOutOfMemory {
		t.Fatalf("expected errOutOfMemory on exhausted pools; got %v", err)
	}

	// releasing a frame makes it allocatable again
	if err := alloc.ReleaseFrame(mm.Frame(0x110)); err != nil {
		t.Fatal(err)
	}
	frame, err := alloc.AllocFrame()
	if err != nil || frame != mm.Frame(0x110) {
		t.Fatalf("expected released frame %x to be reused; got (%x, %v)", mm.Frame(0x110), frame, err)
	}

	if err = alloc.ReleaseFrame(mm.Frame(0x110)); err != nil {
		t.Fatal(err)
	}
	if err = alloc.ReleaseFrame(mm.Frame(0x110)); err != errDoubleRelease {
		t.Fatalf("expected errDoubleRelease; got %v", err)
	}

	if err = alloc.ReleaseFrame(mm.Frame(0xffffff)); err != errFrameNotManaged {
		t.Fatalf("expected errFrameNotManaged; got %v", err)
	}
}

func TestInitRegistersFrameHooks(t *testing.T) {
	defer testArena(t, 0x100000, 4*mm.PageSize)()
	defer func() {
		FrameAllocator = BitmapAllocator{}
		mm.SetFrameAllocator(nil)
		mm.SetFrameReleaser(nil)
	}()

	err := Init(
		[]MemoryRegion{{Start: 0x100000, Length: 0x100000}},
		0x100000, 0x102000,
	)
	if err != nil {
		t.Fatal(err)
	}

	frame, allocErr := mm.AllocFrame()
	if allocErr != nil {
		t.Fatal(allocErr)
	}
	if relErr := mm.ReleaseFrame(frame); relErr != nil {
		t.Fatal(relErr)
	}
	if relErr := mm.ReleaseFrame(frame); relErr != errDoubleRelease {
		t.Fatalf("expected errDoubleRelease through the mm hook; got %v", relErr)
	}
}
