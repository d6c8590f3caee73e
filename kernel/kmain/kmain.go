// Package kmain contains the kernel entry point that runs after the boot
// loader glue hands over control.
package kmain

import (
	"io"

	"helios/kernel/heap"
	"helios/kernel/kfmt"
	"helios/kernel/mm/pmm"
	"helios/kernel/mm/vmm"
	"helios/multiboot"
)

// BootInfo carries the machine description assembled by the boot loader glue
// before it jumps into Go code.
type BootInfo struct {
	// PhysOffset is the offset of the physical memory window: the boot
	// loader maps all of physical memory at virtual address
	// physAddr + PhysOffset.
	PhysOffset uintptr

	// MemRegions lists the usable physical memory regions.
	MemRegions []pmm.MemoryRegion

	// KernelStart and KernelEnd delimit the physical placement of the
	// kernel image; the frames in between must never be handed out.
	KernelStart, KernelEnd uintptr

	// HeapStart and HeapSize describe a pre-mapped virtual region that
	// seeds the kernel heap. The heap grows above this region on demand.
	HeapStart, HeapSize uintptr

	// ConsoleOut receives kernel log output. While nil, output
	// accumulates in the early print buffer.
	ConsoleOut io.Writer
}

// Kmain brings up the memory management subsystems in dependency order: the
// physical memory window, the frame allocator and finally the kernel heap.
// Initialization failures are fatal; Kmain panics and halts.
func Kmain(info *BootInfo) {
	if info.ConsoleOut != nil {
		kfmt.SetOutputSink(&kfmt.PrefixWriter{Sink: info.ConsoleOut, Prefix: []byte("helios: ")})
	}

	vmm.SetPhysOffset(info.PhysOffset)

	if err := pmm.Init(info.MemRegions, info.KernelStart, info.KernelEnd); err != nil {
		kfmt.Panic(err)
	}

	heap.Init(info.HeapStart, info.HeapSize)
	kfmt.Printf("[kmain] heap: 0x%16x - 0x%16x\n", info.HeapStart, info.HeapStart+info.HeapSize)

	kfmt.Printf("[kmain] memory management online\n")
}

// KmainMultiboot is the entry point used when booting under a multiboot2
// compliant loader: it reads the memory map and the kernel image bounds out
// of the boot record at multibootInfoPtr and hands over to Kmain.
func KmainMultiboot(multibootInfoPtr, physOffset, heapStart, heapSize uintptr, consoleOut io.Writer) {
	multiboot.SetInfoPtr(multibootInfoPtr)
	kernelStart, kernelEnd := multiboot.KernelImageBounds()

	Kmain(&BootInfo{
		PhysOffset:  physOffset,
		MemRegions:  multiboot.UsableMemRegions(),
		KernelStart: kernelStart,
		KernelEnd:   kernelEnd,
		HeapStart:   heapStart,
		HeapSize:    heapSize,
		ConsoleOut:  consoleOut,
	})
}
