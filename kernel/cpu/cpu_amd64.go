// Package cpu provides access to the privileged amd64 instructions and
// control registers used by the memory-management core. All functions in this
// package fault when executed outside ring 0; callers that need to be
// testable in user-mode must access them through a stubbable function
// variable.
package cpu

// Halt stops instruction execution.
func Halt()

// FlushTLBEntry flushes the TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// FlushTLB flushes the whole TLB by reloading the CR3 register.
func FlushTLB()

// ActivePDT returns the physical address of the currently active level-4
// page table by reading the CR3 register.
func ActivePDT() uintptr

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)
