package kfmt

import (
	"helios/kernel"
	"helios/kernel/cpu"
)

// cpuHaltFn is mocked by tests that exercise Panic.
var cpuHaltFn = cpu.Halt

// Panic prints a description of an unrecoverable error and halts the CPU.
// The error may be a *kernel.Error, a plain error or a string; any other
// value is reported as an unknown cause.
func Panic(e interface{}) {
	Printf("\n-----------------------------------\n")

	switch t := e.(type) {
	case *kernel.Error:
		Printf("[%s] unrecoverable error: %s\n", t.Module, t.Message)
	case string:
		Printf("unrecoverable error: %s\n", t)
	case error:
		Printf("unrecoverable error: %s\n", t.Error())
	default:
		Printf("unrecoverable error\n")
	}

	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	cpuHaltFn()
}
