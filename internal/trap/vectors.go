package trap

import (
	"unsafe"

	"github.com/dummycode/gokernel/internal/asm"
)

// CurrentFrame is the one TrapFrame the exception-vector assembly
// (trap_vectors_arm64.s) ever addresses directly: its byte offset is
// known at link time, so the entry stubs can spill registers into it
// without the Go dispatcher first telling them where to look.
// internal/sched owns the actual per-process frames (spec §3 Process);
// Scheduler.Switch copies a process's saved frame into CurrentFrame on
// switch-in and copies it back out again on switch-out, so at any given
// moment CurrentFrame just holds whichever process is running.
var CurrentFrame TrapFrame

// pendingIsIRQ carries the one bit of information the assembly entry
// stub needs to tell dispatchHook: IRQ or synchronous. Both wired
// vector slots are SourceLowerELAArch64 (spec §4.5's only EL0 source
// this kernel services), so that much is implicit; a zero-argument
// call is the one Go calling convention that is unambiguous across the
// ABI0/ABIInternal split assembly has to straddle, so this is a package
// global rather than an argument.
var pendingIsIRQ uint64

// vectorTableRawAddr returns vectorTableBase's link-time address,
// before the PCALIGN padding trap_vectors_arm64.s opens with. See
// VectorTableAddr for why the rounding happens here instead of in
// assembly.
//
//go:noescape
func vectorTableRawAddr() uintptr

// VectorTableAddr returns the 2KiB-aligned base VBAR_EL1 must be loaded
// with (cmd/kernel calls asm.SetVbarEl1(trap.VectorTableAddr()) once at
// boot). vectorTableBase's own PCALIGN $2048 pads its first real slot up
// to the next 2KiB boundary from wherever the linker happens to place
// the symbol; a plain assembly label can't be addressed from outside
// its own TEXT block, so this recovers the same boundary by rounding
// the raw symbol address up exactly the way PCALIGN already did.
func VectorTableAddr() uintptr {
	raw := vectorTableRawAddr()
	return (raw + 2047) &^ 2047
}

// dispatchHook is called by the vector table's assembly entry stubs
// once every register has been spilled into CurrentFrame. It never
// returns to its caller: Dispatch/DispatchIRQ either kill the current
// process or leave CurrentFrame holding whoever should run next, and
// EnterUserMode erets straight back into that process.
//
//go:nosplit
func dispatchHook() {
	if pendingIsIRQ != 0 {
		DispatchIRQ(&CurrentFrame)
	} else {
		Dispatch(&CurrentFrame, SourceLowerELAArch64)
	}
	asm.EnterUserMode(uintptr(unsafe.Pointer(&CurrentFrame)))
}
