// Package asm declares the small set of primitives that cannot be expressed
// in portable Go: memory barriers, raw MMIO access, and the EL0/EL1
// trampoline that the scheduler uses to enter and leave user mode. Every
// function here is implemented in asm_arm64.s; this file only carries the
// Go-visible signatures and doc comments, mirroring the way the teacher
// corpus declares its mazboot/asm helpers next to //go:linkname directives.
package asm

import "unsafe"

// Dsb issues a full-system data synchronization barrier. Required after any
// MMIO write that must be observed before the next instruction executes
// (page table writes, device register pokes).
//
//go:noescape
func Dsb()

// Isb issues an instruction synchronization barrier. Used after writes to
// system registers that affect instruction fetch (SCTLR_EL1, TTBR0_EL1,
// VBAR_EL1).
//
//go:noescape
func Isb()

// Bzero zeroes n bytes starting at ptr. Used by internal/vm to clear
// page-table pages and freshly mapped user pages.
//
//go:noescape
func Bzero(ptr unsafe.Pointer, n uint32)

// MmioRead32 reads a 32-bit device register. A dsb sy is issued before
// the load; any barrier needed after it is the caller's.
//
//go:noescape
func MmioRead32(addr uintptr) uint32

// MmioWrite32 writes a 32-bit device register.
//
//go:noescape
func MmioWrite32(addr uintptr, val uint32)

// MmioRead64 reads a 64-bit device register with a single load. No code
// in the kernel calls it; the system timer reads its CLO/CHI pair with
// separate MmioRead32 calls.
//
//go:noescape
func MmioRead64(addr uintptr) uint64

// EnableIrqs clears the I bit in DAIF, unmasking IRQs at the current
// exception level.
//
//go:noescape
func EnableIrqs()

// DisableIrqs sets the I bit in DAIF and returns the previous DAIF value so
// the caller can restore it. Used by the spinlock implementation to make
// the critical section atomic with respect to interrupt delivery.
//
//go:noescape
func DisableIrqs() uintptr

// RestoreIrqs writes back a DAIF value previously returned by DisableIrqs.
//
//go:noescape
func RestoreIrqs(saved uintptr)

// WaitForEvent executes wfe, parking the core in a low-power state until the
// next event or interrupt. Used by the scheduler's switch_to retry loop
// (spec §4.4) instead of a hot spin.
//
//go:noescape
func WaitForEvent()

// SendEvent executes sev, waking any core parked in WaitForEvent. Not used
// on this single-CPU target today but kept symmetric with WaitForEvent —
// harmless on uniprocessor hardware and required if SMP is ever revisited.
//
//go:noescape
func SendEvent()

// ReadCntpct reads the physical generic timer's free-running counter
// (CNTPCT_EL0). Used as a fallback monotonic source; the primary time
// source on Raspberry Pi hardware is the BCM2835 system timer in
// internal/bsp, which is MMIO rather than a system register.
//
//go:noescape
func ReadCntpct() uint64

// ReadCntfrq reads the generic timer frequency (CNTFRQ_EL0) in Hz.
//
//go:noescape
func ReadCntfrq() uint64

// ReadEsrEl1 reads the Exception Syndrome Register, valid only while
// handling a synchronous exception taken to EL1.
//
//go:noescape
func ReadEsrEl1() uint64

// ReadFarEl1 reads the Fault Address Register, valid only after a data
// or instruction abort.
//
//go:noescape
func ReadFarEl1() uint64

// EnterUserMode restores a TrapFrame from kernel memory and executes eret,
// dropping to the mode and PC encoded in the frame's spsr/elr fields. It
// never returns to its caller: control resumes either in user code or, on
// the next exception, at the kernel's exception vector.
//
// framePtr must point to a value with the exact layout of trap.TrapFrame
// (tpidr, sp, spsr, elr, ttbr0, ttbr1, 32 q registers, 32 x registers, in
// that order) — this is the hard ABI spec §3 calls out; the assembly
// indexes into it by fixed byte offset and has no way to check the type at
// the call site.
//
//go:noescape
func EnterUserMode(framePtr uintptr)

// SetVbarEl1 installs addr as the base of the AArch64 exception vector
// table (VBAR_EL1). addr must be 2KiB-aligned (ARMv8-A D13.2.115); it is
// called once at boot, before IRQs are unmasked and before any user
// process can fault or svc into the kernel.
//
//go:noescape
func SetVbarEl1(addr uintptr)
