// Package bsp (board support package) holds the fixed, compile-time
// description of the target board and the drivers for its on-chip
// peripherals: UART, the BCM2835-style legacy interrupt controller, the
// free-running system timer, and the property-tag mailbox.
//
// The teacher corpus selects between boards (QEMU's virt machine vs. real
// Raspberry Pi hardware) with Go build tags and a different source file
// per target rather than a runtime config object — kernel.go's own comment
// documents the PERIPHERAL_BASE history across Pi generations
// (0x20000000 Pi1, 0x3F000000 Pi2/3, 0xFE000000 Pi4). We follow the same
// pattern: this file is the Raspberry Pi 3 (BCM2837) configuration. It
// carries no build constraint, since it is the only board file; a
// qemuvirt-tagged sibling would carry QEMU's virt-machine addresses the
// same way the teacher's *_qemu.go files do, but is out of scope here
// since the spec targets real RPi3-class hardware.
package bsp

// PeripheralBase is the BCM2837 (Raspberry Pi 3) peripheral MMIO base.
const PeripheralBase uintptr = 0x3F000000

// IOBase and IOBaseEnd bound the MMIO region the kernel page table
// identity-maps as device memory (spec §4.2, §6).
const (
	IOBase    uintptr = PeripheralBase
	IOBaseEnd uintptr = PeripheralBase + 0x01000000
)

// GPIO / PL011 UART0 registers, laid out exactly as kernel.go documents
// them for the Pi peripheral map (shifted here to the Pi3 base instead of
// the Pi4 base the teacher's own file targets).
const (
	gpioBase = PeripheralBase + 0x200000
	gppud    = gpioBase + 0x94
	gppudclk = gpioBase + 0x98

	uart0Base  = PeripheralBase + 0x201000
	uart0DR    = uart0Base + 0x00
	uart0FR    = uart0Base + 0x18
	uart0IBRD  = uart0Base + 0x24
	uart0FBRD  = uart0Base + 0x28
	uart0LCRH  = uart0Base + 0x2C
	uart0CR    = uart0Base + 0x30
	uart0IMSC  = uart0Base + 0x38
	uart0ICR   = uart0Base + 0x44
)

// Legacy BCM2835/2836 interrupt controller registers (not GICv2 — real
// Raspberry Pi 3 hardware uses the simple pending-bitmap controller the
// spec describes in §6, not the ARM GICv2 distributor/CPU-interface pair
// the teacher's QEMU-targeting gic_qemu.go drives). The enable/ack/dispatch
// *shape* of internal/irq is still modeled on gic_qemu.go's
// registerInterruptHandler/gicEnableInterrupt/gicHandleInterrupt split;
// only the register set underneath differs.
const (
	intcBase          = PeripheralBase + 0xB200
	intcIRQBasicPend   = intcBase + 0x00
	intcIRQPend1       = intcBase + 0x04
	intcIRQPend2       = intcBase + 0x08
	intcFIQCtrl        = intcBase + 0x0C
	intcEnableIRQ1     = intcBase + 0x10
	intcEnableIRQ2     = intcBase + 0x14
	intcEnableBasic    = intcBase + 0x18
	intcDisableIRQ1    = intcBase + 0x1C
	intcDisableIRQ2    = intcBase + 0x20
	intcDisableBasic   = intcBase + 0x24
)

// BCM2835 system timer: a free-running 1 MHz counter (CLO/CHI) and four
// compare registers (spec §6: "a free-running 1 MHz counter and four
// compare registers; the kernel uses compare #1").
const (
	sysTimerBase = PeripheralBase + 0x3000
	sysTimerCS   = sysTimerBase + 0x00 // control/status, one ack bit per compare
	sysTimerCLO  = sysTimerBase + 0x04 // counter low 32 bits
	sysTimerCHI  = sysTimerBase + 0x08 // counter high 32 bits
	sysTimerC0   = sysTimerBase + 0x0C
	sysTimerC1   = sysTimerBase + 0x10
	sysTimerC2   = sysTimerBase + 0x14
	sysTimerC3   = sysTimerBase + 0x18
)

// Mailbox (property-tag interface), used only by internal/framebuffer to
// request a real linear framebuffer from the VideoCore firmware.
const (
	mailboxBase   = PeripheralBase + 0xB880
	mailboxRead   = mailboxBase + 0x00
	mailboxStatus = mailboxBase + 0x18
	mailboxWrite  = mailboxBase + 0x20
)

// Timer1 is the IRQ source number the scheduler's tick handler registers
// against (spec §6: "the kernel enables Timer1"); in the legacy BCM2835
// numbering this is bit 1 of IRQPend1/EnableIRQ1.
const Timer1IRQSource = 1

// TICK is the scheduling quantum: the kernel rearms system timer compare #1
// to fire this many microseconds after the current counter value on every
// preemption (spec §4.4, §8 S5 uses 10ms in its fairness scenario).
const TICK = 10000 // 10ms, matching spec's S5 scenario

// USERIMGBase and USERStackBase are the fixed user-space load addresses
// (spec §6, User ABI).
const (
	USERIMGBase   uintptr = 0x1000000 // 16 MiB into the 1 GiB user VA space
	USERStackBase uintptr = 0x2000000 // 32 MiB: well clear of the image
)

// KernelHeapStart is the fixed physical address the kernel heap begins
// at. The teacher locates the equivalent boundary (heap.go's heapInit)
// from a linker-script symbol (__end, the first byte past the loaded
// image) read through a go:linkname'd assembly accessor; this corpus's
// retrieved files include no linker script to ground an equivalent
// symbol against, and the kernel's own image is small and statically
// laid out, so this kernel uses a fixed, conservative constant instead:
// well clear of the standard bare-metal Pi load address (0x80000) plus
// headroom for image, BSS and the boot stack, none of which this kernel
// sizes dynamically. cmd/kernel's main treats the region
// [KernelHeapStart, ramEnd) — ramEnd from ATAGS, or KernelHeapSizeFallback
// bytes past KernelHeapStart if ATAGS didn't report one — as the
// allocator's backing region (spec §3 "Heap region").
const KernelHeapStart uintptr = 0x00300000 // 3 MiB: past image+BSS+boot stack

// KernelHeapSizeFallback bounds the heap when ATAGS parsing fails to
// report a memory size (atags.Parse's documented "zero Info" case):
// conservative relative to the Pi 3's actual 1 GiB, but enough for every
// object this kernel allocates (page tables, kernel stacks, trap frames).
const KernelHeapSizeFallback uintptr = 64 * 1024 * 1024 // 64 MiB

// KernelBootStackTop is the fixed EL1 stack pointer cmd/kernel's entry
// trampoline installs before any Go code runs — below KernelHeapStart,
// with headroom for the image itself (firmware loads kernel8.img at the
// standard bare-metal Pi address 0x80000) and the boot stack's own
// growth; this is the one stack the kernel runs on until the first
// process's own kernel stack (allocated from the heap, spec §4.3) takes
// over at the first context switch.
const KernelBootStackTop uintptr = 0x00280000
