package bsp

import "github.com/dummycode/gokernel/internal/asm"

// IntController drives the BCM2835/2836 legacy interrupt controller: three
// 32-bit pending/enable register pairs (Basic, IRQ1 covering sources 0-31,
// IRQ2 covering sources 32-63). Spec §6 describes exactly this shape: "A
// bitmap of pending sources; the kernel enables Timer1 and walks all
// sources in enum order on every IRQ entry." internal/irq owns the
// enum-order dispatch loop; this type only knows how to enable a source
// and report which ones are currently pending.
//
// The register layout differs from the teacher's gic_qemu.go (GICv2,
// correct for QEMU's virt machine but absent on real Raspberry Pi 3
// hardware); the enable/query entry points are named and shaped the same
// way gic_qemu.go's gicEnableInterrupt/gicHandleInterrupt pair are, so
// internal/irq's dispatch loop reads the same regardless of which
// controller backs it.
type IntController struct{}

func NewIntController() *IntController {
	return &IntController{}
}

// Enable unmasks IRQ source n (0-63: IRQ1 covers 0-31, IRQ2 covers 32-63).
func (c *IntController) Enable(n uint32) {
	if n < 32 {
		asm.MmioWrite32(intcEnableIRQ1, 1<<n)
	} else {
		asm.MmioWrite32(intcEnableIRQ2, 1<<(n-32))
	}
}

// Disable masks IRQ source n.
func (c *IntController) Disable(n uint32) {
	if n < 32 {
		asm.MmioWrite32(intcDisableIRQ1, 1<<n)
	} else {
		asm.MmioWrite32(intcDisableIRQ2, 1<<(n-32))
	}
}

// Pending returns the bitmap of currently pending sources in IRQ1
// (sources 0-31). internal/irq walks this mask in enum order, exactly as
// spec §6 requires; only Timer1 (bit 1) is enabled by this kernel, but the
// loop is written generically over the full mask.
//
//go:nosplit
func (c *IntController) Pending() uint32 {
	return asm.MmioRead32(intcIRQPend1)
}
