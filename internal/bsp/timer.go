package bsp

import "github.com/dummycode/gokernel/internal/asm"

// SystemTimer drives the BCM2835 free-running system timer: a 64-bit
// 1 MHz counter split across CLO/CHI, and four independent compare
// registers, each with its own pending/ack bit in CS. The kernel uses
// compare #1 exclusively (spec §6), leaving #0, #2, #3 free for future use
// (the VideoCore GPU firmware owns #0 and #2 on real hardware and will
// fire spurious interrupts on them if the kernel enables those IRQ
// sources — another reason only Timer1 is ever unmasked).
type SystemTimer struct{}

func NewSystemTimer() *SystemTimer {
	return &SystemTimer{}
}

// Now returns the current counter value in microseconds since power-on.
//
//go:nosplit
func (t *SystemTimer) Now() uint64 {
	for {
		hi := asm.MmioRead32(sysTimerCHI)
		lo := asm.MmioRead32(sysTimerCLO)
		hi2 := asm.MmioRead32(sysTimerCHI)
		if hi == hi2 {
			return uint64(hi)<<32 | uint64(lo)
		}
		// CHI rolled over between the two reads; retry.
	}
}

// ArmTick schedules the Timer1 IRQ to fire micros microseconds from now
// and acknowledges any previously pending Timer1 interrupt, matching the
// teacher's timer_qemu.go pattern of clearing status before rearming so a
// stale pending bit can't fire the handler twice in a row.
//
//go:nosplit
func (t *SystemTimer) ArmTick(micros uint32) {
	asm.MmioWrite32(sysTimerCS, 1<<1) // W1C: acknowledge Timer1
	target := uint32(t.Now()) + micros
	asm.MmioWrite32(sysTimerC1, target)
}

// AckTick acknowledges the Timer1 pending bit without rearming. The IRQ
// dispatcher does not call it; cmd/kernel's Timer1 handler calls it
// first, before any scheduling work (a split that mirrors the teacher's
// IAR-read/handler/EOIR-write split in gic_qemu.go's
// gicHandleInterruptWithID).
//
//go:nosplit
func (t *SystemTimer) AckTick() {
	asm.MmioWrite32(sysTimerCS, 1<<1)
}
