package bsp

import "github.com/dummycode/gokernel/internal/asm"

// Mailbox drives the VideoCore property-tag mailbox interface (channel 8),
// adapted directly from the teacher's mailbox.go — same MMIO layout, same
// full/empty status-bit protocol — the property channel itself is the one
// piece of real-hardware plumbing the teacher never needed on QEMU (QEMU's
// virt machine has no VideoCore firmware) but Raspberry Pi hardware
// requires for anything touching the framebuffer, which is exactly what
// internal/framebuffer uses this for.
type Mailbox struct{}

func NewMailbox() *Mailbox {
	return &Mailbox{}
}

const (
	mailboxFull  = 1 << 31
	mailboxEmpty = 1 << 30
)

// Read blocks until a message addressed to channel arrives and returns its
// data (upper 28 bits; the low 4 bits carrying the channel are masked off).
func (m *Mailbox) Read(channel uint32) uint32 {
	for {
		status := asm.MmioRead32(mailboxStatus)
		if status&mailboxEmpty == 0 {
			data := asm.MmioRead32(mailboxRead)
			if data&0xF == channel {
				return data & 0xFFFFFFF0
			}
		}
	}
}

// Write sends message (a 16-byte-aligned address with the channel folded
// into the low 4 bits) to the given channel.
func (m *Mailbox) Write(channel uint32, message uint32) {
	for asm.MmioRead32(mailboxStatus)&mailboxFull != 0 {
	}
	asm.MmioWrite32(mailboxWrite, (message&0xFFFFFFF0)|(channel&0xF))
}

// PropertyChannel is the mailbox channel used for all framebuffer/clock/
// memory property-tag requests (spec §11: domain-stack framebuffer home).
const PropertyChannel = 8
