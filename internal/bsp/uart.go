package bsp

import "github.com/dummycode/gokernel/internal/asm"

// UART drives the PL011 UART0 wired to GPIO14/15 on Raspberry Pi hardware.
// The sequence below (disable, clear pending, configure baud-rate
// divisors, configure line control, re-enable) is the standard PL011 bring
// up used throughout the bare-metal Pi tutorial lineage this spec's
// original_source descends from; the teacher's own uart_qemu.go collapses
// the equivalent sequence behind an opaque asm.UartInitPl011() call for
// QEMU's PL011 instance; on real hardware there is no such helper, so the
// register pokes are written out here directly via asm.MmioRead32/Write32,
// the same primitive the teacher uses for every other device driver
// (mailbox.go, gic_qemu.go).
type UART struct {
	initialized bool
}

func NewUART() *UART {
	return &UART{}
}

// Init configures UART0 for 115200 8N1, assuming a 48MHz UART clock (the
// default VideoCore firmware configuration on Pi3 when core_freq is left
// unset).
func (u *UART) Init() {
	// Disable UART0 while reconfiguring it.
	asm.MmioWrite32(uart0CR, 0)

	// Disable pull up/down on GPIO14/15 (TXD0/RXD0), per BCM2835 ARM
	// Peripherals §6.2.
	asm.MmioWrite32(gppud, 0)
	spinDelay(150)
	asm.MmioWrite32(gppudclk, (1<<14)|(1<<15))
	spinDelay(150)
	asm.MmioWrite32(gppudclk, 0)

	// Clear pending interrupts.
	asm.MmioWrite32(uart0ICR, 0x7FF)

	// 115200 baud at 48MHz: divisor = 48000000 / (16 * 115200) = 26.0417.
	// Integer part 26, fractional part round(0.0417 * 64) = 3.
	asm.MmioWrite32(uart0IBRD, 26)
	asm.MmioWrite32(uart0FBRD, 3)

	// 8 bits, FIFOs enabled, no parity, one stop bit.
	asm.MmioWrite32(uart0LCRH, (1<<4)|(1<<5)|(1<<6))

	// Mask all UART interrupts; the kernel polls rather than taking UART
	// RX/TX interrupts (out of scope: the interactive shell owns that).
	asm.MmioWrite32(uart0IMSC, 0)

	// Enable UART, TX, RX.
	asm.MmioWrite32(uart0CR, (1<<0)|(1<<8)|(1<<9))

	u.initialized = true
}

// PutByte blocks until the transmit FIFO has room, then writes b. Safe to
// call from nosplit contexts once initialized; console.SetSink installs
// this as the global diagnostic sink.
//
//go:nosplit
func (u *UART) PutByte(b byte) {
	if !u.initialized {
		return
	}
	for asm.MmioRead32(uart0FR)&(1<<5) != 0 {
		// TXFF set: FIFO full, wait.
	}
	asm.MmioWrite32(uart0DR, uint32(b))
}

// GetByte blocks until a byte is available and returns it. Used only by
// internal/debugshell; the shell proper (out of scope) owns interactive
// line editing.
func (u *UART) GetByte() byte {
	for asm.MmioRead32(uart0FR)&(1<<4) != 0 {
		// RXFE set: FIFO empty, wait.
	}
	return byte(asm.MmioRead32(uart0DR))
}

//go:nosplit
func spinDelay(iterations int) {
	for i := 0; i < iterations; i++ {
	}
}
