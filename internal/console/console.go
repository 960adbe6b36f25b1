// Package console provides allocation-free diagnostic output primitives
// safe to call from //go:nosplit contexts: interrupt handlers, the
// allocator before the heap exists, and the panic path. It mirrors the
// teacher corpus's uartPuts/uartPutHex64/printHex64/printDecimal helpers,
// which exist for exactly this reason — the builtin print is backed by the
// same transmit routine but is not guaranteed safe to reach from every
// nosplit call site during early boot.
//
// console itself knows nothing about UART hardware. cmd/kernel installs
// the UART's byte sink with SetSink right after UART initialization;
// calling any output function before that has happened is a no-op, matching the
// "inert until initialize()" contract the rest of the kernel's global
// singletons follow (spec §9, Global singletons).
package console

// sink transmits a single byte. Installed once, at boot, by cmd/kernel.
var sink func(byte)

// SetSink installs the byte transmitter used by every output function
// below. cmd/kernel calls it once at boot with the UART's PutByte.
func SetSink(putc func(byte)) {
	sink = putc
}

//go:nosplit
func putc(b byte) {
	if sink != nil {
		sink(b)
	}
}

// Puts writes a string byte by byte. Safe from nosplit contexts.
//
//go:nosplit
func Puts(s string) {
	for i := 0; i < len(s); i++ {
		putc(s[i])
	}
}

// Putc writes a single byte.
//
//go:nosplit
func Putc(b byte) {
	putc(b)
}

// Hex64 writes val as 16 upper-case hex digits, no leading "0x".
//
//go:nosplit
func Hex64(val uint64) {
	for shift := 60; shift >= 0; shift -= 4 {
		nibble := byte((val >> uint(shift)) & 0xF)
		if nibble < 10 {
			putc('0' + nibble)
		} else {
			putc('A' + nibble - 10)
		}
	}
}

// Hex32 writes val as 8 upper-case hex digits.
//
//go:nosplit
func Hex32(val uint32) {
	for shift := 28; shift >= 0; shift -= 4 {
		nibble := byte((val >> uint(shift)) & 0xF)
		if nibble < 10 {
			putc('0' + nibble)
		} else {
			putc('A' + nibble - 10)
		}
	}
}

// Decimal writes n in base 10, no padding.
//
//go:nosplit
func Decimal(n int64) {
	if n < 0 {
		putc('-')
		n = -n
	}
	if n == 0 {
		putc('0')
		return
	}
	var buf [20]byte
	i := 0
	for n > 0 {
		buf[i] = byte('0' + (n % 10))
		n /= 10
		i++
	}
	for i > 0 {
		i--
		putc(buf[i])
	}
}
