// Package atags parses the ATAGS list the firmware bootloader leaves in
// memory before handing control to the kernel: a sequence of
// (size, tag) records terminated by ATAG_NONE. spec.md treats ATAGS as
// "consumed by collaborators only" (§6); this package is that collaborator
// — the boot sequence in cmd/kernel calls Parse once, before initializing
// the allocator, purely to discover installed RAM size, the same
// information the original_source's atags/atag.rs walk extracts before the
// Rust kernel sizes its own heap.
//
// Only the three tag kinds the boot path actually consumes are decoded:
// CORE (always first, may carry a page size and root device), MEM
// (memory size and start address — what the allocator needs), and
// CMDLINE (kept only for completeness; the kernel interprets no
// command-line options itself, per spec §6).
package atags

import "unsafe"

const (
	tagNone    = 0x00000000
	tagCore    = 0x54410001
	tagMem     = 0x54410002
	tagCmdline = 0x54410009
)

// Info is the subset of the ATAGS list the boot sequence needs.
type Info struct {
	MemSize  uint32
	MemStart uint32
	Cmdline  string
}

type header struct {
	sizeWords uint32
	tag       uint32
}

type memTag struct {
	size  uint32
	start uint32
}

// Parse walks the ATAGS list starting at ptr (as left by the bootloader in
// a register at kernel entry) and returns the fields the boot sequence
// cares about. A malformed or absent list (tag != CORE first, or size 0)
// yields a zero Info; the boot sequence falls back to a conservative
// built-in RAM size in that case rather than treating it as fatal — ATAGS
// is a legacy convenience, not a safety-critical input.
func Parse(ptr uintptr) Info {
	var info Info
	if ptr == 0 {
		return info
	}

	cursor := ptr
	first := (*header)(unsafe.Pointer(cursor))
	if first.tag != tagCore || first.sizeWords == 0 {
		return info
	}

	for {
		h := (*header)(unsafe.Pointer(cursor))
		if h.sizeWords == 0 {
			break
		}
		if h.tag == tagNone {
			break
		}

		switch h.tag {
		case tagMem:
			m := (*memTag)(unsafe.Pointer(cursor + unsafe.Sizeof(header{})))
			info.MemSize = m.size
			info.MemStart = m.start
		case tagCmdline:
			strPtr := cursor + unsafe.Sizeof(header{})
			info.Cmdline = cString(strPtr)
		}

		cursor += uintptr(h.sizeWords) * 4
	}

	return info
}

func cString(ptr uintptr) string {
	length := 0
	for {
		b := *(*byte)(unsafe.Pointer(ptr + uintptr(length)))
		if b == 0 {
			break
		}
		length++
		if length > 4096 {
			break
		}
	}
	buf := make([]byte, length)
	for i := 0; i < length; i++ {
		buf[i] = *(*byte)(unsafe.Pointer(ptr + uintptr(i)))
	}
	return string(buf)
}
