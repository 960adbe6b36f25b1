package vm

import (
	"unsafe"

	"github.com/dummycode/gokernel/internal/allocator"
	"github.com/dummycode/gokernel/internal/asm"
)

// entriesPerTable is 8192 for both L2 and L3: a 64 KiB table holds
// 8192 eight-byte descriptors. Only the first two L2 entries are ever
// populated (spec §4.2: "Only the first two L2 entries are used;
// hence each address space covers 2 × 8192 × 64 KiB = 1 GiB").
const entriesPerTable = Page / 8

// numL3Tables is fixed at two: one per populated L2 entry.
const numL3Tables = 2

// PageTable is an L2 table plus its two owned L3 tables, each a
// separate 64 KiB-aligned heap allocation (spec §3 PageTable). l2 and
// l3 hold physical (here, identity-mapped kernel-visible) addresses.
type PageTable struct {
	alloc *allocator.Allocator
	l2    uintptr
	l3    [numL3Tables]uintptr
}

func allocTable(a *allocator.Allocator) uintptr {
	addr := a.Alloc(Page, Page)
	if addr == allocator.Null {
		return allocator.Null
	}
	asm.Bzero(unsafe.Pointer(addr), Page)
	return addr
}

// New allocates a fresh PageTable: three zeroed 64 KiB pages from a,
// with the L2 table's two entries populated to reference the two L3
// tables. ap does not affect the result: the L2 descriptors always
// carry the kernel-RW AP encoding (permToAP with kernel=true), whatever
// ap is. Both L2 entries use the inner-shareable domain, as do the
// per-page allocs (spec §4.2's "SH=inner-shareable(3)").
// Returns nil if the allocator is exhausted.
func New(a *allocator.Allocator, ap Perm) *PageTable {
	l2 := allocTable(a)
	if l2 == allocator.Null {
		return nil
	}

	pt := &PageTable{alloc: a, l2: l2}
	for i := 0; i < numL3Tables; i++ {
		l3 := allocTable(a)
		if l3 == allocator.Null {
			pt.Destroy()
			return nil
		}
		pt.l3[i] = l3
		l2Entry := makeEntry(l3, pteAttrNormal, permToAP(ap, true), pteSHInner)
		pt.writeL2(i, l2Entry)
	}
	return pt
}

// Base returns the physical address to load into a TTBR register.
func (pt *PageTable) Base() uintptr {
	return pt.l2
}

//go:nosplit
func (pt *PageTable) writeL2(idx int, entry uint64) {
	addr := pt.l2 + uintptr(idx)*8
	*(*uint64)(unsafe.Pointer(addr)) = entry
}

//go:nosplit
func (pt *PageTable) readL2(idx int) uint64 {
	addr := pt.l2 + uintptr(idx)*8
	return *(*uint64)(unsafe.Pointer(addr))
}

// locate decodes va into the owning L3 table index and the entry
// index within it. va must be page-aligned (spec §4.2 "locate(va)
// requires va to be page-aligned"); a misaligned va is a programming
// error and returns ok=false.
func locate(va uintptr) (l2Idx, l3Idx int, ok bool) {
	if va&pageMask != 0 {
		return 0, 0, false
	}
	l2 := int((va >> l2Shift) & 1)
	l3 := int((va >> l3Shift) & l3Mask)
	return l2, l3, true
}

//go:nosplit
func (pt *PageTable) l3EntryAddr(l2Idx, l3Idx int) uintptr {
	return pt.l3[l2Idx] + uintptr(l3Idx)*8
}

// SetEntry writes a raw L3 descriptor at va. Used internally by Alloc
// and by the kernel identity map builder; exported for tests that need
// to probe round-trip behavior directly.
func (pt *PageTable) SetEntry(va uintptr, entry uint64) bool {
	l2Idx, l3Idx, ok := locate(va)
	if !ok {
		return false
	}
	addr := pt.l3EntryAddr(l2Idx, l3Idx)
	*(*uint64)(unsafe.Pointer(addr)) = entry
	return true
}

// IsValid reports whether va currently has a valid L3 mapping.
func (pt *PageTable) IsValid(va uintptr) bool {
	l2Idx, l3Idx, ok := locate(va)
	if !ok {
		return false
	}
	entry := *(*uint64)(unsafe.Pointer(pt.l3EntryAddr(l2Idx, l3Idx)))
	return entryIsValid(entry)
}

// Alloc maps va to a freshly allocated, zeroed heap page and returns a
// byte-slice view of it for the caller to fill (spec §4.2: "Returns
// the page's kernel-visible byte view for the caller to fill"). va
// below USER_IMG_BASE is not rejected here and no caller checks it;
// internal/process only ever passes USER_IMG_BASE- and
// USER_STACK_BASE-derived addresses. This function only requires page
// alignment.
func (pt *PageTable) Alloc(va uintptr, perm Perm) []byte {
	l2Idx, l3Idx, ok := locate(va)
	if !ok {
		return nil
	}

	page := pt.alloc.Alloc(Page, Page)
	if page == allocator.Null {
		return nil
	}
	asm.Bzero(unsafe.Pointer(page), Page)

	entry := makeEntry(page, pteAttrNormal, permToAP(perm, false), pteSHInner)
	addr := pt.l3EntryAddr(l2Idx, l3Idx)
	*(*uint64)(unsafe.Pointer(addr)) = entry

	return unsafe.Slice((*byte)(unsafe.Pointer(page)), Page)
}

// Destroy releases every valid L3-mapped page back to the allocator,
// then the three owning tables themselves (spec §4.2 Destruction, and
// invariant 5: "After dropping a user page table, every page
// previously reachable through a valid L3 entry is back in a free
// list of the allocator").
func (pt *PageTable) Destroy() {
	for _, l3 := range pt.l3 {
		if l3 == allocator.Null {
			continue
		}
		for i := 0; i < entriesPerTable; i++ {
			addr := l3 + uintptr(i)*8
			entry := *(*uint64)(unsafe.Pointer(addr))
			if entryIsValid(entry) {
				pt.alloc.Dealloc(entryPageAddr(entry), Page)
			}
		}
		pt.alloc.Dealloc(l3, Page)
	}
	if pt.l2 != allocator.Null {
		pt.alloc.Dealloc(pt.l2, Page)
	}
	*pt = PageTable{}
}

// mapIdentity sets a direct identity mapping (physical address equals
// virtual address) for a page-aligned, page-sized range, without
// consuming any heap pages — used only by the kernel table's boot-time
// RAM and MMIO identity maps (spec §4.2 Kernel page table), where the
// backing memory already exists and merely needs a descriptor pointing
// at itself.
func (pt *PageTable) mapIdentity(start, end uintptr, attr, sh uint64) bool {
	start &^= pageMask
	end = (end + pageMask) &^ pageMask
	for va := start; va < end; va += Page {
		l2Idx, l3Idx, ok := locate(va)
		if !ok {
			return false
		}
		entry := makeEntry(va, attr, pteAPKernelRW, sh)
		addr := pt.l3EntryAddr(l2Idx, l3Idx)
		*(*uint64)(unsafe.Pointer(addr)) = entry
	}
	return true
}

// NewKernel builds the kernel's identity-mapped page table: physical
// RAM [0, ramEnd) as inner-shareable normal kernel-RW memory, and MMIO
// [ioBase, ioEnd) as outer-shareable device-nGnRE kernel-RW memory
// (spec §4.2 Kernel page table). Returns nil if the allocator cannot
// supply the three table pages.
func NewKernel(a *allocator.Allocator, ramEnd, ioBase, ioEnd uintptr) *PageTable {
	pt := New(a, RW)
	if pt == nil {
		return nil
	}
	if !pt.mapIdentity(0, ramEnd, pteAttrNormal, pteSHInner) {
		pt.Destroy()
		return nil
	}
	if !pt.mapIdentity(ioBase, ioEnd, pteAttrDevice, pteSHOuter) {
		pt.Destroy()
		return nil
	}
	return pt
}
