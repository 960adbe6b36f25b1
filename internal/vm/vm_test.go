package vm

import (
	"testing"
	"unsafe"

	"github.com/dummycode/gokernel/internal/allocator"
)

// newTestAllocator mirrors internal/allocator's own test helper: back
// the allocator with a real, sufficiently large and aligned Go byte
// slice so every uintptr the allocator hands out is live, dereferenceable
// host memory — page tables under test get built and walked exactly as
// they would over physical RAM.
func newTestAllocator(t *testing.T, size int) *allocator.Allocator {
	t.Helper()
	buf := make([]byte, size+Page)
	raw := uintptr(unsafe.Pointer(&buf[0]))
	start := (raw + Page - 1) &^ (Page - 1)
	a := allocator.New()
	a.Init(start, start+uintptr(size))
	t.Cleanup(func() { _ = buf })
	return a
}

func TestPageTableRoundTrip(t *testing.T) {
	// S4: build a user page table; alloc(USER_IMG_BASE, RWX) then
	// is_valid(USER_IMG_BASE) is true; drop the table; the underlying
	// page is re-issued by the next alloc(layout=Page).
	a := newTestAllocator(t, 4*1024*1024)

	pt := New(a, RW)
	if pt == nil {
		t.Fatal("New returned nil")
	}

	const userImgBase = 0 // page-aligned VA within the table's 1GiB span
	if pt.IsValid(userImgBase) {
		t.Fatal("fresh page table already reports a valid mapping")
	}

	page := pt.Alloc(userImgBase, RWX)
	if page == nil {
		t.Fatal("Alloc returned nil")
	}
	if len(page) != Page {
		t.Fatalf("page view length = %d, want %d", len(page), Page)
	}
	if !pt.IsValid(userImgBase) {
		t.Fatal("IsValid false immediately after Alloc")
	}

	mappedAddr := uintptr(unsafe.Pointer(&page[0]))

	pt.Destroy()

	// Invariant 5: the page is back in the allocator's free lists —
	// the very next Page-sized alloc returns it.
	reissued := a.Alloc(Page, Page)
	if reissued != mappedAddr {
		t.Fatalf("reissued address = %#x, want the freed page %#x", reissued, mappedAddr)
	}
}

func TestLocateRejectsMisalignedAddress(t *testing.T) {
	a := newTestAllocator(t, 1024*1024)
	pt := New(a, RW)
	if pt == nil {
		t.Fatal("New returned nil")
	}
	defer pt.Destroy()

	if pt.SetEntry(1, 0) {
		t.Fatal("SetEntry accepted a misaligned address")
	}
	if pt.IsValid(1) {
		t.Fatal("IsValid reported true for a misaligned address")
	}
}

func TestDistinctL3IndicesDoNotAlias(t *testing.T) {
	a := newTestAllocator(t, 4*1024*1024)
	pt := New(a, RW)
	if pt == nil {
		t.Fatal("New returned nil")
	}
	defer pt.Destroy()

	const vaA = 0
	const vaB = 2 * Page

	pageA := pt.Alloc(vaA, RW)
	pageB := pt.Alloc(vaB, RW)
	if pageA == nil || pageB == nil {
		t.Fatal("Alloc failed")
	}

	pageA[0] = 0xAA
	pageB[0] = 0xBB
	if pageA[0] != 0xAA || pageB[0] != 0xBB {
		t.Fatal("writes through one mapping were visible through the other")
	}
}

func TestKernelIdentityMap(t *testing.T) {
	a := newTestAllocator(t, 8*1024*1024)

	const ramEnd = 16 * Page
	const ioBase = 0x3F000000
	const ioEnd = ioBase + Page

	pt := NewKernel(a, ramEnd, ioBase, ioEnd)
	if pt == nil {
		t.Fatal("NewKernel returned nil")
	}
	defer pt.Destroy()

	if !pt.IsValid(0) {
		t.Fatal("identity-mapped RAM start not valid")
	}
	if !pt.IsValid(ramEnd - Page) {
		t.Fatal("last RAM page before ramEnd not valid")
	}
	if !pt.IsValid(ioBase) {
		t.Fatal("MMIO base not valid")
	}
}
