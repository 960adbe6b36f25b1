package process

import (
	"bytes"
	"testing"
	"unsafe"

	"github.com/dummycode/gokernel/internal/allocator"
	"github.com/dummycode/gokernel/internal/bsp"
	"github.com/dummycode/gokernel/internal/trap"
	"github.com/dummycode/gokernel/internal/vm"
)

// newTestAllocator mirrors internal/vm's own test helper: a real Go
// byte slice backs every address the allocator hands out.
func newTestAllocator(t *testing.T, size int) *allocator.Allocator {
	t.Helper()
	buf := make([]byte, size+vm.Page)
	raw := uintptr(unsafe.Pointer(&buf[0]))
	start := (raw + vm.Page - 1) &^ (vm.Page - 1)
	a := allocator.New()
	a.Init(start, start+uintptr(size))
	t.Cleanup(func() { _ = buf })
	return a
}

// fakeFile is a minimal File backed by an in-memory byte reader, for
// Load tests that never touch a real SD/FAT32 collaborator.
type fakeFile struct {
	r *bytes.Reader
}

func newFakeFile(data []byte) *fakeFile {
	return &fakeFile{r: bytes.NewReader(data)}
}

func (f *fakeFile) Size() int64 { return f.r.Size() }

func (f *fakeFile) Read(buf []byte) (int, error) {
	return f.r.Read(buf)
}

func TestNewReservesStackAndUserPageTable(t *testing.T) {
	a := newTestAllocator(t, 4*1024*1024)
	kpt := vm.New(a, vm.RW)
	if kpt == nil {
		t.Fatal("vm.New(kernel) returned nil")
	}
	defer kpt.Destroy()

	p := New(a, kpt)
	if p == nil {
		t.Fatal("New returned nil")
	}
	if p.State != Ready {
		t.Fatalf("State = %v, want Ready", p.State)
	}
	if p.KernelStackTop()%StackAlign != 0 {
		t.Fatalf("kernel stack top %#x not %d-byte aligned", p.KernelStackTop(), StackAlign)
	}
	p.Release()
}

func TestLoadInitializesTrapFrameForFirstEntry(t *testing.T) {
	a := newTestAllocator(t, 8*1024*1024)
	kpt := vm.New(a, vm.RW)
	if kpt == nil {
		t.Fatal("vm.New(kernel) returned nil")
	}
	defer kpt.Destroy()

	p := New(a, kpt)
	if p == nil {
		t.Fatal("New returned nil")
	}
	defer p.Release()

	image := make([]byte, vm.Page+17) // spans two image pages
	if err := p.Load(newFakeFile(image)); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if p.Frame.Elr != uint64(bsp.USERIMGBase) {
		t.Errorf("Elr = %#x, want USER_IMG_BASE %#x", p.Frame.Elr, bsp.USERIMGBase)
	}
	if p.Frame.Spsr != trap.SpsrEL0t {
		t.Errorf("Spsr = %#x, want %#x", p.Frame.Spsr, trap.SpsrEL0t)
	}
	wantStackTop := uint64(bsp.USERStackBase + vm.Page - 16)
	if p.Frame.Sp != wantStackTop {
		t.Errorf("Sp = %#x, want %#x", p.Frame.Sp, wantStackTop)
	}
	if p.Frame.Sp%16 != 0 {
		t.Errorf("Sp = %#x is not 16-byte aligned", p.Frame.Sp)
	}
	if p.Frame.Ttbr0 != uint64(kpt.Base()) {
		t.Errorf("Ttbr0 = %#x, want kernel table base %#x", p.Frame.Ttbr0, kpt.Base())
	}

	if !p.userPT.IsValid(bsp.USERStackBase) {
		t.Error("user stack page not mapped after Load")
	}
	if !p.userPT.IsValid(bsp.USERIMGBase) {
		t.Error("first image page not mapped after Load")
	}
	if !p.userPT.IsValid(bsp.USERIMGBase + vm.Page) {
		t.Error("second image page not mapped after Load (image spans two pages)")
	}
}

func TestLoadStopsAtEOF(t *testing.T) {
	a := newTestAllocator(t, 4*1024*1024)
	kpt := vm.New(a, vm.RW)
	defer kpt.Destroy()
	p := New(a, kpt)
	defer p.Release()

	if err := p.Load(newFakeFile([]byte{1, 2, 3})); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if p.userPT.IsValid(bsp.USERIMGBase + vm.Page) {
		t.Error("second image page mapped despite a single-page file")
	}
}

func TestIsReadyStateMachine(t *testing.T) {
	a := newTestAllocator(t, 4*1024*1024)
	kpt := vm.New(a, vm.RW)
	defer kpt.Destroy()
	p := New(a, kpt)
	defer p.Release()

	if !p.IsReady() {
		t.Fatal("fresh process (State=Ready) should be ready")
	}

	p.State = Running
	if p.IsReady() {
		t.Fatal("Running must never be ready")
	}

	p.State = Dead
	if p.IsReady() {
		t.Fatal("Dead must never be ready")
	}

	ready := false
	p.Wait(func(proc *Process) bool { return ready })
	if p.IsReady() {
		t.Fatal("Waiting with a false predicate must not be ready")
	}
	ready = true
	if !p.IsReady() {
		t.Fatal("Waiting with a now-true predicate should transition to Ready")
	}
	if p.State != Ready {
		t.Fatalf("State after predicate fires = %v, want Ready", p.State)
	}
}

func TestWaitPredicateCanMutateFrame(t *testing.T) {
	a := newTestAllocator(t, 4*1024*1024)
	kpt := vm.New(a, vm.RW)
	defer kpt.Destroy()
	p := New(a, kpt)
	defer p.Release()

	p.Wait(func(proc *Process) bool {
		proc.Frame.X[0] = 150 // e.g. sleep's elapsed-ms return value
		return true
	})
	if !p.IsReady() {
		t.Fatal("predicate should have fired")
	}
	if p.Frame.X[0] != 150 {
		t.Fatalf("X[0] = %d, want 150", p.Frame.X[0])
	}
}

func TestReleaseReturnsStackAndUserPages(t *testing.T) {
	a := newTestAllocator(t, 4*1024*1024)
	kpt := vm.New(a, vm.RW)
	defer kpt.Destroy()

	p := New(a, kpt)
	if err := p.Load(newFakeFile(make([]byte, 4))); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	p.Release()

	// After Release, up to 32 page-sized allocations must hand out
	// distinct addresses (a double free would show up as a repeat), and
	// at least one must succeed.
	const probe = vm.Page
	seen := map[uintptr]bool{}
	for i := 0; i < 32; i++ {
		addr := a.Alloc(probe, probe)
		if addr == allocator.Null {
			break
		}
		if seen[addr] {
			t.Fatalf("address %#x allocated twice, double-free or corrupt free list", addr)
		}
		seen[addr] = true
	}
	if len(seen) == 0 {
		t.Fatal("no memory available after Release; pages were not returned")
	}
}
