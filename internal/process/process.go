// Package process implements the Process object spec §4.3 describes:
// a trap frame, a kernel-mode stack region, an owned user page table,
// and a scheduling State. internal/sched owns the queue of these;
// internal/process owns only a single process's own lifecycle.
package process

import (
	"io"

	"github.com/dummycode/gokernel/internal/allocator"
	"github.com/dummycode/gokernel/internal/bsp"
	"github.com/dummycode/gokernel/internal/kernerr"
	"github.com/dummycode/gokernel/internal/trap"
	"github.com/dummycode/gokernel/internal/vm"
)

// KernelStackSize is the size of the kernel-mode stack region reserved
// for each process (spec §4.3 "new() reserves a kernel stack from the
// heap"). The spec names no fixed size; 16 KiB follows the teacher's
// own kernel-stack sizing for a single-threaded EL1 call depth (no
// recursion beyond a handful of nested trap/syscall frames).
const KernelStackSize = 16 * 1024

// StackAlign is the minimum alignment a kernel stack region needs; the
// AArch64 calling convention requires 16-byte SP alignment at every
// public interface.
const StackAlign = 16

// State is the scheduling state a Process can be in (spec §3
// Process: "State ∈ {Ready, Running, Waiting(predicate), Dead}").
type State int

const (
	Ready State = iota
	Running
	Waiting
	Dead
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Waiting:
		return "waiting"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Predicate is an event predicate (spec §3, §9): a movable closure
// `(&mut Process) -> bool` that may mutate the process's trap frame
// (to deliver a return value, e.g. sleep's elapsed-ms) before
// returning true. Once it returns true it is discarded.
type Predicate func(p *Process) bool

// File is the minimal surface internal/process needs from the
// external file-system collaborator (spec §6: "open file by
// POSIX-style absolute path; returns a stream with size and blocking
// read"). internal/fs's open file handle satisfies this without
// internal/process importing internal/fs, avoiding a dependency on
// the SD/FAT32 stack for a package that has nothing to do with block
// I/O.
type File interface {
	Size() int64
	Read(buf []byte) (int, error)
}

// Process bundles the four pieces of per-process state spec §4.3
// names. Frame is embedded (not pointed to) so the scheduler can copy
// registers into/out of it by value, matching spec §4.4's
// "copy tf into its context" / "copy its context into *tf" language.
type Process struct {
	Frame trap.TrapFrame

	State    State
	waitPred Predicate

	kernelPT   *vm.PageTable // shared kernel table, loaded as ttbr0
	userPT     *vm.PageTable // this process's own, loaded as ttbr1
	alloc      *allocator.Allocator
	stackBase  uintptr
	stackSize  uintptr
}

// New reserves a kernel stack and a fresh, empty user page table
// (spec §4.3 "new()"). kernelPT is the single shared kernel page
// table every process loads into ttbr0; it is not owned by the
// Process and is not released on Release. Returns nil if the
// allocator cannot supply either the stack or the three page-table
// pages.
func New(a *allocator.Allocator, kernelPT *vm.PageTable) *Process {
	stack := a.Alloc(KernelStackSize, StackAlign)
	if stack == allocator.Null {
		return nil
	}

	userPT := vm.New(a, vm.RW)
	if userPT == nil {
		a.Dealloc(stack, KernelStackSize)
		return nil
	}

	return &Process{
		State:     Ready,
		kernelPT:  kernelPT,
		userPT:    userPT,
		alloc:     a,
		stackBase: stack,
		stackSize: KernelStackSize,
	}
}

// Load fills a freshly New'd process's address space from f and
// initializes its trap frame for first entry (spec §4.3 "load(path)").
// It allocates one RW page at USER_STACK_BASE and repeatedly allocates
// RWX pages at USER_IMG_BASE, filling them from f until EOF or until
// f.Size() bytes have been read, so no page is mapped past the image.
func (p *Process) Load(f File) error {
	if p.userPT.Alloc(bsp.USERStackBase, vm.RW) == nil {
		return kernerr.New("process", "failed to allocate user stack page")
	}

	va := bsp.USERIMGBase
	var loaded int64
	for {
		page := p.userPT.Alloc(va, vm.RWX)
		if page == nil {
			return kernerr.New("process", "failed to allocate user image page")
		}

		n, err := f.Read(page)
		loaded += int64(n)
		if err == io.EOF || (err == nil && loaded >= f.Size()) {
			break
		}
		if err != nil {
			return err
		}

		va += vm.Page
	}

	stackTop := bsp.USERStackBase + vm.Page - 16

	p.Frame.Sp = uint64(stackTop)
	p.Frame.Elr = uint64(bsp.USERIMGBase)
	p.Frame.Spsr = trap.SpsrEL0t
	p.Frame.Ttbr0 = uint64(p.kernelPT.Base())
	p.Frame.Ttbr1 = uint64(p.userPT.Base())

	return nil
}

// Pid returns the process's identity, stamped into the trap frame's
// tpidr slot by the scheduler on add (spec §3 Process: "Identity: a
// 64-bit pid stored in the trap frame's tpidr slot").
func (p *Process) Pid() uint64 {
	return p.Frame.Tpidr
}

// KernelStackTop returns the highest address of this process's
// reserved kernel-mode stack region, for the boot trampoline / trap
// entry assembly to load into SP_EL1 while this process is current.
func (p *Process) KernelStackTop() uintptr {
	return p.stackBase + p.stackSize
}

// Wait transitions the process to Waiting(pred) (spec §4.3
// Readiness). pred is polled by IsReady on every future call until it
// returns true, at which point it is discarded.
func (p *Process) Wait(pred Predicate) {
	p.State = Waiting
	p.waitPred = pred
}

// IsReady reports whether the process should be considered for
// scheduling (spec §4.3: "returns true if state is Ready, or if state
// is Waiting(pred) and polling pred(self) returns true — in which case
// the state transitions Waiting -> Ready. Dead and Running are never
// ready.").
func (p *Process) IsReady() bool {
	switch p.State {
	case Ready:
		return true
	case Waiting:
		if p.waitPred != nil && p.waitPred(p) {
			p.State = Ready
			p.waitPred = nil
			return true
		}
		return false
	default:
		return false
	}
}

// Release returns the process's kernel stack and user page table (and
// transitively every valid L3-mapped page within it) to the allocator
// (spec §5 "Resource release": "Dropping a Process releases its
// kernel stack..., its trap frame, and its user page table"). Safe to
// call at most once; Process is zeroed afterward.
func (p *Process) Release() {
	if p.userPT != nil {
		p.userPT.Destroy()
	}
	if p.stackBase != allocator.Null {
		p.alloc.Dealloc(p.stackBase, p.stackSize)
	}
	*p = Process{}
}
