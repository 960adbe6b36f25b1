// Command kernel is the boot entry point: it owns the global singletons
// spec §9 names (ALLOCATOR, FILESYSTEM, SCHEDULER, VMM, IRQ), brings each
// up exactly once in the fixed order the original kernel's own kmain
// uses, loads the initial set of user processes, and hands off to the
// scheduler. There is no return from main: Start below either erets into
// the first ready process or halts if none exists.
package main

import (
	"unsafe"

	"github.com/dummycode/gokernel/internal/allocator"
	"github.com/dummycode/gokernel/internal/asm"
	"github.com/dummycode/gokernel/internal/bsp"
	"github.com/dummycode/gokernel/internal/bsp/atags"
	"github.com/dummycode/gokernel/internal/console"
	"github.com/dummycode/gokernel/internal/debugshell"
	"github.com/dummycode/gokernel/internal/fs"
	"github.com/dummycode/gokernel/internal/irq"
	"github.com/dummycode/gokernel/internal/process"
	"github.com/dummycode/gokernel/internal/sched"
	"github.com/dummycode/gokernel/internal/sdhci"
	"github.com/dummycode/gokernel/internal/syscall"
	"github.com/dummycode/gokernel/internal/trap"
	"github.com/dummycode/gokernel/internal/vm"
)

// atagsPtrBoot is written by entry_arm64.s before it calls into main; see
// that file's header comment for why a register argument can't be used
// directly.
var atagsPtrBoot uintptr

// initialProcessPath is the file every boot-time process loads from
// (spec's original source loads "/fib" four times in
// GlobalScheduler::initialize — there being no shell yet to load
// anything else, this kernel keeps the same bring-up workload).
const initialProcessPath = "/fib"

// initialProcessCount mirrors the original's four-process bring-up,
// enough to exercise round-robin preemption (spec §8 S5) without
// requiring a real multi-program FAT32 image to demonstrate it.
const initialProcessCount = 4

// These are the global singletons spec §9 names (ALLOCATOR, FILESYSTEM,
// SCHEDULER, VMM, IRQ, plus the board drivers initialize() wires them to):
// an inert zero value until main's boot sequence below replaces them in
// place, exactly once, in the fixed order §2 lists. Package-level rather
// than passed through a context struct because timerTick and the
// trap.*Handler closures installed below need to reach them without
// internal/trap importing internal/sched (see dispatch.go's own comment
// on why that import would cycle).
var (
	uart   *bsp.UART
	timer  *bsp.SystemTimer
	intc   *bsp.IntController
	irqTbl *irq.Table
	vmm    *vm.PageTable
	alloc  *allocator.Allocator
	sc     *sched.Scheduler
	shell  *debugshell.Shell
)

func main() {
	uart = bsp.NewUART()
	uart.Init()
	console.SetSink(uart.PutByte)

	console.Puts("\nbooting: bin allocator, page tables, scheduler, syscalls\n")

	ramEnd := discoverRamEnd()

	alloc = allocator.New()
	alloc.Init(bsp.KernelHeapStart, ramEnd)
	console.Puts("heap: [0x")
	console.Hex64(uint64(bsp.KernelHeapStart))
	console.Puts(", 0x")
	console.Hex64(uint64(ramEnd))
	console.Puts(")\n")

	fsys := mountFileSystem()

	intc = bsp.NewIntController()
	irqTbl = irq.New(intc)

	vmm = vm.NewKernel(alloc, ramEnd, bsp.IOBase, bsp.IOBaseEnd)

	sc = sched.New()
	timer = bsp.NewSystemTimer()
	syscalls := syscall.New(sc, timer)
	shell = debugshell.New(uart)

	trap.SvcHandler = syscalls.Handle
	trap.BrkHandler = shell.HandleBrk
	irqTbl.Register(bsp.Timer1IRQSource, timerTick)
	trap.IrqHandler = irqTbl.Dispatch

	asm.SetVbarEl1(trap.VectorTableAddr())

	intc.Enable(bsp.Timer1IRQSource)
	timer.ArmTick(bsp.TICK)

	addInitialProcesses(fsys)

	console.Puts("starting scheduler\n")

	var tf trap.TrapFrame
	if sc.Start(&tf) == sched.PidNone {
		console.Puts("no ready process at boot; halting\n")
		asm.WaitForEvent()
		for {
			asm.WaitForEvent()
		}
	}

	asm.EnterUserMode(uintptr(unsafe.Pointer(&tf)))
}

// discoverRamEnd consults ATAGS for the installed memory size (spec
// §11's supplement: "discover installed RAM size before initializing
// the allocator and kernel page table"); atags.Parse's own doc comment
// calls ATAGS "a legacy convenience, not a safety-critical input", so a
// malformed or absent list falls back to a fixed, conservative size
// rather than blocking boot.
func discoverRamEnd() uintptr {
	info := atags.Parse(atagsPtrBoot)
	if info.MemSize == 0 {
		console.Puts("atags: no MEM tag, falling back to fixed heap size\n")
		return bsp.KernelHeapStart + bsp.KernelHeapSizeFallback
	}
	return uintptr(info.MemStart) + uintptr(info.MemSize)
}

// mountFileSystem brings up the SD/SDHCI block device and the FAT32
// collaborator on top of it (spec §11 supplement). A failure here is
// fatal: every initial process load in addInitialProcesses depends on
// it, and there is no fallback in-memory image on real hardware.
func mountFileSystem() *fs.FileSystem {
	dev, err := sdhci.New(bsp.PeripheralBase + 0x300000)
	if err != nil {
		console.Puts("sdhci init failed: ")
		console.Puts(err.Error())
		console.Putc('\n')
		trap.Halt()
	}

	fsys, err := fs.New(dev)
	if err != nil {
		console.Puts("fat32 mount failed: ")
		console.Puts(err.Error())
		console.Putc('\n')
		trap.Halt()
	}
	return fsys
}

// timerTick is installed as the Timer1 IRQ handler (spec §4.4
// Preemption: "arms the next tick, then invokes switch(Ready, tf)").
// AckTick runs before ArmTick so a stale pending bit from this same
// interrupt can't immediately refire once IRQs are next unmasked.
func timerTick(frame *trap.TrapFrame) {
	timer.AckTick()
	timer.ArmTick(bsp.TICK)
	sc.Switch(process.Ready, frame)
}

// addInitialProcesses loads the bring-up workload (spec §11 supplement,
// grounded on GlobalScheduler::initialize's four "/fib" loads). A
// process that fails to build or load is dropped with a console
// message rather than aborting boot — partial bring-up is preferable
// to no scheduler at all.
func addInitialProcesses(fsys *fs.FileSystem) {
	for i := 0; i < initialProcessCount; i++ {
		p := process.New(alloc, vmm)
		if p == nil {
			console.Puts("process.New failed, out of memory\n")
			continue
		}

		f, err := fsys.Open(initialProcessPath)
		if err != nil {
			console.Puts("open ")
			console.Puts(initialProcessPath)
			console.Puts(" failed: ")
			console.Puts(err.Error())
			console.Putc('\n')
			continue
		}

		if err := p.Load(f); err != nil {
			console.Puts("load ")
			console.Puts(initialProcessPath)
			console.Puts(" failed: ")
			console.Puts(err.Error())
			console.Putc('\n')
			continue
		}

		if !sc.Add(p) {
			console.Puts("scheduler full, dropping process\n")
			return
		}
	}
}
