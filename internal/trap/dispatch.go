package trap

import (
	"github.com/dummycode/gokernel/internal/asm"
	"github.com/dummycode/gokernel/internal/console"
)

// SvcHandler, BrkHandler and IrqHandler are the registered-closure
// indirection spec §9 calls "dynamic dispatch for IRQ handlers" and
// "global singletons ... replaced in place by initialize()": the trap
// package cannot import internal/syscall or internal/sched directly
// (both ultimately import internal/process, which embeds a TrapFrame —
// importing them back here would cycle), so cmd/kernel wires these
// three function variables during boot, in the fixed order spec §9
// and §2 require, before any trap can legitimately fire.
var (
	SvcHandler func(frame *TrapFrame, syscallNum uint16)
	BrkHandler func(frame *TrapFrame, immediate uint16)
	IrqHandler func(frame *TrapFrame)
)

// Dispatch handles one synchronous exception taken from source. It is
// reached from the exception-vector entry stub after the stub has
// spilled every register into *frame; Dispatch itself reads ESR_EL1,
// and FAR_EL1 for a fault. Brk advances
// ELR by 4 before returning so the debug shell resumes past the
// breakpoint instruction (spec §4.5); Svc and WfiWfe leave ELR
// untouched (the kernel's syscall ABI writes return values into
// x_regs, not past the svc instruction, matching §4.6's table). Any
// other Kind is fatal.
//
//go:nosplit
func Dispatch(frame *TrapFrame, source Source) {
	esr := asm.ReadEsrEl1()
	syn := DecodeESR(esr)

	switch syn.Kind {
	case KindBrk:
		if BrkHandler != nil {
			BrkHandler(frame, syn.Immediate)
		}
		frame.Elr += 4

	case KindSvc:
		if SvcHandler != nil {
			SvcHandler(frame, syn.Immediate)
		} else {
			Fatal(frame, syn, "syscall dispatcher not installed")
		}

	case KindWfiWfe:
		// Logged, ignored (spec §4.5).
		console.Puts("trap: wfi/wfe from EL0, ignored\n")

	case KindFault:
		far := asm.ReadFarEl1()
		console.Puts("trap: fault ISS=0x")
		console.Hex32(syn.ISS)
		console.Puts(" FAR=0x")
		console.Hex64(far)
		console.Putc('\n')
		Fatal(frame, syn, "unhandled synchronous fault")

	default:
		Fatal(frame, syn, "unknown synchronous exception")
	}
}

// DispatchIRQ handles an IRQ exception: spec §4.5 says the handler
// "iterate[s] the interrupt controller's pending bits and invoke[s]
// the registered handler" — that iteration lives in internal/irq;
// IrqHandler is internal/irq's entry point, installed at boot. frame
// is the interrupted process's trap frame, already spilled by the
// exception-vector stub; the timer handler needs it to preempt via
// scheduler.Switch(Ready, frame) (spec §4.4 Preemption).
//
//go:nosplit
func DispatchIRQ(frame *TrapFrame) {
	if IrqHandler != nil {
		IrqHandler(frame)
	}
}

// Fatal prints an identifying banner, reason, the decoded syndrome (EC,
// ISS, immediate) and the frame's ELR, SPSR and PID, then halts in an
// infinite low-power loop. No source file/line is printed; ELR locates
// the faulting instruction. Kept distinct from Go's own panic/recover:
// at the point a trap is fatal there is no guarantee a goroutine stack
// or the runtime's own deadlock machinery is in a state where panic()
// could unwind safely, so this always halts rather than panicking.
//
//go:nosplit
func Fatal(frame *TrapFrame, syn Syndrome, reason string) {
	console.Puts("\n*** KERNEL PANIC ***\n")
	console.Puts(reason)
	console.Puts("\nEC=0x")
	console.Hex32(uint32(syn.EC))
	console.Puts(" ISS=0x")
	console.Hex32(syn.ISS)
	console.Puts(" IMM=0x")
	console.Hex32(uint32(syn.Immediate))
	console.Puts(" ELR=0x")
	console.Hex64(frame.Elr)
	console.Puts(" SPSR=0x")
	console.Hex64(frame.Spsr)
	console.Puts(" PID=")
	console.Decimal(int64(frame.Tpidr))
	console.Putc('\n')
	Halt()
}
