// Package syscall implements the five-entry synchronous system call
// table spec §4.6 defines. Svc immediates select the entry; arguments
// and return values travel through the trap frame's x registers.
//
// Grounded on the teacher's own svc-immediate dispatch in
// exceptions.go's HandleSyscall, which switches on a decoded immediate
// and reads/writes x0 directly — kept here, with the Linux-syscall
// table HandleSyscall emulated replaced entirely by this kernel's own
// five entries.
package syscall

import (
	"github.com/dummycode/gokernel/internal/bsp"
	"github.com/dummycode/gokernel/internal/console"
	"github.com/dummycode/gokernel/internal/process"
	"github.com/dummycode/gokernel/internal/sched"
	"github.com/dummycode/gokernel/internal/trap"
)

// Syscall numbers, matching the svc immediate table in spec §4.6.
const (
	Sleep  uint16 = 1
	Time   uint16 = 2
	Exit   uint16 = 3
	Write  uint16 = 4
	Getpid uint16 = 5
)

// Dispatcher holds the collaborators every blocking syscall needs: the
// scheduler (to switch away) and the system timer (to stamp sleep's
// start time and rearm the tick, spec §4.6 "Both rearm the timer
// before switching").
type Dispatcher struct {
	sched *sched.Scheduler
	timer *bsp.SystemTimer
}

// New builds a Dispatcher over the kernel's singleton scheduler and
// timer. Install its Handle method as trap.SvcHandler during boot.
func New(s *sched.Scheduler, t *bsp.SystemTimer) *Dispatcher {
	return &Dispatcher{sched: s, timer: t}
}

// Handle is trap.SvcHandler's installed target: it decodes the svc
// immediate and dispatches to the matching entry in the §4.6 table.
// An unrecognized number is fatal (spec §7: "Unimplemented syscall,
// unknown synchronous syndrome. Fatal, with full syndrome logged.").
func (d *Dispatcher) Handle(frame *trap.TrapFrame, num uint16) {
	switch num {
	case Sleep:
		d.sleep(frame)
	case Time:
		d.time(frame)
	case Exit:
		d.exit(frame)
	case Write:
		d.write(frame)
	case Getpid:
		d.getpid(frame)
	default:
		trap.Fatal(frame, trap.Syndrome{Kind: trap.KindSvc, Immediate: num}, "unimplemented syscall")
	}
}

// sleep (#1): x0 = ms (u32); blocks, returning elapsed ms in x0 on
// resume (spec §4.6: "constructs a waiting predicate closing over
// start_time and ms ... The predicate, on a future poll, writes
// elapsed milliseconds into the resumed process's x_regs[0] before
// returning true"). Elapsed-time arithmetic is done in 32-bit
// milliseconds, matching the documented wraparound limitation (spec §9
// Open Question (b)).
func (d *Dispatcher) sleep(frame *trap.TrapFrame) {
	ms := uint32(frame.X[0])
	startMs := uint32(d.timer.Now() / 1000)

	pred := func(p *process.Process) bool {
		elapsed := uint32(d.timer.Now()/1000) - startMs
		if elapsed < ms {
			return false
		}
		p.Frame.X[0] = uint64(elapsed)
		return true
	}

	d.timer.ArmTick(bsp.TICK)
	d.sched.SwitchWaiting(frame, pred)
}

// time (#2): non-blocking; x0 = whole seconds, x1 = sub-second
// milliseconds since power-on, read off the free-running system timer.
func (d *Dispatcher) time(frame *trap.TrapFrame) {
	now := d.timer.Now()
	frame.X[0] = now / 1_000_000
	frame.X[1] = (now % 1_000_000) / 1000
}

// exit (#3): terminates the calling process. Spec §4.6 describes this
// as "scheduler.switch(Dead, tf)", but a plain Switch(Dead, tf) leaves
// the now-Dead entry in the queue forever (Dead is never ready, and
// nothing else reaps it) — see DESIGN.md's Open Question resolution.
// This calls scheduler.Kill, which performs that schedule-out and also
// removes and releases the Dead entry, so exit is actually terminal
// the way spec §5 promises ("exit is terminal; there is no join").
func (d *Dispatcher) exit(frame *trap.TrapFrame) {
	d.timer.ArmTick(bsp.TICK)
	d.sched.Kill(frame)
}

// write (#4): x0 = byte to emit on the console. Non-blocking.
func (d *Dispatcher) write(frame *trap.TrapFrame) {
	console.Putc(byte(frame.X[0]))
}

// getpid (#5): x0 = pid. Non-blocking; the pid is always already
// resident in the frame's tpidr slot (spec §3 Process identity).
func (d *Dispatcher) getpid(frame *trap.TrapFrame) {
	frame.X[0] = frame.Tpidr
}
