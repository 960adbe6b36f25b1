// Package sched implements the preemptive round-robin scheduler spec
// §4.4 describes: a single global FIFO queue of processes, of which at
// most one is Running and it is always the queue head.
//
// Grounded on the teacher's own single-threaded, interrupt-driven
// control flow (no goroutine scheduler beneath this kernel — every
// kernel-entry path runs to completion before a user process resumes,
// spec §5), adapted from "there is exactly one Go scheduler" to "there
// is exactly one queue of EL0 processes this package owns."
package sched

import (
	"math"

	"github.com/dummycode/gokernel/internal/asm"
	"github.com/dummycode/gokernel/internal/process"
	"github.com/dummycode/gokernel/internal/spinlock"
	"github.com/dummycode/gokernel/internal/trap"
)

// PidNone is the sentinel switchTo returns when no queued process is
// ready (spec §4.4 "switch_to(tf) ... If none is ready, returns a
// sentinel").
const PidNone uint64 = math.MaxUint64

// Scheduler owns the single global FIFO (spec §4.4 invariants: "A
// single global FIFO of processes. At any moment at most one is
// Running and is positioned at the head."). lock serializes every
// exported entry point (spec §5: "the scheduler queue ... wrapped in a
// process-wide spinlock"); the scheduler is the outermost lock in the
// stated order (scheduler -> IRQ table -> allocator), so it may be held
// across calls into the allocator (via process.Release, from Kill) but
// must never be acquired from inside the IRQ table's or the
// allocator's own critical section.
type Scheduler struct {
	queue     []*process.Process
	nextPID   uint64
	exhausted bool
	lock      spinlock.Spinlock
}

// New returns an empty scheduler. Matches the two-phase singleton
// lifecycle spec §9 describes: this value is inert until cmd/kernel's
// main adds the boot processes and installs the timer handler.
func New() *Scheduler {
	return &Scheduler{}
}

// Len reports the number of processes currently queued, including any
// not-yet-reaped Dead entries.
func (s *Scheduler) Len() int {
	return len(s.queue)
}

// Add stamps p's PID and pushes it to the back of the queue (spec
// §4.4 "add(p): Stamp p.tpidr = next_pid, push to the back. Fails only
// on PID overflow."). PIDs are a monotonically increasing uint64
// counter; Add fails once the counter has already issued
// math.MaxUint64 and a further PID cannot be minted without wrapping
// to 0 (which would collide with the first process ever added).
func (s *Scheduler) Add(p *process.Process) bool {
	s.lock.Lock()
	if s.exhausted {
		s.lock.Unlock()
		return false
	}
	p.Frame.Tpidr = s.nextPID
	if s.nextPID == PidNone {
		s.exhausted = true
	} else {
		s.nextPID++
	}
	s.queue = append(s.queue, p)
	s.lock.Unlock()
	return true
}

// scheduleOut locates the process whose tpidr matches tf.Tpidr (the
// currently running one), copies tf into its context, sets its state,
// and moves it to the tail (spec §4.4 "schedule_out(state, tf)").
// Returns false if no process with that PID is queued, which is a
// programming error by the caller (tf always belongs to the process
// currently Running).
func (s *Scheduler) scheduleOut(state process.State, tf *trap.TrapFrame) bool {
	for i, p := range s.queue {
		if p.Frame.Tpidr != tf.Tpidr {
			continue
		}
		p.Frame = *tf
		p.State = state
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		s.queue = append(s.queue, p)
		return true
	}
	return false
}

// switchTo walks the queue from the head and makes the first process
// whose IsReady() returns true the new head (spec §4.4 "switch_to(tf):
// Walk the queue from the head; the first process whose is_ready()
// returns true becomes the new head, transitions to Running, and has
// its context copied into *tf. Returns its PID. If none is ready,
// returns a sentinel."). Waiting predicates are polled in queue order,
// matching spec §5's ordering guarantee.
func (s *Scheduler) switchTo(tf *trap.TrapFrame) uint64 {
	for i, p := range s.queue {
		if !p.IsReady() {
			continue
		}
		p.State = process.Running
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		s.queue = append([]*process.Process{p}, s.queue...)
		*tf = p.Frame
		return p.Pid()
	}
	return PidNone
}

// Switch schedules the running process out into newState, then parks
// the CPU in a low-power wait-for-event loop, retrying switchTo, until
// some process becomes ready (spec §4.4 "switch(new_state, tf):
// schedule_out(new_state, tf) followed by a loop of switch_to that
// parks the CPU in a low-power wait-for-event between attempts;
// returns when some process becomes ready.").
func (s *Scheduler) Switch(newState process.State, tf *trap.TrapFrame) uint64 {
	s.lock.Lock()
	s.scheduleOut(newState, tf)
	pid := s.retryUntilReady(tf)
	s.lock.Unlock()
	return pid
}

// SwitchWaiting is Switch specialized for the one state that carries a
// closure (spec §3 "State ∈ {..., Waiting(predicate), ...}", §4.6
// "sleep constructs a waiting predicate closing over start_time and
// ms, invokes scheduler.switch(Waiting(pred), tf)"). Go's State enum
// carries no payload, so the predicate is installed on the located
// process directly, immediately after schedule_out moves it to the
// tail and before the retry loop ever polls it.
func (s *Scheduler) SwitchWaiting(tf *trap.TrapFrame, pred process.Predicate) uint64 {
	s.lock.Lock()
	s.scheduleOut(process.Waiting, tf)
	for _, p := range s.queue {
		if p.Pid() == tf.Tpidr {
			p.Wait(pred)
			break
		}
	}
	pid := s.retryUntilReady(tf)
	s.lock.Unlock()
	return pid
}

// retryUntilReady is the shared tail of Switch/SwitchWaiting: poll
// switchTo, parking on a low-power wait-for-event between attempts,
// until some process becomes ready.
func (s *Scheduler) retryUntilReady(tf *trap.TrapFrame) uint64 {
	for {
		if pid := s.switchTo(tf); pid != PidNone {
			return pid
		}
		asm.WaitForEvent()
	}
}

// Kill schedules the running process out as Dead, removes and releases
// the first Dead entry in the queue, then retries switchTo until some
// other process becomes ready (spec §4.4 "kill(tf): schedule_out(Dead,
// tf); then remove the first Dead entry from the queue and drop it
// (which triggers user-page-table destruction, §4.2)."). Like Switch,
// Kill always leaves *tf holding the next Running process's context:
// the caller's own process no longer exists, so returning without
// picking a new head would resume a released process's stale
// registers over a destroyed page table (invariant 6: no process is
// Running after exit).
func (s *Scheduler) Kill(tf *trap.TrapFrame) uint64 {
	s.lock.Lock()
	s.scheduleOut(process.Dead, tf)
	for i, p := range s.queue {
		if p.State != process.Dead {
			continue
		}
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		p.Release()
		break
	}
	pid := s.retryUntilReady(tf)
	s.lock.Unlock()
	return pid
}

// Start pulls the first ready process's registers into tf via
// switchTo, for cmd/kernel's boot trampoline to load into the core and
// eret into (spec §4.4 "Bootstrap (start)"). tf is a throwaway frame;
// the caller never returns through Go code after this — the assembly
// trampoline restores every register from tf and erets.
func (s *Scheduler) Start(tf *trap.TrapFrame) uint64 {
	s.lock.Lock()
	pid := s.switchTo(tf)
	s.lock.Unlock()
	return pid
}
