// Copyright 2026 The KTOS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sched is the thread manager: a fixed thread table, a FIFO ready
// list, condition variables, recursive locks, alarms, and the interrupt
// manager. It is the single-hart core of the kernel.
//
// Threads are goroutines gated by a baton: exactly one thread goroutine
// runs at a time, and every suspension point hands the baton to the next
// ready thread (installing that thread's address space on the way).
// Interrupt service routines run synchronously on the running thread, in
// the middle of the MMIO access or clock operation that raised them, which
// is why broadcast never yields.
//
// Like its subject matter, the package is a process-wide singleton,
// initialized exactly once per machine by Init.
package sched

import (
	"fmt"
	"time"

	"github.com/sarasehgal/Unix-style-OS-Development/pkg/hw"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kerr"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/log"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/mem"
)

// NThreads is the size of the thread table.
const NThreads = 32

// Fixed thread ids.
const (
	MainTID = 0
	IdleTID = NThreads - 1
)

// State is a thread's scheduling state.
type State int

// Thread states.
const (
	Uninitialized State = iota
	Waiting
	Running
	Ready
	Exited
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case Waiting:
		return "WAITING"
	case Running:
		return "RUNNING"
	case Ready:
		return "READY"
	case Exited:
		return "EXITED"
	default:
		return "UNDEFINED"
	}
}

// Thread is one schedulable activity.
type Thread struct {
	id        int
	name      string
	state     State
	parent    *Thread
	listNext  *Thread
	waitCond  *Condition
	childExit Condition

	// lockList threads through the locks this thread currently owns, via
	// each lock's next pointer. Exit force-releases them in order.
	lockList *Lock

	// space is the address space installed when this thread runs; zero
	// means the main space (pure kernel thread or the main process).
	space mem.Tag

	// stackPPN is the thread's kernel stack page. Its top 8 bytes are the
	// stack anchor: the thread's own id, which is what the trap entry stub
	// reads through the scratch register to find the current thread.
	stackPPN   uint64
	stackFreed bool

	// Proc is an opaque back-pointer to the owning process, nil for pure
	// kernel threads. The process manager owns it.
	Proc any

	gate chan struct{}
}

// ID returns the thread id.
func (t *Thread) ID() int { return t.id }

// Name returns the thread name.
func (t *Thread) Name() string { return t.name }

// kernel-wide scheduler state. One machine, one hart.
var (
	machine *hw.Machine
	mman    *mem.Manager

	thrtab       [NThreads]*Thread
	readyList    threadList
	running      *Thread
	switchedFrom *Thread

	// onHalt runs when the main thread exits or the machine is otherwise
	// halted. It must not return.
	onHalt func(success bool)

	// AllowIdleBlock lets the idle thread block on host events when no
	// timer is pending. Interactive hosts set it; tests leave it unset so
	// a hung machine fails fast.
	AllowIdleBlock bool

	initialized bool
)

// threadExited is the panic value used to unwind a goroutine whose thread
// has exited from deep in a trap handler.
type threadExited struct{}

// Init initializes the thread manager, binding the calling goroutine as the
// main thread and spawning the idle thread. It must run before any other
// function in this package, once per machine.
func Init(m *hw.Machine, mm *mem.Manager) {
	machine = m
	mman = mm
	thrtab = [NThreads]*Thread{}
	readyList = threadList{}
	switchedFrom = nil
	AllowIdleBlock = false
	onHalt = func(success bool) {
		panic(fmt.Sprintf("machine halted (success=%v)", success))
	}

	main := &Thread{id: MainTID, name: "main", state: Running, gate: make(chan struct{}, 1)}
	main.childExit.name = "main.child_exit"
	thrtab[MainTID] = main
	running = main

	idle := &Thread{id: IdleTID, name: "idle", state: Ready, parent: main, gate: make(chan struct{}, 1)}
	idle.childExit.name = "idle.child_exit"
	thrtab[IdleTID] = idle
	readyList.insert(idle)
	go func() {
		<-idle.gate
		reapPrevious()
		enableInterrupts()
		idleLoop()
	}()

	initTimer()
	initInterrupts()
	initialized = true
}

// SetHaltFn installs the machine halt hook.
func SetHaltFn(fn func(success bool)) { onHalt = fn }

// Current returns the running thread (the thread-pointer register).
func Current() *Thread { return running }

// RunningThread returns the running thread's id.
func RunningThread() int { return running.id }

// ThreadByID returns the thread with the given id, or nil.
func ThreadByID(tid int) *Thread {
	if tid < 0 || tid >= NThreads {
		return nil
	}
	return thrtab[tid]
}

// Spawn creates a thread that runs entry and then exits, marks it READY and
// places it on the ready list. It returns the new thread's id.
func Spawn(name string, entry func()) (int, error) {
	tid := 1
	for tid < NThreads && thrtab[tid] != nil {
		tid++
	}
	if tid == NThreads {
		return 0, kerr.ErrMaxThreads
	}

	stack, err := mman.AllocPhysPage()
	if err != nil {
		return 0, err
	}
	t := &Thread{
		id:       tid,
		name:     name,
		state:    Ready,
		parent:   running,
		stackPPN: stack,
		gate:     make(chan struct{}, 1),
	}
	t.childExit.name = "child_exit"
	writeStackAnchor(stack, tid)
	thrtab[tid] = t

	pie := DisableInterrupts()
	readyList.insert(t)
	RestoreInterrupts(pie)

	go func() {
		<-t.gate
		reapPrevious()
		enableInterrupts()
		defer func() {
			if r := recover(); r != nil {
				if _, ok := r.(threadExited); ok {
					return
				}
				panic(r)
			}
		}()
		entry()
		Exit()
	}()

	log.Debugf("sched: spawned <%s:%d>", name, tid)
	return tid, nil
}

// Yield suspends the running thread and returns when it is next scheduled.
func Yield() {
	suspend()
}

// Exit terminates the running thread: every held lock is force-released,
// the thread is marked EXITED, its child-exit condition is broadcast, and
// it never runs again. The main thread exiting halts the machine.
func Exit() {
	t := running
	for t.lockList != nil {
		l := t.lockList
		t.lockList = l.next
		l.owner = nil
		l.count = 0
		l.cv.Broadcast()
	}
	if t.id == MainTID {
		onHalt(true)
		panic("sched: halt hook returned")
	}
	setState(t, Exited)
	t.childExit.Broadcast()
	handoff()
	panic(threadExited{})
}

// Join waits for a child thread to exit and reclaims it, returning its id.
// With tid zero it picks any child other than the idle thread, which never
// exits; a tid that is not a child of the caller fails with EINVAL.
func Join(tid int) (int, error) {
	var child *Thread
	if tid < 0 || tid >= NThreads {
		return 0, kerr.ErrInvalid
	}
	if tid > 0 {
		child = thrtab[tid]
		if child == nil || child.parent != running {
			return 0, kerr.ErrInvalid
		}
	} else {
		for i := 1; i < IdleTID; i++ {
			if thrtab[i] != nil && thrtab[i].parent == running {
				child = thrtab[i]
				break
			}
		}
		if child == nil {
			return 0, kerr.ErrInvalid
		}
		tid = child.id
	}

	for child.state != Exited {
		child.childExit.Wait()
	}

	pie := DisableInterrupts()
	reclaim(tid)
	RestoreInterrupts(pie)
	return tid, nil
}

// reclaim frees an exited thread's slot and reparents its children to the
// exited thread's parent.
func reclaim(tid int) {
	t := thrtab[tid]
	if t == nil || t.state != Exited {
		panic(fmt.Sprintf("sched: reclaim of live thread %d", tid))
	}
	for i := 1; i < NThreads; i++ {
		if thrtab[i] != nil && thrtab[i].parent == t {
			thrtab[i].parent = t.parent
		}
	}
	if !t.stackFreed && t.stackPPN != 0 {
		mman.FreePhysPage(t.stackPPN)
		t.stackFreed = true
	}
	thrtab[tid] = nil
}

// SetSpace installs the address space a thread runs under.
func SetSpace(tid int, tag mem.Tag) {
	if t := ThreadByID(tid); t != nil {
		t.space = tag
	}
}

// suspend hands the hart to the next ready thread and returns when the
// caller is next scheduled. If the caller is still RUNNING it goes back on
// the ready list; a WAITING or EXITED caller stays off it.
func suspend() {
	pie := DisableInterrupts()
	cur := running
	if cur.state == Running {
		setState(cur, Ready)
		readyList.insert(cur)
	}
	next := readyList.remove()
	if next == nil {
		next = thrtab[IdleTID]
	}
	setState(next, Running)
	if next.space == 0 {
		mman.ResetActiveSpace()
	} else {
		mman.SwitchSpace(next.space)
	}
	running = next
	if next == cur {
		RestoreInterrupts(pie)
		return
	}
	switchedFrom = cur
	next.gate <- struct{}{}
	<-cur.gate
	reapPrevious()
	RestoreInterrupts(pie)
}

// handoff is the tail of Exit: pick and start the next thread without ever
// resuming the caller.
func handoff() {
	DisableInterrupts()
	cur := running
	next := readyList.remove()
	if next == nil {
		next = thrtab[IdleTID]
	}
	setState(next, Running)
	if next.space == 0 {
		mman.ResetActiveSpace()
	} else {
		mman.SwitchSpace(next.space)
	}
	running = next
	switchedFrom = cur
	// The resumed thread restores the interrupt-enable state from its own
	// suspend frame (or its startup trampoline).
	next.gate <- struct{}{}
}

// reapPrevious frees the kernel stack of the thread that ran immediately
// before the caller, if it exited. Runs first thing after every baton
// receive, mirroring the post-switch cleanup in the context-switch path.
func reapPrevious() {
	prev := switchedFrom
	switchedFrom = nil
	if prev != nil && prev.state == Exited && !prev.stackFreed && prev.stackPPN != 0 {
		mman.FreePhysPage(prev.stackPPN)
		prev.stackFreed = true
	}
}

func setState(t *Thread, s State) {
	log.Debugf("sched: <%s:%d> %s -> %s", t.name, t.id, t.state, s)
	t.state = s
}

// writeStackAnchor stores the thread id at the top of its kernel stack
// page, where the trap entry stub finds the current thread.
func writeStackAnchor(ppn uint64, tid int) {
	p := machine.Page(ppn)
	for i := 0; i < 8; i++ {
		p[hw.PageSize-8+i] = byte(tid >> (8 * i))
	}
}

// idleLoop busy-yields while work is pending and otherwise waits for an
// interrupt, fast-forwarding the virtual clock to the next timer deadline.
func idleLoop() {
	for {
		for !readyList.empty() {
			Yield()
		}
		pie := DisableInterrupts()
		if readyList.empty() {
			wfi()
		}
		RestoreInterrupts(pie)
	}
}

func wfi() {
	// Host events (console input) are the one wakeup source the timer
	// cannot model; drain any that queued while the machine was busy.
	drained := false
	for {
		select {
		case fn := <-machine.Events:
			fn()
			drained = true
			continue
		default:
		}
		break
	}
	if drained {
		return
	}
	// Interactive machines pace virtual time against the host clock so
	// an idle guest does not spin.
	if AllowIdleBlock {
		select {
		case fn := <-machine.Events:
			fn()
			return
		case <-time.After(time.Millisecond):
		}
	}
	// Interrupts are disabled; firing is deferred until the caller
	// restores them, exactly like wfi with SIE clear.
	if machine.Clock.WFI() {
		return
	}
	// No timer pending. Either block for a host event (interactive
	// machines) or declare the machine hung.
	if AllowIdleBlock {
		fn := <-machine.Events
		fn()
		return
	}
	panic("sched: all threads blocked with no timer pending")
}
