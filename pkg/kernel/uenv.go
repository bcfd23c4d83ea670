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

package kernel

import (
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/loader"
)

// UserContext abstracts the execution of a thread's user-mode code, in the
// way a platform context does for a hosted kernel: the kernel constructs a
// trap frame and hands control to the context, which runs until the
// process is done. The stock implementation executes registered Go
// programs whose syscalls and memory touches go through the real trap and
// translation paths.
type UserContext interface {
	// Run executes user code starting at the trap frame until the process
	// exits. It may return, which the kernel treats as an exit.
	Run(env *UserEnv, tf *TrapFrame)

	// Clone returns the context a forked child starts with.
	Clone() UserContext
}

// Program is the body of a user program.
type Program func(env *UserEnv)

// goContext runs Go user programs. Fork uses continuation passing: the
// parent registers the child's body immediately before the fork syscall,
// and Clone hands it to the child context. The kernel-side fork semantics
// (trap-frame copy ordering, space clone, descriptor duplication) are
// identical to a PC-duplicating fork.
type goContext struct {
	main         Program
	pendingChild Program
}

// Run implements UserContext.Run.
func (c *goContext) Run(env *UserEnv, tf *TrapFrame) {
	c.main(env)
}

// Clone implements UserContext.Clone.
func (c *goContext) Clone() UserContext {
	if c.pendingChild != nil {
		return &goContext{main: c.pendingChild}
	}
	return &goContext{main: c.main}
}

// RegisterProgram adds a user program to the kernel's image registry and
// returns an ELF image that execs into it. The entry point is the
// program's identity: loading any image with that entry runs the
// registered body.
func (k *Kernel) RegisterProgram(name string, prog Program) []byte {
	entry := k.nextProg
	k.nextProg += 0x10000
	k.programs[entry] = prog

	// The text segment carries the program name, so images differ on disk
	// and the loader has real bytes to move.
	b := loader.ImageBuilder{
		Entry: entry,
		Segments: []loader.Segment{
			{Vaddr: entry, Data: append([]byte(name), 0), Flags: loader.PfR | loader.PfX},
		},
	}
	return b.Build()
}

// UserEnv is the machine-facing side of a running user program: syscalls
// and user-memory access, each routed through the kernel's trap paths.
type UserEnv struct {
	k  *Kernel
	p  *Process
	tf *TrapFrame
}

// Syscall issues an environment call: arguments go to the argument
// registers, the syscall number to a7, and the trap dispatcher runs. The
// result is what lands back in a0.
func (e *UserEnv) Syscall(num uint64, args ...uint64) int64 {
	for i := range e.tf.A {
		e.tf.A[i] = 0
	}
	for i, a := range args {
		e.tf.A[i] = a
	}
	e.tf.A[7] = num
	e.k.HandleUmodeException(CauseEcallUmode, e.tf, 0)
	return int64(e.tf.A[0])
}

// Fork forks the process; the child runs the given body. The parent gets
// the child's thread id (or a negative error), the child's frame gets 0.
func (e *UserEnv) Fork(child Program) int64 {
	if c, ok := e.p.uctx.(*goContext); ok {
		c.pendingChild = child
		defer func() { c.pendingChild = nil }()
	}
	return e.Syscall(SysFork)
}

// Exit terminates the process. It does not return.
func (e *UserEnv) Exit() {
	e.Syscall(SysExit)
	panic("kernel: exit syscall returned")
}

// Store writes to user memory the way a user-mode store would: an
// unserviceable fault terminates the process, a serviceable one is
// demand-mapped and the access retried.
func (e *UserEnv) Store(vma uint64, buf []byte) {
	for len(buf) > 0 {
		n := chunkWithinPage(vma, len(buf))
		if err := e.k.MM.WriteUser(vma, buf[:n]); err != nil {
			e.k.HandleUmodeException(CauseStorePageFault, e.tf, vma)
			if err := e.k.MM.WriteUser(vma, buf[:n]); err != nil {
				// Unreachable: an unserviced fault has exited.
				panic("kernel: user store failed after fault service")
			}
		}
		vma += uint64(n)
		buf = buf[n:]
	}
}

// Load reads user memory the way a user-mode load would.
func (e *UserEnv) Load(vma uint64, buf []byte) {
	for len(buf) > 0 {
		n := chunkWithinPage(vma, len(buf))
		if err := e.k.MM.ReadUser(vma, buf[:n]); err != nil {
			e.k.HandleUmodeException(CauseLoadPageFault, e.tf, vma)
			if err := e.k.MM.ReadUser(vma, buf[:n]); err != nil {
				panic("kernel: user load failed after fault service")
			}
		}
		vma += uint64(n)
		buf = buf[n:]
	}
}

// Frame exposes the trap frame, mainly so programs can read argc/argv.
func (e *UserEnv) Frame() *TrapFrame { return e.tf }

// Kernel returns the owning kernel, for test scaffolding.
func (e *UserEnv) Kernel() *Kernel { return e.k }

func chunkWithinPage(vma uint64, n int) int {
	room := int(4096 - vma%4096)
	if n < room {
		return n
	}
	return room
}
