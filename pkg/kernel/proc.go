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
	"encoding/binary"

	"github.com/sarasehgal/Unix-style-OS-Development/pkg/hw"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kerr"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kio"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/loader"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/log"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/mem"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/sched"
)

// Table sizes.
const (
	NProc        = 16
	ProcessIOMax = 16
)

// Process is a slot in the process table: an owning thread, an address
// space, and a descriptor table of I/O endpoints.
type Process struct {
	k     *Kernel
	idx   int
	tid   int
	mtag  mem.Tag
	iotab [ProcessIOMax]*kio.IO
	uctx  UserContext
}

// ID returns the process table index.
func (p *Process) ID() int { return p.idx }

// TID returns the owning thread id.
func (p *Process) TID() int { return p.tid }

// Descriptor returns the endpoint in slot fd, or nil.
func (p *Process) Descriptor(fd int) *kio.IO {
	if fd < 0 || fd >= ProcessIOMax {
		return nil
	}
	return p.iotab[fd]
}

// SetDescriptor installs an endpoint in slot fd (nil clears it). The
// caller transfers its reference.
func (p *Process) SetDescriptor(fd int, io *kio.IO) {
	p.iotab[fd] = io
}

// nextFreeFd returns the lowest free descriptor slot, or -1.
func (p *Process) nextFreeFd() int {
	for i := 0; i < ProcessIOMax; i++ {
		if p.iotab[i] == nil {
			return i
		}
	}
	return -1
}

// ProcessExec replaces the current process image: the active address space
// is discarded, the ELF image behind exeio is loaded, a fresh user stack
// page carries the argument block, and control transfers to the entry
// point in user mode. On success it does not return.
func (k *Kernel) ProcessExec(exeio *kio.IO, argv []string) error {
	p := k.CurrentProcess()
	if p == nil {
		return kerr.ErrInvalid
	}
	argc := len(argv)
	if argc > hw.PageSize/8-1 {
		return kerr.ErrNoMem
	}

	// Argument block layout on the top stack page: argv[] pointers, then
	// the string bytes, the whole block 16-byte aligned at the top of user
	// memory.
	stksz := uint64(argc+1) * 8
	for _, a := range argv {
		stksz += uint64(len(a)) + 1
	}
	stksz = (stksz + 15) &^ 15
	if stksz > hw.PageSize {
		return kerr.ErrNoMem
	}

	k.MM.DiscardActiveSpace()
	entry, err := loader.Load(exeio, k.MM)
	if err != nil {
		return err
	}
	prog, ok := k.programs[entry]
	if !ok {
		return kerr.ErrBadFormat
	}

	stackBase := uint64(mem.UMemEnd - hw.PageSize)
	if err := k.MM.AllocAndMapRange(stackBase, hw.PageSize, mem.MapRWUG); err != nil {
		return err
	}

	argvVA := uint64(mem.UMemEnd) - stksz
	strVA := argvVA + uint64(argc+1)*8
	ptrs := make([]byte, (argc+1)*8)
	var strs []byte
	for i, a := range argv {
		binary.LittleEndian.PutUint64(ptrs[8*i:], strVA+uint64(len(strs)))
		strs = append(strs, a...)
		strs = append(strs, 0)
	}
	if err := k.MM.WriteUser(argvVA, ptrs); err != nil {
		return err
	}
	if len(strs) > 0 {
		if err := k.MM.WriteUser(strVA, strs); err != nil {
			return err
		}
	}

	tfr := &TrapFrame{
		SP:      argvVA,
		SEPC:    entry,
		SStatus: SStatusSPIE | SStatusSUM,
	}
	tfr.A[0] = uint64(argc)
	tfr.A[1] = argvVA

	p.mtag = k.MM.ActiveSpace()
	p.tid = sched.RunningThread()
	p.uctx = &goContext{main: prog}
	sched.SetSpace(p.tid, p.mtag)

	log.Debugf("exec: pid %d entry %#x argc %d", p.idx, entry, argc)
	k.trapFrameJump(p, tfr)
	panic("kernel: trap frame jump returned")
}

// ProcessFork clones the current process: a copy of the address space, a
// reference on every open descriptor, and a child thread that copies the
// parent's trap frame before the parent may return to user mode. The
// parent gets the child thread id; the child's frame returns 0.
func (k *Kernel) ProcessFork(tfr *TrapFrame) (int, error) {
	if tfr == nil {
		return 0, kerr.ErrInvalid
	}
	parent := k.CurrentProcess()
	if parent == nil {
		return 0, kerr.ErrInvalid
	}

	idx := -1
	for i := 0; i < NProc; i++ {
		if k.proctab[i] == nil {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, kerr.ErrMaxProcs
	}

	mtag, err := k.MM.CloneActiveSpace()
	if err != nil {
		return 0, err
	}

	child := &Process{k: k, idx: idx, mtag: mtag}
	k.proctab[idx] = child
	for i, io := range parent.iotab {
		if io != nil {
			child.iotab[i] = io.AddRef()
		}
	}
	child.uctx = parent.uctx.Clone()

	done := sched.NewCondition("fork_done")
	copied := false
	tid, err := sched.Spawn("forked", func() {
		childTfr := *tfr
		childTfr.A[0] = 0
		copied = true
		done.Broadcast()
		k.trapFrameJump(child, &childTfr)
	})
	if err != nil {
		for i, io := range child.iotab {
			if io != nil {
				io.Close()
				child.iotab[i] = nil
			}
		}
		k.proctab[idx] = nil
		return 0, err
	}
	child.tid = tid
	if t := sched.ThreadByID(tid); t != nil {
		t.Proc = child
	}
	sched.SetSpace(tid, mtag)

	// The parent must not return to user mode until the child has taken
	// its copy of the trap frame.
	for !copied {
		done.Wait()
	}
	return tid, nil
}

// SpawnProcess allocates a process slot and a thread that execs the named
// file from the mounted filesystem. It returns the new thread id; open and
// exec failures terminate the child and are logged as warnings.
func (k *Kernel) SpawnProcess(name string, argv []string) (int, error) {
	idx := -1
	for i := 0; i < NProc; i++ {
		if k.proctab[i] == nil {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, kerr.ErrMaxProcs
	}

	p := &Process{k: k, idx: idx, mtag: k.MM.MainTag()}
	k.proctab[idx] = p
	tid, err := sched.Spawn(name, func() {
		p.tid = sched.RunningThread()
		sched.Current().Proc = p
		exeio, err := k.FS.Open(name)
		if err != nil {
			log.Warningf("spawn %q: open: %v", name, err)
			k.ProcessExit()
		}
		// The image endpoint sits in slot 0 like any exec'd descriptor,
		// so process exit closes it.
		p.iotab[0] = exeio
		err = k.ProcessExec(exeio, argv)
		log.Warningf("spawn %q: exec: %v", name, err)
		k.ProcessExit()
	})
	if err != nil {
		k.proctab[idx] = nil
		return 0, err
	}
	p.tid = tid
	return tid, nil
}

// ProcessExit tears the current process down: every descriptor closes, the
// address space is discarded, the slot frees, and the thread exits. It
// never returns.
func (k *Kernel) ProcessExit() {
	p := k.CurrentProcess()
	if p != nil {
		for i, io := range p.iotab {
			if io != nil {
				io.Close()
				p.iotab[i] = nil
			}
		}
		if p.mtag != k.MM.MainTag() {
			k.MM.SwitchSpace(p.mtag)
			k.MM.DiscardActiveSpace()
		}
		k.proctab[p.idx] = nil
		sched.Current().Proc = nil
	}
	sched.Exit()
	panic("kernel: thread exit returned")
}
