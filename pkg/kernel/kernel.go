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

// Package kernel ties the machine, memory, devices, and filesystem into
// the process layer: trap dispatch, exec/fork/exit/wait, the descriptor
// table, and the syscall surface.
package kernel

import (
	"time"

	"github.com/sarasehgal/Unix-style-OS-Development/pkg/dev"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/fs/ktfs"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/hw"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/log"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/mem"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/sched"
)

// Kernel is one booted instance.
type Kernel struct {
	M       *hw.Machine
	MM      *mem.Manager
	Devices *dev.Registry
	Console *log.Console

	// FS is the mounted filesystem; nil until Mount.
	FS *ktfs.Filesystem

	proctab  [NProc]*Process
	programs map[uint64]Program
	nextProg uint64

	// faultLog throttles per-fault diagnostics from looping processes.
	faultLog log.Logger
}

// New wires the process manager over an initialized machine, memory
// manager, and device table. The calling thread becomes the main process.
func New(m *hw.Machine, mm *mem.Manager, devices *dev.Registry, console *log.Console) *Kernel {
	k := &Kernel{
		M:        m,
		MM:       mm,
		Devices:  devices,
		Console:  console,
		programs: make(map[uint64]Program),
		nextProg: mem.UMemStart,
		faultLog: log.RateLimitedLogger(log.Log(), 100*time.Millisecond),
	}

	main := &Process{k: k, idx: 0, tid: sched.RunningThread(), mtag: mm.MainTag()}
	k.proctab[0] = main
	sched.Current().Proc = main

	sched.StartInterrupter()
	return k
}

// CurrentProcess returns the process owning the running thread, or nil for
// a pure kernel thread.
func (k *Kernel) CurrentProcess() *Process {
	p, _ := sched.Current().Proc.(*Process)
	return p
}

func (k *Kernel) currentPid() int {
	if p := k.CurrentProcess(); p != nil {
		return p.idx
	}
	return -1
}

// SetFilesystem installs the mounted filesystem.
func (k *Kernel) SetFilesystem(fs *ktfs.Filesystem) {
	k.FS = fs
}
