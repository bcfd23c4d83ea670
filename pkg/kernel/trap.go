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
	"fmt"
)

// TrapFrame is the user register state saved at kernel entry: argument
// registers, stack and link registers, the status snapshot, and the saved
// program counter. The fields mirror the frame the trap entry stub builds
// on the thread's kernel stack.
type TrapFrame struct {
	A       [8]uint64 // a0..a7: arguments, syscall number in a7
	SP      uint64
	RA      uint64
	GP      uint64
	TP      uint64
	SStatus uint64
	SEPC    uint64
}

// SStatus bits the kernel cares about.
const (
	SStatusSPP  = 1 << 8
	SStatusSPIE = 1 << 5
	SStatusSUM  = 1 << 18
)

// Exception cause codes (scause with the interrupt bit clear).
const (
	CauseInstrMisaligned = 0
	CauseInstrAccess     = 1
	CauseIllegalInstr    = 2
	CauseBreakpoint      = 3
	CauseLoadMisaligned  = 4
	CauseLoadAccess      = 5
	CauseStoreMisaligned = 6
	CauseStoreAccess     = 7
	CauseEcallUmode      = 8
	CauseEcallSmode      = 9
	CauseInstrPageFault  = 12
	CauseLoadPageFault   = 13
	CauseStorePageFault  = 15
)

var causeNames = map[uint64]string{
	CauseInstrMisaligned: "Misaligned instruction address",
	CauseInstrAccess:     "Instruction access fault",
	CauseIllegalInstr:    "Illegal instruction",
	CauseBreakpoint:      "Breakpoint",
	CauseLoadMisaligned:  "Misaligned load address",
	CauseLoadAccess:      "Load access fault",
	CauseStoreMisaligned: "Misaligned store address",
	CauseStoreAccess:     "Store access fault",
	CauseEcallUmode:      "Environment call from U mode",
	CauseEcallSmode:      "Environment call from S mode",
	CauseInstrPageFault:  "Instruction page fault",
	CauseLoadPageFault:   "Load page fault",
	CauseStorePageFault:  "Store page fault",
}

// CauseName returns the printable name of an exception cause.
func CauseName(cause uint64) string {
	if name, ok := causeNames[cause]; ok {
		return name
	}
	return fmt.Sprintf("Exception %d", cause)
}

// HandleUmodeException routes an exception taken from user mode: syscalls
// to the dispatcher, serviceable page faults to on-demand mapping, and
// everything else to process termination. tval carries the faulting
// address for memory causes.
func (k *Kernel) HandleUmodeException(cause uint64, tfr *TrapFrame, tval uint64) {
	switch cause {
	case CauseEcallUmode:
		k.handleSyscall(tfr)
	case CauseInstrPageFault, CauseLoadPageFault, CauseStorePageFault:
		if k.MM.HandleUserPageFault(tval) {
			return
		}
		k.faultLog.Warningf("%s at %#x for %#x in U mode: terminating pid %d",
			CauseName(cause), tfr.SEPC, tval, k.currentPid())
		k.ProcessExit()
	default:
		k.faultLog.Warningf("%s at %#x in U mode: terminating pid %d",
			CauseName(cause), tfr.SEPC, k.currentPid())
		k.ProcessExit()
	}
}

// HandleSmodeException is fatal: the kernel does not fault.
func (k *Kernel) HandleSmodeException(cause uint64, tfr *TrapFrame, tval uint64) {
	panic(fmt.Sprintf("%s at %#x for %#x in S mode", CauseName(cause), tfr.SEPC, tval))
}

// trapFrameJump transfers control to user mode at the constructed trap
// frame, without having taken a trap. It does not return: when the user
// context finishes, the process exits.
func (k *Kernel) trapFrameJump(p *Process, tfr *TrapFrame) {
	if p.uctx == nil {
		k.ProcessExit()
	}
	env := &UserEnv{k: k, p: p, tf: tfr}
	p.uctx.Run(env, tfr)
	k.ProcessExit()
}
