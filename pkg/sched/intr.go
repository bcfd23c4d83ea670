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

package sched

import (
	"fmt"

	"github.com/sarasehgal/Unix-style-OS-Development/pkg/hw"
)

// ISR is an interrupt service routine for one external source.
type ISR func(srcno int, aux any)

var (
	isrtab [hw.NIRQ]struct {
		isr ISR
		aux any
	}

	// intrDisabled mirrors the SIE bit: while set, incoming interrupts are
	// latched and delivered when interrupts are restored.
	intrDisabled  bool
	pendingTimer  bool
	pendingExtern bool
	stieEnabled   bool
)

func initInterrupts() {
	isrtab = [hw.NIRQ]struct {
		isr ISR
		aux any
	}{}
	intrDisabled = false
	pendingTimer = false
	pendingExtern = false
	stieEnabled = true
	machine.TimerIRQ = timerIRQ
	machine.ExternIRQ = externIRQ
}

// DisableInterrupts masks interrupt delivery and returns the previous
// enable state for RestoreInterrupts.
func DisableInterrupts() bool {
	prev := !intrDisabled
	intrDisabled = true
	return prev
}

// RestoreInterrupts restores the enable state saved by DisableInterrupts,
// delivering any interrupts latched while masked.
func RestoreInterrupts(wasEnabled bool) {
	if !wasEnabled {
		return
	}
	intrDisabled = false
	drainPending()
}

func enableInterrupts() {
	intrDisabled = false
	drainPending()
}

func drainPending() {
	for {
		switch {
		case pendingTimer && stieEnabled:
			pendingTimer = false
			handleTimerInterrupt()
		case pendingExtern:
			pendingExtern = false
			handleExternInterrupt()
		default:
			return
		}
	}
}

// timerIRQ is the machine's timer interrupt line.
func timerIRQ() {
	if !stieEnabled {
		return
	}
	if intrDisabled {
		pendingTimer = true
		return
	}
	handleTimerInterrupt()
}

// externIRQ is the machine's external interrupt line.
func externIRQ() {
	if intrDisabled {
		pendingExtern = true
		return
	}
	handleExternInterrupt()
}

// EnableIntrSource registers an ISR and programs the source's priority.
func EnableIntrSource(srcno int, prio uint32, isr ISR, aux any) {
	if srcno <= 0 || srcno >= hw.NIRQ || prio == 0 {
		panic(fmt.Sprintf("sched: bad interrupt source %d prio %d", srcno, prio))
	}
	isrtab[srcno].isr = isr
	isrtab[srcno].aux = aux
	machine.PLIC.SetPriority(srcno, prio)
}

// DisableIntrSource masks a source and forgets its ISR.
func DisableIntrSource(srcno int) {
	machine.PLIC.SetPriority(srcno, 0)
	isrtab[srcno].isr = nil
	isrtab[srcno].aux = nil
}

// handleExternInterrupt claims sources from the PLIC, runs their ISRs, and
// completes them.
func handleExternInterrupt() {
	for {
		srcno := machine.PLIC.Claim()
		if srcno == 0 {
			return
		}
		if isrtab[srcno].isr == nil {
			panic(fmt.Sprintf("sched: interrupt from source %d with no ISR", srcno))
		}
		isrtab[srcno].isr(srcno, isrtab[srcno].aux)
		machine.PLIC.Complete(srcno)
	}
}

// StartInterrupter spawns the kernel thread that drives preemption: it
// sleeps on a short alarm forever, so a timer interrupt periodically makes
// it runnable and forces a trip through the scheduler.
func StartInterrupter() {
	Spawn("interrupter", func() {
		al := NewAlarm("interrupter")
		for {
			al.SleepMs(10)
		}
	})
}
