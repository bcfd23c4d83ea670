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
	"math"

	"github.com/sarasehgal/Unix-style-OS-Development/pkg/hw"
)

// Alarm is an entry on the time-ordered sleep list: a condition, an
// absolute wake time in timer ticks, and a link. The head's wake time is
// what the timer comparator is programmed with.
type Alarm struct {
	cond  Condition
	twake uint64
	next  *Alarm
}

// sleepList is ordered ascending by twake.
var sleepList *Alarm

func initTimer() {
	sleepList = nil
	machine.Clock.SetTimecmp(hw.NeverTimecmp)
}

// NewAlarm returns an alarm whose increments are relative to now.
func NewAlarm(name string) *Alarm {
	al := &Alarm{twake: machine.Clock.Now()}
	al.cond.InitCondition(name)
	return al
}

// Reset makes the next sleep increment relative to the time of the call.
func (al *Alarm) Reset() {
	al.twake = machine.Clock.Now()
}

// Sleep suspends the caller until tcnt ticks past the alarm's last wake
// time. Successive sleeps on one alarm therefore tick at a fixed cadence
// regardless of how late each wakeup ran.
func (al *Alarm) Sleep(tcnt uint64) {
	now := machine.Clock.Now()
	if tcnt == 0 {
		return
	}
	if math.MaxUint64-al.twake < tcnt {
		al.twake = math.MaxUint64
	} else {
		al.twake += tcnt
	}
	if al.twake < now {
		return
	}

	pie := DisableInterrupts()
	pp := &sleepList
	for *pp != nil && (*pp).twake < al.twake {
		pp = &(*pp).next
	}
	al.next = *pp
	*pp = al
	if sleepList == al {
		machine.Clock.SetTimecmp(al.twake)
	}
	stieEnabled = true
	al.cond.Wait()
	RestoreInterrupts(pie)
}

// SleepSec sleeps whole seconds.
func (al *Alarm) SleepSec(sec uint64) { al.Sleep(sec * hw.TimerFreq) }

// SleepMs sleeps milliseconds.
func (al *Alarm) SleepMs(ms uint64) { al.Sleep(ms * (hw.TimerFreq / 1000)) }

// SleepUs sleeps microseconds.
func (al *Alarm) SleepUs(us uint64) { al.Sleep(us * (hw.TimerFreq / 1000 / 1000)) }

// SleepMs suspends the caller for ms milliseconds on a throwaway alarm.
func SleepMs(ms uint64) {
	NewAlarm("sleep").SleepMs(ms)
}

// SleepUs suspends the caller for us microseconds on a throwaway alarm.
func SleepUs(us uint64) {
	NewAlarm("sleep").SleepUs(us)
}

// handleTimerInterrupt wakes the elapsed prefix of the sleep list and
// reprograms the comparator for the new head, or disables the timer when
// the list drains.
func handleTimerInterrupt() {
	if sleepList == nil {
		return
	}
	now := machine.Clock.Now()
	pie := DisableInterrupts()
	for sleepList != nil && sleepList.twake <= now {
		al := sleepList
		sleepList = al.next
		al.next = nil
		al.cond.Broadcast()
	}
	if sleepList != nil {
		machine.Clock.SetTimecmp(sleepList.twake)
	} else {
		machine.Clock.SetTimecmp(hw.NeverTimecmp)
		stieEnabled = false
	}
	RestoreInterrupts(pie)
}
