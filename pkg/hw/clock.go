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

package hw

import "math"

// NeverTimecmp is a comparator value that never elapses.
const NeverTimecmp = math.MaxUint64

// Clock is the machine timer. Time is virtual: it advances only through
// Advance and WFI, which makes sleep ordering deterministic in tests.
type Clock struct {
	m       *Machine
	now     uint64
	timecmp uint64
}

// Now returns the current tick count (the rdtime CSR).
func (c *Clock) Now() uint64 { return c.now }

// Timecmp returns the programmed comparator.
func (c *Clock) Timecmp() uint64 { return c.timecmp }

// SetTimecmp programs the comparator. If the new deadline has already
// passed, the timer interrupt fires immediately.
func (c *Clock) SetTimecmp(v uint64) {
	c.timecmp = v
	c.maybeFire()
}

// Advance moves time forward by ticks, firing the timer interrupt if the
// comparator elapses.
func (c *Clock) Advance(ticks uint64) {
	if ticks > math.MaxUint64-c.now {
		c.now = math.MaxUint64
	} else {
		c.now += ticks
	}
	c.maybeFire()
}

// WFI models wait-for-interrupt with an otherwise idle machine: time jumps
// to the next timer deadline. Returns false if no deadline is programmed,
// in which case the machine would hang and the caller must not spin.
func (c *Clock) WFI() bool {
	if c.timecmp == NeverTimecmp {
		return false
	}
	if c.now < c.timecmp {
		c.now = c.timecmp
	}
	c.maybeFire()
	return true
}

func (c *Clock) maybeFire() {
	if c.now >= c.timecmp && c.m.TimerIRQ != nil {
		c.m.TimerIRQ()
	}
}
