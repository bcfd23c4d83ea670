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

// Condition is a named wait list of threads. There is no signal-one: every
// wakeup is a broadcast, and waiters re-check their predicate.
type Condition struct {
	name     string
	waitList threadList
}

// NewCondition returns an initialized condition.
func NewCondition(name string) *Condition {
	return &Condition{name: name}
}

// InitCondition initializes an embedded condition.
func (c *Condition) InitCondition(name string) {
	c.name = name
	c.waitList = threadList{}
}

// Wait suspends the running thread on c until the next Broadcast. The
// caller must re-check its predicate on return.
func (c *Condition) Wait() {
	t := running
	if t.state != Running {
		panic("sched: condition wait by non-running thread")
	}
	setState(t, Waiting)
	t.waitCond = c

	pie := DisableInterrupts()
	c.waitList.insert(t)
	RestoreInterrupts(pie)
	suspend()
}

// Broadcast moves every waiter to the ready list. It is legal from ISR
// context and never yields.
func (c *Condition) Broadcast() {
	pie := DisableInterrupts()
	for {
		t := c.waitList.remove()
		if t == nil {
			break
		}
		setState(t, Ready)
		t.waitCond = nil
		readyList.insert(t)
	}
	RestoreInterrupts(pie)
}
