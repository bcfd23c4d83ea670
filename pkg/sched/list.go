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

// threadList is a FIFO of threads linked through their listNext fields. A
// thread is on at most one list at a time (the ready list or one
// condition's wait list). List operations touched from ISR context must run
// with interrupts disabled.
type threadList struct {
	head, tail *Thread
}

func (l *threadList) empty() bool {
	return l.head == nil
}

func (l *threadList) insert(t *Thread) {
	t.listNext = nil
	if l.tail != nil {
		l.tail.listNext = t
	} else {
		l.head = t
	}
	l.tail = t
}

func (l *threadList) remove() *Thread {
	t := l.head
	if t == nil {
		return nil
	}
	l.head = t.listNext
	if l.head == nil {
		l.tail = nil
	}
	t.listNext = nil
	return t
}
