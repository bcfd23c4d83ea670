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

package sched_test

import (
	"testing"

	"github.com/sarasehgal/Unix-style-OS-Development/pkg/hw"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kerr"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/mem"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/sched"
)

func newSched(t *testing.T) *hw.Machine {
	t.Helper()
	m := hw.NewMachine(8 * 1024 * 1024)
	mm := mem.Init(m)
	sched.Init(m, mm)
	return m
}

func TestSpawnAndJoin(t *testing.T) {
	newSched(t)

	ran := false
	tid, err := sched.Spawn("worker", func() { ran = true })
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	got, err := sched.Join(tid)
	if err != nil || got != tid {
		t.Fatalf("Join(%d): got (%d, %v), wanted (%d, nil)", tid, got, err, tid)
	}
	if !ran {
		t.Fatalf("worker never ran")
	}

	// The slot is reclaimed; a second join is EINVAL.
	if _, err := sched.Join(tid); err != kerr.ErrInvalid {
		t.Fatalf("second Join: got %v, wanted ErrInvalid", err)
	}
}

func TestJoinAnyChild(t *testing.T) {
	newSched(t)

	tid, err := sched.Spawn("only-child", func() {})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	got, err := sched.Join(0)
	if err != nil || got != tid {
		t.Fatalf("Join(0): got (%d, %v), wanted (%d, nil)", got, err, tid)
	}
	if _, err := sched.Join(0); err != kerr.ErrInvalid {
		t.Fatalf("Join(0) with no children: got %v, wanted ErrInvalid", err)
	}
}

func TestJoinNotAChild(t *testing.T) {
	newSched(t)

	// A grandchild is not joinable by the grandparent while its parent
	// lives.
	var inner int
	tid, err := sched.Spawn("mid", func() {
		inner, _ = sched.Spawn("leaf", func() {
			sched.NewAlarm("leaf").SleepMs(50)
		})
		sched.Yield()
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	sched.Yield() // let mid spawn leaf
	if _, err := sched.Join(inner); err != kerr.ErrInvalid {
		t.Errorf("Join(grandchild): got %v, wanted ErrInvalid", err)
	}
	if _, err := sched.Join(tid); err != nil {
		t.Fatalf("Join(mid): %v", err)
	}
	// mid exited, so leaf reparents to us and becomes joinable.
	if got, err := sched.Join(inner); err != nil || got != inner {
		t.Errorf("Join(reparented leaf): got (%d, %v), wanted (%d, nil)", got, err, inner)
	}
}

func TestMutexCounter(t *testing.T) {
	newSched(t)

	var (
		l       = sched.NewLock("counter")
		counter int
	)
	worker := func() {
		for i := 0; i < 100; i++ {
			l.Acquire()
			v := counter
			sched.Yield() // widen the race window
			counter = v + 1
			l.Release()
		}
	}
	t1, err := sched.Spawn("inc1", worker)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	t2, err := sched.Spawn("inc2", worker)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	sched.Join(t1)
	sched.Join(t2)
	if counter != 200 {
		t.Fatalf("counter: got %d, wanted 200", counter)
	}
}

func TestRecursiveLock(t *testing.T) {
	newSched(t)

	l := sched.NewLock("recursive")
	const depth = 5
	for i := 0; i < depth; i++ {
		l.Acquire()
	}

	acquired := false
	tid, _ := sched.Spawn("contender", func() {
		l.Acquire()
		acquired = true
		l.Release()
	})

	// The contender cannot take the lock until every acquisition is
	// released.
	for i := 0; i < depth-1; i++ {
		l.Release()
		sched.Yield()
		if acquired {
			t.Fatalf("lock acquired after %d of %d releases", i+1, depth)
		}
	}
	l.Release()
	sched.Join(tid)
	if !acquired {
		t.Fatalf("contender never acquired the lock")
	}
}

func TestReleaseByNonOwner(t *testing.T) {
	newSched(t)

	l := sched.NewLock("owned")
	l.Acquire()
	tid, _ := sched.Spawn("meddler", func() {
		l.Release() // no-op: not the owner
	})
	sched.Join(tid)
	if !l.Held() {
		t.Fatalf("non-owner release dropped the lock")
	}
	l.Release()
}

func TestExitForceReleasesLocks(t *testing.T) {
	newSched(t)

	l := sched.NewLock("leaked")
	tid, _ := sched.Spawn("leaker", func() {
		l.Acquire()
		l.Acquire()
		// Exits without releasing.
	})
	sched.Join(tid)

	// The lock must be acquirable again.
	done := false
	t2, _ := sched.Spawn("next", func() {
		l.Acquire()
		done = true
		l.Release()
	})
	sched.Join(t2)
	if !done {
		t.Fatalf("lock still held after owner exit")
	}
}

func TestConditionBroadcastWakesAll(t *testing.T) {
	newSched(t)

	cond := sched.NewCondition("gate")
	ready := 0
	woken := 0
	for i := 0; i < 3; i++ {
		sched.Spawn("waiter", func() {
			ready++
			cond.Wait()
			woken++
		})
	}
	for ready < 3 {
		sched.Yield()
	}
	cond.Broadcast()
	for i := 0; i < 3; i++ {
		sched.Join(0)
	}
	if woken != 3 {
		t.Fatalf("woken: got %d, wanted 3", woken)
	}
}

func TestAlarmOrdering(t *testing.T) {
	m := newSched(t)

	// Two sleeps started at the same kernel instant: the shorter fires
	// first and the gap is exact in virtual time.
	type wake struct {
		name string
		at   uint64
	}
	var wakes []wake
	ta, _ := sched.Spawn("a", func() {
		sched.SleepMs(100)
		wakes = append(wakes, wake{"a", m.Clock.Now()})
	})
	tb, _ := sched.Spawn("b", func() {
		sched.SleepMs(50)
		wakes = append(wakes, wake{"b", m.Clock.Now()})
	})
	sched.Join(ta)
	sched.Join(tb)

	if len(wakes) != 2 || wakes[0].name != "b" || wakes[1].name != "a" {
		t.Fatalf("wake order: got %+v, wanted b then a", wakes)
	}
	const tick50ms = 50 * (hw.TimerFreq / 1000)
	if diff := wakes[1].at - wakes[0].at; diff != tick50ms {
		t.Errorf("wake gap: got %d ticks, wanted %d", diff, tick50ms)
	}
}

func TestSleepAdvancesVirtualClock(t *testing.T) {
	m := newSched(t)
	start := m.Clock.Now()
	tid, _ := sched.Spawn("sleeper", func() {
		sched.SleepUs(1500)
	})
	sched.Join(tid)
	elapsed := m.Clock.Now() - start
	if want := uint64(1500 * (hw.TimerFreq / 1000 / 1000)); elapsed < want {
		t.Fatalf("clock advanced %d ticks, wanted at least %d", elapsed, want)
	}
}

func TestThreadTableExhaustion(t *testing.T) {
	newSched(t)

	block := sched.NewCondition("block")
	var tids []int
	for {
		tid, err := sched.Spawn("filler", func() { block.Wait() })
		if err != nil {
			if err != kerr.ErrMaxThreads {
				t.Fatalf("Spawn: got %v, wanted ErrMaxThreads", err)
			}
			break
		}
		tids = append(tids, tid)
	}
	if len(tids) != sched.NThreads-2 {
		t.Fatalf("spawned %d threads before exhaustion, wanted %d",
			len(tids), sched.NThreads-2)
	}
	// Let every filler reach its wait before waking them.
	sched.Yield()
	block.Broadcast()
	for _, tid := range tids {
		sched.Join(tid)
	}
}
