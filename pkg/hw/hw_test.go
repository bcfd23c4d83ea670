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

import "testing"

func TestClockComparator(t *testing.T) {
	m := NewMachine(1 << 20)
	fired := 0
	m.TimerIRQ = func() { fired++ }

	m.Clock.SetTimecmp(100)
	m.Clock.Advance(50)
	if fired != 0 {
		t.Fatalf("timer fired before the deadline")
	}
	m.Clock.Advance(50)
	if fired == 0 {
		t.Fatalf("timer did not fire at the deadline")
	}

	// WFI jumps straight to the deadline.
	fired = 0
	m.Clock.SetTimecmp(m.Clock.Now() + 1000)
	if !m.Clock.WFI() {
		t.Fatalf("WFI with an armed comparator returned false")
	}
	if fired == 0 || m.Clock.Now() < 1100 {
		t.Fatalf("WFI did not reach the deadline: now=%d fired=%d", m.Clock.Now(), fired)
	}

	m.Clock.SetTimecmp(NeverTimecmp)
	if m.Clock.WFI() {
		t.Fatalf("WFI with no deadline returned true")
	}
}

func TestPLICPriorityAndClaim(t *testing.T) {
	m := NewMachine(1 << 20)
	raised := 0
	m.ExternIRQ = func() { raised++ }

	// A masked source does not interrupt.
	m.PLIC.Assert(5)
	if raised != 0 {
		t.Fatalf("masked source raised an interrupt")
	}
	// Enabling it delivers the pending assert.
	m.PLIC.SetPriority(5, 1)
	if raised != 1 {
		t.Fatalf("pending source not delivered on enable")
	}

	m.PLIC.SetPriority(7, 3)
	m.PLIC.Assert(7)

	// Claim returns the highest-priority source first.
	if got := m.PLIC.Claim(); got != 7 {
		t.Fatalf("first claim: got %d, wanted 7", got)
	}
	if got := m.PLIC.Claim(); got != 5 {
		t.Fatalf("second claim: got %d, wanted 5", got)
	}
	if got := m.PLIC.Claim(); got != 0 {
		t.Fatalf("empty claim: got %d, wanted 0", got)
	}
	m.PLIC.Complete(7)
	m.PLIC.Complete(5)
}

func TestRAMAccessors(t *testing.T) {
	m := NewMachine(1 << 20)
	m.StorePhys64(RAMStart+0x100, 0x1122334455667788)
	if got := m.LoadPhys64(RAMStart + 0x100); got != 0x1122334455667788 {
		t.Fatalf("LoadPhys64: got %#x", got)
	}
	page := m.Page(RAMStart >> PageOrder)
	if page[0x100] != 0x88 {
		t.Fatalf("page aliasing: got %#x, wanted 0x88 (little endian)", page[0x100])
	}
}
