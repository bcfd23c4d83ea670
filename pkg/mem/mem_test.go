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

package mem

import (
	"bytes"
	"testing"

	"github.com/sarasehgal/Unix-style-OS-Development/pkg/hw"
)

func newManager(t *testing.T) (*hw.Machine, *Manager) {
	t.Helper()
	m := hw.NewMachine(8 * 1024 * 1024)
	return m, Init(m)
}

func TestPageAllocConservation(t *testing.T) {
	_, mm := newManager(t)
	initial := mm.FreePageCount()
	if initial != mm.InitialPoolPages() {
		t.Fatalf("initial pool: got %d, wanted %d", initial, mm.InitialPoolPages())
	}

	var ppns []uint64
	for _, n := range []uint64{1, 3, 7, 1} {
		ppn, err := mm.AllocPhysPages(n)
		if err != nil {
			t.Fatalf("AllocPhysPages(%d): %v", n, err)
		}
		ppns = append(ppns, ppn)
	}
	if got, want := mm.FreePageCount(), initial-12; got != want {
		t.Fatalf("after allocs: got %d free, wanted %d", got, want)
	}

	mm.FreePhysPages(ppns[1], 3)
	mm.FreePhysPages(ppns[2], 7)
	mm.FreePhysPage(ppns[0])
	mm.FreePhysPage(ppns[3])
	if got := mm.FreePageCount(); got != initial {
		t.Fatalf("after frees: got %d free, wanted %d", got, initial)
	}
}

func TestPageAllocBestFit(t *testing.T) {
	_, mm := newManager(t)

	// Free two chunks of different sizes at the list head; a 2-page
	// request must come from the smaller one that fits.
	a, err := mm.AllocPhysPages(8)
	if err != nil {
		t.Fatalf("AllocPhysPages(8): %v", err)
	}
	b, err := mm.AllocPhysPages(2)
	if err != nil {
		t.Fatalf("AllocPhysPages(2): %v", err)
	}
	mm.FreePhysPages(a, 8)
	mm.FreePhysPages(b, 2)

	got, err := mm.AllocPhysPages(2)
	if err != nil {
		t.Fatalf("AllocPhysPages(2): %v", err)
	}
	if got != b {
		t.Errorf("best fit: got page %#x, wanted %#x", got, b)
	}
}

func TestPageAllocExhaustion(t *testing.T) {
	_, mm := newManager(t)
	if _, err := mm.AllocPhysPages(mm.FreePageCount() + 1); err == nil {
		t.Fatalf("oversized alloc succeeded")
	}
}

func TestMapAndTranslate(t *testing.T) {
	_, mm := newManager(t)

	ppn, err := mm.AllocPhysPage()
	if err != nil {
		t.Fatalf("AllocPhysPage: %v", err)
	}
	const vma = UMemStart + 0x3000
	if err := mm.MapPage(vma, ppn, MapRWUG); err != nil {
		t.Fatalf("MapPage: %v", err)
	}

	msg := []byte("through the tables")
	if err := mm.WriteUser(vma+8, msg); err != nil {
		t.Fatalf("WriteUser: %v", err)
	}
	got := make([]byte, len(msg))
	if err := mm.ReadUser(vma+8, got); err != nil {
		t.Fatalf("ReadUser: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("ReadUser: got %q, wanted %q", got, msg)
	}

	// The page is not executable.
	if _, err := mm.Translate(vma, AccessExec); err == nil {
		t.Errorf("Translate exec: succeeded on RW page")
	}
	// Unmapped neighbors fail.
	if _, err := mm.Translate(vma+hw.PageSize, AccessRead); err == nil {
		t.Errorf("Translate unmapped: succeeded")
	}
}

func TestMalformedAddresses(t *testing.T) {
	_, mm := newManager(t)
	// Bits 63:39 must sign-extend bit 38.
	if err := mm.MapPage(1<<40, 0, MapRW); err == nil {
		t.Errorf("MapPage of non-canonical address succeeded")
	}
	if err := mm.MapPage(UMemStart+123, 0, MapRW); err == nil {
		t.Errorf("MapPage of unaligned address succeeded")
	}
}

func TestSetRangeFlags(t *testing.T) {
	_, mm := newManager(t)
	const vma = UMemStart
	if err := mm.AllocAndMapRange(vma, 2*hw.PageSize, MapRWUG); err != nil {
		t.Fatalf("AllocAndMapRange: %v", err)
	}
	mm.SetRangeFlags(vma, 2*hw.PageSize, PteR|PteU)
	if _, err := mm.Translate(vma, AccessWrite); err == nil {
		t.Errorf("write translated after permissions dropped to read-only")
	}
	if _, err := mm.Translate(vma, AccessRead); err != nil {
		t.Errorf("read failed after SetRangeFlags: %v", err)
	}
}

func TestCloneAndDiscard(t *testing.T) {
	_, mm := newManager(t)
	initialFree := mm.FreePageCount()

	const vma = UMemStart + 0x10000
	if err := mm.AllocAndMapRange(vma, hw.PageSize, MapRWUG); err != nil {
		t.Fatalf("AllocAndMapRange: %v", err)
	}
	if err := mm.WriteUser(vma, []byte("parent data")); err != nil {
		t.Fatalf("WriteUser: %v", err)
	}

	childTag, err := mm.CloneActiveSpace()
	if err != nil {
		t.Fatalf("CloneActiveSpace: %v", err)
	}
	parentTag := mm.SwitchSpace(childTag)

	// The child sees a copy.
	got := make([]byte, 11)
	if err := mm.ReadUser(vma, got); err != nil {
		t.Fatalf("child ReadUser: %v", err)
	}
	if string(got) != "parent data" {
		t.Fatalf("child copy: got %q", got)
	}

	// A child write does not reach the parent page.
	if err := mm.WriteUser(vma, []byte("child write")); err != nil {
		t.Fatalf("child WriteUser: %v", err)
	}
	mm.SwitchSpace(parentTag)
	if err := mm.ReadUser(vma, got); err != nil {
		t.Fatalf("parent ReadUser: %v", err)
	}
	if string(got) != "parent data" {
		t.Fatalf("parent page changed by child write: %q", got)
	}

	// Discarding the clone returns its root, tables, and page copy.
	mm.SwitchSpace(childTag)
	mm.DiscardActiveSpace()

	// The parent here is the main space, which discard refuses; its user
	// leaf comes back via unmap, but the two page-table nodes installed
	// under the main root stay.
	mm.UnmapAndFreeRange(vma, hw.PageSize)
	if got, want := mm.FreePageCount(), initialFree-2; got != want {
		t.Fatalf("after teardown: got %d free pages, wanted %d", got, want)
	}
}

func TestUserPageFault(t *testing.T) {
	_, mm := newManager(t)

	// A fault at the last user byte is demand-zeroed.
	if !mm.HandleUserPageFault(UMemEnd - 1) {
		t.Fatalf("fault at UMemEnd-1 not serviced")
	}
	got := make([]byte, 4)
	if err := mm.ReadUser(UMemEnd-4, got); err != nil {
		t.Fatalf("ReadUser after fault: %v", err)
	}
	if !bytes.Equal(got, []byte{0, 0, 0, 0}) {
		t.Fatalf("demand page not zero-filled: %v", got)
	}

	// Faults at or above the ceiling, and below the window, fail.
	if mm.HandleUserPageFault(UMemEnd) {
		t.Errorf("fault at UMemEnd serviced")
	}
	if mm.HandleUserPageFault(UMemStart - 1) {
		t.Errorf("fault below UMemStart serviced")
	}
}
