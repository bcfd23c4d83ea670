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
	"fmt"

	"github.com/sarasehgal/Unix-style-OS-Development/pkg/hw"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/log"
)

// Tag identifies an address space: the satp value that installs it.
type Tag uint64

// User virtual address window. Faults inside it are demand-zeroed; faults
// outside it terminate the process.
const (
	UMemStart = 0x0_c000_0000
	UMemEnd   = 0x1_0000_0000
)

// kernImagePages is the number of pages reserved at the bottom of RAM for
// the kernel image stand-in and the main space's static page tables.
const kernImagePages = 64

const megaSize = 512 * hw.PageSize

// Manager owns the free-page pool and the address spaces built over one
// machine's RAM.
type Manager struct {
	m       *hw.Machine
	mainTag Tag
	chunks  *chunk
	initial uint64 // pool size at Init, in pages
}

// Init builds the memory manager: the main address space with its identity
// mappings (MMIO as gigapages, RAM with per-region permissions, the rest as
// megapages) and the free-page pool covering RAM above the reserved image
// region.
func Init(m *hw.Machine) *Manager {
	mm := &Manager{m: m}

	ramPages := m.RAMSize() / hw.PageSize
	if ramPages <= kernImagePages {
		panic("mem: RAM too small for kernel image")
	}

	// Static tables live in the reserved image region, exactly where a
	// linked kernel would put them: root, one level-1 table for the RAM
	// giga-range, one level-0 table for the first megapage.
	base := uint64(RamStartPPN())
	rootPPN := base + kernImagePages - 3
	pt1PPN := base + kernImagePages - 2
	pt0PPN := base + kernImagePages - 1
	mm.zeroPage(rootPPN)
	mm.zeroPage(pt1PPN)
	mm.zeroPage(pt0PPN)

	// Identity-map the MMIO region below RAM as RW gigapages.
	const gigaSize = 512 * megaSize
	for pma := uint64(0); pma < hw.RAMStart; pma += gigaSize {
		mm.storePTE(rootPPN, vpn(pma, 2), leafPTE(pma>>hw.PageOrder, PteR|PteW|PteG))
	}

	// First megapage of RAM: 4K pages. The image region is mapped R-X
	// (text stand-in) and the rest RW.
	mm.storePTE(rootPPN, vpn(hw.RAMStart, 2), tablePTE(pt1PPN, PteG))
	mm.storePTE(pt1PPN, vpn(hw.RAMStart, 1), tablePTE(pt0PPN, PteG))
	for i := uint64(0); i < megaSize/hw.PageSize; i++ {
		pma := uint64(hw.RAMStart) + i*hw.PageSize
		flags := uint64(PteR | PteW | PteG)
		if i < kernImagePages-3 {
			flags = PteR | PteX | PteG
		}
		mm.storePTE(pt0PPN, vpn(pma, 0), leafPTE(pma>>hw.PageOrder, flags))
	}

	// Remaining RAM as RW megapages.
	for pma := uint64(hw.RAMStart) + megaSize; pma < m.RAMEnd(); pma += megaSize {
		mm.storePTE(pt1PPN, vpn(pma, 1), leafPTE(pma>>hw.PageOrder, PteR|PteW|PteG))
	}

	mm.mainTag = tagFor(rootPPN)
	m.SetSATP(uint64(mm.mainTag))

	// Free pool: everything above the image region.
	poolStart := base + kernImagePages
	poolPages := ramPages - kernImagePages
	mm.chunks = &chunk{firstPPN: poolStart, pageCnt: poolPages}
	mm.initial = poolPages

	log.Infof("mem: RAM %d MB, %d pages free above kernel image",
		m.RAMSize()/1024/1024, poolPages)
	return mm
}

// RamStartPPN returns the page number of the first RAM page.
func RamStartPPN() uint64 { return hw.RAMStart >> hw.PageOrder }

// InitialPoolPages returns the size of the pool at Init.
func (mm *Manager) InitialPoolPages() uint64 { return mm.initial }

// MainTag returns the boot address space's tag.
func (mm *Manager) MainTag() Tag { return mm.mainTag }

func tagFor(rootPPN uint64) Tag {
	return Tag(uint64(satpMode)<<60 | rootPPN)
}

func (t Tag) rootPPN() uint64 { return uint64(t) & (1<<44 - 1) }

// ActiveSpace returns the tag of the installed address space.
func (mm *Manager) ActiveSpace() Tag {
	return Tag(mm.m.SATP())
}

// SwitchSpace installs tag and returns the previously active tag.
func (mm *Manager) SwitchSpace(tag Tag) Tag {
	prev := mm.ActiveSpace()
	mm.m.SetSATP(uint64(tag))
	return prev
}

// ResetActiveSpace switches back to the main space without freeing
// anything.
func (mm *Manager) ResetActiveSpace() {
	mm.m.SetSATP(uint64(mm.mainTag))
}

func (mm *Manager) activeRootPPN() uint64 {
	return mm.ActiveSpace().rootPPN()
}

// kernHalfIndex is the first root index belonging to the shared kernel
// half (the giga-ranges from RAM up to the user window).
func kernHalfIndex() int { return vpn(hw.RAMStart, 2) }

// kernHalf reports whether root index i is in the shared kernel half. The
// user window lies above RAM and is not part of it.
func kernHalf(i int) bool { return i >= kernHalfIndex() && i < vpn(UMemStart, 2) }

// CloneActiveSpace deep-copies the active space's user half into a new
// space sharing the kernel half by reference, and returns the new tag.
func (mm *Manager) CloneActiveSpace() (Tag, error) {
	oldRoot := mm.activeRootPPN()
	newRoot, err := mm.allocZeroed()
	if err != nil {
		return 0, err
	}

	for i := 0; i < pteCnt; i++ {
		e2 := mm.loadPTE(oldRoot, i)
		if !e2.valid() {
			continue
		}
		if kernHalf(i) {
			mm.storePTE(newRoot, i, e2)
			continue
		}
		if e2.leaf() {
			// Boot-time gigapage leaves (the MMIO identity map) are
			// global; the clone shares them by reference.
			mm.storePTE(newRoot, i, e2)
			continue
		}
		oldL1 := e2.ppn()
		newL1, err := mm.allocZeroed()
		if err != nil {
			return 0, err
		}
		for j := 0; j < pteCnt; j++ {
			e1 := mm.loadPTE(oldL1, j)
			if !e1.valid() || e1.leaf() {
				continue
			}
			oldL0 := e1.ppn()
			newL0, err := mm.allocZeroed()
			if err != nil {
				return 0, err
			}
			for k := 0; k < pteCnt; k++ {
				e0 := mm.loadPTE(oldL0, k)
				if !e0.valid() || !e0.leaf() {
					continue
				}
				page, err := mm.AllocPhysPage()
				if err != nil {
					return 0, err
				}
				copy(mm.m.Page(page), mm.m.Page(e0.ppn()))
				mm.storePTE(newL0, k, leafPTE(page, e0.flags()&PermMask))
			}
			mm.storePTE(newL1, j, tablePTE(newL0, e1.flags()&PteG))
		}
		mm.storePTE(newRoot, i, tablePTE(newL1, e2.flags()&PteG))
	}
	return tagFor(newRoot), nil
}

// DiscardActiveSpace frees the active space's user half — every user leaf
// page and user-half table plus the root — then resets to the main space.
// Discarding the main space is a no-op.
func (mm *Manager) DiscardActiveSpace() Tag {
	cur := mm.ActiveSpace()
	if cur == mm.mainTag {
		return cur
	}
	root := cur.rootPPN()
	for i := 0; i < pteCnt; i++ {
		e2 := mm.loadPTE(root, i)
		if kernHalf(i) || !e2.valid() || e2.leaf() {
			continue
		}
		l1 := e2.ppn()
		for j := 0; j < pteCnt; j++ {
			e1 := mm.loadPTE(l1, j)
			if !e1.valid() || e1.leaf() {
				continue
			}
			l0 := e1.ppn()
			for k := 0; k < pteCnt; k++ {
				e0 := mm.loadPTE(l0, k)
				if e0.valid() && e0.leaf() {
					mm.FreePhysPage(e0.ppn())
				}
			}
			mm.FreePhysPage(l0)
		}
		mm.FreePhysPage(l1)
	}
	mm.FreePhysPage(root)
	mm.ResetActiveSpace()
	return mm.mainTag
}

// HandleUserPageFault services a user-mode page fault at vma by mapping a
// zero-filled anonymous page with user RW permissions. It reports whether
// the fault was satisfied; faults outside the user window are not.
func (mm *Manager) HandleUserPageFault(vma uint64) bool {
	if !wellFormed(vma) || vma < UMemStart || vma >= UMemEnd {
		return false
	}
	page := vma &^ (hw.PageSize - 1)
	ppn, err := mm.allocZeroed()
	if err != nil {
		return false
	}
	if err := mm.MapPage(page, ppn, MapRWUG); err != nil {
		mm.FreePhysPage(ppn)
		return false
	}
	return true
}

// String implements fmt.Stringer for diagnostics.
func (t Tag) String() string {
	return fmt.Sprintf("mspace(root=%#x)", t.rootPPN())
}
