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
	"encoding/binary"

	"github.com/sarasehgal/Unix-style-OS-Development/pkg/hw"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kerr"
)

// Sv39 page-table entry flag bits.
const (
	PteV = 1 << 0
	PteR = 1 << 1
	PteW = 1 << 2
	PteX = 1 << 3
	PteU = 1 << 4
	PteG = 1 << 5
	PteA = 1 << 6
	PteD = 1 << 7

	// PermMask covers the bits set_range_flags may change.
	PermMask = PteR | PteW | PteX | PteU | PteG
)

// Convenience flag sets.
const (
	MapR    = PteR
	MapRW   = PteR | PteW
	MapRX   = PteR | PteX
	MapRWUG = PteR | PteW | PteU
)

const (
	pteCnt   = 512
	satpMode = 8 // Sv39
)

// pte is a raw Sv39 entry.
type pte uint64

func (e pte) valid() bool  { return e&PteV != 0 }
func (e pte) leaf() bool   { return e&(PteR|PteW|PteX) != 0 }
func (e pte) global() bool { return e&PteG != 0 }
func (e pte) ppn() uint64  { return uint64(e) >> 10 }
func (e pte) flags() uint64 {
	return uint64(e) & 0xff
}

func leafPTE(ppn, rwxugFlags uint64) pte {
	return pte(ppn<<10 | rwxugFlags | PteA | PteD | PteV)
}

func tablePTE(ppn, gFlag uint64) pte {
	return pte(ppn<<10 | gFlag | PteV)
}

// loadPTE reads entry idx of the table page at tablePPN.
func (mm *Manager) loadPTE(tablePPN uint64, idx int) pte {
	p := mm.m.Page(tablePPN)
	return pte(binary.LittleEndian.Uint64(p[idx*8:]))
}

// storePTE writes entry idx of the table page at tablePPN.
func (mm *Manager) storePTE(tablePPN uint64, idx int, e pte) {
	p := mm.m.Page(tablePPN)
	binary.LittleEndian.PutUint64(p[idx*8:], uint64(e))
}

// vpn extracts the level-l virtual page number field.
func vpn(vma uint64, level int) int {
	return int(vma >> (hw.PageOrder + 9*level) & 0x1ff)
}

// wellFormed reports whether vma is Sv39-canonical: bits 63:38 must be a
// sign extension of bit 38.
func wellFormed(vma uint64) bool {
	bits := int64(vma) >> 38
	return bits == 0 || bits == -1
}

// walk descends the active space's tables to the level-0 entry for vma and
// returns the table page and index holding it. With create set, missing
// subtables are allocated zero-filled with the global bit copied from the
// kernel convention (tables are global; leaves carry their own G). A huge
// leaf at level 2 or 1 fails the walk: megapages exist only in the main
// space's boot mappings and are never descended through.
func (mm *Manager) walk(vma uint64, create bool) (tablePPN uint64, idx int, err error) {
	if !wellFormed(vma) {
		return 0, 0, kerr.ErrInvalid
	}
	tab := mm.activeRootPPN()
	for level := 2; level > 0; level-- {
		i := vpn(vma, level)
		e := mm.loadPTE(tab, i)
		switch {
		case e.valid() && e.leaf():
			return 0, 0, kerr.ErrInvalid
		case e.valid():
			tab = e.ppn()
		case create:
			child, aerr := mm.allocZeroed()
			if aerr != nil {
				return 0, 0, aerr
			}
			mm.storePTE(tab, i, tablePTE(child, PteG))
			tab = child
		default:
			return 0, 0, kerr.ErrNoEntry
		}
	}
	return tab, vpn(vma, 0), nil
}

// MapPage installs a 4K leaf mapping vma -> ppn in the active space.
func (mm *Manager) MapPage(vma, ppn, rwxugFlags uint64) error {
	if vma%hw.PageSize != 0 {
		return kerr.ErrInvalid
	}
	tab, idx, err := mm.walk(vma, true)
	if err != nil {
		return err
	}
	mm.storePTE(tab, idx, leafPTE(ppn, rwxugFlags))
	return nil
}

// MapRange maps size bytes (rounded up to pages) of contiguous physical
// memory starting at firstPPN.
func (mm *Manager) MapRange(vma uint64, size uint64, firstPPN, rwxugFlags uint64) error {
	if size == 0 {
		return kerr.ErrInvalid
	}
	n := pageCount(size)
	for i := uint64(0); i < n; i++ {
		if err := mm.MapPage(vma+i*hw.PageSize, firstPPN+i, rwxugFlags); err != nil {
			return err
		}
	}
	return nil
}

// AllocAndMapRange allocates contiguous physical pages and maps them at
// vma. On failure any partially installed mappings are torn down.
func (mm *Manager) AllocAndMapRange(vma uint64, size uint64, rwxugFlags uint64) error {
	if size == 0 {
		return kerr.ErrInvalid
	}
	n := pageCount(size)
	ppn, err := mm.AllocPhysPages(n)
	if err != nil {
		return err
	}
	for i := uint64(0); i < n; i++ {
		mm.zeroPage(ppn + i)
	}
	if err := mm.MapRange(vma, size, ppn, rwxugFlags); err != nil {
		mm.UnmapAndFreeRange(vma, size)
		mm.FreePhysPages(ppn, n)
		return err
	}
	return nil
}

// SetRangeFlags rewrites the permission bits of every mapped leaf in
// [vma, vma+size). Unmapped pages are skipped.
func (mm *Manager) SetRangeFlags(vma, size, rwxugFlags uint64) {
	n := pageCount(size)
	for i := uint64(0); i < n; i++ {
		tab, idx, err := mm.walk(vma+i*hw.PageSize, false)
		if err != nil {
			continue
		}
		e := mm.loadPTE(tab, idx)
		if !e.valid() || !e.leaf() {
			continue
		}
		mm.storePTE(tab, idx, pte(uint64(e)&^uint64(PermMask)|rwxugFlags&PermMask))
	}
}

// UnmapAndFreeRange removes every mapped leaf in [vma, vma+size), freeing
// the physical pages.
func (mm *Manager) UnmapAndFreeRange(vma, size uint64) {
	n := pageCount(size)
	for i := uint64(0); i < n; i++ {
		tab, idx, err := mm.walk(vma+i*hw.PageSize, false)
		if err != nil {
			continue
		}
		e := mm.loadPTE(tab, idx)
		if !e.valid() || !e.leaf() {
			continue
		}
		mm.storePTE(tab, idx, 0)
		mm.FreePhysPage(e.ppn())
	}
}

func pageCount(size uint64) uint64 {
	return (size + hw.PageSize - 1) / hw.PageSize
}
