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

// Package mem is the virtual-memory manager: the physical page allocator,
// the Sv39 page-table engine, and the address-space manager. All state it
// manages — free pages, page-table nodes, user pages — lives in the
// machine's physical RAM.
package mem

import (
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kerr"
)

// chunk is a run of consecutive free physical pages. Free pages are kept in
// a linked list of chunks; allocation breaks up the smallest chunk that
// fits (best fit). Freed runs are pushed at the head without coalescing.
type chunk struct {
	next     *chunk
	firstPPN uint64
	pageCnt  uint64
}

// AllocPhysPages allocates cnt consecutive physical pages and returns the
// first page number.
func (mm *Manager) AllocPhysPages(cnt uint64) (uint64, error) {
	if cnt == 0 {
		return 0, kerr.ErrInvalid
	}
	var best **chunk
	for pp := &mm.chunks; *pp != nil; pp = &(*pp).next {
		c := *pp
		if c.pageCnt >= cnt && (best == nil || c.pageCnt < (*best).pageCnt) {
			best = pp
		}
	}
	if best == nil {
		return 0, kerr.ErrNoMem
	}
	c := *best
	ppn := c.firstPPN
	if c.pageCnt == cnt {
		*best = c.next
	} else {
		c.firstPPN += cnt
		c.pageCnt -= cnt
	}
	return ppn, nil
}

// AllocPhysPage allocates a single page.
func (mm *Manager) AllocPhysPage() (uint64, error) {
	return mm.AllocPhysPages(1)
}

// FreePhysPages returns a run of pages to the pool.
func (mm *Manager) FreePhysPages(ppn, cnt uint64) {
	if cnt == 0 {
		return
	}
	mm.chunks = &chunk{next: mm.chunks, firstPPN: ppn, pageCnt: cnt}
}

// FreePhysPage returns one page to the pool.
func (mm *Manager) FreePhysPage(ppn uint64) {
	mm.FreePhysPages(ppn, 1)
}

// FreePageCount returns the number of free pages. With the initial pool
// size, this gives the page-conservation invariant its observable side.
func (mm *Manager) FreePageCount() uint64 {
	var total uint64
	for c := mm.chunks; c != nil; c = c.next {
		total += c.pageCnt
	}
	return total
}

// PagePtr returns the RAM backing of an allocated page. Pages are
// identity-mapped in the kernel half, so the slice is the page.
func (mm *Manager) PagePtr(ppn uint64) []byte {
	return mm.m.Page(ppn)
}

// zeroPage clears a physical page.
func (mm *Manager) zeroPage(ppn uint64) {
	p := mm.m.Page(ppn)
	for i := range p {
		p[i] = 0
	}
}

// allocZeroed allocates one zero-filled page.
func (mm *Manager) allocZeroed() (uint64, error) {
	ppn, err := mm.AllocPhysPage()
	if err != nil {
		return 0, err
	}
	mm.zeroPage(ppn)
	return ppn, nil
}
