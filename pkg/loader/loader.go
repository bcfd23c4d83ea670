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

// Package loader loads ELF64 little-endian RISC-V executables from a kio
// endpoint into the active address space: each PT_LOAD segment is written
// into freshly mapped user RW pages, then the page permissions are set
// from the segment flags.
package loader

import (
	"encoding/binary"

	"github.com/sarasehgal/Unix-style-OS-Development/pkg/hw"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kerr"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kio"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/mem"
)

const (
	ehdrSize = 64
	phdrSize = 56

	etExec    = 2
	emRiscv   = 243
	evCurrent = 1

	ptLoad = 1

	pfX = 0x1
	pfW = 0x2
	pfR = 0x4
)

// Load reads the ELF image behind elfio into the active address space and
// returns its entry point. The entry point and every loaded segment must
// lie in the user virtual window.
func Load(elfio *kio.IO, mm *mem.Manager) (entry uint64, err error) {
	var ehdr [ehdrSize]byte
	if n, err := elfio.ReadAt(0, ehdr[:]); err != nil || n != ehdrSize {
		return 0, kerr.ErrBadFormat
	}

	if ehdr[0] != 0x7f || ehdr[1] != 'E' || ehdr[2] != 'L' || ehdr[3] != 'F' {
		return 0, kerr.ErrBadFormat
	}
	if ehdr[4] != 2 || ehdr[5] != 1 || ehdr[6] != evCurrent {
		return 0, kerr.ErrBadFormat
	}
	if binary.LittleEndian.Uint16(ehdr[16:]) != etExec ||
		binary.LittleEndian.Uint16(ehdr[18:]) != emRiscv {
		return 0, kerr.ErrBadFormat
	}

	entry = binary.LittleEndian.Uint64(ehdr[24:])
	if entry < mem.UMemStart || entry >= mem.UMemEnd {
		return 0, kerr.ErrBadFormat
	}

	phoff := binary.LittleEndian.Uint64(ehdr[32:])
	phnum := binary.LittleEndian.Uint16(ehdr[56:])

	for i := uint16(0); i < phnum; i++ {
		var phdr [phdrSize]byte
		pos := phoff + uint64(i)*phdrSize
		if n, err := elfio.ReadAt(pos, phdr[:]); err != nil || n != phdrSize {
			return 0, kerr.ErrBadFormat
		}
		if binary.LittleEndian.Uint32(phdr[0:]) != ptLoad {
			continue
		}
		flags := binary.LittleEndian.Uint32(phdr[4:])
		offset := binary.LittleEndian.Uint64(phdr[8:])
		vaddr := binary.LittleEndian.Uint64(phdr[16:])
		filesz := binary.LittleEndian.Uint64(phdr[32:])
		memsz := binary.LittleEndian.Uint64(phdr[40:])

		if memsz == 0 {
			continue
		}
		if filesz > memsz || vaddr < mem.UMemStart || vaddr+memsz > mem.UMemEnd {
			return 0, kerr.ErrBadFormat
		}

		base := vaddr &^ (hw.PageSize - 1)
		span := vaddr + memsz - base
		if err := mm.AllocAndMapRange(base, span, mem.MapRWUG); err != nil {
			return 0, err
		}

		if filesz > 0 {
			buf := make([]byte, filesz)
			if n, err := elfio.ReadAt(offset, buf); err != nil || uint64(n) != filesz {
				return 0, kerr.ErrBadFormat
			}
			if err := mm.WriteUser(vaddr, buf); err != nil {
				return 0, err
			}
		}

		perm := uint64(mem.PteU)
		if flags&pfR != 0 {
			perm |= mem.PteR
		}
		if flags&pfW != 0 {
			perm |= mem.PteW
		}
		if flags&pfX != 0 {
			perm |= mem.PteX
		}
		mm.SetRangeFlags(base, span, perm)
	}
	return entry, nil
}

// ImageBuilder assembles minimal ELF64 RISC-V executables, used by mkfs
// tooling and tests to stock filesystem images with runnable programs.
type ImageBuilder struct {
	Entry    uint64
	Segments []Segment
}

// Segment is one PT_LOAD region.
type Segment struct {
	Vaddr uint64
	Data  []byte
	Flags uint32 // pf bits
}

// PfR, PfW, PfX name segment permission bits for builders.
const (
	PfX = pfX
	PfW = pfW
	PfR = pfR
)

// Build returns the image bytes.
func (b *ImageBuilder) Build() []byte {
	phnum := len(b.Segments)
	hdrEnd := uint64(ehdrSize + phnum*phdrSize)

	var out []byte
	out = append(out, make([]byte, hdrEnd)...)
	out[0], out[1], out[2], out[3] = 0x7f, 'E', 'L', 'F'
	out[4], out[5], out[6] = 2, 1, evCurrent
	binary.LittleEndian.PutUint16(out[16:], etExec)
	binary.LittleEndian.PutUint16(out[18:], emRiscv)
	binary.LittleEndian.PutUint32(out[20:], evCurrent)
	binary.LittleEndian.PutUint64(out[24:], b.Entry)
	binary.LittleEndian.PutUint64(out[32:], ehdrSize)
	binary.LittleEndian.PutUint16(out[52:], ehdrSize)
	binary.LittleEndian.PutUint16(out[54:], phdrSize)
	binary.LittleEndian.PutUint16(out[56:], uint16(phnum))

	for i, seg := range b.Segments {
		ph := out[ehdrSize+i*phdrSize:]
		binary.LittleEndian.PutUint32(ph[0:], ptLoad)
		binary.LittleEndian.PutUint32(ph[4:], seg.Flags)
		binary.LittleEndian.PutUint64(ph[8:], uint64(len(out)))
		binary.LittleEndian.PutUint64(ph[16:], seg.Vaddr)
		binary.LittleEndian.PutUint64(ph[24:], seg.Vaddr)
		binary.LittleEndian.PutUint64(ph[32:], uint64(len(seg.Data)))
		binary.LittleEndian.PutUint64(ph[40:], uint64(len(seg.Data)))
		binary.LittleEndian.PutUint64(ph[48:], hw.PageSize)
		out = append(out, seg.Data...)
	}
	return out
}
