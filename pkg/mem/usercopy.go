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

// Access is the kind of user memory access being translated.
type Access int

// Access kinds.
const (
	AccessRead Access = iota
	AccessWrite
	AccessExec
)

// Translate resolves vma in the active space to a physical address,
// checking the leaf's user bit and the requested permission. The supervisor
// keeps SUM enabled, so a successful translation means the kernel may touch
// the page directly.
func (mm *Manager) Translate(vma uint64, at Access) (uint64, error) {
	tab, idx, err := mm.walk(vma, false)
	if err != nil {
		return 0, kerr.ErrAccess
	}
	e := mm.loadPTE(tab, idx)
	if !e.valid() || !e.leaf() || e&PteU == 0 {
		return 0, kerr.ErrAccess
	}
	switch at {
	case AccessRead:
		if e&PteR == 0 {
			return 0, kerr.ErrAccess
		}
	case AccessWrite:
		if e&PteW == 0 {
			return 0, kerr.ErrAccess
		}
	case AccessExec:
		if e&PteX == 0 {
			return 0, kerr.ErrAccess
		}
	}
	return e.ppn()<<hw.PageOrder + vma%hw.PageSize, nil
}

// ReadUser copies len(buf) bytes from user address vma.
func (mm *Manager) ReadUser(vma uint64, buf []byte) error {
	return mm.userCopy(vma, buf, AccessRead)
}

// WriteUser copies buf to user address vma.
func (mm *Manager) WriteUser(vma uint64, buf []byte) error {
	return mm.userCopy(vma, buf, AccessWrite)
}

func (mm *Manager) userCopy(vma uint64, buf []byte, at Access) error {
	for len(buf) > 0 {
		pma, err := mm.Translate(vma, at)
		if err != nil {
			return err
		}
		n := hw.PageSize - pma%hw.PageSize
		if n > uint64(len(buf)) {
			n = uint64(len(buf))
		}
		if at == AccessWrite {
			mm.m.WritePhys(pma, buf[:n])
		} else {
			mm.m.ReadPhys(pma, buf[:n])
		}
		vma += n
		buf = buf[n:]
	}
	return nil
}

// ReadUserString reads a NUL-terminated string from user memory, capped at
// maxLen bytes.
func (mm *Manager) ReadUserString(vma uint64, maxLen int) (string, error) {
	var out []byte
	for len(out) < maxLen {
		var b [1]byte
		if err := mm.ReadUser(vma+uint64(len(out)), b[:]); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(out), nil
		}
		out = append(out, b[0])
	}
	return "", kerr.ErrInvalid
}

// ReadUserPtr reads a 64-bit user pointer.
func (mm *Manager) ReadUserPtr(vma uint64) (uint64, error) {
	var b [8]byte
	if err := mm.ReadUser(vma, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
