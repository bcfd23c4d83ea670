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

package kio

import "github.com/sarasehgal/Unix-style-OS-Development/pkg/kerr"

// memIO is a positioned endpoint over a fixed byte buffer. Out-of-range
// reads and writes truncate; SETEND may only shrink.
type memIO struct {
	buf  []byte
	size uint64
}

// NewMemory returns an endpoint over buf holding one reference.
func NewMemory(buf []byte) *IO {
	return New1(&memIO{buf: buf, size: uint64(len(buf))})
}

func (m *memIO) ReadAt(pos uint64, buf []byte) (int64, error) {
	if pos >= m.size {
		return 0, kerr.ErrInvalid
	}
	return int64(copy(buf, m.buf[pos:m.size])), nil
}

func (m *memIO) WriteAt(pos uint64, buf []byte) (int64, error) {
	if pos >= m.size {
		return 0, kerr.ErrInvalid
	}
	return int64(copy(m.buf[pos:m.size], buf)), nil
}

func (m *memIO) Cntl(cmd int, arg *uint64) (int64, error) {
	switch cmd {
	case CtlGetBlkSz:
		return 1, nil
	case CtlGetEnd:
		if arg == nil {
			return 0, kerr.ErrInvalid
		}
		*arg = m.size
		return 0, nil
	case CtlSetEnd:
		if arg == nil || *arg > m.size {
			return 0, kerr.ErrInvalid
		}
		m.size = *arg
		return 0, nil
	default:
		return 0, kerr.ErrNotSupported
	}
}
