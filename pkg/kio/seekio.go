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

import (
	"math"

	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kerr"
)

// seekIO adapts a position-less endpoint exposing ReadAt/WriteAt into a
// stream endpoint with a current position. Transfers happen in multiples of
// the backing's block size.
type seekIO struct {
	backing *IO
	pos     uint64
	end     uint64
	blksz   uint64
}

// NewSeekable wraps backing, taking a reference on it. The backing's block
// size must be a power of two and it must answer CtlGetEnd.
func NewSeekable(backing *IO) (*IO, error) {
	blksz := backing.BlockSize()
	if blksz <= 0 || blksz&(blksz-1) != 0 {
		panic("kio: backing block size not a power of two")
	}
	end, err := backing.End()
	if err != nil {
		return nil, err
	}
	return New1(&seekIO{
		backing: backing.AddRef(),
		end:     end,
		blksz:   uint64(blksz),
	}), nil
}

func (s *seekIO) Close() {
	s.backing.Close()
}

func (s *seekIO) Read(buf []byte) (int64, error) {
	n := uint64(len(buf))
	if s.end-s.pos < n {
		n = s.end - s.pos
	}
	if n == 0 {
		return 0, nil
	}
	if n < s.blksz {
		return 0, kerr.ErrInvalid
	}
	n &^= s.blksz - 1
	rcnt, err := s.backing.ReadAt(s.pos, buf[:n])
	if rcnt > 0 {
		s.pos += uint64(rcnt)
	}
	return rcnt, err
}

func (s *seekIO) Write(buf []byte) (int64, error) {
	n := uint64(len(buf))
	if n == 0 {
		return 0, nil
	}
	if n < s.blksz {
		return 0, kerr.ErrInvalid
	}
	n &^= s.blksz - 1

	// A write past the current end grows the backing first.
	if s.end-s.pos < n {
		if math.MaxUint64-s.pos < n {
			return 0, kerr.ErrInvalid
		}
		end := s.pos + n
		if _, err := s.backing.Cntl(CtlSetEnd, &end); err != nil {
			return 0, err
		}
		s.end = end
	}

	wcnt, err := s.backing.WriteAt(s.pos, buf[:n])
	if wcnt > 0 {
		s.pos += uint64(wcnt)
	}
	return wcnt, err
}

func (s *seekIO) ReadAt(pos uint64, buf []byte) (int64, error) {
	return s.backing.ReadAt(pos, buf)
}

func (s *seekIO) WriteAt(pos uint64, buf []byte) (int64, error) {
	return s.backing.WriteAt(pos, buf)
}

func (s *seekIO) Cntl(cmd int, arg *uint64) (int64, error) {
	switch cmd {
	case CtlGetBlkSz:
		return int64(s.blksz), nil
	case CtlGetPos:
		if arg == nil {
			return 0, kerr.ErrInvalid
		}
		*arg = s.pos
		return 0, nil
	case CtlSetPos:
		if arg == nil || *arg&(s.blksz-1) != 0 || *arg > s.end {
			return 0, kerr.ErrInvalid
		}
		s.pos = *arg
		return 0, nil
	case CtlGetEnd:
		if arg == nil {
			return 0, kerr.ErrInvalid
		}
		*arg = s.end
		return 0, nil
	case CtlSetEnd:
		res, err := s.backing.Cntl(CtlSetEnd, arg)
		if err == nil {
			s.end = *arg
		}
		return res, err
	default:
		return s.backing.Cntl(cmd, arg)
	}
}
