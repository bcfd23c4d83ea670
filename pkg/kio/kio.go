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

// Package kio is the unified I/O object model. An endpoint is a
// reference-counted handle over a backing object implementing some subset
// of {Close, Cntl, Read, Write, ReadAt, WriteAt}; operations the backing
// does not implement fail with ENOTSUP.
package kio

import (
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kerr"
)

// Control codes understood by Cntl.
const (
	CtlGetBlkSz = 0
	CtlGetEnd   = 1
	CtlSetEnd   = 2
	CtlGetPos   = 3
	CtlSetPos   = 4
	CtlFlush    = 5
)

// Optional backing interfaces. A backing implements whichever subset its
// semantics support.
type (
	// Reader is a stream read.
	Reader interface {
		Read(buf []byte) (int64, error)
	}

	// Writer is a stream write.
	Writer interface {
		Write(buf []byte) (int64, error)
	}

	// ReaderAt is a positioned read.
	ReaderAt interface {
		ReadAt(pos uint64, buf []byte) (int64, error)
	}

	// WriterAt is a positioned write.
	WriterAt interface {
		WriteAt(pos uint64, buf []byte) (int64, error)
	}

	// Controller handles control codes. arg is in/out; the returned value
	// is the operation result (for CtlGetBlkSz, the block size).
	Controller interface {
		Cntl(cmd int, arg *uint64) (int64, error)
	}

	// Closer releases the backing when the last reference goes away.
	Closer interface {
		Close()
	}
)

// IO is a reference-counted endpoint.
type IO struct {
	backing any
	refcnt  int
}

// New0 initializes an endpoint with a zero reference count. Used by
// backings that embed their endpoint and hand out references via AddRef.
func New0(backing any) *IO {
	return &IO{backing: backing}
}

// New1 initializes an endpoint holding one reference.
func New1(backing any) *IO {
	return &IO{backing: backing, refcnt: 1}
}

// RefCount returns the current reference count.
func (io *IO) RefCount() int { return io.refcnt }

// AddRef takes a reference and returns io.
func (io *IO) AddRef() *IO {
	io.refcnt++
	return io
}

// Close drops a reference. At zero the backing's Close runs.
func (io *IO) Close() {
	if io.refcnt == 0 {
		panic("kio: close of endpoint with zero refcount")
	}
	io.refcnt--
	if io.refcnt == 0 {
		if c, ok := io.backing.(Closer); ok {
			c.Close()
		}
	}
}

// Read reads up to len(buf) bytes from the endpoint's stream position.
func (io *IO) Read(buf []byte) (int64, error) {
	r, ok := io.backing.(Reader)
	if !ok {
		return 0, kerr.ErrNotSupported
	}
	return r.Read(buf)
}

// Write writes up to len(buf) bytes at the endpoint's stream position.
func (io *IO) Write(buf []byte) (int64, error) {
	w, ok := io.backing.(Writer)
	if !ok {
		return 0, kerr.ErrNotSupported
	}
	return w.Write(buf)
}

// ReadAt reads at an absolute position.
func (io *IO) ReadAt(pos uint64, buf []byte) (int64, error) {
	r, ok := io.backing.(ReaderAt)
	if !ok {
		return 0, kerr.ErrNotSupported
	}
	return r.ReadAt(pos, buf)
}

// WriteAt writes at an absolute position.
func (io *IO) WriteAt(pos uint64, buf []byte) (int64, error) {
	w, ok := io.backing.(WriterAt)
	if !ok {
		return 0, kerr.ErrNotSupported
	}
	return w.WriteAt(pos, buf)
}

// Cntl issues a control operation. Endpoints without a Controller still
// answer CtlGetBlkSz with the default block size of one.
func (io *IO) Cntl(cmd int, arg *uint64) (int64, error) {
	if c, ok := io.backing.(Controller); ok {
		return c.Cntl(cmd, arg)
	}
	if cmd == CtlGetBlkSz {
		return 1, nil
	}
	return 0, kerr.ErrNotSupported
}

// BlockSize returns the endpoint's block size.
func (io *IO) BlockSize() int64 {
	n, err := io.Cntl(CtlGetBlkSz, nil)
	if err != nil {
		return 1
	}
	return n
}

// Seek sets the endpoint position for seekable endpoints.
func (io *IO) Seek(pos uint64) error {
	_, err := io.Cntl(CtlSetPos, &pos)
	return err
}

// End returns the endpoint's end position.
func (io *IO) End() (uint64, error) {
	var end uint64
	if _, err := io.Cntl(CtlGetEnd, &end); err != nil {
		return 0, err
	}
	return end, nil
}

// Fill reads until buf is full or the stream ends, returning the number of
// bytes read. A zero read result is end of stream.
func Fill(io *IO, buf []byte) (int64, error) {
	var pos int64
	for pos < int64(len(buf)) {
		n, err := io.Read(buf[pos:])
		if err != nil {
			return pos, err
		}
		if n == 0 {
			return pos, nil
		}
		pos += n
	}
	return pos, nil
}

// WriteFull writes all of buf, looping over short writes.
func WriteFull(io *IO, buf []byte) (int64, error) {
	var pos int64
	for pos < int64(len(buf)) {
		n, err := io.Write(buf[pos:])
		if err != nil {
			return pos, err
		}
		if n == 0 {
			return pos, nil
		}
		pos += n
	}
	return pos, nil
}
