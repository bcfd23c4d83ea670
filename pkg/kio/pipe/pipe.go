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

// Package pipe provides an in-kernel unidirectional pipe: a one-page ring
// buffer shared by a reader endpoint and a writer endpoint.
package pipe

import (
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/hw"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kerr"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kio"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/mem"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/sched"
)

// bufSize is the ring capacity carrier; one slot is kept open to tell full
// from empty.
const bufSize = hw.PageSize

// pipe is the state shared by both endpoints. The ring page comes from the
// physical page allocator and goes back to it when both ends have closed.
type pipe struct {
	mm          *mem.Manager
	bufPPN      uint64
	buf         []byte
	head, tail  int
	closedRead  bool
	closedWrite bool
	readable    sched.Condition
	writable    sched.Condition
}

type reader struct {
	p *pipe
}

type writer struct {
	p *pipe
}

// New creates a pipe and returns its writer and reader endpoints, each
// holding one reference.
func New(mm *mem.Manager) (w, r *kio.IO, err error) {
	ppn, err := mm.AllocPhysPage()
	if err != nil {
		return nil, nil, err
	}
	p := &pipe{mm: mm, bufPPN: ppn, buf: mm.PagePtr(ppn)}
	p.readable.InitCondition("pipe.readable")
	p.writable.InitCondition("pipe.writable")
	return kio.New1(&writer{p: p}), kio.New1(&reader{p: p}), nil
}

func (p *pipe) empty() bool { return p.head == p.tail }

func (p *pipe) full() bool { return (p.head+1)%bufSize == p.tail }

func (p *pipe) maybeFree() {
	if p.closedRead && p.closedWrite {
		p.mm.FreePhysPage(p.bufPPN)
		p.buf = nil
	}
}

// Read fills buf from the ring, blocking while it is empty. With the
// writer closed, it returns the bytes read so far; 0 is end of stream.
func (r *reader) Read(buf []byte) (int64, error) {
	p := r.p
	var total int64
	for total < int64(len(buf)) {
		for p.empty() {
			if p.closedWrite {
				return total, nil
			}
			p.readable.Wait()
		}
		buf[total] = p.buf[p.tail]
		p.tail = (p.tail + 1) % bufSize
		total++
		p.writable.Broadcast()
	}
	return total, nil
}

// Close marks the read side closed and wakes blocked writers.
func (r *reader) Close() {
	r.p.closedRead = true
	r.p.readable.Broadcast()
	r.p.writable.Broadcast()
	r.p.maybeFree()
}

func (r *reader) Cntl(cmd int, _ *uint64) (int64, error) {
	if cmd == kio.CtlGetBlkSz {
		return 1, nil
	}
	return 0, kerr.ErrNotSupported
}

// Write copies all of buf into the ring, blocking while it is full. A
// closed read side fails with EPIPE.
func (w *writer) Write(buf []byte) (int64, error) {
	p := w.p
	var total int64
	for total < int64(len(buf)) {
		for p.full() {
			if p.closedRead {
				return 0, kerr.ErrPipe
			}
			p.writable.Wait()
		}
		if p.closedRead {
			return 0, kerr.ErrPipe
		}
		p.buf[p.head] = buf[total]
		p.head = (p.head + 1) % bufSize
		total++
		p.readable.Broadcast()
	}
	return total, nil
}

// Close marks the write side closed; a blocked reader sees end of stream.
func (w *writer) Close() {
	w.p.closedWrite = true
	w.p.readable.Broadcast()
	w.p.writable.Broadcast()
	w.p.maybeFree()
}

func (w *writer) Cntl(cmd int, _ *uint64) (int64, error) {
	if cmd == kio.CtlGetBlkSz {
		return 1, nil
	}
	return 0, kerr.ErrNotSupported
}
