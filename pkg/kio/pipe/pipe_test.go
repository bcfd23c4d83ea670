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

package pipe_test

import (
	"bytes"
	"testing"

	"github.com/sarasehgal/Unix-style-OS-Development/pkg/hw"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kerr"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kio"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kio/pipe"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/mem"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/sched"
)

func newPipe(t *testing.T) (w, r *kio.IO, mm *mem.Manager) {
	t.Helper()
	m := hw.NewMachine(8 * 1024 * 1024)
	mm = mem.Init(m)
	sched.Init(m, mm)
	w, r, err := pipe.New(mm)
	if err != nil {
		t.Fatalf("pipe.New: %v", err)
	}
	return w, r, mm
}

func TestPipeRW(t *testing.T) {
	w, r, _ := newPipe(t)

	msg := []byte("here's some bytes")
	tid, _ := sched.Spawn("writer", func() {
		if n, err := w.Write(msg); n != int64(len(msg)) || err != nil {
			t.Errorf("Write: got (%d, %v), wanted (%d, nil)", n, err, len(msg))
		}
	})

	buf := make([]byte, len(msg))
	if n, err := r.Read(buf); n != int64(len(msg)) || err != nil {
		t.Fatalf("Read: got (%d, %v), wanted (%d, nil)", n, err, len(msg))
	}
	if !bytes.Equal(buf, msg) {
		t.Fatalf("Read: got %q, wanted %q", buf, msg)
	}
	sched.Join(tid)
}

func TestPipeEOF(t *testing.T) {
	w, r, _ := newPipe(t)

	tid, _ := sched.Spawn("writer", func() {
		w.Write([]byte("hello"))
		w.Close()
	})

	buf := make([]byte, 5)
	if n, err := r.Read(buf); n != 5 || err != nil || string(buf) != "hello" {
		t.Fatalf("Read: got (%d, %v) %q, wanted (5, nil) %q", n, err, buf, "hello")
	}
	// Writer closed and the ring is empty: end of stream.
	if n, err := r.Read(buf); n != 0 || err != nil {
		t.Fatalf("Read at EOF: got (%d, %v), wanted (0, nil)", n, err)
	}
	sched.Join(tid)
	r.Close()
}

func TestPipeBrokenPipe(t *testing.T) {
	w, r, _ := newPipe(t)
	r.Close()
	if _, err := w.Write([]byte("x")); err != kerr.ErrPipe {
		t.Fatalf("Write after reader close: got %v, wanted ErrPipe", err)
	}
	w.Close()
}

func TestPipeByteConservation(t *testing.T) {
	w, r, _ := newPipe(t)

	// More than one ring's worth, so the writer must block and resume.
	payload := make([]byte, 3*hw.PageSize+123)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	tid, _ := sched.Spawn("writer", func() {
		if n, err := w.Write(payload); n != int64(len(payload)) || err != nil {
			t.Errorf("Write: got (%d, %v), wanted (%d, nil)", n, err, len(payload))
		}
		w.Close()
	})

	var got []byte
	buf := make([]byte, 999)
	for {
		n, err := r.Read(buf)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if n == 0 {
			break
		}
		got = append(got, buf[:n]...)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("reader got %d bytes, wanted %d matching bytes", len(got), len(payload))
	}
	sched.Join(tid)
	r.Close()
}

func TestPipeFreesPageWhenBothEndsClose(t *testing.T) {
	w, r, mm := newPipe(t)
	before := mm.FreePageCount()
	w.Close()
	r.Close()
	if got := mm.FreePageCount(); got != before+1 {
		t.Fatalf("ring page not freed: %d free, wanted %d", got, before+1)
	}
}
