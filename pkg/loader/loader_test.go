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

package loader

import (
	"bytes"
	"debug/elf"
	"testing"

	"github.com/sarasehgal/Unix-style-OS-Development/pkg/hw"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kerr"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kio"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/mem"
)

func buildImage(entry uint64, segs ...Segment) []byte {
	b := ImageBuilder{Entry: entry, Segments: segs}
	return b.Build()
}

func TestImageBuilderParsesWithDebugElf(t *testing.T) {
	img := buildImage(mem.UMemStart,
		Segment{Vaddr: mem.UMemStart, Data: []byte("text bytes"), Flags: PfR | PfX},
		Segment{Vaddr: mem.UMemStart + 0x2000, Data: []byte("data"), Flags: PfR | PfW},
	)

	f, err := elf.NewFile(bytes.NewReader(img))
	if err != nil {
		t.Fatalf("debug/elf rejected the image: %v", err)
	}
	if f.Machine != elf.EM_RISCV || f.Class != elf.ELFCLASS64 || f.Type != elf.ET_EXEC {
		t.Fatalf("header: machine=%v class=%v type=%v", f.Machine, f.Class, f.Type)
	}
	if f.Entry != mem.UMemStart {
		t.Fatalf("entry: got %#x, wanted %#x", f.Entry, uint64(mem.UMemStart))
	}
	if len(f.Progs) != 2 {
		t.Fatalf("program headers: got %d, wanted 2", len(f.Progs))
	}
	data := make([]byte, 10)
	if _, err := f.Progs[0].ReadAt(data, 0); err != nil {
		t.Fatalf("segment read: %v", err)
	}
	if string(data) != "text bytes" {
		t.Fatalf("segment contents: got %q", data)
	}
}

func TestLoadIntoAddressSpace(t *testing.T) {
	m := hw.NewMachine(8 * 1024 * 1024)
	mm := mem.Init(m)

	text := []byte("executable payload")
	img := buildImage(mem.UMemStart+0x1000,
		Segment{Vaddr: mem.UMemStart + 0x1000, Data: text, Flags: PfR | PfX},
	)

	entry, err := Load(kio.NewMemory(img), mm)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if entry != mem.UMemStart+0x1000 {
		t.Fatalf("entry: got %#x", entry)
	}

	got := make([]byte, len(text))
	if err := mm.ReadUser(mem.UMemStart+0x1000, got); err != nil {
		t.Fatalf("ReadUser: %v", err)
	}
	if !bytes.Equal(got, text) {
		t.Fatalf("loaded bytes: got %q, wanted %q", got, text)
	}

	// Segment permissions followed the flags: no write, exec allowed.
	if _, err := mm.Translate(mem.UMemStart+0x1000, mem.AccessWrite); err == nil {
		t.Errorf("text segment is writable")
	}
	if _, err := mm.Translate(mem.UMemStart+0x1000, mem.AccessExec); err != nil {
		t.Errorf("text segment not executable: %v", err)
	}
}

func TestLoadRejectsBadImages(t *testing.T) {
	m := hw.NewMachine(8 * 1024 * 1024)
	mm := mem.Init(m)

	cases := []struct {
		name string
		img  []byte
	}{
		{"empty", nil},
		{"bad magic", append([]byte("NOPE"), make([]byte, 100)...)},
		{"entry outside user window", buildImage(0x1000,
			Segment{Vaddr: mem.UMemStart, Data: []byte("x"), Flags: PfR})},
	}
	for _, tc := range cases {
		if tc.img == nil {
			tc.img = make([]byte, 1)
		}
		if _, err := Load(kio.NewMemory(tc.img), mm); err != kerr.ErrBadFormat {
			t.Errorf("%s: got %v, wanted ErrBadFormat", tc.name, err)
		}
	}
}
