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

package dev

import (
	"testing"

	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kerr"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kio"
)

func TestParseSpec(t *testing.T) {
	cases := []struct {
		spec   string
		name   string
		instno int
		err    error
	}{
		{"uart", "uart", 0, nil},
		{"uart0", "uart", 0, nil},
		{"uart1", "uart", 1, nil},
		{"vioblk12", "vioblk", 12, nil},
		{"", "", 0, kerr.ErrInvalid},
		{"123", "", 0, kerr.ErrInvalid},
	}
	for _, tc := range cases {
		name, instno, err := ParseSpec(tc.spec)
		if err != tc.err || name != tc.name || instno != tc.instno {
			t.Errorf("ParseSpec(%q): got (%q, %d, %v), wanted (%q, %d, %v)",
				tc.spec, name, instno, err, tc.name, tc.instno, tc.err)
		}
	}
}

func TestRegistryInstances(t *testing.T) {
	r := NewRegistry()
	open := func(aux any) (*kio.IO, error) {
		return kio.NewMemory(aux.([]byte)), nil
	}

	if got := r.Register("null", open, []byte{1}); got != 0 {
		t.Errorf("first register: got instno %d, wanted 0", got)
	}
	if got := r.Register("null", open, []byte{2}); got != 1 {
		t.Errorf("second register: got instno %d, wanted 1", got)
	}

	io1, err := r.Open("null", 1)
	if err != nil {
		t.Fatalf("Open(null, 1): %v", err)
	}
	var b [1]byte
	if _, err := io1.ReadAt(0, b[:]); err != nil || b[0] != 2 {
		t.Errorf("instance 1 read: got (%d, %v), wanted (2, nil)", b[0], err)
	}

	if _, err := r.Open("null", 2); err != kerr.ErrNoDevice {
		t.Errorf("Open(null, 2): got %v, wanted ErrNoDevice", err)
	}
	if _, err := r.Open("missing", 0); err != kerr.ErrNoDevice {
		t.Errorf("Open(missing, 0): got %v, wanted ErrNoDevice", err)
	}
}
