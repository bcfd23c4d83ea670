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

package virtio_test

import (
	"bytes"
	"testing"

	"github.com/sarasehgal/Unix-style-OS-Development/pkg/boot"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/fs/ktfs"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/hw/viodev"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kerr"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kio"
)

func mkfsImage(img *kio.IO) error {
	return ktfs.Mkfs(img, ktfs.MkfsOptions{TotalBlocks: 1024})
}

const diskSectors = 128

func newSystem(t *testing.T) (*boot.System, *viodev.MemDisk) {
	t.Helper()
	disk := &viodev.MemDisk{Data: make([]byte, diskSectors*512)}
	for i := range disk.Data {
		disk.Data[i] = byte(i / 512)
	}
	s, err := boot.New(boot.Options{
		Disk:        disk,
		DiskSectors: diskSectors,
		SkipMount:   true,
	})
	if err != nil {
		t.Fatalf("boot.New: %v", err)
	}
	return s, disk
}

func TestVioblkAttach(t *testing.T) {
	s, _ := newSystem(t)
	io, err := s.Devices.Open("vioblk", 0)
	if err != nil {
		t.Fatalf("Open(vioblk): %v", err)
	}
	defer io.Close()

	if got := io.BlockSize(); got != 512 {
		t.Errorf("BlockSize: got %d, wanted 512", got)
	}
	end, err := io.End()
	if err != nil || end != diskSectors*512 {
		t.Errorf("End: got (%d, %v), wanted (%d, nil)", end, err, diskSectors*512)
	}
}

func TestVioblkReadWrite(t *testing.T) {
	s, disk := newSystem(t)
	io, err := s.Devices.Open("vioblk", 0)
	if err != nil {
		t.Fatalf("Open(vioblk): %v", err)
	}
	defer io.Close()

	// Read two sectors through the descriptor queue.
	buf := make([]byte, 1024)
	if n, err := io.ReadAt(512, buf); n != 1024 || err != nil {
		t.Fatalf("ReadAt: got (%d, %v), wanted (1024, nil)", n, err)
	}
	if !bytes.Equal(buf, disk.Data[512:1536]) {
		t.Fatalf("ReadAt contents differ from the backing disk")
	}

	// Write one sector and check it landed.
	sector := bytes.Repeat([]byte{0xc3}, 512)
	if n, err := io.WriteAt(2048, sector); n != 512 || err != nil {
		t.Fatalf("WriteAt: got (%d, %v), wanted (512, nil)", n, err)
	}
	if !bytes.Equal(disk.Data[2048:2560], sector) {
		t.Fatalf("WriteAt did not reach the backing disk")
	}

	// Read it back through the queue as well.
	if _, err := io.ReadAt(2048, buf[:512]); err != nil {
		t.Fatalf("ReadAt after write: %v", err)
	}
	if !bytes.Equal(buf[:512], sector) {
		t.Fatalf("read-back mismatch")
	}
}

func TestVioblkLargeTransfer(t *testing.T) {
	s, disk := newSystem(t)
	io, err := s.Devices.Open("vioblk", 0)
	if err != nil {
		t.Fatalf("Open(vioblk): %v", err)
	}
	defer io.Close()

	// Larger than one request's worth of descriptors, so the driver
	// splits it into several chains.
	buf := make([]byte, 16*512)
	if n, err := io.ReadAt(0, buf); n != int64(len(buf)) || err != nil {
		t.Fatalf("ReadAt: got (%d, %v), wanted (%d, nil)", n, err, len(buf))
	}
	if !bytes.Equal(buf, disk.Data[:len(buf)]) {
		t.Fatalf("large read mismatch")
	}
}

func TestVioblkAlignment(t *testing.T) {
	s, _ := newSystem(t)
	io, err := s.Devices.Open("vioblk", 0)
	if err != nil {
		t.Fatalf("Open(vioblk): %v", err)
	}
	defer io.Close()

	if _, err := io.ReadAt(100, make([]byte, 512)); err != kerr.ErrInvalid {
		t.Errorf("unaligned pos: got %v, wanted ErrInvalid", err)
	}
	if _, err := io.ReadAt(0, make([]byte, 100)); err != kerr.ErrInvalid {
		t.Errorf("unaligned len: got %v, wanted ErrInvalid", err)
	}
	if _, err := io.ReadAt(diskSectors*512, make([]byte, 512)); err != kerr.ErrInvalid {
		t.Errorf("read past capacity: got %v, wanted ErrInvalid", err)
	}
	if n, err := io.ReadAt(0, nil); n != 0 || err != nil {
		t.Errorf("zero-length: got (%d, %v), wanted (0, nil)", n, err)
	}
}

func TestViorngRead(t *testing.T) {
	s, _ := newSystem(t)
	io, err := s.Devices.Open("rng", 0)
	if err != nil {
		t.Fatalf("Open(rng): %v", err)
	}
	defer io.Close()

	a := make([]byte, 64)
	b := make([]byte, 64)
	if n, err := io.Read(a); n != 64 || err != nil {
		t.Fatalf("Read: got (%d, %v), wanted (64, nil)", n, err)
	}
	if _, err := io.Read(b); err != nil {
		t.Fatalf("second Read: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Errorf("two entropy reads returned identical bytes")
	}
}

func TestVioblkFeedsFilesystem(t *testing.T) {
	// The full stack: mkfs an image, serve it through the virtio device
	// model, mount through the driver and the cache.
	disk := &viodev.MemDisk{Data: make([]byte, 1024*512)}
	img := kio.NewMemory(disk.Data)
	if err := mkfsImage(img); err != nil {
		t.Fatalf("mkfs: %v", err)
	}
	s, err := boot.New(boot.Options{Disk: disk, DiskSectors: 1024})
	if err != nil {
		t.Fatalf("boot.New: %v", err)
	}
	if s.FS == nil {
		t.Fatalf("filesystem did not mount")
	}
	if err := s.FS.Create("via-virtio"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	f, err := s.FS.Open("via-virtio")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	if _, err := kio.WriteFull(f, []byte("down the stack")); err != nil {
		t.Fatalf("WriteFull: %v", err)
	}
}
