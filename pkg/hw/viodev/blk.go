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

package viodev

import (
	"io"

	"github.com/sarasehgal/Unix-style-OS-Development/pkg/hw"
)

// Disk is the storage behind a block device. *MemDisk satisfies it, as does
// *os.File.
type Disk interface {
	io.ReaderAt
	io.WriterAt
}

// Block feature bits.
const (
	featSegMax     = 1 << 2
	featBlkSize    = 1 << 6
	featTopology   = 1 << 10
	featVersion1   = 1 << 32
	featIndirect   = 1 << 28
	featRingReset  = 1 << 40
	featAnyLayout  = 1 << 27
	blkFeatureSet  = featSegMax | featBlkSize | featTopology | featVersion1 | featIndirect | featRingReset | featAnyLayout
	rngFeatureSet  = featVersion1 | featIndirect | featRingReset
	sectorSize     = 512
	blkTypeIn      = 0
	blkTypeOut     = 1
	blkStatusOK    = 0
	blkStatusIOErr = 1
)

// BlockDevice is a virtio-blk backend over a Disk.
type BlockDevice struct {
	disk     Disk
	capacity uint64 // sectors
}

// AttachBlock places a block device at base with the given backing disk and
// capacity in 512-byte sectors.
func AttachBlock(m *hw.Machine, base uint64, irq int, disk Disk, sectors uint64) *Transport {
	return attach(m, base, irq, &BlockDevice{disk: disk, capacity: sectors})
}

func (b *BlockDevice) deviceID() uint32 { return IDBlock }

func (b *BlockDevice) features() uint64 { return blkFeatureSet }

// virtio-blk config space: capacity le64 at 0, seg_max le32 at 12, blk_size
// le32 at 20.
func (b *BlockDevice) config(off uint64) uint32 {
	switch off {
	case 0:
		return uint32(b.capacity)
	case 4:
		return uint32(b.capacity >> 32)
	case 12:
		return 4 // seg_max
	case 20:
		return sectorSize
	default:
		return 0
	}
}

func (b *BlockDevice) handle(t *Transport, chain []desc) uint32 {
	if len(chain) < 2 {
		return 0
	}
	// Header: type (le32), reserved, sector (le64).
	hdr := make([]byte, 16)
	t.m.ReadPhys(chain[0].addr, hdr)
	reqType := uint32(hdr[0]) | uint32(hdr[1])<<8 | uint32(hdr[2])<<16 | uint32(hdr[3])<<24
	sector := t.m.LoadPhys64(chain[0].addr + 8)
	status := chain[len(chain)-1]
	data := chain[1 : len(chain)-1]

	written := uint32(0)
	st := byte(blkStatusOK)
	off := int64(sector) * sectorSize
	for _, d := range data {
		buf := make([]byte, d.len)
		switch reqType {
		case blkTypeIn:
			if _, err := b.disk.ReadAt(buf, off); err != nil && err != io.EOF {
				st = blkStatusIOErr
			}
			t.m.WritePhys(d.addr, buf)
			written += d.len
		case blkTypeOut:
			t.m.ReadPhys(d.addr, buf)
			if _, err := b.disk.WriteAt(buf, off); err != nil {
				st = blkStatusIOErr
			}
		default:
			st = blkStatusIOErr
		}
		off += int64(d.len)
	}
	t.m.WritePhys(status.addr, []byte{st})
	return written + 1
}

// MemDisk is an in-memory Disk.
type MemDisk struct {
	Data []byte
}

// ReadAt implements io.ReaderAt.
func (d *MemDisk) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(d.Data)) {
		return 0, io.EOF
	}
	n := copy(p, d.Data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt.
func (d *MemDisk) WriteAt(p []byte, off int64) (int, error) {
	if off+int64(len(p)) > int64(len(d.Data)) {
		grown := make([]byte, off+int64(len(p)))
		copy(grown, d.Data)
		d.Data = grown
	}
	return copy(d.Data[off:], p), nil
}
