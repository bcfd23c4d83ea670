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

// Package ktfs implements the KTFS filesystem: a 512-byte-block layout of
// superblock, allocation bitmap, packed inodes, and data blocks, with a
// flat root directory of 16-byte entries. It reads and writes the backing
// device through the block cache.
//
// On-disk layout, in block order:
//
//	block 0             superblock
//	1 .. bitmapBlocks   allocation bitmap, one bit per block, LSB first
//	.. + inodeBlocks    inodes, 16 per block
//	the rest            data blocks
//
// Inode block pointers are stored relative to the start of the data
// region; bitmap bits are indexed by absolute block number.
package ktfs

import (
	"encoding/binary"

	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kerr"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kio"
)

// Format constants.
const (
	BlockSize      = 512
	InodeSize      = 32
	DirEntSize     = 16
	MaxFilename    = 14
	NumDirect      = 3
	NumDindirect   = 2
	InodesPerBlock = BlockSize / InodeSize
	DirEntsPerBlk  = BlockSize / DirEntSize
	PtrsPerBlock   = BlockSize / 4

	// The root directory spans direct blocks only.
	MaxDirEnts = NumDirect * DirEntsPerBlk
)

// MaxFileSize is the largest reachable file payload.
const MaxFileSize = BlockSize * (NumDirect + PtrsPerBlock + NumDindirect*PtrsPerBlock*PtrsPerBlock)

// Superblock is block 0.
type Superblock struct {
	BlockCount       uint32
	BitmapBlockCount uint32
	InodeBlockCount  uint32
	RootInode        uint16
}

func decodeSuperblock(b []byte) Superblock {
	return Superblock{
		BlockCount:       binary.LittleEndian.Uint32(b[0:]),
		BitmapBlockCount: binary.LittleEndian.Uint32(b[4:]),
		InodeBlockCount:  binary.LittleEndian.Uint32(b[8:]),
		RootInode:        binary.LittleEndian.Uint16(b[12:]),
	}
}

func (sb Superblock) encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], sb.BlockCount)
	binary.LittleEndian.PutUint32(b[4:], sb.BitmapBlockCount)
	binary.LittleEndian.PutUint32(b[8:], sb.InodeBlockCount)
	binary.LittleEndian.PutUint16(b[12:], sb.RootInode)
}

// dataStart returns the absolute block number of the first data block.
func (sb Superblock) dataStart() uint32 {
	return 1 + sb.BitmapBlockCount + sb.InodeBlockCount
}

// Inode is the packed 32-byte on-disk inode.
type Inode struct {
	Size      uint32
	Flags     uint32
	Direct    [NumDirect]uint32
	Indirect  uint32
	Dindirect [NumDindirect]uint32
}

// Inode flags.
const (
	InodeInUse = 1 << 0
)

func decodeInode(b []byte) Inode {
	var in Inode
	in.Size = binary.LittleEndian.Uint32(b[0:])
	in.Flags = binary.LittleEndian.Uint32(b[4:])
	for i := 0; i < NumDirect; i++ {
		in.Direct[i] = binary.LittleEndian.Uint32(b[8+4*i:])
	}
	in.Indirect = binary.LittleEndian.Uint32(b[20:])
	for i := 0; i < NumDindirect; i++ {
		in.Dindirect[i] = binary.LittleEndian.Uint32(b[24+4*i:])
	}
	return in
}

func (in Inode) encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], in.Size)
	binary.LittleEndian.PutUint32(b[4:], in.Flags)
	for i := 0; i < NumDirect; i++ {
		binary.LittleEndian.PutUint32(b[8+4*i:], in.Direct[i])
	}
	binary.LittleEndian.PutUint32(b[20:], in.Indirect)
	for i := 0; i < NumDindirect; i++ {
		binary.LittleEndian.PutUint32(b[24+4*i:], in.Dindirect[i])
	}
}

// DirEnt is a 16-byte directory entry: inode number plus a null-padded
// name. A name that fills all 14 bytes has no terminator.
type DirEnt struct {
	Inode uint16
	Name  [MaxFilename]byte
}

func decodeDirEnt(b []byte) DirEnt {
	var de DirEnt
	de.Inode = binary.LittleEndian.Uint16(b[0:])
	copy(de.Name[:], b[2:DirEntSize])
	return de
}

func (de DirEnt) encode(b []byte) {
	binary.LittleEndian.PutUint16(b[0:], de.Inode)
	copy(b[2:DirEntSize], de.Name[:])
}

// NameString returns the entry name without padding.
func (de DirEnt) NameString() string {
	n := 0
	for n < MaxFilename && de.Name[n] != 0 {
		n++
	}
	return string(de.Name[:n])
}

func (de DirEnt) nameMatches(name string) bool {
	if len(name) > MaxFilename {
		return false
	}
	return de.NameString() == name
}

// MkfsOptions sizes a fresh filesystem image.
type MkfsOptions struct {
	// TotalBlocks is the image size in 512-byte blocks.
	TotalBlocks uint32
	// InodeBlocks is the number of inode blocks (16 inodes each).
	// Defaults to 4.
	InodeBlocks uint32
}

// Mkfs writes an empty KTFS image onto disk: superblock, a bitmap with the
// metadata blocks marked used, zeroed inodes, and an empty root directory
// at inode 0.
func Mkfs(disk *kio.IO, opts MkfsOptions) error {
	if opts.InodeBlocks == 0 {
		opts.InodeBlocks = 4
	}
	bitmapBlocks := (opts.TotalBlocks + BlockSize*8 - 1) / (BlockSize * 8)
	sb := Superblock{
		BlockCount:       opts.TotalBlocks,
		BitmapBlockCount: bitmapBlocks,
		InodeBlockCount:  opts.InodeBlocks,
		RootInode:        0,
	}
	if sb.dataStart() >= opts.TotalBlocks {
		return kerr.ErrInvalid
	}

	var blk [BlockSize]byte
	sb.encode(blk[:])
	if _, err := disk.WriteAt(0, blk[:]); err != nil {
		return err
	}

	// Bitmap: metadata blocks (superblock, bitmap, inodes) are in use.
	used := sb.dataStart()
	for b := uint32(0); b < bitmapBlocks; b++ {
		clearBlock(blk[:])
		for bit := uint32(0); bit < BlockSize*8; bit++ {
			abs := b*BlockSize*8 + bit
			if abs < used {
				blk[bit/8] |= 1 << (bit % 8)
			}
		}
		if _, err := disk.WriteAt(uint64(1+b)*BlockSize, blk[:]); err != nil {
			return err
		}
	}

	// Inode blocks: all zero; inode 0 is the empty root directory.
	clearBlock(blk[:])
	root := Inode{Flags: InodeInUse}
	root.encode(blk[:InodeSize])
	for b := uint32(0); b < opts.InodeBlocks; b++ {
		if b == 1 {
			clearBlock(blk[:])
		}
		if _, err := disk.WriteAt(uint64(1+bitmapBlocks+b)*BlockSize, blk[:]); err != nil {
			return err
		}
	}
	return nil
}

func clearBlock(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
