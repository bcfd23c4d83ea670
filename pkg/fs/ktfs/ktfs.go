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

package ktfs

import (
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/fs/bcache"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kerr"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kio"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/log"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/sched"
)

// Filesystem is a mounted KTFS volume.
type Filesystem struct {
	cache *bcache.Cache
	super Superblock

	// root is the in-memory root directory inode; every change is written
	// through to its inode block.
	root Inode

	// lock guards directory structure, the bitmap, and the open list.
	// File payload I/O is serialized per block by the cache.
	lock sched.Lock

	openList *openFile
}

// openFile is the in-memory record of one open file. At most one record
// exists per filename.
type openFile struct {
	fs     *Filesystem
	size   uint32
	dentry DirEnt
	flags  uint32
	next   *openFile
}

// Mount reads the superblock and the root directory inode and builds the
// block cache over disk.
func Mount(disk *kio.IO) (*Filesystem, error) {
	var blk [BlockSize]byte
	n, err := disk.ReadAt(0, blk[:])
	if err != nil || n != BlockSize {
		if err == nil {
			err = kerr.ErrIO
		}
		return nil, err
	}
	fs := &Filesystem{super: decodeSuperblock(blk[:])}
	fs.lock.InitLock("ktfs")

	sb := fs.super
	if sb.BlockCount == 0 || sb.dataStart() >= sb.BlockCount ||
		uint32(sb.RootInode) >= sb.InodeBlockCount*InodesPerBlock {
		return nil, kerr.ErrBadFormat
	}

	fs.cache = bcache.New(disk)
	root, err := fs.readInode(uint16(sb.RootInode))
	if err != nil {
		fs.cache.Close()
		return nil, err
	}
	if root.Size%DirEntSize != 0 {
		fs.cache.Close()
		return nil, kerr.ErrBadFormat
	}
	fs.root = root
	log.Infof("ktfs: mounted, %d blocks, %d files",
		sb.BlockCount, root.Size/DirEntSize)
	return fs, nil
}

// Unmount flushes and releases the cache.
func (fs *Filesystem) Unmount() error {
	if err := fs.Flush(); err != nil {
		return err
	}
	fs.cache.Close()
	return nil
}

// Flush forces dirty state to the device. The cache writes through, so
// this is a fence only.
func (fs *Filesystem) Flush() error {
	return fs.cache.Flush()
}

// Open opens a named file and returns a seekable endpoint over it. A file
// that is already open cannot be opened again.
func (fs *Filesystem) Open(name string) (*kio.IO, error) {
	if name == "" || len(name) > MaxFilename {
		return nil, kerr.ErrNoEntry
	}

	fs.lock.Acquire()
	defer fs.lock.Release()

	for f := fs.openList; f != nil; f = f.next {
		if f.dentry.nameMatches(name) {
			return nil, kerr.ErrMaxFiles
		}
	}

	dentries := fs.root.Size / DirEntSize
	for i := uint32(0); i < dentries; i++ {
		de, err := fs.dirEnt(i)
		if err != nil {
			return nil, err
		}
		if !de.nameMatches(name) {
			continue
		}
		in, err := fs.readInode(de.Inode)
		if err != nil {
			return nil, err
		}
		f := &openFile{fs: fs, size: in.Size, dentry: de, flags: InodeInUse}
		f.next = fs.openList
		fs.openList = f
		sio, err := kio.NewSeekable(kio.New0(f))
		if err != nil {
			fs.openList = f.next
			return nil, err
		}
		return sio, nil
	}
	return nil, kerr.ErrNoEntry
}

// Create makes an empty file. The name must not already exist.
func (fs *Filesystem) Create(name string) error {
	if name == "" || len(name) > MaxFilename {
		return kerr.ErrInvalid
	}

	fs.lock.Acquire()
	defer fs.lock.Release()

	dentries := fs.root.Size / DirEntSize
	usedInodes := map[uint16]bool{fs.super.RootInode: true}
	for i := uint32(0); i < dentries; i++ {
		de, err := fs.dirEnt(i)
		if err != nil {
			return err
		}
		if de.nameMatches(name) {
			return kerr.ErrInvalid
		}
		usedInodes[de.Inode] = true
	}

	// First inode number not referenced by any directory entry.
	ino := uint16(0)
	limit := uint16(fs.super.InodeBlockCount * InodesPerBlock)
	for ; ino < limit && usedInodes[ino]; ino++ {
	}
	if ino == limit {
		return kerr.ErrNoInodeBlks
	}

	if dentries >= MaxDirEnts {
		return kerr.ErrMaxFiles
	}
	if dentries%DirEntsPerBlk == 0 {
		// Directory grows into a new direct block.
		rel, err := fs.allocDataBlock()
		if err != nil {
			return err
		}
		fs.root.Direct[dentries/DirEntsPerBlk] = rel
	}

	var de DirEnt
	de.Inode = ino
	copy(de.Name[:], name)
	if err := fs.writeDirEnt(dentries, de); err != nil {
		return err
	}
	if err := fs.writeInode(ino, Inode{Flags: InodeInUse}); err != nil {
		return err
	}
	fs.root.Size += DirEntSize
	return fs.writeRootInode()
}

// Delete removes a named file, returning its blocks to the bitmap. An open
// file is closed first.
func (fs *Filesystem) Delete(name string) error {
	if name == "" {
		return kerr.ErrNoEntry
	}

	fs.lock.Acquire()
	defer fs.lock.Release()

	// Force-close a live record so the name can be reused.
	for pp := &fs.openList; *pp != nil; pp = &(*pp).next {
		if (*pp).dentry.nameMatches(name) {
			(*pp).flags = 0
			*pp = (*pp).next
			break
		}
	}

	dentries := fs.root.Size / DirEntSize
	for i := uint32(0); i < dentries; i++ {
		de, err := fs.dirEnt(i)
		if err != nil {
			return err
		}
		if !de.nameMatches(name) {
			continue
		}
		in, err := fs.readInode(de.Inode)
		if err != nil {
			return err
		}
		if err := fs.freeFileBlocks(in); err != nil {
			return err
		}
		if err := fs.writeInode(de.Inode, Inode{}); err != nil {
			return err
		}
		return fs.removeDirEnt(i, dentries)
	}
	return kerr.ErrNoEntry
}

// removeDirEnt swap-removes entry i: the last entry overwrites it, the
// directory shrinks by one, and a direct block emptied by the removal goes
// back to the bitmap.
func (fs *Filesystem) removeDirEnt(i, dentries uint32) error {
	last := dentries - 1
	if i != last {
		lastDe, err := fs.dirEnt(last)
		if err != nil {
			return err
		}
		if err := fs.writeDirEnt(i, lastDe); err != nil {
			return err
		}
	}
	if last%DirEntsPerBlk == 0 {
		rel := fs.root.Direct[last/DirEntsPerBlk]
		if err := fs.clearDataBlock(fs.super.dataStart() + rel); err != nil {
			return err
		}
		fs.root.Direct[last/DirEntsPerBlk] = 0
	}
	fs.root.Size -= DirEntSize
	return fs.writeRootInode()
}

// freeFileBlocks clears the bitmap bits of every data block a file holds,
// plus the indirect and double-indirect index blocks themselves.
func (fs *Filesystem) freeFileBlocks(in Inode) error {
	numblks := (in.Size + BlockSize - 1) / BlockSize
	ds := fs.super.dataStart()

	for b := uint32(0); b < numblks; b++ {
		rel, err := fs.fileBlock(in, b)
		if err != nil {
			return err
		}
		if err := fs.clearDataBlock(ds + rel); err != nil {
			return err
		}
	}

	if numblks > NumDirect {
		if err := fs.clearDataBlock(ds + in.Indirect); err != nil {
			return err
		}
	}
	if numblks > NumDirect+PtrsPerBlock {
		rest := numblks - NumDirect - PtrsPerBlock
		// Each populated per-128 indirect block under the double-indirect
		// trees, then the double-indirect blocks themselves.
		nInd := (rest + PtrsPerBlock - 1) / PtrsPerBlock
		for k := uint32(0); k < nInd; k++ {
			d := k / PtrsPerBlock
			ind, err := fs.readPtr(in.Dindirect[d], k%PtrsPerBlock)
			if err != nil {
				return err
			}
			if err := fs.clearDataBlock(ds + ind); err != nil {
				return err
			}
		}
		nDind := (nInd + PtrsPerBlock - 1) / PtrsPerBlock
		for d := uint32(0); d < nDind; d++ {
			if err := fs.clearDataBlock(ds + in.Dindirect[d]); err != nil {
				return err
			}
		}
	}
	return nil
}

// fileBlock translates a file-relative block number through the inode's
// direct, indirect, and double-indirect pointers to a data-region block
// number.
func (fs *Filesystem) fileBlock(in Inode, blkno uint32) (uint32, error) {
	switch {
	case blkno < NumDirect:
		return in.Direct[blkno], nil
	case blkno < NumDirect+PtrsPerBlock:
		return fs.readPtr(in.Indirect, blkno-NumDirect)
	default:
		i := blkno - NumDirect - PtrsPerBlock
		d := i / (PtrsPerBlock * PtrsPerBlock)
		if d >= NumDindirect {
			return 0, kerr.ErrInvalid
		}
		ind, err := fs.readPtr(in.Dindirect[d], i%(PtrsPerBlock*PtrsPerBlock)/PtrsPerBlock)
		if err != nil {
			return 0, err
		}
		return fs.readPtr(ind, i%PtrsPerBlock)
	}
}

// readPtr reads entry idx of an index block in the data region.
func (fs *Filesystem) readPtr(rel, idx uint32) (uint32, error) {
	buf, err := fs.cache.GetBlock(fs.dataBlockPos(rel))
	if err != nil {
		return 0, err
	}
	v := uint32(buf[4*idx]) | uint32(buf[4*idx+1])<<8 |
		uint32(buf[4*idx+2])<<16 | uint32(buf[4*idx+3])<<24
	fs.cache.ReleaseBlock(buf, bcache.Clean)
	return v, nil
}

// writePtr writes entry idx of an index block in the data region.
func (fs *Filesystem) writePtr(rel, idx, v uint32) error {
	buf, err := fs.cache.GetBlock(fs.dataBlockPos(rel))
	if err != nil {
		return err
	}
	buf[4*idx] = byte(v)
	buf[4*idx+1] = byte(v >> 8)
	buf[4*idx+2] = byte(v >> 16)
	buf[4*idx+3] = byte(v >> 24)
	return fs.cache.ReleaseBlock(buf, bcache.Dirty)
}

// dataBlockPos returns the byte position of a data-region block.
func (fs *Filesystem) dataBlockPos(rel uint32) uint64 {
	return uint64(fs.super.dataStart()+rel) * BlockSize
}

// inodePos returns the byte position of the block holding inode ino, and
// the byte offset of the inode within it.
func (fs *Filesystem) inodePos(ino uint16) (uint64, uint32) {
	blk := 1 + fs.super.BitmapBlockCount + uint32(ino)/InodesPerBlock
	return uint64(blk) * BlockSize, uint32(ino) % InodesPerBlock * InodeSize
}

func (fs *Filesystem) readInode(ino uint16) (Inode, error) {
	pos, off := fs.inodePos(ino)
	buf, err := fs.cache.GetBlock(pos)
	if err != nil {
		return Inode{}, err
	}
	in := decodeInode(buf[off : off+InodeSize])
	fs.cache.ReleaseBlock(buf, bcache.Clean)
	return in, nil
}

func (fs *Filesystem) writeInode(ino uint16, in Inode) error {
	pos, off := fs.inodePos(ino)
	buf, err := fs.cache.GetBlock(pos)
	if err != nil {
		return err
	}
	in.encode(buf[off : off+InodeSize])
	return fs.cache.ReleaseBlock(buf, bcache.Dirty)
}

func (fs *Filesystem) writeRootInode() error {
	return fs.writeInode(fs.super.RootInode, fs.root)
}

// dirEnt reads root directory entry i.
func (fs *Filesystem) dirEnt(i uint32) (DirEnt, error) {
	rel, err := fs.fileBlock(fs.root, i/DirEntsPerBlk)
	if err != nil {
		return DirEnt{}, err
	}
	buf, err := fs.cache.GetBlock(fs.dataBlockPos(rel))
	if err != nil {
		return DirEnt{}, err
	}
	off := i % DirEntsPerBlk * DirEntSize
	de := decodeDirEnt(buf[off : off+DirEntSize])
	fs.cache.ReleaseBlock(buf, bcache.Clean)
	return de, nil
}

// writeDirEnt writes root directory entry i.
func (fs *Filesystem) writeDirEnt(i uint32, de DirEnt) error {
	rel, err := fs.fileBlock(fs.root, i/DirEntsPerBlk)
	if err != nil {
		return err
	}
	buf, err := fs.cache.GetBlock(fs.dataBlockPos(rel))
	if err != nil {
		return err
	}
	off := i % DirEntsPerBlk * DirEntSize
	de.encode(buf[off : off+DirEntSize])
	return fs.cache.ReleaseBlock(buf, bcache.Dirty)
}

// allocDataBlock takes a free block from the bitmap, zero-fills it, and
// returns its data-region-relative number.
func (fs *Filesystem) allocDataBlock() (uint32, error) {
	abs, err := fs.findAvailableBlock()
	if err != nil {
		return 0, err
	}
	rel := abs - fs.super.dataStart()
	buf, err := fs.cache.GetBlock(fs.dataBlockPos(rel))
	if err != nil {
		return 0, err
	}
	clearBlock(buf)
	if err := fs.cache.ReleaseBlock(buf, bcache.Dirty); err != nil {
		return 0, err
	}
	return rel, nil
}

// findAvailableBlock scans the bitmap for the first clear bit, sets it,
// and returns the absolute block number. Exhaustion is ENODATABLKS; block
// 0 is the superblock and can never be returned.
func (fs *Filesystem) findAvailableBlock() (uint32, error) {
	for b := uint32(0); b < fs.super.BitmapBlockCount; b++ {
		buf, err := fs.cache.GetBlock(uint64(1+b) * BlockSize)
		if err != nil {
			return 0, err
		}
		for bit := uint32(0); bit < BlockSize*8; bit++ {
			abs := b*BlockSize*8 + bit
			if abs >= fs.super.BlockCount {
				break
			}
			if buf[bit/8]&(1<<(bit%8)) == 0 {
				buf[bit/8] |= 1 << (bit % 8)
				if err := fs.cache.ReleaseBlock(buf, bcache.Dirty); err != nil {
					return 0, err
				}
				return abs, nil
			}
		}
		fs.cache.ReleaseBlock(buf, bcache.Clean)
	}
	return 0, kerr.ErrNoDataBlks
}

// clearDataBlock returns block abs to the bitmap. Only data-region blocks
// may be cleared.
func (fs *Filesystem) clearDataBlock(abs uint32) error {
	if abs < fs.super.dataStart() || abs >= fs.super.BlockCount {
		return kerr.ErrNotSupported
	}
	buf, err := fs.cache.GetBlock(uint64(1+abs/(BlockSize*8)) * BlockSize)
	if err != nil {
		return err
	}
	bit := abs % (BlockSize * 8)
	buf[bit/8] &^= 1 << (bit % 8)
	return fs.cache.ReleaseBlock(buf, bcache.Dirty)
}

// List returns the names in the root directory, in entry order.
func (fs *Filesystem) List() ([]string, error) {
	fs.lock.Acquire()
	defer fs.lock.Release()
	dentries := fs.root.Size / DirEntSize
	names := make([]string, 0, dentries)
	for i := uint32(0); i < dentries; i++ {
		de, err := fs.dirEnt(i)
		if err != nil {
			return nil, err
		}
		names = append(names, de.NameString())
	}
	return names, nil
}

// FreeBlockCount counts clear bitmap bits, for the conservation invariant.
func (fs *Filesystem) FreeBlockCount() (uint32, error) {
	fs.lock.Acquire()
	defer fs.lock.Release()
	var free uint32
	for b := uint32(0); b < fs.super.BitmapBlockCount; b++ {
		buf, err := fs.cache.GetBlock(uint64(1+b) * BlockSize)
		if err != nil {
			return 0, err
		}
		for bit := uint32(0); bit < BlockSize*8; bit++ {
			abs := b*BlockSize*8 + bit
			if abs >= fs.super.BlockCount {
				break
			}
			if buf[bit/8]&(1<<(bit%8)) == 0 {
				free++
			}
		}
		fs.cache.ReleaseBlock(buf, bcache.Clean)
	}
	return free, nil
}

// DataRegionBlocks returns the number of blocks in the data region.
func (fs *Filesystem) DataRegionBlocks() uint32 {
	return fs.super.BlockCount - fs.super.dataStart()
}
