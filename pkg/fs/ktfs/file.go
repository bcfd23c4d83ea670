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
)

// ReadAt implements kio.ReaderAt over the file payload. Reads past the end
// clip; a read at or past the end returns 0.
func (f *openFile) ReadAt(pos uint64, buf []byte) (int64, error) {
	if pos > uint64(f.size) {
		return 0, nil
	}
	n := uint64(len(buf))
	if n == 0 {
		return 0, nil
	}
	if pos+n > uint64(f.size) {
		n = uint64(f.size) - pos
	}
	if n == 0 {
		return 0, nil
	}
	return f.transfer(pos, buf[:n], false)
}

// WriteAt implements kio.WriterAt. A write that crosses the current end
// grows the file first.
func (f *openFile) WriteAt(pos uint64, buf []byte) (int64, error) {
	if pos > uint64(f.size) {
		return 0, kerr.ErrInvalid
	}
	n := uint64(len(buf))
	if n == 0 {
		return 0, nil
	}
	if pos+n > uint64(f.size) {
		if err := f.setEnd(pos + n); err != nil {
			return 0, err
		}
	}
	return f.transfer(pos, buf[:n], true)
}

// transfer copies between buf and the file's blocks through the cache,
// handling partial head and tail blocks.
func (f *openFile) transfer(pos uint64, buf []byte, isWrite bool) (int64, error) {
	fs := f.fs
	in, err := func() (Inode, error) {
		fs.lock.Acquire()
		defer fs.lock.Release()
		return fs.readInode(f.dentry.Inode)
	}()
	if err != nil {
		return 0, err
	}

	var done uint64
	n := uint64(len(buf))
	for done < n {
		blkno := uint32((pos + done) / BlockSize)
		blkoff := (pos + done) % BlockSize
		cnt := BlockSize - blkoff
		if cnt > n-done {
			cnt = n - done
		}

		rel, err := fs.fileBlock(in, blkno)
		if err != nil {
			return int64(done), err
		}
		blk, err := fs.cache.GetBlock(fs.dataBlockPos(rel))
		if err != nil {
			return int64(done), err
		}
		if isWrite {
			copy(blk[blkoff:blkoff+cnt], buf[done:done+cnt])
			if err := fs.cache.ReleaseBlock(blk, bcache.Dirty); err != nil {
				return int64(done), err
			}
		} else {
			copy(buf[done:done+cnt], blk[blkoff:blkoff+cnt])
			fs.cache.ReleaseBlock(blk, bcache.Clean)
		}
		done += cnt
	}
	return int64(done), nil
}

// Cntl implements kio.Controller for file endpoints.
func (f *openFile) Cntl(cmd int, arg *uint64) (int64, error) {
	switch cmd {
	case kio.CtlGetBlkSz:
		return 1, nil
	case kio.CtlGetEnd:
		if arg == nil {
			return 0, kerr.ErrInvalid
		}
		*arg = uint64(f.size)
		return 0, nil
	case kio.CtlSetEnd:
		if arg == nil {
			return 0, kerr.ErrInvalid
		}
		return 0, f.setEnd(*arg)
	case kio.CtlFlush:
		return 0, f.fs.Flush()
	default:
		return 0, kerr.ErrNotSupported
	}
}

// Close drops the file's open record.
func (f *openFile) Close() {
	fs := f.fs
	fs.lock.Acquire()
	defer fs.lock.Release()
	f.flags = 0
	for pp := &fs.openList; *pp != nil; pp = &(*pp).next {
		if *pp == f {
			*pp = f.next
			break
		}
	}
}

// setEnd resizes the file. Growth allocates every newly required data
// block, plus any indirect or double-indirect index blocks on the way;
// shrinking only moves the size (blocks stay allocated until delete).
func (f *openFile) setEnd(newSize uint64) error {
	if newSize > MaxFileSize {
		return kerr.ErrInvalid
	}
	fs := f.fs
	fs.lock.Acquire()
	defer fs.lock.Release()

	in, err := fs.readInode(f.dentry.Inode)
	if err != nil {
		return err
	}

	oldBlks := (in.Size + BlockSize - 1) / BlockSize
	newBlks := uint32((newSize + BlockSize - 1) / BlockSize)

	for b := oldBlks; b < newBlks; b++ {
		if err := fs.growFileBlock(&in, b); err != nil {
			return err
		}
	}

	in.Size = uint32(newSize)
	f.size = uint32(newSize)
	return fs.writeInode(f.dentry.Inode, in)
}

// growFileBlock allocates file block b and installs it in the inode's
// pointer tree, allocating missing index blocks en route.
func (fs *Filesystem) growFileBlock(in *Inode, b uint32) error {
	data, err := fs.allocDataBlock()
	if err != nil {
		return err
	}

	switch {
	case b < NumDirect:
		in.Direct[b] = data
	case b < NumDirect+PtrsPerBlock:
		if b == NumDirect {
			ind, err := fs.allocDataBlock()
			if err != nil {
				return err
			}
			in.Indirect = ind
		}
		return fs.writePtr(in.Indirect, b-NumDirect, data)
	default:
		i := b - NumDirect - PtrsPerBlock
		d := i / (PtrsPerBlock * PtrsPerBlock)
		if d >= NumDindirect {
			return kerr.ErrInvalid
		}
		if i%(PtrsPerBlock*PtrsPerBlock) == 0 {
			dind, err := fs.allocDataBlock()
			if err != nil {
				return err
			}
			in.Dindirect[d] = dind
		}
		slot := i % (PtrsPerBlock * PtrsPerBlock) / PtrsPerBlock
		if i%PtrsPerBlock == 0 {
			ind, err := fs.allocDataBlock()
			if err != nil {
				return err
			}
			if err := fs.writePtr(in.Dindirect[d], slot, ind); err != nil {
				return err
			}
		}
		ind, err := fs.readPtr(in.Dindirect[d], slot)
		if err != nil {
			return err
		}
		return fs.writePtr(ind, i%PtrsPerBlock, data)
	}
	return nil
}
