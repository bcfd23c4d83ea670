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

// Package bcache is the block cache between the filesystem and the block
// device: a fixed number of 512-byte buffers with per-block locks, LRU
// eviction keyed by a monotonic release tick, and write-through dirty
// handling.
package bcache

import (
	"math"

	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kerr"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kio"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/sched"
)

// BlockSize is the cache granule.
const BlockSize = 512

// DefaultCapacity is the number of cached blocks.
const DefaultCapacity = 64

// Release dirtiness.
const (
	Clean = 0
	Dirty = 1
)

// inUseTick marks an entry between Get and Release; it can never be the
// LRU victim.
const inUseTick = math.MaxUint64

// invalidPos marks an entry holding no block.
const invalidPos = math.MaxUint64

type entry struct {
	next    *entry
	buf     [BlockSize]byte
	pos     uint64
	release uint64
	lock    sched.Lock
}

// Cache is a block cache over a backing endpoint.
type Cache struct {
	backing     *kio.IO
	head        *entry
	size        int
	capacity    int
	lastRelease uint64
}

// New creates a cache over backing with the default capacity.
func New(backing *kio.IO) *Cache {
	return NewWithCapacity(backing, DefaultCapacity)
}

// NewWithCapacity creates a cache holding up to capacity blocks.
func NewWithCapacity(backing *kio.IO, capacity int) *Cache {
	return &Cache{backing: backing.AddRef(), capacity: capacity}
}

// Close drops the cache's backing reference.
func (c *Cache) Close() {
	c.backing.Close()
}

// GetBlock returns the buffer holding the block at byte position pos on
// the backing device, locked for the caller. A miss reads the block into
// the least recently used unlocked entry (or a fresh one while the cache
// is below capacity).
func (c *Cache) GetBlock(pos uint64) ([]byte, error) {
	if pos%BlockSize != 0 {
		return nil, kerr.ErrInvalid
	}
retry:
	for {
		var lru *entry
		for e := c.head; e != nil; e = e.next {
			if e.pos == pos {
				e.lock.Acquire()
				if e.pos == pos {
					e.release = inUseTick
					return e.buf[:], nil
				}
				// Recycled for another block while we slept.
				e.lock.Release()
				continue retry
			}
			if e.lock.Owner() == nil && (lru == nil || e.release < lru.release) {
				lru = e
			}
		}

		var victim *entry
		switch {
		case c.size < c.capacity:
			victim = &entry{next: c.head, pos: invalidPos}
			victim.lock.InitLock("bcache.entry")
			c.head = victim
			c.size++
		case lru != nil:
			victim = lru
		default:
			// Every entry is locked; wait for churn.
			sched.Yield()
			continue
		}

		victim.lock.Acquire()
		victim.pos = pos
		victim.release = inUseTick
		n, err := c.backing.ReadAt(pos, victim.buf[:])
		if err != nil || n != BlockSize {
			victim.release = 0
			victim.pos = invalidPos
			victim.lock.Release()
			if err == nil {
				err = kerr.ErrIO
			}
			return nil, err
		}
		return victim.buf[:], nil
	}
}

// ReleaseBlock returns a buffer obtained from GetBlock. A dirty release
// writes the block through to the backing device before unlocking.
func (c *Cache) ReleaseBlock(buf []byte, dirty int) error {
	e := c.find(buf)
	if e == nil {
		panic("bcache: release of unknown buffer")
	}
	var err error
	if dirty == Dirty {
		var n int64
		n, err = c.backing.WriteAt(e.pos, e.buf[:])
		if err == nil && n != BlockSize {
			err = kerr.ErrIO
		}
	}
	c.lastRelease++
	e.release = c.lastRelease
	e.lock.Release()
	return err
}

// Flush writes back dirty state. The cache is write-through, so there is
// nothing to do; the call exists so mount/unmount paths have a fence.
func (c *Cache) Flush() error {
	return nil
}

func (c *Cache) find(buf []byte) *entry {
	for e := c.head; e != nil; e = e.next {
		if &e.buf[0] == &buf[0] {
			return e
		}
	}
	return nil
}
