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

package virtio

import (
	"encoding/binary"

	"github.com/sarasehgal/Unix-style-OS-Development/pkg/dev"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/hw"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kerr"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kio"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/log"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/mem"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/sched"
)

// vioblkDescCount is the request queue depth. One request consumes a
// header descriptor, one data descriptor per sector, and a status
// descriptor.
const vioblkDescCount = 8

// Block request types and status codes.
const (
	blkTIn      = 0
	blkTOut     = 1
	blkStatusOK = 0
)

// Ring region layout, carved out of one physical page: the descriptor
// table, then the avail ring, the used ring, the request headers, and the
// status bytes. A second page provides per-descriptor 512-byte DMA
// buffers.
const (
	descOff   = 0
	availOff  = descOff + 16*vioblkDescCount
	usedOff   = (availOff + 4 + 2*vioblkDescCount + 2 + 3) &^ 3
	hdrOff    = (usedOff + 4 + 8*vioblkDescCount + 2 + 15) &^ 15
	statusOff = hdrOff + 16*vioblkDescCount
)

// VioblkDevice is the virtio-blk driver instance.
type VioblkDevice struct {
	t  *Transport
	mm *mem.Manager
	io *kio.IO

	capacity uint64 // bytes
	blkSize  uint32
	features FeatureSet

	lock   sched.Lock
	ioDone sched.Condition

	ringPMA uint64
	dmaPMA  uint64

	lastUsedIdx uint16
	descFree    [vioblkDescCount]bool
	requests    [vioblkDescCount]struct {
		inUse  bool
		result uint32
		status uint8
	}
	instno int
}

// AttachBlock drives the boot handshake against the block device behind t
// and registers it as device "vioblk".
func AttachBlock(t *Transport, mm *mem.Manager, reg *dev.Registry) error {
	d := &VioblkDevice{t: t, mm: mm}
	d.lock.InitLock("vioblk")
	d.ioDone.InitCondition("vioblk.io_done")
	for i := range d.descFree {
		d.descFree[i] = true
		d.requests[i].status = 0xff
	}

	t.SetStatus(StatAcknowledge | StatDriver)

	var needed, wanted FeatureSet
	needed.Add(FeatVersion1)
	needed.Add(FeatRingReset)
	needed.Add(FeatIndirectDesc)
	wanted.Add(FeatBlkBlkSize)
	wanted.Add(FeatBlkTopology)
	wanted.Add(FeatBlkSegMax)
	enabled, err := t.NegotiateFeatures(needed, wanted)
	if err != nil {
		t.SetStatus(StatFailed)
		return err
	}
	d.features = enabled

	if enabled.Test(FeatBlkBlkSize) {
		d.blkSize = t.ConfigLoad32(20)
	} else {
		d.blkSize = 512
	}
	if d.blkSize == 0 || d.blkSize&(d.blkSize-1) != 0 {
		panic("vioblk: device block size not a power of two")
	}
	d.capacity = t.ConfigLoad64(0) * 512

	ringPPN, err := mm.AllocPhysPage()
	if err != nil {
		return err
	}
	dmaPPN, err := mm.AllocPhysPage()
	if err != nil {
		mm.FreePhysPage(ringPPN)
		return err
	}
	d.ringPMA = ringPPN << hw.PageOrder
	d.dmaPMA = dmaPPN << hw.PageOrder
	clear(t.M.Page(ringPPN))

	if err := t.AttachQueue(0, vioblkDescCount,
		d.ringPMA+descOff, d.ringPMA+availOff, d.ringPMA+usedOff); err != nil {
		return err
	}

	sched.EnableIntrSource(t.IRQ, 1, d.isr, nil)
	d.io = kio.New0(d)
	d.instno = reg.Register("vioblk", openVioblk, d)
	t.SetStatus(StatDriverOK)

	log.Infof("vioblk%d: %d byte blocks, %d MB capacity",
		d.instno, d.blkSize, d.capacity/1024/1024)
	return nil
}

func openVioblk(aux any) (*kio.IO, error) {
	d := aux.(*VioblkDevice)
	return d.io.AddRef(), nil
}

// Close tears the queue down when the last reference goes away.
func (d *VioblkDevice) Close() {
	sched.DisableIntrSource(d.t.IRQ)
	d.t.ResetQueue(0)
}

// Cntl implements kio.Controller.
func (d *VioblkDevice) Cntl(cmd int, arg *uint64) (int64, error) {
	d.lock.Acquire()
	defer d.lock.Release()
	switch cmd {
	case kio.CtlGetBlkSz:
		return int64(d.blkSize), nil
	case kio.CtlGetEnd:
		if arg == nil {
			return 0, kerr.ErrInvalid
		}
		*arg = d.capacity
		return 0, nil
	default:
		return 0, kerr.ErrNotSupported
	}
}

// ReadAt implements kio.ReaderAt. pos and len(buf) must be multiples of
// the device block size and inside the capacity.
func (d *VioblkDevice) ReadAt(pos uint64, buf []byte) (int64, error) {
	return d.transfer(pos, buf, false)
}

// WriteAt implements kio.WriterAt, with the same alignment rules.
func (d *VioblkDevice) WriteAt(pos uint64, buf []byte) (int64, error) {
	return d.transfer(pos, buf, true)
}

func (d *VioblkDevice) transfer(pos uint64, buf []byte, isWrite bool) (int64, error) {
	n := uint64(len(buf))
	if n == 0 {
		return 0, nil
	}
	bs := uint64(d.blkSize)
	if pos%bs != 0 || n%bs != 0 || pos+n > d.capacity {
		return 0, kerr.ErrInvalid
	}

	d.lock.Acquire()
	defer d.lock.Release()

	var done uint64
	for done < n {
		// Up to descCount-2 sectors per request; the rest of the pool is
		// the header and status descriptors.
		chunk := n - done
		if max := (vioblkDescCount - 2) * bs; chunk > max {
			chunk = max
		}
		if err := d.request(pos+done, buf[done:done+chunk], isWrite); err != nil {
			if done > 0 {
				return int64(done), nil
			}
			return 0, err
		}
		done += chunk
	}
	return int64(done), nil
}

// request runs one descriptor-chain cycle: header, data descriptors
// through the DMA bounce page, status byte; publish, notify, sleep on
// io_done until the ISR completes the slot.
func (d *VioblkDevice) request(pos uint64, buf []byte, isWrite bool) error {
	bs := uint64(d.blkSize)
	nData := int(uint64(len(buf)) / bs)
	needed := nData + 2

	var chain []uint16
	for i := uint16(0); i < vioblkDescCount && len(chain) < needed; i++ {
		if d.descFree[i] {
			chain = append(chain, i)
		}
	}
	if len(chain) < needed {
		return kerr.ErrBusy
	}

	slot := chain[0]
	d.requests[slot].inUse = true
	d.requests[slot].result = 0
	d.requests[slot].status = 0xff

	// Request header.
	hdr := d.t.M.Bytes(d.ringPMA+hdrOff+16*uint64(slot), 16)
	reqType := uint32(blkTIn)
	if isWrite {
		reqType = blkTOut
	}
	binary.LittleEndian.PutUint32(hdr[0:], reqType)
	binary.LittleEndian.PutUint32(hdr[4:], 0)
	binary.LittleEndian.PutUint64(hdr[8:], pos/512)

	d.descFree[slot] = false
	d.t.WriteDesc(d.ringPMA+descOff, slot,
		d.ringPMA+hdrOff+16*uint64(slot), 16, DescFNext, chain[1])

	// Data descriptors, one bounce sector each.
	for j := 0; j < nData; j++ {
		idx := chain[1+j]
		d.descFree[idx] = false
		dma := d.dmaPMA + 512*uint64(idx)
		if isWrite {
			d.t.M.WritePhys(dma, buf[uint64(j)*bs:(uint64(j)+1)*bs])
		}
		flags := uint16(DescFNext)
		if !isWrite {
			flags |= DescFWrite
		}
		d.t.WriteDesc(d.ringPMA+descOff, idx, dma, uint32(bs), flags, chain[2+j])
	}

	// Status byte.
	stat := chain[needed-1]
	d.descFree[stat] = false
	d.t.WriteDesc(d.ringPMA+descOff, stat,
		d.ringPMA+statusOff+uint64(slot), 1, DescFWrite, 0)

	d.t.PushAvail(d.ringPMA+availOff, vioblkDescCount, slot)
	d.t.Store(RegQueueNotify, 0)

	for d.requests[slot].inUse {
		d.ioDone.Wait()
	}

	if d.requests[slot].status != blkStatusOK {
		log.Warningf("vioblk%d: request at %#x failed with status %d",
			d.instno, pos, d.requests[slot].status)
		return kerr.ErrIO
	}
	if !isWrite {
		for j := 0; j < nData; j++ {
			dma := d.dmaPMA + 512*uint64(chain[1+j])
			d.t.M.ReadPhys(dma, buf[uint64(j)*bs:(uint64(j)+1)*bs])
		}
	}
	return nil
}

// isr drains the used ring: frees each completed chain back to the pool,
// records status and length, and wakes requesters.
func (d *VioblkDevice) isr(int, any) {
	status := d.t.Load(RegInterruptStatus)
	if status == 0 {
		return
	}
	for d.t.UsedIdx(d.ringPMA+usedOff) != d.lastUsedIdx {
		id, length := d.t.UsedElem(d.ringPMA+usedOff, vioblkDescCount, d.lastUsedIdx)
		slot := uint16(id)
		d.requests[slot].inUse = false
		d.requests[slot].result = length
		d.requests[slot].status = d.t.M.Bytes(d.ringPMA+statusOff+uint64(slot), 1)[0]
		for idx := slot; ; {
			d.descFree[idx] = true
			flags, next := d.t.ReadDescFlagsNext(d.ringPMA+descOff, idx)
			if flags&DescFNext == 0 {
				break
			}
			idx = next
		}
		d.lastUsedIdx++
	}
	d.ioDone.Broadcast()
	d.t.Store(RegInterruptAck, status)
}
