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
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/dev"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/hw"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kio"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/log"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/mem"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/sched"
)

// viorng uses a single-descriptor queue: one device-writable buffer per
// request.
const viorngBufSize = 256

// ViorngDevice is the virtio entropy driver.
type ViorngDevice struct {
	t  *Transport
	io *kio.IO

	lock   sched.Lock
	ioDone sched.Condition

	ringPMA     uint64
	bufPMA      uint64
	lastUsedIdx uint16
	inFlight    bool
	got         uint32
}

// AttachEntropy drives the handshake against the entropy device behind t
// and registers it as device "rng".
func AttachEntropy(t *Transport, mm *mem.Manager, reg *dev.Registry) error {
	d := &ViorngDevice{t: t}
	d.lock.InitLock("viorng")
	d.ioDone.InitCondition("viorng.io_done")

	t.SetStatus(StatAcknowledge | StatDriver)
	var needed FeatureSet
	needed.Add(FeatVersion1)
	if _, err := t.NegotiateFeatures(needed, 0); err != nil {
		t.SetStatus(StatFailed)
		return err
	}

	ppn, err := mm.AllocPhysPage()
	if err != nil {
		return err
	}
	d.ringPMA = ppn << hw.PageOrder
	d.bufPMA = d.ringPMA + 2048
	clear(t.M.Page(ppn))

	// One descriptor, so the rings are tiny: desc at 0, avail at 16, used
	// at 32.
	if err := t.AttachQueue(0, 1, d.ringPMA, d.ringPMA+16, d.ringPMA+32); err != nil {
		return err
	}

	sched.EnableIntrSource(t.IRQ, 1, d.isr, nil)
	d.io = kio.New0(d)
	reg.Register("rng", openViorng, d)
	t.SetStatus(StatDriverOK)
	log.Infof("viorng: attached")
	return nil
}

func openViorng(aux any) (*kio.IO, error) {
	d := aux.(*ViorngDevice)
	return d.io.AddRef(), nil
}

// Read implements kio.Reader, filling buf with entropy.
func (d *ViorngDevice) Read(buf []byte) (int64, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	n := uint32(len(buf))
	if n > viorngBufSize {
		n = viorngBufSize
	}

	d.lock.Acquire()
	defer d.lock.Release()

	d.inFlight = true
	d.t.WriteDesc(d.ringPMA, 0, d.bufPMA, n, DescFWrite, 0)
	d.t.PushAvail(d.ringPMA+16, 1, 0)
	d.t.Store(RegQueueNotify, 0)
	for d.inFlight {
		d.ioDone.Wait()
	}

	if d.got < n {
		n = d.got
	}
	d.t.M.ReadPhys(d.bufPMA, buf[:n])
	return int64(n), nil
}

func (d *ViorngDevice) isr(int, any) {
	status := d.t.Load(RegInterruptStatus)
	if status == 0 {
		return
	}
	for d.t.UsedIdx(d.ringPMA+32) != d.lastUsedIdx {
		_, length := d.t.UsedElem(d.ringPMA+32, 1, d.lastUsedIdx)
		d.got = length
		d.inFlight = false
		d.lastUsedIdx++
	}
	d.ioDone.Broadcast()
	d.t.Store(RegInterruptAck, status)
}
