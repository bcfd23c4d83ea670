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

// Package virtio is the kernel side of the VirtIO MMIO version-2
// transport: device discovery, the status handshake, feature negotiation,
// and virtqueue programming. The block and entropy drivers build on it.
package virtio

import (
	"encoding/binary"

	"github.com/sarasehgal/Unix-style-OS-Development/pkg/hw"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kerr"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/log"
)

// MMIO register offsets.
const (
	RegMagicValue        = 0x000
	RegVersion           = 0x004
	RegDeviceID          = 0x008
	RegDeviceFeatures    = 0x010
	RegDeviceFeaturesSel = 0x014
	RegDriverFeatures    = 0x020
	RegDriverFeaturesSel = 0x024
	RegQueueSel          = 0x030
	RegQueueNumMax       = 0x034
	RegQueueNum          = 0x038
	RegQueueReady        = 0x044
	RegQueueNotify       = 0x050
	RegInterruptStatus   = 0x060
	RegInterruptAck      = 0x064
	RegStatus            = 0x070
	RegQueueDescLow      = 0x080
	RegQueueDescHigh     = 0x084
	RegQueueDriverLow    = 0x090
	RegQueueDriverHigh   = 0x094
	RegQueueDeviceLow    = 0x0a0
	RegQueueDeviceHigh   = 0x0a4
	RegConfig            = 0x100
)

// MagicValue is the required contents of RegMagicValue ("virt").
const MagicValue = 0x74726976

// Device IDs.
const (
	DeviceIDBlock   = 2
	DeviceIDEntropy = 4
)

// Device status bits.
const (
	StatAcknowledge = 1 << 0
	StatDriver      = 1 << 1
	StatDriverOK    = 1 << 2
	StatFeaturesOK  = 1 << 3
	StatFailed      = 1 << 7
)

// Feature bit numbers.
const (
	FeatAnyLayout    = 27
	FeatIndirectDesc = 28
	FeatVersion1     = 32
	FeatRingReset    = 40

	FeatBlkSegMax   = 2
	FeatBlkBlkSize  = 6
	FeatBlkTopology = 10
)

// Descriptor flags.
const (
	DescFNext  = 1 << 0
	DescFWrite = 1 << 1
)

// FeatureSet is a set of feature bit numbers.
type FeatureSet uint64

// Add includes bit n.
func (f *FeatureSet) Add(n uint) { *f |= 1 << n }

// Test reports whether bit n is in the set.
func (f FeatureSet) Test(n uint) bool { return f&(1<<n) != 0 }

// Transport is one discovered MMIO slot.
type Transport struct {
	M    *hw.Machine
	Base uint64
	IRQ  int
}

// Probe validates the magic, version, and a present device at base, and
// returns the device id.
func Probe(m *hw.Machine, base uint64, irq int) (*Transport, uint32, error) {
	if !m.Mapped(base) {
		return nil, 0, kerr.ErrNoDevice
	}
	t := &Transport{M: m, Base: base, IRQ: irq}
	if t.Load(RegMagicValue) != MagicValue {
		return nil, 0, kerr.ErrNoDevice
	}
	if t.Load(RegVersion) != 2 {
		log.Warningf("virtio: slot %#x has unsupported version %d", base, t.Load(RegVersion))
		return nil, 0, kerr.ErrNotSupported
	}
	id := t.Load(RegDeviceID)
	if id == 0 {
		return nil, 0, kerr.ErrNoDevice
	}
	return t, id, nil
}

// Load reads a transport register.
func (t *Transport) Load(reg uint64) uint32 {
	return t.M.Load32(t.Base + reg)
}

// Store writes a transport register.
func (t *Transport) Store(reg uint64, v uint32) {
	t.M.Store32(t.Base+reg, v)
}

// SetStatus ORs bits into the device status register.
func (t *Transport) SetStatus(bits uint32) {
	t.Store(RegStatus, t.Load(RegStatus)|bits)
}

// NegotiateFeatures runs the feature half of the handshake: the needed set
// must be offered, the wanted set is taken if offered. The enabled set is
// returned after FEATURES_OK is accepted.
func (t *Transport) NegotiateFeatures(needed, wanted FeatureSet) (FeatureSet, error) {
	t.Store(RegDeviceFeaturesSel, 0)
	offered := FeatureSet(t.Load(RegDeviceFeatures))
	t.Store(RegDeviceFeaturesSel, 1)
	offered |= FeatureSet(t.Load(RegDeviceFeatures)) << 32

	if offered&needed != needed {
		return 0, kerr.ErrNotSupported
	}
	enabled := needed | wanted&offered

	t.Store(RegDriverFeaturesSel, 0)
	t.Store(RegDriverFeatures, uint32(enabled))
	t.Store(RegDriverFeaturesSel, 1)
	t.Store(RegDriverFeatures, uint32(enabled>>32))

	t.SetStatus(StatFeaturesOK)
	if t.Load(RegStatus)&StatFeaturesOK == 0 {
		return 0, kerr.ErrNotSupported
	}
	return enabled, nil
}

// AttachQueue programs queue qi with the given ring physical addresses and
// readies it.
func (t *Transport) AttachQueue(qi, num uint32, descPMA, availPMA, usedPMA uint64) error {
	t.Store(RegQueueSel, qi)
	if t.Load(RegQueueNumMax) < num {
		return kerr.ErrNotSupported
	}
	t.Store(RegQueueNum, num)
	t.Store(RegQueueDescLow, uint32(descPMA))
	t.Store(RegQueueDescHigh, uint32(descPMA>>32))
	t.Store(RegQueueDriverLow, uint32(availPMA))
	t.Store(RegQueueDriverHigh, uint32(availPMA>>32))
	t.Store(RegQueueDeviceLow, uint32(usedPMA))
	t.Store(RegQueueDeviceHigh, uint32(usedPMA>>32))
	t.Store(RegQueueReady, 1)
	return nil
}

// ResetQueue tears down queue qi.
func (t *Transport) ResetQueue(qi uint32) {
	t.Store(RegQueueSel, qi)
	t.Store(RegQueueReady, 0)
}

// ConfigLoad32 reads a 32-bit device config field.
func (t *Transport) ConfigLoad32(off uint64) uint32 {
	return t.Load(RegConfig + off)
}

// ConfigLoad64 reads a 64-bit device config field as two 32-bit halves.
func (t *Transport) ConfigLoad64(off uint64) uint64 {
	return uint64(t.ConfigLoad32(off)) | uint64(t.ConfigLoad32(off+4))<<32
}

// Ring accessors. Descriptors and rings live in machine RAM; every field is
// little-endian, and writes that publish a descriptor chain must happen
// before the avail index bump (program order suffices on this machine, but
// the layout is the wire format).

// WriteDesc fills descriptor idx in the table at descPMA.
func (t *Transport) WriteDesc(descPMA uint64, idx uint16, addr uint64, length uint32, flags, next uint16) {
	base := descPMA + 16*uint64(idx)
	b := t.M.Bytes(base, 16)
	binary.LittleEndian.PutUint64(b[0:], addr)
	binary.LittleEndian.PutUint32(b[8:], length)
	binary.LittleEndian.PutUint16(b[12:], flags)
	binary.LittleEndian.PutUint16(b[14:], next)
}

// ReadDescFlagsNext returns a descriptor's flags and next link.
func (t *Transport) ReadDescFlagsNext(descPMA uint64, idx uint16) (flags, next uint16) {
	base := descPMA + 16*uint64(idx)
	b := t.M.Bytes(base, 16)
	return binary.LittleEndian.Uint16(b[12:]), binary.LittleEndian.Uint16(b[14:])
}

// PushAvail publishes a chain head in the avail ring and bumps the index.
func (t *Transport) PushAvail(availPMA uint64, num uint32, head uint16) {
	idx := binary.LittleEndian.Uint16(t.M.Bytes(availPMA+2, 2))
	slot := availPMA + 4 + 2*uint64(idx%uint16(num))
	binary.LittleEndian.PutUint16(t.M.Bytes(slot, 2), head)
	binary.LittleEndian.PutUint16(t.M.Bytes(availPMA+2, 2), idx+1)
}

// UsedIdx reads the used ring index.
func (t *Transport) UsedIdx(usedPMA uint64) uint16 {
	return binary.LittleEndian.Uint16(t.M.Bytes(usedPMA+2, 2))
}

// UsedElem reads used ring element slot.
func (t *Transport) UsedElem(usedPMA uint64, num uint32, slot uint16) (id, length uint32) {
	base := usedPMA + 4 + 8*uint64(slot%uint16(num))
	b := t.M.Bytes(base, 8)
	return binary.LittleEndian.Uint32(b[0:]), binary.LittleEndian.Uint32(b[4:])
}
