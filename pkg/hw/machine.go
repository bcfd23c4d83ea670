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

// Package hw models the virtual machine the kernel runs on: physical RAM, a
// memory-mapped I/O bus, a PLIC, a timer, a Goldfish RTC, UARTs, and VirtIO
// transports. It plays the role QEMU's virt board plays for the original
// system; the kernel is its only tenant.
//
// The model is single-hart and synchronous: device models run in the
// context of the kernel thread that pokes them (an MMIO store that
// completes a request raises the IRQ before the store returns), and the
// clock is virtual, advancing only through Advance and WFI.
package hw

import (
	"encoding/binary"
	"fmt"
)

// Board constants, matching QEMU virt.
const (
	PageSize  = 4096
	PageOrder = 12

	RAMStart = 0x8000_0000

	UART0Base  = 0x1000_0000
	UARTStride = 0x100
	UART0IRQ   = 10

	VirtIO0Base  = 0x1000_1000
	VirtIOStride = 0x1000
	VirtIO0IRQ   = 1

	RTCBase = 0x0010_1000

	// TimerFreq is the tick rate of the machine timer.
	TimerFreq = 10_000_000

	// NIRQ is the number of external interrupt sources.
	NIRQ = 96
)

// MMIODevice is a device on the MMIO bus. Offsets are relative to the
// device's base address.
type MMIODevice interface {
	Load32(off uint64) uint32
	Store32(off uint64, v uint32)
}

type busEntry struct {
	base, size uint64
	dev        MMIODevice
}

// Machine is a board instance.
type Machine struct {
	ram  []byte
	bus  []busEntry
	satp uint64

	Clock Clock
	PLIC  PLIC

	// Events carries host-injected work (console input, shutdown) into
	// kernel context. The idle thread drains it when the machine would
	// otherwise sleep with no timer pending.
	Events chan func()

	// TimerIRQ is invoked when the timer comparator elapses. Set by the
	// kernel's interrupt manager before any device can fire.
	TimerIRQ func()

	// ExternIRQ is invoked when any external source becomes pending.
	ExternIRQ func()
}

// NewMachine creates a board with ramSize bytes of RAM.
func NewMachine(ramSize uint64) *Machine {
	if ramSize%PageSize != 0 {
		panic(fmt.Sprintf("hw: RAM size %#x not page aligned", ramSize))
	}
	m := &Machine{ram: make([]byte, ramSize), Events: make(chan func(), 64)}
	m.Clock.m = m
	m.PLIC.m = m
	return m
}

// RAMSize returns the size of RAM in bytes.
func (m *Machine) RAMSize() uint64 { return uint64(len(m.ram)) }

// RAMEnd returns the physical address one past the end of RAM.
func (m *Machine) RAMEnd() uint64 { return RAMStart + uint64(len(m.ram)) }

// Attach places dev on the bus at [base, base+size).
func (m *Machine) Attach(base, size uint64, dev MMIODevice) {
	m.bus = append(m.bus, busEntry{base: base, size: size, dev: dev})
}

func (m *Machine) find(pma uint64) (MMIODevice, uint64) {
	for _, e := range m.bus {
		if pma >= e.base && pma < e.base+e.size {
			return e.dev, pma - e.base
		}
	}
	return nil, 0
}

// Mapped reports whether a device decodes the given physical address.
// Unmapped MMIO accesses fault; probes check first.
func (m *Machine) Mapped(pma uint64) bool {
	dev, _ := m.find(pma)
	return dev != nil
}

// Load32 performs a 32-bit MMIO load.
func (m *Machine) Load32(pma uint64) uint32 {
	if dev, off := m.find(pma); dev != nil {
		return dev.Load32(off)
	}
	panic(fmt.Sprintf("hw: MMIO load from unmapped %#x", pma))
}

// Store32 performs a 32-bit MMIO store.
func (m *Machine) Store32(pma uint64, v uint32) {
	if dev, off := m.find(pma); dev != nil {
		dev.Store32(off, v)
		return
	}
	panic(fmt.Sprintf("hw: MMIO store to unmapped %#x", pma))
}

// Page returns the RAM backing of the physical page numbered ppn. The slice
// aliases machine memory; writes are visible to every DMA master.
func (m *Machine) Page(ppn uint64) []byte {
	pma := ppn << PageOrder
	if pma < RAMStart || pma+PageSize > m.RAMEnd() {
		panic(fmt.Sprintf("hw: page %#x outside RAM", ppn))
	}
	off := pma - RAMStart
	return m.ram[off : off+PageSize : off+PageSize]
}

// Bytes returns the RAM backing [pma, pma+n). Used by DMA masters and the
// page-table walker.
func (m *Machine) Bytes(pma, n uint64) []byte {
	if pma < RAMStart || pma+n > m.RAMEnd() {
		panic(fmt.Sprintf("hw: physical range [%#x,%#x) outside RAM", pma, pma+n))
	}
	off := pma - RAMStart
	return m.ram[off : off+n : off+n]
}

// ReadPhys copies RAM at pma into buf.
func (m *Machine) ReadPhys(pma uint64, buf []byte) {
	copy(buf, m.Bytes(pma, uint64(len(buf))))
}

// WritePhys copies buf into RAM at pma.
func (m *Machine) WritePhys(pma uint64, buf []byte) {
	copy(m.Bytes(pma, uint64(len(buf))), buf)
}

// LoadPhys64 reads a little-endian 64-bit word from RAM.
func (m *Machine) LoadPhys64(pma uint64) uint64 {
	return binary.LittleEndian.Uint64(m.Bytes(pma, 8))
}

// StorePhys64 writes a little-endian 64-bit word to RAM.
func (m *Machine) StorePhys64(pma, v uint64) {
	binary.LittleEndian.PutUint64(m.Bytes(pma, 8), v)
}

// SATP returns the address-translation register.
func (m *Machine) SATP() uint64 { return m.satp }

// SetSATP installs the address-translation register. The TLB is not
// modeled, so the fence is implicit.
func (m *Machine) SetSATP(v uint64) { m.satp = v }

func (m *Machine) raiseExtern() {
	if m.ExternIRQ != nil {
		m.ExternIRQ()
	}
}
