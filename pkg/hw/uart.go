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

package hw

import "io"

// UART is a byte-stream serial port. Transmitted bytes go to an io.Writer;
// received bytes are pushed with PushInput, which asserts the port's IRQ.
// The 16550 register file is not modeled (byte framing is outside the
// kernel core); the console and the uart device endpoint consume this
// interface directly.
type UART struct {
	m   *Machine
	irq int
	tx  io.Writer
	rx  []byte
}

// NewUART attaches a UART with the given interrupt source.
func NewUART(m *Machine, irq int, tx io.Writer) *UART {
	return &UART{m: m, irq: irq, tx: tx}
}

// IRQ returns the port's interrupt source number.
func (u *UART) IRQ() int { return u.irq }

// Write transmits bytes. Implements io.Writer so the console can stack on
// top of a port.
func (u *UART) Write(p []byte) (int, error) {
	if u.tx == nil {
		return len(p), nil
	}
	return u.tx.Write(p)
}

// PushInput queues received bytes and raises the receive interrupt.
func (u *UART) PushInput(p []byte) {
	u.rx = append(u.rx, p...)
	u.m.PLIC.Assert(u.irq)
}

// ReadByte pops one received byte. ok is false if the receive FIFO is
// empty.
func (u *UART) ReadByte() (b byte, ok bool) {
	if len(u.rx) == 0 {
		return 0, false
	}
	b = u.rx[0]
	u.rx = u.rx[1:]
	return b, true
}

// InputPending reports whether received bytes are waiting.
func (u *UART) InputPending() bool { return len(u.rx) > 0 }
