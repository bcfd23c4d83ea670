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

package dev

import (
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/hw"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kio"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/sched"
)

// uartEndpoint is the byte-stream endpoint over a serial port. Reads block
// on the receive condition until the port's ISR reports input; input line
// endings are normalized to "\n".
type uartEndpoint struct {
	io       *kio.IO
	port     *hw.UART
	rxAvail  sched.Condition
	lastCR   bool
	attached bool
}

// AttachUART wires a serial port's interrupt and registers it as device
// "uart".
func AttachUART(r *Registry, port *hw.UART, prio uint32) {
	u := &uartEndpoint{port: port}
	u.rxAvail.InitCondition("uart.rx_avail")
	u.io = kio.New0(u)
	sched.EnableIntrSource(port.IRQ(), prio, u.isr, nil)
	r.Register("uart", openUART, u)
}

func openUART(aux any) (*kio.IO, error) {
	u := aux.(*uartEndpoint)
	return u.io.AddRef(), nil
}

func (u *uartEndpoint) isr(int, any) {
	u.rxAvail.Broadcast()
}

func (u *uartEndpoint) Read(buf []byte) (int64, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	for !u.port.InputPending() {
		u.rxAvail.Wait()
	}
	n := 0
	for n < len(buf) {
		b, ok := u.port.ReadByte()
		if !ok {
			break
		}
		switch b {
		case '\r':
			buf[n] = '\n'
			n++
			u.lastCR = true
		case '\n':
			if !u.lastCR {
				buf[n] = '\n'
				n++
			}
			u.lastCR = false
		default:
			buf[n] = b
			n++
			u.lastCR = false
		}
	}
	return int64(n), nil
}

func (u *uartEndpoint) Write(buf []byte) (int64, error) {
	for _, b := range buf {
		if b == '\n' {
			u.port.Write([]byte{'\r', '\n'})
		} else {
			u.port.Write([]byte{b})
		}
	}
	return int64(len(buf)), nil
}
