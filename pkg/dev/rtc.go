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
	"encoding/binary"

	"github.com/sarasehgal/Unix-style-OS-Development/pkg/hw"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kio"
)

// rtcEndpoint reads the Goldfish RTC nanosecond counter. Each read yields
// the current time as a little-endian 64-bit value.
type rtcEndpoint struct {
	io  *kio.IO
	rtc *hw.RTC
}

// AttachRTC registers the real-time clock as device "rtc".
func AttachRTC(r *Registry, rtc *hw.RTC) {
	e := &rtcEndpoint{rtc: rtc}
	e.io = kio.New0(e)
	r.Register("rtc", openRTC, e)
}

func openRTC(aux any) (*kio.IO, error) {
	e := aux.(*rtcEndpoint)
	return e.io.AddRef(), nil
}

func (e *rtcEndpoint) Read(buf []byte) (int64, error) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], e.rtc.Now())
	return int64(copy(buf, b[:])), nil
}

func (e *rtcEndpoint) ReadAt(_ uint64, buf []byte) (int64, error) {
	return e.Read(buf)
}
