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

// RTC is the Goldfish real-time clock. It reports nanoseconds derived from
// the machine's virtual tick counter plus a boot-time epoch, so time read
// through the RTC and time read through rdtime stay consistent.
type RTC struct {
	m     *Machine
	epoch uint64
}

// NewRTC attaches an RTC with the given epoch (nanoseconds at tick zero).
func NewRTC(m *Machine, epochNS uint64) *RTC {
	return &RTC{m: m, epoch: epochNS}
}

// Now returns the current time in nanoseconds.
func (r *RTC) Now() uint64 {
	const nsPerTick = 1_000_000_000 / TimerFreq
	return r.epoch + r.m.Clock.Now()*nsPerTick
}
