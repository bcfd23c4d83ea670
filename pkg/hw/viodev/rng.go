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

package viodev

import (
	"math/rand"

	"github.com/sarasehgal/Unix-style-OS-Development/pkg/hw"
)

// EntropyDevice is a virtio-rng backend. Entropy comes from a seeded PRNG
// so runs are reproducible; hosts that want real entropy can reseed.
type EntropyDevice struct {
	rng *rand.Rand
}

// AttachEntropy places an entropy device at base.
func AttachEntropy(m *hw.Machine, base uint64, irq int, seed int64) *Transport {
	return attach(m, base, irq, &EntropyDevice{rng: rand.New(rand.NewSource(seed))})
}

func (e *EntropyDevice) deviceID() uint32 { return IDEntropy }

func (e *EntropyDevice) features() uint64 { return rngFeatureSet }

func (e *EntropyDevice) config(uint64) uint32 { return 0 }

func (e *EntropyDevice) handle(t *Transport, chain []desc) uint32 {
	written := uint32(0)
	for _, d := range chain {
		if d.flags&descFWrite == 0 {
			continue
		}
		buf := make([]byte, d.len)
		e.rng.Read(buf)
		t.m.WritePhys(d.addr, buf)
		written += d.len
	}
	return written
}
