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

// PLIC is the platform-level interrupt controller. The register layout is
// not modeled; the kernel's interrupt manager drives the claim/complete
// protocol through these methods.
type PLIC struct {
	m        *Machine
	priority [NIRQ]uint32
	pending  [NIRQ]bool
	claimed  [NIRQ]bool
}

// SetPriority programs a source priority. Zero masks the source.
func (p *PLIC) SetPriority(src int, prio uint32) {
	p.priority[src] = prio
	if prio > 0 && p.pending[src] {
		p.m.raiseExtern()
	}
}

// Assert marks a source pending. Device models call this; if the source is
// enabled the machine delivers an external interrupt.
func (p *PLIC) Assert(src int) {
	if p.claimed[src] {
		// Level-triggered source already being serviced; it stays
		// pending and re-raises on completion.
		p.pending[src] = true
		return
	}
	p.pending[src] = true
	if p.priority[src] > 0 {
		p.m.raiseExtern()
	}
}

// Claim returns the highest-priority pending enabled source and begins
// servicing it, or 0 if none.
func (p *PLIC) Claim() int {
	best, bestPrio := 0, uint32(0)
	for src := 1; src < NIRQ; src++ {
		if p.pending[src] && !p.claimed[src] && p.priority[src] > bestPrio {
			best, bestPrio = src, p.priority[src]
		}
	}
	if best != 0 {
		p.claimed[best] = true
		p.pending[best] = false
	}
	return best
}

// Complete finishes servicing a claimed source.
func (p *PLIC) Complete(src int) {
	p.claimed[src] = false
	if p.pending[src] && p.priority[src] > 0 {
		p.m.raiseExtern()
	}
}
