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

// Package dev is the device manager: a fixed table of named devices, each
// with an open function producing a kio endpoint. Instance numbers count
// registrations of the same name in order.
package dev

import (
	"strconv"

	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kerr"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kio"
)

// NDev is the size of the device table.
const NDev = 16

// OpenFn opens a device instance.
type OpenFn func(aux any) (*kio.IO, error)

// Registry is the device table.
type Registry struct {
	devtab [NDev]struct {
		name   string
		openfn OpenFn
		aux    any
	}
}

// NewRegistry returns an empty device table.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a named device and returns its instance number.
func (r *Registry) Register(name string, openfn OpenFn, aux any) int {
	instno := 0
	for i := range r.devtab {
		if r.devtab[i].name == "" {
			r.devtab[i].name = name
			r.devtab[i].openfn = openfn
			r.devtab[i].aux = aux
			return instno
		}
		if r.devtab[i].name == name {
			instno++
		}
	}
	panic("dev: device table full")
}

// Open opens instance instno of the named device.
func (r *Registry) Open(name string, instno int) (*kio.IO, error) {
	k := 0
	for i := range r.devtab {
		if r.devtab[i].name == "" {
			break
		}
		if r.devtab[i].name == name {
			if k == instno {
				if r.devtab[i].openfn == nil {
					return nil, kerr.ErrNotSupported
				}
				return r.devtab[i].openfn(r.devtab[i].aux)
			}
			k++
		}
	}
	return nil, kerr.ErrNoDevice
}

// ParseSpec splits a device spec like "uart1" into a name and instance
// number. A spec without a trailing number means instance 0.
func ParseSpec(spec string) (name string, instno int, err error) {
	if spec == "" {
		return "", 0, kerr.ErrInvalid
	}
	i := len(spec)
	for i > 0 && spec[i-1] >= '0' && spec[i-1] <= '9' {
		i--
	}
	if i == 0 {
		return "", 0, kerr.ErrInvalid
	}
	if i == len(spec) {
		return spec, 0, nil
	}
	n, err := strconv.Atoi(spec[i:])
	if err != nil {
		return "", 0, kerr.ErrInvalid
	}
	return spec[:i], n, nil
}
