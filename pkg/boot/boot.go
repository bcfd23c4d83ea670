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

// Package boot assembles a machine and brings the kernel up on it in the
// fixed subsystem order: console, device manager, memory, interrupt and
// thread manager, process manager, device attach, filesystem mount.
package boot

import (
	"io"

	"github.com/sarasehgal/Unix-style-OS-Development/pkg/dev"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/dev/virtio"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/fs/ktfs"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/hw"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/hw/viodev"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kernel"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kio"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/log"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/mem"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/sched"
)

// Options configure a machine.
type Options struct {
	// RAMSize is the RAM size in bytes; zero means 8 MiB.
	RAMSize uint64

	// Disk backs the virtio block device; nil attaches no disk.
	Disk viodev.Disk

	// DiskSectors is the disk capacity in 512-byte sectors.
	DiskSectors uint64

	// ConsoleOut receives UART0 output; nil discards it.
	ConsoleOut io.Writer

	// EntropySeed seeds the virtio entropy device.
	EntropySeed int64

	// SkipMount leaves the filesystem unmounted (for mkfs-style use).
	SkipMount bool
}

// System is a booted machine.
type System struct {
	M       *hw.Machine
	MM      *mem.Manager
	K       *kernel.Kernel
	Devices *dev.Registry
	Console *log.Console
	UART0   *hw.UART
	UART1   *hw.UART
	FS      *ktfs.Filesystem
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// New boots a machine. The calling goroutine becomes the kernel's main
// thread.
func New(opts Options) (*System, error) {
	if opts.RAMSize == 0 {
		opts.RAMSize = 8 * 1024 * 1024
	}
	out := opts.ConsoleOut
	if out == nil {
		out = discard{}
	}

	m := hw.NewMachine(opts.RAMSize)
	uart0 := hw.NewUART(m, hw.UART0IRQ, out)
	uart1 := hw.NewUART(m, hw.UART0IRQ+1, discard{})
	rtc := hw.NewRTC(m, 0)
	if opts.Disk != nil {
		viodev.AttachBlock(m, hw.VirtIO0Base, hw.VirtIO0IRQ, opts.Disk, opts.DiskSectors)
	}
	viodev.AttachEntropy(m, hw.VirtIO0Base+hw.VirtIOStride, hw.VirtIO0IRQ+1, opts.EntropySeed)

	s := &System{M: m, UART0: uart0, UART1: uart1}
	s.Console = log.NewConsole(uart0)
	s.Devices = dev.NewRegistry()

	mm := mem.Init(m)
	s.MM = mm
	sched.Init(m, mm)
	s.K = kernel.New(m, mm, s.Devices, s.Console)

	dev.AttachUART(s.Devices, uart0, 3)
	dev.AttachUART(s.Devices, uart1, 3)
	dev.AttachRTC(s.Devices, rtc)
	for i := 0; i < 8; i++ {
		base := uint64(hw.VirtIO0Base + i*hw.VirtIOStride)
		t, id, err := virtio.Probe(m, base, hw.VirtIO0IRQ+i)
		if err != nil {
			continue
		}
		switch id {
		case virtio.DeviceIDBlock:
			if err := virtio.AttachBlock(t, mm, s.Devices); err != nil {
				log.Warningf("boot: vioblk at %#x: %v", base, err)
			}
		case virtio.DeviceIDEntropy:
			if err := virtio.AttachEntropy(t, mm, s.Devices); err != nil {
				log.Warningf("boot: viorng at %#x: %v", base, err)
			}
		}
	}

	if opts.Disk != nil && !opts.SkipMount {
		blkio, err := s.Devices.Open("vioblk", 0)
		if err != nil {
			return nil, err
		}
		fs, err := ktfs.Mount(blkio)
		blkio.Close()
		if err != nil {
			return nil, err
		}
		s.FS = fs
		s.K.SetFilesystem(fs)
	}
	return s, nil
}

// OpenDisk opens the raw block device endpoint.
func (s *System) OpenDisk() (*kio.IO, error) {
	return s.Devices.Open("vioblk", 0)
}

// InstallProgram registers a user program with the kernel and writes its
// ELF image into the filesystem under name.
func (s *System) InstallProgram(name string, prog kernel.Program) error {
	img := s.K.RegisterProgram(name, prog)
	if err := s.FS.Create(name); err != nil {
		return err
	}
	f, err := s.FS.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = kio.WriteFull(f, img)
	return err
}

// SpawnInit starts the named program as a fresh process and returns its
// thread id.
func (s *System) SpawnInit(name string, argv []string) (int, error) {
	return s.K.SpawnProcess(name, argv)
}
