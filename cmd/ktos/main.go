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

// Command ktos boots a machine described by a TOML config file:
//
//	ktos -config machine.toml
//
// The machine's first UART becomes the controlling terminal: stdin feeds
// the receive line (raw mode when stdin is a tty) and transmit bytes go
// to stdout. The machine runs until its init process exits.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gofrs/flock"
	"golang.org/x/term"

	"github.com/sarasehgal/Unix-style-OS-Development/pkg/boot"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/fs/ktfs"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/hw"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/log"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/sched"
)

var (
	configPath = flag.String("config", "machine.toml", "machine config file")
	debug      = flag.Bool("debug", false, "enable debug logging")
)

func main() {
	flag.Parse()
	if *debug {
		log.SetLevel(log.Debug)
	}

	cfg, err := boot.LoadConfig(*configPath)
	if err != nil {
		fatalf("config: %v", err)
	}
	if cfg.DiskImage == "" || cfg.Init == "" {
		fatalf("config must set disk_image and init")
	}

	fl, err := lockImage(cfg.DiskImage)
	if err != nil {
		fatalf("%v", err)
	}
	defer fl.Unlock()

	img, err := os.OpenFile(cfg.DiskImage, os.O_RDWR, 0)
	if err != nil {
		fatalf("%v", err)
	}
	defer img.Close()
	st, err := img.Stat()
	if err != nil {
		fatalf("%v", err)
	}

	opts := cfg.Options()
	opts.Disk = img
	opts.DiskSectors = uint64(st.Size()) / ktfs.BlockSize
	opts.ConsoleOut = os.Stdout
	opts.EntropySeed = cfg.EntropySeed

	if term.IsTerminal(int(os.Stdin.Fd())) {
		old, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err == nil {
			defer term.Restore(int(os.Stdin.Fd()), old)
		}
	}

	// The boot call binds this goroutine as the kernel main thread; from
	// here on, everything below runs in kernel context.
	s, err := boot.New(opts)
	if err != nil {
		fatalf("boot: %v", err)
	}

	// Host input feeds the UART from outside the machine; the idle
	// thread drains the event queue when the kernel quiesces.
	sched.AllowIdleBlock = true
	go pumpStdin(s.M, s.UART0)

	tid, err := s.SpawnInit(cfg.Init, append([]string{cfg.Init}, cfg.InitArgs...))
	if err != nil {
		fatalf("init %q: %v", cfg.Init, err)
	}
	if _, err := sched.Join(tid); err != nil {
		fatalf("join init: %v", err)
	}
	if err := s.FS.Unmount(); err != nil {
		fatalf("unmount: %v", err)
	}
}

func pumpStdin(m *hw.Machine, uart *hw.UART) {
	buf := make([]byte, 256)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			b := append([]byte(nil), buf[:n]...)
			m.Events <- func() { uart.PushInput(b) }
		}
		if err != nil {
			return
		}
	}
}

func lockImage(path string) (*flock.Flock, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s is locked by another process", path)
	}
	return fl, nil
}

func fatalf(format string, v ...any) {
	fmt.Fprintf(os.Stderr, "ktos: "+format+"\n", v...)
	os.Exit(1)
}
