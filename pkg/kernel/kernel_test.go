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

package kernel_test

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/sarasehgal/Unix-style-OS-Development/pkg/boot"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/fs/ktfs"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/hw/viodev"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kernel"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kio"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/mem"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/sched"
)

// scratch is a demand-paged user region programs use for buffers.
const scratch = uint64(0xc100_0000)

func newSystem(t *testing.T) (*boot.System, *bytes.Buffer) {
	t.Helper()
	disk := &viodev.MemDisk{Data: make([]byte, 2048*ktfs.BlockSize)}
	if err := ktfs.Mkfs(kio.NewMemory(disk.Data), ktfs.MkfsOptions{TotalBlocks: 2048}); err != nil {
		t.Fatalf("Mkfs: %v", err)
	}
	var console bytes.Buffer
	s, err := boot.New(boot.Options{
		Disk:        disk,
		DiskSectors: 2048,
		ConsoleOut:  &console,
	})
	if err != nil {
		t.Fatalf("boot.New: %v", err)
	}
	return s, &console
}

// run installs prog as a program image, execs it as a fresh process, and
// joins it.
func run(t *testing.T, s *boot.System, name string, argv []string, prog kernel.Program) {
	t.Helper()
	if err := s.InstallProgram(name, prog); err != nil {
		t.Fatalf("InstallProgram(%s): %v", name, err)
	}
	tid, err := s.SpawnInit(name, argv)
	if err != nil {
		t.Fatalf("SpawnInit(%s): %v", name, err)
	}
	if _, err := sched.Join(tid); err != nil {
		t.Fatalf("Join(%s): %v", name, err)
	}
}

// ustr copies a NUL-terminated string into user memory and returns its
// address.
func ustr(env *kernel.UserEnv, addr uint64, s string) uint64 {
	env.Store(addr, append([]byte(s), 0))
	return addr
}

func TestExecAndPrint(t *testing.T) {
	s, console := newSystem(t)
	run(t, s, "hello", []string{"hello"}, func(env *kernel.UserEnv) {
		msg := ustr(env, scratch, "hello via ecall")
		if got := env.Syscall(kernel.SysPrint, msg); got != 0 {
			t.Errorf("print: got %d, wanted 0", got)
		}
	})
	if !strings.Contains(console.String(), "says: hello via ecall") {
		t.Fatalf("console output missing print: %q", console.String())
	}
}

func TestExecArgs(t *testing.T) {
	s, _ := newSystem(t)
	var got []string
	run(t, s, "args", []string{"args", "one", "two"}, func(env *kernel.UserEnv) {
		argc := env.Frame().A[0]
		argvVA := env.Frame().A[1]
		for i := uint64(0); i < argc; i++ {
			var p [8]byte
			env.Load(argvVA+8*i, p[:])
			ptr := binary.LittleEndian.Uint64(p[:])
			var sb []byte
			for {
				var b [1]byte
				env.Load(ptr+uint64(len(sb)), b[:])
				if b[0] == 0 {
					break
				}
				sb = append(sb, b[0])
			}
			got = append(got, string(sb))
		}
	})
	want := []string{"args", "one", "two"}
	if len(got) != len(want) {
		t.Fatalf("argv: got %v, wanted %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("argv[%d]: got %q, wanted %q", i, got[i], want[i])
		}
	}
}

func TestExecTooManyArgs(t *testing.T) {
	s, _ := newSystem(t)
	var ret int64
	run(t, s, "bigargs", []string{"bigargs"}, func(env *kernel.UserEnv) {
		// 600 argv pointers cannot fit on the argument page.
		str := ustr(env, scratch, "x")
		argvVA := scratch + 0x1000
		ptrs := make([]byte, 600*8)
		for i := 0; i < 600; i++ {
			binary.LittleEndian.PutUint64(ptrs[8*i:], str)
		}
		env.Store(argvVA, ptrs)
		ret = env.Syscall(kernel.SysExec, 0, 600, argvVA)
	})
	if ret != -14 { // ENOMEM
		t.Fatalf("exec with oversized argc: got %d, wanted -14", ret)
	}
}

func TestSyscallFileRoundTrip(t *testing.T) {
	s, _ := newSystem(t)
	var (
		readBack  string
		reopenRet int64
	)
	run(t, s, "files", []string{"files"}, func(env *kernel.UserEnv) {
		name := ustr(env, scratch, "wow")
		if ret := env.Syscall(kernel.SysFsCreate, name); ret != 0 {
			t.Errorf("fscreate: got %d", ret)
			return
		}
		fd := env.Syscall(kernel.SysFsOpen, ^uint64(0), name)
		if fd < 0 {
			t.Errorf("fsopen: got %d", fd)
			return
		}

		// SETEND to 3, then write and read back through the descriptor.
		argAddr := scratch + 0x100
		var arg [8]byte
		binary.LittleEndian.PutUint64(arg[:], 3)
		env.Store(argAddr, arg[:])
		if ret := env.Syscall(kernel.SysIoctl, uint64(fd), kio.CtlSetEnd, argAddr); ret != 0 {
			t.Errorf("ioctl SETEND: got %d", ret)
		}

		buf := ustr(env, scratch+0x200, "wow")
		if ret := env.Syscall(kernel.SysWrite, uint64(fd), buf, 3); ret != 3 {
			t.Errorf("write: got %d, wanted 3", ret)
		}

		binary.LittleEndian.PutUint64(arg[:], 0)
		env.Store(argAddr, arg[:])
		if ret := env.Syscall(kernel.SysIoctl, uint64(fd), kio.CtlSetPos, argAddr); ret != 0 {
			t.Errorf("ioctl SETPOS: got %d", ret)
		}
		out := scratch + 0x300
		if ret := env.Syscall(kernel.SysRead, uint64(fd), out, 3); ret != 3 {
			t.Errorf("read: got %d, wanted 3", ret)
		}
		got := make([]byte, 3)
		env.Load(out, got)
		readBack = string(got)

		env.Syscall(kernel.SysClose, uint64(fd))
		env.Syscall(kernel.SysFsDelete, name)
		reopenRet = env.Syscall(kernel.SysFsOpen, ^uint64(0), name)
	})
	if readBack != "wow" {
		t.Fatalf("read back: got %q, wanted %q", readBack, "wow")
	}
	if reopenRet >= 0 {
		t.Fatalf("open after delete: got %d, wanted a negative error", reopenRet)
	}
}

func TestForkPipe(t *testing.T) {
	s, _ := newSystem(t)
	var (
		childTid int64
		waited   int64
		first    string
		eofN     int64 = -1
	)
	run(t, s, "forker", []string{"forker"}, func(env *kernel.UserEnv) {
		// pipe(&wfd, &rfd) with both requests at "next free".
		wp, rp := scratch, scratch+4
		neg := []byte{0xff, 0xff, 0xff, 0xff}
		env.Store(wp, neg)
		env.Store(rp, neg)
		if ret := env.Syscall(kernel.SysPipe, wp, rp); ret != 0 {
			t.Errorf("pipe: got %d", ret)
			return
		}
		var b [4]byte
		env.Load(wp, b[:])
		wfd := uint64(binary.LittleEndian.Uint32(b[:]))
		env.Load(rp, b[:])
		rfd := uint64(binary.LittleEndian.Uint32(b[:]))

		msg := ustr(env, scratch+0x100, "hello")
		childTid = env.Fork(func(child *kernel.UserEnv) {
			// The clone carries the buffer and the descriptors.
			if ret := child.Syscall(kernel.SysWrite, wfd, msg, 5); ret != 5 {
				t.Errorf("child write: got %d, wanted 5", ret)
			}
			child.Exit()
		})
		if childTid < 0 {
			t.Errorf("fork: got %d", childTid)
			return
		}

		// Drop the parent's write end so the child's exit is the last
		// writer.
		env.Syscall(kernel.SysClose, wfd)

		out := scratch + 0x200
		if ret := env.Syscall(kernel.SysRead, rfd, out, 5); ret != 5 {
			t.Errorf("read: got %d, wanted 5", ret)
		}
		got := make([]byte, 5)
		env.Load(out, got)
		first = string(got)

		eofN = env.Syscall(kernel.SysRead, rfd, out, 5)
		waited = env.Syscall(kernel.SysWait, uint64(childTid))
	})
	if first != "hello" {
		t.Fatalf("pipe payload: got %q, wanted %q", first, "hello")
	}
	if eofN != 0 {
		t.Fatalf("read after writer exit: got %d, wanted 0 (EOF)", eofN)
	}
	if waited != childTid {
		t.Fatalf("wait: got %d, wanted %d", waited, childTid)
	}
}

func TestForkMemoryIsolation(t *testing.T) {
	s, _ := newSystem(t)
	var parentSees string
	run(t, s, "cow", []string{"cow"}, func(env *kernel.UserEnv) {
		env.Store(scratch, []byte("original"))
		tid := env.Fork(func(child *kernel.UserEnv) {
			child.Store(scratch, []byte("scribble"))
			child.Exit()
		})
		env.Syscall(kernel.SysWait, uint64(tid))
		got := make([]byte, 8)
		env.Load(scratch, got)
		parentSees = string(got)
	})
	if parentSees != "original" {
		t.Fatalf("parent memory after child write: got %q, wanted %q", parentSees, "original")
	}
}

func TestPageFaultDemandZero(t *testing.T) {
	s, _ := newSystem(t)
	var got []byte
	run(t, s, "fault", []string{"fault"}, func(env *kernel.UserEnv) {
		// An address no segment or stack page covers; the first touch
		// faults and gets a zero page.
		addr := uint64(mem.UMemStart + 0x0123_0000)
		env.Store(addr, []byte{1})
		got = make([]byte, 8)
		env.Load(addr, got)
	})
	want := []byte{1, 0, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(got, want) {
		t.Fatalf("demand-zero page: got %v, wanted %v", got, want)
	}
}

func TestPageFaultAboveWindowKillsProcess(t *testing.T) {
	s, _ := newSystem(t)
	finished := false
	run(t, s, "wild", []string{"wild"}, func(env *kernel.UserEnv) {
		env.Store(mem.UMemEnd+0x1000, []byte{1})
		finished = true
	})
	if finished {
		t.Fatalf("program survived a fault above the user window")
	}
}

func TestUsleepAdvancesClock(t *testing.T) {
	s, _ := newSystem(t)
	start := s.M.Clock.Now()
	run(t, s, "sleepy", []string{"sleepy"}, func(env *kernel.UserEnv) {
		if ret := env.Syscall(kernel.SysUsleep, 2000); ret != 0 {
			t.Errorf("usleep: got %d", ret)
		}
	})
	if elapsed := s.M.Clock.Now() - start; elapsed < 20000 {
		t.Fatalf("clock advanced %d ticks, wanted at least 20000", elapsed)
	}
}

func TestIodup(t *testing.T) {
	s, _ := newSystem(t)
	var viaDup string
	run(t, s, "dup", []string{"dup"}, func(env *kernel.UserEnv) {
		name := ustr(env, scratch, "dup.txt")
		env.Syscall(kernel.SysFsCreate, name)
		fd := env.Syscall(kernel.SysFsOpen, ^uint64(0), name)
		buf := ustr(env, scratch+0x100, "shared")
		env.Syscall(kernel.SysWrite, uint64(fd), buf, 6)

		nfd := env.Syscall(kernel.SysIodup, uint64(fd), ^uint64(0))
		if nfd < 0 || nfd == fd {
			t.Errorf("iodup: got %d", nfd)
			return
		}
		// Both descriptors share one endpoint, so the position carries
		// over; rewind through the duplicate and read through it.
		argAddr := scratch + 0x200
		var arg [8]byte
		env.Store(argAddr, arg[:])
		env.Syscall(kernel.SysIoctl, uint64(nfd), kio.CtlSetPos, argAddr)
		out := scratch + 0x300
		if ret := env.Syscall(kernel.SysRead, uint64(nfd), out, 6); ret != 6 {
			t.Errorf("read via dup: got %d, wanted 6", ret)
		}
		got := make([]byte, 6)
		env.Load(out, got)
		viaDup = string(got)

		env.Syscall(kernel.SysClose, uint64(fd))
		// The endpoint must still work through the remaining reference.
		if ret := env.Syscall(kernel.SysIoctl, uint64(nfd), kio.CtlGetBlkSz, 0); ret != 1 {
			t.Errorf("ioctl after closing one ref: got %d, wanted 1", ret)
		}
	})
	if viaDup != "shared" {
		t.Fatalf("read via duplicate: got %q, wanted %q", viaDup, "shared")
	}
}

func TestDevOpenRTC(t *testing.T) {
	s, _ := newSystem(t)
	var t1, t2 uint64
	run(t, s, "clock", []string{"clock"}, func(env *kernel.UserEnv) {
		name := ustr(env, scratch, "rtc")
		fd := env.Syscall(kernel.SysDevOpen, ^uint64(0), name, 0)
		if fd < 0 {
			t.Errorf("devopen rtc: got %d", fd)
			return
		}
		out := scratch + 0x100
		env.Syscall(kernel.SysRead, uint64(fd), out, 8)
		var b [8]byte
		env.Load(out, b[:])
		t1 = binary.LittleEndian.Uint64(b[:])

		env.Syscall(kernel.SysUsleep, 1000)
		env.Syscall(kernel.SysRead, uint64(fd), out, 8)
		env.Load(out, b[:])
		t2 = binary.LittleEndian.Uint64(b[:])
	})
	if t2 <= t1 {
		t.Fatalf("rtc did not advance across usleep: %d then %d", t1, t2)
	}
}

func TestBadDescriptors(t *testing.T) {
	s, _ := newSystem(t)
	var readRet, closeRet, dupRet int64
	run(t, s, "badfd", []string{"badfd"}, func(env *kernel.UserEnv) {
		readRet = env.Syscall(kernel.SysRead, 12, scratch, 1)
		closeRet = env.Syscall(kernel.SysClose, uint64(kernel.ProcessIOMax))
		dupRet = env.Syscall(kernel.SysIodup, 9, 1)
	})
	for name, got := range map[string]int64{"read": readRet, "close": closeRet, "dup": dupRet} {
		if got != -9 { // EBADFD
			t.Errorf("%s on bad fd: got %d, wanted -9", name, got)
		}
	}
}
