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

package kernel

import (
	"encoding/binary"

	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kerr"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kio"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/kio/pipe"
	"github.com/sarasehgal/Unix-style-OS-Development/pkg/sched"
)

// System call numbers. The number arrives in a7; the result is placed in
// a0.
const (
	SysExit   = 0
	SysExec   = 1
	SysFork   = 2
	SysWait   = 3
	SysPrint  = 4
	SysUsleep = 5

	SysDevOpen  = 10
	SysFsOpen   = 11
	SysFsCreate = 12
	SysFsDelete = 13

	SysClose = 16
	SysRead  = 17
	SysWrite = 18
	SysIoctl = 19
	SysPipe  = 20
	SysIodup = 21
)

// maxPathLen caps user-supplied names.
const maxPathLen = 256

// handleSyscall advances the saved pc past the ecall and places the
// dispatcher's result in a0.
func (k *Kernel) handleSyscall(tfr *TrapFrame) {
	tfr.SEPC += 4
	tfr.A[0] = uint64(k.syscall(tfr))
}

func (k *Kernel) syscall(tfr *TrapFrame) int64 {
	a := tfr.A
	switch a[7] {
	case SysExit:
		k.ProcessExit()
		return 0
	case SysExec:
		return k.sysExec(int(int64(a[0])), int(int64(a[1])), a[2])
	case SysFork:
		return k.sysFork(tfr)
	case SysWait:
		return k.sysWait(int(int64(a[0])))
	case SysPrint:
		return k.sysPrint(a[0])
	case SysUsleep:
		sched.SleepUs(a[0])
		return 0
	case SysDevOpen:
		return k.sysDevOpen(int(int64(a[0])), a[1], int(int64(a[2])))
	case SysFsOpen:
		return k.sysFsOpen(int(int64(a[0])), a[1])
	case SysFsCreate:
		return k.sysFsCreate(a[0])
	case SysFsDelete:
		return k.sysFsDelete(a[0])
	case SysClose:
		return k.sysClose(int(int64(a[0])))
	case SysRead:
		return k.sysRead(int(int64(a[0])), a[1], int64(a[2]))
	case SysWrite:
		return k.sysWrite(int(int64(a[0])), a[1], int64(a[2]))
	case SysIoctl:
		return k.sysIoctl(int(int64(a[0])), int(int64(a[1])), a[2])
	case SysPipe:
		return k.sysPipe(a[0], a[1])
	case SysIodup:
		return k.sysIodup(int(int64(a[0])), int(int64(a[1])))
	default:
		return kerr.Errno(kerr.ErrNotSupported)
	}
}

// fdEndpoint range-checks fd against the descriptor table.
func (k *Kernel) fdEndpoint(fd int) (*kio.IO, *Process, error) {
	p := k.CurrentProcess()
	if p == nil {
		return nil, nil, kerr.ErrBadFd
	}
	if fd < 0 || fd >= ProcessIOMax || p.iotab[fd] == nil {
		return nil, p, kerr.ErrBadFd
	}
	return p.iotab[fd], p, nil
}

// pickFd resolves a requested descriptor slot: negative means the lowest
// free slot; an occupied explicit slot is an error.
func (p *Process) pickFd(fd int) (int, error) {
	if fd < 0 {
		if fd = p.nextFreeFd(); fd < 0 {
			return 0, kerr.ErrBadFd
		}
		return fd, nil
	}
	if fd >= ProcessIOMax || p.iotab[fd] != nil {
		return 0, kerr.ErrBadFd
	}
	return fd, nil
}

func (k *Kernel) sysExec(fd, argc int, argvPtr uint64) int64 {
	io, _, err := k.fdEndpoint(fd)
	if err != nil {
		return kerr.Errno(err)
	}
	if argc < 0 {
		return kerr.Errno(kerr.ErrInvalid)
	}

	// The argument strings live in the space being replaced; copy them
	// out before the discard.
	argv := make([]string, 0, argc)
	for i := 0; i < argc; i++ {
		ptr, err := k.MM.ReadUserPtr(argvPtr + uint64(8*i))
		if err != nil {
			return kerr.Errno(kerr.ErrInvalid)
		}
		s, err := k.MM.ReadUserString(ptr, maxPathLen)
		if err != nil {
			return kerr.Errno(kerr.ErrInvalid)
		}
		argv = append(argv, s)
	}
	if err := k.ProcessExec(io, argv); err != nil {
		return kerr.Errno(err)
	}
	panic("kernel: exec returned without error")
}

func (k *Kernel) sysFork(tfr *TrapFrame) int64 {
	tid, err := k.ProcessFork(tfr)
	if err != nil {
		return kerr.Errno(err)
	}
	return int64(tid)
}

func (k *Kernel) sysWait(tid int) int64 {
	if tid < 0 {
		return kerr.Errno(kerr.ErrInvalid)
	}
	joined, err := sched.Join(tid)
	if err != nil {
		return kerr.Errno(err)
	}
	return int64(joined)
}

func (k *Kernel) sysPrint(msgPtr uint64) int64 {
	msg, err := k.MM.ReadUserString(msgPtr, 1024)
	if err != nil {
		return kerr.Errno(kerr.ErrInvalid)
	}
	t := sched.Current()
	k.Console.Printf("Thread <%s:%d> says: %s\n", t.Name(), t.ID(), msg)
	return 0
}

func (k *Kernel) sysDevOpen(fd int, namePtr uint64, instno int) int64 {
	p := k.CurrentProcess()
	if p == nil {
		return kerr.Errno(kerr.ErrBadFd)
	}
	name, err := k.MM.ReadUserString(namePtr, maxPathLen)
	if err != nil {
		return kerr.Errno(kerr.ErrInvalid)
	}
	slot, err := p.pickFd(fd)
	if err != nil {
		return kerr.Errno(err)
	}
	io, err := k.Devices.Open(name, instno)
	if err != nil {
		return kerr.Errno(err)
	}
	p.iotab[slot] = io
	return int64(slot)
}

func (k *Kernel) sysFsOpen(fd int, namePtr uint64) int64 {
	p := k.CurrentProcess()
	if p == nil || k.FS == nil {
		return kerr.Errno(kerr.ErrBadFd)
	}
	name, err := k.MM.ReadUserString(namePtr, maxPathLen)
	if err != nil {
		return kerr.Errno(kerr.ErrInvalid)
	}
	slot, err := p.pickFd(fd)
	if err != nil {
		return kerr.Errno(err)
	}
	io, err := k.FS.Open(name)
	if err != nil {
		return kerr.Errno(err)
	}
	p.iotab[slot] = io
	return int64(slot)
}

func (k *Kernel) sysFsCreate(namePtr uint64) int64 {
	if k.FS == nil {
		return kerr.Errno(kerr.ErrNoDevice)
	}
	name, err := k.MM.ReadUserString(namePtr, maxPathLen)
	if err != nil {
		return kerr.Errno(kerr.ErrInvalid)
	}
	return kerr.Errno(k.FS.Create(name))
}

func (k *Kernel) sysFsDelete(namePtr uint64) int64 {
	if k.FS == nil {
		return kerr.Errno(kerr.ErrNoDevice)
	}
	name, err := k.MM.ReadUserString(namePtr, maxPathLen)
	if err != nil {
		return kerr.Errno(kerr.ErrInvalid)
	}
	return kerr.Errno(k.FS.Delete(name))
}

func (k *Kernel) sysClose(fd int) int64 {
	io, p, err := k.fdEndpoint(fd)
	if err != nil {
		return kerr.Errno(err)
	}
	io.Close()
	p.iotab[fd] = nil
	return 0
}

func (k *Kernel) sysRead(fd int, bufPtr uint64, n int64) int64 {
	io, _, err := k.fdEndpoint(fd)
	if err != nil {
		return kerr.Errno(err)
	}
	if bufPtr == 0 || n < 0 {
		return kerr.Errno(kerr.ErrInvalid)
	}
	buf := make([]byte, n)
	rcnt, rerr := io.Read(buf)
	if rerr != nil {
		return kerr.Errno(rerr)
	}
	if err := k.copyToUser(bufPtr, buf[:rcnt]); err != nil {
		return kerr.Errno(err)
	}
	return rcnt
}

func (k *Kernel) sysWrite(fd int, bufPtr uint64, n int64) int64 {
	io, _, err := k.fdEndpoint(fd)
	if err != nil {
		return kerr.Errno(err)
	}
	if bufPtr == 0 || n < 0 {
		return kerr.Errno(kerr.ErrInvalid)
	}
	buf := make([]byte, n)
	if err := k.MM.ReadUser(bufPtr, buf); err != nil {
		return kerr.Errno(kerr.ErrInvalid)
	}
	wcnt, werr := kio.WriteFull(io, buf)
	if werr != nil {
		return kerr.Errno(werr)
	}
	return wcnt
}

func (k *Kernel) sysIoctl(fd, cmd int, argPtr uint64) int64 {
	io, _, err := k.fdEndpoint(fd)
	if err != nil {
		return kerr.Errno(err)
	}
	if argPtr == 0 {
		res, cerr := io.Cntl(cmd, nil)
		if cerr != nil {
			return kerr.Errno(cerr)
		}
		return res
	}
	var b [8]byte
	if err := k.MM.ReadUser(argPtr, b[:]); err != nil {
		return kerr.Errno(kerr.ErrInvalid)
	}
	arg := binary.LittleEndian.Uint64(b[:])
	res, cerr := io.Cntl(cmd, &arg)
	if cerr != nil {
		return kerr.Errno(cerr)
	}
	binary.LittleEndian.PutUint64(b[:], arg)
	if err := k.copyToUser(argPtr, b[:]); err != nil {
		return kerr.Errno(err)
	}
	return res
}

func (k *Kernel) sysPipe(wfdPtr, rfdPtr uint64) int64 {
	p := k.CurrentProcess()
	if p == nil {
		return kerr.Errno(kerr.ErrBadFd)
	}
	if wfdPtr == 0 || rfdPtr == 0 {
		return kerr.Errno(kerr.ErrInvalid)
	}
	wreq, err1 := k.readUserInt32(wfdPtr)
	rreq, err2 := k.readUserInt32(rfdPtr)
	if err1 != nil || err2 != nil {
		return kerr.Errno(kerr.ErrInvalid)
	}

	wio, rio, err := pipe.New(k.MM)
	if err != nil {
		return kerr.Errno(err)
	}

	wfd, rfd := int(wreq), int(rreq)
	if wfd < 0 || rfd < 0 {
		for i := 0; i < ProcessIOMax; i++ {
			if p.iotab[i] != nil {
				continue
			}
			if wfd < 0 {
				wfd = i
			} else if rfd < 0 && i != wfd {
				rfd = i
			}
		}
	}
	if wfd < 0 || rfd < 0 || wfd == rfd || wfd >= ProcessIOMax || rfd >= ProcessIOMax ||
		p.iotab[wfd] != nil || p.iotab[rfd] != nil {
		wio.Close()
		rio.Close()
		return kerr.Errno(kerr.ErrBadFd)
	}

	p.iotab[wfd] = wio
	p.iotab[rfd] = rio
	if err := k.writeUserInt32(wfdPtr, int32(wfd)); err != nil {
		return kerr.Errno(err)
	}
	if err := k.writeUserInt32(rfdPtr, int32(rfd)); err != nil {
		return kerr.Errno(err)
	}
	return 0
}

func (k *Kernel) sysIodup(oldfd, newfd int) int64 {
	io, p, err := k.fdEndpoint(oldfd)
	if err != nil {
		return kerr.Errno(err)
	}
	if newfd < 0 {
		if newfd = p.nextFreeFd(); newfd < 0 {
			return kerr.Errno(kerr.ErrBadFd)
		}
	}
	if newfd >= ProcessIOMax {
		return kerr.Errno(kerr.ErrBadFd)
	}
	if p.iotab[newfd] != nil {
		p.iotab[newfd].Close()
	}
	p.iotab[newfd] = io.AddRef()
	return int64(newfd)
}

// copyToUser writes kernel bytes to a user buffer, demand-mapping pages
// the way a user-mode store would.
func (k *Kernel) copyToUser(vma uint64, buf []byte) error {
	for len(buf) > 0 {
		n := chunkWithinPage(vma, len(buf))
		if err := k.MM.WriteUser(vma, buf[:n]); err != nil {
			if !k.MM.HandleUserPageFault(vma) {
				return kerr.ErrInvalid
			}
			continue
		}
		vma += uint64(n)
		buf = buf[n:]
	}
	return nil
}

func (k *Kernel) readUserInt32(vma uint64) (int32, error) {
	var b [4]byte
	if err := k.MM.ReadUser(vma, b[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b[:])), nil
}

func (k *Kernel) writeUserInt32(vma uint64, v int32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return k.copyToUser(vma, b[:])
}
