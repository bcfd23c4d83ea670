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

// Package kerr defines the kernel error taxonomy.
//
// Every fallible kernel API returns one of these errors; the syscall layer
// converts them to negative integers in the first argument register via
// Errno.
package kerr

import "errors"

// Error is a kernel error with a fixed syscall code.
type Error struct {
	code int
	msg  string
}

// Error implements error.Error.
func (e *Error) Error() string { return e.msg }

// Code returns the positive error number.
func (e *Error) Code() int { return e.code }

// New creates a kernel error. The code must be unique; codes are part of the
// user-visible ABI.
func New(code int, msg string) *Error {
	return &Error{code: code, msg: msg}
}

var (
	ErrInvalid      = New(1, "invalid argument")
	ErrBusy         = New(2, "resource busy")
	ErrNotSupported = New(3, "operation not supported")
	ErrNoDevice     = New(4, "no such device")
	ErrIO           = New(5, "I/O error")
	ErrBadFormat    = New(6, "bad format")
	ErrNoEntry      = New(7, "no such file")
	ErrAccess       = New(8, "access violation")
	ErrBadFd        = New(9, "bad file descriptor")
	ErrMaxFiles     = New(10, "too many open files")
	ErrMaxProcs     = New(11, "too many processes")
	ErrMaxThreads   = New(12, "too many threads")
	ErrNoChild      = New(13, "no such child")
	ErrNoMem        = New(14, "out of memory")
	ErrPipe         = New(15, "broken pipe")
	ErrNoDataBlks   = New(16, "out of data blocks")
	ErrNoInodeBlks  = New(17, "out of inodes")
)

// Errno returns the negative syscall code for err, or 0 for nil. Errors
// outside the taxonomy map to -EIO.
func Errno(err error) int64 {
	if err == nil {
		return 0
	}
	var ke *Error
	if errors.As(err, &ke) {
		return -int64(ke.code)
	}
	return -int64(ErrIO.code)
}

// FromErrno returns the taxonomy error for a negative syscall code, or nil
// for nonnegative values.
func FromErrno(v int64) error {
	if v >= 0 {
		return nil
	}
	for _, e := range []*Error{
		ErrInvalid, ErrBusy, ErrNotSupported, ErrNoDevice, ErrIO,
		ErrBadFormat, ErrNoEntry, ErrAccess, ErrBadFd, ErrMaxFiles,
		ErrMaxProcs, ErrMaxThreads, ErrNoChild, ErrNoMem, ErrPipe,
		ErrNoDataBlks, ErrNoInodeBlks,
	} {
		if int64(e.code) == -v {
			return e
		}
	}
	return ErrIO
}
