// Copyright 2024 Google Inc. All Rights Reserved.
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

// Package driver defines the five-operation I/O contract shared by every
// storage-device and filesystem driver in the kernel (pipes, the keyboard
// input stream, sockets, and block-backed filesystems alike), and the
// per-open-file metadata record ("FileMetadata" in the source kernel this
// was modeled on) that ties a driver to a particular open file.
//
// Drivers are modeled as an interface rather than an enum of kinds,
// because Go interfaces dispatch without an extra indirection table and
// the kernel's driver set is open-ended (new device drivers are added
// without touching the VFS).
package driver

import "github.com/nyxproject/nyx/internal/kernel/fd"

// FileType distinguishes how a Metadata record's bytes are addressed.
type FileType int

const (
	FileTypeRegular FileType = iota
	FileTypeDirectory
	FileTypeDevice
)

// Result is the sum type every driver read/write returns, replacing the
// source kernel's ssize convention (n>=0, 0=EOF, -1=hard error, -2=would
// block) with something that can't be misread as a byte count.
type Result struct {
	N          int64
	Err        error
	WouldBlock bool
}

// OK builds a successful result carrying n bytes (or, for open/accept-style
// calls, a new descriptor number).
func OK(n int64) Result { return Result{N: n} }

// EOF is the clean end-of-file result: zero bytes, no error.
func EOF() Result { return Result{N: 0} }

// Block parks the caller; the driver must already have registered the
// caller's PID on the relevant waiter list before returning this.
func Block() Result { return Result{WouldBlock: true} }

// Fail wraps a hard error (the source kernel's -1).
func Fail(err error) Result { return Result{Err: err} }

// Metadata is the per-open-file state a driver's Open returns and every
// subsequent call on that file is keyed by. Data is the driver-private
// opaque payload (the pipe driver's per-open handle, a *socket.Data, ...).
type Metadata struct {
	Type   FileType
	Name   string
	Size   int64
	Driver StorageDevice
	Data   any
	Offset int64
}

// StorageDevice is the raw block/byte-stream driver contract: open
// resolves or creates driver state for a path, the four data operations
// move bytes, and ReadRaw bypasses any filesystem metadata entirely.
//
// Read and Write take the calling process's PID, which the source kernel's
// C++ signature omitted since it never finished the blocking read/write
// path. A driver that parks the caller needs to know who to park, so
// this is an explicit context parameter in place of a hidden
// Scheduler::CurrentProcess global.
type StorageDevice interface {
	Open(path string) (*Metadata, error)
	Close(meta *Metadata) error
	Read(meta *Metadata, caller fd.PID, offset, count int64, out []byte) Result
	Write(meta *Metadata, caller fd.PID, offset, count int64, in []byte) Result
	ReadRaw(offset, count int64, out []byte) Result
}

// Filesystem is the same five operations, plus the three calls that only
// make sense for a driver that owns a directory hierarchy over a block
// device: flushing dirty metadata, naming the backing device, and
// identifying itself for diagnostics.
type Filesystem interface {
	StorageDevice
	Flush(meta *Metadata) error
	Device() StorageDevice
	Name() string
}
