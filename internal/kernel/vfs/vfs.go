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

// Package vfs implements the virtual filesystem: a mount table mapping
// path prefixes to filesystem drivers, a global open-file table of
// refcounted descriptions, and a set of built-in device drivers registered
// by path prefix and consulted when no mount matches. kernel.Boot registers
// three: pipe, socket and the keyboard input at /dev/stdin; there are no
// stdout, stderr or dbgout devices.
package vfs

import (
	"strings"
	"sync"

	"github.com/nyxproject/nyx/internal/kerr"
	"github.com/nyxproject/nyx/internal/kernel/driver"
	"github.com/nyxproject/nyx/internal/kernel/fd"
)

// Mount binds a path prefix to a filesystem driver.
type Mount struct {
	Prefix string
	FS     driver.Filesystem
}

// openFile is the global open-file-table entry: a driver, the metadata
// Open returned, a running offset, and a reference count shared by every
// process FD that maps to this system FD.
type openFile struct {
	mu       sync.Mutex
	driver   driver.StorageDevice
	meta     *driver.Metadata
	offset   int64
	refCount int
}

// VFS owns the mount table and the open-file table. It does not own
// per-process FD tables (those live on process.Process); Open returns a
// system FD and the syscall layer installs it into the caller's fd.Table,
// keeping the VFS itself independent of the process package and avoiding
// an import cycle.
type VFS struct {
	mu sync.Mutex

	mounts []Mount // append-only, checked longest-prefix-first

	nextSysFD fd.SystemFD
	openFiles map[fd.SystemFD]*openFile

	builtins map[string]driver.StorageDevice // exact-prefix built-in devices, e.g. "pipe:", "/dev/stdin"
}

// New constructs an empty VFS. Built-in device drivers are registered
// with RegisterBuiltin after construction (kernel.Boot wires pipe/input/
// socket once they're constructed, since the VFS itself doesn't know how
// to build them).
func New() *VFS {
	return &VFS{openFiles: make(map[fd.SystemFD]*openFile), builtins: make(map[string]driver.StorageDevice)}
}

// Mount appends a prefix → filesystem driver binding. Mounts are
// append-only; unmounting is out of scope for this kernel.
func (v *VFS) Mount(prefix string, fs driver.Filesystem) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mounts = append(v.mounts, Mount{Prefix: prefix, FS: fs})
}

// RegisterBuiltin registers a device driver consulted for paths with this
// exact prefix when no filesystem mount matches (pipe:, /dev/stdin, ...).
func (v *VFS) RegisterBuiltin(prefix string, dev driver.StorageDevice) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.builtins[prefix] = dev
}

// Mounts returns a snapshot of the mount table in registration order, for
// `nyx trace` to print without reaching into VFS internals.
func (v *VFS) Mounts() []Mount {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Mount, len(v.mounts))
	copy(out, v.mounts)
	return out
}

// resolve finds the longest mount prefix matching path and returns the
// filesystem driver and the path remainder with that prefix stripped.
func (v *VFS) resolve(path string) (driver.Filesystem, string, bool) {
	var best *Mount
	for i := range v.mounts {
		m := &v.mounts[i]
		if strings.HasPrefix(path, m.Prefix) && (best == nil || len(m.Prefix) > len(best.Prefix)) {
			best = m
		}
	}
	if best == nil {
		return nil, "", false
	}
	return best.FS, strings.TrimPrefix(path, best.Prefix), true
}

// builtinFor finds the longest registered builtin prefix matching path.
func (v *VFS) builtinFor(path string) (driver.StorageDevice, bool) {
	var bestPrefix string
	var bestDev driver.StorageDevice
	for prefix, dev := range v.builtins {
		if strings.HasPrefix(path, prefix) && len(prefix) > len(bestPrefix) {
			bestPrefix = prefix
			bestDev = dev
		}
	}
	return bestDev, bestDev != nil
}

// Open resolves path via the mount table, falling back to the built-in
// device drivers, installs the resulting metadata into a fresh open-file
// slot, and returns the new system FD.
func (v *VFS) Open(path string) (fd.SystemFD, error) {
	v.mu.Lock()
	fs, remainder, matched := v.resolve(path)
	var dev driver.StorageDevice
	var openPath string
	if matched {
		dev = fs
		openPath = remainder
	} else {
		builtin, ok := v.builtinFor(path)
		if !ok {
			v.mu.Unlock()
			return 0, kerr.ErrBadPath
		}
		dev = builtin
		openPath = path
	}
	v.mu.Unlock()

	meta, err := dev.Open(openPath)
	if err != nil {
		return 0, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	sysFD := v.nextSysFD
	v.nextSysFD++
	v.openFiles[sysFD] = &openFile{driver: dev, meta: meta, refCount: 1}
	return sysFD, nil
}

// IncRef bumps a system FD's refcount, for fork() inheriting a process FD
// table entry.
func (v *VFS) IncRef(sysFD fd.SystemFD) error {
	v.mu.Lock()
	of, ok := v.openFiles[sysFD]
	v.mu.Unlock()
	if !ok {
		return kerr.ErrBadFD
	}
	of.mu.Lock()
	of.refCount++
	of.mu.Unlock()
	return nil
}

// Close decrements sysFD's refcount, invoking the driver's Close and
// freeing the slot once it reaches zero.
func (v *VFS) Close(sysFD fd.SystemFD) error {
	v.mu.Lock()
	of, ok := v.openFiles[sysFD]
	v.mu.Unlock()
	if !ok {
		return kerr.ErrBadFD
	}

	of.mu.Lock()
	of.refCount--
	drop := of.refCount <= 0
	of.mu.Unlock()
	if !drop {
		return nil
	}

	v.mu.Lock()
	delete(v.openFiles, sysFD)
	v.mu.Unlock()
	return of.driver.Close(of.meta)
}

// Read delegates to the system FD's driver at its running offset,
// advancing the offset on success.
func (v *VFS) Read(sysFD fd.SystemFD, caller fd.PID, count int64, out []byte) driver.Result {
	of, err := v.lookup(sysFD)
	if err != nil {
		return driver.Fail(err)
	}

	of.mu.Lock()
	offset := of.offset
	of.mu.Unlock()

	res := of.driver.Read(of.meta, caller, offset, count, out)
	if res.Err == nil && !res.WouldBlock {
		of.mu.Lock()
		of.offset += res.N
		of.mu.Unlock()
	}
	return res
}

// Write delegates to the system FD's driver at its running offset,
// advancing the offset on success.
func (v *VFS) Write(sysFD fd.SystemFD, caller fd.PID, count int64, in []byte) driver.Result {
	of, err := v.lookup(sysFD)
	if err != nil {
		return driver.Fail(err)
	}

	of.mu.Lock()
	offset := of.offset
	of.mu.Unlock()

	res := of.driver.Write(of.meta, caller, offset, count, in)
	if res.Err == nil && !res.WouldBlock {
		of.mu.Lock()
		of.offset += res.N
		of.mu.Unlock()
	}
	return res
}

// Metadata returns the Metadata record backing sysFD, for callers (like
// the socket syscalls) that need the driver-private payload directly
// rather than going through Read/Write.
func (v *VFS) Metadata(sysFD fd.SystemFD) (*driver.Metadata, driver.StorageDevice, error) {
	of, err := v.lookup(sysFD)
	if err != nil {
		return nil, nil, err
	}
	return of.meta, of.driver, nil
}

// Install registers an already-open driver.Metadata (e.g. one of the two
// ends LayPipe produced directly) into a fresh open-file slot, for
// syscalls like lay_pipe that bypass Open's path resolution.
func (v *VFS) Install(dev driver.StorageDevice, meta *driver.Metadata) fd.SystemFD {
	v.mu.Lock()
	defer v.mu.Unlock()
	sysFD := v.nextSysFD
	v.nextSysFD++
	v.openFiles[sysFD] = &openFile{driver: dev, meta: meta, refCount: 1}
	return sysFD
}

func (v *VFS) lookup(sysFD fd.SystemFD) (*openFile, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	of, ok := v.openFiles[sysFD]
	if !ok {
		return nil, kerr.ErrBadFD
	}
	return of, nil
}
