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

// Package pipe implements the named-FIFO storage-device driver: one
// reader, one writer, blocking reads and blocking writes rather than
// silent truncation.
package pipe

import (
	"sync"

	"github.com/google/uuid"

	"github.com/nyxproject/nyx/internal/kerr"
	"github.com/nyxproject/nyx/internal/kernel/driver"
	"github.com/nyxproject/nyx/internal/kernel/event"
	"github.com/nyxproject/nyx/internal/kernel/fd"
)

// DefaultCapacity matches the source kernel's PIPE_BUFSZ.
const DefaultCapacity = 512

// Role is which end of the pipe a Metadata's handle stands for. A handle
// returned from LayPipe is pinned to a role immediately; a handle from
// Open (a named pipe) starts RoleUnset and pins to whichever of Read/Write
// is invoked on it first; see the package doc on Driver.Open for why.
type Role int

const (
	RoleUnset Role = iota
	RoleRead
	RoleWrite
)

// Buffer is the shared FIFO storage for one pipe, named or anonymous.
type Buffer struct {
	mu          sync.Mutex
	data        []byte
	offset      int
	readClosed  bool
	writeClosed bool
	readers     driver.WaiterList
	writers     driver.WaiterList
}

func newBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

func (b *Buffer) capacity() int { return len(b.data) }

type handle struct {
	mu   sync.Mutex
	buf  *Buffer
	role Role
}

func (h *handle) pin(role Role) Role {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.role == RoleUnset {
		h.role = role
	}
	return h.role
}

type namedEntry struct {
	name string
	buf  *Buffer
}

// Driver is the pipe storage-device driver: a table of named buffers plus
// a free list of reclaimed ones, generalized to block instead of
// truncate.
type Driver struct {
	mu       sync.Mutex
	named    []namedEntry
	free     []*Buffer
	capacity int

	waker  driver.Waker
	events *event.Manager
}

// New constructs a pipe driver. waker and events are how blocked readers
// and writers get unparked and notified; they are normally the kernel's
// Scheduler and event Manager (see kernel.Boot).
func New(waker driver.Waker, events *event.Manager) *Driver {
	return &Driver{capacity: DefaultCapacity, waker: waker, events: events}
}

// Open returns the metadata for the named pipe, creating its buffer if
// this is the first open of that name. Every call to Open mints a fresh
// *driver.Metadata wrapping a fresh *handle over the shared *Buffer, so
// that two processes opening the same name each get independently
// closeable ends, rather than sharing one handle that can't distinguish
// "the reader side closed" from "the writer side closed" for the same
// name.
func (d *Driver) Open(path string) (*driver.Metadata, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var buf *Buffer
	for _, e := range d.named {
		if e.name == path {
			buf = e.buf
			break
		}
	}
	if buf == nil {
		buf = d.allocate()
		d.named = append(d.named, namedEntry{name: path, buf: buf})
	}

	return &driver.Metadata{
		Type:   driver.FileTypeDevice,
		Name:   path,
		Size:   int64(buf.capacity()),
		Driver: d,
		Data:   &handle{buf: buf},
	}, nil
}

// LayPipe mints an anonymous pipe and returns its read end and write end
// as two distinct metadata records over the same buffer, each pinned to
// its role up front.
func (d *Driver) LayPipe() (readEnd, writeEnd *driver.Metadata) {
	d.mu.Lock()
	buf := d.allocate()
	name := "p:" + uuid.NewString()
	d.mu.Unlock()

	readEnd = &driver.Metadata{Type: driver.FileTypeDevice, Name: name, Size: int64(buf.capacity()), Driver: d, Data: &handle{buf: buf, role: RoleRead}}
	writeEnd = &driver.Metadata{Type: driver.FileTypeDevice, Name: name, Size: int64(buf.capacity()), Driver: d, Data: &handle{buf: buf, role: RoleWrite}}
	return readEnd, writeEnd
}

// allocate pops a buffer off the free list or creates a new one. Must be
// called with d.mu held.
func (d *Driver) allocate() *Buffer {
	if len(d.free) == 0 {
		return newBuffer(d.capacity)
	}
	buf := d.free[len(d.free)-1]
	d.free = d.free[:len(d.free)-1]
	return buf
}

// Close marks the handle's pinned end closed and, once both ends are
// closed, zeroes the buffer and returns it to the free list.
func (d *Driver) Close(meta *driver.Metadata) error {
	h, ok := meta.Data.(*handle)
	if !ok || h == nil {
		return kerr.ErrBadFD
	}

	h.mu.Lock()
	role := h.role
	h.mu.Unlock()

	buf := h.buf
	buf.mu.Lock()
	switch role {
	case RoleRead:
		buf.readClosed = true
	case RoleWrite:
		buf.writeClosed = true
	default:
		// Never read from or written to: safe to close both ends.
		buf.readClosed = true
		buf.writeClosed = true
	}
	bothClosed := buf.readClosed && buf.writeClosed
	var wake []fd.PID
	if role == RoleWrite || role == RoleUnset {
		wake = buf.readers.DrainAll()
	}
	if role == RoleRead || role == RoleUnset {
		wake = append(wake, buf.writers.DrainAll()...)
	}
	buf.mu.Unlock()

	d.wakeAndNotifyClose(wake, buf)

	if bothClosed {
		d.reclaim(buf)
	}
	return nil
}

func (d *Driver) wakeAndNotifyClose(pids []fd.PID, buf *Buffer) {
	for _, pid := range pids {
		if d.waker != nil {
			// EOF/BrokenPipe are both represented as retval 0; the caller's
			// re-entered Read/Write recomputes the actual result from the
			// buffer's now-closed flags.
			_ = d.waker.Unblock(pid, 0)
		}
	}
}

func (d *Driver) reclaim(buf *Buffer) {
	buf.mu.Lock()
	for i := range buf.data {
		buf.data[i] = 0
	}
	buf.offset = 0
	buf.readClosed = false
	buf.writeClosed = false
	buf.readers.Clear()
	buf.writers.Clear()
	buf.mu.Unlock()

	d.mu.Lock()
	for i, e := range d.named {
		if e.buf == buf {
			d.named = append(d.named[:i], d.named[i+1:]...)
			break
		}
	}
	d.free = append(d.free, buf)
	d.mu.Unlock()
}

// Read implements the read protocol: drain what's buffered, block if
// empty and still open, EOF once the write side has closed.
func (d *Driver) Read(meta *driver.Metadata, caller fd.PID, _, count int64, out []byte) driver.Result {
	h, ok := meta.Data.(*handle)
	if !ok || h == nil {
		return driver.Fail(kerr.ErrBadFD)
	}
	h.pin(RoleRead)
	buf := h.buf

	buf.mu.Lock()
	if buf.offset == 0 {
		if buf.writeClosed {
			buf.mu.Unlock()
			return driver.EOF()
		}
		buf.readers.Add(caller)
		buf.mu.Unlock()
		return driver.Block()
	}

	n := int(count)
	if n > buf.offset {
		n = buf.offset
	}
	copy(out, buf.data[:n])
	copy(buf.data, buf.data[n:buf.offset])
	buf.offset -= n
	woken := buf.writers.DrainAll()
	buf.mu.Unlock()

	for _, pid := range woken {
		if d.waker != nil {
			_ = d.waker.Unblock(pid, 0)
		}
	}
	if d.events != nil {
		d.events.Notify(event.Event{Kind: event.ReadyToWrite, Data: event.ReadWriteData{BytesAvailable: int64(buf.capacity() - buf.offset)}})
	}

	return driver.OK(int64(n))
}

// Write implements the write protocol: block until space is available
// rather than truncating.
func (d *Driver) Write(meta *driver.Metadata, caller fd.PID, _, count int64, in []byte) driver.Result {
	h, ok := meta.Data.(*handle)
	if !ok || h == nil {
		return driver.Fail(kerr.ErrBadFD)
	}
	h.pin(RoleWrite)
	buf := h.buf

	buf.mu.Lock()
	if buf.readClosed {
		buf.mu.Unlock()
		return driver.Fail(kerr.ErrBrokenPipe)
	}

	n := int(count)
	if buf.offset+n > buf.capacity() {
		buf.writers.Add(caller)
		buf.mu.Unlock()
		return driver.Block()
	}

	copy(buf.data[buf.offset:], in[:n])
	buf.offset += n
	woken := buf.readers.DrainAll()
	buf.mu.Unlock()

	for _, pid := range woken {
		if d.waker != nil {
			_ = d.waker.Unblock(pid, 0)
		}
	}
	if d.events != nil {
		d.events.Notify(event.Event{Kind: event.ReadyToRead, Data: event.ReadWriteData{BytesAvailable: int64(n)}})
	}

	return driver.OK(int64(n))
}

// ReadRaw: a pipe has no backing block device.
func (d *Driver) ReadRaw(int64, int64, []byte) driver.Result {
	return driver.Fail(kerr.ErrNotSupported)
}
