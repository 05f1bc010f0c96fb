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

// Package input implements the keyboard-input storage-device driver: a
// single shared ring fed by the interrupt handler's Push and drained by
// /dev/stdin readers. Unlike pipe, it is asymmetric: there is exactly one
// producer (the ISR) and it must never block, so a full ring silently
// drops the oldest scancode rather than parking anybody.
package input

import (
	"sync"

	"github.com/nyxproject/nyx/internal/kerr"
	"github.com/nyxproject/nyx/internal/kernel/driver"
	"github.com/nyxproject/nyx/internal/kernel/event"
	"github.com/nyxproject/nyx/internal/kernel/fd"
)

// DefaultCapacity matches the source kernel's keyboard ring buffer size.
const DefaultCapacity = 256

// Driver is the single shared keyboard stream. Unlike pipe there is only
// ever one instance: every Open returns metadata over the same ring, so
// Driver itself holds the ring rather than a table of named buffers.
type Driver struct {
	mu   sync.Mutex
	data []byte
	size int // number of unread bytes, always starting at index 0

	readers driver.WaiterList

	waker  driver.Waker
	events *event.Manager
}

// New constructs the keyboard driver. waker wakes blocked readers; events,
// if non-nil, is notified on every Push.
func New(waker driver.Waker, events *event.Manager) *Driver {
	return &Driver{data: make([]byte, DefaultCapacity), waker: waker, events: events}
}

// Open always returns metadata over the single shared ring; path is
// ignored beyond being recorded for diagnostics, matching /dev/stdin
// always resolving to the one keyboard stream.
func (d *Driver) Open(path string) (*driver.Metadata, error) {
	return &driver.Metadata{Type: driver.FileTypeDevice, Name: path, Driver: d}, nil
}

// Close is a no-op: the keyboard stream is never torn down while the
// kernel is up.
func (d *Driver) Close(*driver.Metadata) error { return nil }

// Push is called by the keyboard interrupt handler to deliver one
// scancode byte. It never blocks: if the ring is full, the oldest queued
// byte is dropped to make room, so input is lossy under sustained overrun
// rather than back-pressured into the ISR.
func (d *Driver) Push(b byte) {
	d.mu.Lock()
	if d.size == len(d.data) {
		copy(d.data, d.data[1:])
		d.size--
	}
	d.data[d.size] = b
	d.size++
	woken := d.readers.DrainAll()
	d.mu.Unlock()

	for _, pid := range woken {
		if d.waker != nil {
			_ = d.waker.Unblock(pid, 0)
		}
	}
	if d.events != nil {
		d.events.Notify(event.Event{Kind: event.ReadyToRead, Data: event.ReadWriteData{BytesAvailable: 1}})
	}
}

// Read drains up to count queued bytes, blocking the caller if none are
// available yet.
func (d *Driver) Read(meta *driver.Metadata, caller fd.PID, _, count int64, out []byte) driver.Result {
	d.mu.Lock()
	if d.size == 0 {
		d.readers.Add(caller)
		d.mu.Unlock()
		return driver.Block()
	}

	n := int(count)
	if n > d.size {
		n = d.size
	}
	copy(out, d.data[:n])
	copy(d.data, d.data[n:d.size])
	d.size -= n
	d.mu.Unlock()

	return driver.OK(int64(n))
}

// Write is not supported on the keyboard stream: it has exactly one
// producer, the ISR calling Push, not process-level writers.
func (d *Driver) Write(*driver.Metadata, fd.PID, int64, int64, []byte) driver.Result {
	return driver.Fail(kerr.ErrNotSupported)
}

// ReadRaw: the keyboard stream has no backing block device.
func (d *Driver) ReadRaw(int64, int64, []byte) driver.Result {
	return driver.Fail(kerr.ErrNotSupported)
}
