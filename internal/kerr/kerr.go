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

// Package kerr holds the sentinel errors returned across the syscall
// boundary. They are meant to be compared with errors.Is, never type
// asserted, so that a handler can wrap them with extra context as they
// travel up from a driver to the dispatcher.
package kerr

import "errors"

var (
	// ErrBadFD is returned when a process FD is out of range or was never
	// opened by the calling process.
	ErrBadFD = errors.New("bad file descriptor")

	// ErrBadPath is returned when a path resolves to no mount and matches
	// no built-in device driver.
	ErrBadPath = errors.New("path not found")

	// ErrNoMemory is returned when the frame allocator or heap is exhausted.
	ErrNoMemory = errors.New("no memory")

	// ErrBrokenPipe is returned on a write to a pipe whose read end is
	// closed.
	ErrBrokenPipe = errors.New("broken pipe")

	// ErrAddrInUse is returned by bind when the address is already bound.
	ErrAddrInUse = errors.New("address in use")

	// ErrConnectionRefused is returned by connect when no server is bound
	// to the target address.
	ErrConnectionRefused = errors.New("connection refused")

	// ErrInvalidArgument is returned for malformed syscall arguments.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotSupported is returned by operations a driver does not implement,
	// e.g. ReadRaw on a driver with no backing block device.
	ErrNotSupported = errors.New("not supported")

	// ErrProcessNotFound is returned when a PID does not name a live process.
	ErrProcessNotFound = errors.New("no such process")

	// ErrNoSuchListener names the case of unregistering an event listener
	// that was never registered; event.Manager.UnregisterListener reports
	// that case by returning false rather than this error.
	ErrNoSuchListener = errors.New("no such listener")
)
