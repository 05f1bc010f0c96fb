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

// Package process holds the process record and a single-CPU cooperative
// scheduler. A Process is never touched from more than one goroutine at a
// time except for the fields an interrupt-analogue (the scheduler's Tick)
// must reach, which are guarded explicitly.
package process

import (
	"sync"

	"github.com/nyxproject/nyx/internal/kernel/elf"
	"github.com/nyxproject/nyx/internal/kernel/event"
	"github.com/nyxproject/nyx/internal/kernel/fd"
)

// State is one of the five states a process can be in.
type State int

const (
	StateRunning State = iota
	StateReady
	StateBlocked
	StateSleeping
	StateDead
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "Running"
	case StateReady:
		return "Ready"
	case StateBlocked:
		return "Blocked"
	case StateSleeping:
		return "Sleeping"
	case StateDead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// BlockKind names why a process is parked, mirroring the source kernel's
// reason enum.
type BlockKind int

const (
	NotBlocked BlockKind = iota
	WaitingForRead
	WaitingForWrite
	WaitingForAccept
	Sleeping
	WaitingForChild
)

// String names the resource kind a waiter is parked on, for the
// blocked-waiters metric's label.
func (k BlockKind) String() string {
	switch k {
	case WaitingForRead:
		return "read"
	case WaitingForWrite:
		return "write"
	case WaitingForAccept:
		return "accept"
	case Sleeping:
		return "sleep"
	case WaitingForChild:
		return "child"
	default:
		return "none"
	}
}

// BlockReason records enough detail to make Unblock and "retry the syscall"
// meaningful: which FD (for I/O waits), which tick (for sleeps), which
// child (for waitpid).
type BlockReason struct {
	Kind     BlockKind
	FD       fd.ProcFD
	WakeTick uint64
	Child    fd.PID
}

// Process is the per-PID record: identity, FD table, event queues, and
// scheduling state. A Blocked process always has exactly one BlockReason
// describing the resource it's parked on.
type Process struct {
	mu sync.Mutex

	pid    fd.PID
	parent fd.PID

	state  State
	reason BlockReason

	// pendingResult is the value Unblock stashed for a blocked syscall to
	// return when the dispatcher re-enters it on wake.
	pendingResult int64

	fdTable *fd.Table
	queues  []*event.Queue

	children []fd.PID

	entry    uint64
	segments []elf.ProgramHeader
}

func newProcess(pid, parent fd.PID) *Process {
	return &Process{
		pid:     pid,
		parent:  parent,
		state:   StateReady,
		fdTable: fd.NewTable(),
	}
}

func (p *Process) PID() fd.PID { return p.pid }

func (p *Process) Parent() fd.PID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parent
}

func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Process) BlockReason() BlockReason {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason
}

func (p *Process) FDTable() *fd.Table { return p.fdTable }

// EventQueues implements event.QueueHolder.
func (p *Process) EventQueues() []*event.Queue {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*event.Queue(nil), p.queues...)
}

// LookupSystemFD implements event.QueueHolder.
func (p *Process) LookupSystemFD(procFD fd.ProcFD) (fd.SystemFD, bool) {
	sysFD, err := p.fdTable.Lookup(procFD)
	if err != nil {
		return 0, false
	}
	return sysFD, true
}

// NewEventQueue allocates and attaches a new event queue to this process.
func (p *Process) NewEventQueue(id uint64) *event.Queue {
	q := event.NewQueue(id, p.pid)
	p.mu.Lock()
	p.queues = append(p.queues, q)
	p.mu.Unlock()
	return q
}

// Children returns the live PIDs this process forked.
func (p *Process) Children() []fd.PID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]fd.PID(nil), p.children...)
}

func (p *Process) addChild(child fd.PID) {
	p.mu.Lock()
	p.children = append(p.children, child)
	p.mu.Unlock()
}

// SetSegments records the entry point and loadable segment list exec
// parsed from a binary's image. It does not map any memory; the
// allocator and MMU-mapping step are outside this kernel's scope, so this
// is bookkeeping only.
func (p *Process) SetSegments(entry uint64, segments []elf.ProgramHeader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entry = entry
	p.segments = append([]elf.ProgramHeader(nil), segments...)
}

// Segments returns the entry point and segment list last recorded by
// SetSegments, or the zero value if exec has never run on this process.
func (p *Process) Segments() (uint64, []elf.ProgramHeader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entry, append([]elf.ProgramHeader(nil), p.segments...)
}
