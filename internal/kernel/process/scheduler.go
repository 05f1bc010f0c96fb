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

package process

import (
	"context"
	"sort"
	"sync"

	"github.com/nyxproject/nyx/internal/kerr"
	"github.com/nyxproject/nyx/internal/kernel/event"
	"github.com/nyxproject/nyx/internal/kernel/fd"
	"github.com/nyxproject/nyx/internal/kernel/metrics"
)

// Scheduler owns the process table and a circular run queue. It is
// single-CPU: exactly one PID is "current" at a time, matching the source
// kernel's Scheduler::CurrentProcess global, but held as an explicit field
// rather than a package-level singleton so that callers pass it around
// instead of reaching for a hidden global.
type Scheduler struct {
	mu sync.Mutex

	table   map[fd.PID]*Process
	runQ    []fd.PID
	current int // index into runQ, -1 if empty
	nextPID fd.PID
	tick    uint64

	metrics *metrics.Kernel
}

// NewScheduler returns an empty scheduler. PID 0 is never assigned so that
// the zero value of fd.PID can mean "no process".
func NewScheduler() *Scheduler {
	return &Scheduler{table: make(map[fd.PID]*Process), current: -1, nextPID: 1}
}

// SetMetrics attaches the metrics handle Block, Sleep and Unblock record
// blocked-waiter transitions through. Until called, blocking still works,
// it just isn't instrumented.
func (s *Scheduler) SetMetrics(m *metrics.Kernel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// NewProcess creates a fresh Ready process, parented to parent (0 for none),
// and enqueues it on the run queue.
func (s *Scheduler) NewProcess(parent fd.PID) *Process {
	s.mu.Lock()
	defer s.mu.Unlock()

	pid := s.nextPID
	s.nextPID++
	p := newProcess(pid, parent)
	s.table[pid] = p
	s.runQ = append(s.runQ, pid)
	if s.current == -1 {
		s.current = 0
	}
	if parent != 0 {
		if parentProc, ok := s.table[parent]; ok {
			parentProc.addChild(pid)
		}
	}
	return p
}

// Lookup implements event.ProcessLookup.
func (s *Scheduler) Lookup(pid fd.PID) (event.QueueHolder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.table[pid]
	if !ok {
		return nil, false
	}
	return p, true
}

// Process returns the live *Process for pid, or ErrProcessNotFound.
func (s *Scheduler) Process(pid fd.PID) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.table[pid]
	if !ok {
		return nil, kerr.ErrProcessNotFound
	}
	return p, nil
}

// CurrentPID returns the PID the scheduler considers "running" right now.
func (s *Scheduler) CurrentPID() (fd.PID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current < 0 || s.current >= len(s.runQ) {
		return 0, false
	}
	return s.runQ[s.current], true
}

// Block transitions pid from Running/Ready to Blocked and records reason.
// It is idempotent: blocking an already-Blocked process just updates the
// reason, since a re-entered syscall may recompute the same wait.
func (s *Scheduler) Block(pid fd.PID, reason BlockReason) error {
	s.mu.Lock()
	p, ok := s.table[pid]
	met := s.metrics
	s.mu.Unlock()
	if !ok {
		return kerr.ErrProcessNotFound
	}

	p.mu.Lock()
	p.state = StateBlocked
	p.reason = reason
	p.mu.Unlock()

	s.dequeue(pid)
	if met != nil {
		met.WaiterParked(context.Background(), reason.Kind.String())
	}
	return nil
}

// Unblock transitions pid from Blocked (or Sleeping) to Ready, stashing
// retval for the syscall dispatcher to return when it re-enters the call.
// Implements the Waker interface the drivers accept.
func (s *Scheduler) Unblock(pid fd.PID, retval int64) error {
	s.mu.Lock()
	p, ok := s.table[pid]
	met := s.metrics
	s.mu.Unlock()
	if !ok {
		return kerr.ErrProcessNotFound
	}

	p.mu.Lock()
	if p.state == StateDead {
		p.mu.Unlock()
		return nil
	}
	wasBlocked := p.reason.Kind
	p.state = StateReady
	p.reason = BlockReason{}
	p.pendingResult = retval
	p.mu.Unlock()

	s.enqueueIfAbsent(pid)
	if met != nil && wasBlocked != NotBlocked {
		met.WaiterWoken(context.Background(), wasBlocked.String())
	}
	return nil
}

// TakePendingResult returns and clears the value a prior Unblock stashed
// for pid, for the dispatcher to hand back from the re-entered syscall.
func (s *Scheduler) TakePendingResult(pid fd.PID) (int64, error) {
	s.mu.Lock()
	p, ok := s.table[pid]
	s.mu.Unlock()
	if !ok {
		return 0, kerr.ErrProcessNotFound
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	v := p.pendingResult
	p.pendingResult = 0
	return v, nil
}

// Sleep blocks the current notion of pid until wakeTick (the PIT tick
// counter reaches wakeTick).
func (s *Scheduler) Sleep(pid fd.PID, wakeTick uint64) error {
	s.mu.Lock()
	p, ok := s.table[pid]
	met := s.metrics
	s.mu.Unlock()
	if !ok {
		return kerr.ErrProcessNotFound
	}

	p.mu.Lock()
	p.state = StateSleeping
	p.reason = BlockReason{Kind: Sleeping, WakeTick: wakeTick}
	p.mu.Unlock()

	s.dequeue(pid)
	if met != nil {
		met.WaiterParked(context.Background(), Sleeping.String())
	}
	return nil
}

// Tick advances the PIT-analogue tick counter by one, waking any sleeping
// process whose wake tick has arrived, and returns the new tick count.
// This is the only entry point that acts across every process in the
// table at once; everything else targets a single PID.
func (s *Scheduler) Tick() uint64 {
	s.mu.Lock()
	s.tick++
	tick := s.tick
	var toWake []fd.PID
	for pid, p := range s.table {
		p.mu.Lock()
		if p.state == StateSleeping && tick >= p.reason.WakeTick {
			toWake = append(toWake, pid)
		}
		p.mu.Unlock()
	}
	s.mu.Unlock()

	for _, pid := range toWake {
		_ = s.Unblock(pid, 0)
	}
	return tick
}

// CurrentTick reports the tick counter without advancing it.
func (s *Scheduler) CurrentTick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// RunQueueDepth reports how many PIDs are currently Ready or Running,
// for the scheduler/run_queue_depth gauge.
func (s *Scheduler) RunQueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runQ)
}

// ProcessInfo is a point-in-time snapshot of one table entry, for
// diagnostics (nyx trace) rather than scheduling decisions.
type ProcessInfo struct {
	PID    fd.PID
	Parent fd.PID
	State  State
}

// Snapshot lists every live process in PID order, for `nyx trace` to
// print a process table without reaching into scheduler internals.
func (s *Scheduler) Snapshot() []ProcessInfo {
	s.mu.Lock()
	pids := make([]fd.PID, 0, len(s.table))
	procs := make([]*Process, 0, len(s.table))
	for pid, p := range s.table {
		pids = append(pids, pid)
		procs = append(procs, p)
	}
	s.mu.Unlock()

	out := make([]ProcessInfo, len(pids))
	for i, p := range procs {
		out[i] = ProcessInfo{PID: pids[i], Parent: p.Parent(), State: p.State()}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// Yield rotates the run queue, moving the current process to the back.
// This is the cooperative-preemption point a timer interrupt would also
// drive in the real kernel.
func (s *Scheduler) Yield() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runQ) <= 1 {
		return
	}
	s.current = (s.current + 1) % len(s.runQ)
}

// Fork creates a child of parent, cloning its FD table (refcounts on the
// shared system FDs are the VFS's responsibility to bump, since Scheduler
// only owns process identity) and giving it a fresh, empty event-queue
// list; queue registrations are not inherited, so the child re-subscribes
// explicitly if it wants notifications. The new process is enqueued
// Ready.
func (s *Scheduler) Fork(parent fd.PID) (*Process, error) {
	s.mu.Lock()
	parentProc, ok := s.table[parent]
	s.mu.Unlock()
	if !ok {
		return nil, kerr.ErrProcessNotFound
	}

	child := s.NewProcess(parent)
	child.fdTable = parentProc.fdTable.Clone()
	return child, nil
}

// Exit marks pid Dead, dequeues it, and wakes any process blocked
// WaitingForChild on it. It does not reap the PID; RemoveProcess does
// that once a parent (or cleanup path) has observed the exit, so a Dead
// process is always reaped before its PID is reused.
func (s *Scheduler) Exit(pid fd.PID) error {
	s.mu.Lock()
	p, ok := s.table[pid]
	s.mu.Unlock()
	if !ok {
		return kerr.ErrProcessNotFound
	}

	p.mu.Lock()
	p.state = StateDead
	p.mu.Unlock()
	s.dequeue(pid)

	s.mu.Lock()
	var waiters []fd.PID
	for otherPID, other := range s.table {
		other.mu.Lock()
		if other.state == StateBlocked && other.reason.Kind == WaitingForChild && other.reason.Child == pid {
			waiters = append(waiters, otherPID)
		}
		other.mu.Unlock()
	}
	s.mu.Unlock()

	for _, w := range waiters {
		_ = s.Unblock(w, int64(pid))
	}
	return nil
}

// RemoveProcess reaps a Dead process, freeing its PID for reuse. A process
// killed while blocked must be removed from every waiter list it occupies
// before its PID is reused; callers that track per-resource waiter lists
// (pipe/input/socket drivers) must prune pid from those lists themselves
// before calling RemoveProcess, since the scheduler has no visibility
// into driver-private waiter lists.
func (s *Scheduler) RemoveProcess(pid fd.PID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.table[pid]; !ok {
		return kerr.ErrProcessNotFound
	}
	delete(s.table, pid)
	return nil
}

func (s *Scheduler) dequeue(pid fd.PID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range s.runQ {
		if v == pid {
			s.runQ = append(s.runQ[:i], s.runQ[i+1:]...)
			if s.current > i {
				s.current--
			} else if s.current >= len(s.runQ) {
				s.current = len(s.runQ) - 1
			}
			return
		}
	}
}

func (s *Scheduler) enqueueIfAbsent(pid fd.PID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.runQ {
		if v == pid {
			return
		}
	}
	s.runQ = append(s.runQ, pid)
	if s.current == -1 {
		s.current = 0
	}
}
