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

// Package event implements the fan-out of READY_TO_READ / READY_TO_WRITE
// notifications from drivers to the process event queues subscribed to
// them. It depends only on the fd package's PID type, so that the process
// package can implement ProcessLookup without an import cycle.
package event

import (
	"context"
	"sync"

	"github.com/nyxproject/nyx/internal/kernel/fd"
	"github.com/nyxproject/nyx/internal/kernel/metrics"
)

// Kind is the tagged-union discriminant for Event.
type Kind int

const (
	Invalid Kind = iota
	ReadyToRead
	ReadyToWrite

	kindCount
)

// ReadWriteData is carried by both ReadyToRead and ReadyToWrite events.
// ProcessFD is left zero by the producer and rewritten by Manager.Notify
// once the recipient process is known, since only the notifier has access
// to that process's FD table.
type ReadWriteData struct {
	BytesAvailable int64
	SystemFD       fd.SystemFD
	ProcessFD      fd.ProcFD
}

// Event is the tagged union pushed onto a Queue.
type Event struct {
	Kind Kind
	Data ReadWriteData
}

// DefaultQueueCapacity matches the 64-entry ring buffer the source kernel
// compiles event queues with.
const DefaultQueueCapacity = 64

// Queue is a per-process bounded ring of events, gated by a per-kind
// filter. A full queue silently drops the oldest event to accept the
// newest one, so that a slow or uninterested consumer cannot wedge the
// notifier.
type Queue struct {
	mu     sync.Mutex
	id     uint64
	pid    fd.PID
	filter [kindCount]bool
	ring   []Event
	head   int
	size   int
}

// NewQueue allocates a queue with room for DefaultQueueCapacity events.
func NewQueue(id uint64, pid fd.PID) *Queue {
	return &Queue{id: id, pid: pid, ring: make([]Event, DefaultQueueCapacity)}
}

func (q *Queue) ID() uint64 { return q.id }
func (q *Queue) PID() fd.PID { return q.pid }

// Register enables delivery of the given kind to this queue.
func (q *Queue) Register(k Kind) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if k > Invalid && k < kindCount {
		q.filter[k] = true
	}
}

// Unregister disables delivery of the given kind.
func (q *Queue) Unregister(k Kind) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if k > Invalid && k < kindCount {
		q.filter[k] = false
	}
}

// Listens reports whether this queue currently accepts events of kind k.
func (q *Queue) Listens(k Kind) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if k <= Invalid || k >= kindCount {
		return false
	}
	return q.filter[k]
}

// Push enqueues e, dropping the oldest entry if the ring is full.
func (q *Queue) Push(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cap := len(q.ring)
	if q.size == cap {
		// Drop oldest to make room; the ring always accepts the newest event.
		q.head = (q.head + 1) % cap
		q.size--
	}
	idx := (q.head + q.size) % cap
	q.ring[idx] = e
	q.size++
}

// Pop removes and returns the oldest event. ok is false on an empty queue.
func (q *Queue) Pop() (e Event, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return Event{}, false
	}
	e = q.ring[q.head]
	q.head = (q.head + 1) % len(q.ring)
	q.size--
	return e, true
}

// Len reports the number of queued, unread events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// QueueHolder is implemented by process.Process: something that owns a PID
// and an ordered list of event queues.
type QueueHolder interface {
	PID() fd.PID
	EventQueues() []*Queue
	// LookupSystemFD translates procFD to the system FD currently backing
	// it, so Notify can rewrite ProcessFD per recipient.
	LookupSystemFD(procFD fd.ProcFD) (fd.SystemFD, bool)
}

// ProcessLookup resolves a PID to its QueueHolder. process.Scheduler
// implements this.
type ProcessLookup interface {
	Lookup(pid fd.PID) (QueueHolder, bool)
}

// Manager fans events out to subscribed processes' queues.
type Manager struct {
	mu        sync.Mutex
	listeners map[Kind][]fd.PID
	lookup    ProcessLookup
	metrics   *metrics.Kernel
}

// NewManager constructs an event manager backed by the given process
// lookup. lookup may be nil until the scheduler is constructed; SetLookup
// finishes the wiring (the two are constructed together in kernel.Boot).
func NewManager(lookup ProcessLookup) *Manager {
	return &Manager{listeners: make(map[Kind][]fd.PID), lookup: lookup}
}

// SetLookup finishes wiring a Manager created before its ProcessLookup
// existed (kernel.Boot constructs Scheduler and Manager in a cycle).
func (m *Manager) SetLookup(lookup ProcessLookup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookup = lookup
}

// SetMetrics attaches the metrics handle Notify records fan-out outcomes
// through. Until called, Notify still delivers events, it just doesn't
// record them.
func (m *Manager) SetMetrics(k *metrics.Kernel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = k
}

// RegisterListener appends pid as a subscriber to kind. Duplicates are
// not filtered: registering the same pid twice for a kind lists it twice,
// and Notify then pushes to its queues once per entry.
func (m *Manager) RegisterListener(kind Kind, pid fd.PID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[kind] = append(m.listeners[kind], pid)
}

// UnregisterListener removes pid from kind's subscriber list. Returns false
// if pid was not subscribed.
func (m *Manager) UnregisterListener(kind Kind, pid fd.PID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.listeners[kind]
	for i, p := range list {
		if p == pid {
			m.listeners[kind] = append(list[:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// Notify delivers e to every subscriber of e.Kind whose queue currently
// accepts it, rewriting ProcessFD from the system FD at delivery time.
// Subscribers whose process (or whose matching queue) has disappeared are
// pruned from the listener list as a book-keeping fix-up.
func (m *Manager) Notify(e Event) {
	m.mu.Lock()
	subscribers := append([]fd.PID(nil), m.listeners[e.Kind]...)
	lookup := m.lookup
	met := m.metrics
	m.mu.Unlock()

	if lookup == nil {
		return
	}

	ctx := context.Background()
	var stale []fd.PID
	for _, pid := range subscribers {
		holder, ok := lookup.Lookup(pid)
		if !ok {
			stale = append(stale, pid)
			if met != nil {
				met.EventDropped(ctx)
			}
			continue
		}
		delivered := false
		for _, q := range holder.EventQueues() {
			if !q.Listens(e.Kind) {
				continue
			}
			delivered = true
			personal := e
			if procFD, ok := reverseLookup(holder, e.Data.SystemFD); ok {
				personal.Data.ProcessFD = procFD
			}
			q.Push(personal)
			if met != nil {
				met.EventDelivered(ctx)
			}
		}
		if !delivered {
			stale = append(stale, pid)
			if met != nil {
				met.EventDropped(ctx)
			}
		}
	}

	if len(stale) > 0 {
		m.mu.Lock()
		for _, pid := range stale {
			list := m.listeners[e.Kind]
			for i, p := range list {
				if p == pid {
					m.listeners[e.Kind] = append(list[:i], list[i+1:]...)
					break
				}
			}
		}
		m.mu.Unlock()
	}
}

// reverseLookup finds a process FD mapping to sysFD by scanning the
// holder's own FD table via LookupSystemFD over the small range of FDs a
// process typically holds. Processes in this kernel keep few FDs open, so
// a linear scan is simpler than maintaining a second index.
func reverseLookup(holder QueueHolder, sysFD fd.SystemFD) (fd.ProcFD, bool) {
	const maxScan = 256
	for i := fd.ProcFD(0); i < maxScan; i++ {
		if got, ok := holder.LookupSystemFD(i); ok && got == sysFD {
			return i, true
		}
	}
	return 0, false
}
