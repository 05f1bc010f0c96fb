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

package driver

import (
	"sync"

	"github.com/nyxproject/nyx/internal/kernel/fd"
)

// Waker is how a driver asks the scheduler to move a parked PID back to
// Ready and hand it the given syscall return value on resume. Drivers
// depend only on this interface, not on the process package, so pipe/
// input/socket never import the scheduler directly.
type Waker interface {
	Unblock(pid fd.PID, retval int64) error
}

// WaiterList is a per-resource list of PIDs parked waiting for the
// resource to change state (readers waiting for data, writers waiting for
// space, servers waiting for a connection). Add is idempotent: enqueuing
// the same PID twice would leave it waiting once but waking it twice, so
// drivers check-before-insert via this type instead of each reimplementing
// the check.
type WaiterList struct {
	mu   sync.Mutex
	pids []fd.PID
}

// Add enqueues pid if it is not already present. Returns true if it was
// newly added.
func (w *WaiterList) Add(pid fd.PID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range w.pids {
		if p == pid {
			return false
		}
	}
	w.pids = append(w.pids, pid)
	return true
}

// Remove drops pid from the list if present, e.g. when a killed process
// must be pruned from every waiter list it occupies.
func (w *WaiterList) Remove(pid fd.PID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, p := range w.pids {
		if p == pid {
			w.pids = append(w.pids[:i], w.pids[i+1:]...)
			return
		}
	}
}

// DrainAll removes and returns every waiting PID, for waking them all at
// once (e.g. a pipe write waking every reader).
func (w *WaiterList) DrainAll() []fd.PID {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.pids
	w.pids = nil
	return out
}

// Len reports how many PIDs are currently waiting.
func (w *WaiterList) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pids)
}

// Clear empties the list without returning it, used when a pipe buffer is
// recycled back to the free list.
func (w *WaiterList) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pids = nil
}
