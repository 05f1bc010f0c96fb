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

// Package fd holds the small integer identity types shared across the
// kernel: PIDs, system-global file descriptors, and the per-process file
// descriptor table that maps small dense process-local FDs onto them. It
// has no dependencies on the rest of the kernel so that drivers, the event
// manager and the process table can all refer to these identities without
// creating import cycles.
package fd

import (
	"sync"

	"github.com/nyxproject/nyx/internal/kerr"
)

// PID identifies a process.
type PID uint64

// SystemFD is a kernel-global index into the VFS's open-file table.
type SystemFD uint64

// ProcFD is a small dense index into a single process's FD table. FDs 0, 1
// and 2 are conventionally stdin, stdout and stderr.
type ProcFD int

const (
	Stdin  ProcFD = 0
	Stdout ProcFD = 1
	Stderr ProcFD = 2
)

// Table is a process's mapping from process FD to system FD. Lookup is
// total over the domain: anything out of range, or never assigned, is
// ErrBadFD. Allocation always returns the numerically lowest free slot.
type Table struct {
	mu      sync.Mutex
	entries []*SystemFD // nil entry means "free slot"
}

// NewTable returns an empty FD table.
func NewTable() *Table {
	return &Table{}
}

// Install places sysFD in the lowest free process FD slot and returns it.
func (t *Table) Install(sysFD SystemFD) ProcFD {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, e := range t.entries {
		if e == nil {
			v := sysFD
			t.entries[i] = &v
			return ProcFD(i)
		}
	}
	v := sysFD
	t.entries = append(t.entries, &v)
	return ProcFD(len(t.entries) - 1)
}

// InstallAt places sysFD at exactly procFD, growing the table if needed.
// Used at process creation to wire up fd.Stdin/Stdout/Stderr.
func (t *Table) InstallAt(procFD ProcFD, sysFD SystemFD) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for ProcFD(len(t.entries)) <= procFD {
		t.entries = append(t.entries, nil)
	}
	v := sysFD
	t.entries[procFD] = &v
}

// Lookup translates a process FD to a system FD.
func (t *Table) Lookup(procFD ProcFD) (SystemFD, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if procFD < 0 || int(procFD) >= len(t.entries) || t.entries[procFD] == nil {
		return 0, kerr.ErrBadFD
	}
	return *t.entries[procFD], nil
}

// Remove frees procFD and returns the system FD it pointed to, so the
// caller can decrement that system FD's refcount.
func (t *Table) Remove(procFD ProcFD) (SystemFD, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if procFD < 0 || int(procFD) >= len(t.entries) || t.entries[procFD] == nil {
		return 0, kerr.ErrBadFD
	}
	sysFD := *t.entries[procFD]
	t.entries[procFD] = nil
	return sysFD, nil
}

// Clone copies every live mapping into a fresh table, for fork(). The
// caller is responsible for incrementing the referenced system FDs'
// refcounts.
func (t *Table) Clone() *Table {
	t.mu.Lock()
	defer t.mu.Unlock()

	clone := &Table{entries: make([]*SystemFD, len(t.entries))}
	for i, e := range t.entries {
		if e == nil {
			continue
		}
		v := *e
		clone.entries[i] = &v
	}
	return clone
}

// Each calls fn for every live process FD -> system FD mapping. Used when a
// process exits and every open system FD must be decref'd.
func (t *Table) Each(fn func(ProcFD, SystemFD)) {
	t.mu.Lock()
	snapshot := make([]*SystemFD, len(t.entries))
	copy(snapshot, t.entries)
	t.mu.Unlock()

	for i, e := range snapshot {
		if e != nil {
			fn(ProcFD(i), *e)
		}
	}
}
