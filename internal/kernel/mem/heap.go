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

package mem

import (
	"sort"
	"sync"

	"github.com/nyxproject/nyx/internal/kerr"
)

// block is one span of the heap's address space, tracked by offset and
// size rather than by pointer, since there is no real virtual memory
// here, only bookkeeping over a byte range large enough to hold a
// budgeted number of pages.
type block struct {
	offset int
	size   int
}

// Heap is a first-fit, size-coalescing free-list allocator over a fixed
// byte range, guarded by its own mutex so it is safe to share across
// goroutines driving different processes concurrently, the same
// defensive stance the scheduler takes internally.
type Heap struct {
	mu    sync.Mutex
	free  []block
	used  map[int]int // offset -> size, for allocated blocks
	total int
}

// NewHeap creates a heap spanning [0, totalBytes).
func NewHeap(totalBytes int) *Heap {
	return &Heap{
		free:  []block{{offset: 0, size: totalBytes}},
		used:  make(map[int]int),
		total: totalBytes,
	}
}

// Alloc reserves the first free block large enough to hold size bytes and
// returns its starting offset. The remainder of the chosen block, if any,
// goes back on the free list.
func (h *Heap) Alloc(size int) (int, error) {
	if size <= 0 {
		return 0, kerr.ErrInvalidArgument
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for i, b := range h.free {
		if b.size < size {
			continue
		}
		h.free = append(h.free[:i], h.free[i+1:]...)
		if rem := b.size - size; rem > 0 {
			h.insertFree(block{offset: b.offset + size, size: rem})
		}
		h.used[b.offset] = size
		return b.offset, nil
	}
	return 0, kerr.ErrNoMemory
}

// Free releases a block previously returned by Alloc, coalescing it with
// any adjacent free neighbors.
func (h *Heap) Free(offset int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	size, ok := h.used[offset]
	if !ok {
		return kerr.ErrInvalidArgument
	}
	delete(h.used, offset)
	h.insertFree(block{offset: offset, size: size})
	return nil
}

// insertFree adds b to the free list in offset order and merges it with
// any neighbor it now touches. Callers must hold h.mu.
func (h *Heap) insertFree(b block) {
	h.free = append(h.free, b)
	sort.Slice(h.free, func(i, j int) bool { return h.free[i].offset < h.free[j].offset })

	merged := h.free[:0]
	for _, cur := range h.free {
		if len(merged) > 0 {
			last := &merged[len(merged)-1]
			if last.offset+last.size == cur.offset {
				last.size += cur.size
				continue
			}
		}
		merged = append(merged, cur)
	}
	h.free = merged
}

// FreeBytes sums the heap's currently unallocated capacity.
func (h *Heap) FreeBytes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := 0
	for _, b := range h.free {
		total += b.size
	}
	return total
}
