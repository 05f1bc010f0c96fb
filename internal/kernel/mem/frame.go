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

// Package mem models a kernel's two allocators: a bitmap-backed
// physical-frame allocator guarded by a spinlock (so it is safe to call
// from the page-fault path), and a first-fit free-list heap guarded by
// its own mutex. Neither actually maps pages, since this
// kernel runs as a Go process rather than on bare metal, but the
// allocation bookkeeping (which frames are free, first-fit block
// selection, coalescing) is real.
package mem

import (
	"sync"

	"github.com/nyxproject/nyx/internal/kerr"
)

// FrameSize is the physical page size this kernel's allocator hands out.
const FrameSize = 4096

// FrameAllocator is a bitmap over a fixed number of physical frames,
// guarded by a mutex standing in for the spinlock a real allocator would
// need, since it may be called from the page-fault path.
type FrameAllocator struct {
	mu     sync.Mutex
	bitmap []uint64 // one bit per frame; 1 = allocated
	frames int
	next   int // next index to start the free search from, for round-robin-ish locality
}

// NewFrameAllocator creates an allocator over totalFrames physical frames,
// all initially free.
func NewFrameAllocator(totalFrames int) *FrameAllocator {
	words := (totalFrames + 63) / 64
	return &FrameAllocator{bitmap: make([]uint64, words), frames: totalFrames}
}

func (f *FrameAllocator) test(i int) bool {
	return f.bitmap[i/64]&(1<<(uint(i)%64)) != 0
}

func (f *FrameAllocator) set(i int) {
	f.bitmap[i/64] |= 1 << (uint(i) % 64)
}

func (f *FrameAllocator) clear(i int) {
	f.bitmap[i/64] &^= 1 << (uint(i) % 64)
}

// Allocate reserves and returns the index of one free frame.
func (f *FrameAllocator) Allocate() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for off := 0; off < f.frames; off++ {
		i := (f.next + off) % f.frames
		if !f.test(i) {
			f.set(i)
			f.next = (i + 1) % f.frames
			return i, nil
		}
	}
	return 0, kerr.ErrNoMemory
}

// Free releases frame i back to the pool.
func (f *FrameAllocator) Free(i int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < 0 || i >= f.frames {
		return kerr.ErrInvalidArgument
	}
	f.clear(i)
	return nil
}

// FreeCount reports how many frames remain unallocated.
func (f *FrameAllocator) FreeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	free := 0
	for i := 0; i < f.frames; i++ {
		if !f.test(i) {
			free++
		}
	}
	return free
}

// ChooseHeapPageBudget picks a reasonable number of heap pages to back
// the kernel heap with: take a fraction of the available frames, capped
// so a single misbehaving boot configuration can't claim everything.
func ChooseHeapPageBudget(totalFrames int) int {
	// Heuristic: use about 75% of physical frames for the heap, leaving
	// headroom for the frame allocator's own bookkeeping and process stacks.
	budget := totalFrames/2 + totalFrames/4

	const reasonableLimit = 1 << 18
	if budget > reasonableLimit {
		budget = reasonableLimit
	}
	return budget
}
