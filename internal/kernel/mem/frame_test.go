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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxproject/nyx/internal/kerr"
)

func TestFrameAllocatorAllocateFreeRoundTrip(t *testing.T) {
	a := NewFrameAllocator(4)
	assert.Equal(t, 4, a.FreeCount())

	i0, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 3, a.FreeCount())

	require.NoError(t, a.Free(i0))
	assert.Equal(t, 4, a.FreeCount())
}

func TestFrameAllocatorExhaustionReturnsErrNoMemory(t *testing.T) {
	a := NewFrameAllocator(2)
	_, err := a.Allocate()
	require.NoError(t, err)
	_, err = a.Allocate()
	require.NoError(t, err)

	_, err = a.Allocate()
	assert.ErrorIs(t, err, kerr.ErrNoMemory)
}

func TestFrameAllocatorDoesNotDoubleAllocate(t *testing.T) {
	a := NewFrameAllocator(64)
	seen := make(map[int]bool)
	for i := 0; i < 64; i++ {
		idx, err := a.Allocate()
		require.NoError(t, err)
		assert.False(t, seen[idx], "frame %d allocated twice", idx)
		seen[idx] = true
	}
	_, err := a.Allocate()
	assert.ErrorIs(t, err, kerr.ErrNoMemory)
}

func TestFrameAllocatorFreeInvalidIndex(t *testing.T) {
	a := NewFrameAllocator(4)
	assert.ErrorIs(t, a.Free(-1), kerr.ErrInvalidArgument)
	assert.ErrorIs(t, a.Free(4), kerr.ErrInvalidArgument)
}

func TestChooseHeapPageBudgetCapsAtReasonableLimit(t *testing.T) {
	assert.Equal(t, 1<<18, ChooseHeapPageBudget(1<<22))
}

func TestChooseHeapPageBudgetScalesWithFrames(t *testing.T) {
	assert.Equal(t, 750, ChooseHeapPageBudget(1000))
}
