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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxproject/nyx/internal/kernel/fd"
)

func TestNewProcessAssignsIncreasingPIDs(t *testing.T) {
	s := NewScheduler()
	p1 := s.NewProcess(0)
	p2 := s.NewProcess(0)
	assert.NotEqual(t, p1.PID(), p2.PID())
	assert.Equal(t, StateReady, p1.State())
}

func TestBlockUnblockRoundTrip(t *testing.T) {
	s := NewScheduler()
	p := s.NewProcess(0)

	err := s.Block(p.PID(), BlockReason{Kind: WaitingForRead, FD: 3})
	require.NoError(t, err)
	assert.Equal(t, StateBlocked, p.State())
	assert.Equal(t, WaitingForRead, p.BlockReason().Kind)

	err = s.Unblock(p.PID(), 42)
	require.NoError(t, err)
	assert.Equal(t, StateReady, p.State())

	v, err := s.TakePendingResult(p.PID())
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	// Pending result is cleared after being taken once.
	v, err = s.TakePendingResult(p.PID())
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestUnblockUnknownPIDErrors(t *testing.T) {
	s := NewScheduler()
	err := s.Unblock(fd.PID(999), 0)
	assert.Error(t, err)
}

func TestSleepWokenByTick(t *testing.T) {
	s := NewScheduler()
	p := s.NewProcess(0)

	require.NoError(t, s.Sleep(p.PID(), 5))
	assert.Equal(t, StateSleeping, p.State())

	for i := 0; i < 4; i++ {
		s.Tick()
		assert.Equal(t, StateSleeping, p.State())
	}
	s.Tick() // tick 5: wake
	assert.Equal(t, StateReady, p.State())
}

func TestForkClonesFDTable(t *testing.T) {
	s := NewScheduler()
	parent := s.NewProcess(0)
	parent.FDTable().InstallAt(fd.Stdin, 100)

	child, err := s.Fork(parent.PID())
	require.NoError(t, err)
	assert.Contains(t, parent.Children(), child.PID())

	got, err := child.FDTable().Lookup(fd.Stdin)
	require.NoError(t, err)
	assert.Equal(t, fd.SystemFD(100), got)
}

func TestExitWakesWaitingForChild(t *testing.T) {
	s := NewScheduler()
	parent := s.NewProcess(0)
	child := s.NewProcess(parent.PID())

	require.NoError(t, s.Block(parent.PID(), BlockReason{Kind: WaitingForChild, Child: child.PID()}))
	require.NoError(t, s.Exit(child.PID()))

	assert.Equal(t, StateReady, parent.State())
	v, err := s.TakePendingResult(parent.PID())
	require.NoError(t, err)
	assert.Equal(t, int64(child.PID()), v)

	assert.Equal(t, StateDead, child.State())
	require.NoError(t, s.RemoveProcess(child.PID()))
	_, err = s.Process(child.PID())
	assert.Error(t, err)
}

func TestYieldRotatesRunQueue(t *testing.T) {
	s := NewScheduler()
	p1 := s.NewProcess(0)
	p2 := s.NewProcess(0)

	cur, ok := s.CurrentPID()
	require.True(t, ok)
	assert.Equal(t, p1.PID(), cur)

	s.Yield()
	cur, ok = s.CurrentPID()
	require.True(t, ok)
	assert.Equal(t, p2.PID(), cur)
}

func TestSnapshotListsLiveProcessesInPIDOrder(t *testing.T) {
	s := NewScheduler()
	p1 := s.NewProcess(0)
	p2 := s.NewProcess(p1.PID())
	require.NoError(t, s.Block(p2.PID(), BlockReason{Kind: WaitingForRead}))

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, p1.PID(), snap[0].PID)
	assert.Equal(t, fd.PID(0), snap[0].Parent)
	assert.Equal(t, p2.PID(), snap[1].PID)
	assert.Equal(t, p1.PID(), snap[1].Parent)
	assert.Equal(t, StateBlocked, snap[1].State)
}
