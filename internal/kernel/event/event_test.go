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

package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxproject/nyx/internal/kernel/fd"
)

type fakeHolder struct {
	pid    fd.PID
	queues []*Queue
	fds    map[fd.ProcFD]fd.SystemFD
}

func (h *fakeHolder) PID() fd.PID              { return h.pid }
func (h *fakeHolder) EventQueues() []*Queue    { return h.queues }
func (h *fakeHolder) LookupSystemFD(p fd.ProcFD) (fd.SystemFD, bool) {
	v, ok := h.fds[p]
	return v, ok
}

type fakeLookup struct {
	procs map[fd.PID]QueueHolder
}

func (l *fakeLookup) Lookup(pid fd.PID) (QueueHolder, bool) {
	h, ok := l.procs[pid]
	return h, ok
}

func TestQueueRegisterAndPushPop(t *testing.T) {
	q := NewQueue(1, 42)
	assert.False(t, q.Listens(ReadyToRead))
	q.Register(ReadyToRead)
	assert.True(t, q.Listens(ReadyToRead))

	q.Push(Event{Kind: ReadyToRead, Data: ReadWriteData{BytesAvailable: 5}})
	assert.Equal(t, 1, q.Len())

	got, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, int64(5), got.Data.BytesAvailable)
	assert.Equal(t, 0, q.Len())

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	q := NewQueue(1, 1)
	q.Register(ReadyToRead)
	for i := 0; i < DefaultQueueCapacity+5; i++ {
		q.Push(Event{Kind: ReadyToRead, Data: ReadWriteData{BytesAvailable: int64(i)}})
	}
	assert.Equal(t, DefaultQueueCapacity, q.Len())
	first, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, int64(5), first.Data.BytesAvailable)
}

func TestManagerNotifyRewritesProcessFD(t *testing.T) {
	qA := NewQueue(1, 10)
	qA.Register(ReadyToRead)
	qB := NewQueue(2, 20)
	qB.Register(ReadyToRead)

	holderA := &fakeHolder{pid: 10, queues: []*Queue{qA}, fds: map[fd.ProcFD]fd.SystemFD{3: 99}}
	holderB := &fakeHolder{pid: 20, queues: []*Queue{qB}, fds: map[fd.ProcFD]fd.SystemFD{7: 99}}
	lookup := &fakeLookup{procs: map[fd.PID]QueueHolder{10: holderA, 20: holderB}}

	mgr := NewManager(lookup)
	mgr.RegisterListener(ReadyToRead, 10)
	mgr.RegisterListener(ReadyToRead, 20)

	mgr.Notify(Event{Kind: ReadyToRead, Data: ReadWriteData{BytesAvailable: 4, SystemFD: 99}})

	evA, ok := qA.Pop()
	require.True(t, ok)
	assert.Equal(t, fd.ProcFD(3), evA.Data.ProcessFD)

	evB, ok := qB.Pop()
	require.True(t, ok)
	assert.Equal(t, fd.ProcFD(7), evB.Data.ProcessFD)
}

func TestManagerNotifyPrunesDeadSubscribers(t *testing.T) {
	lookup := &fakeLookup{procs: map[fd.PID]QueueHolder{}}
	mgr := NewManager(lookup)
	mgr.RegisterListener(ReadyToRead, 123)

	mgr.Notify(Event{Kind: ReadyToRead})

	assert.False(t, mgr.UnregisterListener(ReadyToRead, 123))
}

func TestUnregisterListenerMissingReturnsFalse(t *testing.T) {
	mgr := NewManager(nil)
	assert.False(t, mgr.UnregisterListener(ReadyToWrite, 1))
}
