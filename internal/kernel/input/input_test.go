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

package input

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxproject/nyx/internal/kernel/fd"
)

type fakeWaker struct {
	unblocked map[fd.PID]int64
}

func newFakeWaker() *fakeWaker { return &fakeWaker{unblocked: make(map[fd.PID]int64)} }

func (f *fakeWaker) Unblock(pid fd.PID, retval int64) error {
	f.unblocked[pid] = retval
	return nil
}

func TestReadBlocksOnEmptyRing(t *testing.T) {
	d := New(nil, nil)
	meta, err := d.Open("/dev/stdin")
	require.NoError(t, err)

	res := d.Read(meta, fd.PID(1), 0, 4, make([]byte, 4))
	assert.True(t, res.WouldBlock)
	assert.Equal(t, 1, d.readers.Len())
}

func TestPushWakesBlockedReader(t *testing.T) {
	waker := newFakeWaker()
	d := New(waker, nil)
	meta, err := d.Open("/dev/stdin")
	require.NoError(t, err)

	reader := fd.PID(5)
	res := d.Read(meta, reader, 0, 1, make([]byte, 1))
	require.True(t, res.WouldBlock)

	d.Push('a')

	_, ok := waker.unblocked[reader]
	assert.True(t, ok)
	assert.Equal(t, 0, d.readers.Len())
}

func TestPushThenReadReturnsBytesInOrder(t *testing.T) {
	d := New(nil, nil)
	meta, _ := d.Open("/dev/stdin")

	d.Push('h')
	d.Push('i')

	out := make([]byte, 8)
	res := d.Read(meta, fd.PID(1), 0, int64(len(out)), out)
	require.NoError(t, res.Err)
	assert.Equal(t, int64(2), res.N)
	assert.Equal(t, []byte("hi"), out[:2])
}

func TestPushDropsOldestWhenRingFull(t *testing.T) {
	d := New(nil, nil)
	meta, _ := d.Open("/dev/stdin")

	for i := 0; i < DefaultCapacity; i++ {
		d.Push(byte('a' + i%26))
	}
	d.Push('Z')

	out := make([]byte, 1)
	res := d.Read(meta, fd.PID(1), 0, 1, out)
	require.NoError(t, res.Err)
	assert.NotEqual(t, byte('a'), out[0])
}

func TestWriteNotSupported(t *testing.T) {
	d := New(nil, nil)
	meta, _ := d.Open("/dev/stdin")
	res := d.Write(meta, fd.PID(1), 0, 1, []byte("x"))
	assert.Error(t, res.Err)
}
