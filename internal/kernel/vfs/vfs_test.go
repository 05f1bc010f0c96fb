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

package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxproject/nyx/internal/kernel/driver"
	"github.com/nyxproject/nyx/internal/kernel/fd"
)

type fakeFS struct {
	name       string
	opened     []string
	closed     int
	bytesByPos map[int64]byte
}

func (f *fakeFS) Open(path string) (*driver.Metadata, error) {
	f.opened = append(f.opened, path)
	return &driver.Metadata{Type: driver.FileTypeRegular, Name: path, Driver: f}, nil
}
func (f *fakeFS) Close(*driver.Metadata) error { f.closed++; return nil }
func (f *fakeFS) Read(_ *driver.Metadata, _ fd.PID, offset, count int64, out []byte) driver.Result {
	n := int64(0)
	for ; n < count; n++ {
		b, ok := f.bytesByPos[offset+n]
		if !ok {
			break
		}
		out[n] = b
	}
	return driver.OK(n)
}
func (f *fakeFS) Write(*driver.Metadata, fd.PID, int64, int64, []byte) driver.Result {
	return driver.OK(0)
}
func (f *fakeFS) ReadRaw(int64, int64, []byte) driver.Result { return driver.Fail(nil) }
func (f *fakeFS) Flush(*driver.Metadata) error                { return nil }
func (f *fakeFS) Device() driver.StorageDevice                { return f }
func (f *fakeFS) Name() string                                { return f.name }

type fakeDevice struct {
	openPaths []string
}

func (f *fakeDevice) Open(path string) (*driver.Metadata, error) {
	f.openPaths = append(f.openPaths, path)
	return &driver.Metadata{Type: driver.FileTypeDevice, Name: path, Driver: f}, nil
}
func (f *fakeDevice) Close(*driver.Metadata) error { return nil }
func (f *fakeDevice) Read(*driver.Metadata, fd.PID, int64, int64, []byte) driver.Result {
	return driver.OK(0)
}
func (f *fakeDevice) Write(*driver.Metadata, fd.PID, int64, int64, []byte) driver.Result {
	return driver.OK(0)
}
func (f *fakeDevice) ReadRaw(int64, int64, []byte) driver.Result { return driver.Fail(nil) }

func TestOpenResolvesLongestMountPrefix(t *testing.T) {
	v := New()
	root := &fakeFS{name: "root"}
	nested := &fakeFS{name: "nested"}
	v.Mount("/", root)
	v.Mount("/mnt/data/", nested)

	_, err := v.Open("/mnt/data/file.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"file.txt"}, nested.opened)
	assert.Empty(t, root.opened)
}

func TestOpenFallsBackToBuiltin(t *testing.T) {
	v := New()
	dev := &fakeDevice{}
	v.RegisterBuiltin("pipe:", dev)

	_, err := v.Open("pipe:mypipe")
	require.NoError(t, err)
	assert.Equal(t, []string{"pipe:mypipe"}, dev.openPaths)
}

func TestOpenUnmatchedReturnsBadPath(t *testing.T) {
	v := New()
	_, err := v.Open("/nowhere")
	assert.Error(t, err)
}

func TestCloseInvokesDriverOnlyOnceRefcountHitsZero(t *testing.T) {
	v := New()
	fs := &fakeFS{name: "fs"}
	v.Mount("/", fs)

	sysFD, err := v.Open("/a")
	require.NoError(t, err)
	require.NoError(t, v.IncRef(sysFD))

	require.NoError(t, v.Close(sysFD))
	assert.Equal(t, 0, fs.closed)

	require.NoError(t, v.Close(sysFD))
	assert.Equal(t, 1, fs.closed)

	err = v.Close(sysFD)
	assert.Error(t, err)
}

func TestReadAdvancesOffset(t *testing.T) {
	v := New()
	fs := &fakeFS{name: "fs", bytesByPos: map[int64]byte{0: 'a', 1: 'b', 2: 'c'}}
	v.Mount("/", fs)

	sysFD, err := v.Open("/a")
	require.NoError(t, err)

	out := make([]byte, 2)
	res := v.Read(sysFD, fd.PID(1), 2, out)
	require.NoError(t, res.Err)
	assert.Equal(t, []byte("ab"), out)

	out2 := make([]byte, 2)
	res = v.Read(sysFD, fd.PID(1), 2, out2)
	require.NoError(t, res.Err)
	assert.Equal(t, int64(1), res.N)
	assert.Equal(t, byte('c'), out2[0])
}

func TestMountsReturnsSnapshotInRegistrationOrder(t *testing.T) {
	v := New()
	assert.Empty(t, v.Mounts())

	v.Mount("/a", &fakeFS{name: "a"})
	v.Mount("/b", &fakeFS{name: "b"})

	mounts := v.Mounts()
	require.Len(t, mounts, 2)
	assert.Equal(t, "/a", mounts[0].Prefix)
	assert.Equal(t, "/b", mounts[1].Prefix)
}
