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

package socket

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

// S3: server/client round trip via bind/listen/accept/connect.
func TestServerClientRoundTrip(t *testing.T) {
	waker := newFakeWaker()
	d := New(waker, nil)

	serverMeta, err := d.Open("socket")
	require.NoError(t, err)
	addr := NewAddr(byte(DomainLENSOR), []byte("!Test"))
	require.NoError(t, d.Bind(serverMeta, addr))
	require.NoError(t, d.Listen(serverMeta, 32))

	clientMeta, err := d.Open("socket")
	require.NoError(t, err)
	require.NoError(t, d.Connect(clientMeta, addr))

	acceptResult, res := d.Accept(serverMeta, fd.PID(1))
	require.NoError(t, res.Err)
	require.False(t, res.WouldBlock)
	connMeta := acceptResult.Metadata
	assert.Equal(t, addr.Tag, acceptResult.PeerAddr.Tag)

	payload := []byte("0123456789abcdef")
	wres := d.Write(clientMeta, fd.PID(2), 0, int64(len(payload)), payload)
	require.NoError(t, wres.Err)
	assert.Equal(t, int64(len(payload)), wres.N)

	out := make([]byte, 16)
	rres := d.Read(connMeta, fd.PID(1), 0, int64(len(out)), out)
	require.NoError(t, rres.Err)
	assert.Equal(t, int64(16), rres.N)
	assert.Equal(t, payload, out)
}

func TestAcceptBlocksOnEmptyPendingQueue(t *testing.T) {
	d := New(nil, nil)
	serverMeta, _ := d.Open("socket")
	addr := NewAddr(byte(DomainLENSOR), []byte("addr"))
	require.NoError(t, d.Bind(serverMeta, addr))
	require.NoError(t, d.Listen(serverMeta, 1))

	_, res := d.Accept(serverMeta, fd.PID(9))
	assert.True(t, res.WouldBlock)
}

func TestConnectWakesBlockedAcceptor(t *testing.T) {
	waker := newFakeWaker()
	d := New(waker, nil)
	serverMeta, _ := d.Open("socket")
	addr := NewAddr(byte(DomainLENSOR), []byte("addr"))
	require.NoError(t, d.Bind(serverMeta, addr))
	require.NoError(t, d.Listen(serverMeta, 1))

	acceptor := fd.PID(3)
	_, res := d.Accept(serverMeta, acceptor)
	require.True(t, res.WouldBlock)

	clientMeta, _ := d.Open("socket")
	require.NoError(t, d.Connect(clientMeta, addr))

	_, ok := waker.unblocked[acceptor]
	assert.True(t, ok)
}

func TestDuplicateBindFailsAddrInUse(t *testing.T) {
	d := New(nil, nil)
	first, _ := d.Open("socket")
	second, _ := d.Open("socket")
	addr := NewAddr(byte(DomainLENSOR), []byte("dup"))

	require.NoError(t, d.Bind(first, addr))
	err := d.Bind(second, addr)
	assert.Error(t, err)
}

func TestConnectToUnboundAddrFailsConnectionRefused(t *testing.T) {
	d := New(nil, nil)
	clientMeta, _ := d.Open("socket")
	err := d.Connect(clientMeta, NewAddr(byte(DomainLENSOR), []byte("nobody")))
	assert.Error(t, err)
}

func TestDupIncrementsBufferRefcount(t *testing.T) {
	d := New(nil, nil)
	serverMeta, _ := d.Open("socket")
	addr := NewAddr(byte(DomainLENSOR), []byte("refc"))
	require.NoError(t, d.Bind(serverMeta, addr))
	require.NoError(t, d.Listen(serverMeta, 1))

	clientMeta, _ := d.Open("socket")
	require.NoError(t, d.Connect(clientMeta, addr))

	data, err := socketData(clientMeta)
	require.NoError(t, err)
	require.NotNil(t, data.buf)

	d.Dup(clientMeta)
	assert.Equal(t, 2, data.buf.refCount)

	require.NoError(t, d.Close(clientMeta))
	assert.Equal(t, 1, data.buf.refCount)
}
