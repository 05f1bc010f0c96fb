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

// Package socket implements the LENSOR-domain socket storage-device
// driver: bind/listen/accept/connect over a pair of in-kernel ring buffers
// per connection. It is the one driver whose Open doesn't fully determine
// the resulting file by itself; Bind/Listen/Connect/Accept are separate
// calls the syscall dispatcher chains together, matching the BSD
// socket(2) family the source kernel modeled this on rather than pipe's
// single-shot Open.
package socket

import (
	"bytes"
	"sync"

	"github.com/nyxproject/nyx/internal/kerr"
	"github.com/nyxproject/nyx/internal/kernel/driver"
	"github.com/nyxproject/nyx/internal/kernel/event"
	"github.com/nyxproject/nyx/internal/kernel/fd"
)

// DefaultRingCapacity is the size of each of a connection's two ring
// buffers (RX and TX).
const DefaultRingCapacity = 1024

// Domain is always LENSOR in this kernel; the type exists because the
// source kernel's socket(2) call takes a domain argument and rejecting
// anything else is part of the contract.
type Domain byte

const DomainLENSOR Domain = 1

// Addr is a tag byte plus up to 16 opaque bytes, compared byte-exact
// after the tag.
type Addr struct {
	Tag   byte
	Bytes [16]byte
	Len   int
}

func (a Addr) equal(b Addr) bool {
	return a.Tag == b.Tag && bytes.Equal(a.Bytes[:a.Len], b.Bytes[:b.Len])
}

// NewAddr builds an Addr from a tag and payload, clamping the payload to
// 16 bytes.
func NewAddr(tag byte, payload []byte) Addr {
	var a Addr
	a.Tag = tag
	n := copy(a.Bytes[:], payload)
	a.Len = n
	return a
}

// ring is a fixed-capacity byte FIFO shared by exactly one reader side and
// one writer side of a connection.
type ring struct {
	mu     sync.Mutex
	data   []byte
	offset int
}

func newRing(capacity int) *ring { return &ring{data: make([]byte, capacity)} }

// role is which end of a connected pair a socket FD represents.
type role int

const (
	roleUnconnected role = iota
	roleClient
	roleServer
)

// buffers is the RX/TX ring pair shared by a connected client/server pair,
// refcounted so both ends (and any fork-inherited duplicate) can close
// independently: fork inherits a reference, and the pair is freed once
// the refcount reaches zero.
type buffers struct {
	mu       sync.Mutex
	refCount int

	rx *ring
	tx *ring

	readers driver.WaiterList // blocked on rx (server) or tx (client) being empty
	writers driver.WaiterList // blocked on the peer's ring being full
}

func newBuffers() *buffers {
	return &buffers{refCount: 1, rx: newRing(DefaultRingCapacity), tx: newRing(DefaultRingCapacity)}
}

// Data is the driver-private per-FD state stored in a driver.Metadata.
// Its fields are unexported; the syscall layer reaches them only through
// Driver methods (Accept reports the peer address in its AcceptResult).
type Data struct {
	mu   sync.Mutex
	role role
	addr Addr // the address this FD is bound to, if any
	buf  *buffers
}

type binding struct {
	addr Addr
	data *Data // the listening server's Data, so Connect can reach its pending queue
}

// pendingConn is one connect() waiting to be accept()ed.
type pendingConn struct {
	buf      *buffers
	peerAddr Addr
}

type serverState struct {
	pending []pendingConn
	waiting driver.WaiterList // PIDs blocked in accept() on an empty pending queue
}

// Driver is the socket storage-device driver: a flat list of bound
// addresses (not a tree) plus the per-listener pending-connection queues.
type Driver struct {
	mu       sync.Mutex
	bindings []binding
	servers  map[*Data]*serverState

	waker  driver.Waker
	events *event.Manager
}

// New constructs the socket driver.
func New(waker driver.Waker, events *event.Manager) *Driver {
	return &Driver{servers: make(map[*Data]*serverState), waker: waker, events: events}
}

// Open creates a fresh, unbound, unconnected socket FD whose address is the
// LENSOR tag with no payload bytes. socket(2) in the syscall layer is just
// Open followed by nothing further until Bind/Connect.
func (d *Driver) Open(path string) (*driver.Metadata, error) {
	return &driver.Metadata{Type: driver.FileTypeDevice, Name: "socket", Driver: d, Data: &Data{addr: Addr{Tag: byte(DomainLENSOR)}}}, nil
}

// Bind associates addr with meta's socket, failing AddrInUse if another
// open socket already holds it.
func (d *Driver) Bind(meta *driver.Metadata, addr Addr) error {
	data, err := socketData(meta)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range d.bindings {
		if b.addr.equal(addr) {
			return kerr.ErrAddrInUse
		}
	}
	data.mu.Lock()
	data.addr = addr
	data.mu.Unlock()
	d.bindings = append(d.bindings, binding{addr: addr, data: data})
	return nil
}

// Listen marks a bound socket as a server accepting connections.
func (d *Driver) Listen(meta *driver.Metadata, _ int) error {
	data, err := socketData(meta)
	if err != nil {
		return err
	}

	data.mu.Lock()
	data.role = roleServer
	data.mu.Unlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.servers[data]; !ok {
		d.servers[data] = &serverState{}
	}
	return nil
}

// Connect implements the connect protocol: allocate a fresh buffers pair,
// find the server bound to addr, enqueue the pair on its pending queue,
// and return immediately rather than blocking until accepted.
func (d *Driver) Connect(meta *driver.Metadata, addr Addr) error {
	data, err := socketData(meta)
	if err != nil {
		return err
	}

	d.mu.Lock()
	var server *Data
	for _, b := range d.bindings {
		if b.addr.equal(addr) {
			server = b.data
			break
		}
	}
	if server == nil {
		d.mu.Unlock()
		return kerr.ErrConnectionRefused
	}
	state, ok := d.servers[server]
	if !ok {
		d.mu.Unlock()
		return kerr.ErrConnectionRefused
	}
	d.mu.Unlock()

	buf := newBuffers()

	data.mu.Lock()
	data.role = roleClient
	data.buf = buf
	data.mu.Unlock()

	var localAddr Addr
	data.mu.Lock()
	localAddr = data.addr
	data.mu.Unlock()

	d.mu.Lock()
	state.pending = append(state.pending, pendingConn{buf: buf, peerAddr: localAddr})
	woken := state.waiting.DrainAll()
	d.mu.Unlock()

	for _, pid := range woken {
		if d.waker != nil {
			_ = d.waker.Unblock(pid, 0)
		}
	}
	return nil
}

// AcceptResult is what a successful Accept hands back to the syscall
// layer: the metadata for the new server-role FD plus the client's
// address, for the dispatcher to copy into the caller's out_addr.
type AcceptResult struct {
	Metadata *driver.Metadata
	PeerAddr Addr
}

// Accept pops the oldest pending connection, or blocks the caller if none
// is queued yet.
func (d *Driver) Accept(meta *driver.Metadata, caller fd.PID) (AcceptResult, driver.Result) {
	data, err := socketData(meta)
	if err != nil {
		return AcceptResult{}, driver.Fail(err)
	}

	d.mu.Lock()
	state, ok := d.servers[data]
	if !ok {
		d.mu.Unlock()
		return AcceptResult{}, driver.Fail(kerr.ErrInvalidArgument)
	}
	if len(state.pending) == 0 {
		state.waiting.Add(caller)
		d.mu.Unlock()
		return AcceptResult{}, driver.Block()
	}
	conn := state.pending[0]
	state.pending = state.pending[1:]
	d.mu.Unlock()

	newData := &Data{role: roleServer, buf: conn.buf}
	newMeta := &driver.Metadata{Type: driver.FileTypeDevice, Name: "socket", Driver: d, Data: newData}

	return AcceptResult{Metadata: newMeta, PeerAddr: conn.peerAddr}, driver.OK(0)
}

// socketData extracts and type-asserts meta's driver-private payload.
func socketData(meta *driver.Metadata) (*Data, error) {
	data, ok := meta.Data.(*Data)
	if !ok || data == nil {
		return nil, kerr.ErrBadFD
	}
	return data, nil
}

// Read services a connected socket's read side: a server reads RX, a
// client reads TX, depending on which end of the pair this FD represents.
func (d *Driver) Read(meta *driver.Metadata, caller fd.PID, _, count int64, out []byte) driver.Result {
	data, err := socketData(meta)
	if err != nil {
		return driver.Fail(err)
	}
	data.mu.Lock()
	buf := data.buf
	r := data.role
	data.mu.Unlock()
	if buf == nil {
		return driver.Fail(kerr.ErrInvalidArgument)
	}

	var src *ring
	if r == roleServer {
		src = buf.rx
	} else {
		src = buf.tx
	}

	buf.mu.Lock()
	src.mu.Lock()
	if src.offset == 0 {
		src.mu.Unlock()
		buf.readers.Add(caller)
		buf.mu.Unlock()
		return driver.Block()
	}

	n := int(count)
	if n > src.offset {
		n = src.offset
	}
	copy(out, src.data[:n])
	copy(src.data, src.data[n:src.offset])
	src.offset -= n
	src.mu.Unlock()
	woken := buf.writers.DrainAll()
	buf.mu.Unlock()

	for _, pid := range woken {
		if d.waker != nil {
			_ = d.waker.Unblock(pid, 0)
		}
	}
	if d.events != nil {
		d.events.Notify(event.Event{Kind: event.ReadyToWrite, Data: event.ReadWriteData{BytesAvailable: int64(len(src.data) - src.offset)}})
	}
	return driver.OK(int64(n))
}

// Write services a connected socket's write side: a client writes RX
// (what the server reads), a server writes TX (what the client reads).
func (d *Driver) Write(meta *driver.Metadata, caller fd.PID, _, count int64, in []byte) driver.Result {
	data, err := socketData(meta)
	if err != nil {
		return driver.Fail(err)
	}
	data.mu.Lock()
	buf := data.buf
	r := data.role
	data.mu.Unlock()
	if buf == nil {
		return driver.Fail(kerr.ErrInvalidArgument)
	}

	var dst *ring
	if r == roleServer {
		dst = buf.tx
	} else {
		dst = buf.rx
	}

	buf.mu.Lock()
	dst.mu.Lock()
	n := int(count)
	if dst.offset+n > len(dst.data) {
		dst.mu.Unlock()
		buf.writers.Add(caller)
		buf.mu.Unlock()
		return driver.Block()
	}
	copy(dst.data[dst.offset:], in[:n])
	dst.offset += n
	dst.mu.Unlock()
	woken := buf.readers.DrainAll()
	buf.mu.Unlock()

	for _, pid := range woken {
		if d.waker != nil {
			_ = d.waker.Unblock(pid, 0)
		}
	}
	if d.events != nil {
		d.events.Notify(event.Event{Kind: event.ReadyToRead, Data: event.ReadWriteData{BytesAvailable: int64(n)}})
	}
	return driver.OK(int64(n))
}

// ReadRaw: a socket has no backing block device.
func (d *Driver) ReadRaw(int64, int64, []byte) driver.Result {
	return driver.Fail(kerr.ErrNotSupported)
}

// Close removes this FD's listener state and address binding, if any,
// whatever the buffer refcount, then decrements the connection's buffer
// refcount and clears the pair's waiter lists once it reaches zero. A
// socket that was never connected (bound-but-not-accepted server FD, or a
// plain unbound FD) has no buffers to release.
func (d *Driver) Close(meta *driver.Metadata) error {
	data, err := socketData(meta)
	if err != nil {
		return err
	}

	data.mu.Lock()
	buf := data.buf
	addr := data.addr
	data.mu.Unlock()

	d.mu.Lock()
	if _, isServer := d.servers[data]; isServer {
		delete(d.servers, data)
	}
	for i, b := range d.bindings {
		if b.data == data && addr.Len > 0 {
			d.bindings = append(d.bindings[:i], d.bindings[i+1:]...)
			break
		}
	}
	d.mu.Unlock()

	if buf == nil {
		return nil
	}

	buf.mu.Lock()
	buf.refCount--
	release := buf.refCount <= 0
	buf.mu.Unlock()
	if release {
		buf.readers.Clear()
		buf.writers.Clear()
	}
	return nil
}

// Dup increments the shared buffer's refcount for a dup'd or fork-
// inherited FD. Fork inherits a reference to the same buffer pair rather
// than severing or duplicating it, so writes from either the parent's or
// the child's copy of the FD are visible to the same peer (first-writer-
// wins on the shared ring, same as two threads sharing one FD would see).
func (d *Driver) Dup(meta *driver.Metadata) {
	data, err := socketData(meta)
	if err != nil || data.buf == nil {
		return
	}
	data.buf.mu.Lock()
	data.buf.refCount++
	data.buf.mu.Unlock()
}
