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

// Package syscall implements the dense numbered syscall table: FD
// translation, buffer pinning, and the `-2`/WouldBlock → Blocked
// transition a driver's Result drives. The table-of-handlers shape is
// modeled on fuseutil's FileSystem interface plus its method-per-op
// dispatch switch, generalized here to a numbered table rather than a
// named-operation one because the numbered ABI this table serves is
// index-keyed rather than name-keyed.
package syscall

import (
	"bytes"

	"github.com/nyxproject/nyx/internal/kerr"
	"github.com/nyxproject/nyx/internal/kernel/driver"
	"github.com/nyxproject/nyx/internal/kernel/elf"
	"github.com/nyxproject/nyx/internal/kernel/event"
	"github.com/nyxproject/nyx/internal/kernel/fd"
	"github.com/nyxproject/nyx/internal/kernel/input"
	"github.com/nyxproject/nyx/internal/kernel/metrics"
	"github.com/nyxproject/nyx/internal/kernel/pipe"
	"github.com/nyxproject/nyx/internal/kernel/process"
	"github.com/nyxproject/nyx/internal/kernel/socket"
	"github.com/nyxproject/nyx/internal/kernel/vfs"
)

// Number is a syscall slot index; the fixed numbering below is the
// external contract and must not be renumbered.
type Number int

const (
	Open Number = iota
	Close
	Read
	Write
	Poke
	Exit
	Fork
	Exec
	Waitpid
	DirectoryData
	Pwd
	Socket
	Bind
	Listen
	Accept
	Connect
	LayPipe
	Sleep
	Yield

	// NumSlots is the dense table size: at least 26 slots in the external
	// ABI even though this kernel implements fewer distinct operations.
	// The remaining slots are reserved (ENOSYS).
	NumSlots = 26
)

// Result is the dispatcher-level sum type returned to the caller's
// syscall ABI register: a 64-bit value, or WouldBlock (the ABI's `-2`),
// or a hard error. It mirrors driver.Result at the syscall boundary
// rather than reusing it directly, since a syscall's return value (e.g.
// a new FD from open, not a byte count) doesn't always come from a
// driver call.
type Result struct {
	Value      int64
	Err        error
	WouldBlock bool
}

func ok(v int64) Result      { return Result{Value: v} }
func fail(err error) Result  { return Result{Err: err} }
func blocked() Result        { return Result{WouldBlock: true} }
func fromDriver(r driver.Result) Result {
	return Result{Value: r.N, Err: r.Err, WouldBlock: r.WouldBlock}
}

// Args is the up-to-six-argument, one-return-value calling convention
// the numbered ABI specifies. Pointer-shaped arguments (paths, buffers,
// addresses) are carried out of band via the Dispatch call's explicit
// parameters rather than packed into this array, since Go has no "pin
// this user buffer" step to model: there is no MMU here, so a pointer
// argument is just a Go value passed directly.
type Args [6]int64

// Handlers is the one-method-per-syscall interface *Dispatcher
// implements; Dispatch routes each syscall number to its method.
type Handlers interface {
	SysOpen(pid fd.PID, path string) Result
	SysClose(pid fd.PID, procFD fd.ProcFD) Result
	SysRead(pid fd.PID, procFD fd.ProcFD, count int64, out []byte) Result
	SysWrite(pid fd.PID, procFD fd.ProcFD, count int64, in []byte) Result
	SysPoke(pid fd.PID) Result
	SysExit(pid fd.PID, status int64) Result
	SysFork(pid fd.PID) Result
	SysExec(pid fd.PID, path string) Result
	SysWaitpid(pid fd.PID, child fd.PID) Result
	SysSocket(pid fd.PID) Result
	SysBind(pid fd.PID, procFD fd.ProcFD, addr socket.Addr) Result
	SysListen(pid fd.PID, procFD fd.ProcFD, backlog int) Result
	SysAccept(pid fd.PID, procFD fd.ProcFD) (Result, socket.Addr)
	SysConnect(pid fd.PID, procFD fd.ProcFD, addr socket.Addr) Result
	SysLayPipe(pid fd.PID) (readFD, writeFD fd.ProcFD, res Result)
	SysSleep(pid fd.PID, wakeTick uint64) Result
	SysYield(pid fd.PID) Result
}

// Dispatcher wires the VFS, scheduler, event manager, and the pipe/input/
// socket drivers together behind the numbered syscall table.
type Dispatcher struct {
	vfs     *vfs.VFS
	sched   *process.Scheduler
	events  *event.Manager
	pipes   *pipe.Driver
	sockets *socket.Driver
	input   *input.Driver
	metrics *metrics.Kernel
}

// NewDispatcher builds a Dispatcher over the given subsystems.
func NewDispatcher(v *vfs.VFS, sched *process.Scheduler, events *event.Manager, pipes *pipe.Driver, sockets *socket.Driver, in *input.Driver) *Dispatcher {
	d := &Dispatcher{vfs: v, sched: sched, events: events, pipes: pipes, sockets: sockets, input: in}
	return d
}

// SetMetrics attaches the metrics handle Dispatch records syscall count,
// latency, and error outcomes through. Until called, dispatch still
// works, it just isn't instrumented.
func (d *Dispatcher) SetMetrics(m *metrics.Kernel) {
	d.metrics = m
}

// currentFDTable resolves pid's FD table via the scheduler, for the
// process-FD → system-FD translation required before every call that
// takes an FD argument.
func (d *Dispatcher) currentFDTable(pid fd.PID) (*fd.Table, error) {
	p, err := d.sched.Process(pid)
	if err != nil {
		return nil, err
	}
	return p.FDTable(), nil
}

// translate resolves a process FD to the system FD it currently maps to.
func (d *Dispatcher) translate(pid fd.PID, procFD fd.ProcFD) (fd.SystemFD, error) {
	table, err := d.currentFDTable(pid)
	if err != nil {
		return 0, err
	}
	return table.Lookup(procFD)
}

// SysOpen implements syscall 0.
func (d *Dispatcher) SysOpen(pid fd.PID, path string) Result {
	sysFD, err := d.vfs.Open(path)
	if err != nil {
		return fail(err)
	}

	table, err := d.currentFDTable(pid)
	if err != nil {
		return fail(err)
	}
	procFD := table.Install(sysFD)
	return ok(int64(procFD))
}

// SysClose implements syscall 1.
func (d *Dispatcher) SysClose(pid fd.PID, procFD fd.ProcFD) Result {
	table, err := d.currentFDTable(pid)
	if err != nil {
		return fail(err)
	}
	sysFD, err := table.Remove(procFD)
	if err != nil {
		return fail(err)
	}
	if err := d.vfs.Close(sysFD); err != nil {
		return fail(err)
	}
	return ok(0)
}

// SysRead implements syscall 2: blocks (WouldBlock) if the driver does,
// since a syscall suspends only when a driver returns WouldBlock.
func (d *Dispatcher) SysRead(pid fd.PID, procFD fd.ProcFD, count int64, out []byte) Result {
	sysFD, err := d.translate(pid, procFD)
	if err != nil {
		return fail(err)
	}
	res := d.vfs.Read(sysFD, pid, count, out)
	if res.WouldBlock {
		_ = d.sched.Block(pid, process.BlockReason{Kind: process.WaitingForRead, FD: procFD})
	}
	return fromDriver(res)
}

// SysWrite implements syscall 3.
func (d *Dispatcher) SysWrite(pid fd.PID, procFD fd.ProcFD, count int64, in []byte) Result {
	sysFD, err := d.translate(pid, procFD)
	if err != nil {
		return fail(err)
	}
	res := d.vfs.Write(sysFD, pid, count, in)
	if res.WouldBlock {
		_ = d.sched.Block(pid, process.BlockReason{Kind: process.WaitingForWrite, FD: procFD})
	}
	return fromDriver(res)
}

// SysPoke implements syscall 4, a diagnostic no-op.
func (d *Dispatcher) SysPoke(fd.PID) Result { return ok(0) }

// SysExit implements syscall 5.
func (d *Dispatcher) SysExit(pid fd.PID, status int64) Result {
	p, err := d.sched.Process(pid)
	if err != nil {
		return fail(err)
	}
	p.FDTable().Each(func(_ fd.ProcFD, sysFD fd.SystemFD) {
		_ = d.vfs.Close(sysFD)
	})
	if err := d.sched.Exit(pid); err != nil {
		return fail(err)
	}
	return ok(status)
}

// SysFork implements the fork syscall: returns the child PID to the
// parent.
func (d *Dispatcher) SysFork(pid fd.PID) Result {
	child, err := d.sched.Fork(pid)
	if err != nil {
		return fail(err)
	}
	child.FDTable().Each(func(_ fd.ProcFD, sysFD fd.SystemFD) {
		_ = d.vfs.IncRef(sysFD)
	})
	return ok(int64(child.PID()))
}

// SysExec implements the exec syscall: opens path, reads its full image,
// parses the ELF64 header and program-header table, and records the
// entry point and loadable segment list on the calling process. It does
// not copy any bytes into the frame allocator or map any memory; there is
// no address-space-mapping path in this kernel, so exec can validate and
// describe a binary's layout but not actually replace the running image.
func (d *Dispatcher) SysExec(pid fd.PID, path string) Result {
	p, err := d.sched.Process(pid)
	if err != nil {
		return fail(err)
	}

	sysFD, err := d.vfs.Open(path)
	if err != nil {
		return fail(err)
	}
	defer func() { _ = d.vfs.Close(sysFD) }()

	var image bytes.Buffer
	buf := make([]byte, 4096)
	for {
		res := d.vfs.Read(sysFD, pid, int64(len(buf)), buf)
		if res.WouldBlock {
			return fail(kerr.ErrInvalidArgument)
		}
		if res.Err != nil {
			return fail(res.Err)
		}
		if res.N == 0 {
			break
		}
		image.Write(buf[:res.N])
	}

	bin, err := elf.Parse(bytes.NewReader(image.Bytes()))
	if err != nil {
		return fail(err)
	}
	p.SetSegments(bin.Header.Entry, bin.Segments)
	return ok(int64(len(bin.Segments)))
}

// SysWaitpid blocks pid until child exits, per BlockKind WaitingForChild.
func (d *Dispatcher) SysWaitpid(pid fd.PID, child fd.PID) Result {
	if err := d.sched.Block(pid, process.BlockReason{Kind: process.WaitingForChild, Child: child}); err != nil {
		return fail(err)
	}
	return blocked()
}

// SysSocket implements the socket(2) syscall: allocate an unbound,
// unconnected socket FD.
func (d *Dispatcher) SysSocket(pid fd.PID) Result {
	meta, err := d.sockets.Open("socket")
	if err != nil {
		return fail(err)
	}
	sysFD := d.vfs.Install(d.sockets, meta)
	table, err := d.currentFDTable(pid)
	if err != nil {
		return fail(err)
	}
	return ok(int64(table.Install(sysFD)))
}

// SysBind implements bind(2).
func (d *Dispatcher) SysBind(pid fd.PID, procFD fd.ProcFD, addr socket.Addr) Result {
	meta, _, err := d.socketMeta(pid, procFD)
	if err != nil {
		return fail(err)
	}
	if err := d.sockets.Bind(meta, addr); err != nil {
		return fail(err)
	}
	return ok(0)
}

// SysListen implements listen(2).
func (d *Dispatcher) SysListen(pid fd.PID, procFD fd.ProcFD, backlog int) Result {
	meta, _, err := d.socketMeta(pid, procFD)
	if err != nil {
		return fail(err)
	}
	if err := d.sockets.Listen(meta, backlog); err != nil {
		return fail(err)
	}
	return ok(0)
}

// SysAccept implements accept(2): blocks on an empty pending queue, else
// installs a fresh FD for the accepted connection and returns the peer
// address.
func (d *Dispatcher) SysAccept(pid fd.PID, procFD fd.ProcFD) (Result, socket.Addr) {
	meta, _, err := d.socketMeta(pid, procFD)
	if err != nil {
		return fail(err), socket.Addr{}
	}

	accepted, res := d.sockets.Accept(meta, pid)
	if res.WouldBlock {
		_ = d.sched.Block(pid, process.BlockReason{Kind: process.WaitingForAccept, FD: procFD})
		return blocked(), socket.Addr{}
	}
	if res.Err != nil {
		return fail(res.Err), socket.Addr{}
	}

	sysFD := d.vfs.Install(d.sockets, accepted.Metadata)
	table, err := d.currentFDTable(pid)
	if err != nil {
		return fail(err), socket.Addr{}
	}
	return ok(int64(table.Install(sysFD))), accepted.PeerAddr
}

// SysConnect implements connect(2).
func (d *Dispatcher) SysConnect(pid fd.PID, procFD fd.ProcFD, addr socket.Addr) Result {
	meta, _, err := d.socketMeta(pid, procFD)
	if err != nil {
		return fail(err)
	}
	if err := d.sockets.Connect(meta, addr); err != nil {
		return fail(err)
	}
	return ok(0)
}

// SysLayPipe implements lay_pipe: mints an anonymous pipe and installs
// both ends into the caller's FD table.
func (d *Dispatcher) SysLayPipe(pid fd.PID) (fd.ProcFD, fd.ProcFD, Result) {
	readMeta, writeMeta := d.pipes.LayPipe()
	readSys := d.vfs.Install(d.pipes, readMeta)
	writeSys := d.vfs.Install(d.pipes, writeMeta)

	table, err := d.currentFDTable(pid)
	if err != nil {
		return 0, 0, fail(err)
	}
	return table.Install(readSys), table.Install(writeSys), ok(0)
}

// SysSleep implements the sleep syscall: blocks the caller until the
// scheduler's tick counter reaches wakeTick.
func (d *Dispatcher) SysSleep(pid fd.PID, wakeTick uint64) Result {
	if err := d.sched.Sleep(pid, wakeTick); err != nil {
		return fail(err)
	}
	return blocked()
}

// SysYield cooperatively yields the CPU.
func (d *Dispatcher) SysYield(fd.PID) Result {
	d.sched.Yield()
	return ok(0)
}

// socketMeta resolves procFD to its socket driver metadata, failing
// InvalidArgument if the FD names something that isn't a socket.
func (d *Dispatcher) socketMeta(pid fd.PID, procFD fd.ProcFD) (*driver.Metadata, driver.StorageDevice, error) {
	sysFD, err := d.translate(pid, procFD)
	if err != nil {
		return nil, nil, err
	}
	meta, dev, err := d.vfs.Metadata(sysFD)
	if err != nil {
		return nil, nil, err
	}
	if dev != driver.StorageDevice(d.sockets) {
		return nil, nil, kerr.ErrInvalidArgument
	}
	return meta, dev, nil
}
