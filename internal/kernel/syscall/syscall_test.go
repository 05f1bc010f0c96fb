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

package syscall

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxproject/nyx/internal/kernel/event"
	"github.com/nyxproject/nyx/internal/kernel/fd"
	"github.com/nyxproject/nyx/internal/kernel/input"
	"github.com/nyxproject/nyx/internal/kernel/pipe"
	"github.com/nyxproject/nyx/internal/kernel/process"
	"github.com/nyxproject/nyx/internal/kernel/socket"
	"github.com/nyxproject/nyx/internal/kernel/vfs"
)

// fakeELF64 builds a minimal, valid ELF64/x86-64 image with a single
// PT_LOAD segment, for exercising SysExec without a real binary on disk.
func fakeELF64(entry, vaddr uint64, segSize uint32) []byte {
	var buf bytes.Buffer

	ident := [16]byte{0x7f, 'E', 'L', 'F', 2 /* ELFCLASS64 */, 1 /* little endian */}
	binary.Write(&buf, binary.LittleEndian, ident)
	binary.Write(&buf, binary.LittleEndian, uint16(2))  // e_type: ET_EXEC
	binary.Write(&buf, binary.LittleEndian, uint16(62)) // e_machine: EM_X86_64
	binary.Write(&buf, binary.LittleEndian, uint32(1))  // e_version
	binary.Write(&buf, binary.LittleEndian, entry)
	binary.Write(&buf, binary.LittleEndian, uint64(64)) // e_phoff: right after the header
	binary.Write(&buf, binary.LittleEndian, uint64(0))  // e_shoff
	binary.Write(&buf, binary.LittleEndian, uint32(0))  // e_flags
	binary.Write(&buf, binary.LittleEndian, uint16(64)) // e_ehsize
	binary.Write(&buf, binary.LittleEndian, uint16(56)) // e_phentsize
	binary.Write(&buf, binary.LittleEndian, uint16(1))  // e_phnum
	binary.Write(&buf, binary.LittleEndian, uint16(0))  // e_shentsize
	binary.Write(&buf, binary.LittleEndian, uint16(0))  // e_shnum
	binary.Write(&buf, binary.LittleEndian, uint16(0))  // e_shstrndx

	binary.Write(&buf, binary.LittleEndian, uint32(1))               // p_type: PT_LOAD
	binary.Write(&buf, binary.LittleEndian, uint32(0x5))             // p_flags: PF_R | PF_X
	binary.Write(&buf, binary.LittleEndian, uint64(0))               // p_offset
	binary.Write(&buf, binary.LittleEndian, vaddr)                   // p_vaddr
	binary.Write(&buf, binary.LittleEndian, uint64(0))               // p_paddr
	binary.Write(&buf, binary.LittleEndian, uint64(segSize))         // p_filesz
	binary.Write(&buf, binary.LittleEndian, uint64(segSize))         // p_memsz
	binary.Write(&buf, binary.LittleEndian, uint64(0x1000))          // p_align

	return buf.Bytes()
}

func newTestDispatcher() (*Dispatcher, *process.Scheduler) {
	sched := process.NewScheduler()
	events := event.NewManager(nil)
	events.SetLookup(sched)
	pipes := pipe.New(sched, events)
	sockets := socket.New(sched, events)
	in := input.New(sched, events)
	v := vfs.New()
	v.RegisterBuiltin("pipe:", pipes)
	return NewDispatcher(v, sched, events, pipes, sockets, in), sched
}

// S1: anonymous pipe round-trip through the syscall surface.
func TestLayPipeOpenReadWriteCloseRoundTrip(t *testing.T) {
	d, sched := newTestDispatcher()
	p := sched.NewProcess(0)

	readFD, writeFD, res := d.SysLayPipe(p.PID())
	require.NoError(t, res.Err)

	msg := []byte("hello")
	wres := d.SysWrite(p.PID(), writeFD, int64(len(msg)), msg)
	require.NoError(t, wres.Err)
	assert.Equal(t, int64(len(msg)), wres.Value)

	out := make([]byte, 5)
	rres := d.SysRead(p.PID(), readFD, 5, out)
	require.NoError(t, rres.Err)
	assert.Equal(t, int64(5), rres.Value)
	assert.Equal(t, msg, out)

	require.NoError(t, d.SysClose(p.PID(), writeFD).Err)

	rres = d.SysRead(p.PID(), readFD, 5, out)
	require.NoError(t, rres.Err)
	assert.Equal(t, int64(0), rres.Value)
}

// S2: named pipe blocking read resumed by another process's write,
// driven entirely through the syscall surface and scheduler.
func TestNamedPipeBlockingReadResumedByWrite(t *testing.T) {
	d, sched := newTestDispatcher()
	p1 := sched.NewProcess(0)
	p2 := sched.NewProcess(0)

	openRes := d.SysOpen(p1.PID(), "pipe:foo")
	require.NoError(t, openRes.Err)
	readFD := int(openRes.Value)

	res := d.SysRead(p1.PID(), fd.ProcFD(readFD), 4, make([]byte, 4))
	assert.True(t, res.WouldBlock)
	assert.Equal(t, process.StateBlocked, p1.State())

	openRes2 := d.SysOpen(p2.PID(), "pipe:foo")
	require.NoError(t, openRes2.Err)
	writeFD := int(openRes2.Value)

	wres := d.SysWrite(p2.PID(), fd.ProcFD(writeFD), 4, []byte("abcd"))
	require.NoError(t, wres.Err)
	assert.Equal(t, int64(4), wres.Value)

	assert.Equal(t, process.StateReady, p1.State())
	retval, err := sched.TakePendingResult(p1.PID())
	require.NoError(t, err)
	assert.Equal(t, int64(0), retval)

	out := make([]byte, 4)
	rres := d.SysRead(p1.PID(), fd.ProcFD(readFD), 4, out)
	require.NoError(t, rres.Err)
	assert.Equal(t, []byte("abcd"), out)
}

func TestSleepBlocksAndResumesOnTick(t *testing.T) {
	d, sched := newTestDispatcher()
	p := sched.NewProcess(0)

	res := d.SysSleep(p.PID(), 3)
	assert.True(t, res.WouldBlock)

	sched.Tick()
	sched.Tick()
	sched.Tick()
	assert.Equal(t, process.StateReady, p.State())
}

// S4: exec parses a binary's image and records its entry point and
// loadable segments on the calling process, driven through the syscall
// surface rather than calling the elf package directly.
func TestSysExecRecordsSegmentsOnProcess(t *testing.T) {
	d, sched := newTestDispatcher()
	writer := sched.NewProcess(0)
	runner := sched.NewProcess(0)

	image := fakeELF64(0x401000, 0x400000, 120)

	openRes := d.SysOpen(writer.PID(), "pipe:prog")
	require.NoError(t, openRes.Err)
	wres := d.SysWrite(writer.PID(), fd.ProcFD(openRes.Value), int64(len(image)), image)
	require.NoError(t, wres.Err)
	require.NoError(t, d.SysClose(writer.PID(), fd.ProcFD(openRes.Value)).Err)

	res := d.SysExec(runner.PID(), "pipe:prog")
	require.NoError(t, res.Err)
	assert.Equal(t, int64(1), res.Value)

	entry, segments := runner.Segments()
	assert.Equal(t, uint64(0x401000), entry)
	require.Len(t, segments, 1)
	assert.Equal(t, uint64(0x400000), segments[0].Vaddr)
	assert.True(t, segments[0].Executable())
}

func TestSlotTableHasAtLeast26Entries(t *testing.T) {
	assert.GreaterOrEqual(t, NumSlots, 26)
	assert.Equal(t, "open", Name(Open))
	assert.Equal(t, "lay_pipe", Name(LayPipe))
}
