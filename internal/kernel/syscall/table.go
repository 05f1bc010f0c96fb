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
	"context"
	"fmt"
	"time"

	"github.com/nyxproject/nyx/internal/kernel/fd"
	"github.com/nyxproject/nyx/internal/kernel/socket"
)

// slotNames is the dense numbered table's name column. Unimplemented
// slots are reserved rather than repurposed, so that numbers 0-5 and the
// rest stay stable even as more syscalls are added.
var slotNames = [NumSlots]string{
	Open:          "open",
	Close:         "close",
	Read:          "read",
	Write:         "write",
	Poke:          "poke",
	Exit:          "exit",
	Fork:          "fork",
	Exec:          "exec",
	Waitpid:       "waitpid",
	DirectoryData: "directory_data",
	Pwd:           "pwd",
	Socket:        "socket",
	Bind:          "bind",
	Listen:        "listen",
	Accept:        "accept",
	Connect:       "connect",
	LayPipe:       "lay_pipe",
	Sleep:         "sleep",
	Yield:         "yield",
}

// Name returns the syscall number's name, or "" for a reserved slot.
func Name(n Number) string {
	if n < 0 || int(n) >= NumSlots {
		return ""
	}
	return slotNames[n]
}

// Call is everything a numbered syscall invocation carries: the six
// register-width arguments plus whichever out-of-band path/address/buffer
// the particular number needs. The dispatcher's Dispatch switches on
// Number the same way fuseutil's handleOp switches on the incoming op's
// concrete type, except keyed by a small int rather than a Go type.
type Call struct {
	Args Args
	Path string
	Addr any // socket.Addr, set for Bind/Connect
	Buf  []byte
}

// Dispatch routes a numbered syscall to its Handlers method, timing the
// call and recording its outcome through the dispatcher's metrics handle
// if one is attached. It returns the same Result shape regardless of
// number, plus a second value only Accept populates (the peer address);
// callers that don't need it ignore it.
func (d *Dispatcher) Dispatch(ctx context.Context, pid fd.PID, n Number, c Call) (Result, any) {
	start := time.Now()
	res, extra := d.dispatch(pid, n, c)
	if d.metrics != nil {
		d.metrics.RecordSyscall(ctx, Name(n), time.Since(start), res.Err != nil)
	}
	return res, extra
}

// dispatch is the un-instrumented numbered-table switch Dispatch wraps.
func (d *Dispatcher) dispatch(pid fd.PID, n Number, c Call) (Result, any) {
	switch n {
	case Open:
		return d.SysOpen(pid, c.Path), nil
	case Close:
		return d.SysClose(pid, fd.ProcFD(c.Args[0])), nil
	case Read:
		return d.SysRead(pid, fd.ProcFD(c.Args[0]), c.Args[1], c.Buf), nil
	case Write:
		return d.SysWrite(pid, fd.ProcFD(c.Args[0]), c.Args[1], c.Buf), nil
	case Poke:
		return d.SysPoke(pid), nil
	case Exit:
		return d.SysExit(pid, c.Args[0]), nil
	case Fork:
		return d.SysFork(pid), nil
	case Exec:
		return d.SysExec(pid, c.Path), nil
	case Waitpid:
		return d.SysWaitpid(pid, fd.PID(c.Args[0])), nil
	case Socket:
		return d.SysSocket(pid), nil
	case Bind:
		return d.SysBind(pid, fd.ProcFD(c.Args[0]), c.Addr.(socket.Addr)), nil
	case Listen:
		return d.SysListen(pid, fd.ProcFD(c.Args[0]), int(c.Args[1])), nil
	case Accept:
		res, peer := d.SysAccept(pid, fd.ProcFD(c.Args[0]))
		return res, peer
	case Connect:
		return d.SysConnect(pid, fd.ProcFD(c.Args[0]), c.Addr.(socket.Addr)), nil
	case LayPipe:
		readFD, writeFD, res := d.SysLayPipe(pid)
		return res, [2]fd.ProcFD{readFD, writeFD}
	case Sleep:
		return d.SysSleep(pid, uint64(c.Args[0])), nil
	case Yield:
		return d.SysYield(pid), nil
	default:
		return fail(fmt.Errorf("syscall: reserved slot %d", n)), nil
	}
}
