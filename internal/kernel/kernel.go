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

// Package kernel wires every subsystem package (scheduler, event manager,
// VFS, the pipe/input/socket drivers, the memory allocators and the
// syscall dispatcher) into one System built from independently testable
// pieces.
package kernel

import (
	"context"
	"errors"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/sync/errgroup"

	"github.com/nyxproject/nyx/clock"
	"github.com/nyxproject/nyx/internal/klog"
	"github.com/nyxproject/nyx/internal/kernel/elf"
	"github.com/nyxproject/nyx/internal/kernel/event"
	"github.com/nyxproject/nyx/internal/kernel/fd"
	"github.com/nyxproject/nyx/internal/kernel/input"
	"github.com/nyxproject/nyx/internal/kernel/mem"
	"github.com/nyxproject/nyx/internal/kernel/metrics"
	"github.com/nyxproject/nyx/internal/kernel/pipe"
	"github.com/nyxproject/nyx/internal/kernel/process"
	"github.com/nyxproject/nyx/internal/kernel/socket"
	"github.com/nyxproject/nyx/internal/kernel/syscall"
	"github.com/nyxproject/nyx/internal/kernel/vfs"
)

// Config bounds the resources a booted System gets: how many physical
// frames back the frame allocator, how big the byte-addressed heap is,
// and how often the scheduler's tick loop runs.
type Config struct {
	PhysicalFrames int
	HeapBytes      int
	TickInterval   time.Duration
}

// DefaultConfig returns reasonable boot parameters for a single-CPU kernel
// instance: 64k physical frames (256MiB at FrameSize), a heap sized by
// ChooseHeapPageBudget over those frames, and a 10ms tick.
func DefaultConfig() Config {
	frames := 1 << 16
	return Config{
		PhysicalFrames: frames,
		HeapBytes:      mem.ChooseHeapPageBudget(frames) * mem.FrameSize,
		TickInterval:   10 * time.Millisecond,
	}
}

// System is every kernel subsystem, constructed once at boot and handed
// to the syscall dispatcher. Fields are exported so cmd/ can inspect them
// (e.g. to register additional mounts before Run starts the tick loop).
type System struct {
	Scheduler *process.Scheduler
	Events    *event.Manager
	VFS       *vfs.VFS
	Pipes     *pipe.Driver
	Sockets   *socket.Driver
	Input     *input.Driver
	Frames    *mem.FrameAllocator
	Heap      *mem.Heap
	Metrics   *metrics.Kernel

	Dispatcher *syscall.Dispatcher

	clock clock.Clock
	tick  time.Duration
}

// Boot constructs a System from cfg, wiring the scheduler and event
// manager's circular dependency: the scheduler implements both
// driver.Waker and event.ProcessLookup, and the manager is told about it
// via SetLookup once both exist.
func Boot(cfg Config) (*System, error) {
	sched := process.NewScheduler()
	events := event.NewManager(nil)
	events.SetLookup(sched)

	pipes := pipe.New(sched, events)
	sockets := socket.New(sched, events)
	in := input.New(sched, events)

	v := vfs.New()
	v.RegisterBuiltin("pipe:", pipes)
	v.RegisterBuiltin("socket:", sockets)
	v.RegisterBuiltin("/dev/stdin", in)

	// Back the global otel MeterProvider with the Prometheus exporter so
	// `nyx trace --metrics-addr` has something to serve; the exporter
	// registers itself as a collector on Prometheus's default registerer.
	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)))

	m, err := metrics.New()
	if err != nil {
		return nil, err
	}
	sched.SetMetrics(m)
	events.SetMetrics(m)

	dispatcher := syscall.NewDispatcher(v, sched, events, pipes, sockets, in)
	dispatcher.SetMetrics(m)

	return &System{
		Scheduler:  sched,
		Events:     events,
		VFS:        v,
		Pipes:      pipes,
		Sockets:    sockets,
		Input:      in,
		Frames:     mem.NewFrameAllocator(cfg.PhysicalFrames),
		Heap:       mem.NewHeap(cfg.HeapBytes),
		Metrics:    m,
		Dispatcher: dispatcher,
		clock:      clock.RealClock{},
		tick:       cfg.TickInterval,
	}, nil
}

// Run drives the scheduler's tick loop and a slower metrics-export
// heartbeat as two fanned-out goroutines, returning when ctx is canceled
// or either one errors. The tick loop is the timer-interrupt analogue
// that drives Scheduler.Tick; the heartbeat re-publishes the run-queue
// depth on its own cadence so a stalled tick loop still surfaces in
// metrics instead of going silent.
func (s *System) Run(ctx context.Context) error {
	klog.Debugf("kernel tick loop starting, interval=%s", s.tick)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.clock.After(s.tick):
				s.Scheduler.Tick()
				s.Metrics.SetRunQueueDepth(s.Scheduler.RunQueueDepth())
			}
		}
	})

	g.Go(func() error {
		heartbeat := s.tick * 10
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.clock.After(heartbeat):
				s.Metrics.SetRunQueueDepth(s.Scheduler.RunQueueDepth())
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// LoadELF parses an ELF64 image and reports its loadable segments. It
// does not copy any bytes into the frame allocator or heap; this kernel
// has no address-space-mapping path, so exec can only validate and
// describe a binary's layout, not actually run it. SysExec uses this
// same parser to record a process's segments through the syscall layer.
func (s *System) LoadELF(r io.ReaderAt) (*elf.Binary, error) {
	return elf.Parse(r)
}

// NewProcess starts a fresh process as a child of parent (0 for none) and
// returns its PID.
func (s *System) NewProcess(parent fd.PID) fd.PID {
	return s.Scheduler.NewProcess(parent).PID()
}
