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

// Package metrics instruments the kernel with OpenTelemetry counters and
// histograms: syscall counts and latencies, the scheduler's run-queue
// depth, per-resource blocked-waiter counts, and event fan-out counts.
// The attribute-set caching pattern avoids re-allocating an attribute.Set
// on every hot-path call.
package metrics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyscallKey annotates a measurement with the syscall name.
	SyscallKey = "syscall"

	// DriverKey annotates a blocked-waiter measurement with the kind of
	// wait (read, write, accept, sleep, child) the process is parked on.
	DriverKey = "driver"
)

var (
	syscallMeter = otel.Meter("nyx/syscall")
	schedMeter   = otel.Meter("nyx/scheduler")
	eventMeter   = otel.Meter("nyx/event")

	syscallAttributeSet sync.Map
	driverAttributeSet  sync.Map
)

func loadOrStoreAttributeOption(mp *sync.Map, key string, attrKey string) metric.MeasurementOption {
	if v, ok := mp.Load(key); ok {
		return v.(metric.MeasurementOption)
	}
	v, _ := mp.LoadOrStore(key, metric.WithAttributeSet(attribute.NewSet(attribute.String(attrKey, key))))
	return v.(metric.MeasurementOption)
}

func syscallAttr(name string) metric.MeasurementOption {
	return loadOrStoreAttributeOption(&syscallAttributeSet, name, SyscallKey)
}

func driverAttr(kind string) metric.MeasurementOption {
	return loadOrStoreAttributeOption(&driverAttributeSet, kind, DriverKey)
}

// Kernel is the handle every subsystem records measurements through.
// Construction can fail if the otel SDK rejects an instrument
// description, so callers get an explicit error rather than a handle
// that silently drops measurements.
type Kernel struct {
	syscallCount   metric.Int64Counter
	syscallLatency metric.Float64Histogram
	syscallErrors  metric.Int64Counter

	runQueueDepthAtomic *atomic.Int64
	blockedWaiters      metric.Int64UpDownCounter
	eventsDelivered     metric.Int64Counter
	eventsDropped       metric.Int64Counter
}

var defaultLatencyDistribution = metric.WithExplicitBucketBoundaries(
	1, 2, 5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000,
)

// New builds the kernel's metric instruments on meters taken from otel's
// global meter provider.
func New() (*Kernel, error) {
	syscallCount, err1 := syscallMeter.Int64Counter("syscall/count",
		metric.WithDescription("The cumulative number of syscalls dispatched."))
	syscallLatency, err2 := syscallMeter.Float64Histogram("syscall/latency",
		metric.WithDescription("Distribution of syscall dispatch latencies."),
		metric.WithUnit("us"), defaultLatencyDistribution)
	syscallErrors, err3 := syscallMeter.Int64Counter("syscall/error_count",
		metric.WithDescription("The cumulative number of syscalls that returned a hard error."))

	var runQueueDepthAtomic atomic.Int64
	_, err4 := schedMeter.Int64ObservableGauge("scheduler/run_queue_depth",
		metric.WithDescription("Number of processes currently Ready or Running."),
		metric.WithInt64Callback(func(_ context.Context, obsrv metric.Int64Observer) error {
			obsrv.Observe(runQueueDepthAtomic.Load())
			return nil
		}))

	blockedWaiters, err5 := schedMeter.Int64UpDownCounter("scheduler/blocked_waiters",
		metric.WithDescription("Number of PIDs currently blocked or sleeping, by kind of wait."))

	eventsDelivered, err6 := eventMeter.Int64Counter("event/delivered_count",
		metric.WithDescription("The cumulative number of events successfully pushed to a subscriber's queue."))
	eventsDropped, err7 := eventMeter.Int64Counter("event/dropped_count",
		metric.WithDescription("The cumulative number of events dropped because the subscriber's process or listening queue was gone."))

	if err := errors.Join(err1, err2, err3, err4, err5, err6, err7); err != nil {
		return nil, err
	}

	return &Kernel{
		syscallCount:        syscallCount,
		syscallLatency:      syscallLatency,
		syscallErrors:       syscallErrors,
		runQueueDepthAtomic: &runQueueDepthAtomic,
		blockedWaiters:      blockedWaiters,
		eventsDelivered:     eventsDelivered,
		eventsDropped:       eventsDropped,
	}, nil
}

// RecordSyscall records one dispatched syscall's name, latency and
// whether it returned a hard error.
func (k *Kernel) RecordSyscall(ctx context.Context, name string, latency time.Duration, failed bool) {
	k.syscallCount.Add(ctx, 1, syscallAttr(name))
	k.syscallLatency.Record(ctx, float64(latency.Microseconds()), syscallAttr(name))
	if failed {
		k.syscallErrors.Add(ctx, 1, syscallAttr(name))
	}
}

// SetRunQueueDepth updates the scheduler's run-queue depth gauge.
func (k *Kernel) SetRunQueueDepth(depth int) {
	k.runQueueDepthAtomic.Store(int64(depth))
}

// WaiterParked increments the blocked-waiter count for the given kind of
// wait ("read", "write", "accept", "sleep", "child"); WaiterWoken
// decrements it.
func (k *Kernel) WaiterParked(ctx context.Context, driverKind string) {
	k.blockedWaiters.Add(ctx, 1, driverAttr(driverKind))
}

func (k *Kernel) WaiterWoken(ctx context.Context, driverKind string) {
	k.blockedWaiters.Add(ctx, -1, driverAttr(driverKind))
}

// EventDelivered and EventDropped record one event.Manager.Notify fan-out
// outcome per subscriber.
func (k *Kernel) EventDelivered(ctx context.Context) { k.eventsDelivered.Add(ctx, 1) }
func (k *Kernel) EventDropped(ctx context.Context)   { k.eventsDropped.Add(ctx, 1) }
