// Copyright 2023 Google Inc. All Rights Reserved.
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

// Package klog is the kernel's structured logger. It wraps log/slog with a
// severity scheme matching the five levels the dispatcher and drivers care
// about, and can render either human-readable text or JSON.
package klog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Severity mirrors the five levels used throughout the kernel. They are
// distinct from slog's built-in levels so that TRACE (below DEBUG) has a
// place to live.
type Severity int

const (
	LevelTrace Severity = iota
	LevelDebug
	LevelInfo
	LevelWarning
	LevelError
)

func (s Severity) String() string {
	switch s {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (s Severity) slogLevel() slog.Level {
	switch s {
	case LevelTrace:
		return slog.Level(-8)
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

var (
	mu        sync.Mutex
	logger    *slog.Logger
	minLevel  = LevelInfo
	extraSink io.Writer
)

func init() {
	logger = newLogger("text", os.Stderr)
}

func newLogger(format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.Level(-8)}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// UpdateDefaultLogger rebuilds the process-wide logger with the given
// format ("text" or "json"), tagging every record with the given process
// name so multi-process test harnesses can tell output apart.
func UpdateDefaultLogger(format, process string) {
	mu.Lock()
	defer mu.Unlock()
	l := newLogger(format, os.Stderr)
	if process != "" {
		l = l.With("process", process)
	}
	logger = l
}

// SetMinSeverity suppresses records below the given severity.
func SetMinSeverity(s Severity) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = s
}

// AddWriterAndRefresh tees subsequent records to an additional writer, e.g.
// a pipe feeding a diagnostic visualizer attached via `nyx trace`.
func AddWriterAndRefresh(w io.Writer, process string) {
	mu.Lock()
	defer mu.Unlock()
	extraSink = w
	base := newLogger("json", io.MultiWriter(os.Stderr, w))
	if process != "" {
		base = base.With("process", process)
	}
	logger = base
}

func log(sev Severity, format string, args ...any) {
	mu.Lock()
	l, min := logger, minLevel
	mu.Unlock()
	if sev < min {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	l.Log(context.Background(), sev.slogLevel(), msg, "severity", sev.String())
}

func Tracef(format string, args ...any)   { log(LevelTrace, format, args...) }
func Debugf(format string, args ...any)   { log(LevelDebug, format, args...) }
func Infof(format string, args ...any)    { log(LevelInfo, format, args...) }
func Warnf(format string, args ...any)    { log(LevelWarning, format, args...) }
func Errorf(format string, args ...any)   { log(LevelError, format, args...) }

// LegacyWriter adapts klog to the io.Writer-based loggers that some
// external collaborators (e.g. the ELF loader's progress log) expect.
type LegacyWriter struct {
	Severity Severity
	Prefix   string
}

func NewLegacyLogger(sev Severity, prefix, process string) *LegacyWriter {
	return &LegacyWriter{Severity: sev, Prefix: prefix}
}

func (w *LegacyWriter) Write(p []byte) (int, error) {
	log(w.Severity, "%s%s", w.Prefix, string(p))
	return len(p), nil
}
