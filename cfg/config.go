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

// GENERATED CODE - DO NOT EDIT MANUALLY.

package cfg

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full set of boot parameters a nyx instance accepts,
// from a YAML file or command-line flags (BindFlags binds the flags; a flag
// that is set takes priority over the file). Environment variables are
// not read.
type Config struct {
	AppName string `yaml:"app-name"`

	Debug DebugConfig `yaml:"debug"`

	FileSystem FileSystemConfig `yaml:"file-system"`

	Logging LoggingConfig `yaml:"logging"`

	Scheduler SchedulerConfig `yaml:"scheduler"`

	Pipe PipeConfig `yaml:"pipe"`

	EventQueue EventQueueConfig `yaml:"event-queue"`

	Memory MemoryConfig `yaml:"memory"`
}

type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`

	LogMutex bool `yaml:"log-mutex"`
}

type FileSystemConfig struct {
	FileMode Octal `yaml:"file-mode"`

	Uid int `yaml:"uid"`
}

// LoggingConfig controls the kernel's structured log output.
type LoggingConfig struct {
	Severity LogSeverity `yaml:"severity"`

	Format string `yaml:"format"`

	// CrashFile, if non-empty, additionally appends every log record to
	// this path so a panic's output survives past terminal scrollback.
	CrashFile string `yaml:"crash-file"`

	LogRotate LogRotateLoggingConfig `yaml:"log-rotate"`
}

// LogRotateLoggingConfig configures rotation of the on-disk kernel log.
type LogRotateLoggingConfig struct {
	MaxFileSizeMb int `yaml:"max-file-size-mb"`

	BackupFileCount int `yaml:"backup-file-count"`

	Compress bool `yaml:"compress"`
}

// SchedulerConfig bounds the process scheduler's tick loop.
type SchedulerConfig struct {
	TickInterval time.Duration `yaml:"tick-interval"`

	MaxProcesses int `yaml:"max-processes"`
}

// PipeConfig sizes the pipe driver's per-buffer ring.
type PipeConfig struct {
	BufferSizeBytes int `yaml:"buffer-size-bytes"`
}

// EventQueueConfig bounds how many pending events a subscriber's queue
// holds before the event manager starts dropping the oldest one.
type EventQueueConfig struct {
	Capacity int `yaml:"capacity"`
}

// MemoryConfig bounds the frame allocator and heap the kernel boots with.
type MemoryConfig struct {
	PhysicalFrames int `yaml:"physical-frames"`

	HeapBytes int `yaml:"heap-bytes"`
}

func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("app-name", "", "", "The application name of this boot.")

	err = viper.BindPFlag("app-name", flagSet.Lookup("app-name"))
	if err != nil {
		return err
	}

	flagSet.BoolP("debug_invariants", "", false, "Exit when internal invariants are violated.")

	err = viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug_invariants"))
	if err != nil {
		return err
	}

	flagSet.BoolP("debug_mutex", "", false, "Print debug messages when a mutex is held too long.")

	err = viper.BindPFlag("debug.log-mutex", flagSet.Lookup("debug_mutex"))
	if err != nil {
		return err
	}

	flagSet.IntP("file-mode", "", 0, "Permissions bits for files, in octal.")

	err = viper.BindPFlag("file-system.file-mode", flagSet.Lookup("file-mode"))
	if err != nil {
		return err
	}

	flagSet.IntP("uid", "", -1, "UID owner of all inodes.")

	err = viper.BindPFlag("file-system.uid", flagSet.Lookup("uid"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", string(InfoLogSeverity), "Minimum severity a log line must have to be emitted.")

	err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "text", "Log line encoding: text or json.")

	err = viper.BindPFlag("logging.format", flagSet.Lookup("log-format"))
	if err != nil {
		return err
	}

	flagSet.DurationP("tick-interval", "", 10*time.Millisecond, "Scheduler tick interval.")

	err = viper.BindPFlag("scheduler.tick-interval", flagSet.Lookup("tick-interval"))
	if err != nil {
		return err
	}

	flagSet.IntP("max-processes", "", 4096, "Maximum number of simultaneously live processes.")

	err = viper.BindPFlag("scheduler.max-processes", flagSet.Lookup("max-processes"))
	if err != nil {
		return err
	}

	flagSet.IntP("pipe-buffer-size-bytes", "", 512, "Byte capacity of each pipe's ring buffer.")

	err = viper.BindPFlag("pipe.buffer-size-bytes", flagSet.Lookup("pipe-buffer-size-bytes"))
	if err != nil {
		return err
	}

	flagSet.IntP("event-queue-capacity", "", 64, "Maximum pending events per subscriber queue.")

	err = viper.BindPFlag("event-queue.capacity", flagSet.Lookup("event-queue-capacity"))
	if err != nil {
		return err
	}

	flagSet.IntP("physical-frames", "", 1<<16, "Number of physical page frames the frame allocator manages.")

	err = viper.BindPFlag("memory.physical-frames", flagSet.Lookup("physical-frames"))
	if err != nil {
		return err
	}

	flagSet.IntP("heap-bytes", "", 201326592, "Byte size of the kernel heap (must not exceed physical-frames * 4096).")

	err = viper.BindPFlag("memory.heap-bytes", flagSet.Lookup("heap-bytes"))
	if err != nil {
		return err
	}

	return nil
}
