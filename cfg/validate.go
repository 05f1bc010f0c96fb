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

package cfg

import "fmt"

func isValidLogRotateConfig(config *LogRotateLoggingConfig) error {
	if config.MaxFileSizeMb <= 0 {
		return fmt.Errorf("max-file-size-mb should be atleast 1")
	}
	if config.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (to retain all backup files) or a positive value")
	}
	return nil
}

func isValidSchedulerConfig(config *SchedulerConfig) error {
	if config.TickInterval <= 0 {
		return fmt.Errorf("tick-interval must be positive")
	}
	if config.MaxProcesses <= 0 {
		return fmt.Errorf("max-processes must be positive")
	}
	return nil
}

func isValidPipeConfig(config *PipeConfig) error {
	if config.BufferSizeBytes <= 0 {
		return fmt.Errorf("buffer-size-bytes must be positive")
	}
	return nil
}

func isValidEventQueueConfig(config *EventQueueConfig) error {
	if config.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive")
	}
	return nil
}

func isValidMemoryConfig(config *MemoryConfig) error {
	if config.PhysicalFrames <= 0 {
		return fmt.Errorf("physical-frames must be positive")
	}
	if config.HeapBytes <= 0 {
		return fmt.Errorf("heap-bytes must be positive")
	}
	if config.HeapBytes > config.PhysicalFrames*4096 {
		return fmt.Errorf("heap-bytes cannot exceed the physical frame budget")
	}
	return nil
}

// ValidateConfig returns a non-nil error if the config is invalid.
func ValidateConfig(config *Config) error {
	if err := isValidLogRotateConfig(&config.Logging.LogRotate); err != nil {
		return fmt.Errorf("error parsing log-rotate config: %w", err)
	}

	if err := isValidSchedulerConfig(&config.Scheduler); err != nil {
		return fmt.Errorf("error parsing scheduler config: %w", err)
	}

	if err := isValidPipeConfig(&config.Pipe); err != nil {
		return fmt.Errorf("error parsing pipe config: %w", err)
	}

	if err := isValidEventQueueConfig(&config.EventQueue); err != nil {
		return fmt.Errorf("error parsing event-queue config: %w", err)
	}

	if err := isValidMemoryConfig(&config.Memory); err != nil {
		return fmt.Errorf("error parsing memory config: %w", err)
	}

	return nil
}
