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

package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nyxproject/nyx/internal/kernel"
	"github.com/nyxproject/nyx/internal/klog"
)

// bootCmd builds a System from the resolved config and runs it until
// SIGINT or SIGTERM asks it to stop.
var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Boot a kernel instance and run it until signaled",
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := kernel.Boot(kernel.Config{
			PhysicalFrames: KernelConfig.Memory.PhysicalFrames,
			HeapBytes:      KernelConfig.Memory.HeapBytes,
			TickInterval:   KernelConfig.Scheduler.TickInterval,
		})
		if err != nil {
			return fmt.Errorf("booting kernel: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		klog.Infof("nyx booted: %d physical frames, %d byte heap, %s tick interval",
			KernelConfig.Memory.PhysicalFrames, KernelConfig.Memory.HeapBytes, KernelConfig.Scheduler.TickInterval)

		err = sys.Run(ctx)
		klog.Infof("nyx shut down")
		return err
	},
}
