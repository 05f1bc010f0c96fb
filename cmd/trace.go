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
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/nyxproject/nyx/internal/kernel"
	"github.com/nyxproject/nyx/internal/klog"
)

var metricsAddr string

// traceCmd boots a System the same way bootCmd does, but instead of just
// running it, dumps the process table and mount table on an interval as a
// debugging aid. When --metrics-addr is set it also exposes /metrics over
// promhttp so a Prometheus scraper can poll the run alongside the printed
// tables.
var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Boot a kernel instance and periodically print its process and mount tables",
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

		if metricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: metricsAddr, Handler: mux}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			go func() {
				klog.Infof("metrics server listening on %s", metricsAddr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					klog.Errorf("metrics server: %v", err)
				}
			}()
		}

		go printTables(ctx, cmd, sys)

		return sys.Run(ctx)
	},
}

// printTables prints the process and mount tables once a second until ctx
// is canceled.
func printTables(ctx context.Context, cmd *cobra.Command, sys *kernel.System) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cmd.Println("--- process table ---")
			for _, p := range sys.Scheduler.Snapshot() {
				cmd.Printf("pid=%d parent=%d state=%s\n", p.PID, p.Parent, p.State)
			}
			cmd.Println("--- mount table ---")
			for _, m := range sys.VFS.Mounts() {
				cmd.Printf("prefix=%q\n", m.Prefix)
			}
		}
	}
}

func init() {
	traceCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "If set, serve Prometheus /metrics on this address (e.g. :9100).")
}
