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
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nyxproject/nyx/cfg"
	"github.com/nyxproject/nyx/internal/klog"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error
	KernelConfig  cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "nyx",
	Short: "nyx is a small x86-64 kernel core: VFS, device drivers, scheduler and syscalls",
	Long: `nyx boots a process scheduler, an event manager, a virtual file
system with pluggable storage and filesystem drivers, and the pipe,
input and socket IPC drivers, then dispatches numbered syscalls against
them. It runs as a single Go process rather than bare metal, so this CLI
drives it as a simulation rather than a bootloader.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		if err := cfg.ValidateConfig(&KernelConfig); err != nil {
			return err
		}
		klog.UpdateDefaultLogger(KernelConfig.Logging.Format, "")
		klog.SetMinSeverity(logSeverity(KernelConfig.Logging.Severity))
		if KernelConfig.Logging.CrashFile != "" {
			klog.AddWriterAndRefresh(NewCrashWriter(KernelConfig.Logging.CrashFile), "")
		}
		return nil
	},
}

// logSeverity maps a cfg.LogSeverity onto klog's Severity scale.
func logSeverity(s cfg.LogSeverity) klog.Severity {
	switch s {
	case cfg.TraceLogSeverity:
		return klog.LevelTrace
	case cfg.DebugLogSeverity:
		return klog.LevelDebug
	case cfg.WarningLogSeverity:
		return klog.LevelWarning
	case cfg.ErrorLogSeverity, cfg.OffLogSeverity:
		return klog.LevelError
	default:
		return klog.LevelInfo
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to the config file")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(bootCmd)
	rootCmd.AddCommand(traceCmd)
}

func initConfig() {
	KernelConfig.Logging = cfg.GetDefaultLoggingConfig()

	if cfgFile == "" {
		unmarshalErr = viper.Unmarshal(&KernelConfig, viper.DecodeHook(cfg.DecodeHook()))
		return
	}

	viper.SetConfigFile(cfgFile)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("error while reading config file: %w", err)
		return
	}
	unmarshalErr = viper.Unmarshal(&KernelConfig, viper.DecodeHook(cfg.DecodeHook()))
}
