// Copyright 2025 Palantir Technologies, Inc.
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

package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jaymd96/node-supervisor/nodelib"
)

func newProvisionCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Locate or install the node binaries without starting the node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			logger := nodelib.NewLogger(cmd.ErrOrStderr(), cfg.Logging)
			// The install directory itself is created on provisioning, one level only.
			if err := nodelib.CreateDirectories([]string{filepath.Dir(cfg.InstallDir)}); err != nil {
				return err
			}
			supervisor := nodelib.New(cfg.SupervisorOptions(logger, nil))

			path, err := supervisor.ResolveBinary()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func newConfigCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the node configuration file",
	}
	cmd.AddCommand(newConfigInitCommand(flags))
	return cmd
}

func newConfigInitCommand(flags *globalFlags) *cobra.Command {
	var preset string
	var detect bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write digibyte.conf from a preset, keeping existing RPC credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			logger := nodelib.NewLogger(cmd.ErrOrStderr(), cfg.Logging)

			opts := cfg.Node
			if preset != "" {
				p, err := nodelib.ParsePreset(preset)
				if err != nil {
					return err
				}
				opts.Preset = p
			}

			var settings nodelib.NodeSettings
			if detect {
				settings = nodelib.ResolveNodeSettings(opts, nodelib.NewMemoryLimiter(), nil, logger)
			} else {
				settings = opts.Settings()
			}

			path, creds, err := nodelib.EnsureNodeConfig(cfg.DataDir, settings, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (preset=%s, rpcuser=%s)\n", path, settings.Preset, creds.User)
			return nil
		},
	}
	cmd.Flags().StringVar(&preset, "preset", "", "Resource preset: light, balanced, fullish or custom")
	cmd.Flags().BoolVar(&detect, "detect", true, "Size dbcache and par to the host's memory and CPUs")
	return cmd
}

func newLogsCommand(flags *globalFlags) *cobra.Command {
	var lines int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the tail of the node debug log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			info := nodelib.LocateDebugLog(cfg.DataDir)
			switch info.Status {
			case nodelib.DebugLogDisabled:
				fmt.Fprintln(cmd.ErrOrStderr(), "Node debug log is disabled (nodebuglogfile=1)")
				return nil
			case nodelib.DebugLogMissing:
				fmt.Fprintf(cmd.ErrOrStderr(), "Node debug log %s does not exist yet\n", info.Path)
				return nil
			}

			tail, err := nodelib.TailDebugLog(cfg.DataDir, lines)
			if err != nil {
				return err
			}
			for _, line := range tail {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 100, "Number of lines to print")
	return cmd
}
