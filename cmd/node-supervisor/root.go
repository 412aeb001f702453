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
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jaymd96/node-supervisor/nodelib"
)

type globalFlags struct {
	staticConfig string
	customConfig string
	distRoot     string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "node-supervisor",
		Short: "Supervise a DigiByte node daemon",
		Long: `node-supervisor locates or provisions the DigiByte node binary, launches it
as a detached child process, reports its status and stops it on request.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.staticConfig, "static-config", "",
		"Path to static supervisor config (default: "+nodelib.DefaultStaticConfigPath+")")
	cmd.PersistentFlags().StringVar(&flags.customConfig, "custom-config", "",
		"Path to custom supervisor config (default: "+nodelib.DefaultCustomConfigPath+")")
	cmd.PersistentFlags().StringVar(&flags.distRoot, "dist-root", "",
		"Distribution root directory (default: auto-detect from executable path)")

	cmd.AddCommand(
		newRunCommand(flags),
		newProvisionCommand(flags),
		newConfigCommand(flags),
		newLogsCommand(flags),
		newVersionCommand(),
	)
	return cmd
}

// resolveDistRoot returns the distribution root. The supervisor binary lives
// at service/bin/<arch>/node-supervisor, so the root is four levels up.
func (f *globalFlags) resolveDistRoot() (string, error) {
	if f.distRoot != "" {
		return filepath.Abs(f.distRoot)
	}
	execPath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to determine executable path: %w", err)
	}
	return filepath.Dir(filepath.Dir(filepath.Dir(filepath.Dir(execPath)))), nil
}

// load reads, merges and resolves the supervisor configuration.
func (f *globalFlags) load(stdout io.Writer) (nodelib.MergedConfig, error) {
	distRoot, err := f.resolveDistRoot()
	if err != nil {
		return nodelib.MergedConfig{}, err
	}

	staticPath := anchor(distRoot, orDefault(f.staticConfig, nodelib.DefaultStaticConfigPath))
	customPath := anchor(distRoot, orDefault(f.customConfig, nodelib.DefaultCustomConfigPath))

	static, custom, err := nodelib.GetConfigsFromFiles(staticPath, customPath, stdout)
	if err != nil {
		return nodelib.MergedConfig{}, fmt.Errorf("config error: %w", err)
	}
	return nodelib.MergeConfigs(static, custom).ResolvePaths(distRoot), nil
}

func anchor(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "node-supervisor %s (commit: %s)\n", version, gitCommit)
		},
	}
}
