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
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jaymd96/node-supervisor/nodelib"
)

func newRunCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the node and supervise it until signalled",
		Long: `Start the node detached, wait for it to report RUNNING, then monitor it.
SIGINT, SIGTERM and SIGHUP stop the node gracefully: through the configured
control binary when shutdown.controlBinary is set, otherwise with SIGTERM,
escalating to SIGKILL after the configured grace period.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			logger := nodelib.NewLogger(cmd.OutOrStdout(), cfg.Logging)
			return runSupervisor(cmd.Context(), cfg, logger)
		},
	}
}

func runSupervisor(parent context.Context, cfg nodelib.MergedConfig, logger *nodelib.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	logger.Printf("node-supervisor %s starting (daemon=%s, dataDir=%s)", version, cfg.Daemon.Name, cfg.DataDir)

	// --- 1. Prepare the host ---

	dirs := append([]string{cfg.DataDir, filepath.Dir(cfg.NodeLogPath), filepath.Dir(cfg.InstallDir)}, cfg.Dirs...)
	if err := nodelib.CreateDirectories(dirs); err != nil {
		return fmt.Errorf("directory creation failed: %w", err)
	}
	if err := nodelib.SetResourceLimits(cfg.Resources); err != nil {
		logger.Warnf("Failed to set resource limits: %v", err)
	}
	if err := ensureNodeConfig(cfg, logger); err != nil {
		return err
	}

	// --- 2. Build the supervisor ---

	metrics := nodelib.NewPrometheusMetrics("")
	supervisor := nodelib.New(cfg.SupervisorOptions(logger, metrics))

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	server := nodelib.NewStatusServer(cfg.Server, supervisor, metrics.Handler(), logger)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("status endpoint: %w", err)
	}

	// --- 3. Start and wait for RUNNING ---

	if _, err := supervisor.Start(cfg.ConfigPath, cfg.DataDir); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, cfg.StartupTimeout())
	status, err := nodelib.WaitForStatus(waitCtx, supervisor, cfg.StartupPollInterval(), nodelib.StatusRunning)
	waitCancel()
	if err != nil {
		supervisor.Stop()
		return fmt.Errorf("node did not reach RUNNING (status %s): %w", status, err)
	}

	// --- 4. Monitor until signalled or the node exits ---

	exited := make(chan nodelib.Status, 1)
	if cfg.Monitor.Enabled != nil && *cfg.Monitor.Enabled {
		monitor := nodelib.NewMonitor(supervisor, cfg.MonitorInterval(), logger)
		monitor.OnChange(func(from, to nodelib.Status) {
			if to != nodelib.StatusRunning {
				select {
				case exited <- to:
				default:
				}
			}
		})
		go monitor.Run(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Printf("Received signal %v, stopping node", sig)
	case <-parent.Done():
		logger.Printf("Context cancelled, stopping node")
	case status := <-exited:
		runErr = fmt.Errorf("node exited unexpectedly (status %s)", status)
	}

	// --- 5. Shut down ---

	result, err := supervisor.Shutdown(context.Background(), cfg.ShutdownGrace(), shutdownOptions(cfg, supervisor, logger)...)
	if err != nil {
		logger.Errorf("Shutdown error: %v", err)
		if runErr == nil && !errors.Is(err, nodelib.ErrSignalFailure) {
			runErr = fmt.Errorf("shutdown error: %w", err)
		}
	} else if result.Requested {
		logger.Printf("Node (pid %d) stopped via %s", result.PID, cfg.Shutdown.ControlBinary)
	} else if result.PID > 0 {
		logger.Printf("Node (pid %d) stopped", result.PID)
	}
	return runErr
}

// shutdownOptions asks the configured control binary to stop the node
// before any signal is sent. Credentials come from the node config file.
func shutdownOptions(cfg nodelib.MergedConfig, supervisor *nodelib.Supervisor, logger *nodelib.Logger) []nodelib.ShutdownOption {
	name := cfg.Shutdown.ControlBinary
	if name == "" {
		return nil
	}
	cli, ok := supervisor.CompanionPath(name)
	if !ok {
		logger.Warnf("Control binary %s is not a configured companion; stopping with signals", name)
		return nil
	}
	creds, err := nodelib.ReadRPCCredentials(cfg.ConfigPath)
	if err != nil {
		logger.Warnf("RPC credentials unavailable, %s will rely on the cookie file: %v", name, err)
	}
	return []nodelib.ShutdownOption{
		nodelib.WithStopRequest(nodelib.CLIStopRequest(cli, cfg.DataDir, creds, cfg.ControlTimeout())),
	}
}

// ensureNodeConfig writes digibyte.conf when it does not exist yet. A config
// path outside the data directory is never generated.
func ensureNodeConfig(cfg nodelib.MergedConfig, logger *nodelib.Logger) error {
	if _, err := os.Stat(cfg.ConfigPath); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("node config %s: %w", cfg.ConfigPath, err)
	}

	if cfg.ConfigPath != filepath.Join(cfg.DataDir, nodelib.NodeConfigFileName) {
		return fmt.Errorf("node config %s does not exist", cfg.ConfigPath)
	}

	settings := nodelib.ResolveNodeSettings(cfg.Node, nodelib.NewMemoryLimiter(), nil, logger)
	_, _, err := nodelib.EnsureNodeConfig(cfg.DataDir, settings, logger)
	return err
}
