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

//go:build unix

package nodelib

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

type unixProcessControl struct{}

// DefaultProcessControl returns the host process control.
func DefaultProcessControl() ProcessControl {
	return unixProcessControl{}
}

func (unixProcessControl) Spawn(spec SpawnSpec) (int, error) {
	if len(spec.Argv) == 0 || spec.Argv[0] == "" {
		return 0, fmt.Errorf("empty argument vector")
	}

	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir
	cmd.Stdin = nil

	if spec.LogPath != "" {
		logFile, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return 0, fmt.Errorf("failed to open node log %s: %w", spec.LogPath, err)
		}
		// The child holds its own descriptor after Start.
		defer logFile.Close()
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	// New session: no controlling terminal, and terminal signals aimed at the
	// supervisor's process group do not reach the node.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid

	// Reaping happens through Reap with the bare pid.
	_ = cmd.Process.Release()
	return pid, nil
}

func (unixProcessControl) Terminate(pid int) error {
	return signalPid(pid, unix.SIGTERM)
}

func (unixProcessControl) Kill(pid int) error {
	return signalPid(pid, unix.SIGKILL)
}

func (unixProcessControl) Reap(pid int) (ReapResult, error) {
	if pid <= 0 {
		return ReapResult{}, fmt.Errorf("invalid pid %d", pid)
	}
	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.ECHILD) {
			return ReapResult{}, nil
		}
		if err != nil {
			return ReapResult{}, fmt.Errorf("wait4 %d: %w", pid, err)
		}
		if wpid != pid {
			return ReapResult{}, nil
		}
		break
	}

	result := ReapResult{Reaped: true, ExitCode: -1}
	switch {
	case ws.Exited():
		result.ExitCode = ws.ExitStatus()
	case ws.Signaled():
		result.Signal = ws.Signal().String()
	}
	return result, nil
}

func (unixProcessControl) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	// EPERM means the pid exists under another user; anything but ESRCH is
	// indeterminate and treated as alive.
	return !errors.Is(err, unix.ESRCH)
}

func signalPid(pid int, sig unix.Signal) error {
	// pid 0 and negative pids address process groups.
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	if err := unix.Kill(pid, sig); err != nil {
		return fmt.Errorf("failed to send %v to process %d: %w", sig, pid, err)
	}
	return nil
}

// SetResourceLimits applies OS-level resource limits to the supervisor
// process. They are inherited by the node at spawn.
func SetResourceLimits(config ResourceConfig) error {
	if config.MaxOpenFiles > 0 {
		if err := setRlimit(unix.RLIMIT_NOFILE, config.MaxOpenFiles); err != nil {
			return fmt.Errorf("failed to set RLIMIT_NOFILE to %d: %w", config.MaxOpenFiles, err)
		}
	}
	if config.MaxProcesses > 0 {
		if err := setRlimit(unix.RLIMIT_NPROC, config.MaxProcesses); err != nil {
			return fmt.Errorf("failed to set RLIMIT_NPROC to %d: %w", config.MaxProcesses, err)
		}
	}
	if !config.CoreDumpEnabled {
		if err := setRlimit(unix.RLIMIT_CORE, 0); err != nil {
			return fmt.Errorf("failed to disable core dumps: %w", err)
		}
	}
	return nil
}

func setRlimit(resource int, value uint64) error {
	limit := unix.Rlimit{Cur: value, Max: value}
	return unix.Setrlimit(resource, &limit)
}
