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

package nodelib

import (
	"fmt"
	"os"
	"strings"
)

// SpawnSpec describes a child process to start.
type SpawnSpec struct {
	// Argv is the full argument vector; Argv[0] is the executable path.
	// It is executed directly, never through a shell.
	Argv []string

	// Env is the child environment. Nil inherits the supervisor's environment.
	Env []string

	// Dir is the working directory. Empty inherits the supervisor's.
	Dir string

	// LogPath, if set, receives the child's stdout and stderr (appended).
	// Otherwise both go to the null device.
	LogPath string
}

// ReapResult describes the outcome of a non-blocking wait.
type ReapResult struct {
	// Reaped is true if the child had exited and its process table entry was collected.
	Reaped bool

	// ExitCode is the exit status when the child exited normally, -1 otherwise.
	ExitCode int

	// Signal names the terminating signal when the child was killed by one.
	Signal string
}

func (r ReapResult) String() string {
	switch {
	case !r.Reaped:
		return "not exited"
	case r.Signal != "":
		return "signal: " + r.Signal
	default:
		return fmt.Sprintf("exit status %d", r.ExitCode)
	}
}

// ProcessControl is the process facility the supervisor drives.
type ProcessControl interface {
	// Spawn starts a detached child and returns its pid. The supervisor keeps
	// only the pid; no handle is retained.
	Spawn(spec SpawnSpec) (int, error)

	// Terminate requests graceful termination (SIGTERM).
	Terminate(pid int) error

	// Kill forcefully terminates the process (SIGKILL).
	Kill(pid int) error

	// Reap performs a single non-blocking wait for the child. Pids that are
	// not children of this process report ReapResult{} and no error.
	Reap(pid int) (ReapResult, error)

	// Alive probes for existence without signalling or reaping. Probe errors
	// other than "no such process" count as alive.
	Alive(pid int) bool
}

// BuildNodeArgs constructs the daemon argument vector:
//
//	<binary> -conf=<configPath> -datadir=<dataDir> [extraArgs...]
//
// Each path is a discrete argument, so shell metacharacters in paths are inert.
func BuildNodeArgs(binary, configPath, dataDir string, extraArgs []string) []string {
	args := []string{
		binary,
		"-conf=" + configPath,
		"-datadir=" + dataDir,
	}
	return append(args, extraArgs...)
}

// BuildProcessEnv constructs the child environment.
// Order of precedence (last wins):
//  1. Current process environment (inherited)
//  2. Configured env
func BuildProcessEnv(extra map[string]string) []string {
	if len(extra) == 0 {
		return nil
	}
	env := make(map[string]string)
	for _, e := range os.Environ() {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 {
			env[parts[0]] = parts[1]
		}
	}
	for k, v := range extra {
		env[k] = v
	}

	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, k+"="+v)
	}
	return result
}

// ResolveEnvVarPath resolves a path that may contain environment variable references.
// Supports both $VAR and ${VAR} syntax.
func ResolveEnvVarPath(path string) string {
	return os.ExpandEnv(path)
}

// CreateDirectories creates each directory, including parents.
func CreateDirectories(dirs []string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// IsProcessAlive checks whether a process with the given PID exists
// using the host process control.
func IsProcessAlive(pid int) bool {
	return DefaultProcessControl().Alive(pid)
}
