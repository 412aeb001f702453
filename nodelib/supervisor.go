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
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultDaemonName is the executable name of the node daemon.
	DefaultDaemonName = "digibyted"

	shutdownPollInterval = 100 * time.Millisecond
	killWaitTimeout      = 5 * time.Second
)

// Options configures a Supervisor. The zero value is usable: it looks for
// "digibyted" in the current directory, uses the host filesystem and process
// control, and logs nothing.
type Options struct {
	// Daemon is the node executable. Default: {Name: "digibyted"}.
	Daemon Artifact

	// Companions are provisioned next to the daemon before every launch,
	// e.g. the "digibyte-cli" control binary.
	Companions []Artifact

	// Candidates are searched, in order, before InstallDir/<Daemon.Name>.
	Candidates []string

	// InstallDir is the writable directory bundled resources are materialized
	// into. Default: the working directory. Relative paths are made absolute
	// when the Supervisor is created.
	InstallDir string

	// Resources is the default bundled-resource provider. It may be
	// overridden per call with WithResources. Nil disables provisioning.
	Resources ResourceProvider

	// ExtraArgs are appended after -conf and -datadir.
	ExtraArgs []string

	// Env overlays the inherited environment of the node.
	Env map[string]string

	// NodeLogPath receives the node's stdout and stderr. Empty discards them.
	NodeLogPath string

	FileSystem FileSystem
	Process    ProcessControl
	Logger     *Logger
	Metrics    Metrics
}

// StartOption customizes a single Start call.
type StartOption func(*startParams)

type startParams struct {
	resources ResourceProvider
}

// WithResources supplies the bundled-resource provider for this start attempt.
func WithResources(resources ResourceProvider) StartOption {
	return func(p *startParams) {
		p.resources = resources
	}
}

// ShutdownOption customizes a single Shutdown call.
type ShutdownOption func(*shutdownParams)

type shutdownParams struct {
	request StopRequest
}

// WithStopRequest makes Shutdown ask the node to exit through request before
// signalling it. SIGTERM is only sent when the request fails or the node is
// still running after the grace period.
func WithStopRequest(request StopRequest) ShutdownOption {
	return func(p *shutdownParams) {
		p.request = request
	}
}

// StopResult describes what a Stop call did.
type StopResult struct {
	// PID is the identifier that was tracked, 0 if none.
	PID int

	// Signaled is true if the termination signal was delivered.
	Signaled bool

	// Exit is the outcome of the immediate non-blocking wait.
	Exit ReapResult

	// Requested is true when the node exited on its own after a StopRequest
	// and no signal was needed.
	Requested bool

	// Err wraps ErrSignalFailure when delivery failed.
	Err error
}

// Supervisor manages the lifecycle of a single node daemon child process:
//  1. Locate the daemon executable, or provision it from bundled resources
//  2. Spawn it detached with -conf and -datadir
//  3. Track its pid and answer status queries, healing stale state
//  4. Signal it to stop and reap it
//
// All methods are safe for concurrent use. State is never persisted; a new
// Supervisor does not know about children started by a previous one.
type Supervisor struct {
	opts        Options
	provisioner *Provisioner
	proc        ProcessControl
	logger      *Logger
	metrics     Metrics

	mu         sync.Mutex
	pid        int
	status     Status
	binaryPath string

	// unreaped holds pids that were signaled but had not exited yet when
	// Stop returned. They are collected opportunistically by later calls.
	unreaped map[int]struct{}
}

// New creates a Supervisor in the NotRunning state.
func New(opts Options) *Supervisor {
	if opts.Daemon.Name == "" {
		opts.Daemon.Name = DefaultDaemonName
	}
	if opts.InstallDir == "" {
		opts.InstallDir = "."
	}
	if abs, err := filepath.Abs(opts.InstallDir); err == nil {
		opts.InstallDir = abs
	}
	if opts.FileSystem == nil {
		opts.FileSystem = OSFileSystem{}
	}
	if opts.Process == nil {
		opts.Process = DefaultProcessControl()
	}
	if opts.Logger == nil {
		opts.Logger = DiscardLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	logger := opts.Logger.With("component", "supervisor")
	return &Supervisor{
		opts:        opts,
		provisioner: NewProvisioner(opts.FileSystem, logger),
		proc:        opts.Process,
		logger:      logger,
		metrics:     opts.Metrics,
		status:      StatusNotRunning,
		unreaped:    make(map[int]struct{}),
	}
}

// Start launches the node with the given configuration file and data
// directory. Failures are recorded in the status (BinaryMissing or Error) and
// also returned as an error wrapping one of the package sentinels.
//
// If a tracked child is still alive the call does nothing and reports Running.
// Empty paths are rejected with ErrInvalidArgument and leave the status unchanged.
func (s *Supervisor) Start(configPath, dataDir string, opts ...StartOption) (Status, error) {
	params := startParams{resources: s.opts.Resources}
	for _, opt := range opts {
		opt(&params)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if configPath == "" || dataDir == "" {
		s.logger.Errorf("Config path or data dir is empty; refusing to start node")
		s.metrics.StartAttempt(StartOutcomeInvalidArgument)
		return s.status, fmt.Errorf("%w: config path and data dir are required", ErrInvalidArgument)
	}

	s.sweepLocked()

	if s.pid > 0 && s.trackedAliveLocked() {
		s.logger.Printf("Start requested but node already running with pid %d", s.pid)
		s.setStatusLocked(StatusRunning)
		s.metrics.StartAttempt(StartOutcomeAlreadyRunning)
		return StatusRunning, nil
	}

	// --- 1. Resolve executables ---

	s.pid = 0
	s.binaryPath = ""

	binary, err := s.resolveDaemonLocked(params.resources)
	if err != nil {
		s.logger.Errorf("Node binary unavailable: %v", err)
		s.setStatusLocked(StatusBinaryMissing)
		s.metrics.StartAttempt(StartOutcomeBinaryMissing)
		return StatusBinaryMissing, err
	}
	s.binaryPath = binary

	if err := s.resolveCompanionsLocked(params.resources); err != nil {
		s.logger.Errorf("Companion binary unavailable: %v", err)
		s.setStatusLocked(StatusError)
		s.metrics.StartAttempt(StartOutcomeError)
		return StatusError, err
	}

	// --- 2. Spawn ---

	argv := BuildNodeArgs(binary, configPath, dataDir, s.opts.ExtraArgs)
	s.logger.Printf("Launching: %s", strings.Join(argv, " "))

	pid, err := s.proc.Spawn(SpawnSpec{
		Argv:    argv,
		Env:     BuildProcessEnv(s.opts.Env),
		LogPath: s.opts.NodeLogPath,
	})
	if err != nil {
		s.logger.Errorf("Failed to start node: %v", err)
		s.setStatusLocked(StatusError)
		s.metrics.StartAttempt(StartOutcomeError)
		return StatusError, fmt.Errorf("%w: %v", ErrProcessCreation, err)
	}

	// --- 3. Track ---

	s.pid = pid
	s.setStatusLocked(StatusRunning)
	s.metrics.StartAttempt(StartOutcomeStarted)
	s.logger.Printf("Started node with pid %d", pid)
	return StatusRunning, nil
}

// Stop sends SIGTERM to the tracked node and performs one non-blocking wait.
// The tracked pid is always cleared and the status becomes NotRunning, except
// that BinaryMissing is preserved. Stop does not wait for the node to exit.
func (s *Supervisor) Stop() StopResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()

	if s.pid <= 0 {
		s.logger.Warnf("Stop called but no node pid is recorded")
		if s.status != StatusBinaryMissing {
			s.setStatusLocked(StatusNotRunning)
		}
		s.metrics.StopAttempt(false)
		return StopResult{}
	}

	result := StopResult{PID: s.pid}
	if err := s.proc.Terminate(s.pid); err != nil {
		s.logger.Errorf("Failed to signal node (pid %d): %v", s.pid, err)
		result.Err = fmt.Errorf("%w: %v", ErrSignalFailure, err)
	} else {
		result.Signaled = true
		s.logger.Printf("Sent SIGTERM to node (pid %d)", s.pid)

		exit, err := s.proc.Reap(s.pid)
		switch {
		case err != nil:
			s.logger.Warnf("Non-blocking wait for pid %d failed: %v", s.pid, err)
			s.unreaped[s.pid] = struct{}{}
		case exit.Reaped:
			result.Exit = exit
			s.logger.Printf("Node exited: %s", exit)
		default:
			s.unreaped[s.pid] = struct{}{}
		}
	}

	s.pid = 0
	if s.status != StatusBinaryMissing {
		s.setStatusLocked(StatusNotRunning)
	}
	s.metrics.StopAttempt(result.Signaled)
	return result
}

// Status reconciles the cached status with the process table and returns it.
// BinaryMissing and Error are returned as-is. Otherwise a tracked pid is
// reaped if it has exited, then probed; a dead pid is cleared and the status
// becomes NotRunning. Status never starts or stops anything.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// Snapshot reconciles the status like Status and returns it together with
// the tracked pid and binary path, all read under one lock.
func (s *Supervisor) Snapshot() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := StatusSnapshot{
		Status: s.statusLocked(),
		Binary: s.binaryPath,
	}
	if s.pid > 0 {
		snapshot.PID = s.pid
	}
	return snapshot
}

func (s *Supervisor) statusLocked() Status {
	s.sweepLocked()

	if s.status.Sticky() {
		return s.status
	}
	if s.pid > 0 {
		if s.trackedAliveLocked() {
			s.setStatusLocked(StatusRunning)
		} else {
			s.setStatusLocked(StatusNotRunning)
		}
	}
	return s.status
}

// Shutdown stops the node and waits up to grace for it to exit, escalating
// to SIGKILL when it does not. Unlike Stop it blocks; it is meant for the
// embedding program's own shutdown path.
//
// With WithStopRequest the node is first asked to exit on its own and given
// grace to do so; the signal sequence above only runs when that fails.
func (s *Supervisor) Shutdown(ctx context.Context, grace time.Duration, opts ...ShutdownOption) (StopResult, error) {
	var params shutdownParams
	for _, opt := range opts {
		opt(&params)
	}

	if params.request != nil {
		if result, ok := s.requestStop(ctx, params.request, grace); ok {
			return result, nil
		}
		if err := ctx.Err(); err != nil {
			return StopResult{}, err
		}
	}

	result := s.Stop()
	if !result.Signaled || result.Exit.Reaped {
		return result, result.Err
	}
	pid := result.PID

	if s.awaitExit(ctx, pid, grace) {
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	s.logger.Warnf("Grace period (%s) expired, sending SIGKILL to pid %d", grace, pid)
	if err := s.proc.Kill(pid); err != nil {
		if s.collect(pid) {
			return result, nil
		}
		return result, fmt.Errorf("%w: %v", ErrSignalFailure, err)
	}
	if s.awaitExit(ctx, pid, killWaitTimeout) {
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, fmt.Errorf("%w: pid %d still present after SIGKILL", ErrShutdownTimeout, pid)
}

// requestStop runs request and waits up to grace for the tracked node to
// exit. It reports false when there is nothing tracked, the request failed,
// or the node outlived grace.
func (s *Supervisor) requestStop(ctx context.Context, request StopRequest, grace time.Duration) (StopResult, bool) {
	pid, ok := s.PID()
	if !ok {
		return StopResult{}, false
	}
	if err := request(ctx); err != nil {
		s.logger.Warnf("Stop request for pid %d failed, falling back to SIGTERM: %v", pid, err)
		return StopResult{}, false
	}
	s.logger.Printf("Stop request accepted, waiting up to %s for pid %d to exit", grace, pid)

	if !poll(ctx, grace, func() bool { return s.releaseIfExited(pid) }) {
		if ctx.Err() == nil {
			s.logger.Warnf("Node (pid %d) still running after stop request, sending SIGTERM", pid)
		}
		return StopResult{}, false
	}
	s.metrics.StopAttempt(false)
	return StopResult{PID: pid, Requested: true}, true
}

// releaseIfExited clears pid once it has exited. It also reports true when
// pid is no longer the tracked child, since Stop has taken it over.
func (s *Supervisor) releaseIfExited(pid int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pid != pid {
		return true
	}
	if s.trackedAliveLocked() {
		return false
	}
	if !s.status.Sticky() {
		s.setStatusLocked(StatusNotRunning)
	}
	return true
}

// PID returns the tracked pid, if any.
func (s *Supervisor) PID() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid, s.pid > 0
}

// BinaryPath returns the daemon path resolved by the last start attempt.
func (s *Supervisor) BinaryPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.binaryPath
}

// ResolveBinary locates or provisions the daemon and companions without
// launching anything.
func (s *Supervisor) ResolveBinary(opts ...StartOption) (string, error) {
	params := startParams{resources: s.opts.Resources}
	for _, opt := range opts {
		opt(&params)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	binary, err := s.resolveDaemonLocked(params.resources)
	if err != nil {
		return "", err
	}
	if err := s.resolveCompanionsLocked(params.resources); err != nil {
		return "", err
	}
	return binary, nil
}

func (s *Supervisor) resolveDaemonLocked(resources ResourceProvider) (string, error) {
	candidates := append([]string{}, s.opts.Candidates...)
	installed := s.installPath(s.opts.Daemon.Name)
	if !containsString(candidates, installed) {
		candidates = append(candidates, installed)
	}
	binary, err := s.provisioner.Resolve(candidates, resources, s.opts.InstallDir, s.opts.Daemon)
	s.metrics.ProvisionResult(s.opts.Daemon.Name, err)
	return binary, err
}

func (s *Supervisor) resolveCompanionsLocked(resources ResourceProvider) error {
	for _, companion := range s.opts.Companions {
		_, err := s.provisioner.Resolve([]string{s.installPath(companion.Name)}, resources, s.opts.InstallDir, companion)
		s.metrics.ProvisionResult(companion.Name, err)
		if err != nil {
			return fmt.Errorf("%s: %w", companion.Name, err)
		}
	}
	return nil
}

// CompanionPath returns where the named companion is installed. It reports
// false when name is not one of the configured companions.
func (s *Supervisor) CompanionPath(name string) (string, bool) {
	for _, companion := range s.opts.Companions {
		if companion.Name == name {
			return s.installPath(name), true
		}
	}
	return "", false
}

func (s *Supervisor) installPath(name string) string {
	return filepath.Join(s.opts.InstallDir, name)
}

// trackedAliveLocked reaps the tracked pid if it has exited, then probes it.
// A dead pid is cleared.
func (s *Supervisor) trackedAliveLocked() bool {
	exit, err := s.proc.Reap(s.pid)
	if err != nil {
		s.logger.Debugf("Non-blocking wait for pid %d failed: %v", s.pid, err)
	}
	if err == nil && exit.Reaped {
		s.logger.Printf("Node (pid %d) exited: %s", s.pid, exit)
		s.pid = 0
		return false
	}
	if s.proc.Alive(s.pid) {
		return true
	}
	s.logger.Printf("Node (pid %d) is no longer running", s.pid)
	s.pid = 0
	return false
}

// sweepLocked reaps stopped children that had not exited when Stop returned.
func (s *Supervisor) sweepLocked() {
	for pid := range s.unreaped {
		s.collectLocked(pid)
	}
}

func (s *Supervisor) collect(pid int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collectLocked(pid)
}

// collectLocked reports whether pid is gone, reaping it if possible.
func (s *Supervisor) collectLocked(pid int) bool {
	exit, err := s.proc.Reap(pid)
	if err == nil && exit.Reaped {
		s.logger.Printf("Stopped node (pid %d) exited: %s", pid, exit)
		delete(s.unreaped, pid)
		return true
	}
	if !s.proc.Alive(pid) {
		delete(s.unreaped, pid)
		return true
	}
	return false
}

func (s *Supervisor) awaitExit(ctx context.Context, pid int, timeout time.Duration) bool {
	return poll(ctx, timeout, func() bool { return s.collect(pid) })
}

// poll evaluates done every shutdownPollInterval until it returns true,
// timeout elapses, or ctx is done.
func poll(ctx context.Context, timeout time.Duration, done func() bool) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()

	for {
		if done() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return done()
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) setStatusLocked(to Status) {
	from := s.status
	if from == to {
		return
	}
	s.status = to
	s.metrics.StatusChanged(from, to)
	s.logger.Debugf("Status %s -> %s", from, to)
}

// WaitForStatus polls the supervisor until it reports one of the wanted
// statuses or a sticky failure status, or until ctx is done.
func WaitForStatus(ctx context.Context, s *Supervisor, interval time.Duration, want ...Status) (Status, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status := s.Status()
		for _, w := range want {
			if status == w {
				return status, nil
			}
		}
		if status.Sticky() {
			return status, fmt.Errorf("node entered %s", status)
		}
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
