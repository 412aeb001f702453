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
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigTypeNode is the only supported supervisor configuration type.
const ConfigTypeNode = "digibyte-node"

const (
	DefaultStaticConfigPath = "service/bin/supervisor-static.yml"
	DefaultCustomConfigPath = "var/conf/supervisor-custom.yml"

	defaultInstallDir  = "var/data/bin"
	defaultResourceDir = "service/resources"
	defaultDataDir     = "var/data/node"
	defaultNodeLogPath = "var/log/node.log"
)

// StaticSupervisorConfig is the immutable configuration shipped with the
// distribution at service/bin/supervisor-static.yml.
type StaticSupervisorConfig struct {
	// ConfigType must be "digibyte-node".
	ConfigType string `yaml:"configType"`

	// ConfigVersion must be 1.
	ConfigVersion int `yaml:"configVersion"`

	// Daemon is the node executable. Default: {name: digibyted}.
	Daemon Artifact `yaml:"daemon,omitempty"`

	// Companions are provisioned next to the daemon, e.g. digibyte-cli.
	Companions []Artifact `yaml:"companions,omitempty"`

	// Candidates are searched before the install directory.
	Candidates []string `yaml:"candidates,omitempty"`

	// InstallDir receives provisioned executables. Default: var/data/bin.
	InstallDir string `yaml:"installDir,omitempty"`

	// ResourceDir holds the bundled builds, e.g. bin/digibyted-arm64.
	// Default: service/resources.
	ResourceDir string `yaml:"resourceDir,omitempty"`

	// Args are passed to the node after -conf and -datadir.
	Args []string `yaml:"args,omitempty"`

	// Env overlays the node's inherited environment.
	Env map[string]string `yaml:"env,omitempty"`

	// Resources configures OS-level resource limits inherited by the node.
	Resources ResourceConfig `yaml:"resources,omitempty"`

	// Dirs lists directories to create (relative to the distribution root) before launch.
	Dirs []string `yaml:"dirs,omitempty"`
}

// ResourceConfig specifies OS-level resource limits set via setrlimit before spawn.
type ResourceConfig struct {
	// MaxOpenFiles sets RLIMIT_NOFILE. Default: 65536.
	MaxOpenFiles uint64 `yaml:"maxOpenFiles,omitempty"`

	// MaxProcesses sets RLIMIT_NPROC. Default: 4096.
	MaxProcesses uint64 `yaml:"maxProcesses,omitempty"`

	// CoreDumpEnabled controls whether core dumps are permitted. Default: false.
	CoreDumpEnabled bool `yaml:"coreDumpEnabled,omitempty"`
}

// StartupConfig controls how long "run" waits for the node to come up.
type StartupConfig struct {
	// TimeoutSeconds bounds the wait for RUNNING. Default: 30.
	TimeoutSeconds int `yaml:"timeoutSeconds,omitempty"`

	// PollIntervalMillis is the status poll interval while waiting. Default: 1000.
	PollIntervalMillis int `yaml:"pollIntervalMillis,omitempty"`
}

// ShutdownConfig controls the graceful shutdown escalation.
type ShutdownConfig struct {
	// GracePeriodSeconds is how long to wait after SIGTERM before SIGKILL. Default: 30.
	GracePeriodSeconds int `yaml:"gracePeriodSeconds,omitempty"`

	// ControlBinary names a companion, e.g. digibyte-cli, that is asked to
	// stop the node over RPC before any signal is sent. The node gets the
	// grace period to exit after the request. Empty disables it.
	ControlBinary string `yaml:"controlBinary,omitempty"`

	// ControlTimeoutSeconds bounds the control binary invocation. Default: 15.
	ControlTimeoutSeconds int `yaml:"controlTimeoutSeconds,omitempty"`
}

// CustomSupervisorConfig is the operator configuration read from
// var/conf/supervisor-custom.yml.
type CustomSupervisorConfig struct {
	// ConfigType must be "digibyte-node" if present.
	ConfigType string `yaml:"configType,omitempty"`

	// ConfigVersion must be 1 if present.
	ConfigVersion int `yaml:"configVersion,omitempty"`

	// DataDir is the node data directory. Default: var/data/node.
	DataDir string `yaml:"dataDir,omitempty"`

	// ConfigPath is the node configuration file. Default: <dataDir>/digibyte.conf.
	ConfigPath string `yaml:"configPath,omitempty"`

	// NodeLogPath receives the node's stdout and stderr. Default: var/log/node.log.
	NodeLogPath string `yaml:"nodeLogPath,omitempty"`

	// Args are appended to the static config's Args.
	Args []string `yaml:"args,omitempty"`

	// Env is merged with (and overrides) the static config's env.
	Env map[string]string `yaml:"env,omitempty"`

	Logging   *LoggingConfig     `yaml:"logging,omitempty"`
	Monitor   *MonitorConfig     `yaml:"monitor,omitempty"`
	Startup   *StartupConfig     `yaml:"startup,omitempty"`
	Shutdown  *ShutdownConfig    `yaml:"shutdown,omitempty"`
	Server    *ServerConfig      `yaml:"server,omitempty"`
	Resources *ResourceConfig    `yaml:"resources,omitempty"`
	Node      *NodeConfigOptions `yaml:"node,omitempty"`
}

// MergedConfig is the resolved configuration after combining static and custom configs.
type MergedConfig struct {
	Daemon      Artifact
	Companions  []Artifact
	Candidates  []string
	InstallDir  string
	ResourceDir string
	DataDir     string
	ConfigPath  string
	NodeLogPath string
	Args        []string
	Env         map[string]string
	Dirs        []string

	Logging   LoggingConfig
	Monitor   MonitorConfig
	Startup   StartupConfig
	Shutdown  ShutdownConfig
	Server    ServerConfig
	Resources ResourceConfig
	Node      NodeConfigOptions
}

// DefaultStartupConfig returns the startup wait defaults.
func DefaultStartupConfig() StartupConfig {
	return StartupConfig{
		TimeoutSeconds:     30,
		PollIntervalMillis: 1000,
	}
}

// DefaultShutdownConfig returns the shutdown defaults.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		GracePeriodSeconds:    30,
		ControlTimeoutSeconds: int(DefaultControlTimeout / time.Second),
	}
}

// DefaultResourceConfig returns sensible defaults for resource limits.
func DefaultResourceConfig() ResourceConfig {
	return ResourceConfig{
		MaxOpenFiles: 65536,
		MaxProcesses: 4096,
	}
}

// GetConfigsFromFiles reads and parses both configuration files.
// The custom config file is optional and will be silently ignored if absent.
func GetConfigsFromFiles(
	staticConfigFile string,
	customConfigFile string,
	stdout io.Writer,
) (StaticSupervisorConfig, CustomSupervisorConfig, error) {

	staticConfig, err := readStaticConfig(staticConfigFile)
	if err != nil {
		return StaticSupervisorConfig{}, CustomSupervisorConfig{}, fmt.Errorf(
			"failed to read static config from %s: %w", staticConfigFile, err)
	}

	customConfig, err := readCustomConfig(customConfigFile, stdout)
	if err != nil {
		return StaticSupervisorConfig{}, CustomSupervisorConfig{}, fmt.Errorf(
			"failed to read custom config from %s: %w", customConfigFile, err)
	}

	if err := validateStaticConfig(staticConfig); err != nil {
		return StaticSupervisorConfig{}, CustomSupervisorConfig{}, fmt.Errorf(
			"invalid static config: %w", err)
	}
	if err := validateCustomConfig(customConfig); err != nil {
		return StaticSupervisorConfig{}, CustomSupervisorConfig{}, fmt.Errorf(
			"invalid custom config: %w", err)
	}

	return staticConfig, customConfig, nil
}

// MergeConfigs combines the static and custom configurations into a single
// resolved config with defaults applied.
func MergeConfigs(
	static StaticSupervisorConfig,
	custom CustomSupervisorConfig,
) MergedConfig {
	merged := MergedConfig{
		Daemon:      static.Daemon,
		Companions:  static.Companions,
		Candidates:  static.Candidates,
		InstallDir:  orDefault(static.InstallDir, defaultInstallDir),
		ResourceDir: orDefault(static.ResourceDir, defaultResourceDir),
		DataDir:     orDefault(custom.DataDir, defaultDataDir),
		NodeLogPath: orDefault(custom.NodeLogPath, defaultNodeLogPath),
		Args:        append(append([]string{}, static.Args...), custom.Args...),
		Dirs:        static.Dirs,
		Logging:     mergeLoggingConfig(custom.Logging),
		Monitor:     mergeMonitorConfig(custom.Monitor),
		Startup:     mergeStartupConfig(custom.Startup),
		Shutdown:    mergeShutdownConfig(custom.Shutdown),
		Server:      mergeServerConfig(custom.Server),
		Resources:   mergeResourceConfig(static.Resources, custom.Resources),
	}
	if merged.Daemon.Name == "" {
		merged.Daemon.Name = DefaultDaemonName
	}
	merged.ConfigPath = custom.ConfigPath
	if merged.ConfigPath == "" {
		merged.ConfigPath = filepath.Join(merged.DataDir, NodeConfigFileName)
	}
	if custom.Node != nil {
		merged.Node = *custom.Node
	}

	// Static env as base, custom overrides
	merged.Env = make(map[string]string)
	for k, v := range static.Env {
		merged.Env[k] = v
	}
	for k, v := range custom.Env {
		merged.Env[k] = v
	}

	return merged
}

// ResolvePaths expands environment references in every path and anchors
// relative paths at the distribution root.
func (c MergedConfig) ResolvePaths(distRoot string) MergedConfig {
	resolve := func(p string) string {
		if p == "" {
			return p
		}
		p = ResolveEnvVarPath(p)
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(distRoot, p)
	}

	c.InstallDir = resolve(c.InstallDir)
	c.ResourceDir = resolve(c.ResourceDir)
	c.DataDir = resolve(c.DataDir)
	c.ConfigPath = resolve(c.ConfigPath)
	c.NodeLogPath = resolve(c.NodeLogPath)

	candidates := make([]string, 0, len(c.Candidates))
	for _, candidate := range c.Candidates {
		candidates = append(candidates, resolve(candidate))
	}
	c.Candidates = candidates

	dirs := make([]string, 0, len(c.Dirs))
	for _, dir := range c.Dirs {
		dirs = append(dirs, resolve(dir))
	}
	c.Dirs = dirs
	return c
}

// SupervisorOptions builds supervisor options from the resolved config.
// Bundled resources are served from ResourceDir.
func (c MergedConfig) SupervisorOptions(logger *Logger, metrics Metrics) Options {
	opts := Options{
		Daemon:      c.Daemon,
		Companions:  c.Companions,
		Candidates:  c.Candidates,
		InstallDir:  c.InstallDir,
		ExtraArgs:   c.Args,
		Env:         c.Env,
		NodeLogPath: c.NodeLogPath,
		Logger:      logger,
		Metrics:     metrics,
	}
	if c.ResourceDir != "" {
		opts.Resources = FSResources{FS: os.DirFS(c.ResourceDir)}
	}
	return opts
}

// StartupTimeout returns the configured startup wait.
func (c MergedConfig) StartupTimeout() time.Duration {
	return time.Duration(c.Startup.TimeoutSeconds) * time.Second
}

// StartupPollInterval returns the configured startup poll interval.
func (c MergedConfig) StartupPollInterval() time.Duration {
	return time.Duration(c.Startup.PollIntervalMillis) * time.Millisecond
}

// ShutdownGrace returns the configured SIGTERM grace period.
func (c MergedConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.Shutdown.GracePeriodSeconds) * time.Second
}

// ControlTimeout returns the configured bound on the control binary.
func (c MergedConfig) ControlTimeout() time.Duration {
	return time.Duration(c.Shutdown.ControlTimeoutSeconds) * time.Second
}

// MonitorInterval returns the configured monitor poll interval.
func (c MergedConfig) MonitorInterval() time.Duration {
	return time.Duration(c.Monitor.PollIntervalSeconds) * time.Second
}

func readStaticConfig(path string) (StaticSupervisorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return StaticSupervisorConfig{}, err
	}
	var config StaticSupervisorConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return StaticSupervisorConfig{}, err
	}
	return config, nil
}

func readCustomConfig(path string, stdout io.Writer) (CustomSupervisorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(stdout, "Custom config file %s not found, using defaults\n", path)
			return CustomSupervisorConfig{}, nil
		}
		return CustomSupervisorConfig{}, err
	}
	var config CustomSupervisorConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return CustomSupervisorConfig{}, err
	}
	return config, nil
}

func validateStaticConfig(config StaticSupervisorConfig) error {
	if config.ConfigType != ConfigTypeNode {
		return fmt.Errorf("expected configType %q, got %q", ConfigTypeNode, config.ConfigType)
	}
	if config.ConfigVersion != 1 {
		return fmt.Errorf("expected configVersion 1, got %d", config.ConfigVersion)
	}
	for _, companion := range config.Companions {
		if companion.Name == "" {
			return fmt.Errorf("companion name must not be empty")
		}
	}
	return nil
}

func validateCustomConfig(config CustomSupervisorConfig) error {
	if config.ConfigType != "" && config.ConfigType != ConfigTypeNode {
		return fmt.Errorf("expected configType %q, got %q", ConfigTypeNode, config.ConfigType)
	}
	if config.ConfigVersion != 0 && config.ConfigVersion != 1 {
		return fmt.Errorf("expected configVersion 1, got %d", config.ConfigVersion)
	}
	if config.Shutdown != nil && config.Shutdown.ControlBinary != "" &&
		strings.ContainsRune(config.Shutdown.ControlBinary, filepath.Separator) {
		return fmt.Errorf("shutdown.controlBinary must be a companion name, got %q", config.Shutdown.ControlBinary)
	}
	if config.Node != nil && config.Node.Preset != "" {
		if _, err := ParsePreset(string(config.Node.Preset)); err != nil {
			return err
		}
	}
	return nil
}

func mergeLoggingConfig(custom *LoggingConfig) LoggingConfig {
	result := DefaultLoggingConfig()
	if custom == nil {
		return result
	}
	if custom.Format != "" {
		result.Format = custom.Format
	}
	if custom.Level != "" {
		result.Level = custom.Level
	}
	result.Fields = custom.Fields
	return result
}

func mergeMonitorConfig(custom *MonitorConfig) MonitorConfig {
	result := DefaultMonitorConfig()
	if custom == nil {
		return result
	}
	if custom.Enabled != nil {
		result.Enabled = custom.Enabled
	}
	if custom.PollIntervalSeconds > 0 {
		result.PollIntervalSeconds = custom.PollIntervalSeconds
	}
	return result
}

func mergeStartupConfig(custom *StartupConfig) StartupConfig {
	result := DefaultStartupConfig()
	if custom == nil {
		return result
	}
	if custom.TimeoutSeconds > 0 {
		result.TimeoutSeconds = custom.TimeoutSeconds
	}
	if custom.PollIntervalMillis > 0 {
		result.PollIntervalMillis = custom.PollIntervalMillis
	}
	return result
}

func mergeShutdownConfig(custom *ShutdownConfig) ShutdownConfig {
	result := DefaultShutdownConfig()
	if custom == nil {
		return result
	}
	if custom.GracePeriodSeconds > 0 {
		result.GracePeriodSeconds = custom.GracePeriodSeconds
	}
	if custom.ControlTimeoutSeconds > 0 {
		result.ControlTimeoutSeconds = custom.ControlTimeoutSeconds
	}
	result.ControlBinary = custom.ControlBinary
	return result
}

func mergeServerConfig(custom *ServerConfig) ServerConfig {
	result := DefaultServerConfig()
	if custom == nil {
		return result
	}
	result.Enabled = custom.Enabled
	if custom.Address != "" {
		result.Address = custom.Address
	}
	return result
}

func mergeResourceConfig(static ResourceConfig, custom *ResourceConfig) ResourceConfig {
	result := static
	if custom != nil {
		if custom.MaxOpenFiles > 0 {
			result.MaxOpenFiles = custom.MaxOpenFiles
		}
		if custom.MaxProcesses > 0 {
			result.MaxProcesses = custom.MaxProcesses
		}
		if custom.CoreDumpEnabled {
			result.CoreDumpEnabled = true
		}
	}
	defaults := DefaultResourceConfig()
	if result.MaxOpenFiles == 0 {
		result.MaxOpenFiles = defaults.MaxOpenFiles
	}
	if result.MaxProcesses == 0 {
		result.MaxProcesses = defaults.MaxProcesses
	}
	return result
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
