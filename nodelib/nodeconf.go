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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	// NodeConfigFileName is the node configuration file inside the data directory.
	NodeConfigFileName = "digibyte.conf"

	// DefaultRPCUser is written when the existing configuration has no rpcuser.
	DefaultRPCUser = "digiuser"

	nodeConfigMode fs.FileMode = 0o600
	dataDirMode    fs.FileMode = 0o700
)

// Preset selects a bundle of node resource settings.
type Preset string

const (
	PresetLight    Preset = "light"
	PresetBalanced Preset = "balanced"
	PresetFullish  Preset = "fullish"
	PresetCustom   Preset = "custom"
)

// ParsePreset parses a preset name case-insensitively.
func ParsePreset(s string) (Preset, error) {
	p := Preset(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := presetDefaults[p]; !ok {
		return "", fmt.Errorf("%w: unknown preset %q", ErrInvalidArgument, s)
	}
	return p, nil
}

// NodeSettings are the resolved values written to the node configuration.
type NodeSettings struct {
	Preset         Preset
	MaxConnections int
	PruneMB        int
	DBCacheMB      int
	BlocksOnly     bool

	// Par is the script verification thread count. Zero leaves it to the node.
	Par int

	// RPCUser is used only when the existing file has no rpcuser.
	RPCUser string
}

var presetDefaults = map[Preset]NodeSettings{
	PresetLight:    {Preset: PresetLight, MaxConnections: 8, PruneMB: 3072, DBCacheMB: 160, BlocksOnly: true},
	PresetBalanced: {Preset: PresetBalanced, MaxConnections: 12, PruneMB: 4096, DBCacheMB: 256},
	PresetFullish:  {Preset: PresetFullish, MaxConnections: 16, PruneMB: 8192, DBCacheMB: 512},
	PresetCustom:   {Preset: PresetCustom, MaxConnections: 10, PruneMB: 4096, DBCacheMB: 256},
}

// PresetSettings returns the defaults for a preset. Unknown presets fall back
// to balanced.
func PresetSettings(p Preset) NodeSettings {
	settings, ok := presetDefaults[p]
	if !ok {
		settings = presetDefaults[PresetBalanced]
	}
	settings.RPCUser = DefaultRPCUser
	return settings
}

// NodeConfigOptions is the operator-facing node configuration. Zero fields
// take the preset's value.
type NodeConfigOptions struct {
	Preset         Preset `yaml:"preset,omitempty"`
	MaxConnections int    `yaml:"maxConnections,omitempty"`
	PruneMB        int    `yaml:"pruneMb,omitempty"`
	DBCacheMB      int    `yaml:"dbCacheMb,omitempty"`
	BlocksOnly     *bool  `yaml:"blocksOnly,omitempty"`
	RPCUser        string `yaml:"rpcUser,omitempty"`

	// Memory caps dbcache against the memory available to the node.
	Memory MemoryConfig `yaml:"memory,omitempty"`

	// Par sizes the script verification threads. Nil leaves -par to the node.
	Par *ScriptThreadsConfig `yaml:"par,omitempty"`
}

// Settings resolves the options against their preset.
func (o NodeConfigOptions) Settings() NodeSettings {
	preset := o.Preset
	if preset == "" {
		preset = PresetBalanced
	}
	settings := PresetSettings(preset)
	if o.MaxConnections > 0 {
		settings.MaxConnections = o.MaxConnections
	}
	if o.PruneMB > 0 {
		settings.PruneMB = o.PruneMB
	}
	if o.DBCacheMB > 0 {
		settings.DBCacheMB = o.DBCacheMB
	}
	if o.BlocksOnly != nil {
		settings.BlocksOnly = *o.BlocksOnly
	}
	if o.RPCUser != "" {
		settings.RPCUser = o.RPCUser
	}
	return settings
}

// TuneSettings clamps dbcache to the memory budget and sets par. A zero
// budget or par leaves the corresponding value alone.
func TuneSettings(settings NodeSettings, limits MemoryLimits, par int) NodeSettings {
	if limits.DBCacheBudgetBytes > 0 {
		budgetMB := int(limits.DBCacheBudgetBytes / (1024 * 1024))
		if settings.DBCacheMB > budgetMB {
			settings.DBCacheMB = budgetMB
		}
	}
	if par > 0 {
		settings.Par = par
	}
	return settings
}

// ResolveNodeSettings resolves options against the host: memory is detected
// with limiter and the CPU quota is read from cgroupFS. Detection failures are logged
// and leave the preset values in place.
func ResolveNodeSettings(opts NodeConfigOptions, limiter *MemoryLimiter, cgroupFS fs.FS, logger *Logger) NodeSettings {
	if logger == nil {
		logger = DiscardLogger()
	}
	settings := opts.Settings()

	var limits MemoryLimits
	if limiter != nil {
		var err error
		limits, err = limiter.ComputeLimits(opts.Memory)
		if err != nil {
			logger.Warnf("Failed to detect memory limits: %v (using dbcache=%d)", err, settings.DBCacheMB)
			limits = MemoryLimits{}
		} else if limits.LimitBytes > 0 {
			logger.Printf("Memory: limit=%s dbcache budget=%s",
				formatBytes(limits.LimitBytes), formatBytes(limits.DBCacheBudgetBytes))
		}
	}

	par := 0
	if opts.Par != nil {
		if cgroupFS == nil {
			cgroupFS = cgroupFilesystem()
		}
		par = opts.Par.ScriptThreads(cgroupFS)
		logger.Debugf("Script verification threads: par=%d", par)
	}

	return TuneSettings(settings, limits, par)
}

// RPCCredentials are the RPC user and password in the node configuration.
type RPCCredentials struct {
	User     string
	Password string
}

// EnsureNodeConfig creates dataDir if needed and writes digibyte.conf from
// settings. Existing rpcuser and rpcpassword values are carried over; a
// missing password is generated. It returns the path written and the
// credentials in effect.
func EnsureNodeConfig(dataDir string, settings NodeSettings, logger *Logger) (string, RPCCredentials, error) {
	if logger == nil {
		logger = DiscardLogger()
	}
	if dataDir == "" {
		return "", RPCCredentials{}, fmt.Errorf("%w: data dir is required", ErrInvalidArgument)
	}
	if err := os.MkdirAll(dataDir, dataDirMode); err != nil {
		return "", RPCCredentials{}, fmt.Errorf("%w: failed to create data dir %s: %v", ErrIOFailure, dataDir, err)
	}

	path := filepath.Join(dataDir, NodeConfigFileName)
	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warnf("Failed to read existing %s: %v", path, err)
	}

	creds := RPCCredentials{User: settings.RPCUser}
	if creds.User == "" {
		creds.User = DefaultRPCUser
	}
	if user, ok := parseConfValue(string(existing), "rpcuser", false); ok {
		creds.User = user
	}
	if password, ok := parseConfValue(string(existing), "rpcpassword", false); ok {
		creds.Password = password
	} else {
		creds.Password = uuid.NewString()
		logger.Printf("Generated new RPC password for %s", creds.User)
	}

	if err := os.WriteFile(path, []byte(RenderNodeConfig(settings, creds)), nodeConfigMode); err != nil {
		return "", RPCCredentials{}, fmt.Errorf("%w: failed to write %s: %v", ErrIOFailure, path, err)
	}
	logger.Printf("Wrote %s (preset=%s)", path, settings.Preset)
	return path, creds, nil
}

// RenderNodeConfig renders the node configuration file contents.
func RenderNodeConfig(settings NodeSettings, creds RPCCredentials) string {
	var b strings.Builder
	line := func(s string) {
		b.WriteString(s)
		b.WriteByte('\n')
	}
	line("# DigiByte node configuration")
	line("# Profile: " + string(settings.Preset))
	line("server=1")
	line("listen=1")
	line("dns=1")
	line("discover=1")
	line("maxconnections=" + strconv.Itoa(settings.MaxConnections))
	line("prune=" + strconv.Itoa(settings.PruneMB))
	line("dbcache=" + strconv.Itoa(settings.DBCacheMB))
	line("txindex=0")
	if settings.BlocksOnly {
		line("blocksonly=1")
	}
	if settings.Par > 0 {
		line("par=" + strconv.Itoa(settings.Par))
	}
	line("")
	line("rpcuser=" + creds.User)
	line("rpcpassword=" + creds.Password)
	line("rpcallowip=127.0.0.1")
	line("rpcbind=127.0.0.1")
	return b.String()
}

// parseConfValue returns the value of the first "key=value" line, skipping
// blanks and comments.
func parseConfValue(contents, key string, foldCase bool) (string, bool) {
	prefix := key + "="
	for _, raw := range strings.Split(contents, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") || len(line) < len(prefix) {
			continue
		}
		head := line[:len(prefix)]
		if head == prefix || (foldCase && strings.EqualFold(head, prefix)) {
			return line[len(prefix):], true
		}
	}
	return "", false
}

// ReadRPCCredentials returns the rpcuser and rpcpassword set in a node
// configuration file. Missing keys are left empty.
func ReadRPCCredentials(configPath string) (RPCCredentials, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return RPCCredentials{}, fmt.Errorf("%w: failed to read %s: %v", ErrIOFailure, configPath, err)
	}
	var creds RPCCredentials
	creds.User, _ = parseConfValue(string(data), "rpcuser", false)
	creds.Password, _ = parseConfValue(string(data), "rpcpassword", false)
	return creds, nil
}
