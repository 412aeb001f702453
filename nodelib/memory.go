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
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// cgroupV2MemoryMaxPath is the cgroup v2 memory limit file.
	cgroupV2MemoryMaxPath = "/sys/fs/cgroup/memory.max"

	// cgroupV1MemoryLimitPath is the cgroup v1 memory limit file.
	cgroupV1MemoryLimitPath = "/sys/fs/cgroup/memory/memory.limit_in_bytes"

	// cgroupV2IndicatorPath is used to detect cgroup v2.
	cgroupV2IndicatorPath = "/sys/fs/cgroup/cgroup.controllers"

	// procMemInfoPath is used as a fallback to get total system memory.
	procMemInfoPath = "/proc/meminfo"

	// minimumDBCacheBytes is the smallest database cache the node accepts.
	minimumDBCacheBytes = 4 * 1024 * 1024
)

// MemoryMode controls how the memory available to the node is determined.
type MemoryMode string

const (
	// MemoryModeCgroupAware reads the cgroup limit, falling back to total
	// system memory when there is no limit or no cgroup controller.
	MemoryModeCgroupAware MemoryMode = "cgroup-aware"

	// MemoryModeFixed uses an explicitly configured byte limit.
	MemoryModeFixed MemoryMode = "fixed"

	// MemoryModeUnmanaged leaves dbcache exactly as configured.
	MemoryModeUnmanaged MemoryMode = "unmanaged"
)

// MemoryConfig controls how dbcache is sized against available memory.
type MemoryConfig struct {
	// Mode determines the detection strategy. Default: "cgroup-aware".
	Mode MemoryMode `yaml:"mode,omitempty"`

	// FixedLimitBytes is the memory ceiling when Mode is "fixed".
	FixedLimitBytes uint64 `yaml:"fixedLimitBytes,omitempty"`

	// DBCachePercent caps dbcache at this share of the detected limit. Default: 25.
	DBCachePercent float64 `yaml:"dbCachePercent,omitempty"`
}

// DefaultMemoryConfig returns the memory defaults.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Mode:           MemoryModeCgroupAware,
		DBCachePercent: 25,
	}
}

// MemoryLimits holds the detected memory ceiling and the derived dbcache budget.
type MemoryLimits struct {
	// LimitBytes is the cgroup limit, the fixed limit, or total system memory.
	// Zero when unmanaged.
	LimitBytes uint64

	// DBCacheBudgetBytes is the most the node's database cache may use. Zero
	// means no cap.
	DBCacheBudgetBytes uint64

	// CgroupVersion is 1 or 2, or 0 if no cgroup limit was used.
	CgroupVersion int
}

// MemoryLimiter detects cgroup memory limits on an injectable filesystem.
type MemoryLimiter struct {
	filesystem fs.FS
}

// NewMemoryLimiter creates a new MemoryLimiter using the real filesystem.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{filesystem: os.DirFS("/")}
}

// NewMemoryLimiterWithFS creates a MemoryLimiter with an injected filesystem for testing.
func NewMemoryLimiterWithFS(filesystem fs.FS) *MemoryLimiter {
	return &MemoryLimiter{filesystem: filesystem}
}

// ComputeLimits determines the memory ceiling and dbcache budget.
func (m *MemoryLimiter) ComputeLimits(config MemoryConfig) (MemoryLimits, error) {
	config = applyMemoryDefaults(config)
	var limits MemoryLimits

	switch config.Mode {
	case MemoryModeUnmanaged:
		return limits, nil

	case MemoryModeFixed:
		if config.FixedLimitBytes == 0 {
			return limits, fmt.Errorf("memory mode is 'fixed' but fixedLimitBytes is 0")
		}
		limits.LimitBytes = config.FixedLimitBytes

	case MemoryModeCgroupAware:
		cgroupVersion, err := m.detectCgroupVersion()
		if err != nil {
			// Bare hosts have no memory controller; size against physical memory.
			total, sysErr := m.readSystemMemory()
			if sysErr != nil {
				return limits, fmt.Errorf("failed to detect memory: %v; %w", err, sysErr)
			}
			limits.LimitBytes = total
			break
		}
		limits.CgroupVersion = cgroupVersion

		cgroupLimit, err := m.readCgroupMemoryLimit(cgroupVersion)
		if err != nil {
			return limits, fmt.Errorf("failed to read cgroup memory limit: %w", err)
		}
		limits.LimitBytes = cgroupLimit

	default:
		return limits, fmt.Errorf("unknown memory mode: %q", config.Mode)
	}

	budget := uint64(float64(limits.LimitBytes) * config.DBCachePercent / 100.0)
	if budget < minimumDBCacheBytes {
		budget = minimumDBCacheBytes
	}
	limits.DBCacheBudgetBytes = budget

	return limits, nil
}

// detectCgroupVersion determines whether the system uses cgroup v1 or v2.
func (m *MemoryLimiter) detectCgroupVersion() (int, error) {
	_, err := fs.Stat(m.filesystem, relPath(cgroupV2IndicatorPath))
	if err == nil {
		return 2, nil
	}

	_, err = fs.Stat(m.filesystem, relPath(cgroupV1MemoryLimitPath))
	if err == nil {
		return 1, nil
	}

	return 0, fmt.Errorf("no cgroup memory controller found (checked v1 and v2 paths)")
}

// readCgroupMemoryLimit reads the memory limit from the appropriate cgroup path.
func (m *MemoryLimiter) readCgroupMemoryLimit(cgroupVersion int) (uint64, error) {
	var path string
	switch cgroupVersion {
	case 2:
		path = relPath(cgroupV2MemoryMaxPath)
	case 1:
		path = relPath(cgroupV1MemoryLimitPath)
	default:
		return 0, fmt.Errorf("unsupported cgroup version: %d", cgroupVersion)
	}

	data, err := fs.ReadFile(m.filesystem, path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}

	content := strings.TrimSpace(string(data))

	// cgroup v2 uses "max" to indicate no limit
	if content == "max" {
		return m.readSystemMemory()
	}

	limit, err := strconv.ParseUint(content, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse memory limit %q: %w", content, err)
	}

	// cgroup v1 reports "no limit" as a huge page-aligned number.
	if cgroupVersion == 1 && limit > 1<<60 {
		return m.readSystemMemory()
	}

	return limit, nil
}

// readSystemMemory reads total system memory from /proc/meminfo.
func (m *MemoryLimiter) readSystemMemory() (uint64, error) {
	data, err := fs.ReadFile(m.filesystem, relPath(procMemInfoPath))
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", procMemInfoPath, err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "MemTotal:") {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			kb, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("failed to parse MemTotal: %w", err)
			}
			return kb * 1024, nil
		}
	}

	return 0, fmt.Errorf("MemTotal not found in %s", procMemInfoPath)
}

func applyMemoryDefaults(config MemoryConfig) MemoryConfig {
	defaults := DefaultMemoryConfig()
	if config.Mode == "" {
		config.Mode = defaults.Mode
	}
	if config.DBCachePercent == 0 {
		config.DBCachePercent = defaults.DBCachePercent
	}
	return config
}

// relPath strips the leading "/" from an absolute path for use with fs.FS.
func relPath(absPath string) string {
	return filepath.Clean(strings.TrimPrefix(absPath, "/"))
}

// formatBytes returns a human-readable byte string.
func formatBytes(b uint64) string {
	const (
		KiB = 1024
		MiB = 1024 * KiB
		GiB = 1024 * MiB
	)
	switch {
	case b >= GiB:
		return fmt.Sprintf("%.2f GiB", float64(b)/float64(GiB))
	case b >= MiB:
		return fmt.Sprintf("%.2f MiB", float64(b)/float64(MiB))
	case b >= KiB:
		return fmt.Sprintf("%.2f KiB", float64(b)/float64(KiB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
