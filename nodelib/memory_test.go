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
	"io/fs"
	"testing"
	"testing/fstest"
)

// testFS creates a fake filesystem for testing cgroup scenarios.
func testFS(files map[string]string) fs.FS {
	m := fstest.MapFS{}
	for path, content := range files {
		m[path] = &fstest.MapFile{Data: []byte(content)}
	}
	return m
}

const testMemInfo = "MemTotal:        8388608 kB\nMemFree:         1024 kB\n"

func TestDetectCgroupV2(t *testing.T) {
	filesystem := testFS(map[string]string{
		"sys/fs/cgroup/cgroup.controllers": "cpu memory io",
		"sys/fs/cgroup/memory.max":         "1073741824",
	})

	limiter := NewMemoryLimiterWithFS(filesystem)
	version, err := limiter.detectCgroupVersion()
	if err != nil {
		t.Fatal(err)
	}
	if version != 2 {
		t.Errorf("expected cgroup v2, got v%d", version)
	}
}

func TestDetectCgroupV1(t *testing.T) {
	filesystem := testFS(map[string]string{
		"sys/fs/cgroup/memory/memory.limit_in_bytes": "2147483648",
	})

	limiter := NewMemoryLimiterWithFS(filesystem)
	version, err := limiter.detectCgroupVersion()
	if err != nil {
		t.Fatal(err)
	}
	if version != 1 {
		t.Errorf("expected cgroup v1, got v%d", version)
	}
}

func TestDetectNoCgroup(t *testing.T) {
	limiter := NewMemoryLimiterWithFS(testFS(nil))
	if _, err := limiter.detectCgroupVersion(); err == nil {
		t.Error("expected error without a memory controller")
	}
}

func TestReadCgroupMemoryLimit(t *testing.T) {
	tests := []struct {
		name     string
		version  int
		content  string
		expected uint64
		wantErr  bool
	}{
		{
			name:     "v2 1 GiB limit",
			version:  2,
			content:  "1073741824\n",
			expected: 1073741824,
		},
		{
			name:     "v2 max falls back to meminfo",
			version:  2,
			content:  "max\n",
			expected: 8388608 * 1024,
		},
		{
			name:     "v1 2 GiB limit",
			version:  1,
			content:  "2147483648\n",
			expected: 2147483648,
		},
		{
			name:     "v1 unlimited falls back to meminfo",
			version:  1,
			content:  "9223372036854771712\n",
			expected: 8388608 * 1024,
		},
		{
			name:    "invalid content",
			version: 2,
			content: "not-a-number",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := map[string]string{"proc/meminfo": testMemInfo}
			if tt.version == 2 {
				files["sys/fs/cgroup/memory.max"] = tt.content
			} else {
				files["sys/fs/cgroup/memory/memory.limit_in_bytes"] = tt.content
			}
			limiter := NewMemoryLimiterWithFS(testFS(files))

			limit, err := limiter.readCgroupMemoryLimit(tt.version)
			if (err != nil) != tt.wantErr {
				t.Fatalf("readCgroupMemoryLimit() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && limit != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, limit)
			}
		})
	}
}

func TestReadCgroupMemoryLimitUnsupportedVersion(t *testing.T) {
	limiter := NewMemoryLimiterWithFS(testFS(nil))
	if _, err := limiter.readCgroupMemoryLimit(3); err == nil {
		t.Error("expected error for cgroup v3")
	}
}

func TestReadSystemMemoryWithoutMemTotal(t *testing.T) {
	limiter := NewMemoryLimiterWithFS(testFS(map[string]string{"proc/meminfo": "MemFree: 1 kB\n"}))
	if _, err := limiter.readSystemMemory(); err == nil {
		t.Error("expected error when MemTotal is absent")
	}
}

func TestComputeLimitsCgroupAware(t *testing.T) {
	filesystem := testFS(map[string]string{
		"sys/fs/cgroup/cgroup.controllers": "cpu memory io",
		"sys/fs/cgroup/memory.max":         "2147483648", // 2 GiB
	})

	limiter := NewMemoryLimiterWithFS(filesystem)
	limits, err := limiter.ComputeLimits(MemoryConfig{})
	if err != nil {
		t.Fatal(err)
	}

	if limits.CgroupVersion != 2 {
		t.Errorf("expected cgroup v2, got v%d", limits.CgroupVersion)
	}
	if limits.LimitBytes != 2147483648 {
		t.Errorf("expected limit 2 GiB, got %d", limits.LimitBytes)
	}
	// Default share is 25%.
	if limits.DBCacheBudgetBytes != 536870912 {
		t.Errorf("expected budget 512 MiB, got %d", limits.DBCacheBudgetBytes)
	}
}

func TestComputeLimitsCustomPercent(t *testing.T) {
	filesystem := testFS(map[string]string{
		"sys/fs/cgroup/memory/memory.limit_in_bytes": "1073741824",
	})

	limiter := NewMemoryLimiterWithFS(filesystem)
	limits, err := limiter.ComputeLimits(MemoryConfig{Mode: MemoryModeCgroupAware, DBCachePercent: 50})
	if err != nil {
		t.Fatal(err)
	}
	if limits.CgroupVersion != 1 {
		t.Errorf("expected cgroup v1, got v%d", limits.CgroupVersion)
	}
	if limits.DBCacheBudgetBytes != 536870912 {
		t.Errorf("expected budget 512 MiB, got %d", limits.DBCacheBudgetBytes)
	}
}

func TestComputeLimitsFallsBackToSystemMemory(t *testing.T) {
	limiter := NewMemoryLimiterWithFS(testFS(map[string]string{"proc/meminfo": testMemInfo}))
	limits, err := limiter.ComputeLimits(MemoryConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if limits.CgroupVersion != 0 {
		t.Errorf("expected no cgroup version, got %d", limits.CgroupVersion)
	}
	if limits.LimitBytes != 8388608*1024 {
		t.Errorf("expected meminfo total, got %d", limits.LimitBytes)
	}
}

func TestComputeLimitsNoMemorySource(t *testing.T) {
	limiter := NewMemoryLimiterWithFS(testFS(nil))
	if _, err := limiter.ComputeLimits(MemoryConfig{}); err == nil {
		t.Error("expected error without cgroup or meminfo")
	}
}

func TestComputeLimitsFixed(t *testing.T) {
	limiter := NewMemoryLimiterWithFS(testFS(nil))
	limits, err := limiter.ComputeLimits(MemoryConfig{Mode: MemoryModeFixed, FixedLimitBytes: 4 << 30})
	if err != nil {
		t.Fatal(err)
	}
	if limits.LimitBytes != 4<<30 {
		t.Errorf("expected 4 GiB limit, got %d", limits.LimitBytes)
	}
	if limits.DBCacheBudgetBytes != 1<<30 {
		t.Errorf("expected 1 GiB budget, got %d", limits.DBCacheBudgetBytes)
	}
}

func TestComputeLimitsFixedWithoutLimit(t *testing.T) {
	limiter := NewMemoryLimiterWithFS(testFS(nil))
	if _, err := limiter.ComputeLimits(MemoryConfig{Mode: MemoryModeFixed}); err == nil {
		t.Error("expected error when fixedLimitBytes is 0")
	}
}

func TestComputeLimitsUnmanaged(t *testing.T) {
	limiter := NewMemoryLimiterWithFS(testFS(nil))
	limits, err := limiter.ComputeLimits(MemoryConfig{Mode: MemoryModeUnmanaged})
	if err != nil {
		t.Fatal(err)
	}
	if limits != (MemoryLimits{}) {
		t.Errorf("expected zero limits when unmanaged, got %+v", limits)
	}
}

func TestComputeLimitsUnknownMode(t *testing.T) {
	limiter := NewMemoryLimiterWithFS(testFS(nil))
	if _, err := limiter.ComputeLimits(MemoryConfig{Mode: "adaptive"}); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestComputeLimitsMinimumBudget(t *testing.T) {
	limiter := NewMemoryLimiterWithFS(testFS(nil))
	limits, err := limiter.ComputeLimits(MemoryConfig{Mode: MemoryModeFixed, FixedLimitBytes: 8 * 1024 * 1024})
	if err != nil {
		t.Fatal(err)
	}
	if limits.DBCacheBudgetBytes != minimumDBCacheBytes {
		t.Errorf("expected budget floor %d, got %d", minimumDBCacheBytes, limits.DBCacheBudgetBytes)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    uint64
		expected string
	}{
		{512, "512 B"},
		{2048, "2.00 KiB"},
		{3 * 1024 * 1024, "3.00 MiB"},
		{1536 * 1024 * 1024, "1.50 GiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.input); got != tt.expected {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
