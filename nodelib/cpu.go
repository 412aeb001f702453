package nodelib

import (
	"io/fs"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// maxScriptThreads is the node's ceiling for -par.
const maxScriptThreads = 16

// Quota files, relative to the root of the cgroup filesystem.
const (
	cpuMaxFile    = "sys/fs/cgroup/cpu.max"
	cfsQuotaFile  = "sys/fs/cgroup/cpu/cpu.cfs_quota_us"
	cfsPeriodFile = "sys/fs/cgroup/cpu/cpu.cfs_period_us"
)

// ScriptThreadsConfig sizes the node's script verification threads (-par).
type ScriptThreadsConfig struct {
	// Threads sets -par directly. 0 derives it from the CPUs available.
	Threads int `yaml:"threads,omitempty"`

	// IgnoreQuota sizes from the host CPU count even when the node runs in
	// a CPU-limited cgroup.
	IgnoreQuota bool `yaml:"ignoreQuota,omitempty"`
}

// ScriptThreads returns the -par value. Without an explicit Threads it is one
// thread per CPU the node may use: the cgroup CPU quota rounded up when one
// applies, otherwise the host CPU count. The result is clamped to 1..16.
func (c ScriptThreadsConfig) ScriptThreads(cgroup fs.FS) int {
	threads := c.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
		if !c.IgnoreQuota {
			if cpus, ok := cgroupCPUQuota(cgroup); ok {
				threads = int(math.Ceil(cpus))
			}
		}
	}
	return min(max(threads, 1), maxScriptThreads)
}

// cgroupCPUQuota returns the CPU bandwidth granted to the enclosing cgroup,
// in CPUs. cpu.max ("<quota> <period>") wins over the v1 cfs pair. ok is
// false when the group is unlimited or nothing could be read.
func cgroupCPUQuota(cgroup fs.FS) (float64, bool) {
	if cgroup == nil {
		return 0, false
	}
	if data, err := fs.ReadFile(cgroup, cpuMaxFile); err == nil {
		fields := strings.Fields(string(data))
		if len(fields) != 2 {
			return 0, false
		}
		return quotaCPUs(fields[0], fields[1])
	}

	quota, err := fs.ReadFile(cgroup, cfsQuotaFile)
	if err != nil {
		return 0, false
	}
	period, err := fs.ReadFile(cgroup, cfsPeriodFile)
	if err != nil {
		return 0, false
	}
	return quotaCPUs(strings.TrimSpace(string(quota)), strings.TrimSpace(string(period)))
}

// quotaCPUs divides a quota by its period. "max" and -1 mean unlimited.
func quotaCPUs(quota, period string) (float64, bool) {
	q, err := strconv.ParseFloat(quota, 64)
	if err != nil || q <= 0 {
		return 0, false
	}
	p, err := strconv.ParseFloat(period, 64)
	if err != nil || p <= 0 {
		return 0, false
	}
	return q / p, true
}

func cgroupFilesystem() fs.FS {
	return os.DirFS("/")
}
