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
	"time"
)

// MonitorConfig controls the periodic status reconciliation.
type MonitorConfig struct {
	// Enabled controls whether the monitor runs. Default: true.
	Enabled *bool `yaml:"enabled,omitempty"`

	// PollIntervalSeconds is how often Status is called. Default: 5.
	PollIntervalSeconds int `yaml:"pollIntervalSeconds,omitempty"`
}

// DefaultMonitorConfig returns the monitor defaults.
func DefaultMonitorConfig() MonitorConfig {
	enabled := true
	return MonitorConfig{
		Enabled:             &enabled,
		PollIntervalSeconds: 5,
	}
}

// StatusSource is what the monitor polls.
type StatusSource interface {
	Status() Status
}

// Monitor polls a supervisor so an exited node is noticed, reaped and
// reported without waiting for an external status query.
//
// Transitions are logged; the supervisor itself records them in metrics.
type Monitor struct {
	source   StatusSource
	interval time.Duration
	logger   *Logger
	last     Status

	// onChange, if set, is called after every observed transition.
	onChange func(from, to Status)
}

// NewMonitor creates a monitor. Non-positive intervals use the default.
func NewMonitor(source StatusSource, interval time.Duration, logger *Logger) *Monitor {
	if interval <= 0 {
		interval = time.Duration(DefaultMonitorConfig().PollIntervalSeconds) * time.Second
	}
	if logger == nil {
		logger = DiscardLogger()
	}
	return &Monitor{
		source:   source,
		interval: interval,
		logger:   logger.With("component", "monitor"),
		last:     source.Status(),
	}
}

// OnChange registers a callback for status transitions. It must be called
// before Run.
func (m *Monitor) OnChange(fn func(from, to Status)) {
	m.onChange = fn
}

// Run polls until ctx is cancelled and returns the last observed status.
func (m *Monitor) Run(ctx context.Context) Status {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Printf("Started: status=%s poll=%s", m.last, m.interval)

	for {
		select {
		case <-ctx.Done():
			return m.last
		case <-ticker.C:
			m.check()
		}
	}
}

// check performs a single reconciliation.
func (m *Monitor) check() {
	current := m.source.Status()
	if current == m.last {
		return
	}
	previous := m.last
	m.last = current

	switch current {
	case StatusRunning:
		m.logger.Printf("Node is running (was %s)", previous)
	case StatusNotRunning:
		m.logger.Warnf("Node is no longer running (was %s)", previous)
	default:
		m.logger.Errorf("Node entered %s (was %s)", current, previous)
	}

	if m.onChange != nil {
		m.onChange(previous, current)
	}
}
