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
	"strings"
)

// Status is the supervisor's cached belief about the node process.
type Status int

const (
	// StatusNotRunning is the idle state: nothing launched, or the last child exited.
	StatusNotRunning Status = iota

	// StatusRunning means a tracked child answered the last liveness probe.
	StatusRunning

	// StatusBinaryMissing means the daemon executable could not be located or
	// provisioned. It is sticky until the next start attempt.
	StatusBinaryMissing

	// StatusError means the last start attempt failed for another reason.
	// It is sticky until the next start attempt.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusNotRunning:
		return "NOT_RUNNING"
	case StatusRunning:
		return "RUNNING"
	case StatusBinaryMissing:
		return "BINARY_MISSING"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Sticky reports whether the status survives liveness probes and stop calls
// and only changes on a new start attempt.
func (s Status) Sticky() bool {
	return s == StatusBinaryMissing || s == StatusError
}

// ParseStatus converts the boundary string form back into a Status.
// Matching is case-insensitive, as the embedding UI compares it that way.
func ParseStatus(s string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NOT_RUNNING":
		return StatusNotRunning, nil
	case "RUNNING":
		return StatusRunning, nil
	case "BINARY_MISSING":
		return StatusBinaryMissing, nil
	case "ERROR":
		return StatusError, nil
	default:
		return StatusNotRunning, fmt.Errorf("unknown status %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
