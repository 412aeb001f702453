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

// node-supervisor runs a single DigiByte node daemon as a detached child
// process and keeps track of it.
//
// It:
//
//   - Reads declarative YAML configuration (static + per-deployment custom)
//   - Locates the node binary, or provisions it from bundled per-arch builds
//   - Writes digibyte.conf from a resource preset, sized to the host
//   - Starts the node detached, monitors it and serves its status
//   - Stops it with SIGTERM, escalating to SIGKILL after a grace period
//
// Usage:
//
//	node-supervisor run                          # start and supervise the node
//	node-supervisor provision                    # install the node binaries only
//	node-supervisor config init --preset light   # (re)write digibyte.conf
//	node-supervisor logs -n 200                  # tail the node debug log
//	node-supervisor version
package main

import (
	"fmt"
	"os"
)

var (
	// Build-time variables set by -ldflags
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
