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
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// DefaultControlTimeout bounds a single control-binary invocation.
const DefaultControlTimeout = 15 * time.Second

// StopRequest asks a running node to shut itself down. It returns once the
// node has accepted the request; the process exits asynchronously.
type StopRequest func(ctx context.Context) error

// CLIStopRequest returns a StopRequest that runs the node's control binary:
//
//	<cli> -datadir=<dataDir> -rpcuser=<user> -rpcpassword=<password> stop
//
// Empty credentials are omitted so the binary falls back to the cookie file.
// A non-zero exit is an error carrying the command's output.
func CLIStopRequest(cliPath, dataDir string, creds RPCCredentials, timeout time.Duration) StopRequest {
	return func(ctx context.Context) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		args := []string{"-datadir=" + dataDir}
		if creds.User != "" {
			args = append(args, "-rpcuser="+creds.User)
		}
		if creds.Password != "" {
			args = append(args, "-rpcpassword="+creds.Password)
		}
		args = append(args, "stop")

		out, err := exec.CommandContext(ctx, cliPath, args...).CombinedOutput()
		if err != nil {
			name := filepath.Base(cliPath)
			if msg := strings.TrimSpace(string(out)); msg != "" {
				return fmt.Errorf("%s stop: %w: %s", name, err, msg)
			}
			return fmt.Errorf("%s stop: %w", name, err)
		}
		return nil
	}
}
