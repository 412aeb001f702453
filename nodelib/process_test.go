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
	"os"
	"path/filepath"
	"testing"
)

func TestBuildNodeArgs(t *testing.T) {
	args := BuildNodeArgs("/opt/bin/digibyted", "/data/digibyte.conf", "/data", nil)
	expected := []string{"/opt/bin/digibyted", "-conf=/data/digibyte.conf", "-datadir=/data"}
	assertArgs(t, expected, args)
}

func TestBuildNodeArgsExtra(t *testing.T) {
	args := BuildNodeArgs("digibyted", "c", "d", []string{"-printtoconsole=0", "-testnet"})
	expected := []string{"digibyted", "-conf=c", "-datadir=d", "-printtoconsole=0", "-testnet"}
	assertArgs(t, expected, args)
}

func TestBuildNodeArgsKeepsMetacharactersInOneArgument(t *testing.T) {
	args := BuildNodeArgs("digibyted", "/data dir/$(rm -rf);x.conf", "/data dir", nil)
	if len(args) != 3 {
		t.Fatalf("expected 3 args, got %d: %v", len(args), args)
	}
	if args[1] != "-conf=/data dir/$(rm -rf);x.conf" {
		t.Errorf("unexpected conf arg: %q", args[1])
	}
}

func TestBuildProcessEnvInheritsWhenEmpty(t *testing.T) {
	if env := BuildProcessEnv(nil); env != nil {
		t.Errorf("expected nil env to inherit, got %d entries", len(env))
	}
}

func TestBuildProcessEnvOverlay(t *testing.T) {
	t.Setenv("NODE_SUPERVISOR_TEST", "inherited")
	env := BuildProcessEnv(map[string]string{"NODE_SUPERVISOR_TEST": "override", "EXTRA": "1"})

	found := map[string]string{}
	for _, e := range env {
		for i := 0; i < len(e); i++ {
			if e[i] == '=' {
				found[e[:i]] = e[i+1:]
				break
			}
		}
	}
	if found["NODE_SUPERVISOR_TEST"] != "override" {
		t.Errorf("expected override, got %q", found["NODE_SUPERVISOR_TEST"])
	}
	if found["EXTRA"] != "1" {
		t.Errorf("expected EXTRA=1, got %q", found["EXTRA"])
	}
	if _, ok := found["PATH"]; !ok && os.Getenv("PATH") != "" {
		t.Errorf("expected PATH to be inherited")
	}
}

func TestResolveEnvVarPath(t *testing.T) {
	t.Setenv("NODE_HOME", "/opt/node")
	if got := ResolveEnvVarPath("${NODE_HOME}/bin"); got != "/opt/node/bin" {
		t.Errorf("unexpected path: %s", got)
	}
	if got := ResolveEnvVarPath("$NODE_HOME/bin"); got != "/opt/node/bin" {
		t.Errorf("unexpected path: %s", got)
	}
}

func TestCreateDirectories(t *testing.T) {
	root := t.TempDir()
	dirs := []string{filepath.Join(root, "var", "log"), filepath.Join(root, "var", "data", "node")}
	if err := CreateDirectories(dirs); err != nil {
		t.Fatal(err)
	}
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("expected directory %s", dir)
		}
	}
}

func TestReapResultString(t *testing.T) {
	tests := []struct {
		result   ReapResult
		expected string
	}{
		{ReapResult{}, "not exited"},
		{ReapResult{Reaped: true, ExitCode: 3}, "exit status 3"},
		{ReapResult{Reaped: true, ExitCode: -1, Signal: "killed"}, "signal: killed"},
	}
	for _, tt := range tests {
		if got := tt.result.String(); got != tt.expected {
			t.Errorf("expected %q, got %q", tt.expected, got)
		}
	}
}

func assertArgs(t *testing.T, expected, actual []string) {
	t.Helper()
	if len(expected) != len(actual) {
		t.Fatalf("expected %d args %v, got %d args %v", len(expected), expected, len(actual), actual)
	}
	for i := range expected {
		if expected[i] != actual[i] {
			t.Errorf("arg[%d]: expected %q, got %q", i, expected[i], actual[i])
		}
	}
}
