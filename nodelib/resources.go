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
	"io/fs"
	"path"
	"runtime"
	"strings"
)

// ResourceProvider opens bundled resources as byte streams. The stream need
// not be seekable and its length need not be known up front. A missing
// resource must be reported with an error matching fs.ErrNotExist.
type ResourceProvider interface {
	Open(name string) (io.ReadCloser, error)
}

// FSResources serves bundled resources from any fs.FS: an asset directory
// via os.DirFS, an embed.FS compiled into the embedding program, or a
// fstest.MapFS in tests.
type FSResources struct {
	FS fs.FS
}

// Open implements ResourceProvider.
func (r FSResources) Open(name string) (io.ReadCloser, error) {
	if r.FS == nil {
		return nil, fmt.Errorf("open %s: %w", name, fs.ErrNotExist)
	}
	return r.FS.Open(strings.TrimPrefix(path.Clean(name), "/"))
}

// archSuffixes maps Go architectures to the suffixes used by the bundled
// daemon builds. The 32-bit ARM build follows the Android ABI name.
var archSuffixes = map[string]string{
	"arm64": "arm64",
	"arm":   "armeabi-v7a",
	"amd64": "x86_64",
	"386":   "x86",
}

// ResourceNameFor returns the bundled resource name for a base artifact path
// and Go architecture, e.g. ("bin/digibyted", "arm64") -> "bin/digibyted-arm64".
// Unknown architectures fall back to the GOARCH string itself.
func ResourceNameFor(base, goarch string) string {
	suffix, ok := archSuffixes[goarch]
	if !ok {
		suffix = goarch
	}
	return base + "-" + suffix
}

// runtimeArch is swapped in tests to exercise other architectures.
var runtimeArch = func() string { return runtime.GOARCH }
