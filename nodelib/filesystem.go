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
	"io"
	"io/fs"
	"os"
)

// FileSystem is the subset of filesystem operations the provisioner needs.
// It is injectable so that short writes and chmod failures can be tested.
type FileSystem interface {
	Stat(name string) (fs.FileInfo, error)

	// Mkdir creates a single directory level.
	Mkdir(name string, perm fs.FileMode) error

	// Create opens name for writing, creating or truncating it.
	Create(name string, perm fs.FileMode) (io.WriteCloser, error)

	Chmod(name string, mode fs.FileMode) error

	Remove(name string) error
}

// OSFileSystem implements FileSystem on the host filesystem.
type OSFileSystem struct{}

func (OSFileSystem) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(name)
}

func (OSFileSystem) Mkdir(name string, perm fs.FileMode) error {
	return os.Mkdir(name, perm)
}

func (OSFileSystem) Create(name string, perm fs.FileMode) (io.WriteCloser, error) {
	return os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
}

func (OSFileSystem) Chmod(name string, mode fs.FileMode) error {
	return os.Chmod(name, mode)
}

func (OSFileSystem) Remove(name string) error {
	return os.Remove(name)
}

// isOwnerExecutable reports whether the owner-execute bit is set on a regular file.
func isOwnerExecutable(info fs.FileInfo) bool {
	return info.Mode().IsRegular() && info.Mode().Perm()&0o100 != 0
}
