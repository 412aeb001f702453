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
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
)

const (
	// copyBufferSize is the chunk size used when streaming a bundled resource to disk.
	copyBufferSize = 16 * 1024

	// executableMode allows read/write/execute by the owner only.
	executableMode fs.FileMode = 0o700

	// installDirMode is used when creating the install directory.
	installDirMode fs.FileMode = 0o700
)

// Artifact names an executable the supervisor needs on disk.
type Artifact struct {
	// Name is the file name inside the install directory, e.g. "digibyted".
	Name string `yaml:"name"`

	// ResourceName is the bundled resource to materialize it from,
	// e.g. "bin/digibyted-arm64". Empty means "bin/<Name>" with the
	// architecture suffix for the running platform.
	ResourceName string `yaml:"resourceName,omitempty"`
}

// Provisioner locates executables on disk and materializes them from
// bundled resources when absent.
type Provisioner struct {
	fs     FileSystem
	logger *Logger
}

// NewProvisioner creates a Provisioner. A nil filesystem uses the host filesystem.
func NewProvisioner(filesystem FileSystem, logger *Logger) *Provisioner {
	if filesystem == nil {
		filesystem = OSFileSystem{}
	}
	if logger == nil {
		logger = DiscardLogger()
	}
	return &Provisioner{fs: filesystem, logger: logger}
}

// Resolve returns the absolute path of an executable for the artifact.
// Relative candidates are anchored at the working directory. Candidates are
// walked in order and the first regular file with the owner-execute bit wins.
// If the first existing candidate is not executable it is repaired in place
// with chmod; when the repair fails the path is still returned as a
// best-effort fallback unless a later candidate qualifies. Otherwise the
// artifact is provisioned from resources into installDir.
func (p *Provisioner) Resolve(candidates []string, resources ResourceProvider, installDir string, artifact Artifact) (string, error) {
	var fallback string
	repairAttempted := false

	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		candidate, err := filepath.Abs(candidate)
		if err != nil {
			p.logger.Warnf("Skipping %s candidate: %v", artifact.Name, err)
			continue
		}
		info, err := p.fs.Stat(candidate)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if isOwnerExecutable(info) {
			p.logger.Debugf("Using %s binary at %s", artifact.Name, candidate)
			return candidate, nil
		}
		if repairAttempted {
			continue
		}
		repairAttempted = true
		if err := p.fs.Chmod(candidate, executableMode); err != nil {
			p.logger.Warnf("%s at %s exists but is not executable and chmod failed: %v", artifact.Name, candidate, err)
			fallback = candidate
			continue
		}
		p.logger.Printf("Marked existing %s at %s executable", artifact.Name, candidate)
		return candidate, nil
	}

	if fallback != "" {
		return fallback, nil
	}

	if resources == nil {
		return "", fmt.Errorf("%w: %s not present in %v and no bundled resources supplied",
			ErrBinaryNotFound, artifact.Name, candidates)
	}
	return p.Provision(resources, artifact.resourceName(), installDir, artifact.Name)
}

// Provision copies the named resource into destDir/name and marks it
// executable for the owner. The copy streams through a fixed-size buffer and
// stops at end of stream, on a read error, or on a short write. The returned
// path is absolute; an empty destDir means the working directory.
func (p *Provisioner) Provision(resources ResourceProvider, resourceName, destDir, name string) (string, error) {
	destDir, err := filepath.Abs(destDir)
	if err != nil {
		return "", fmt.Errorf("%w: install directory: %v", ErrIOFailure, err)
	}
	if err := p.ensureDir(destDir); err != nil {
		return "", err
	}

	src, err := resources.Open(resourceName)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrResourceNotFound, resourceName)
		}
		return "", fmt.Errorf("%w: failed to open resource %s: %v", ErrIOFailure, resourceName, err)
	}
	defer src.Close()

	dest := filepath.Join(destDir, name)
	p.logger.Printf("Extracting %s from bundled resources into %s", resourceName, dest)

	dst, err := p.fs.Create(dest, 0o600)
	if err != nil {
		return "", fmt.Errorf("%w: failed to open %s for writing: %v", ErrIOFailure, dest, err)
	}

	written, copyErr := copyStream(dst, src)
	closeErr := dst.Close()
	if copyErr == nil && closeErr != nil {
		copyErr = fmt.Errorf("%w: failed to close %s: %v", ErrIOFailure, dest, closeErr)
	}
	if copyErr != nil {
		// A truncated binary must never be picked up by a later chmod repair.
		if err := p.fs.Remove(dest); err != nil {
			p.logger.Warnf("Failed to remove partial file %s: %v", dest, err)
		}
		return "", fmt.Errorf("copying %s to %s: %w", resourceName, dest, copyErr)
	}

	if err := p.fs.Chmod(dest, executableMode); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrPermissionFailure, dest, err)
	}

	p.logger.Printf("Provisioned %s (%s)", dest, formatBytes(uint64(written)))
	return dest, nil
}

// ensureDir creates a single directory level. An existing directory is fine;
// an existing non-directory is an error.
func (p *Provisioner) ensureDir(dir string) error {
	info, err := p.fs.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%w: %s exists and is not a directory", ErrIOFailure, dir)
		}
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: stat %s: %v", ErrIOFailure, dir, err)
	}
	if err := p.fs.Mkdir(dir, installDirMode); err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: failed to create directory %s: %v", ErrIOFailure, dir, err)
	}
	return nil
}

func copyStream(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var total int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			written, writeErr := dst.Write(buf[:n])
			total += int64(written)
			if writeErr != nil {
				return total, fmt.Errorf("%w: write: %v", ErrIOFailure, writeErr)
			}
			if written != n {
				return total, fmt.Errorf("%w: short write (%d of %d bytes)", ErrIOFailure, written, n)
			}
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, fmt.Errorf("%w: read: %v", ErrIOFailure, readErr)
		}
	}
}

func (a Artifact) resourceName() string {
	if a.ResourceName != "" {
		return a.ResourceName
	}
	return ResourceNameFor("bin/"+a.Name, runtimeArch())
}
