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
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	defaultDebugLogName = "debug.log"

	// tailChunkSize is the step TailDebugLog reads backwards by.
	tailChunkSize = 64 * 1024

	// maxTailBytes bounds how far back TailDebugLog reads. A first line
	// reaching past it is returned truncated.
	maxTailBytes = 8 * 1024 * 1024
)

var newline = []byte{'\n'}

// DebugLogStatus describes the node's debug log.
type DebugLogStatus string

const (
	DebugLogDisabled DebugLogStatus = "disabled"
	DebugLogMissing  DebugLogStatus = "missing"
	DebugLogPresent  DebugLogStatus = "present"
)

// DebugLogInfo locates the node's debug log.
type DebugLogInfo struct {
	Status DebugLogStatus
	// Path is empty when logging is disabled.
	Path string
}

// LocateDebugLog reads digibyte.conf in dataDir to find the debug log.
// nodebuglogfile=1 disables it; debuglogfile relocates it, relative to
// dataDir unless absolute. A missing config means the default location.
func LocateDebugLog(dataDir string) DebugLogInfo {
	contents, _ := os.ReadFile(filepath.Join(dataDir, NodeConfigFileName))

	if v, ok := parseConfValue(string(contents), "nodebuglogfile", true); ok {
		v = strings.ToLower(v)
		if v == "1" || v == "true" {
			return DebugLogInfo{Status: DebugLogDisabled}
		}
	}

	path := filepath.Join(dataDir, defaultDebugLogName)
	if v, ok := parseConfValue(string(contents), "debuglogfile", true); ok && strings.TrimSpace(v) != "" {
		if filepath.IsAbs(v) {
			path = v
		} else {
			path = filepath.Join(dataDir, v)
		}
	}

	info := DebugLogInfo{Status: DebugLogMissing, Path: path}
	if _, err := os.Stat(path); err == nil {
		info.Status = DebugLogPresent
	}
	return info
}

// TailDebugLog returns up to maxLines trailing lines of the node's debug log.
// The file is read backwards from its end, so its size does not matter.
// A disabled or missing log yields no lines and no error.
func TailDebugLog(dataDir string, maxLines int) ([]string, error) {
	if maxLines <= 0 {
		return nil, nil
	}
	info := LocateDebugLog(dataDir)
	if info.Status != DebugLogPresent {
		return nil, nil
	}

	f, err := os.Open(info.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	lines, err := tailLines(f, stat.Size(), maxLines)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrIOFailure, info.Path, err)
	}
	return lines, nil
}

// tailLines reads r backwards from size in tailChunkSize steps until it has
// seen enough line breaks for maxLines complete lines, reached the start of
// the input, or read maxTailBytes. Only the tail is ever held in memory.
func tailLines(r io.ReaderAt, size int64, maxLines int) ([]string, error) {
	var chunks [][]byte
	offset := size
	breaks, total := 0, 0
	for offset > 0 && breaks < maxLines && total < maxTailBytes {
		n := min(int64(tailChunkSize), offset)
		offset -= n
		chunk := make([]byte, n)
		if _, err := r.ReadAt(chunk, offset); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		breaks += bytes.Count(chunk, newline)
		if len(chunks) == 0 && chunk[n-1] == '\n' {
			// The final newline terminates the last line rather than starting one.
			breaks--
		}
		chunks = append(chunks, chunk)
		total += len(chunk)
	}
	if total == 0 {
		return nil, nil
	}

	slices.Reverse(chunks)
	text := strings.TrimSuffix(string(bytes.Join(chunks, nil)), "\n")
	lines := strings.Split(text, "\n")
	// Unless the byte cap was hit, a partial first line is cut off here.
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines, nil
}
