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

import "errors"

var (
	// ErrInvalidArgument is returned when a required path is empty.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrResourceNotFound is returned when the bundled resource is absent.
	ErrResourceNotFound = errors.New("bundled resource not found")

	// ErrIOFailure covers read, write, short-write and directory errors while provisioning.
	ErrIOFailure = errors.New("i/o failure")

	// ErrPermissionFailure is returned when a provisioned file cannot be marked executable.
	ErrPermissionFailure = errors.New("cannot mark executable")

	// ErrBinaryNotFound is returned when no candidate is executable and no
	// resource provider was supplied to provision one.
	ErrBinaryNotFound = errors.New("node binary not found")

	// ErrProcessCreation is returned when the child process cannot be spawned.
	ErrProcessCreation = errors.New("process creation failed")

	// ErrSignalFailure is returned when the termination signal cannot be delivered,
	// typically because the process already exited.
	ErrSignalFailure = errors.New("signal delivery failed")

	// ErrShutdownTimeout is returned when the node outlives SIGKILL.
	ErrShutdownTimeout = errors.New("node did not exit")

	// ErrUnsupported is returned by process control on platforms without unix signals.
	ErrUnsupported = errors.New("process control not supported on this platform")
)
