package nodelib

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// fakeProcess is an in-memory ProcessControl. Terminated or exited children
// become zombies: they still answer Alive until reaped.
type fakeProcess struct {
	mu sync.Mutex

	nextPID int
	spawned []SpawnSpec
	alive   map[int]bool
	zombies map[int]ReapResult
	signals []string
	reaped  []int

	spawnErr     error
	terminateErr error
	reapErr      error

	// ignoreTerm keeps children alive after SIGTERM.
	ignoreTerm bool
	// lingerOnTerm delays the exit after SIGTERM until exit is called.
	lingerOnTerm bool
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		nextPID: 1000,
		alive:   make(map[int]bool),
		zombies: make(map[int]ReapResult),
	}
}

func (f *fakeProcess) Spawn(spec SpawnSpec) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spawnErr != nil {
		return 0, f.spawnErr
	}
	f.nextPID++
	pid := f.nextPID
	f.alive[pid] = true
	f.spawned = append(f.spawned, spec)
	return pid, nil
}

func (f *fakeProcess) Terminate(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, fmt.Sprintf("TERM:%d", pid))
	if f.terminateErr != nil {
		return f.terminateErr
	}
	if !f.alive[pid] {
		return errors.New("no such process")
	}
	if !f.ignoreTerm && !f.lingerOnTerm {
		f.zombies[pid] = ReapResult{Reaped: true, ExitCode: -1, Signal: "terminated"}
	}
	return nil
}

func (f *fakeProcess) Kill(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, fmt.Sprintf("KILL:%d", pid))
	if !f.alive[pid] {
		return errors.New("no such process")
	}
	f.zombies[pid] = ReapResult{Reaped: true, ExitCode: -1, Signal: "killed"}
	return nil
}

func (f *fakeProcess) Reap(pid int) (ReapResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reapErr != nil {
		return ReapResult{}, f.reapErr
	}
	result, ok := f.zombies[pid]
	if !ok {
		return ReapResult{}, nil
	}
	delete(f.zombies, pid)
	delete(f.alive, pid)
	f.reaped = append(f.reaped, pid)
	return result, nil
}

func (f *fakeProcess) Alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid]
}

// exit turns a running child into a zombie with the given exit code.
func (f *fakeProcess) exit(pid, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zombies[pid] = ReapResult{Reaped: true, ExitCode: code}
}

// vanish removes a pid without leaving anything to reap.
func (f *fakeProcess) vanish(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.alive, pid)
	delete(f.zombies, pid)
}

func (f *fakeProcess) spawnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spawned)
}

func (f *fakeProcess) signalLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.signals...)
}

func (f *fakeProcess) reapedPIDs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.reaped...)
}

// faultyFS is the host filesystem with injectable failures.
type faultyFS struct {
	OSFileSystem

	chmodErr   error
	shortWrite bool
	writeErr   error
}

func (f *faultyFS) Chmod(name string, mode fs.FileMode) error {
	if f.chmodErr != nil {
		return f.chmodErr
	}
	return f.OSFileSystem.Chmod(name, mode)
}

func (f *faultyFS) Create(name string, perm fs.FileMode) (io.WriteCloser, error) {
	w, err := f.OSFileSystem.Create(name, perm)
	if err != nil {
		return nil, err
	}
	if f.shortWrite || f.writeErr != nil {
		return &faultyWriter{WriteCloser: w, short: f.shortWrite, err: f.writeErr}, nil
	}
	return w, nil
}

type faultyWriter struct {
	io.WriteCloser
	short bool
	err   error
}

func (w *faultyWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	if w.short && len(p) > 1 {
		return w.WriteCloser.Write(p[:len(p)-1])
	}
	return w.WriteCloser.Write(p)
}

// errResources fails every read after returning some bytes.
type errResources struct{}

func (errResources) Open(name string) (io.ReadCloser, error) {
	return io.NopCloser(io.MultiReader(
		strings.NewReader("partial"),
		errReader{},
	)), nil
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("device error") }

// writeExecutable creates an executable file in dir.
func writeExecutable(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o700); err != nil {
		t.Fatal(err)
	}
	return path
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}
