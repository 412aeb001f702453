//go:build !unix

package nodelib

type unsupportedProcessControl struct{}

// DefaultProcessControl returns a process control that refuses every
// operation; node supervision needs unix signals and wait4.
func DefaultProcessControl() ProcessControl {
	return unsupportedProcessControl{}
}

func (unsupportedProcessControl) Spawn(SpawnSpec) (int, error) { return 0, ErrUnsupported }
func (unsupportedProcessControl) Terminate(int) error { return ErrUnsupported }
func (unsupportedProcessControl) Kill(int) error { return ErrUnsupported }
func (unsupportedProcessControl) Reap(int) (ReapResult, error) { return ReapResult{}, ErrUnsupported }
func (unsupportedProcessControl) Alive(int) bool { return false }

// SetResourceLimits is a no-op where rlimits do not exist.
func SetResourceLimits(ResourceConfig) error { return nil }
