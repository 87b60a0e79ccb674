// Package host reads properties of the running host that the signing
// workflow needs: the kernel release and machine architecture, captured once
// at startup and threaded explicitly through the components.
package host

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Env holds host properties captured at startup.
type Env struct {
	kernelRelease string
	arch          string
}

// NewEnv captures the host properties via uname.
func NewEnv() (*Env, error) {
	var uname unix.Utsname
	if err := unix.Uname(&uname); err != nil {
		return nil, errors.Wrap(err, "failed to get uname")
	}
	return &Env{
		kernelRelease: charsToString(uname.Release[:]),
		arch:          charsToString(uname.Machine[:]),
	}, nil
}

// NewTestEnv returns an Env with fixed values, for tests.
func NewTestEnv(kernelRelease, arch string) *Env {
	return &Env{kernelRelease: kernelRelease, arch: arch}
}

// KernelRelease returns the running kernel release, i.e. `uname -r`.
func (e *Env) KernelRelease() string { return e.kernelRelease }

// Arch returns the machine architecture, i.e. `uname -m`.
func (e *Env) Arch() string { return e.arch }

// charsToString converts a c-style byte array (null-terminated string) to string.
func charsToString(chars []byte) string {
	s := make([]byte, 0, len(chars))
	for _, ch := range chars {
		if ch == 0 {
			break
		}
		s = append(s, ch)
	}
	return string(s)
}
