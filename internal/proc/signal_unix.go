//go:build !windows

package proc

import (
	"errors"
	"syscall"
)

// killGroup signals the process group rooted at pid. A group that is already
// gone is not an error; kill must be idempotent.
func killGroup(pid int, sig syscall.Signal) error {
	err := syscall.Kill(-pid, sig)
	if err != nil && errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// alive reports whether pid still exists.
func alive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
