//go:build windows

package proc

import "syscall"

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess      = kernel32.NewProc("OpenProcess")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procCloseHandle      = kernel32.NewProc("CloseHandle")
)

const (
	processTerminate        = 0x0001
	processQueryInformation = 0x0400
)

// killGroup terminates the process on Windows. There is no group signaling;
// the tool's own children are left to the job object the console creates.
// A process that is already gone is not an error.
func killGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	if sig == 0 {
		return checkExists(pid)
	}
	handle, err := openProcess(processTerminate, uint32(pid))
	if err != nil {
		// Already exited; treat as done.
		return nil
	}
	defer closeHandle(handle)
	ret, _, callErr := procTerminateProcess.Call(uintptr(handle), uintptr(1))
	if ret == 0 {
		return callErr
	}
	return nil
}

// alive reports whether pid still exists.
func alive(pid int) bool {
	return checkExists(pid) == nil
}

func checkExists(pid int) error {
	handle, err := openProcess(processQueryInformation, uint32(pid))
	if err != nil {
		return err
	}
	defer closeHandle(handle)
	return nil
}

func openProcess(access uint32, pid uint32) (syscall.Handle, error) {
	ret, _, err := procOpenProcess.Call(uintptr(access), 0, uintptr(pid))
	if ret == 0 {
		return 0, err
	}
	return syscall.Handle(ret), nil
}

func closeHandle(handle syscall.Handle) {
	_, _, _ = procCloseHandle.Call(uintptr(handle))
}
