package session

import (
	"fmt"
	"time"
)

// StartupError reports a preview tool that could not be launched at all:
// executable missing, bad working directory, fork failure. No process and
// no session survive it.
type StartupError struct {
	Err error
}

func (e *StartupError) Error() string { return "preview tool failed to start: " + e.Err.Error() }
func (e *StartupError) Unwrap() error { return e.Err }

// TimeoutError reports a readiness window that lapsed before the tool
// announced an endpoint. The process has already been killed when this
// error is returned.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no readiness line within %s", e.After)
}

// CrashError reports a tool that exited on its own, without a stop
// request, before or after reaching readiness. Code is the exit code,
// -1 when the process ended on a signal.
type CrashError struct {
	Code int
}

func (e *CrashError) Error() string {
	return fmt.Sprintf("preview tool exited with code %d", e.Code)
}

// KillError reports a termination signal that could not be delivered.
// The session is still marked stopped locally so the registry entry does
// not leak; the error exists for operator awareness.
type KillError struct {
	Err error
}

func (e *KillError) Error() string { return "terminate preview tool: " + e.Err.Error() }
func (e *KillError) Unwrap() error { return e.Err }
