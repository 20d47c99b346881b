// Package proc runs one preview tool as a supervised child process. Argument
// construction, working-directory resolution and environment merging happen
// in the session layer; this package only runs what it is given and owns
// signaling and exit collection.
package proc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// DefaultStopGrace is how long Terminate waits between SIGTERM and SIGKILL.
const DefaultStopGrace = 3 * time.Second

var errPTYUnsupported = errors.New("pty unsupported on this platform")

// Config describes one launch.
type Config struct {
	Command string   // executable name or path
	Args    []string // argv after Command
	Dir     string   // working directory
	Env     []string // fully merged environment, "K=V" form
	UsePTY  bool     // run under a pseudo-terminal

	CaptureStdout io.WriteCloser // optional tee target for stdout
	CaptureStderr io.WriteCloser // optional tee target for stderr
}

// ExitState describes how the child ended.
type ExitState struct {
	Code     int   // exit code; -1 when terminated by a signal
	Signaled bool  // ended by a signal rather than exit
	Err      error // cmd.Wait error for abnormal ends, nil for code 0
}

// Handle supervises one spawned preview tool. The consumer must drain
// Stdout to EOF (readiness scanning does) and, in pipe mode, Stderr too;
// an undrained pipe can block the child.
type Handle struct {
	cmd    *exec.Cmd
	pid    int
	stdout io.Reader
	stderr io.Reader
	master *os.File // pty master when running under a pty

	outCloser io.WriteCloser
	errCloser io.WriteCloser

	done chan struct{} // closed by monitor when cmd.Wait returns

	mu     sync.Mutex
	exit   ExitState
	exited bool
	killed bool
}

// Spawn starts the tool and begins supervising it. A failure to launch
// returns an error and no handle; capture writers are closed on that path.
func Spawn(cfg Config) (*Handle, error) {
	if cfg.Command == "" {
		closeIfSet(cfg.CaptureStdout)
		closeIfSet(cfg.CaptureStderr)
		return nil, errors.New("empty command")
	}
	// #nosec G204 -- command and args come from operator config
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = cfg.Env
	}

	h := &Handle{
		cmd:       cmd,
		outCloser: cfg.CaptureStdout,
		errCloser: cfg.CaptureStderr,
		done:      make(chan struct{}),
	}

	var err error
	if cfg.UsePTY {
		err = h.startPTY()
		if errors.Is(err, errPTYUnsupported) {
			// platforms without pty support run with plain pipes
			err = h.startPipes()
		}
	} else {
		err = h.startPipes()
	}
	if err != nil {
		closeIfSet(cfg.CaptureStdout)
		closeIfSet(cfg.CaptureStderr)
		return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
	}

	h.pid = cmd.Process.Pid
	go h.monitor()
	return h, nil
}

// startPipes wires stdout/stderr through parent-held pipes. Plain os.Pipe
// instead of cmd.StdoutPipe keeps cmd.Wait from closing the read ends while
// the readiness scanner is still draining them.
func (h *Handle) startPipes() error {
	outR, outW, err := os.Pipe()
	if err != nil {
		return err
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		_ = outR.Close()
		_ = outW.Close()
		return err
	}
	configureSysProcAttr(h.cmd)
	h.cmd.Stdout = outW
	h.cmd.Stderr = errW
	if err := h.cmd.Start(); err != nil {
		_ = outR.Close()
		_ = outW.Close()
		_ = errR.Close()
		_ = errW.Close()
		return err
	}
	// The child owns its copies now; closing ours makes EOF reachable.
	_ = outW.Close()
	_ = errW.Close()
	h.stdout = teeTo(outR, h.outCloser)
	h.stderr = teeTo(errR, h.errCloser)
	return nil
}

func (h *Handle) monitor() {
	err := h.cmd.Wait()
	st := ExitState{}
	if ps := h.cmd.ProcessState; ps != nil {
		st.Code = ps.ExitCode()
		st.Signaled = !ps.Exited()
	}
	if err != nil {
		st.Err = err
	}
	h.mu.Lock()
	h.exit = st
	h.exited = true
	h.mu.Unlock()
	if h.master != nil {
		_ = h.master.Close()
	}
	closeIfSet(h.outCloser)
	closeIfSet(h.errCloser)
	close(h.done)
}

// Stdout returns the child's stdout stream (the merged pty stream when
// running under a pty).
func (h *Handle) Stdout() io.Reader { return h.stdout }

// Stderr returns the child's stderr stream. Empty in pty mode, where the
// streams are merged.
func (h *Handle) Stderr() io.Reader { return h.stderr }

// PID returns the child's process id.
func (h *Handle) PID() int { return h.pid }

// Exited is closed once the child has been reaped.
func (h *Handle) Exited() <-chan struct{} { return h.done }

// ExitState reports how the child ended; ok is false while it still runs.
func (h *Handle) ExitState() (ExitState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exit, h.exited
}

// Alive reports whether the child is still running.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
	}
	return alive(h.pid)
}

// Kill force-stops the whole process group. Idempotent: killing an exited
// or already-killed child returns nil.
func (h *Handle) Kill() error {
	h.mu.Lock()
	if h.exited || h.killed {
		h.mu.Unlock()
		return nil
	}
	h.killed = true
	h.mu.Unlock()
	return killGroup(h.pid, syscall.SIGKILL)
}

// Terminate asks the group to exit with SIGTERM and escalates to SIGKILL
// after grace. It returns once the child has been reaped, or with an error
// when a signal could not be delivered.
func (h *Handle) Terminate(grace time.Duration) error {
	h.mu.Lock()
	if h.exited {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()
	if grace <= 0 {
		grace = DefaultStopGrace
	}
	if err := killGroup(h.pid, syscall.SIGTERM); err != nil {
		return err
	}
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-h.done:
		return nil
	case <-t.C:
	}
	h.mu.Lock()
	h.killed = true
	h.mu.Unlock()
	if err := killGroup(h.pid, syscall.SIGKILL); err != nil {
		return err
	}
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		return fmt.Errorf("pid %d not reaped after SIGKILL", h.pid)
	}
	return nil
}

func teeTo(r io.Reader, w io.Writer) io.Reader {
	if w == nil {
		return r
	}
	return io.TeeReader(r, w)
}

func closeIfSet(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

// emptyReader serves Stderr when the pty merges both streams.
type emptyReader struct{}

func (emptyReader) Read([]byte) (int, error) { return 0, io.EOF }
