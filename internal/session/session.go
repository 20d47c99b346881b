// Package session drives one preview tool process through the lifecycle
// stopped -> starting -> running -> stopping -> stopped, with direct
// starting -> stopped and running -> stopped edges on crash or kill.
//
// All transitions happen on a single state-machine goroutine fed by a
// command channel; callers block on a reply. That goroutine also owns the
// readiness race (endpoint line vs timeout vs process exit) and the watch
// for a tool dying on its own while running.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/previewd/internal/env"
	"github.com/loykin/previewd/internal/history"
	"github.com/loykin/previewd/internal/logger"
	"github.com/loykin/previewd/internal/metrics"
	"github.com/loykin/previewd/internal/proc"
	"github.com/loykin/previewd/internal/readiness"
)

// DefaultTimeout bounds the wait for the tool's readiness line.
const DefaultTimeout = 10 * time.Second

// State is one point in the session lifecycle.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Config describes how to launch and supervise one preview tool run.
type Config struct {
	Key        string   // normalized absolute document path; registry identity
	Command    string   // tool executable name or path
	Subcommand string   // e.g. "preview"; omitted from argv when empty
	ExtraArgs  []string // appended after the document path
	Workdir    string   // defaults to the document's directory
	Env        *env.Env // configured overrides layered over the OS env
	EnvExtra   []string // per-session "K=V" overrides, strongest layer
	UsePTY     bool
	Timeout    time.Duration // readiness window; DefaultTimeout when zero
	StopGrace  time.Duration // SIGTERM grace before SIGKILL on stop

	Logger  *slog.Logger
	Capture *logger.Config      // optional per-session tool output capture
	Sinks   history.Sink        // optional history destination
	Notify  func(history.Event) // optional async lifecycle surface
}

// Status is a point-in-time view of a session.
type Status struct {
	Key       string    `json:"key"`
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	PID       int       `json:"pid,omitempty"`
	Endpoint  string    `json:"endpoint,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Session owns exactly one preview tool process for its lifetime. It is
// created stopped; Start is called once, and the state machine ends at
// the first terminal transition (start failure, stop, or unsolicited
// exit). A session is never restarted; the registry creates a fresh one.
type Session struct {
	id  string
	cfg Config

	mu        sync.RWMutex
	state     State
	handle    *proc.Handle
	endpoint  string
	startedAt time.Time

	cmdChan  chan command
	doneChan chan struct{}

	stderrTail tailBuffer
	stderrDone chan struct{}

	log *slog.Logger
}

type commandAction int

const (
	actionStart commandAction = iota
	actionStop
)

type command struct {
	action commandAction
	reply  chan result
}

type result struct {
	endpoint string
	err      error
}

// New creates a session for cfg.Key and starts its state machine.
func New(cfg Config) *Session {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}
	s := &Session{
		id:         uuid.NewString(),
		cfg:        cfg,
		state:      StateStopped,
		cmdChan:    make(chan command, 4),
		doneChan:   make(chan struct{}),
		stderrDone: make(chan struct{}),
	}
	s.log = lg.With("key", cfg.Key, "session_id", s.id)

	go s.run()
	return s
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Key returns the document key this session serves.
func (s *Session) Key() string { return s.cfg.Key }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Endpoint returns the announced preview URL, empty until running.
func (s *Session) Endpoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endpoint
}

// PID returns the spawned tool's process id, 0 before spawn.
func (s *Session) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.handle == nil {
		return 0
	}
	return s.handle.PID()
}

// Done is closed once the state machine has reached its terminal state.
// The registry watches it to reap entries for sessions that ended on
// their own.
func (s *Session) Done() <-chan struct{} { return s.doneChan }

// Status snapshots the session for status listings.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		Key:       s.cfg.Key,
		SessionID: s.id,
		State:     s.state.String(),
		Endpoint:  s.endpoint,
		StartedAt: s.startedAt,
	}
	if s.handle != nil {
		st.PID = s.handle.PID()
	}
	return st
}

// Start launches the tool and blocks until it announces an endpoint, the
// readiness window lapses, or the process dies. Meant to be called once,
// right after New.
func (s *Session) Start() (string, error) {
	cmd := command{action: actionStart, reply: make(chan result, 1)}
	select {
	case s.cmdChan <- cmd:
	case <-s.doneChan:
		return "", &StartupError{Err: errors.New("session already ended")}
	}
	select {
	case res := <-cmd.reply:
		return res.endpoint, res.err
	case <-s.doneChan:
		// the machine may reply and end in the same instant
		select {
		case res := <-cmd.reply:
			return res.endpoint, res.err
		default:
			return "", &StartupError{Err: errors.New("session ended before start settled")}
		}
	}
}

// Stop asks the tool to exit and blocks until it has been reaped.
// Stopping an already-stopped or already-ended session is a no-op.
func (s *Session) Stop() error {
	cmd := command{action: actionStop, reply: make(chan result, 1)}
	select {
	case s.cmdChan <- cmd:
	case <-s.doneChan:
		return nil
	}
	select {
	case res := <-cmd.reply:
		return res.err
	case <-s.doneChan:
		select {
		case res := <-cmd.reply:
			return res.err
		default:
			return nil
		}
	}
}

// run is the state machine. Commands are handled one at a time, so
// operations on one session are totally ordered; a stop issued during a
// start waits for the start to settle first.
func (s *Session) run() {
	defer close(s.doneChan)

	for {
		var exited <-chan struct{}
		s.mu.RLock()
		if s.state == StateRunning && s.handle != nil {
			exited = s.handle.Exited()
		}
		s.mu.RUnlock()

		select {
		case cmd := <-s.cmdChan:
			switch cmd.action {
			case actionStart:
				ep, err := s.handleStart()
				cmd.reply <- result{endpoint: ep, err: err}
				if err != nil {
					return
				}
			case actionStop:
				cmd.reply <- result{err: s.handleStop()}
				return
			}
		case <-exited:
			s.handleUnsolicitedExit()
			return
		}
	}
}

func (s *Session) handleStart() (string, error) {
	s.mu.RLock()
	st := s.state
	ep := s.endpoint
	s.mu.RUnlock()
	switch st {
	case StateRunning:
		// already up; hand back what we have instead of a second spawn
		return ep, nil
	case StateStarting, StateStopping:
		return "", &StartupError{Err: errors.New("session is " + st.String())}
	}

	s.setState(StateStarting)

	cfg, err := s.spawnConfig()
	if err != nil {
		s.setState(StateStopped)
		metrics.IncFailure(s.cfg.Key, metrics.ReasonStartup)
		return "", &StartupError{Err: err}
	}
	h, err := proc.Spawn(cfg)
	if err != nil {
		s.setState(StateStopped)
		metrics.IncFailure(s.cfg.Key, metrics.ReasonStartup)
		return "", &StartupError{Err: err}
	}

	started := time.Now()
	s.mu.Lock()
	s.handle = h
	s.startedAt = started
	s.mu.Unlock()

	s.log.Info("preview tool spawned", "pid", h.PID(), "command", s.cfg.Command)
	s.emit(history.EventStarted, "", nil, "")
	metrics.IncStart(s.cfg.Key)

	go s.drainStderr(h)

	watch := readiness.Watch(h.Stdout())
	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()

	select {
	case res := <-watch:
		if res.Err == nil {
			return s.becomeReady(res.Endpoint, started), nil
		}
		// stdout ended without a marker; resolve against exit or the
		// remaining window
		select {
		case <-h.Exited():
			return "", s.crashedStarting(h)
		case <-timer.C:
			return "", s.timedOut(h)
		}

	case <-h.Exited():
		// a late marker can still surface from the buffered stream, so
		// let the scanner finish before calling it a crash
		select {
		case res := <-watch:
			if res.Err == nil {
				return s.becomeReady(res.Endpoint, started), nil
			}
		case <-timer.C:
		}
		return "", s.crashedStarting(h)

	case <-timer.C:
		return "", s.timedOut(h)
	}
}

func (s *Session) becomeReady(endpoint string, started time.Time) string {
	s.mu.Lock()
	s.endpoint = endpoint
	s.mu.Unlock()
	s.setState(StateRunning)

	elapsed := time.Since(started)
	metrics.ObserveReadiness(s.cfg.Key, elapsed.Seconds())
	s.emit(history.EventReady, endpoint, nil, "")
	s.log.Info("preview ready", "endpoint", endpoint, "elapsed", elapsed)
	return endpoint
}

func (s *Session) crashedStarting(h *proc.Handle) error {
	st, _ := h.ExitState()
	code := st.Code
	s.setState(StateStopped)
	metrics.IncFailure(s.cfg.Key, metrics.ReasonCrash)
	s.emit(history.EventCrashed, "", &code, s.crashDetail())
	s.log.Warn("preview tool exited before readiness", "exit_code", code)
	return &CrashError{Code: code}
}

// crashDetail waits briefly for the stderr drain to finish so the tail
// holds what the tool wrote before dying.
func (s *Session) crashDetail() string {
	select {
	case <-s.stderrDone:
	case <-time.After(500 * time.Millisecond):
	}
	return s.stderrTail.String()
}

// timedOut kills first and reports after; the window closing must never
// leak the process.
func (s *Session) timedOut(h *proc.Handle) error {
	killErr := h.Kill()
	select {
	case <-h.Exited():
	case <-time.After(2 * time.Second):
	}
	s.setState(StateStopped)
	metrics.IncFailure(s.cfg.Key, metrics.ReasonTimeout)
	s.emit(history.EventTimeout, "", nil, "")
	if killErr != nil {
		s.log.Warn("kill after readiness timeout failed", "error", killErr)
	}
	s.log.Warn("no readiness line within the window", "timeout", s.cfg.Timeout)
	return &TimeoutError{After: s.cfg.Timeout}
}

func (s *Session) handleStop() error {
	s.mu.RLock()
	st := s.state
	h := s.handle
	s.mu.RUnlock()

	if st == StateStopped || h == nil {
		return nil
	}

	s.setState(StateStopping)
	termErr := h.Terminate(s.cfg.StopGrace)

	var code *int
	if est, ok := h.ExitState(); ok {
		c := est.Code
		code = &c
	}
	s.setState(StateStopped)
	metrics.IncStop(s.cfg.Key)
	s.emit(history.EventStopped, "", code, "")

	if termErr != nil {
		// terminal locally regardless; the registry entry must not leak
		s.log.Warn("stop could not be delivered cleanly", "error", termErr)
		return &KillError{Err: termErr}
	}
	s.log.Info("preview stopped", "pid", h.PID())
	return nil
}

// handleUnsolicitedExit settles a tool that ended with no stop request.
// A zero exit is a graceful end; anything else is a crash surfaced
// asynchronously through the event path, never as an error from an
// unrelated call site.
func (s *Session) handleUnsolicitedExit() {
	s.mu.RLock()
	h := s.handle
	s.mu.RUnlock()

	st, _ := h.ExitState()
	code := st.Code
	s.setState(StateStopped)

	if code == 0 && !st.Signaled {
		metrics.IncStop(s.cfg.Key)
		s.emit(history.EventStopped, "", &code, "")
		s.log.Info("preview tool ended on its own", "pid", h.PID())
		return
	}
	metrics.IncFailure(s.cfg.Key, metrics.ReasonCrash)
	s.emit(history.EventCrashed, "", &code, s.crashDetail())
	s.log.Warn("preview tool crashed while running", "exit_code", code, "signaled", st.Signaled)
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if prev == next {
		return
	}
	metrics.RecordStateTransition(s.cfg.Key, prev.String(), next.String())
	metrics.SetCurrentState(s.cfg.Key, prev.String(), false)
	metrics.SetCurrentState(s.cfg.Key, next.String(), true)
}

// spawnConfig builds the launch description: argv is
// [subcommand, absolute-document-path, extra args...], the working
// directory is the document's directory, and the environment is the
// inherited one merged with configured overrides, override wins.
func (s *Session) spawnConfig() (proc.Config, error) {
	doc, err := filepath.Abs(s.cfg.Key)
	if err != nil {
		return proc.Config{}, err
	}

	args := make([]string, 0, 2+len(s.cfg.ExtraArgs))
	if s.cfg.Subcommand != "" {
		args = append(args, s.cfg.Subcommand)
	}
	args = append(args, doc)
	args = append(args, s.cfg.ExtraArgs...)

	dir := s.cfg.Workdir
	if dir == "" {
		dir = filepath.Dir(doc)
	}

	var environ []string
	switch {
	case s.cfg.Env != nil:
		environ = s.cfg.Env.Merge(s.cfg.EnvExtra)
	case len(s.cfg.EnvExtra) > 0:
		e := env.New()
		e.FromOS()
		environ = e.Merge(s.cfg.EnvExtra)
	}

	pc := proc.Config{
		Command: s.cfg.Command,
		Args:    args,
		Dir:     dir,
		Env:     environ,
		UsePTY:  s.cfg.UsePTY,
	}
	if s.cfg.Capture != nil {
		out, errW, werr := s.cfg.Capture.SessionWriters(s.cfg.Key)
		if werr != nil {
			s.log.Warn("session output capture unavailable", "error", werr)
		} else {
			pc.CaptureStdout = out
			pc.CaptureStderr = errW
		}
	}
	return pc, nil
}

func (s *Session) emit(t history.EventType, endpoint string, exitCode *int, detail string) {
	s.mu.RLock()
	pid := 0
	if s.handle != nil {
		pid = s.handle.PID()
	}
	if endpoint == "" {
		endpoint = s.endpoint
	}
	s.mu.RUnlock()

	ev := history.Event{
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Key:        s.cfg.Key,
		SessionID:  s.id,
		PID:        pid,
		Endpoint:   endpoint,
		ExitCode:   exitCode,
		Detail:     detail,
	}
	if s.cfg.Sinks != nil {
		if err := s.cfg.Sinks.Send(context.Background(), ev); err != nil {
			s.log.Warn("history sink send failed", "error", err)
		}
	}
	if s.cfg.Notify != nil {
		s.cfg.Notify(ev)
	}
}

func (s *Session) drainStderr(h *proc.Handle) {
	// keeps the child from blocking on a full stderr pipe and retains a
	// tail for crash detail
	_, _ = io.Copy(&s.stderrTail, h.Stderr())
	close(s.stderrDone)
}

// tailBuffer keeps the last few KB written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

const tailMax = 4096

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - tailMax; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
