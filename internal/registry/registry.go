// Package registry maps document keys to at most one live preview
// session each and gives every caller atomic start/stop/toggle
// semantics. Operations on the same key serialize on a per-key lock;
// different keys never contend.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/previewd/internal/env"
	"github.com/loykin/previewd/internal/history"
	"github.com/loykin/previewd/internal/logger"
	"github.com/loykin/previewd/internal/metrics"
	"github.com/loykin/previewd/internal/present"
	"github.com/loykin/previewd/internal/session"
)

// Options configures a Registry and the sessions it creates.
type Options struct {
	Command    string        // preview tool executable
	Subcommand string        // e.g. "preview"
	ExtraArgs  []string      // appended after the document path
	UsePTY     bool          // run the tool under a pseudo-terminal
	Timeout    time.Duration // readiness window per start
	StopGrace  time.Duration // SIGTERM grace on stop

	Env       *env.Env          // configured overrides for the tool env
	Logger    *slog.Logger      // defaults to slog.Default
	Capture   *logger.Config    // optional per-session output capture
	Sinks     history.Sink      // optional history destination
	Presenter present.Presenter // optional presentation strategy
}

// ToggleResult reports where a toggle landed.
type ToggleResult struct {
	Key      string `json:"key"`
	Running  bool   `json:"running"`
	Endpoint string `json:"endpoint,omitempty"`
}

// entry carries the per-key lock and the session currently installed
// under that key. sess is read lock-free by status paths; all writes
// happen with mu held.
type entry struct {
	mu   sync.Mutex
	sess atomic.Pointer[session.Session]
}

// Registry owns the key -> session map. Its zero value is not usable;
// construct with New.
type Registry struct {
	opts Options
	log  *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	subMu sync.RWMutex
	subs  map[int]chan history.Event
	subID int

	closed atomic.Bool
}

func New(opts Options) *Registry {
	lg := opts.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Registry{
		opts:    opts,
		log:     lg,
		entries: make(map[string]*entry),
		subs:    make(map[int]chan history.Event),
	}
}

// normalizeKey folds a document reference into the registry's identity:
// a cleaned absolute path.
func normalizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("empty document key")
	}
	abs, err := filepath.Abs(key)
	if err != nil {
		return "", fmt.Errorf("normalize key %q: %w", key, err)
	}
	return filepath.Clean(abs), nil
}

func (r *Registry) ensureEntry(key string) *entry {
	r.mu.RLock()
	e := r.entries[key]
	r.mu.RUnlock()
	if e != nil {
		return e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e = r.entries[key]; e == nil {
		e = &entry{}
		r.entries[key] = e
	}
	return e
}

func (r *Registry) lookup(key string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[key]
}

// Start brings up a preview session for key and blocks until it is
// ready. Starting a key that is already running returns the existing
// endpoint without spawning anything.
func (r *Registry) Start(key string) (string, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return "", err
	}
	e := r.ensureEntry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	return r.startLocked(key, e)
}

func (r *Registry) startLocked(key string, e *entry) (string, error) {
	if r.closed.Load() {
		return "", errors.New("registry is shut down")
	}
	if s := e.sess.Load(); s != nil && s.State() == session.StateRunning {
		return s.Endpoint(), nil
	}

	s := session.New(r.sessionConfig(key))
	endpoint, err := s.Start()
	if err != nil {
		// a failed start must leave nothing installed under the key
		e.sess.Store(nil)
		r.updateActive()
		return "", err
	}

	e.sess.Store(s)
	r.updateActive()
	go r.reap(e, s)

	if r.opts.Presenter != nil {
		// presentation failure never rolls back a running session
		if _, perr := r.opts.Presenter.Show(key, endpoint); perr != nil {
			r.log.Warn("presentation failed", "key", key, "error", perr)
		}
	}
	return endpoint, nil
}

// reap clears the key once its session ends on its own, keeping the map
// consistent with reality without waiting for the next operation.
func (r *Registry) reap(e *entry, s *session.Session) {
	<-s.Done()
	e.mu.Lock()
	if e.sess.Load() == s {
		e.sess.Store(nil)
	}
	e.mu.Unlock()
	r.updateActive()
}

// Stop tears down the session for key and blocks until its process has
// been reaped. Unknown or already-stopped keys are a no-op.
func (r *Registry) Stop(key string) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	e := r.lookup(key)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return r.stopLocked(key, e)
}

func (r *Registry) stopLocked(key string, e *entry) error {
	s := e.sess.Load()
	if s == nil {
		return nil
	}
	err := s.Stop()
	e.sess.Store(nil)
	r.updateActive()

	if r.opts.Presenter != nil {
		if herr := r.opts.Presenter.Hide(key); herr != nil {
			r.log.Warn("hide failed", "key", key, "error", herr)
		}
	}
	return err
}

// Toggle starts the key when it is down and stops it when it is up,
// atomically with respect to any other operation on the same key.
func (r *Registry) Toggle(key string) (ToggleResult, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return ToggleResult{}, err
	}
	e := r.ensureEntry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	if s := e.sess.Load(); s != nil && s.State() != session.StateStopped {
		return ToggleResult{Key: key}, r.stopLocked(key, e)
	}
	endpoint, err := r.startLocked(key, e)
	if err != nil {
		return ToggleResult{Key: key}, err
	}
	return ToggleResult{Key: key, Running: true, Endpoint: endpoint}, nil
}

// StopAll tears down every session and clears the registry. Individual
// stop errors are collected, never allowed to abort the sweep; the call
// returns only after every child has been signaled. The registry
// refuses new starts afterwards.
func (r *Registry) StopAll() error {
	r.closed.Store(true)

	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	var (
		wg   sync.WaitGroup
		emu  sync.Mutex
		errs []error
	)
	for key, e := range entries {
		wg.Add(1)
		go func(key string, e *entry) {
			defer wg.Done()
			e.mu.Lock()
			defer e.mu.Unlock()
			if err := r.stopLocked(key, e); err != nil {
				emu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				emu.Unlock()
			}
		}(key, e)
	}
	wg.Wait()
	r.updateActive()
	return errors.Join(errs...)
}

// IsRunning reports whether key has a running session. Immediate: never
// blocks behind an in-flight start or stop.
func (r *Registry) IsRunning(key string) bool {
	key, err := normalizeKey(key)
	if err != nil {
		return false
	}
	e := r.lookup(key)
	if e == nil {
		return false
	}
	s := e.sess.Load()
	return s != nil && s.State() == session.StateRunning
}

// Endpoint returns the preview URL for key while it is running.
func (r *Registry) Endpoint(key string) (string, bool) {
	key, err := normalizeKey(key)
	if err != nil {
		return "", false
	}
	e := r.lookup(key)
	if e == nil {
		return "", false
	}
	s := e.sess.Load()
	if s == nil || s.State() != session.StateRunning {
		return "", false
	}
	return s.Endpoint(), true
}

// Snapshot lists the current sessions ordered by key.
func (r *Registry) Snapshot() []session.Status {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]session.Status, 0, len(entries))
	for _, e := range entries {
		if s := e.sess.Load(); s != nil {
			out = append(out, s.Status())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// LivePIDs maps keys to the pids of their running tools, for resource
// sampling.
func (r *Registry) LivePIDs() map[string]int32 {
	r.mu.RLock()
	entries := make(map[string]*entry, len(r.entries))
	for k, e := range r.entries {
		entries[k] = e
	}
	r.mu.RUnlock()

	out := make(map[string]int32, len(entries))
	for k, e := range entries {
		if s := e.sess.Load(); s != nil && s.State() == session.StateRunning {
			out[k] = int32(s.PID()) // #nosec G115 -- pids fit in int32
		}
	}
	return out
}

// Subscribe registers a lifecycle event consumer. Slow consumers drop
// events rather than stalling sessions. The cancel func releases the
// subscription and closes the channel.
func (r *Registry) Subscribe(buf int) (<-chan history.Event, func()) {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan history.Event, buf)
	r.subMu.Lock()
	id := r.subID
	r.subID++
	r.subs[id] = ch
	r.subMu.Unlock()

	cancel := func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		if c, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (r *Registry) publish(ev history.Event) {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (r *Registry) updateActive() {
	n := 0
	r.mu.RLock()
	for _, e := range r.entries {
		if s := e.sess.Load(); s != nil && s.State() == session.StateRunning {
			n++
		}
	}
	r.mu.RUnlock()
	metrics.SetActiveSessions(n)
}

func (r *Registry) sessionConfig(key string) session.Config {
	return session.Config{
		Key:        key,
		Command:    r.opts.Command,
		Subcommand: r.opts.Subcommand,
		ExtraArgs:  append([]string(nil), r.opts.ExtraArgs...),
		Env:        r.opts.Env,
		UsePTY:     r.opts.UsePTY,
		Timeout:    r.opts.Timeout,
		StopGrace:  r.opts.StopGrace,
		Logger:     r.log,
		Capture:    r.opts.Capture,
		Sinks:      r.opts.Sinks,
		Notify:     r.publish,
	}
}
