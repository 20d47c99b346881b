// Package present turns a ready preview endpoint into something the user
// can see. Two strategies exist: an embedded viewer hub that tracks a
// per-key view handle, and an external one that hands the endpoint to
// the system browser. The choice is made once per show, never inside the
// session logic.
package present

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	ModeEmbedded = "embedded"
	ModeExternal = "external"
)

// Handle is an opaque reference to a displayed view. The external
// strategy retains none and returns nil.
type Handle interface {
	Key() string
	Endpoint() string
}

// Presenter shows or hides a ready preview endpoint for a document key.
type Presenter interface {
	Show(key, endpoint string) (Handle, error)
	Hide(key string) error
}

// Select picks the strategy for mode. Embedded is the default but needs
// a hub to host the view; without one the endpoint goes to the system
// browser instead.
func Select(mode string, hub *Embedded, lg *slog.Logger) Presenter {
	if mode == ModeExternal || hub == nil {
		return NewExternal(lg)
	}
	return hub
}

// View is one tracked embedded preview pane.
type View struct {
	key      string
	endpoint string
	openedAt time.Time
}

func (v *View) Key() string         { return v.key }
func (v *View) Endpoint() string    { return v.endpoint }
func (v *View) OpenedAt() time.Time { return v.openedAt }

// Embedded tracks one view per document key. The daemon's viewer pages
// look views up here by key; the session layer never does.
type Embedded struct {
	mu    sync.RWMutex
	views map[string]*View
	log   *slog.Logger
}

func NewEmbedded(lg *slog.Logger) *Embedded {
	if lg == nil {
		lg = slog.Default()
	}
	return &Embedded{views: make(map[string]*View), log: lg}
}

// Show registers the endpoint under key. Showing a key that already has
// a view replaces it; the preview endpoint may have changed.
func (e *Embedded) Show(key, endpoint string) (Handle, error) {
	v := &View{key: key, endpoint: endpoint, openedAt: time.Now()}
	e.mu.Lock()
	e.views[key] = v
	e.mu.Unlock()
	e.log.Debug("embedded view attached", "key", key, "endpoint", endpoint)
	return v, nil
}

// Hide detaches the view for key. Hiding an unknown key is a no-op.
func (e *Embedded) Hide(key string) error {
	e.mu.Lock()
	_, ok := e.views[key]
	delete(e.views, key)
	e.mu.Unlock()
	if ok {
		e.log.Debug("embedded view detached", "key", key)
	}
	return nil
}

// View returns the tracked view for key.
func (e *Embedded) View(key string) (*View, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.views[key]
	return v, ok
}

// Views lists tracked views ordered by key.
func (e *Embedded) Views() []*View {
	e.mu.RLock()
	out := make([]*View, 0, len(e.views))
	for _, v := range e.views {
		out = append(out, v)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}
