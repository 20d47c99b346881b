package previewd

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	cfg "github.com/loykin/previewd/internal/config"
	"github.com/loykin/previewd/internal/env"
	"github.com/loykin/previewd/internal/history"
	"github.com/loykin/previewd/internal/history/factory"
	"github.com/loykin/previewd/internal/metrics"
	"github.com/loykin/previewd/internal/present"
	"github.com/loykin/previewd/internal/registry"
	iapi "github.com/loykin/previewd/internal/server"
	"github.com/loykin/previewd/internal/session"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Options = registry.Options

type ToggleResult = registry.ToggleResult

type SessionStatus = session.Status

type Event = history.Event

type EventType = history.EventType

// Lifecycle event types carried by Subscribe channels and history sinks.
const (
	EventStarted = history.EventStarted
	EventReady   = history.EventReady
	EventStopped = history.EventStopped
	EventCrashed = history.EventCrashed
	EventTimeout = history.EventTimeout
)

// Presentation modes accepted by SelectPresenter.
const (
	ModeEmbedded = present.ModeEmbedded
	ModeExternal = present.ModeExternal
)

type Config = cfg.Config

type HistoryConfig = cfg.HistoryConfig

type HistorySink = history.Sink

type Presenter = present.Presenter

type ViewerHub = present.Embedded

type SamplerConfig = metrics.SamplerConfig

type ResourceSampler = metrics.ResourceSampler

// Manager is a thin facade over internal/registry.Registry.
// It provides a stable public API for embedding.

type Manager struct{ inner *registry.Registry }

func New(opts Options) *Manager { return &Manager{inner: registry.New(opts)} }

func (m *Manager) Toggle(key string) (ToggleResult, error) { return m.inner.Toggle(key) }
func (m *Manager) Start(key string) (string, error)        { return m.inner.Start(key) }
func (m *Manager) Stop(key string) error                   { return m.inner.Stop(key) }
func (m *Manager) StopAll() error                          { return m.inner.StopAll() }
func (m *Manager) IsRunning(key string) bool               { return m.inner.IsRunning(key) }
func (m *Manager) Endpoint(key string) (string, bool)      { return m.inner.Endpoint(key) }
func (m *Manager) Snapshot() []SessionStatus               { return m.inner.Snapshot() }
func (m *Manager) LivePIDs() map[string]int32              { return m.inner.LivePIDs() }

// Subscribe streams lifecycle events until cancel is called. Slow consumers
// drop events rather than stalling sessions.
func (m *Manager) Subscribe(buf int) (<-chan Event, func()) { return m.inner.Subscribe(buf) }

// NewGlobalEnv builds the environment override layer handed to every spawned
// preview tool from "K=V" pairs, typically Config.GlobalEnv.
func NewGlobalEnv(kvs []string) *env.Env {
	e := env.New()
	for _, kv := range kvs {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			e.Set(k, v)
		}
	}
	return e
}

// NewViewerHub creates the hub backing the daemon's embedded viewer pages.
func NewViewerHub(lg *slog.Logger) *ViewerHub { return present.NewEmbedded(lg) }

// SelectPresenter picks the presentation strategy for mode. Embedded needs a
// hub to host views; without one the endpoint goes to the system browser.
func SelectPresenter(mode string, hub *ViewerHub, lg *slog.Logger) Presenter {
	return present.Select(mode, hub, lg)
}

// NewResourceSampler creates a cpu/memory sampler for live preview tools.
// Feed it pids via Start with Manager.LivePIDs.
func NewResourceSampler(c SamplerConfig) *ResourceSampler { return metrics.NewResourceSampler(c) }

func LoadConfig(path string) (*Config, error) {
	return cfg.Load(path)
}

// LoadEnv parses a .env style file into "K=V" pairs.
func LoadEnv(path string) ([]string, error) {
	return cfg.LoadEnvFile(path)
}

// NewHistorySink builds a fan-out sink from [[history]] config entries.
// No entries yields a nil sink, which disables history.
func NewHistorySink(entries []HistoryConfig) (HistorySink, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	sinks := make(history.Multi, 0, len(entries))
	for _, h := range entries {
		dsn, err := h.SinkDSN()
		if err != nil {
			return nil, err
		}
		s, err := factory.NewSinkFromDSN(dsn)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// CloseHistorySink releases any resources the sink holds.
func CloseHistorySink(s HistorySink) error {
	switch v := s.(type) {
	case nil:
		return nil
	case history.Multi:
		return v.Close()
	case io.Closer:
		return v.Close()
	default:
		return nil
	}
}

// ServerOptions carries the optional collaborators for NewHTTPServer. Hub
// and Sampler endpoints answer 404 when absent.
type ServerOptions struct {
	BasePath string
	Hub      *ViewerHub
	Sampler  *ResourceSampler
	Logger   *slog.Logger
}

// NewHTTPServer starts an HTTP server exposing the session API using the given manager.
func NewHTTPServer(addr string, m *Manager, opts ServerOptions) (*http.Server, error) {
	return iapi.NewServer(addr, iapi.Options{
		Registry: m.inner,
		Hub:      opts.Hub,
		Sampler:  opts.Sampler,
		BasePath: opts.BasePath,
		Logger:   opts.Logger,
	})
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// RegisterSamplerDefault registers a resource sampler's gauges with the default registry.
func RegisterSamplerDefault(s *ResourceSampler) error {
	return s.Register(prometheus.DefaultRegisterer)
}

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
