package server

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/previewd/internal/metrics"
	"github.com/loykin/previewd/internal/present"
	"github.com/loykin/previewd/internal/registry"
)

// Router provides embeddable HTTP handlers for managing preview sessions.
// Endpoints:
//   POST {basePath}/toggle     body: {"key": "/abs/doc.qmd"}
//   POST {basePath}/start      body: {"key": "/abs/doc.qmd"}
//   POST {basePath}/stop       body: {"key": "/abs/doc.qmd"}
//   POST {basePath}/stop-all
//   GET  {basePath}/status     query: key=...
//   GET  {basePath}/sessions
//   GET  {basePath}/resources  query: key=... (requires the resource sampler)
//   GET  {basePath}/events     websocket stream of lifecycle events
//   GET  {basePath}/view/*key  embedded viewer page (requires the hub)
//   GET  {basePath}/healthz
// Keys are absolute document paths. basePath may be empty or start with '/';
// no trailing slash.

type Router struct {
	reg      *registry.Registry
	hub      *present.Embedded
	sampler  *metrics.ResourceSampler
	basePath string
	log      *slog.Logger
}

// Options wires the router's collaborators. Hub and Sampler are optional;
// their endpoints answer 404 when absent.
type Options struct {
	Registry *registry.Registry
	Hub      *present.Embedded
	Sampler  *metrics.ResourceSampler
	BasePath string
	Logger   *slog.Logger
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/toggle, /api/status, ...
func NewRouter(opts Options) *Router {
	lg := opts.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Router{
		reg:      opts.Registry,
		hub:      opts.Hub,
		sampler:  opts.Sampler,
		basePath: sanitizeBase(opts.BasePath),
		log:      lg,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/toggle", r.handleToggle)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/stop-all", r.handleStopAll)
	group.GET("/status", r.handleStatus)
	group.GET("/sessions", r.handleSessions)
	group.GET("/resources", r.handleResources)
	group.GET("/events", r.handleEvents)
	group.GET("/view/*key", r.handleView)
	group.GET("/healthz", r.handleHealthz)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// The listener is bound before returning so an occupied port surfaces as
// an error here, not inside the serve goroutine. The returned server can
// be shut down via http.Server's Close or Shutdown.
func NewServer(addr string, opts Options) (*http.Server, error) {
	r := NewRouter(opts)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go func() { _ = server.Serve(ln) }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type keyReq struct {
	Key string `json:"key"`
}

type startResp struct {
	Key      string `json:"key"`
	Endpoint string `json:"endpoint"`
}

type statusResp struct {
	Key      string `json:"key"`
	Running  bool   `json:"running"`
	Endpoint string `json:"endpoint,omitempty"`
}

// bindKey extracts the document key from the JSON body or, for bodyless
// requests, the key query param, and validates it.
func (r *Router) bindKey(c *gin.Context) (string, bool) {
	var req keyReq
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
			return "", false
		}
	}
	if req.Key == "" {
		req.Key = c.Query("key")
	}
	if req.Key == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "key required"})
		return "", false
	}
	if !isSafeAbsPath(req.Key) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid key: must be absolute path without traversal"})
		return "", false
	}
	return req.Key, true
}

func (r *Router) handleToggle(c *gin.Context) {
	key, ok := r.bindKey(c)
	if !ok {
		return
	}
	res, err := r.reg.Toggle(key)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleStart(c *gin.Context) {
	key, ok := r.bindKey(c)
	if !ok {
		return
	}
	endpoint, err := r.reg.Start(key)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, startResp{Key: key, Endpoint: endpoint})
}

func (r *Router) handleStop(c *gin.Context) {
	key, ok := r.bindKey(c)
	if !ok {
		return
	}
	if err := r.reg.Stop(key); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStopAll(c *gin.Context) {
	if err := r.reg.StopAll(); err != nil {
		// the sweep completed; report what went wrong during it
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "key query param required"})
		return
	}
	resp := statusResp{Key: key}
	if ep, ok := r.reg.Endpoint(key); ok {
		resp.Running = true
		resp.Endpoint = ep
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleSessions(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.reg.Snapshot())
}

func (r *Router) handleResources(c *gin.Context) {
	if r.sampler == nil || !r.sampler.Enabled() {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "resource sampling disabled"})
		return
	}
	key := c.Query("key")
	if key == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "key query param required"})
		return
	}
	samples, ok := r.sampler.History(key)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no samples for key"})
		return
	}
	writeJSON(c, http.StatusOK, samples)
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
