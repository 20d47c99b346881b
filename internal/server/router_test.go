package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/previewd/internal/registry"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a unix shell")
	}
}

// writeDoc bakes a script that doubles as the document; the registry runs
// it through /bin/sh.
func writeDoc(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.qmd")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write doc: %v", err)
	}
	return path
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New(registry.Options{Command: "/bin/sh", Timeout: 5 * time.Second})
	t.Cleanup(func() { _ = r.StopAll() })
	return r
}

func setupRouter(t *testing.T, base string, reg *registry.Registry) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := NewRouter(Options{Registry: reg, BasePath: base})
	return r.Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestToggleMissingKey(t *testing.T) {
	h := setupRouter(t, "/abc", newTestRegistry(t))
	rec := doReq(t, h, http.MethodPost, "/abc/toggle", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestToggleRejectsRelativeKey(t *testing.T) {
	h := setupRouter(t, "", newTestRegistry(t))
	rec := doReq(t, h, http.MethodPost, "/toggle", keyReq{Key: "docs/report.qmd"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for relative key, got %d", rec.Code)
	}
	rec = doReq(t, h, http.MethodPost, "/toggle", keyReq{Key: "/docs/../etc/report.qmd"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for traversal key, got %d", rec.Code)
	}
}

func TestStatusRequiresParam(t *testing.T) {
	h := setupRouter(t, "/base", newTestRegistry(t))
	rec := doReq(t, h, http.MethodGet, "/base/status", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStatusUnknownKeyIsStopped(t *testing.T) {
	h := setupRouter(t, "", newTestRegistry(t))
	rec := doReq(t, h, http.MethodGet, "/status?key=/never/started.qmd", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var st statusResp
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("failed to parse json: %v", err)
	}
	if st.Running || st.Endpoint != "" {
		t.Fatalf("unknown key should report stopped: %+v", st)
	}
}

func TestStopUnknownKeyOK(t *testing.T) {
	h := setupRouter(t, "", newTestRegistry(t))
	rec := doReq(t, h, http.MethodPost, "/stop", keyReq{Key: "/never/started.qmd"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestToggleStartStopRoundTrip(t *testing.T) {
	requireUnix(t)

	doc := writeDoc(t, `echo "Browse at http://localhost:6100/"
sleep 30`)
	reg := newTestRegistry(t)
	h := setupRouter(t, "/api/", reg) // ensure base sanitization works

	// toggle on
	rec := doReq(t, h, http.MethodPost, "/api/toggle", keyReq{Key: doc})
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res registry.ToggleResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("failed to parse json: %v", err)
	}
	if !res.Running || res.Endpoint != "http://localhost:6100/" {
		t.Fatalf("unexpected toggle result: %+v", res)
	}

	// status reflects the running session
	rec = doReq(t, h, http.MethodGet, "/api/status?key="+doc, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status expected 200, got %d", rec.Code)
	}
	var st statusResp
	_ = json.Unmarshal(rec.Body.Bytes(), &st)
	if !st.Running || st.Endpoint == "" {
		t.Fatalf("unexpected status: %+v", st)
	}

	// sessions lists it
	rec = doReq(t, h, http.MethodGet, "/api/sessions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sessions expected 200, got %d", rec.Code)
	}
	var arr []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &arr); err != nil {
		t.Fatalf("failed to parse json: %v", err)
	}
	if len(arr) != 1 {
		t.Fatalf("expected 1 session, got %d", len(arr))
	}

	// second start returns the same endpoint
	rec = doReq(t, h, http.MethodPost, "/api/start", keyReq{Key: doc})
	if rec.Code != http.StatusOK {
		t.Fatalf("start expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var sr startResp
	_ = json.Unmarshal(rec.Body.Bytes(), &sr)
	if sr.Endpoint != res.Endpoint {
		t.Fatalf("start endpoint %q, want %q", sr.Endpoint, res.Endpoint)
	}

	// stop
	rec = doReq(t, h, http.MethodPost, "/api/stop", keyReq{Key: doc})
	if rec.Code != http.StatusOK {
		t.Fatalf("stop expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if reg.IsRunning(doc) {
		t.Fatal("expected session stopped after /stop")
	}
}

func TestStartFailureMapsTo400(t *testing.T) {
	requireUnix(t)

	doc := writeDoc(t, `exit 1`)
	h := setupRouter(t, "", newTestRegistry(t))
	rec := doReq(t, h, http.MethodPost, "/start", keyReq{Key: doc})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for crashing tool, got %d: %s", rec.Code, rec.Body.String())
	}
	var er errorResp
	if err := json.Unmarshal(rec.Body.Bytes(), &er); err != nil {
		t.Fatalf("failed to parse json: %v", err)
	}
	if er.Error == "" {
		t.Fatal("expected error detail in response")
	}
}

func TestStopAllEndpoint(t *testing.T) {
	requireUnix(t)

	doc := writeDoc(t, `echo "Browse at http://localhost:6200/"
sleep 30`)
	reg := newTestRegistry(t)
	h := setupRouter(t, "", reg)

	rec := doReq(t, h, http.MethodPost, "/start", keyReq{Key: doc})
	if rec.Code != http.StatusOK {
		t.Fatalf("start expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = doReq(t, h, http.MethodPost, "/stop-all", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop-all expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if reg.IsRunning(doc) {
		t.Fatal("expected no running sessions after /stop-all")
	}
}

func TestHealthz(t *testing.T) {
	h := setupRouter(t, "", newTestRegistry(t))
	rec := doReq(t, h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestNewServerStartClose(t *testing.T) {
	// ensure NewServer returns a server and can be closed quickly
	srv, err := NewServer("127.0.0.1:0", Options{Registry: newTestRegistry(t)})
	if err != nil {
		t.Fatalf("NewServer error: %v", err)
	}
	// Close immediately; we don't assert more here, just exercise the code path
	_ = srv.Close()
}
