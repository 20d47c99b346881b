package previewd

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

// writeDoc creates a document whose "preview tool" run announces url and
// then idles. The manager is pointed at /bin/sh so the document runs as a
// script.
func writeDoc(t *testing.T, url string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "doc.qmd")
	script := "#!/bin/sh\necho \"Browse at " + url + "\"\nsleep 30\n"
	if err := os.WriteFile(p, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestManagerFacadeToggleStatusStop(t *testing.T) {
	requireUnix(t)
	m := New(Options{Command: "/bin/sh", Timeout: 5 * time.Second})
	doc := writeDoc(t, "http://localhost:6310/")

	res, err := m.Toggle(doc)
	if err != nil {
		t.Fatalf("toggle on: %v", err)
	}
	if !res.Running || res.Endpoint != "http://localhost:6310/" {
		t.Fatalf("unexpected toggle result: %+v", res)
	}
	if !m.IsRunning(doc) {
		t.Fatal("expected session to be running")
	}
	if ep, ok := m.Endpoint(doc); !ok || ep == "" {
		t.Fatalf("endpoint lookup failed: %q %v", ep, ok)
	}
	if snap := m.Snapshot(); len(snap) != 1 {
		t.Fatalf("expected 1 session, got %d", len(snap))
	}

	res, err = m.Toggle(doc)
	if err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if res.Running {
		t.Fatalf("expected toggle to stop the session: %+v", res)
	}
	if err := m.StopAll(); err != nil {
		t.Fatalf("stop all: %v", err)
	}
}

func TestFacadeSubscribe(t *testing.T) {
	requireUnix(t)
	m := New(Options{Command: "/bin/sh", Timeout: 5 * time.Second})
	events, cancel := m.Subscribe(16)
	defer cancel()

	doc := writeDoc(t, "http://localhost:6311/")
	if _, err := m.Start(doc); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = m.StopAll() })

	deadline := time.After(3 * time.Second)
	var got []EventType
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev.Type)
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %v", got)
		}
	}
	if got[0] != EventStarted || got[1] != EventReady {
		t.Fatalf("unexpected event order: %v", got)
	}
}

func TestConfigHelpers(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	data := `
[tool]
command = "quarto"
subcommand = "preview"
timeout = "12s"

[server]
listen = "127.0.0.1:0"

[[history]]
type = "sqlite"
dsn = "` + filepath.Join(dir, "history.db") + `"
`
	p := filepath.Join(dir, "cfg.toml")
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	config, err := LoadConfig(p)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if config.Tool.Command != "quarto" || config.Tool.Timeout != 12*time.Second {
		t.Fatalf("unexpected tool config: %+v", config.Tool)
	}
	if config.Server == nil || config.Server.BasePath != "/api" {
		t.Fatalf("unexpected server config: %+v", config.Server)
	}

	sink, err := NewHistorySink(config.History)
	if err != nil {
		t.Fatalf("NewHistorySink: %v", err)
	}
	if sink == nil {
		t.Fatal("expected a sink for one history entry")
	}
	if err := CloseHistorySink(sink); err != nil {
		t.Fatalf("CloseHistorySink: %v", err)
	}

	// no entries disables history
	if sink, err := NewHistorySink(nil); err != nil || sink != nil {
		t.Fatalf("expected nil sink, got %v err %v", sink, err)
	}
}

func TestPresenterSelection(t *testing.T) {
	hub := NewViewerHub(nil)
	if p := SelectPresenter(ModeEmbedded, hub, nil); p != Presenter(hub) {
		t.Fatalf("expected the hub itself for embedded mode, got %T", p)
	}
	if p := SelectPresenter(ModeExternal, hub, nil); p == Presenter(hub) {
		t.Fatal("external mode must not use the hub")
	}
	// embedded without a hub falls back to the external strategy
	if p := SelectPresenter(ModeEmbedded, nil, nil); p == nil {
		t.Fatal("expected a fallback presenter")
	}
}

func TestMetricsHelpers(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := RegisterMetrics(reg); err != nil {
		t.Fatalf("RegisterMetrics: %v", err)
	}
	if err := RegisterMetricsDefault(); err != nil {
		t.Fatalf("RegisterMetricsDefault: %v", err)
	}
}

func TestNewHTTPServerStartClose(t *testing.T) {
	requireUnix(t)
	m := New(Options{Command: "/bin/sh"})
	srv, err := NewHTTPServer("127.0.0.1:0", m, ServerOptions{BasePath: "/api"})
	if err != nil {
		t.Fatalf("NewHTTPServer: %v", err)
	}
	// give the goroutine a moment to start before closing
	time.Sleep(50 * time.Millisecond)
	_ = srv.Close()
}
