package present

import (
	"errors"
	"testing"
)

func TestEmbeddedShowHide(t *testing.T) {
	hub := NewEmbedded(nil)

	h, err := hub.Show("/docs/a.qmd", "http://localhost:4000/")
	if err != nil {
		t.Fatalf("Show failed: %v", err)
	}
	if h == nil {
		t.Fatal("Expected a handle from the embedded strategy")
	}
	if h.Key() != "/docs/a.qmd" || h.Endpoint() != "http://localhost:4000/" {
		t.Errorf("Handle = (%q, %q), want the shown pair", h.Key(), h.Endpoint())
	}

	v, ok := hub.View("/docs/a.qmd")
	if !ok {
		t.Fatal("Expected the view to be tracked by key")
	}
	if v.Endpoint() != "http://localhost:4000/" {
		t.Errorf("Tracked endpoint %q, want http://localhost:4000/", v.Endpoint())
	}

	if err := hub.Hide("/docs/a.qmd"); err != nil {
		t.Fatalf("Hide failed: %v", err)
	}
	if _, ok := hub.View("/docs/a.qmd"); ok {
		t.Error("Expected the view to be gone after Hide")
	}
}

func TestEmbeddedHideUnknownIsNoOp(t *testing.T) {
	hub := NewEmbedded(nil)
	if err := hub.Hide("/never/shown.qmd"); err != nil {
		t.Errorf("Hide on unknown key should be a no-op, got: %v", err)
	}
}

func TestEmbeddedShowReplaces(t *testing.T) {
	hub := NewEmbedded(nil)
	if _, err := hub.Show("/docs/a.qmd", "http://localhost:4000/"); err != nil {
		t.Fatalf("Show failed: %v", err)
	}
	if _, err := hub.Show("/docs/a.qmd", "http://localhost:4001/"); err != nil {
		t.Fatalf("Second show failed: %v", err)
	}
	v, _ := hub.View("/docs/a.qmd")
	if v.Endpoint() != "http://localhost:4001/" {
		t.Errorf("Expected the later endpoint to win, got %q", v.Endpoint())
	}
	if got := len(hub.Views()); got != 1 {
		t.Errorf("Expected 1 tracked view, got %d", got)
	}
}

func TestEmbeddedViewsSorted(t *testing.T) {
	hub := NewEmbedded(nil)
	_, _ = hub.Show("/docs/b.qmd", "http://localhost:2/")
	_, _ = hub.Show("/docs/a.qmd", "http://localhost:1/")

	views := hub.Views()
	if len(views) != 2 {
		t.Fatalf("Expected 2 views, got %d", len(views))
	}
	if views[0].Key() != "/docs/a.qmd" || views[1].Key() != "/docs/b.qmd" {
		t.Errorf("Views not ordered by key: %q, %q", views[0].Key(), views[1].Key())
	}
}

func TestExternalShowOpensBrowser(t *testing.T) {
	var opened string
	x := NewExternal(nil)
	x.open = func(url string) error {
		opened = url
		return nil
	}

	h, err := x.Show("/docs/a.qmd", "http://localhost:4000/")
	if err != nil {
		t.Fatalf("Show failed: %v", err)
	}
	if h != nil {
		t.Error("External strategy must not retain a handle")
	}
	if opened != "http://localhost:4000/" {
		t.Errorf("Opened %q, want http://localhost:4000/", opened)
	}

	if err := x.Hide("/docs/a.qmd"); err != nil {
		t.Errorf("External hide should be a no-op, got: %v", err)
	}
}

func TestExternalShowReportsFailure(t *testing.T) {
	x := NewExternal(nil)
	x.open = func(string) error { return errors.New("no display") }

	if _, err := x.Show("k", "http://localhost:1/"); err == nil {
		t.Error("Expected the open failure to be reported")
	}
}

func TestSelectStrategy(t *testing.T) {
	hub := NewEmbedded(nil)

	if p := Select(ModeEmbedded, hub, nil); p != hub {
		t.Error("Embedded mode with a hub should pick the hub")
	}
	if _, ok := Select(ModeExternal, hub, nil).(*External); !ok {
		t.Error("External mode should pick the external strategy")
	}
	if _, ok := Select(ModeEmbedded, nil, nil).(*External); !ok {
		t.Error("Embedded mode without a hub must fall back to external")
	}
	if p := Select("", hub, nil); p != hub {
		t.Error("Empty mode should default to embedded when a hub exists")
	}
}
