package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/previewd/internal/history"
)

func TestSQLiteSinkRoundTrip(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	now := time.Now().UTC()
	code := 1
	events := []history.Event{
		{Type: history.EventStarted, OccurredAt: now, Key: "/docs/a.qmd", SessionID: "s1", PID: 100},
		{Type: history.EventReady, OccurredAt: now, Key: "/docs/a.qmd", SessionID: "s1", PID: 100, Endpoint: "http://localhost:4000/"},
		{Type: history.EventCrashed, OccurredAt: now, Key: "/docs/a.qmd", SessionID: "s1", PID: 100, ExitCode: &code, Detail: "renderer exited"},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("send %s: %v", e.Type, err)
		}
	}

	var n int
	if err := sink.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM preview_history WHERE key = ?`, "/docs/a.qmd").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("row count = %d, want 3", n)
	}

	var endpoint string
	if err := sink.db.QueryRowContext(ctx, `SELECT endpoint FROM preview_history WHERE event = ?`, "ready").Scan(&endpoint); err != nil {
		t.Fatalf("select endpoint: %v", err)
	}
	if endpoint != "http://localhost:4000/" {
		t.Fatalf("endpoint = %q", endpoint)
	}

	var exitCode int
	if err := sink.db.QueryRowContext(ctx, `SELECT exit_code FROM preview_history WHERE event = ?`, "crashed").Scan(&exitCode); err != nil {
		t.Fatalf("select exit_code: %v", err)
	}
	if exitCode != 1 {
		t.Fatalf("exit_code = %d, want 1", exitCode)
	}
}

func TestSQLiteSinkFileDSN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	sink, err := New("sqlite://" + path)
	if err != nil {
		t.Fatalf("new sink with prefix DSN: %v", err)
	}
	defer func() { _ = sink.Close() }()
	e := history.Event{Type: history.EventStopped, OccurredAt: time.Now().UTC(), Key: "k", SessionID: "s"}
	if err := sink.Send(context.Background(), e); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestSQLiteSinkEmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}
