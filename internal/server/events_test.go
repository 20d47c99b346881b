package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/loykin/previewd/internal/history"
)

func TestEventStreamOverWebsocket(t *testing.T) {
	requireUnix(t)
	gin.SetMode(gin.TestMode)

	doc := writeDoc(t, `echo "Browse at http://localhost:6300/"
sleep 30`)
	reg := newTestRegistry(t)
	router := NewRouter(Options{Registry: reg})
	ts := httptest.NewServer(router.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	// give the handler a moment to register its subscription
	time.Sleep(100 * time.Millisecond)

	if _, err := reg.Start(doc); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var types []history.EventType
	for len(types) < 2 {
		var ev history.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if ev.Key != doc {
			t.Fatalf("event key %q, want %q", ev.Key, doc)
		}
		types = append(types, ev.Type)
	}
	if types[0] != history.EventStarted || types[1] != history.EventReady {
		t.Fatalf("unexpected event order: %v", types)
	}
}
