package progress

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/agentdemo/internal/domain"
	"github.com/ashureev/agentdemo/internal/flow"
	"github.com/ashureev/agentdemo/internal/identity"
)

func quietHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := quietHub()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}

	hub.Register("s1", conn1)
	hub.Register("s1", conn2)
	if got := hub.Count("s1"); got != 2 {
		t.Fatalf("Expected 2 streams, got %d", got)
	}

	hub.Unregister("s1", conn1)
	if got := hub.Count("s1"); got != 1 {
		t.Errorf("Expected 1 stream, got %d", got)
	}

	// Unknown connections are ignored.
	hub.Unregister("s2", conn2)
	if got := hub.Count("s1"); got != 1 {
		t.Errorf("Expected 1 stream, got %d", got)
	}
}

func TestHub_PublishRemembersLast(t *testing.T) {
	hub := quietHub()
	r := hub.Reporter("s1")
	r.Report(40, "Created AI agent")

	ev, ok := hub.Last("s1")
	if !ok || ev.Progress != 40 || ev.Type != TypeProgress {
		t.Fatalf("Unexpected last event %+v (ok=%v)", ev, ok)
	}

	r.(flow.Finisher).Done(flow.Result{Status: "Complete!", Outcome: domain.OutcomeSucceeded})
	ev, _ = hub.Last("s1")
	if ev.Type != TypeDone || ev.Outcome != string(domain.OutcomeSucceeded) || ev.Progress != 40 {
		t.Errorf("Unexpected done event %+v", ev)
	}
}

func TestHandler_StreamsEvents(t *testing.T) {
	hub := quietHub()
	h := NewHandler(hub, "", true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r.WithContext(identity.WithSessionID(r.Context(), "s1")))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(2 * time.Second)
	for hub.Count("s1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream was never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Reporter("s1").Report(10, "Initializing...")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Progress != 10 || ev.Message != "Initializing..." {
		t.Errorf("Unexpected event %+v", ev)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	// The replayed last event may arrive before the pong.
	for i := 0; ; i++ {
		_, data, err = conn.Read(ctx)
		if err != nil {
			t.Fatalf("read pong: %v", err)
		}
		if strings.Contains(string(data), "pong") {
			break
		}
		if i == 2 {
			t.Fatalf("Expected pong, got %s", data)
		}
	}
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	h := NewHandler(quietHub(), "https://demo.example", false)
	req := httptest.NewRequest(http.MethodGet, "/ws/progress", nil)
	req = req.WithContext(identity.WithSessionID(req.Context(), "s1"))
	req.Header.Set("Origin", "https://evil.example")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", w.Code)
	}
}
