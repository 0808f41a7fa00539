// Package progress pushes flow progress to the browsers of a session over WebSocket.
package progress

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/agentdemo/internal/flow"
)

const writeTimeout = 5 * time.Second

// Event is one message sent to the browser.
type Event struct {
	Type     string `json:"type"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
	Outcome  string `json:"outcome,omitempty"`
}

const (
	TypeProgress = "progress"
	TypeDone     = "done"
)

// Hub tracks WebSocket connections per session.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]map[*websocket.Conn]struct{}
	last   map[string]Event
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:  make(map[string]map[*websocket.Conn]struct{}),
		last:   make(map[string]Event),
		logger: logger,
	}
}

// Register adds a connection for sessionID.
func (h *Hub) Register(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[sessionID]; !ok {
		h.conns[sessionID] = make(map[*websocket.Conn]struct{})
	}
	h.conns[sessionID][conn] = struct{}{}
	h.logger.Info("Progress stream registered", "session_id", sessionID, "streams", len(h.conns[sessionID]))
}

// Unregister removes a connection for sessionID.
func (h *Hub) Unregister(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.conns[sessionID]
	if !ok {
		return
	}
	if _, exists := conns[conn]; exists {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.conns, sessionID)
		}
		h.logger.Info("Progress stream unregistered", "session_id", sessionID)
	}
}

// CloseSession terminates every stream of sessionID and forgets its last event.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.conns[sessionID] {
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
	}
	delete(h.conns, sessionID)
	delete(h.last, sessionID)
}

// Count returns the number of streams open for sessionID.
func (h *Hub) Count(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[sessionID])
}

// Last returns the most recent event published for sessionID.
func (h *Hub) Last(sessionID string) (Event, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ev, ok := h.last[sessionID]
	return ev, ok
}

// Publish sends ev to every stream of sessionID. Streams that fail are dropped.
func (h *Hub) Publish(sessionID string, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to encode progress event", "error", err)
		return
	}

	h.mu.Lock()
	h.last[sessionID] = ev
	targets := make([]*websocket.Conn, 0, len(h.conns[sessionID]))
	for conn := range h.conns[sessionID] {
		targets = append(targets, conn)
	}
	h.mu.Unlock()

	for _, conn := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.logger.Debug("Progress write failed", "session_id", sessionID, "error", err)
			h.Unregister(sessionID, conn)
		}
	}
}

// Reporter returns a flow.Reporter publishing to sessionID.
func (h *Hub) Reporter(sessionID string) flow.Reporter {
	return &reporter{hub: h, sessionID: sessionID}
}

type reporter struct {
	hub       *Hub
	sessionID string
	percent   int
}

func (r *reporter) Report(percent int, message string) {
	r.percent = percent
	r.hub.Publish(r.sessionID, Event{Type: TypeProgress, Progress: percent, Message: message})
}

func (r *reporter) Done(res flow.Result) {
	r.hub.Publish(r.sessionID, Event{
		Type:     TypeDone,
		Progress: r.percent,
		Message:  res.Status,
		Outcome:  string(res.Outcome),
	})
}
