// Package domain contains core domain types for the agent demo.
package domain

import (
	"sync"
	"time"
)

// SessionState is a point-in-time view of a Session.
type SessionState struct {
	ID            string    `json:"id"`
	AgentID       string    `json:"rag_agent_id,omitempty"`
	VectorStoreID string    `json:"vector_store_id,omitempty"`
	LastFile      string    `json:"last_file,omitempty"`
	Code          string    `json:"interpreter_code,omitempty"`
	ImagePath     string    `json:"interpreter_image,omitempty"`
	Progress      int       `json:"progress"`
	Status        string    `json:"status_message"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Session holds the state of one user's interaction sequence.
// It is safe for concurrent use; flows mutate it while handlers read snapshots.
// Cached identifiers are empty when nothing is cached.
type Session struct {
	mu sync.RWMutex
	st SessionState
}

// NewSession returns an empty session.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{st: SessionState{ID: id, CreatedAt: now, UpdatedAt: now}}
}

func (s *Session) ID() string {
	return s.st.ID
}

// AgentID returns the cached retrieval agent identifier.
func (s *Session) AgentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.AgentID
}

// VectorStoreID returns the cached vector index identifier.
func (s *Session) VectorStoreID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.VectorStoreID
}

// LastFile returns the name of the last uploaded document.
func (s *Session) LastFile() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.LastFile
}

// HasCachedAgent returns true if a retrieval agent is cached for reuse.
func (s *Session) HasCachedAgent() bool {
	return s.AgentID() != ""
}

// HasCachedIndex returns true if a vector index is cached for reuse.
func (s *Session) HasCachedIndex() bool {
	return s.VectorStoreID() != ""
}

// CacheAgent remembers the retrieval agent for later turns.
func (s *Session) CacheAgent(id string) {
	s.update(func(st *SessionState) { st.AgentID = id })
}

// CacheIndex remembers the vector index for later turns.
func (s *Session) CacheIndex(id string) {
	s.update(func(st *SessionState) { st.VectorStoreID = id })
}

// SetLastFile records the name of the most recent upload.
func (s *Session) SetLastFile(name string) {
	s.update(func(st *SessionState) { st.LastFile = name })
}

// SetCode records the last generated code.
func (s *Session) SetCode(code string) {
	s.update(func(st *SessionState) { st.Code = code })
}

// SetImage records the local path of the last generated image.
func (s *Session) SetImage(path string) {
	s.update(func(st *SessionState) { st.ImagePath = path })
}

// Report records flow progress. Percent is clamped to 0..100.
func (s *Session) Report(percent int, message string) {
	percent = min(max(percent, 0), 100)
	s.update(func(st *SessionState) {
		st.Progress = percent
		st.Status = message
	})
}

// ResetOutputs clears the generated code, image and progress before a flow starts.
func (s *Session) ResetOutputs() {
	s.update(func(st *SessionState) {
		st.Code = ""
		st.ImagePath = ""
		st.Progress = 0
		st.Status = ""
	})
}

// ForgetAgent drops the cached agent identifier after the agent was deleted.
func (s *Session) ForgetAgent() {
	s.update(func(st *SessionState) { st.AgentID = "" })
}

// ForgetIndex drops the cached vector index identifier after the index was deleted.
func (s *Session) ForgetIndex() {
	s.update(func(st *SessionState) { st.VectorStoreID = "" })
}

// ClearCache forgets the cached agent and vector index identifiers.
func (s *Session) ClearCache() {
	s.update(func(st *SessionState) {
		st.AgentID = ""
		st.VectorStoreID = ""
	})
}

// Reset returns the session to its initial state, keeping its identity.
func (s *Session) Reset() {
	s.update(func(st *SessionState) {
		*st = SessionState{ID: st.ID, CreatedAt: st.CreatedAt}
	})
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st
}

func (s *Session) update(fn func(*SessionState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.st)
	s.st.UpdatedAt = time.Now()
}
