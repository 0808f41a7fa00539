package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/agentdemo/internal/agentsvc"
	"github.com/ashureev/agentdemo/internal/recovery"
)

func newTestManager(fake *agentsvc.Fake, perMinute int) *Manager {
	return NewManager(fake.Dial(), nil, perMinute, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newRecordingManager(t *testing.T, fake *agentsvc.Fake) (*Manager, *recovery.FileStore) {
	t.Helper()
	store := recovery.NewFileStore(filepath.Join(t.TempDir(), recovery.DefaultPath))
	return NewManager(fake.Dial(), store, 0, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func TestManager_GetIsStable(t *testing.T) {
	m := newTestManager(agentsvc.NewFake(), 0)
	if m.Get("a") != m.Get("a") {
		t.Error("Expected the same session for the same id")
	}
	if m.Get("a") == m.Get("b") {
		t.Error("Expected distinct sessions for distinct ids")
	}
	if m.Len() != 2 {
		t.Errorf("Expected 2 sessions, got %d", m.Len())
	}
}

func TestManager_AcquireIsExclusive(t *testing.T) {
	m := newTestManager(agentsvc.NewFake(), 0)

	_, release, err := m.Acquire("a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := m.Acquire("a"); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy, got %v", err)
	}
	if _, rel, err := m.Acquire("b"); err != nil {
		t.Errorf("Other sessions must not be blocked: %v", err)
	} else {
		rel()
	}

	release()
	if _, rel, err := m.Acquire("a"); err != nil {
		t.Errorf("Expected session to be free after release, got %v", err)
	} else {
		rel()
	}
}

func TestManager_RateLimit(t *testing.T) {
	m := newTestManager(agentsvc.NewFake(), 2)
	for i := 0; i < 2; i++ {
		_, rel, err := m.Acquire("a")
		if err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
		rel()
	}
	if _, _, err := m.Acquire("a"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("Expected ErrRateLimited, got %v", err)
	}
}

func TestManager_InvalidateOnNewFile(t *testing.T) {
	fake := agentsvc.NewFake()
	fake.Agents["asst_1"] = agentsvc.AgentRequest{}
	fake.VectorStores["vs_1"] = nil
	m := newTestManager(fake, 0)

	s := m.Get("a")
	s.SetLastFile("old.pdf")
	s.CacheAgent("asst_1")
	s.CacheIndex("vs_1")

	if err := m.Invalidate(context.Background(), s, "new.pdf"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.HasCachedAgent() || s.HasCachedIndex() {
		t.Error("Expected cached identifiers to be cleared")
	}
	if s.LastFile() != "new.pdf" {
		t.Errorf("Expected last file new.pdf, got %q", s.LastFile())
	}
	if fake.LiveAgents() != 0 || fake.LiveVectorStores() != 0 {
		t.Error("Expected remote agent and index to be deleted")
	}
}

func TestManager_InvalidateSameFileKeepsCache(t *testing.T) {
	fake := agentsvc.NewFake()
	m := newTestManager(fake, 0)
	s := m.Get("a")
	s.SetLastFile("doc.pdf")
	s.CacheAgent("asst_1")

	if err := m.Invalidate(context.Background(), s, "doc.pdf"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.AgentID() != "asst_1" {
		t.Error("Expected cached agent to survive")
	}
	if fake.CallCount("Dial") != 0 {
		t.Error("Expected no remote calls")
	}
}

func TestManager_InvalidateKeepsUndeletedIdentifiers(t *testing.T) {
	fake := agentsvc.NewFake()
	fake.Agents["asst_1"] = agentsvc.AgentRequest{}
	fake.VectorStores["vs_1"] = nil
	fake.Fail("DeleteAgent")
	m, store := newRecordingManager(t, fake)
	s := m.Get("a")
	s.SetLastFile("old.pdf")
	s.CacheAgent("asst_1")
	s.CacheIndex("vs_1")

	err := m.Invalidate(context.Background(), s, "new.pdf")
	if !errors.Is(err, ErrCleanupPending) {
		t.Fatalf("Expected ErrCleanupPending, got %v", err)
	}
	if s.AgentID() != "asst_1" {
		t.Errorf("Expected undeleted agent to stay cached, got %q", s.AgentID())
	}
	if s.HasCachedIndex() || fake.LiveVectorStores() != 0 {
		t.Error("Expected index deletion to succeed independently")
	}
	if s.LastFile() != "old.pdf" {
		t.Errorf("Expected last file to stay old.pdf until cleanup succeeds, got %q", s.LastFile())
	}
	rec, err := store.Load("a")
	if err != nil || rec == nil || rec.AgentID() != "asst_1" || rec.IndexID() != "" {
		t.Fatalf("Expected record naming only the undeleted agent, got %+v (%v)", rec, err)
	}

	delete(fake.Errors, "DeleteAgent")
	if err := m.Invalidate(context.Background(), s, "new.pdf"); err != nil {
		t.Fatalf("retry: unexpected error: %v", err)
	}
	if s.HasCachedAgent() || fake.LiveAgents() != 0 || s.LastFile() != "new.pdf" {
		t.Errorf("Expected retry to delete the agent, got %+v", s.Snapshot())
	}
	if rec, _ := store.Load("a"); rec != nil {
		t.Errorf("Expected record to be removed, got %+v", rec)
	}
}

func TestManager_ClearFailureKeepsSession(t *testing.T) {
	fake := agentsvc.NewFake()
	fake.Agents["asst_1"] = agentsvc.AgentRequest{}
	fake.Fail("DeleteAgent")
	m, store := newRecordingManager(t, fake)
	s := m.Get("a")
	s.CacheAgent("asst_1")
	s.SetLastFile("doc.pdf")

	if err := m.Clear(context.Background(), s); !errors.Is(err, ErrCleanupPending) {
		t.Fatalf("Expected ErrCleanupPending, got %v", err)
	}
	if s.AgentID() != "asst_1" || s.LastFile() != "doc.pdf" {
		t.Errorf("Expected session to keep its cache, got %+v", s.Snapshot())
	}

	delete(fake.Errors, "DeleteAgent")
	if err := m.Clear(context.Background(), s); err != nil {
		t.Fatalf("retry: unexpected error: %v", err)
	}
	if fake.LiveAgents() != 0 || s.LastFile() != "" {
		t.Errorf("Expected retry to delete the agent and reset, got %+v", s.Snapshot())
	}
	if all, _ := store.LoadAll(); len(all) != 0 {
		t.Errorf("Expected no records left, got %v", all)
	}
}

func TestManager_Clear(t *testing.T) {
	fake := agentsvc.NewFake()
	fake.Agents["asst_1"] = agentsvc.AgentRequest{}
	m := newTestManager(fake, 0)
	s := m.Get("a")
	s.CacheAgent("asst_1")
	s.SetLastFile("doc.pdf")
	s.SetCode("x = 1")

	if err := m.Clear(context.Background(), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st := s.Snapshot()
	if st.AgentID != "" || st.LastFile != "" || st.Code != "" {
		t.Errorf("Expected reset session, got %+v", st)
	}
	if fake.LiveAgents() != 0 {
		t.Error("Expected cached agent to be deleted")
	}
}

func TestManager_Sweep(t *testing.T) {
	fake := agentsvc.NewFake()
	fake.Agents["asst_1"] = agentsvc.AgentRequest{}
	m := newTestManager(fake, 0)
	now := time.Now()
	m.now = func() time.Time { return now }

	m.Get("idle").CacheAgent("asst_1")
	_, release, _ := m.Acquire("busy")
	defer release()

	now = now.Add(2 * time.Hour)
	m.Get("fresh")

	var cleaned []string
	n := m.Sweep(context.Background(), time.Hour, func(id string) { cleaned = append(cleaned, id) })

	if n != 1 || len(cleaned) != 1 || cleaned[0] != "idle" {
		t.Fatalf("Expected only idle session evicted, got %d %v", n, cleaned)
	}
	if fake.LiveAgents() != 0 {
		t.Error("Expected evicted session's agent to be deleted")
	}
	if m.Len() != 2 {
		t.Errorf("Expected busy and fresh sessions to remain, got %d", m.Len())
	}
}

func TestManager_SweepFailureKeepsRecord(t *testing.T) {
	fake := agentsvc.NewFake()
	fake.Agents["asst_1"] = agentsvc.AgentRequest{}
	fake.Fail("DeleteAgent")
	m, store := newRecordingManager(t, fake)
	now := time.Now()
	m.now = func() time.Time { return now }
	m.Get("idle").CacheAgent("asst_1")

	now = now.Add(2 * time.Hour)
	if n := m.Sweep(context.Background(), time.Hour, nil); n != 1 {
		t.Fatalf("Expected 1 eviction, got %d", n)
	}
	rec, err := store.Load("idle")
	if err != nil || rec == nil || rec.AgentID() != "asst_1" {
		t.Errorf("Expected undeleted agent to stay recorded, got %+v (%v)", rec, err)
	}
}

func TestManager_ReleaseAll(t *testing.T) {
	fake := agentsvc.NewFake()
	fake.Agents["asst_1"] = agentsvc.AgentRequest{}
	fake.Agents["asst_2"] = agentsvc.AgentRequest{}
	fake.Agents["asst_3"] = agentsvc.AgentRequest{}
	fake.VectorStores["vs_1"] = nil
	m, store := newRecordingManager(t, fake)

	for id, agent := range map[string]string{"a": "asst_1", "b": "asst_2"} {
		s := m.Get(id)
		s.CacheAgent(agent)
		m.persist(s)
	}
	m.Get("a").CacheIndex("vs_1")
	busy, release, _ := m.Acquire("busy")
	busy.CacheAgent("asst_3")
	m.persist(busy)
	defer release()

	var closed []string
	n := m.ReleaseAll(context.Background(), func(id string) { closed = append(closed, id) })

	if n != 2 || len(closed) != 2 {
		t.Fatalf("Expected 2 sessions released, got %d %v", n, closed)
	}
	if fake.LiveAgents() != 1 || fake.LiveVectorStores() != 0 {
		t.Errorf("Expected only the busy session's agent left, got agents=%d stores=%d", fake.LiveAgents(), fake.LiveVectorStores())
	}
	all, err := store.LoadAll()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 1 || all["busy"].AgentID() != "asst_3" {
		t.Errorf("Expected only the busy session recorded, got %v", all)
	}
	if m.Len() != 1 {
		t.Errorf("Expected busy session to remain, got %d", m.Len())
	}
}
