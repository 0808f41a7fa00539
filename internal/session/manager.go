// Package session keeps one domain.Session per browser and serializes the flows run on it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ashureev/agentdemo/internal/agentsvc"
	"github.com/ashureev/agentdemo/internal/domain"
)

var (
	// ErrBusy is returned when a flow is already running for the session.
	ErrBusy = errors.New("a request is already running for this session")
	// ErrRateLimited is returned when the session exceeded its request budget.
	ErrRateLimited = errors.New("too many requests for this session")
	// ErrCleanupPending is returned while a cached agent or index could not be
	// deleted. The identifiers stay cached so a later call can retry.
	ErrCleanupPending = errors.New("previous remote resources are not deleted yet")
)

// RecoveryStore persists the cached identifiers of a session. An empty record
// removes the session's entry.
type RecoveryStore interface {
	Save(sessionID string, rec domain.RecoveryRecord) error
}

type entry struct {
	session *domain.Session
	// run is held for the whole duration of a flow.
	run      sync.Mutex
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Manager is the registry of live sessions.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry

	dial      agentsvc.DialFunc
	records   RecoveryStore
	perMinute int
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager creates a registry. records may be nil. perMinute <= 0 disables
// rate limiting.
func NewManager(dial agentsvc.DialFunc, records RecoveryStore, perMinute int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		entries:   make(map[string]*entry),
		dial:      dial,
		records:   records,
		perMinute: perMinute,
		logger:    logger,
		now:       time.Now,
	}
}

func (m *Manager) entry(id string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		e = &entry{session: domain.NewSession(id)}
		if m.perMinute > 0 {
			e.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(m.perMinute)), m.perMinute)
		}
		m.entries[id] = e
	}
	e.lastSeen = m.now()
	return e
}

// Get returns the session for id, creating it on first use.
func (m *Manager) Get(id string) *domain.Session {
	return m.entry(id).session
}

// Acquire reserves the session for one flow. The returned release must be called
// when the flow is done.
func (m *Manager) Acquire(id string) (*domain.Session, func(), error) {
	e := m.entry(id)
	if e.limiter != nil && !e.limiter.Allow() {
		return nil, nil, ErrRateLimited
	}
	if !e.run.TryLock() {
		m.logger.Warn("flow already in progress", "session_id", id)
		return nil, nil, ErrBusy
	}
	return e.session, func() {
		m.touch(id)
		e.run.Unlock()
	}, nil
}

func (m *Manager) touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		e.lastSeen = m.now()
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Invalidate drops the cached agent and index when fileName differs from the
// last uploaded file, deleting both remotely. When a deletion fails it returns
// ErrCleanupPending and leaves the undeleted identifiers cached; no new agent
// may be built until a later call succeeds. The session must be acquired.
func (m *Manager) Invalidate(ctx context.Context, s *domain.Session, fileName string) error {
	if fileName == s.LastFile() {
		return nil
	}
	m.logger.Info("new document uploaded", "session_id", s.ID(), "file", fileName, "previous", s.LastFile())

	if err := m.release(ctx, s); err != nil {
		return err
	}
	s.SetLastFile(fileName)
	return nil
}

// Clear deletes the session's cached remote resources and resets it. When a
// deletion fails the session keeps the undeleted identifiers and is not reset.
// The session must be acquired.
func (m *Manager) Clear(ctx context.Context, s *domain.Session) error {
	if err := m.release(ctx, s); err != nil {
		return err
	}
	s.Reset()
	return nil
}

// release deletes the cached agent and index. Both deletions are attempted and
// only the identifiers that are gone are forgotten. The recovery record is
// rewritten to match.
func (m *Manager) release(ctx context.Context, s *domain.Session) error {
	agentID, indexID := s.AgentID(), s.VectorStoreID()
	if agentID == "" && indexID == "" {
		return nil
	}

	client, err := m.dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: connect: %w", ErrCleanupPending, err)
	}

	var errs []error
	if agentID != "" {
		if err := client.DeleteAgent(ctx, agentID); err != nil && !agentsvc.IsNotFound(err) {
			errs = append(errs, fmt.Errorf("delete agent %s: %w", agentID, err))
		} else {
			s.ForgetAgent()
			m.logger.Info("deleted cached agent", "session_id", s.ID(), "agent_id", agentID)
		}
	}
	if indexID != "" {
		if err := client.DeleteVectorStore(ctx, indexID); err != nil && !agentsvc.IsNotFound(err) {
			errs = append(errs, fmt.Errorf("delete vector store %s: %w", indexID, err))
		} else {
			s.ForgetIndex()
			m.logger.Info("deleted cached vector store", "session_id", s.ID(), "vector_store_id", indexID)
		}
	}
	m.persist(s)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrCleanupPending, errors.Join(errs...))
	}
	return nil
}

func (m *Manager) persist(s *domain.Session) {
	if m.records == nil {
		return
	}
	if err := m.records.Save(s.ID(), domain.RecoveryFromSession(s)); err != nil {
		m.logger.Warn("failed to update recovery record", "session_id", s.ID(), "error", err)
	}
}
