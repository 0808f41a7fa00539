package session

import (
	"context"
	"time"
)

const ttlWorkerInterval = 5 * time.Minute

// CleanupCallback is called for every session evicted by the TTL worker.
type CleanupCallback func(sessionID string)

// StartTTLWorker runs a background goroutine that periodically evicts sessions
// idle for longer than ttl and deletes their cached remote resources.
func (m *Manager) StartTTLWorker(ctx context.Context, ttl time.Duration, onCleanup CleanupCallback) {
	ticker := time.NewTicker(ttlWorkerInterval)
	go func() {
		defer ticker.Stop()
		m.logger.Info("TTL worker started", "interval", ttlWorkerInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				m.Sweep(ctx, ttl, onCleanup)
			case <-ctx.Done():
				m.logger.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep evicts idle sessions and returns how many were evicted.
// Sessions running a flow are skipped.
func (m *Manager) Sweep(ctx context.Context, ttl time.Duration, onCleanup CleanupCallback) int {
	cutoff := m.now().Add(-ttl)
	n := m.evict(ctx, func(e *entry) bool { return e.lastSeen.Before(cutoff) }, onCleanup)
	if n > 0 {
		m.logger.Debug("TTL worker cleanup completed", "cleaned", n)
	}
	return n
}

// ReleaseAll evicts every session and deletes its cached remote resources. It is
// called on shutdown after in-flight requests finished. Sessions still running a
// flow are skipped and stay recorded for the next start's reclaim.
func (m *Manager) ReleaseAll(ctx context.Context, onCleanup CleanupCallback) int {
	n := m.evict(ctx, func(*entry) bool { return true }, onCleanup)
	m.logger.Info("released sessions", "count", n, "remaining", m.Len())
	return n
}

// evict removes the idle sessions matching expired and releases their caches.
// A release that fails leaves the survivors in the recovery record.
func (m *Manager) evict(ctx context.Context, expired func(*entry) bool, onCleanup CleanupCallback) int {
	m.mu.Lock()
	var evicted []*entry
	for id, e := range m.entries {
		if !expired(e) || !e.run.TryLock() {
			continue
		}
		delete(m.entries, id)
		evicted = append(evicted, e)
	}
	m.mu.Unlock()

	if len(evicted) == 0 {
		return 0
	}
	m.logger.Info("evicting sessions", "count", len(evicted))

	for _, e := range evicted {
		id := e.session.ID()
		if err := m.Clear(ctx, e.session); err != nil {
			m.logger.Warn("failed to release cached resources, kept for reclaim", "session_id", id, "error", err)
		}
		e.run.Unlock()
		if onCleanup != nil {
			onCleanup(id)
		}
	}
	return len(evicted)
}
