// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/agentdemo/internal/domain"
)

// Repository persists the history of flow invocations.
type Repository interface {
	// RecordRun stores rec and fills in its ID.
	RecordRun(ctx context.Context, rec *domain.RunRecord) error

	// ListRuns returns the most recent runs of a session, newest first.
	// An empty sessionID lists runs across all sessions.
	ListRuns(ctx context.Context, sessionID string, limit int) ([]*domain.RunRecord, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
