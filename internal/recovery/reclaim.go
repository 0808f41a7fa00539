package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ashureev/agentdemo/internal/agentsvc"
	"github.com/ashureev/agentdemo/internal/domain"
)

// Store is the durable side of recovery.
type Store interface {
	LoadAll() (map[string]domain.RecoveryRecord, error)
	Save(sessionID string, rec domain.RecoveryRecord) error
}

// Entry describes what a reclaim pass did for one session.
type Entry struct {
	SessionID    string
	AgentID      string
	IndexID      string
	AgentDeleted bool
	IndexDeleted bool
}

// Done reports whether every resource named by the entry is gone.
func (e Entry) Done() bool {
	return (e.AgentID == "" || e.AgentDeleted) && (e.IndexID == "" || e.IndexDeleted)
}

// Report describes what a reclaim pass did.
type Report struct {
	Entries []Entry
}

// Found reports whether any record was on disk.
func (r Report) Found() bool { return len(r.Entries) > 0 }

// Pending returns the entries kept for a later pass.
func (r Report) Pending() []Entry {
	var out []Entry
	for _, e := range r.Entries {
		if !e.Done() {
			out = append(out, e)
		}
	}
	return out
}

// Reclaim deletes the agents and vector indexes named by every leftover record.
// Deletions are attempted independently. A record is dropped once everything it
// names is gone and rewritten with the survivors otherwise, so the next start
// retries them.
func Reclaim(ctx context.Context, store Store, dial agentsvc.DialFunc, logger *slog.Logger) (Report, error) {
	if logger == nil {
		logger = slog.Default()
	}

	records, err := store.LoadAll()
	if err != nil {
		return Report{}, err
	}
	if len(records) == 0 {
		return Report{}, nil
	}

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var rep Report
	var client agentsvc.Client
	for _, id := range ids {
		rec := records[id]
		e := Entry{SessionID: id, AgentID: rec.AgentID(), IndexID: rec.IndexID()}
		logger.Info("found recovery record", "session_id", id, "agent_id", e.AgentID, "vector_store_id", e.IndexID, "last_file", rec.LastFile)

		if !rec.IsEmpty() && client == nil {
			if client, err = dial(ctx); err != nil {
				// Keep every record so the next start can try again.
				return Report{Entries: append(rep.Entries, e)}, fmt.Errorf("reclaim: connect: %w", err)
			}
		}
		if e.AgentID != "" {
			e.AgentDeleted = deleteLogged(logger, "agent", e.AgentID, client.DeleteAgent(ctx, e.AgentID))
		}
		if e.IndexID != "" {
			e.IndexDeleted = deleteLogged(logger, "vector store", e.IndexID, client.DeleteVectorStore(ctx, e.IndexID))
		}
		rep.Entries = append(rep.Entries, e)

		if err := store.Save(id, remaining(rec, e)); err != nil {
			return rep, err
		}
	}

	if pending := rep.Pending(); len(pending) > 0 {
		logger.Warn("recovery records kept for retry", "count", len(pending))
	} else {
		logger.Info("removed recovery records", "count", len(rep.Entries))
	}
	return rep, nil
}

// remaining returns rec without the identifiers e deleted.
func remaining(rec domain.RecoveryRecord, e Entry) domain.RecoveryRecord {
	if e.AgentDeleted {
		rec.RAGAgentID = nil
	}
	if e.IndexDeleted {
		rec.VectorStoreID = nil
	}
	return rec
}

func deleteLogged(logger *slog.Logger, kind, id string, err error) bool {
	switch {
	case err == nil:
		logger.Info("deleted leftover "+kind, "id", id)
		return true
	case agentsvc.IsNotFound(err):
		logger.Info("leftover "+kind+" already gone", "id", id)
		return true
	case errors.Is(err, context.Canceled):
		logger.Warn("reclaim cancelled", "kind", kind, "id", id)
		return false
	default:
		logger.Warn("failed to delete leftover "+kind, "id", id, "error", err)
		return false
	}
}
