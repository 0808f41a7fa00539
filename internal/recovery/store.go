// Package recovery persists the identifiers of long-lived remote resources so a
// restarted process can delete what the previous one left behind.
package recovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ashureev/agentdemo/internal/domain"
)

// DefaultPath is the recovery file used when none is configured.
const DefaultPath = ".session_state.json"

// LegacySessionID keys a single-record file written before records were kept per session.
const LegacySessionID = "legacy"

// FileStore keeps one RecoveryRecord per session in a JSON object keyed by session id.
type FileStore struct {
	Path string

	mu sync.Mutex
}

// NewFileStore returns a store backed by path, or DefaultPath when empty.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultPath
	}
	return &FileStore{Path: path}
}

// Save replaces the record of sessionID. An empty record removes the entry,
// and the file goes away with its last entry. The write is atomic.
func (s *FileStore) Save(sessionID string, rec domain.RecoveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return err
	}
	if rec.IsEmpty() {
		if _, ok := records[sessionID]; !ok {
			return nil
		}
		delete(records, sessionID)
	} else {
		records[sessionID] = rec
	}
	return s.write(records)
}

// Delete removes the record of sessionID. A missing entry is not an error.
func (s *FileStore) Delete(sessionID string) error {
	return s.Save(sessionID, domain.RecoveryRecord{})
}

// Load returns the record of sessionID, or nil when there is none.
func (s *FileStore) Load(sessionID string) (*domain.RecoveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return nil, err
	}
	rec, ok := records[sessionID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// LoadAll returns every stored record keyed by session id.
func (s *FileStore) LoadAll() (map[string]domain.RecoveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Remove deletes the whole file. A missing file is not an error.
func (s *FileStore) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove recovery records: %w", err)
	}
	return nil
}

func (s *FileStore) read() (map[string]domain.RecoveryRecord, error) {
	records := make(map[string]domain.RecoveryRecord)

	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return records, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read recovery records: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode recovery records %s: %w", s.Path, err)
	}
	if isLegacy(raw) {
		var rec domain.RecoveryRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode recovery record %s: %w", s.Path, err)
		}
		if !rec.IsEmpty() {
			records[LegacySessionID] = rec
		}
		return records, nil
	}
	for id, msg := range raw {
		var rec domain.RecoveryRecord
		if err := json.Unmarshal(msg, &rec); err != nil {
			return nil, fmt.Errorf("decode recovery record %q: %w", id, err)
		}
		records[id] = rec
	}
	return records, nil
}

func (s *FileStore) write(records map[string]domain.RecoveryRecord) error {
	if len(records) == 0 {
		if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove recovery records: %w", err)
		}
		return nil
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode recovery records: %w", err)
	}
	if err := writeAtomic(s.Path, data); err != nil {
		return fmt.Errorf("save recovery records: %w", err)
	}
	return nil
}

// isLegacy reports whether raw is a bare record rather than a map of records.
func isLegacy(raw map[string]json.RawMessage) bool {
	for _, key := range []string{"rag_agent_id", "vector_store_id", "last_file"} {
		if _, ok := raw[key]; ok {
			return true
		}
	}
	return false
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-recovery-*")
	if err != nil {
		return err
	}

	var success bool
	defer func() {
		if !success {
			if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
				slog.Warn("failed to remove temporary file", "path", tmp.Name(), "error", err)
			}
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	success = true
	return nil
}
