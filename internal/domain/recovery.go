package domain

// RecoveryRecord is the durable record of long-lived remote resources.
// A restarted process reads it once to delete resources a previous process left behind.
type RecoveryRecord struct {
	RAGAgentID    *string `json:"rag_agent_id"`
	VectorStoreID *string `json:"vector_store_id"`
	LastFile      string  `json:"last_file"`
}

// RecoveryFromSession captures the cached identifiers of a session.
func RecoveryFromSession(s *Session) RecoveryRecord {
	st := s.Snapshot()
	return RecoveryRecord{
		RAGAgentID:    optional(st.AgentID),
		VectorStoreID: optional(st.VectorStoreID),
		LastFile:      st.LastFile,
	}
}

// AgentID returns the recorded agent identifier or "".
func (r RecoveryRecord) AgentID() string {
	if r.RAGAgentID == nil {
		return ""
	}
	return *r.RAGAgentID
}

// IndexID returns the recorded vector store identifier or "".
func (r RecoveryRecord) IndexID() string {
	if r.VectorStoreID == nil {
		return ""
	}
	return *r.VectorStoreID
}

// IsEmpty returns true if the record names no remote resource.
func (r RecoveryRecord) IsEmpty() bool {
	return r.AgentID() == "" && r.IndexID() == ""
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
