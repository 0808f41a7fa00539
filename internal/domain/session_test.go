package domain

import "testing"

func TestSession_ReportClamps(t *testing.T) {
	s := NewSession("s1")

	s.Report(150, "Complete")
	if got := s.Snapshot().Progress; got != 100 {
		t.Errorf("Expected progress 100, got %d", got)
	}

	s.Report(-3, "Initializing")
	if got := s.Snapshot().Progress; got != 0 {
		t.Errorf("Expected progress 0, got %d", got)
	}
}

func TestSession_ResetKeepsIdentity(t *testing.T) {
	s := NewSession("s1")
	created := s.Snapshot().CreatedAt
	s.CacheAgent("asst_1")
	s.CacheIndex("vs_1")
	s.SetLastFile("report.pdf")
	s.SetCode("print(1)")

	s.Reset()

	st := s.Snapshot()
	if st.ID != "s1" || !st.CreatedAt.Equal(created) {
		t.Errorf("Reset lost identity: %+v", st)
	}
	if s.HasCachedAgent() || s.HasCachedIndex() || st.LastFile != "" || st.Code != "" {
		t.Errorf("Reset left state behind: %+v", st)
	}
}

func TestRecoveryFromSession(t *testing.T) {
	s := NewSession("s1")
	s.CacheAgent("asst_1")
	s.SetLastFile("a.txt")

	rec := RecoveryFromSession(s)
	if rec.AgentID() != "asst_1" {
		t.Errorf("Expected agent asst_1, got %q", rec.AgentID())
	}
	if rec.VectorStoreID != nil {
		t.Errorf("Expected nil vector store, got %q", *rec.VectorStoreID)
	}
	if rec.IsEmpty() {
		t.Error("Expected non-empty record")
	}
	if !(RecoveryRecord{}).IsEmpty() {
		t.Error("Expected zero record to be empty")
	}
}
