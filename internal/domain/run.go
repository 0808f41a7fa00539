package domain

import "time"

// FlowKind names one of the orchestration flows.
type FlowKind string

const (
	// FlowCodeInterpreter runs a prompt through an ephemeral code-execution agent.
	FlowCodeInterpreter FlowKind = "code_interpreter"
	// FlowRAG answers questions from an uploaded document with a cached agent.
	FlowRAG FlowKind = "rag"
	// FlowRAGCodeInterpreter combines document search and code execution.
	FlowRAGCodeInterpreter FlowKind = "rag_code_interpreter"
)

// RunOutcome is the terminal state of one flow invocation.
type RunOutcome string

const (
	OutcomeSucceeded RunOutcome = "succeeded"
	OutcomeRunFailed RunOutcome = "run_failed"
	OutcomeError     RunOutcome = "error"
)

// RunRecord is one entry of the flow invocation history.
type RunRecord struct {
	ID         int64      `json:"id"`
	SessionID  string     `json:"session_id"`
	Flow       FlowKind   `json:"flow"`
	Prompt     string     `json:"prompt"`
	FileName   string     `json:"file_name,omitempty"`
	Outcome    RunOutcome `json:"outcome"`
	Response   string     `json:"response"`
	Code       string     `json:"code,omitempty"`
	ImagePath  string     `json:"image_path,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

// Duration returns how long the invocation took.
func (r *RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
