// Package agentsvc is the client side of the managed agent service.
package agentsvc

import (
	"fmt"
	"time"
)

// Role is the author of a thread message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// FilePurpose tags an uploaded file with its intended use.
type FilePurpose string

// PurposeAgents marks files consumed by agents (search indexes, code interpreter).
const PurposeAgents FilePurpose = "assistants"

// Tool is a capability attached to an agent.
type Tool interface {
	toolKind() string
}

// CodeInterpreterTool lets the agent write and execute code in a sandbox.
type CodeInterpreterTool struct{}

// FileSearchTool lets the agent search the given vector stores.
type FileSearchTool struct {
	VectorStoreIDs []string
}

func (CodeInterpreterTool) toolKind() string { return "code_interpreter" }
func (FileSearchTool) toolKind() string      { return "file_search" }

// AgentRequest describes an agent to create.
type AgentRequest struct {
	Model        string
	Name         string
	Instructions string
	Tools        []Tool
}

// Agent is a remote configuration binding a model, instructions and tools.
type Agent struct {
	ID    string
	Name  string
	Model string
}

// Thread is a remote conversation container.
type Thread struct {
	ID string
}

// ContentPart is one typed piece of message content.
// Implementations: TextPart, ImageFilePart, UnknownPart.
type ContentPart interface {
	partType() string
}

// TextPart is textual message content.
type TextPart struct {
	Value string
}

// ImageFilePart references an image file produced by the agent.
type ImageFilePart struct {
	FileID string
}

// UnknownPart is content of a type this client does not model.
type UnknownPart struct {
	Type string
}

func (TextPart) partType() string      { return "text" }
func (ImageFilePart) partType() string { return "image_file" }
func (p UnknownPart) partType() string { return p.Type }

// Message is a user prompt or an agent reply.
type Message struct {
	ID        string
	ThreadID  string
	Role      Role
	CreatedAt time.Time
	Content   []ContentPart
}

// RunStatus is the lifecycle status of a run.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCancelled      RunStatus = "cancelled"
	RunFailed         RunStatus = "failed"
	RunCompleted      RunStatus = "completed"
	RunIncomplete     RunStatus = "incomplete"
	RunExpired        RunStatus = "expired"
)

// Terminal returns true once the run will not change status anymore.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunQueued, RunInProgress, RunCancelling:
		return false
	default:
		return true
	}
}

// Failed returns true for terminal statuses that produce no usable reply.
func (s RunStatus) Failed() bool {
	switch s {
	case RunFailed, RunCancelled, RunExpired:
		return true
	default:
		return false
	}
}

// RunError is the in-band failure detail of a run.
type RunError struct {
	Code    string
	Message string
}

func (e *RunError) String() string {
	if e == nil {
		return "unknown error"
	}
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Run is one execution of an agent against a thread.
type Run struct {
	ID        string
	ThreadID  string
	AgentID   string
	Status    RunStatus
	LastError *RunError
}

// FailureDetail describes why a failed run failed.
func (r *Run) FailureDetail() string {
	if r.LastError != nil {
		return r.LastError.String()
	}
	return "run " + string(r.Status)
}

// StepDetails describes what a run step did.
// Implementations: MessageCreationStep, ToolCallsStep.
type StepDetails interface {
	stepType() string
}

// MessageCreationStep records a message written by the agent.
type MessageCreationStep struct {
	MessageID string
}

// ToolCallsStep records tool invocations.
type ToolCallsStep struct {
	Calls []ToolCall
}

func (MessageCreationStep) stepType() string { return "message_creation" }
func (ToolCallsStep) stepType() string       { return "tool_calls" }

// ToolCall is one tool invocation inside a ToolCallsStep.
// Implementations: CodeInterpreterCall, FileSearchCall, FunctionCall.
type ToolCall interface {
	callType() string
}

// CodeInterpreterCall carries the code the interpreter evaluated.
type CodeInterpreterCall struct {
	ID    string
	Input string
}

// FileSearchCall is a document search performed by the agent.
type FileSearchCall struct {
	ID string
}

// FunctionCall is a call to a user-defined function tool.
type FunctionCall struct {
	ID        string
	Name      string
	Arguments string
}

func (CodeInterpreterCall) callType() string { return "code_interpreter" }
func (FileSearchCall) callType() string      { return "file_search" }
func (FunctionCall) callType() string        { return "function" }

// RunStep is one step a run went through.
type RunStep struct {
	ID      string
	RunID   string
	Details StepDetails
}

// File is an uploaded file.
type File struct {
	ID       string
	FileName string
	Status   string
}

// VectorStore is a remote searchable document index.
type VectorStore struct {
	ID     string
	Name   string
	Status string
}
