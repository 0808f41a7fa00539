package agentsvc

import (
	"context"
	"errors"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

var (
	// ErrNotReady is returned for a remote artifact that does not exist yet.
	ErrNotReady = errors.New("remote artifact not ready")
	// ErrNotConfigured is returned when no connection string is set.
	ErrNotConfigured = errors.New("agent service connection string is not configured")
)

// Client is the subset of the agent service consumed by the flows.
// All calls block until the service responds.
type Client interface {
	CreateAgent(ctx context.Context, req AgentRequest) (*Agent, error)
	DeleteAgent(ctx context.Context, agentID string) error

	CreateThread(ctx context.Context) (*Thread, error)
	DeleteThread(ctx context.Context, threadID string) error

	CreateMessage(ctx context.Context, threadID string, role Role, content string) (*Message, error)
	ListMessages(ctx context.Context, threadID string) ([]Message, error)

	// CreateAndProcessRun submits a run and waits for a terminal status.
	CreateAndProcessRun(ctx context.Context, threadID, agentID string) (*Run, error)
	ListRunSteps(ctx context.Context, threadID, runID string) ([]RunStep, error)

	UploadFileAndPoll(ctx context.Context, path string, purpose FilePurpose) (*File, error)
	CreateVectorStoreAndPoll(ctx context.Context, fileIDs []string, name string) (*VectorStore, error)
	DeleteVectorStore(ctx context.Context, vectorStoreID string) error

	// SaveFile writes the content of a remote file to localPath.
	// It returns ErrNotReady while the file does not exist remotely.
	SaveFile(ctx context.Context, fileID, localPath string) error
}

// DialFunc connects to the agent service.
type DialFunc func(ctx context.Context) (Client, error)

// IsNotFound reports whether err is a 404 from the service.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotReady) {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusNotFound
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusNotFound
	}
	return false
}
