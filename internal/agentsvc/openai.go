package agentsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/sashabaranov/go-openai"
)

const (
	tokenScope      = "https://management.azure.com/.default"
	assistantsBeta  = "assistants=v2"
	listPageSize    = 100
	fileProcessed   = "processed"
	fileError       = "error"
	storeCompleted  = "completed"
	storeExpired    = "expired"
	defaultPollTick = time.Second
)

var errRemoteFailed = errors.New("remote processing failed")

// Options configures a connection to the agent service.
type Options struct {
	ConnString   string
	APIKey       string
	APIVersion   string
	PollInterval time.Duration

	// Credential overrides DefaultAzureCredential.
	Credential azcore.TokenCredential
	// HTTPClient overrides the base transport (tests).
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Service is a Client backed by the Assistants v2 compatible REST API.
type Service struct {
	api        *openai.Client
	http       *http.Client
	endpoint   string
	apiVersion string
	poll       time.Duration
	logger     *slog.Logger
}

// Dial builds a client for the project named by opts.ConnString.
// No request is sent until the first call.
func Dial(ctx context.Context, opts Options) (*Service, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	project, err := ParseConnectionString(opts.ConnString)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 2 * time.Minute}
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	auth := &authTransport{base: transport, apiKey: opts.APIKey}
	if opts.APIKey == "" {
		cred := opts.Credential
		if cred == nil {
			cred, err = azidentity.NewDefaultAzureCredential(nil)
			if err != nil {
				return nil, fmt.Errorf("create azure credential: %w", err)
			}
		}
		auth.cred = cred
	}

	httpClient := &http.Client{
		Transport:     auth,
		Timeout:       base.Timeout,
		CheckRedirect: base.CheckRedirect,
		Jar:           base.Jar,
	}

	apiVersion := opts.APIVersion
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}

	cfg := openai.DefaultConfig("")
	cfg.BaseURL = project.Endpoint()
	cfg.APIVersion = apiVersion
	cfg.HTTPClient = httpClient

	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollTick
	}

	logger.Debug("agent service client ready", "endpoint", cfg.BaseURL, "api_version", apiVersion)

	return &Service{
		api:        openai.NewClientWithConfig(cfg),
		http:       httpClient,
		endpoint:   cfg.BaseURL,
		apiVersion: apiVersion,
		poll:       poll,
		logger:     logger,
	}, nil
}

// Dialer returns a DialFunc bound to opts. The default Azure credential is
// created on first use and shared by every client it dials.
func Dialer(opts Options) DialFunc {
	needCred := opts.APIKey == "" && opts.Credential == nil && opts.ConnString != ""
	var (
		once    sync.Once
		cred    azcore.TokenCredential
		credErr error
	)
	return func(ctx context.Context) (Client, error) {
		o := opts
		if needCred {
			once.Do(func() {
				cred, credErr = azidentity.NewDefaultAzureCredential(nil)
			})
			if credErr != nil {
				return nil, fmt.Errorf("create azure credential: %w", credErr)
			}
			o.Credential = cred
		}
		svc, err := Dial(ctx, o)
		if err != nil {
			return nil, err
		}
		return svc, nil
	}
}

// authTransport attaches either an api-key header or a fresh bearer token.
type authTransport struct {
	base   http.RoundTripper
	apiKey string
	cred   azcore.TokenCredential
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	if t.apiKey != "" {
		r.Header.Set("api-key", t.apiKey)
		return t.base.RoundTrip(r)
	}

	tok, err := t.cred.GetToken(req.Context(), policy.TokenRequestOptions{Scopes: []string{tokenScope}})
	if err != nil {
		return nil, fmt.Errorf("acquire token: %w", err)
	}
	r.Header.Set("Authorization", "Bearer "+tok.Token)
	return t.base.RoundTrip(r)
}

func (s *Service) CreateAgent(ctx context.Context, req AgentRequest) (*Agent, error) {
	name := req.Name
	instructions := req.Instructions
	areq := openai.AssistantRequest{
		Model:        req.Model,
		Name:         &name,
		Instructions: &instructions,
	}

	for _, tool := range req.Tools {
		switch t := tool.(type) {
		case CodeInterpreterTool:
			areq.Tools = append(areq.Tools, openai.AssistantTool{Type: openai.AssistantToolTypeCodeInterpreter})
		case FileSearchTool:
			areq.Tools = append(areq.Tools, openai.AssistantTool{Type: openai.AssistantToolTypeFileSearch})
			if areq.ToolResources == nil {
				areq.ToolResources = &openai.AssistantToolResource{}
			}
			areq.ToolResources.FileSearch = &openai.AssistantToolFileSearch{VectorStoreIDs: t.VectorStoreIDs}
		default:
			return nil, fmt.Errorf("create agent: unsupported tool %T", tool)
		}
	}

	resp, err := s.api.CreateAssistant(ctx, areq)
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return &Agent{ID: resp.ID, Name: name, Model: resp.Model}, nil
}

func (s *Service) DeleteAgent(ctx context.Context, agentID string) error {
	if _, err := s.api.DeleteAssistant(ctx, agentID); err != nil {
		return fmt.Errorf("delete agent %s: %w", agentID, err)
	}
	return nil
}

func (s *Service) CreateThread(ctx context.Context) (*Thread, error) {
	resp, err := s.api.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	return &Thread{ID: resp.ID}, nil
}

func (s *Service) DeleteThread(ctx context.Context, threadID string) error {
	if _, err := s.api.DeleteThread(ctx, threadID); err != nil {
		return fmt.Errorf("delete thread %s: %w", threadID, err)
	}
	return nil
}

func (s *Service) CreateMessage(ctx context.Context, threadID string, role Role, content string) (*Message, error) {
	resp, err := s.api.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    string(role),
		Content: content,
	})
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return convertMessage(resp), nil
}

func (s *Service) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	limit := listPageSize
	order := "asc"
	var (
		after *string
		out   []Message
	)
	for {
		page, err := s.api.ListMessage(ctx, threadID, &limit, &order, after, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		for _, m := range page.Messages {
			out = append(out, *convertMessage(m))
		}
		if !page.HasMore || page.LastID == nil {
			return out, nil
		}
		after = page.LastID
	}
}

func convertMessage(m openai.Message) *Message {
	msg := &Message{
		ID:        m.ID,
		ThreadID:  m.ThreadID,
		Role:      Role(m.Role),
		CreatedAt: time.Unix(int64(m.CreatedAt), 0),
	}
	for _, c := range m.Content {
		switch {
		case c.Type == "text" && c.Text != nil:
			msg.Content = append(msg.Content, TextPart{Value: c.Text.Value})
		case c.Type == "image_file" && c.ImageFile != nil:
			msg.Content = append(msg.Content, ImageFilePart{FileID: c.ImageFile.FileID})
		default:
			msg.Content = append(msg.Content, UnknownPart{Type: c.Type})
		}
	}
	return msg
}

func (s *Service) CreateAndProcessRun(ctx context.Context, threadID, agentID string) (*Run, error) {
	run, err := s.api.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: agentID})
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	s.logger.Debug("run submitted", "run_id", run.ID, "thread_id", threadID, "agent_id", agentID)

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for !RunStatus(run.Status).Terminal() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for run %s: %w", run.ID, ctx.Err())
		case <-ticker.C:
		}
		run, err = s.api.RetrieveRun(ctx, threadID, run.ID)
		if err != nil {
			return nil, fmt.Errorf("retrieve run: %w", err)
		}
	}

	out := &Run{
		ID:       run.ID,
		ThreadID: threadID,
		AgentID:  agentID,
		Status:   RunStatus(run.Status),
	}
	if run.LastError != nil {
		out.LastError = &RunError{Code: string(run.LastError.Code), Message: run.LastError.Message}
	}
	return out, nil
}

// Wire shapes for run steps. go-openai decodes tool calls into the chat
// ToolCall type, which has no code_interpreter field.
type stepList struct {
	Data    []stepObject `json:"data"`
	HasMore bool         `json:"has_more"`
	LastID  string       `json:"last_id"`
}

type stepObject struct {
	ID          string `json:"id"`
	RunID       string `json:"run_id"`
	StepDetails struct {
		Type            string `json:"type"`
		MessageCreation *struct {
			MessageID string `json:"message_id"`
		} `json:"message_creation"`
		ToolCalls []toolCallObject `json:"tool_calls"`
	} `json:"step_details"`
}

type toolCallObject struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	CodeInterpreter *struct {
		Input string `json:"input"`
	} `json:"code_interpreter"`
	Function *struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

func (s *Service) ListRunSteps(ctx context.Context, threadID, runID string) ([]RunStep, error) {
	var (
		after string
		out   []RunStep
	)
	for {
		q := url.Values{}
		q.Set("api-version", s.apiVersion)
		q.Set("order", "asc")
		q.Set("limit", fmt.Sprint(listPageSize))
		if after != "" {
			q.Set("after", after)
		}
		u := fmt.Sprintf("%s/threads/%s/runs/%s/steps?%s", s.endpoint, url.PathEscape(threadID), url.PathEscape(runID), q.Encode())

		var page stepList
		if err := s.getJSON(ctx, u, &page); err != nil {
			return nil, fmt.Errorf("list run steps: %w", err)
		}
		for _, st := range page.Data {
			out = append(out, convertStep(st))
		}
		if !page.HasMore || page.LastID == "" {
			return out, nil
		}
		after = page.LastID
	}
}

func convertStep(st stepObject) RunStep {
	step := RunStep{ID: st.ID, RunID: st.RunID}
	switch st.StepDetails.Type {
	case "message_creation":
		var id string
		if st.StepDetails.MessageCreation != nil {
			id = st.StepDetails.MessageCreation.MessageID
		}
		step.Details = MessageCreationStep{MessageID: id}
	case "tool_calls":
		calls := make([]ToolCall, 0, len(st.StepDetails.ToolCalls))
		for _, tc := range st.StepDetails.ToolCalls {
			switch {
			case tc.Type == "code_interpreter" && tc.CodeInterpreter != nil:
				calls = append(calls, CodeInterpreterCall{ID: tc.ID, Input: tc.CodeInterpreter.Input})
			case tc.Type == "function" && tc.Function != nil:
				calls = append(calls, FunctionCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
			case tc.Type == "file_search":
				calls = append(calls, FileSearchCall{ID: tc.ID})
			}
		}
		step.Details = ToolCallsStep{Calls: calls}
	}
	return step
}

func (s *Service) getJSON(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("OpenAI-Beta", assistantsBeta)

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &openai.APIError{HTTPStatusCode: resp.StatusCode, HTTPStatus: resp.Status, Message: string(body)}
		var wrapped openai.ErrorResponse
		if json.Unmarshal(body, &wrapped) == nil && wrapped.Error != nil {
			wrapped.Error.HTTPStatusCode = resp.StatusCode
			wrapped.Error.HTTPStatus = resp.Status
			apiErr = wrapped.Error
		}
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (s *Service) UploadFileAndPoll(ctx context.Context, path string, purpose FilePurpose) (*File, error) {
	f, err := s.api.CreateFile(ctx, openai.FileRequest{
		FileName: filepath.Base(path),
		FilePath: path,
		Purpose:  string(purpose),
	})
	if err != nil {
		return nil, fmt.Errorf("upload file: %w", err)
	}

	err = s.pollUntil(ctx, func() (bool, error) {
		switch f.Status {
		case "", fileProcessed:
			return true, nil
		case fileError:
			return false, fmt.Errorf("%w: file %s: %s", errRemoteFailed, f.ID, f.StatusDetails)
		}
		f, err = s.api.GetFile(ctx, f.ID)
		return false, err
	})
	if err != nil {
		return nil, fmt.Errorf("upload file: %w", err)
	}
	return &File{ID: f.ID, FileName: f.FileName, Status: f.Status}, nil
}

func (s *Service) CreateVectorStoreAndPoll(ctx context.Context, fileIDs []string, name string) (*VectorStore, error) {
	vs, err := s.api.CreateVectorStore(ctx, openai.VectorStoreRequest{Name: name, FileIDs: fileIDs})
	if err != nil {
		return nil, fmt.Errorf("create vector store: %w", err)
	}

	err = s.pollUntil(ctx, func() (bool, error) {
		switch vs.Status {
		case storeCompleted:
			return true, nil
		case storeExpired:
			return false, fmt.Errorf("%w: vector store %s expired", errRemoteFailed, vs.ID)
		}
		vs, err = s.api.RetrieveVectorStore(ctx, vs.ID)
		return false, err
	})
	if err != nil {
		return nil, fmt.Errorf("create vector store: %w", err)
	}
	return &VectorStore{ID: vs.ID, Name: vs.Name, Status: vs.Status}, nil
}

func (s *Service) DeleteVectorStore(ctx context.Context, vectorStoreID string) error {
	if _, err := s.api.DeleteVectorStore(ctx, vectorStoreID); err != nil {
		return fmt.Errorf("delete vector store %s: %w", vectorStoreID, err)
	}
	return nil
}

func (s *Service) SaveFile(ctx context.Context, fileID, localPath string) error {
	content, err := s.api.GetFileContent(ctx, fileID)
	if err != nil {
		if IsNotFound(err) {
			return fmt.Errorf("file %s: %w", fileID, ErrNotReady)
		}
		return fmt.Errorf("download file %s: %w", fileID, err)
	}
	defer content.Close()

	if err := writeFileAtomic(localPath, content); err != nil {
		return fmt.Errorf("save file %s: %w", fileID, err)
	}
	return nil
}

// pollUntil calls check every poll interval until it reports done.
func (s *Service) pollUntil(ctx context.Context, check func() (bool, error)) error {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		done, err := check()
		if err != nil || done {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func writeFileAtomic(path string, r io.Reader) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
