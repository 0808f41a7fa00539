// Package flow orchestrates the agent service calls behind each capability.
package flow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/agentdemo/internal/agentsvc"
	"github.com/ashureev/agentdemo/internal/domain"
)

// ImageFileName is the file name every generated image is saved under.
const ImageFileName = "interpreter_image_file.png"

const (
	defaultImagePollTimeout  = 30 * time.Second
	defaultImagePollInterval = time.Second
	defaultCleanupTimeout    = 30 * time.Second
)

var (
	// ErrImageTimeout is returned when a generated image never became downloadable.
	ErrImageTimeout = errors.New("timed out waiting for generated image")
	// ErrNoModel is returned when no model deployment is configured.
	ErrNoModel = errors.New("model deployment is not configured")
)

// RunFailedError reports a run that ended in a failure status.
type RunFailedError struct {
	Detail string
}

func (e *RunFailedError) Error() string {
	return "Run failed: " + e.Detail
}

// RecoverySaver persists the recovery record of a session. An empty record
// removes it.
type RecoverySaver interface {
	Save(sessionID string, rec domain.RecoveryRecord) error
}

// Config wires a Runner.
type Config struct {
	Dial  agentsvc.DialFunc
	Model string

	// ImageDir receives generated images, one directory per session.
	ImageDir string
	// UploadDir stages uploaded documents before they are sent.
	UploadDir string

	ImagePollTimeout  time.Duration
	ImagePollInterval time.Duration
	CleanupTimeout    time.Duration

	// DeleteThreads removes every thread a flow created before it returns.
	DeleteThreads bool

	Recovery RecoverySaver
	Logger   *slog.Logger
}

// Runner executes flows against the agent service.
type Runner struct {
	cfg    Config
	logger *slog.Logger
}

// Result is what a flow hands back to its caller. Failures are carried in Text.
type Result struct {
	Text      string            `json:"response"`
	ImagePath string            `json:"image_path,omitempty"`
	Code      string            `json:"code,omitempty"`
	Status    string            `json:"status"`
	Outcome   domain.RunOutcome `json:"outcome"`
}

// Upload is a document supplied by the user.
type Upload struct {
	Name string
	Body io.Reader
}

// New creates a Runner, filling unset durations with defaults.
func New(cfg Config) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ImagePollTimeout <= 0 {
		cfg.ImagePollTimeout = defaultImagePollTimeout
	}
	if cfg.ImagePollInterval <= 0 {
		cfg.ImagePollInterval = defaultImagePollInterval
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = defaultCleanupTimeout
	}
	if cfg.ImageDir == "" {
		cfg.ImageDir = "images"
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = os.TempDir()
	}
	return &Runner{cfg: cfg, logger: cfg.Logger}
}

// body is the part of a flow that may fail; finish turns its error into text.
type body func(ctx context.Context, p *progress) (string, error)

type progress struct {
	Reporter
	status string
}

func (p *progress) Report(percent int, message string) {
	p.status = message
	p.Reporter.Report(percent, message)
}

func (r *Runner) execute(ctx context.Context, s *domain.Session, kind domain.FlowKind, rep Reporter, fn body) Result {
	reporter := Tee(s, LogReporter(r.logger, s.ID(), kind), rep)
	p := &progress{Reporter: reporter}

	var text string
	err := r.precheck()
	if err == nil {
		text, err = fn(ctx, p)
	}

	st := s.Snapshot()
	res := Result{Text: text, ImagePath: st.ImagePath, Code: st.Code, Status: p.status, Outcome: domain.OutcomeSucceeded}

	var runErr *RunFailedError
	switch {
	case errors.As(err, &runErr):
		res.Text = runErr.Error()
		res.Outcome = domain.OutcomeRunFailed
		r.logger.Warn("run failed", "session_id", s.ID(), "flow", kind, "detail", runErr.Detail)
	case err != nil:
		res.Text = "An error occurred: " + err.Error()
		res.Outcome = domain.OutcomeError
		r.logger.Error("flow failed", "session_id", s.ID(), "flow", kind, "error", err)
	}

	if f, ok := reporter.(Finisher); ok {
		f.Done(res)
	}
	return res
}

func (r *Runner) precheck() error {
	if r.cfg.Model == "" {
		return ErrNoModel
	}
	return nil
}

// connect dials the service and reports the connection step.
func (r *Runner) connect(ctx context.Context, p Reporter) (agentsvc.Client, error) {
	p.Report(10, "Initializing...")
	client, err := r.cfg.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	p.Report(20, "Connected to AI Project service")
	return client, nil
}

// openThread creates a conversation thread, scheduling its deletion when configured.
func (r *Runner) openThread(ctx context.Context, client agentsvc.Client, g *guard) (*agentsvc.Thread, error) {
	thread, err := client.CreateThread(ctx)
	if err != nil {
		return nil, err
	}
	r.logger.Info("created thread", "thread_id", thread.ID)
	if r.cfg.DeleteThreads {
		g.Defer("thread", func(ctx context.Context) error {
			return client.DeleteThread(ctx, thread.ID)
		})
	}
	return thread, nil
}

func (r *Runner) post(ctx context.Context, client agentsvc.Client, threadID, prompt string) error {
	msg, err := client.CreateMessage(ctx, threadID, agentsvc.RoleUser, prompt)
	if err != nil {
		return err
	}
	r.logger.Info("created message", "message_id", msg.ID, "thread_id", threadID)
	return nil
}

// run executes agentID on the thread and converts failure statuses to RunFailedError.
func (r *Runner) run(ctx context.Context, client agentsvc.Client, threadID, agentID string) (*agentsvc.Run, error) {
	run, err := client.CreateAndProcessRun(ctx, threadID, agentID)
	if err != nil {
		return nil, err
	}
	r.logger.Info("run finished", "run_id", run.ID, "thread_id", threadID, "status", run.Status)
	if run.Status.Failed() {
		return run, &RunFailedError{Detail: run.FailureDetail()}
	}
	return run, nil
}

func (r *Runner) createAgent(ctx context.Context, client agentsvc.Client, req agentsvc.AgentRequest) (*agentsvc.Agent, error) {
	req.Model = r.cfg.Model
	agent, err := client.CreateAgent(ctx, req)
	if err != nil {
		return nil, err
	}
	r.logger.Info("created agent", "agent_id", agent.ID, "name", req.Name)
	return agent, nil
}

// stage copies an upload to a local temp file removed by the guard.
func (r *Runner) stage(up Upload, g *guard) (string, error) {
	name := filepath.Base(up.Name)
	if name == "." || name == string(filepath.Separator) || strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("invalid upload name %q", up.Name)
	}
	if err := os.MkdirAll(r.cfg.UploadDir, 0o755); err != nil {
		return "", fmt.Errorf("stage upload: %w", err)
	}

	// One directory per call so sessions uploading the same name do not collide.
	dir, err := os.MkdirTemp(r.cfg.UploadDir, "upload-")
	if err != nil {
		return "", fmt.Errorf("stage upload: %w", err)
	}
	g.Defer("temp file", func(context.Context) error {
		return os.RemoveAll(dir)
	})

	path := filepath.Join(dir, "temp_"+name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("stage upload: %w", err)
	}
	if _, err := io.Copy(f, up.Body); err != nil {
		f.Close()
		return "", fmt.Errorf("stage upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("stage upload: %w", err)
	}
	return path, nil
}

func (r *Runner) imagePath(sessionID string) string {
	return filepath.Join(r.cfg.ImageDir, sessionID, ImageFileName)
}
