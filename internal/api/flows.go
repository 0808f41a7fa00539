package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ashureev/agentdemo/internal/domain"
	"github.com/ashureev/agentdemo/internal/flow"
)

type promptRequest struct {
	Prompt string `json:"prompt"`
}

type flowResponse struct {
	Response string            `json:"response"`
	Code     string            `json:"code,omitempty"`
	ImageURL string            `json:"image_url,omitempty"`
	Status   string            `json:"status"`
	Outcome  domain.RunOutcome `json:"outcome"`
	RunID    int64             `json:"run_id,omitempty"`
}

// CodeInterpreter runs the prompt through a one-shot code execution agent.
func (h *Handler) CodeInterpreter(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, formOverhead)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		Error(w, http.StatusBadRequest, "prompt is required")
		return
	}

	h.runFlow(w, r, domain.FlowCodeInterpreter, prompt, "", func(ctx context.Context, s *domain.Session, rep flow.Reporter) (flow.Result, error) {
		return h.runner.CodeInterpreter(ctx, s, prompt, rep), nil
	})
}

// RAG answers a question about the uploaded document, reusing the session's
// cached agent while the same document is uploaded again.
func (h *Handler) RAG(w http.ResponseWriter, r *http.Request) {
	form, err := h.readUpload(w, r)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	defer form.Close()

	h.runFlow(w, r, domain.FlowRAG, form.prompt, form.upload.Name, func(ctx context.Context, s *domain.Session, rep flow.Reporter) (flow.Result, error) {
		if err := h.sessions.Invalidate(ctx, s, form.upload.Name); err != nil {
			return flow.Result{}, err
		}
		return h.runner.RAG(ctx, s, form.upload, form.prompt, rep), nil
	})
}

// Combined runs document search and code execution in one ephemeral agent.
func (h *Handler) Combined(w http.ResponseWriter, r *http.Request) {
	form, err := h.readUpload(w, r)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	defer form.Close()

	h.runFlow(w, r, domain.FlowRAGCodeInterpreter, form.prompt, form.upload.Name, func(ctx context.Context, s *domain.Session, rep flow.Reporter) (flow.Result, error) {
		return h.runner.Combined(ctx, s, form.upload, form.prompt, rep), nil
	})
}

// flowFunc runs one flow. An error means the flow could not start.
type flowFunc func(ctx context.Context, s *domain.Session, rep flow.Reporter) (flow.Result, error)

// runFlow reserves the session, runs fn and records the outcome.
func (h *Handler) runFlow(w http.ResponseWriter, r *http.Request, kind domain.FlowKind, prompt, fileName string, fn flowFunc) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	s, release, err := h.sessions.Acquire(id)
	if err != nil {
		acquireError(w, err)
		return
	}
	defer release()

	ctx := r.Context()
	started := h.now()
	res, err := fn(ctx, s, h.hub.Reporter(id))
	if err != nil {
		h.logger.Error("Flow could not start", "session_id", id, "flow", kind, "error", err)
		Error(w, http.StatusBadGateway, err.Error())
		return
	}

	rec := &domain.RunRecord{
		SessionID:  id,
		Flow:       kind,
		Prompt:     prompt,
		FileName:   fileName,
		Outcome:    res.Outcome,
		Response:   res.Text,
		Code:       res.Code,
		ImagePath:  res.ImagePath,
		StartedAt:  started,
		FinishedAt: h.now(),
	}
	if err := h.repo.RecordRun(context.WithoutCancel(ctx), rec); err != nil {
		h.logger.Error("Failed to record run", "session_id", id, "flow", kind, "error", err)
	}

	JSON(w, http.StatusOK, flowResponse{
		Response: res.Text,
		Code:     res.Code,
		ImageURL: imageURL(res.ImagePath, rec.FinishedAt.UnixMilli()),
		Status:   res.Status,
		Outcome:  res.Outcome,
		RunID:    rec.ID,
	})
}

// ClearOutputs forgets the last generated code and image.
func (h *Handler) ClearOutputs(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	s, release, err := h.sessions.Acquire(id)
	if err != nil {
		acquireError(w, err)
		return
	}
	defer release()

	s.ResetOutputs()
	JSON(w, http.StatusOK, s.Snapshot())
}

// ClearRAG deletes the cached agent and vector index and resets the session.
func (h *Handler) ClearRAG(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	s, release, err := h.sessions.Acquire(id)
	if err != nil {
		acquireError(w, err)
		return
	}
	defer release()

	if err := h.sessions.Clear(r.Context(), s); err != nil {
		h.logger.Error("Failed to delete cached resources", "session_id", id, "error", err)
		Error(w, http.StatusBadGateway, fmt.Sprintf("remote cleanup failed, try again: %v", err))
		return
	}
	JSON(w, http.StatusOK, s.Snapshot())
}

func imageURL(path string, version int64) string {
	if path == "" {
		return ""
	}
	return fmt.Sprintf("/api/image?v=%d", version)
}
