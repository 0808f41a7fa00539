package api

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"strconv"

	"github.com/gabriel-vasile/mimetype"

	"github.com/ashureev/agentdemo/internal/flow"
)

const maxHistoryLimit = 200

// GetConfig returns the server capabilities for the frontend.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"configured":         h.cfg.Configured(),
		"missing":            h.cfg.Missing(),
		"model":              h.cfg.Foundry.Model,
		"allowed_extensions": AllowedExtensions,
		"max_upload_bytes":   h.cfg.MaxUploadBytes,
		"delete_threads":     h.cfg.Flow.DeleteThreads,
		"default_prompts": map[string]string{
			"code_interpreter": flow.DefaultCodeInterpreterPrompt,
			"rag":              flow.DefaultRAGPrompt,
			"combined":         flow.DefaultCombinedPrompt,
		},
	})
}

// GetSession returns the caller's session state.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, h.sessions.Get(id).Snapshot())
}

// GetImage serves the last image generated in the caller's session.
func (h *Handler) GetImage(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	path := h.sessions.Get(id).Snapshot().ImagePath
	if path == "" {
		Error(w, http.StatusNotFound, "no image")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			Error(w, http.StatusNotFound, "no image")
			return
		}
		h.logger.Error("Failed to open image", "session_id", id, "path", path, "error", err)
		Error(w, http.StatusInternalServerError, "failed to read image")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to read image")
		return
	}
	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to read image")
		return
	}
	if _, err := f.Seek(0, 0); err != nil {
		Error(w, http.StatusInternalServerError, "failed to read image")
		return
	}

	w.Header().Set("Content-Type", mtype.String())
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, flow.ImageFileName, info.ModTime(), f)
}

// GetHistory lists the caller's recent runs, newest first.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	runs, err := h.repo.ListRuns(r.Context(), id, limit)
	if err != nil {
		h.logger.Error("Failed to list runs", "session_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if runs == nil {
		JSON(w, http.StatusOK, []struct{}{})
		return
	}
	JSON(w, http.StatusOK, runs)
}
