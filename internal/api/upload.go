package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/ashureev/agentdemo/internal/flow"
)

// AllowedExtensions lists the document types accepted by the retrieval flows.
var AllowedExtensions = []string{
	"doc", "docx", "go", "html", "java", "js", "json", "md", "pdf",
	"php", "pptx", "py", "rb", "sh", "tex", "ts", "txt",
}

// multipart bodies carry the prompt and part headers on top of the file.
const formOverhead = 1 << 20

type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

func writeRequestError(w http.ResponseWriter, err error) {
	var re *requestError
	if errors.As(err, &re) {
		Error(w, re.status, re.msg)
		return
	}
	Error(w, http.StatusBadRequest, err.Error())
}

func allowedExtension(name string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	return ext != "" && slices.Contains(AllowedExtensions, ext)
}

// uploadForm is a parsed document upload. Close releases the multipart file.
type uploadForm struct {
	upload flow.Upload
	prompt string
	file   multipart.File
	form   *multipart.Form
}

func (u *uploadForm) Close() error {
	var err error
	if u.file != nil {
		err = u.file.Close()
	}
	if u.form != nil {
		err = errors.Join(err, u.form.RemoveAll())
	}
	return err
}

// readUpload parses a multipart request with a "file" part and a "prompt" field.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (*uploadForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes+formOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &requestError{status: http.StatusRequestEntityTooLarge, msg: "file too large"}
		}
		return nil, badRequest("invalid multipart form: %v", err)
	}

	prompt := strings.TrimSpace(r.FormValue("prompt"))
	if prompt == "" {
		return nil, badRequest("prompt is required")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, badRequest("file is required")
	}
	form := &uploadForm{prompt: prompt, file: file, form: r.MultipartForm}

	name := filepath.Base(header.Filename)
	switch {
	case !allowedExtension(name):
		form.Close()
		return nil, &requestError{status: http.StatusUnsupportedMediaType, msg: fmt.Sprintf("unsupported file type %q", filepath.Ext(name))}
	case header.Size == 0:
		form.Close()
		return nil, badRequest("file is empty")
	case header.Size > h.cfg.MaxUploadBytes:
		form.Close()
		return nil, &requestError{status: http.StatusRequestEntityTooLarge, msg: "file too large"}
	}

	mtype, err := mimetype.DetectReader(file)
	if err != nil {
		form.Close()
		return nil, badRequest("read file: %v", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		form.Close()
		return nil, badRequest("read file: %v", err)
	}
	h.logger.Info("Document uploaded", "file", name, "size", header.Size, "mime", mtype.String())

	form.upload = flow.Upload{Name: name, Body: file}
	return form, nil
}
