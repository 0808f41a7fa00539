package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/agentdemo/internal/agentsvc"
	"github.com/ashureev/agentdemo/internal/domain"
)

const (
	noResponse    = "No response from agent."
	imageNotice   = "[Image generated by the agent]"
	imageSavedLog = "downloaded image"
)

// latestMessage returns the most recently created message, or nil.
// Ties keep the later position in the listing.
func latestMessage(msgs []agentsvc.Message) *agentsvc.Message {
	var latest *agentsvc.Message
	for i := range msgs {
		if latest == nil || !msgs[i].CreatedAt.Before(latest.CreatedAt) {
			latest = &msgs[i]
		}
	}
	return latest
}

// renderAll concatenates every part of msg. Text parts are written verbatim,
// image parts become a notice and are downloaded to the session's image path.
func (r *Runner) renderAll(ctx context.Context, client agentsvc.Client, s *domain.Session, msg *agentsvc.Message) (string, error) {
	if msg == nil || len(msg.Content) == 0 {
		return noResponse, nil
	}

	var b strings.Builder
	for _, part := range msg.Content {
		switch p := part.(type) {
		case agentsvc.TextPart:
			b.WriteString(p.Value)
			b.WriteString("\n")
		case agentsvc.ImageFilePart:
			b.WriteString(imageNotice)
			b.WriteString("\n")
			path := r.imagePath(s.ID())
			if err := r.saveImage(ctx, client, p.FileID, path); err != nil {
				return "", err
			}
			r.logger.Info(imageSavedLog, "file_id", p.FileID, "path", path)
			s.SetImage(path)
		case agentsvc.UnknownPart:
			r.logger.Debug("skipping content part", "type", p.Type)
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// firstText returns the first text part of msg verbatim.
func firstText(msg *agentsvc.Message) string {
	if msg == nil {
		return noResponse
	}
	for _, part := range msg.Content {
		if t, ok := part.(agentsvc.TextPart); ok {
			return t.Value
		}
	}
	return noResponse
}

// lastCode returns the input of the last code interpreter call across all steps.
func lastCode(steps []agentsvc.RunStep) string {
	var code string
	for _, step := range steps {
		tc, ok := step.Details.(agentsvc.ToolCallsStep)
		if !ok {
			continue
		}
		for _, call := range tc.Calls {
			if ci, ok := call.(agentsvc.CodeInterpreterCall); ok && ci.Input != "" {
				code = ci.Input
			}
		}
	}
	return code
}

// saveImage downloads fileID, retrying while the service reports it is not ready yet.
func (r *Runner) saveImage(ctx context.Context, client agentsvc.Client, fileID, path string) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ImagePollTimeout)
	defer cancel()

	ticker := time.NewTicker(r.cfg.ImagePollInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		err := client.SaveFile(ctx, fileID, path)
		if err == nil {
			return nil
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: file %s after %d attempts", ErrImageTimeout, fileID, attempt)
		}
		if !errors.Is(err, agentsvc.ErrNotReady) {
			return err
		}
		r.logger.Debug("image not ready", "file_id", fileID, "attempt", attempt)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: file %s after %d attempts", ErrImageTimeout, fileID, attempt)
		case <-ticker.C:
		}
	}
}

// collect reads the latest reply and the generated code of a finished run.
func (r *Runner) collect(ctx context.Context, client agentsvc.Client, s *domain.Session, run *agentsvc.Run, p Reporter, gettingAt, processingAt int) (string, error) {
	p.Report(gettingAt, "Getting response from agent...")
	msgs, err := client.ListMessages(ctx, run.ThreadID)
	if err != nil {
		return "", err
	}
	text, err := r.renderAll(ctx, client, s, latestMessage(msgs))
	if err != nil {
		return "", err
	}
	if processingAt > 0 {
		p.Report(processingAt, "Processing response...")
	}

	steps, err := client.ListRunSteps(ctx, run.ThreadID, run.ID)
	if err != nil {
		return "", err
	}
	if code := lastCode(steps); code != "" {
		r.logger.Info("extracted code snippet", "run_id", run.ID)
		s.SetCode(code)
	}
	return text, nil
}
