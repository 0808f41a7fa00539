package flow

import (
	"log/slog"

	"github.com/ashureev/agentdemo/internal/domain"
)

// Reporter observes flow progress. Percent runs from 0 to 100.
type Reporter interface {
	Report(percent int, message string)
}

// Finisher is implemented by reporters that want to know when a flow ended.
type Finisher interface {
	Done(res Result)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(percent int, message string)

func (f ReporterFunc) Report(percent int, message string) { f(percent, message) }

// Discard drops all progress.
var Discard Reporter = ReporterFunc(func(int, string) {})

type tee []Reporter

// Tee fans progress out to every non-nil reporter.
func Tee(reporters ...Reporter) Reporter {
	out := make(tee, 0, len(reporters))
	for _, r := range reporters {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (t tee) Report(percent int, message string) {
	for _, r := range t {
		r.Report(percent, message)
	}
}

func (t tee) Done(res Result) {
	for _, r := range t {
		if f, ok := r.(Finisher); ok {
			f.Done(res)
		}
	}
}

type logReporter struct {
	logger    *slog.Logger
	sessionID string
	kind      domain.FlowKind
}

// LogReporter writes every progress step as a debug log line.
func LogReporter(logger *slog.Logger, sessionID string, kind domain.FlowKind) Reporter {
	return &logReporter{logger: logger, sessionID: sessionID, kind: kind}
}

func (l *logReporter) Report(percent int, message string) {
	l.logger.Debug("flow progress", "session_id", l.sessionID, "flow", l.kind, "progress", percent, "status", message)
}

func (l *logReporter) Done(res Result) {
	l.logger.Info("flow finished", "session_id", l.sessionID, "flow", l.kind, "outcome", res.Outcome)
}
