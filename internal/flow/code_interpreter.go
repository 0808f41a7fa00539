package flow

import (
	"context"

	"github.com/ashureev/agentdemo/internal/agentsvc"
	"github.com/ashureev/agentdemo/internal/domain"
)

const (
	codeAgentName         = "code-interpreter-agent"
	codeAgentInstructions = "You are a helpful data analyst. You can use Python to perform required calculations."
)

// CodeInterpreter answers prompt with a throwaway agent that can execute Python.
// Generated code and image are recorded on s.
func (r *Runner) CodeInterpreter(ctx context.Context, s *domain.Session, prompt string, rep Reporter) Result {
	s.ResetOutputs()
	return r.execute(ctx, s, domain.FlowCodeInterpreter, rep, func(ctx context.Context, p *progress) (string, error) {
		client, err := r.connect(ctx, p)
		if err != nil {
			return "", err
		}

		g := newGuard(r.logger, r.cfg.CleanupTimeout)
		defer g.Release(ctx)

		tools := []agentsvc.Tool{agentsvc.CodeInterpreterTool{}}
		p.Report(30, "Added Code Interpreter tool")

		agent, err := r.createAgent(ctx, client, agentsvc.AgentRequest{
			Name:         codeAgentName,
			Instructions: codeAgentInstructions,
			Tools:        tools,
		})
		if err != nil {
			return "", err
		}
		g.Defer("agent", func(ctx context.Context) error {
			return client.DeleteAgent(ctx, agent.ID)
		})
		p.Report(40, "Created AI agent")

		thread, err := r.openThread(ctx, client, g)
		if err != nil {
			return "", err
		}
		p.Report(50, "Created conversation thread")

		if err := r.post(ctx, client, thread.ID, prompt); err != nil {
			return "", err
		}
		p.Report(60, "Sent message to agent")

		run, err := r.run(ctx, client, thread.ID, agent.ID)
		if run != nil {
			p.Report(70, "Processing your request...")
		}
		if err != nil {
			return "", err
		}

		text, err := r.collect(ctx, client, s, run, p, 80, 90)
		if err != nil {
			return "", err
		}

		if err := g.Close(ctx, "agent"); err != nil {
			return "", err
		}
		g.Release(ctx)
		p.Report(100, "Complete!")
		return text, nil
	})
}
