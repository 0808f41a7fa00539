package flow

import (
	"context"
	"path/filepath"

	"github.com/ashureev/agentdemo/internal/agentsvc"
	"github.com/ashureev/agentdemo/internal/domain"
)

const (
	combinedAgentName         = "rag-code-interpreter-agent"
	combinedAgentInstructions = "You are a helpful agent that can analyze documents and generate Python code based on the document content. " +
		"Use the file search to extract relevant information and then generate appropriate Python code for analysis when needed."
)

// Combined answers prompt with an agent that can both search the uploaded
// document and execute Python. Every resource it creates is released before it returns.
func (r *Runner) Combined(ctx context.Context, s *domain.Session, up Upload, prompt string, rep Reporter) Result {
	s.ResetOutputs()
	return r.execute(ctx, s, domain.FlowRAGCodeInterpreter, rep, func(ctx context.Context, p *progress) (string, error) {
		client, err := r.connect(ctx, p)
		if err != nil {
			return "", err
		}

		g := newGuard(r.logger, r.cfg.CleanupTimeout)
		defer g.Release(ctx)

		path, err := r.stage(up, g)
		if err != nil {
			return "", err
		}
		p.Report(30, "Saved uploaded file")

		file, err := client.UploadFileAndPoll(ctx, path, agentsvc.PurposeAgents)
		if err != nil {
			return "", err
		}
		r.logger.Info("uploaded file", "file_id", file.ID)
		p.Report(40, "Uploaded file to AI service")

		vs, err := client.CreateVectorStoreAndPoll(ctx, []string{file.ID}, "vectorstore_"+filepath.Base(up.Name))
		if err != nil {
			return "", err
		}
		g.Defer("vector store", func(ctx context.Context) error {
			return client.DeleteVectorStore(ctx, vs.ID)
		})
		r.logger.Info("created vector store", "vector_store_id", vs.ID)
		p.Report(50, "Created vector store for document search")

		tools := []agentsvc.Tool{
			agentsvc.CodeInterpreterTool{},
			agentsvc.FileSearchTool{VectorStoreIDs: []string{vs.ID}},
		}
		p.Report(60, "Added Code Interpreter and File Search tools")

		agent, err := r.createAgent(ctx, client, agentsvc.AgentRequest{
			Name:         combinedAgentName,
			Instructions: combinedAgentInstructions,
			Tools:        tools,
		})
		if err != nil {
			return "", err
		}
		g.Defer("agent", func(ctx context.Context) error {
			return client.DeleteAgent(ctx, agent.ID)
		})
		p.Report(70, "Created AI agent")

		thread, err := r.openThread(ctx, client, g)
		if err != nil {
			return "", err
		}
		if err := r.post(ctx, client, thread.ID, prompt); err != nil {
			return "", err
		}
		p.Report(80, "Sent request to agent")

		run, err := r.run(ctx, client, thread.ID, agent.ID)
		if run != nil {
			p.Report(85, "Processing your request...")
		}
		if err != nil {
			return "", err
		}

		text, err := r.collect(ctx, client, s, run, p, 90, 0)
		if err != nil {
			return "", err
		}

		if err := g.Close(ctx, "agent"); err != nil {
			return "", err
		}
		if err := g.Close(ctx, "vector store"); err != nil {
			return "", err
		}
		g.Release(ctx)
		p.Report(100, "Complete!")
		return text, nil
	})
}
