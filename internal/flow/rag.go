package flow

import (
	"context"
	"path/filepath"

	"github.com/ashureev/agentdemo/internal/agentsvc"
	"github.com/ashureev/agentdemo/internal/domain"
)

const (
	ragAgentName         = "rag-agent"
	ragAgentInstructions = "You are a helpful agent which provides answer ONLY from the search."
)

// RAG answers prompt from the uploaded document.
//
// The agent and vector index are cached on s and reused by later turns; they are
// released by the caller (cache invalidation or Clear), not by this flow. The
// answer is the first text part of the reply, unlike the other flows which
// render every part.
func (r *Runner) RAG(ctx context.Context, s *domain.Session, up Upload, prompt string, rep Reporter) Result {
	s.SetImage("")
	s.Report(0, "")
	return r.execute(ctx, s, domain.FlowRAG, rep, func(ctx context.Context, p *progress) (string, error) {
		client, err := r.connect(ctx, p)
		if err != nil {
			return "", err
		}

		g := newGuard(r.logger, r.cfg.CleanupTimeout)
		defer g.Release(ctx)

		if s.HasCachedAgent() {
			r.logger.Info("reusing cached agent", "agent_id", s.AgentID(), "session_id", s.ID())
		} else if err := r.buildRetrieval(ctx, client, s, up, g, p); err != nil {
			return "", err
		}
		p.Report(70, "Created AI agent")

		thread, err := r.openThread(ctx, client, g)
		if err != nil {
			return "", err
		}
		if err := r.post(ctx, client, thread.ID, prompt); err != nil {
			return "", err
		}
		p.Report(80, "Sent question to agent")

		run, err := r.run(ctx, client, thread.ID, s.AgentID())
		if run != nil {
			p.Report(85, "Processing your question...")
		}
		if err != nil {
			return "", err
		}

		p.Report(90, "Getting response from agent...")
		msgs, err := client.ListMessages(ctx, thread.ID)
		if err != nil {
			return "", err
		}
		text := firstText(latestMessage(msgs))
		p.Report(95, "Processing response...")

		g.Release(ctx)
		p.Report(100, "Complete!")
		return text, nil
	})
}

// buildRetrieval uploads the document, reuses or creates the vector index and
// creates the retrieval agent, caching both identifiers on s.
func (r *Runner) buildRetrieval(ctx context.Context, client agentsvc.Client, s *domain.Session, up Upload, g *guard, p Reporter) error {
	path, err := r.stage(up, g)
	if err != nil {
		return err
	}
	p.Report(30, "Saved uploaded file")

	file, err := client.UploadFileAndPoll(ctx, path, agentsvc.PurposeAgents)
	if err != nil {
		return err
	}
	r.logger.Info("uploaded file", "file_id", file.ID)
	p.Report(40, "Uploaded file to AI service")

	name := filepath.Base(up.Name)
	s.SetLastFile(name)
	if !s.HasCachedIndex() {
		vs, err := client.CreateVectorStoreAndPoll(ctx, []string{file.ID}, "vectorstore_"+name)
		if err != nil {
			return err
		}
		r.logger.Info("created vector store", "vector_store_id", vs.ID)
		s.CacheIndex(vs.ID)
		r.persist(s)
	}
	p.Report(50, "Created vector store for document search")

	search := agentsvc.FileSearchTool{VectorStoreIDs: []string{s.VectorStoreID()}}
	p.Report(60, "Initialized document search tool")

	agent, err := r.createAgent(ctx, client, agentsvc.AgentRequest{
		Name:         ragAgentName,
		Instructions: ragAgentInstructions,
		Tools:        []agentsvc.Tool{search},
	})
	if err != nil {
		return err
	}
	s.CacheAgent(agent.ID)
	r.persist(s)
	return nil
}

// persist records the session's cached identifiers as soon as they exist, so a
// crash at any later point leaves them reclaimable.
func (r *Runner) persist(s *domain.Session) {
	if r.cfg.Recovery == nil {
		return
	}
	if err := r.cfg.Recovery.Save(s.ID(), domain.RecoveryFromSession(s)); err != nil {
		r.logger.Warn("failed to save recovery record", "session_id", s.ID(), "error", err)
	}
}
