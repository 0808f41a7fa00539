package flow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/agentdemo/internal/agentsvc"
	"github.com/ashureev/agentdemo/internal/domain"
)

type event struct {
	Percent int
	Message string
}

type recorder struct {
	mu     sync.Mutex
	events []event
	done   *Result
}

func (r *recorder) Report(percent int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{percent, message})
}

func (r *recorder) Done(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = &res
}

func (r *recorder) percents() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.events))
	for i, e := range r.events {
		out[i] = e.Percent
	}
	return out
}

type memRecovery struct {
	saved []domain.RecoveryRecord
	ids   []string
	err   error
}

func (m *memRecovery) Save(sessionID string, rec domain.RecoveryRecord) error {
	if m.err != nil {
		return m.err
	}
	m.ids = append(m.ids, sessionID)
	m.saved = append(m.saved, rec)
	return nil
}

func (m *memRecovery) last() domain.RecoveryRecord {
	if len(m.saved) == 0 {
		return domain.RecoveryRecord{}
	}
	return m.saved[len(m.saved)-1]
}

type harness struct {
	fake      *agentsvc.Fake
	runner    *Runner
	recovery  *memRecovery
	imageDir  string
	uploadDir string
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		fake:      agentsvc.NewFake(),
		recovery:  &memRecovery{},
		imageDir:  t.TempDir(),
		uploadDir: t.TempDir(),
	}
	cfg := Config{
		Dial:              h.fake.Dial(),
		Model:             "gpt-4o",
		ImageDir:          h.imageDir,
		UploadDir:         h.uploadDir,
		ImagePollTimeout:  time.Second,
		ImagePollInterval: time.Millisecond,
		CleanupTimeout:    time.Second,
		Recovery:          h.recovery,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	h.runner = New(cfg)
	return h
}

func upload(name, body string) Upload {
	return Upload{Name: name, Body: strings.NewReader(body)}
}

func (h *harness) assertNoTempFiles(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staged uploads left on disk")
}

func textImageText() []agentsvc.ContentPart {
	return []agentsvc.ContentPart{
		agentsvc.TextPart{Value: "A"},
		agentsvc.ImageFilePart{FileID: "file_img"},
		agentsvc.TextPart{Value: "B"},
	}
}

func codeSteps(inputs ...string) []agentsvc.RunStep {
	steps := []agentsvc.RunStep{{ID: "step_0", Details: agentsvc.MessageCreationStep{MessageID: "msg"}}}
	for i, in := range inputs {
		steps = append(steps, agentsvc.RunStep{
			ID: "step_" + string(rune('a'+i)),
			Details: agentsvc.ToolCallsStep{Calls: []agentsvc.ToolCall{
				agentsvc.FileSearchCall{ID: "fs"},
				agentsvc.CodeInterpreterCall{ID: "ci", Input: in},
			}},
		})
	}
	return steps
}

func TestCodeInterpreter_Success(t *testing.T) {
	h := newHarness(t)
	h.fake.Reply = textImageText()
	h.fake.Steps = codeSteps("print(1)", "print(2)")
	s := domain.NewSession("s1")
	rec := &recorder{}

	res := h.runner.CodeInterpreter(context.Background(), s, "plot it", rec)

	assert.Equal(t, "A\n[Image generated by the agent]\nB", res.Text)
	assert.Equal(t, domain.OutcomeSucceeded, res.Outcome)
	assert.Equal(t, "print(2)", res.Code)
	assert.Equal(t, filepath.Join(h.imageDir, "s1", ImageFileName), res.ImagePath)
	assert.FileExists(t, res.ImagePath)
	assert.Equal(t, 0, h.fake.LiveAgents(), "agent must be deleted")
	assert.Equal(t, []int{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}, rec.percents())
	require.NotNil(t, rec.done)
	assert.Equal(t, res, *rec.done)

	st := s.Snapshot()
	assert.Equal(t, 100, st.Progress)
	assert.Equal(t, "Complete!", st.Status)
	assert.Equal(t, "print(2)", st.Code)
}

func TestCodeInterpreter_RunFailureDeletesAgent(t *testing.T) {
	h := newHarness(t)
	h.fake.RunStatus = agentsvc.RunFailed
	h.fake.RunError = &agentsvc.RunError{Message: "rate limit exceeded"}
	s := domain.NewSession("s1")

	res := h.runner.CodeInterpreter(context.Background(), s, "hi", nil)

	assert.Equal(t, "Run failed: rate limit exceeded", res.Text)
	assert.Equal(t, domain.OutcomeRunFailed, res.Outcome)
	assert.Equal(t, 0, h.fake.LiveAgents())
	assert.Zero(t, h.fake.CallCount("ListMessages"))
}

func TestCodeInterpreter_RemoteErrorBecomesText(t *testing.T) {
	h := newHarness(t)
	h.fake.Fail("CreateThread")
	s := domain.NewSession("s1")

	res := h.runner.CodeInterpreter(context.Background(), s, "hi", nil)

	assert.True(t, strings.HasPrefix(res.Text, "An error occurred: "), res.Text)
	assert.Equal(t, domain.OutcomeError, res.Outcome)
	assert.Equal(t, 0, h.fake.LiveAgents(), "agent created before the failure must be deleted")
}

func TestCodeInterpreter_WaitsForImage(t *testing.T) {
	h := newHarness(t)
	h.fake.Reply = textImageText()
	h.fake.ImageReadyAfter = 2
	s := domain.NewSession("s1")

	res := h.runner.CodeInterpreter(context.Background(), s, "plot", nil)

	assert.Equal(t, domain.OutcomeSucceeded, res.Outcome, res.Text)
	assert.Equal(t, 3, h.fake.CallCount("SaveFile"))
	assert.FileExists(t, res.ImagePath)
}

func TestCodeInterpreter_ImageTimeout(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.ImagePollTimeout = 20 * time.Millisecond })
	h.fake.Reply = textImageText()
	h.fake.ImageReadyAfter = 1 << 20
	s := domain.NewSession("s1")

	res := h.runner.CodeInterpreter(context.Background(), s, "plot", nil)

	assert.Equal(t, domain.OutcomeError, res.Outcome)
	assert.Contains(t, res.Text, ErrImageTimeout.Error())
	assert.Equal(t, 0, h.fake.LiveAgents())
}

func TestCodeInterpreter_EmptyReply(t *testing.T) {
	h := newHarness(t)
	h.fake.Reply = []agentsvc.ContentPart{}
	s := domain.NewSession("s1")

	// The latest message is the user's prompt when the agent wrote nothing.
	res := h.runner.CodeInterpreter(context.Background(), s, "hello", nil)
	assert.Equal(t, "hello", res.Text)

	assert.Equal(t, noResponse, firstText(nil))
	text, err := h.runner.renderAll(context.Background(), h.fake, s, &agentsvc.Message{})
	require.NoError(t, err)
	assert.Equal(t, noResponse, text)
}

func TestCodeInterpreter_MissingModel(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Model = "" })
	res := h.runner.CodeInterpreter(context.Background(), domain.NewSession("s1"), "hi", nil)

	assert.Equal(t, "An error occurred: "+ErrNoModel.Error(), res.Text)
	assert.Zero(t, h.fake.CallCount("Dial"))
}

func TestThreads_RetainedByDefault(t *testing.T) {
	h := newHarness(t)
	h.runner.CodeInterpreter(context.Background(), domain.NewSession("s1"), "hi", nil)
	assert.Equal(t, 1, h.fake.LiveThreads())
	assert.Zero(t, h.fake.CallCount("DeleteThread"))
}

func TestThreads_DeletedWhenConfigured(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.DeleteThreads = true })
	h.fake.RunStatus = agentsvc.RunExpired

	h.runner.CodeInterpreter(context.Background(), domain.NewSession("s1"), "hi", nil)
	h.runner.Combined(context.Background(), domain.NewSession("s2"), upload("a.txt", "x"), "hi", nil)

	assert.Equal(t, 0, h.fake.LiveThreads())
}

func TestRAG_FirstCallCachesAgentAndIndex(t *testing.T) {
	h := newHarness(t)
	h.fake.Reply = []agentsvc.ContentPart{
		agentsvc.TextPart{Value: "  first part  "},
		agentsvc.ImageFilePart{FileID: "img"},
		agentsvc.TextPart{Value: "second"},
	}
	s := domain.NewSession("s1")
	rec := &recorder{}

	res := h.runner.RAG(context.Background(), s, upload("notes.md", "# notes"), "key points?", rec)

	assert.Equal(t, "  first part  ", res.Text, "retrieval returns only the first text part verbatim")
	assert.Equal(t, domain.OutcomeSucceeded, res.Outcome)
	assert.Equal(t, 1, h.fake.LiveAgents())
	assert.Equal(t, 1, h.fake.LiveVectorStores())
	assert.True(t, s.HasCachedAgent())
	assert.True(t, s.HasCachedIndex())
	assert.Equal(t, "notes.md", s.LastFile())
	assert.Zero(t, h.fake.CallCount("SaveFile"))
	assert.Equal(t, []int{10, 20, 30, 40, 50, 60, 70, 80, 85, 90, 95, 100}, rec.percents())
	h.assertNoTempFiles(t)

	require.Len(t, h.recovery.saved, 2, "recorded once the index exists and again with the agent")
	assert.Empty(t, h.recovery.saved[0].AgentID())
	assert.Equal(t, s.VectorStoreID(), h.recovery.saved[0].IndexID())
	assert.Equal(t, []string{"s1", "s1"}, h.recovery.ids)
	saved := h.recovery.last()
	assert.Equal(t, s.AgentID(), saved.AgentID())
	assert.Equal(t, s.VectorStoreID(), saved.IndexID())
	assert.Equal(t, "notes.md", saved.LastFile)

	agentReq := h.fake.Agents[s.AgentID()]
	assert.Equal(t, ragAgentName, agentReq.Name)
	assert.Equal(t, []agentsvc.Tool{agentsvc.FileSearchTool{VectorStoreIDs: []string{s.VectorStoreID()}}}, agentReq.Tools)
}

func TestRAG_ReusesCachedAgent(t *testing.T) {
	h := newHarness(t)
	h.fake.Reply = []agentsvc.ContentPart{agentsvc.TextPart{Value: "answer"}}
	s := domain.NewSession("s1")

	h.runner.RAG(context.Background(), s, upload("notes.md", "x"), "q1", nil)
	agentID := s.AgentID()
	res := h.runner.RAG(context.Background(), s, upload("notes.md", "x"), "q2", nil)

	assert.Equal(t, "answer", res.Text)
	assert.Equal(t, agentID, s.AgentID())
	assert.Equal(t, 1, h.fake.CallCount("UploadFileAndPoll"))
	assert.Equal(t, 1, h.fake.CallCount("CreateVectorStoreAndPoll"))
	assert.Equal(t, 1, h.fake.CallCount("CreateAgent"))
	assert.Equal(t, 2, h.fake.CallCount("CreateAndProcessRun"))
	h.assertNoTempFiles(t)
}

func TestRAG_ReusesCachedIndex(t *testing.T) {
	h := newHarness(t)
	s := domain.NewSession("s1")
	s.CacheIndex("vs_existing")
	h.fake.VectorStores["vs_existing"] = nil

	h.runner.RAG(context.Background(), s, upload("notes.md", "x"), "q", nil)

	assert.Zero(t, h.fake.CallCount("CreateVectorStoreAndPoll"))
	assert.Equal(t, "vs_existing", s.VectorStoreID())
	assert.True(t, s.HasCachedAgent())
}

func TestRAG_RunFailureKeepsCacheAndRemovesTemp(t *testing.T) {
	h := newHarness(t)
	h.fake.RunStatus = agentsvc.RunFailed
	h.fake.RunError = &agentsvc.RunError{Code: "server_error", Message: "boom"}
	s := domain.NewSession("s1")

	res := h.runner.RAG(context.Background(), s, upload("notes.md", "x"), "q", nil)

	assert.Equal(t, "Run failed: server_error: boom", res.Text)
	assert.True(t, s.HasCachedAgent())
	assert.Equal(t, s.AgentID(), h.recovery.last().AgentID(), "cached agent is recorded before the run")
	assert.Equal(t, s.VectorStoreID(), h.recovery.last().IndexID())
	h.assertNoTempFiles(t)
}

func TestRAG_UploadErrorRemovesTemp(t *testing.T) {
	h := newHarness(t)
	h.fake.Fail("UploadFileAndPoll")
	s := domain.NewSession("s1")

	res := h.runner.RAG(context.Background(), s, upload("notes.md", "x"), "q", nil)

	assert.Equal(t, domain.OutcomeError, res.Outcome)
	assert.False(t, s.HasCachedAgent())
	h.assertNoTempFiles(t)
}

func TestRAG_RecoverySaveFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.recovery.err = errors.New("disk full")
	h.fake.Reply = []agentsvc.ContentPart{agentsvc.TextPart{Value: "ok"}}

	res := h.runner.RAG(context.Background(), domain.NewSession("s1"), upload("a.txt", "x"), "q", nil)
	assert.Equal(t, "ok", res.Text)
}

func TestCombined_SuccessReleasesEverything(t *testing.T) {
	h := newHarness(t)
	h.fake.Reply = textImageText()
	h.fake.Steps = codeSteps("df.describe()")
	s := domain.NewSession("s1")
	rec := &recorder{}

	res := h.runner.Combined(context.Background(), s, upload("data.json", "{}"), "analyze", rec)

	assert.Equal(t, "A\n[Image generated by the agent]\nB", res.Text)
	assert.Equal(t, "df.describe()", res.Code)
	assert.Equal(t, 0, h.fake.LiveAgents())
	assert.Equal(t, 0, h.fake.LiveVectorStores())
	assert.False(t, s.HasCachedAgent(), "combined flow never caches")
	assert.Equal(t, []int{10, 20, 30, 40, 50, 60, 70, 80, 85, 90, 100}, rec.percents())
	h.assertNoTempFiles(t)
}

func TestCombined_RunFailureReleasesEverything(t *testing.T) {
	h := newHarness(t)
	h.fake.RunStatus = agentsvc.RunCancelled
	s := domain.NewSession("s1")

	res := h.runner.Combined(context.Background(), s, upload("data.json", "{}"), "analyze", nil)

	assert.Equal(t, domain.OutcomeRunFailed, res.Outcome)
	assert.Equal(t, "Run failed: run cancelled", res.Text)
	assert.Equal(t, 0, h.fake.LiveAgents())
	assert.Equal(t, 0, h.fake.LiveVectorStores())
	h.assertNoTempFiles(t)
}

func TestCombined_AgentErrorReleasesIndex(t *testing.T) {
	h := newHarness(t)
	h.fake.Fail("CreateAgent")

	res := h.runner.Combined(context.Background(), domain.NewSession("s1"), upload("data.json", "{}"), "analyze", nil)

	assert.Equal(t, domain.OutcomeError, res.Outcome)
	assert.Equal(t, 0, h.fake.LiveVectorStores())
	assert.Equal(t, 1, h.fake.CallCount("DeleteVectorStore"))
	h.assertNoTempFiles(t)
}

func TestCombined_CancelledContextStillCleansUp(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.fake.Fail("CreateAndProcessRun")
	cancel()

	res := h.runner.Combined(ctx, domain.NewSession("s1"), upload("data.json", "{}"), "analyze", nil)

	assert.Equal(t, domain.OutcomeError, res.Outcome)
	assert.Equal(t, 0, h.fake.LiveAgents())
	assert.Equal(t, 0, h.fake.LiveVectorStores())
}

func TestStage_RejectsBadName(t *testing.T) {
	h := newHarness(t)
	res := h.runner.Combined(context.Background(), domain.NewSession("s1"), upload("", "x"), "q", nil)
	assert.Equal(t, domain.OutcomeError, res.Outcome)
	assert.Zero(t, h.fake.CallCount("UploadFileAndPoll"))
}

func TestLatestMessage(t *testing.T) {
	base := time.Unix(100, 0)
	msgs := []agentsvc.Message{
		{ID: "b", CreatedAt: base.Add(2 * time.Second)},
		{ID: "a", CreatedAt: base},
		{ID: "c", CreatedAt: base.Add(time.Second)},
	}
	assert.Equal(t, "b", latestMessage(msgs).ID)
	assert.Nil(t, latestMessage(nil))
}

func TestLastCode_IgnoresEmptyInput(t *testing.T) {
	steps := codeSteps("first", "")
	assert.Equal(t, "first", lastCode(steps))
	assert.Equal(t, "", lastCode(nil))
}
