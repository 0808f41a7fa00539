package agentsvc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Fake is an in-memory Client for tests. The zero value is not usable; use NewFake.
type Fake struct {
	mu sync.Mutex

	seq   int
	clock time.Time

	Agents       map[string]AgentRequest
	Threads      map[string]bool
	VectorStores map[string][]string
	Files        map[string]string
	messages     map[string][]Message

	// RunStatus is the terminal status of the next runs.
	RunStatus RunStatus
	// RunError is attached to failed runs.
	RunError *RunError
	// Reply is appended to the thread as the agent's answer on every run.
	Reply []ContentPart
	// Steps is returned by ListRunSteps for every run.
	Steps []RunStep
	// ImageReadyAfter makes SaveFile return ErrNotReady for the first N calls.
	ImageReadyAfter int
	// ImageContent is written by SaveFile.
	ImageContent []byte

	// Errors injected per method name, e.g. "CreateAgent".
	Errors map[string]error

	Calls     []string
	saveCalls int
}

// NewFake returns an empty fake whose runs complete successfully.
func NewFake() *Fake {
	return &Fake{
		clock:        time.Unix(1_700_000_000, 0),
		Agents:       make(map[string]AgentRequest),
		Threads:      make(map[string]bool),
		VectorStores: make(map[string][]string),
		Files:        make(map[string]string),
		messages:     make(map[string][]Message),
		RunStatus:    RunCompleted,
		ImageContent: []byte("\x89PNG\r\n\x1a\n"),
		Errors:       make(map[string]error),
	}
}

// Dial returns a DialFunc that always yields f.
func (f *Fake) Dial() DialFunc {
	return func(context.Context) (Client, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.Calls = append(f.Calls, "Dial")
		if err := f.Errors["Dial"]; err != nil {
			return nil, err
		}
		return f, nil
	}
}

// CallCount reports how many times name was called.
func (f *Fake) CallCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c == name {
			n++
		}
	}
	return n
}

// LiveAgents returns the number of agents not yet deleted.
func (f *Fake) LiveAgents() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Agents)
}

// LiveVectorStores returns the number of vector stores not yet deleted.
func (f *Fake) LiveVectorStores() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.VectorStores)
}

// LiveThreads returns the number of threads not yet deleted.
func (f *Fake) LiveThreads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Threads)
}

func (f *Fake) enter(name string) error {
	f.Calls = append(f.Calls, name)
	return f.Errors[name]
}

func (f *Fake) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%03d", prefix, f.seq)
}

func (f *Fake) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *Fake) CreateAgent(_ context.Context, req AgentRequest) (*Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateAgent"); err != nil {
		return nil, err
	}
	for _, t := range req.Tools {
		if fs, ok := t.(FileSearchTool); ok {
			for _, id := range fs.VectorStoreIDs {
				if _, live := f.VectorStores[id]; !live {
					return nil, fmt.Errorf("create agent: vector store %s: %w", id, ErrNotReady)
				}
			}
		}
	}
	id := f.nextID("asst")
	f.Agents[id] = req
	return &Agent{ID: id, Name: req.Name, Model: req.Model}, nil
}

func (f *Fake) DeleteAgent(ctx context.Context, agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteAgent"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := f.Agents[agentID]; !ok {
		return fmt.Errorf("delete agent %s: %w", agentID, ErrNotReady)
	}
	delete(f.Agents, agentID)
	return nil
}

func (f *Fake) CreateThread(context.Context) (*Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateThread"); err != nil {
		return nil, err
	}
	id := f.nextID("thread")
	f.Threads[id] = true
	return &Thread{ID: id}, nil
}

func (f *Fake) DeleteThread(_ context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteThread"); err != nil {
		return err
	}
	delete(f.Threads, threadID)
	delete(f.messages, threadID)
	return nil
}

func (f *Fake) CreateMessage(_ context.Context, threadID string, role Role, content string) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateMessage"); err != nil {
		return nil, err
	}
	if !f.Threads[threadID] {
		return nil, fmt.Errorf("create message: thread %s: %w", threadID, ErrNotReady)
	}
	msg := Message{
		ID:        f.nextID("msg"),
		ThreadID:  threadID,
		Role:      role,
		CreatedAt: f.tick(),
		Content:   []ContentPart{TextPart{Value: content}},
	}
	f.messages[threadID] = append(f.messages[threadID], msg)
	return &msg, nil
}

// ListMessages returns the thread's messages newest first, the service default.
func (f *Fake) ListMessages(_ context.Context, threadID string) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListMessages"); err != nil {
		return nil, err
	}
	out := append([]Message(nil), f.messages[threadID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *Fake) CreateAndProcessRun(_ context.Context, threadID, agentID string) (*Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateAndProcessRun"); err != nil {
		return nil, err
	}
	if !f.Threads[threadID] {
		return nil, fmt.Errorf("create run: thread %s: %w", threadID, ErrNotReady)
	}
	if _, ok := f.Agents[agentID]; !ok {
		return nil, fmt.Errorf("create run: agent %s: %w", agentID, ErrNotReady)
	}

	run := &Run{ID: f.nextID("run"), ThreadID: threadID, AgentID: agentID, Status: f.RunStatus}
	if f.RunStatus.Failed() {
		run.LastError = f.RunError
		return run, nil
	}
	if len(f.Reply) > 0 {
		f.messages[threadID] = append(f.messages[threadID], Message{
			ID:        f.nextID("msg"),
			ThreadID:  threadID,
			Role:      RoleAssistant,
			CreatedAt: f.tick(),
			Content:   append([]ContentPart(nil), f.Reply...),
		})
	}
	return run, nil
}

func (f *Fake) ListRunSteps(_ context.Context, _, runID string) ([]RunStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListRunSteps"); err != nil {
		return nil, err
	}
	out := make([]RunStep, len(f.Steps))
	for i, s := range f.Steps {
		s.RunID = runID
		out[i] = s
	}
	return out, nil
}

func (f *Fake) UploadFileAndPoll(_ context.Context, path string, _ FilePurpose) (*File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UploadFileAndPoll"); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("upload file: %w", err)
	}
	id := f.nextID("file")
	f.Files[id] = filepath.Base(path)
	return &File{ID: id, FileName: filepath.Base(path), Status: "processed"}, nil
}

func (f *Fake) CreateVectorStoreAndPoll(_ context.Context, fileIDs []string, name string) (*VectorStore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateVectorStoreAndPoll"); err != nil {
		return nil, err
	}
	id := f.nextID("vs")
	f.VectorStores[id] = append([]string(nil), fileIDs...)
	return &VectorStore{ID: id, Name: name, Status: "completed"}, nil
}

func (f *Fake) DeleteVectorStore(ctx context.Context, vectorStoreID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteVectorStore"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := f.VectorStores[vectorStoreID]; !ok {
		return fmt.Errorf("delete vector store %s: %w", vectorStoreID, ErrNotReady)
	}
	delete(f.VectorStores, vectorStoreID)
	return nil
}

func (f *Fake) SaveFile(_ context.Context, fileID, localPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("SaveFile"); err != nil {
		return err
	}
	f.saveCalls++
	if f.saveCalls <= f.ImageReadyAfter {
		return fmt.Errorf("file %s: %w", fileID, ErrNotReady)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(localPath, f.ImageContent, 0o644)
}

var _ Client = (*Fake)(nil)
var _ Client = (*Service)(nil)

// errFake is a generic injected failure.
var errFake = errors.New("injected failure")

// Fail makes the named method return an injected error.
func (f *Fake) Fail(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[method] = fmt.Errorf("%s: %w", method, errFake)
}
