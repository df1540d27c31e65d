package analyst

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// newTestManager builds a manager over a scripted provider and a temp
// upload dir.
func newTestManager(t *testing.T, p Provider) *Manager {
	t.Helper()
	mgr := NewManager(Deps{
		Provider: p,
		Tools:    NewToolRegistry(),
	}, ManagerConfig{
		MaxIterations:   5,
		EventBufferSize: 256,
		UploadDir:       t.TempDir(),
		RetentionTTL:    time.Hour,
	})
	t.Cleanup(mgr.Close)
	return mgr
}

// writeTestCSV writes a small dataset and returns its path.
func writeTestCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, []byte("a,b\n1,2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// waitTerminal blocks until the session's stream closes and returns its
// events.
func waitTerminal(t *testing.T, mgr *Manager, id string) []Event {
	t.Helper()
	sub, err := mgr.Subscribe(id)
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan []Event, 1)
	go func() { done <- drainEvents(sub) }()
	select {
	case events := <-done:
		return events
	case <-time.After(10 * time.Second):
		t.Fatal("session did not terminate")
		return nil
	}
}

func TestManagerStartValidation(t *testing.T) {
	mgr := newTestManager(t, &scriptedProvider{turns: []turn{textTurn("# R")}})
	csv := writeTestCSV(t)

	var invalid *ErrInvalidInput
	if _, err := mgr.Start(StartRequest{DatasetPath: csv, DatasetName: "data.csv", Request: "  "}); !errors.As(err, &invalid) {
		t.Fatalf("empty request: %v", err)
	}

	var unsupported *ErrUnsupportedFormat
	if _, err := mgr.Start(StartRequest{DatasetPath: csv, DatasetName: "data.parquet", Request: "go"}); !errors.As(err, &unsupported) {
		t.Fatalf("parquet: %v", err)
	}

	if _, err := mgr.Start(StartRequest{DatasetPath: filepath.Join(t.TempDir(), "missing.csv"), DatasetName: "missing.csv", Request: "go"}); !errors.As(err, &invalid) {
		t.Fatalf("missing file: %v", err)
	}

	if _, err := mgr.Start(StartRequest{DatasetPath: csv, DatasetName: "data.csv", Request: "go", Strategy: "nope"}); !errors.As(err, &invalid) {
		t.Fatalf("bad strategy: %v", err)
	}
}

func TestManagerHappyPathFetch(t *testing.T) {
	mgr := newTestManager(t, &scriptedProvider{turns: []turn{textTurn("# Report\nDone.")}})
	id, err := mgr.Start(StartRequest{DatasetPath: writeTestCSV(t), DatasetName: "data.csv", Request: "summarize"})
	if err != nil {
		t.Fatal(err)
	}

	events := waitTerminal(t, mgr, id)
	if events[len(events)-1].Type != EventAgentCompleted {
		t.Fatalf("terminal = %s", events[len(events)-1].Type)
	}

	res, err := mgr.Fetch(id)
	if err != nil {
		t.Fatal(err)
	}
	if res.Report != "# Report\nDone." {
		t.Fatalf("report = %q", res.Report)
	}
	if res.Snapshot.Phase != PhaseCompleted {
		t.Fatalf("phase = %s", res.Snapshot.Phase)
	}
}

func TestManagerFetchBeforeTerminal(t *testing.T) {
	// A provider that blocks until released keeps the session running.
	release := make(chan struct{})
	blocking := &blockingProvider{release: release, started: make(chan struct{})}
	mgr := newTestManager(t, blocking)

	id, err := mgr.Start(StartRequest{DatasetPath: writeTestCSV(t), DatasetName: "data.csv", Request: "summarize"})
	if err != nil {
		t.Fatal(err)
	}

	<-blocking.started
	var notReady *ErrSessionNotReady
	if _, err := mgr.Fetch(id); !errors.As(err, &notReady) {
		t.Fatalf("fetch before terminal: %v", err)
	}
	close(release)
	waitTerminal(t, mgr, id)

	if _, err := mgr.Fetch(id); err != nil {
		t.Fatalf("fetch after terminal: %v", err)
	}
}

func TestManagerUnknownSession(t *testing.T) {
	mgr := newTestManager(t, &scriptedProvider{turns: []turn{textTurn("x")}})
	var unknown *ErrUnknownSession
	if err := mgr.Stop("nope"); !errors.As(err, &unknown) {
		t.Fatalf("stop: %v", err)
	}
	if _, err := mgr.Subscribe("nope"); !errors.As(err, &unknown) {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := mgr.Fetch("nope"); !errors.As(err, &unknown) {
		t.Fatalf("fetch: %v", err)
	}
}

func TestManagerStopProducesSingleTerminal(t *testing.T) {
	release := make(chan struct{})
	blocking := &blockingProvider{release: release, started: make(chan struct{})}
	mgr := newTestManager(t, blocking)

	id, err := mgr.Start(StartRequest{DatasetPath: writeTestCSV(t), DatasetName: "data.csv", Request: "summarize"})
	if err != nil {
		t.Fatal(err)
	}
	<-blocking.started
	if err := mgr.Stop(id); err != nil {
		t.Fatal(err)
	}
	close(release)

	events := waitTerminal(t, mgr, id)
	terminals := 0
	for _, e := range events {
		if e.Type.IsTerminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Fatalf("terminal events = %d, want exactly 1 (%v)", terminals, eventTypes(events))
	}
	if events[len(events)-1].Type != EventAgentStopped {
		t.Fatalf("terminal = %s, want agent_stopped", events[len(events)-1].Type)
	}
}

func TestManagerProviderFailureIsAgentError(t *testing.T) {
	mgr := newTestManager(t, &scriptedProvider{turns: []turn{{err: &ErrLLM{Provider: "scripted", Message: "boom"}}}})
	id, err := mgr.Start(StartRequest{DatasetPath: writeTestCSV(t), DatasetName: "data.csv", Request: "summarize"})
	if err != nil {
		t.Fatal(err)
	}
	events := waitTerminal(t, mgr, id)
	last := events[len(events)-1]
	if last.Type != EventAgentError {
		t.Fatalf("terminal = %s, want agent_error", last.Type)
	}
	sess, err := mgr.Session(id)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Phase() != PhaseFailed {
		t.Fatalf("phase = %s, want failed", sess.Phase())
	}
}

func TestManagerReapRemovesExpiredSessions(t *testing.T) {
	mgr := newTestManager(t, &scriptedProvider{turns: []turn{textTurn("# R")}})
	id, err := mgr.Start(StartRequest{DatasetPath: writeTestCSV(t), DatasetName: "data.csv", Request: "summarize"})
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, mgr, id)

	sess, _ := mgr.Session(id)
	// Pretend the TTL elapsed.
	mgr.reap(sess.TerminalAt() + int64(time.Hour/time.Second) + 1)

	var unknown *ErrUnknownSession
	if _, err := mgr.Session(id); !errors.As(err, &unknown) {
		t.Fatalf("session survived reaping: %v", err)
	}
	if _, err := os.Stat(sess.WorkDir); !os.IsNotExist(err) {
		t.Fatalf("work dir survived reaping: %v", err)
	}
}

func TestManagerHealth(t *testing.T) {
	mgr := newTestManager(t, &scriptedProvider{turns: []turn{textTurn("# R")}})
	id, err := mgr.Start(StartRequest{DatasetPath: writeTestCSV(t), DatasetName: "data.csv", Request: "summarize"})
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, mgr, id)
	info := mgr.Health()
	if info.TotalSessions != 1 || info.ActiveSessions != 0 {
		t.Fatalf("health = %+v", info)
	}
}

// blockingProvider parks its first call until released, then behaves like a
// single textual turn. Lets tests observe a session mid-flight.
type blockingProvider struct {
	release  <-chan struct{}
	started  chan struct{}
	signaled sync.Once
}

func (b *blockingProvider) Name() string { return "blocking" }

func (b *blockingProvider) wait(ctx context.Context) error {
	b.signaled.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *blockingProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := b.wait(ctx); err != nil {
		return ChatResponse{}, err
	}
	return ChatResponse{Content: "# Report"}, nil
}

func (b *blockingProvider) ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamEvent) (ChatResponse, error) {
	defer close(ch)
	if err := b.wait(ctx); err != nil {
		return ChatResponse{}, err
	}
	return ChatResponse{Content: "# Report"}, nil
}
