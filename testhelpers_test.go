package analyst

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// --- scripted provider ---

// turn is one scripted LLM exchange.
type turn struct {
	resp ChatResponse
	err  error
}

// scriptedProvider replays a fixed sequence of turns. The last turn repeats
// once the script runs out, so iteration-cap tests can loop freely.
type scriptedProvider struct {
	mu    sync.Mutex
	turns []turn
	calls int
}

func (p *scriptedProvider) next() turn {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	if i >= len(p.turns) {
		i = len(p.turns) - 1
	}
	return p.turns[i]
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	t := p.next()
	return t.resp, t.err
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamEvent) (ChatResponse, error) {
	t := p.next()
	if t.err != nil {
		close(ch)
		return ChatResponse{}, t.err
	}
	if t.resp.Thinking != "" {
		ch <- StreamEvent{Type: StreamReasoning, Delta: t.resp.Thinking}
	}
	if t.resp.Content != "" {
		ch <- StreamEvent{Type: StreamContent, Delta: t.resp.Content}
	}
	close(ch)
	return t.resp, nil
}

// textTurn is a purely textual assistant turn.
func textTurn(content string) turn {
	return turn{resp: ChatResponse{Content: content}}
}

// toolTurn is an assistant turn invoking one tool.
func toolTurn(callID, name, args string) turn {
	return turn{resp: ChatResponse{ToolCalls: []ToolCall{{ID: callID, Name: name, Args: json.RawMessage(args)}}}}
}

// --- mock tools ---

// mockTool is a single-function tool with a pluggable body.
type mockTool struct {
	name string
	fn   func(ctx context.Context, sess *Session, args json.RawMessage) (ToolResult, error)
}

func (m *mockTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{
		Name:        m.name,
		Description: "test tool",
		Parameters:  json.RawMessage(`{"type": "object"}`),
	}}
}

func (m *mockTool) Execute(ctx context.Context, sess *Session, name string, args json.RawMessage) (ToolResult, error) {
	if m.fn != nil {
		return m.fn(ctx, sess, args)
	}
	return ToolResult{Content: "ok"}, nil
}

// --- session / deps builders ---

// newTestSession creates a session over a small temp CSV dataset.
func newTestSession(t *testing.T) *Session {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sales.csv")
	csv := "month,revenue\nJan,100\nFeb,150\nMar,90\n"
	if err := os.WriteFile(path, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}
	id := NewID()
	bus := NewEventBus(id, 256)
	return NewSession(id, Dataset{
		Path: path,
		Name: "sales.csv",
		Ext:  "csv",
		Size: int64(len(csv)),
	}, "Summarize monthly sales", StrategyToolDriven, bus, dir)
}

// newTestDeps wires a scripted provider and mock tools into Deps.
func newTestDeps(p Provider, maxIter int, tools ...Tool) Deps {
	reg := NewToolRegistry()
	for _, t := range tools {
		reg.Add(t)
	}
	return Deps{
		Provider:      p,
		Tools:         reg,
		MaxIterations: maxIter,
	}
}

// drainEvents collects every event from a subscriber until its channel
// closes.
func drainEvents(sub *Subscriber) []Event {
	var out []Event
	for e := range sub.Events() {
		out = append(out, e)
	}
	return out
}

// eventTypes projects the type sequence.
func eventTypes(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

// countType counts events of one type.
func countType(events []Event, typ EventType) int {
	n := 0
	for _, e := range events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// firstOfType returns the first event of the given type, or nil.
func firstOfType(events []Event, typ EventType) *Event {
	for i := range events {
		if events[i].Type == typ {
			return &events[i]
		}
	}
	return nil
}
