package analyst

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewStrategyDispatch(t *testing.T) {
	for _, tag := range Strategies() {
		s, err := NewStrategy(tag)
		if err != nil {
			t.Fatalf("NewStrategy(%q): %v", tag, err)
		}
		if s.Name() != tag {
			t.Fatalf("Name() = %q, want %q", s.Name(), tag)
		}
	}
	if s, err := NewStrategy(""); err != nil || s.Name() != StrategyToolDriven {
		t.Fatalf("empty tag should select tool-driven, got %v, %v", s, err)
	}
	if _, err := NewStrategy("nope"); err == nil {
		t.Fatal("unknown tag accepted")
	}
}

func TestToolDrivenHappyPath(t *testing.T) {
	sess := newTestSession(t)
	sub := sess.Bus().Subscribe()

	probe := &mockTool{name: "probe"}
	provider := &scriptedProvider{turns: []turn{
		toolTurn("c1", "probe", `{}`),
		textTurn("# Report\nRevenue peaked in Feb."),
	}}
	deps := newTestDeps(provider, 10, probe)

	s := &toolDrivenStrategy{}
	if err := s.Run(context.Background(), sess, deps); err != nil {
		t.Fatal(err)
	}

	events := drainEvents(sub)
	types := eventTypes(events)

	// Terminal tail: report then exactly one agent_completed, stream closed.
	if countType(events, EventAgentCompleted) != 1 {
		t.Fatalf("agent_completed count != 1 in %v", types)
	}
	if countType(events, EventReportGenerated) != 1 {
		t.Fatalf("report_generated count != 1 in %v", types)
	}
	if types[0] != EventAgentStarted {
		t.Fatalf("first event = %s, want agent_started", types[0])
	}

	// tool_call / tool_result pairing with matching call ids, adjacent.
	for i, e := range events {
		if e.Type != EventToolCall {
			continue
		}
		if i+1 >= len(events) || events[i+1].Type != EventToolResult {
			t.Fatalf("tool_call at %d not followed by tool_result: %v", i, types)
		}
		if e.Payload["call_id"] != events[i+1].Payload["call_id"] {
			t.Fatal("tool_call/tool_result call ids differ")
		}
	}

	if sess.Phase() != PhaseCompleted {
		t.Fatalf("phase = %s, want completed", sess.Phase())
	}
	if !strings.Contains(sess.Report(), "Revenue peaked") {
		t.Fatalf("report = %q", sess.Report())
	}

	done := firstOfType(events, EventAgentCompleted)
	if done.Payload["reached_max_iterations"] != false {
		t.Fatal("reached_max_iterations should be false")
	}
}

func TestToolDrivenWaitsForTaskCompletion(t *testing.T) {
	sess := newTestSession(t)

	// A tool that plants an unfinished task list, as todo_write would.
	plant := &mockTool{name: "plant", fn: func(ctx context.Context, sess *Session, args json.RawMessage) (ToolResult, error) {
		err := sess.ReplaceTasks([]Task{{ID: 1, Name: "analyze", Status: TaskInProgress}})
		return ToolResult{Content: "planted"}, err
	}}
	finish := &mockTool{name: "finish", fn: func(ctx context.Context, sess *Session, args json.RawMessage) (ToolResult, error) {
		err := sess.UpdateTaskStatus(1, TaskCompleted)
		return ToolResult{Content: "finished"}, err
	}}

	provider := &scriptedProvider{turns: []turn{
		toolTurn("c1", "plant", `{}`),
		textTurn("Premature summary."), // rejected: task 1 still in progress
		toolTurn("c2", "finish", `{}`),
		textTurn("# Final Report"),
	}}
	deps := newTestDeps(provider, 10, plant, finish)

	s := &toolDrivenStrategy{}
	if err := s.Run(context.Background(), sess, deps); err != nil {
		t.Fatal(err)
	}
	if sess.Report() != "# Final Report" {
		t.Fatalf("report = %q", sess.Report())
	}
	if provider.callCount() != 4 {
		t.Fatalf("LLM calls = %d, want 4", provider.callCount())
	}
}

func TestIterationOverrunSoftCompletion(t *testing.T) {
	sess := newTestSession(t)
	if err := sess.ReplaceTasks([]Task{{ID: 1, Name: "endless", Status: TaskInProgress}}); err != nil {
		t.Fatal(err)
	}
	sub := sess.Bus().Subscribe()

	// The model never produces a terminal textual turn.
	probe := &mockTool{name: "probe"}
	provider := &scriptedProvider{turns: []turn{toolTurn("c", "probe", `{}`)}}
	deps := newTestDeps(provider, 3, probe)

	s := &toolDrivenStrategy{}
	if err := s.Run(context.Background(), sess, deps); err != nil {
		t.Fatal(err)
	}

	if provider.callCount() != 3 {
		t.Fatalf("LLM calls = %d, want exactly max_iterations = 3", provider.callCount())
	}
	if sess.Phase() != PhaseCompleted {
		t.Fatalf("phase = %s, want completed (soft)", sess.Phase())
	}

	events := drainEvents(sub)
	warning := firstOfType(events, EventAgentWarning)
	if warning == nil {
		t.Fatal("missing agent_warning")
	}
	if n, ok := warning.Payload["incomplete_tasks_count"].(int); !ok || n < 1 {
		t.Fatalf("incomplete_tasks_count = %v", warning.Payload["incomplete_tasks_count"])
	}
	done := firstOfType(events, EventAgentCompleted)
	if done == nil || done.Payload["reached_max_iterations"] != true {
		t.Fatal("agent_completed must carry reached_max_iterations=true")
	}
	if events[len(events)-1].Type != EventAgentCompleted {
		t.Fatal("stream must end with the terminal event")
	}
}

func TestCancellationMidAnalysis(t *testing.T) {
	sess := newTestSession(t)
	sub := sess.Bus().Subscribe()

	// The second tool call flips the cancellation flag mid-flight.
	nCalls := 0
	probe := &mockTool{name: "probe", fn: func(ctx context.Context, s *Session, args json.RawMessage) (ToolResult, error) {
		nCalls++
		if nCalls == 2 {
			s.Cancel()
		}
		return ToolResult{Content: "ok"}, nil
	}}
	provider := &scriptedProvider{turns: []turn{toolTurn("c", "probe", `{}`)}}
	deps := newTestDeps(provider, 25, probe)

	s := &toolDrivenStrategy{}
	if err := s.Run(context.Background(), sess, deps); err != nil {
		t.Fatal(err)
	}

	if sess.Phase() != PhaseStopped {
		t.Fatalf("phase = %s, want stopped", sess.Phase())
	}
	events := drainEvents(sub)
	if countType(events, EventAgentStopped) != 1 {
		t.Fatalf("agent_stopped count != 1 in %v", eventTypes(events))
	}
	if events[len(events)-1].Type != EventAgentStopped {
		t.Fatal("stream must end with agent_stopped")
	}
	if nCalls != 2 {
		t.Fatalf("tool calls after cancellation: ran %d times", nCalls)
	}
}

func TestZeroTasksStillTerminates(t *testing.T) {
	sess := newTestSession(t)
	provider := &scriptedProvider{turns: []turn{textTurn("# Quick Report\nNothing to plan.")}}
	deps := newTestDeps(provider, 5)

	s := &toolDrivenStrategy{}
	if err := s.Run(context.Background(), sess, deps); err != nil {
		t.Fatal(err)
	}
	if sess.Phase() != PhaseCompleted {
		t.Fatalf("phase = %s, want completed", sess.Phase())
	}
	if sess.Report() == "" {
		t.Fatal("report should be recorded")
	}
}
