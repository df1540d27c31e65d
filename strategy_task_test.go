package analyst

import (
	"context"
	"testing"
)

func TestTaskDrivenExecutesPlanInOrder(t *testing.T) {
	sess := newTestSession(t)
	sub := sess.Bus().Subscribe()

	// One textual summary per default-plan task, then the report turn.
	provider := &scriptedProvider{turns: []turn{
		textTurn("explored"),
		textTurn("analyzed"),
		textTurn("visualized"),
		textTurn("drafted"),
		textTurn("# Final Report\nNumbers inside."),
	}}
	deps := newTestDeps(provider, 10)

	s := &taskDrivenStrategy{}
	if err := s.Run(context.Background(), sess, deps); err != nil {
		t.Fatal(err)
	}

	events := drainEvents(sub)
	if firstOfType(events, EventTasksPlanned) == nil {
		t.Fatal("missing tasks_planned")
	}
	if got := countType(events, EventTaskStarted); got != 4 {
		t.Fatalf("task_started = %d, want 4", got)
	}
	if got := countType(events, EventTaskCompleted); got != 4 {
		t.Fatalf("task_completed = %d, want 4", got)
	}

	// Tasks ran strictly in list order.
	var startedIDs []int
	for _, e := range events {
		if e.Type == EventTaskStarted {
			startedIDs = append(startedIDs, e.Payload["task_id"].(int))
		}
	}
	for i, id := range startedIDs {
		if id != i+1 {
			t.Fatalf("task order = %v", startedIDs)
		}
	}

	if sess.Report() != "# Final Report\nNumbers inside." {
		t.Fatalf("report = %q", sess.Report())
	}
	if !allTasksCompleted(sess.Tasks()) {
		t.Fatalf("tasks = %+v", sess.Tasks())
	}
	if provider.callCount() != 5 {
		t.Fatalf("LLM calls = %d, want 5", provider.callCount())
	}
}

func TestHybridPerTaskBoundFailsTask(t *testing.T) {
	sess := newTestSession(t)
	sub := sess.Bus().Subscribe()

	probe := &mockTool{name: "probe"}
	provider := &scriptedProvider{turns: []turn{
		// Planning turn: the model authors a single task.
		textTurn(`[{"name": "Deep dive", "description": "dig in", "type": "analysis"}]`),
		// The task then burns its per-task budget on tool calls.
		toolTurn("c1", "probe", `{}`),
		toolTurn("c2", "probe", `{}`),
		// Report turn after the task is failed.
		textTurn("# Partial Report"),
	}}
	deps := newTestDeps(provider, 20, probe)
	deps.MaxPerTask = 2

	s := &hybridStrategy{}
	if err := s.Run(context.Background(), sess, deps); err != nil {
		t.Fatal(err)
	}

	events := drainEvents(sub)
	failed := firstOfType(events, EventTaskFailed)
	if failed == nil {
		t.Fatalf("missing task_failed in %v", eventTypes(events))
	}
	tasks := sess.Tasks()
	if len(tasks) != 1 || tasks[0].Status != TaskFailed || tasks[0].Error == "" {
		t.Fatalf("tasks = %+v", tasks)
	}
	if tasks[0].Name != "Deep dive" {
		t.Fatalf("plan not model-authored: %+v", tasks[0])
	}
	if sess.Report() != "# Partial Report" {
		t.Fatalf("report = %q", sess.Report())
	}
}

func TestHybridFallsBackToDefaultPlan(t *testing.T) {
	sess := newTestSession(t)

	provider := &scriptedProvider{turns: []turn{
		textTurn("I would rather describe the plan in prose."),
		textTurn("done"),
	}}
	deps := newTestDeps(provider, 20)

	s := &hybridStrategy{}
	if err := s.Run(context.Background(), sess, deps); err != nil {
		t.Fatal(err)
	}
	if len(sess.Tasks()) != 4 {
		t.Fatalf("expected default 4-task plan, got %+v", sess.Tasks())
	}
}

func TestStagedPhases(t *testing.T) {
	sess := newTestSession(t)
	sub := sess.Bus().Subscribe()

	provider := &scriptedProvider{turns: []turn{
		textTurn("The data has two columns and looks clean."),                // explore
		textTurn(`[{"name": "Analyze revenue", "type": "analysis"}]`),        // plan
		textTurn("Revenue grew 50% month over month."),                       // execute task 1
		textTurn("# Staged Report\nRevenue grew 50% from Jan to Feb."),       // report
	}}
	deps := newTestDeps(provider, 10)

	s := &stagedStrategy{}
	if err := s.Run(context.Background(), sess, deps); err != nil {
		t.Fatal(err)
	}

	events := drainEvents(sub)
	planned := firstOfType(events, EventTasksPlanned)
	if planned == nil {
		t.Fatal("missing tasks_planned")
	}
	tasks := planned.Payload["tasks"].([]Task)
	if len(tasks) != 1 || tasks[0].Name != "Analyze revenue" {
		t.Fatalf("planned = %+v", tasks)
	}

	if countType(events, EventTaskCompleted) != 1 {
		t.Fatalf("task_completed missing: %v", eventTypes(events))
	}
	if sess.Report() != "# Staged Report\nRevenue grew 50% from Jan to Feb." {
		t.Fatalf("report = %q", sess.Report())
	}
	if sess.Phase() != PhaseCompleted {
		t.Fatalf("phase = %s", sess.Phase())
	}
	if provider.callCount() != 4 {
		t.Fatalf("LLM calls = %d, want 4", provider.callCount())
	}
}
