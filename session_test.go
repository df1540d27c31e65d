package analyst

import (
	"errors"
	"testing"
)

func TestSessionTerminalPhaseRejectsMutation(t *testing.T) {
	sess := newTestSession(t)
	if err := sess.SetPhase(PhaseCompleted); err != nil {
		t.Fatal(err)
	}

	var invalid *ErrInvalidState
	if err := sess.AppendMessage(UserMessage("late")); !errors.As(err, &invalid) {
		t.Fatalf("AppendMessage after terminal = %v, want ErrInvalidState", err)
	}
	if err := sess.ReplaceTasks([]Task{{ID: 1, Name: "x", Status: TaskPending}}); !errors.As(err, &invalid) {
		t.Fatalf("ReplaceTasks after terminal = %v, want ErrInvalidState", err)
	}
	if err := sess.SetReport("r"); !errors.As(err, &invalid) {
		t.Fatalf("SetReport after terminal = %v, want ErrInvalidState", err)
	}
	if err := sess.SetPhase(PhaseRunning); !errors.As(err, &invalid) {
		t.Fatalf("SetPhase out of terminal = %v, want ErrInvalidState", err)
	}
	if sess.TerminalAt() == 0 {
		t.Fatal("TerminalAt should be stamped")
	}
}

func TestSessionSingleInProgressInvariant(t *testing.T) {
	sess := newTestSession(t)

	err := sess.ReplaceTasks([]Task{
		{ID: 1, Name: "a", Status: TaskInProgress},
		{ID: 2, Name: "b", Status: TaskInProgress},
	})
	var invalid *ErrInvalidState
	if !errors.As(err, &invalid) {
		t.Fatalf("two in_progress tasks accepted: %v", err)
	}

	if err := sess.ReplaceTasks([]Task{
		{ID: 1, Name: "a", Status: TaskInProgress},
		{ID: 2, Name: "b", Status: TaskPending},
	}); err != nil {
		t.Fatal(err)
	}

	// Moving the second task in progress while the first still is must be
	// rejected.
	if err := sess.UpdateTaskStatus(2, TaskInProgress); !errors.As(err, &invalid) {
		t.Fatalf("second in_progress accepted: %v", err)
	}

	// Completing the first frees the slot.
	if err := sess.UpdateTaskStatus(1, TaskCompleted); err != nil {
		t.Fatal(err)
	}
	if err := sess.UpdateTaskStatus(2, TaskInProgress); err != nil {
		t.Fatal(err)
	}
}

func TestSessionDuplicateTaskIDsRejected(t *testing.T) {
	sess := newTestSession(t)
	err := sess.ReplaceTasks([]Task{
		{ID: 1, Name: "a", Status: TaskPending},
		{ID: 1, Name: "b", Status: TaskPending},
	})
	var invalid *ErrInvalidState
	if !errors.As(err, &invalid) {
		t.Fatalf("duplicate ids accepted: %v", err)
	}
}

func TestSessionSnapshotIsDetached(t *testing.T) {
	sess := newTestSession(t)
	if err := sess.ReplaceTasks([]Task{{ID: 1, Name: "a", Status: TaskPending}}); err != nil {
		t.Fatal(err)
	}
	snap := sess.Snapshot()
	snap.Tasks[0].Status = TaskCompleted

	if sess.Tasks()[0].Status != TaskPending {
		t.Fatal("mutating a snapshot leaked into the session")
	}
	if snap.ID != sess.ID || snap.Phase != PhaseInitializing {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestSessionIterationCounter(t *testing.T) {
	sess := newTestSession(t)
	for i := 1; i <= 3; i++ {
		if got := sess.NextIteration(); got != i {
			t.Fatalf("NextIteration = %d, want %d", got, i)
		}
	}
	if sess.Iterations() != 3 {
		t.Fatalf("Iterations = %d, want 3", sess.Iterations())
	}
}

func TestSessionCancelIsSticky(t *testing.T) {
	sess := newTestSession(t)
	if sess.Cancelled() {
		t.Fatal("fresh session reports cancelled")
	}
	sess.Cancel()
	sess.Cancel() // idempotent
	if !sess.Cancelled() {
		t.Fatal("Cancel did not stick")
	}
}

func TestSessionImagesInOrder(t *testing.T) {
	sess := newTestSession(t)
	for _, img := range []string{"a", "b"} {
		if err := sess.AppendArtifact(Artifact{Status: ExecSuccess, Image: []byte(img)}); err != nil {
			t.Fatal(err)
		}
	}
	// Artifacts without an image are skipped.
	if err := sess.AppendArtifact(Artifact{Status: ExecError}); err != nil {
		t.Fatal(err)
	}
	images := sess.Images()
	if len(images) != 2 || string(images[0]) != "a" || string(images[1]) != "b" {
		t.Fatalf("Images = %q", images)
	}
}
