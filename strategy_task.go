package analyst

import (
	"context"
	"errors"
	"strings"
)

// errTaskLimit signals that a task consumed its per-task iteration budget
// (hybrid strategy) without producing a textual summary.
var errTaskLimit = errors.New("per-task iteration limit reached")

// taskDrivenStrategy owns the task list in code: the plan is code-authored,
// tasks are executed strictly in order, and the model is steered with
// injected "now execute task #k" turns. The system prompt tells the model to
// use todo_write only to mark the current task completed; the todo_write
// tool itself applies any replace or merge in this strategy as in the
// others. Termination: every code-owned task reaches a terminal status,
// followed by a report turn.
type taskDrivenStrategy struct{}

func (s *taskDrivenStrategy) Name() string { return StrategyTaskDriven }

func (s *taskDrivenStrategy) Run(ctx context.Context, sess *Session, deps Deps) error {
	messages, err := beginRun(ctx, deps, sess, taskDrivenSystemPrompt())
	if err != nil {
		return err
	}

	plan := defaultPlan(sess.Request)
	if err := sess.ReplaceTasks(plan); err != nil {
		return err
	}
	sess.Emit(NewTasksPlanned(sess.ID, plan))
	sess.Emit(NewTasksUpdated(sess.ID, sess.Tasks(), SourceCode))

	return driveTaskList(ctx, deps, sess, &messages, 0)
}

// driveTaskList executes every pending task in list order, then asks for the
// final report. perTaskBound > 0 limits iterations per task (hybrid); zero
// means only the session cap applies. Shared by the task-driven and hybrid
// strategies.
func driveTaskList(ctx context.Context, deps Deps, sess *Session, messages *[]ChatMessage, perTaskBound int) error {
	for _, t := range sess.Tasks() {
		if t.Status.IsTerminal() {
			continue
		}
		if sess.Iterations() >= deps.maxIterations() {
			break
		}

		_, finished, err := executeOneTask(ctx, deps, sess, messages, t, perTaskBound)
		switch {
		case errors.Is(err, ErrCancelled):
			finishStopped(sess, "cancelled by client")
			return nil
		case errors.Is(err, errTaskLimit):
			_ = sess.UpdateTaskStatus(t.ID, TaskFailed)
			_ = sess.MutateTasks(func(tasks []Task) ([]Task, error) {
				for i := range tasks {
					if tasks[i].ID == t.ID {
						tasks[i].Error = errTaskLimit.Error()
					}
				}
				return tasks, nil
			})
			sess.Emit(NewTaskFailed(sess.ID, t, errTaskLimit.Error()))
			sess.Emit(NewTasksUpdated(sess.ID, sess.Tasks(), SourceCode))
			continue
		case err != nil:
			return err
		case !finished:
			// Session-wide iteration budget ran out mid-task; leave the
			// task incomplete so the exhaustion warning counts it.
			continue
		}

		// The model may already have marked the task terminal via todo_write;
		// otherwise a textual summary closes it.
		if cur := findTask(sess.Tasks(), t.ID); cur != nil && !cur.Status.IsTerminal() {
			_ = sess.UpdateTaskStatus(t.ID, TaskCompleted)
			sess.Emit(NewTaskCompleted(sess.ID, *cur))
			sess.Emit(NewTasksUpdated(sess.ID, sess.Tasks(), SourceCode))
		}
	}

	if !allTasksTerminal(sess.Tasks()) || sess.Iterations() >= deps.maxIterations() {
		finishCompleted(sess, lastAssistantText(*messages), true)
		return nil
	}

	report, err := requestReport(ctx, deps, sess, messages)
	if errors.Is(err, ErrCancelled) {
		finishStopped(sess, "cancelled by client")
		return nil
	}
	if err != nil {
		return err
	}
	if report == "" {
		finishCompleted(sess, lastAssistantText(*messages), true)
		return nil
	}
	finishCompleted(sess, report, false)
	return nil
}

// executeOneTask marks t in progress, injects the execution instruction, and
// loops until the model replies with a purely textual summary. finished is
// false when the session-wide iteration budget ran out first. Returns
// errTaskLimit when perTaskBound is exceeded, ErrCancelled on cancellation.
func executeOneTask(ctx context.Context, deps Deps, sess *Session, messages *[]ChatMessage, t Task, perTaskBound int) (summary string, finished bool, err error) {
	if err := sess.UpdateTaskStatus(t.ID, TaskInProgress); err != nil {
		return "", false, err
	}
	sess.Emit(NewTaskStarted(sess.ID, t))
	sess.Emit(NewTasksUpdated(sess.ID, sess.Tasks(), SourceCode))

	record(sess, messages, UserMessage(executeTaskMessage(t)))

	used := 0
	for sess.Iterations() < deps.maxIterations() {
		if perTaskBound > 0 && used >= perTaskBound {
			return "", false, errTaskLimit
		}
		used++

		resp, hadTools, err := runIteration(ctx, deps, sess, messages)
		if err != nil {
			return "", false, err
		}
		if !hadTools {
			return strings.TrimSpace(resp.Content), true, nil
		}
	}
	return "", false, nil
}

// requestReport injects the final report instruction and loops until the
// model replies without tool calls.
func requestReport(ctx context.Context, deps Deps, sess *Session, messages *[]ChatMessage) (string, error) {
	record(sess, messages, UserMessage(
		"All tasks are finished. Write the final Markdown report now: a title, the key findings with concrete numbers, and a short conclusion. Reply with the report text only, no tool calls."))

	for sess.Iterations() < deps.maxIterations() {
		resp, hadTools, err := runIteration(ctx, deps, sess, messages)
		if err != nil {
			return "", err
		}
		if !hadTools && strings.TrimSpace(resp.Content) != "" {
			return strings.TrimSpace(resp.Content), nil
		}
	}
	return "", nil
}

// findTask returns the task with the given id, or nil.
func findTask(tasks []Task, id int) *Task {
	for i := range tasks {
		if tasks[i].ID == id {
			return &tasks[i]
		}
	}
	return nil
}

// lastAssistantText returns the content of the most recent purely textual
// assistant message — the best-effort report when iterations run out.
func lastAssistantText(messages []ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role == "assistant" && len(m.ToolCalls) == 0 && strings.TrimSpace(m.Content) != "" {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}
