package analyst

import (
	"context"
	"errors"
	"strings"
)

// toolDrivenStrategy is the recommended variant: the LLM owns the task list
// through todo_write, and code only enforces the iteration cap and the
// single-in-progress invariant. Termination is a purely textual turn with
// every declared task completed.
type toolDrivenStrategy struct{}

func (s *toolDrivenStrategy) Name() string { return StrategyToolDriven }

func (s *toolDrivenStrategy) Run(ctx context.Context, sess *Session, deps Deps) error {
	messages, err := beginRun(ctx, deps, sess, toolDrivenSystemPrompt())
	if err != nil {
		return err
	}

	var lastText string
	for sess.Iterations() < deps.maxIterations() {
		resp, hadTools, err := runIteration(ctx, deps, sess, &messages)
		if errors.Is(err, ErrCancelled) {
			finishStopped(sess, "cancelled by client")
			return nil
		}
		if err != nil {
			return err
		}
		if hadTools {
			continue
		}

		text := strings.TrimSpace(resp.Content)
		if text != "" {
			lastText = text
		}
		if text != "" && allTasksCompleted(sess.Tasks()) {
			finishCompleted(sess, text, false)
			return nil
		}

		// Textual turn but unfinished tasks (or an empty reply): push the
		// model back to work rather than ending with a dangling plan.
		record(sess, &messages, UserMessage(
			"Some tasks are still unfinished. Continue working on them, updating their status with todo_write; reply with the final report only when every task is completed."))
	}

	finishCompleted(sess, lastText, true)
	return nil
}
