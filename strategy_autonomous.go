package analyst

import (
	"context"
	"errors"
	"strings"
)

// autonomousStrategy lets the model carry its own state inline: reasoning in
// <thinking> blocks, the task list in a <tasks> block, and completion via
// the [ANALYSIS_COMPLETE] sentinel. Code parses the markup each turn and
// mirrors it into the session; a missing or malformed block is silently
// ignored for that turn.
type autonomousStrategy struct{}

func (s *autonomousStrategy) Name() string { return StrategyAutonomous }

func (s *autonomousStrategy) Run(ctx context.Context, sess *Session, deps Deps) error {
	messages, err := beginRun(ctx, deps, sess, autonomousSystemPrompt())
	if err != nil {
		return err
	}

	var lastText string
	for sess.Iterations() < deps.maxIterations() {
		if err := checkCancelled(ctx, sess); err != nil {
			finishStopped(sess, "cancelled by client")
			return nil
		}

		resp, err := callLLM(ctx, deps, sess, messages)
		if err != nil {
			return err
		}

		for _, thought := range ParseThinking(resp.Content) {
			sess.Emit(NewLLMThinking(sess.ID, thought))
		}

		// Thinking blocks are observational: the history keeps the turn
		// without them.
		record(sess, &messages, ChatMessage{
			Role:      "assistant",
			Content:   StripThinking(resp.Content),
			ToolCalls: resp.ToolCalls,
		})

		if tasks, ok := ParseTaskTags(resp.Content); ok {
			if err := sess.ReplaceTasks(tasks); err == nil {
				sess.Emit(NewTasksUpdated(sess.ID, tasks, SourceLLM))
			} else {
				deps.logger().Warn("ignoring invalid task block", "session_id", sess.ID, "error", err)
			}
		}

		if len(resp.ToolCalls) > 0 {
			err := dispatchToolCalls(ctx, deps, sess, &messages, resp.ToolCalls, sess.Iterations())
			if errors.Is(err, ErrCancelled) {
				finishStopped(sess, "cancelled by client")
				return nil
			}
			if err != nil {
				return err
			}
			continue
		}

		if strings.Contains(resp.Content, AnalysisCompleteSentinel) {
			finishCompleted(sess, stripStateScaffolding(resp.Content), false)
			return nil
		}

		if text := stripStateScaffolding(resp.Content); text != "" {
			lastText = text
		}
		record(sess, &messages, UserMessage(
			"Continue the analysis. When it is finished, write the final Markdown report and include "+AnalysisCompleteSentinel+"."))
	}

	finishCompleted(sess, lastText, true)
	return nil
}
