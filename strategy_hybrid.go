package analyst

import (
	"context"
	"errors"
)

// hybridStrategy fixes the task order in code but lets the model author the
// task content: the plan comes from a planning LLM turn (with a code-authored
// fallback), and each task's inner loop is bounded by max_iterations_per_task.
type hybridStrategy struct{}

func (s *hybridStrategy) Name() string { return StrategyHybrid }

func (s *hybridStrategy) Run(ctx context.Context, sess *Session, deps Deps) error {
	messages, err := beginRun(ctx, deps, sess, hybridSystemPrompt())
	if err != nil {
		return err
	}

	plan, err := planWithLLM(ctx, deps, sess, &messages)
	if errors.Is(err, ErrCancelled) {
		finishStopped(sess, "cancelled by client")
		return nil
	}
	if err != nil {
		return err
	}
	if err := sess.ReplaceTasks(plan); err != nil {
		return err
	}
	sess.Emit(NewTasksPlanned(sess.ID, plan))
	sess.Emit(NewTasksUpdated(sess.ID, sess.Tasks(), SourceCode))

	return driveTaskList(ctx, deps, sess, &messages, deps.maxPerTask())
}

// planWithLLM asks the model for a machine-readable plan and falls back to
// the code-authored default when the reply does not parse.
func planWithLLM(ctx context.Context, deps Deps, sess *Session, messages *[]ChatMessage) ([]Task, error) {
	if err := checkCancelled(ctx, sess); err != nil {
		return nil, err
	}
	record(sess, messages, UserMessage(planningPrompt()))
	resp, err := callLLMPlain(ctx, deps, sess, *messages)
	if err != nil {
		return nil, err
	}
	record(sess, messages, AssistantMessage(resp.Content))

	if plan := parsePlan(resp.Content); len(plan) > 0 {
		return plan, nil
	}
	deps.logger().Warn("planning reply did not parse, using default plan", "session_id", sess.ID)
	return defaultPlan(sess.Request), nil
}
