package analyst

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// stagedStrategy drives four code-sequenced phases — explore, plan, execute
// each task, report — with a dedicated system prompt per phase. The model
// never decides what comes next; it only fills in each phase.
type stagedStrategy struct{}

func (s *stagedStrategy) Name() string { return StrategyStaged }

func (s *stagedStrategy) Run(ctx context.Context, sess *Session, deps Deps) error {
	sess.Emit(NewAgentStarted(sess.ID, sess.Request, sess.Strategy))
	setPhase(sess, PhaseRunning)

	summary := ""
	if deps.Profiler != nil {
		profile, err := deps.Profiler.Profile(ctx, sess.Dataset, "")
		if err != nil {
			return fmt.Errorf("profile dataset: %w", err)
		}
		sess.Emit(NewDataExplored(sess.ID, profile.Stats()))
		summary = profile.Summary()
	}

	// Phase 1 — explore.
	var exploreMsgs []ChatMessage
	record(sess, &exploreMsgs, SystemMessage(stagedExplorePrompt()))
	record(sess, &exploreMsgs, UserMessage(initialUserMessage(sess, summary)))
	exploreSummary, err := runUntilText(ctx, deps, sess, &exploreMsgs)
	if errors.Is(err, ErrCancelled) {
		finishStopped(sess, "cancelled by client")
		return nil
	}
	if err != nil {
		return err
	}
	if sess.Iterations() >= deps.maxIterations() {
		finishCompleted(sess, exploreSummary, true)
		return nil
	}

	// Phase 2 — plan.
	planMsgs := []ChatMessage{
		SystemMessage(stagedPlanPrompt()),
		UserMessage(fmt.Sprintf("Request: %s\n\nExploration summary:\n%s", sess.Request, exploreSummary)),
	}
	plan := defaultPlan(sess.Request)
	if err := checkCancelled(ctx, sess); err != nil {
		finishStopped(sess, "cancelled by client")
		return nil
	}
	resp, err := callLLMPlain(ctx, deps, sess, planMsgs)
	if err != nil {
		return err
	}
	if parsed := parsePlan(resp.Content); len(parsed) > 0 {
		plan = parsed
	} else {
		deps.logger().Warn("planning reply did not parse, using default plan", "session_id", sess.ID)
	}
	if err := sess.ReplaceTasks(plan); err != nil {
		return err
	}
	sess.Emit(NewTasksPlanned(sess.ID, plan))
	sess.Emit(NewTasksUpdated(sess.ID, sess.Tasks(), SourceCode))

	// Phase 3 — execute each task in order.
	var execMsgs []ChatMessage
	record(sess, &execMsgs, SystemMessage(stagedExecutePrompt()))
	record(sess, &execMsgs, UserMessage(fmt.Sprintf("Request: %s\n\nExploration summary:\n%s", sess.Request, exploreSummary)))

	var findings []string
	for _, t := range sess.Tasks() {
		if t.Status.IsTerminal() {
			continue
		}
		if sess.Iterations() >= deps.maxIterations() {
			break
		}
		taskSummary, finished, err := executeOneTask(ctx, deps, sess, &execMsgs, t, 0)
		if errors.Is(err, ErrCancelled) {
			finishStopped(sess, "cancelled by client")
			return nil
		}
		if err != nil {
			return err
		}
		if !finished {
			continue
		}
		if cur := findTask(sess.Tasks(), t.ID); cur != nil && !cur.Status.IsTerminal() {
			_ = sess.UpdateTaskStatus(t.ID, TaskCompleted)
			sess.Emit(NewTaskCompleted(sess.ID, *cur))
			sess.Emit(NewTasksUpdated(sess.ID, sess.Tasks(), SourceCode))
		}
		if taskSummary != "" {
			findings = append(findings, fmt.Sprintf("## %s\n%s", t.Name, taskSummary))
		}
	}

	if sess.Iterations() >= deps.maxIterations() {
		finishCompleted(sess, strings.Join(findings, "\n\n"), true)
		return nil
	}

	// Phase 4 — report.
	if err := checkCancelled(ctx, sess); err != nil {
		finishStopped(sess, "cancelled by client")
		return nil
	}
	reportMsgs := []ChatMessage{
		SystemMessage(stagedReportPrompt()),
		UserMessage(fmt.Sprintf("Request: %s\n\nExploration summary:\n%s\n\nFindings:\n%s",
			sess.Request, exploreSummary, strings.Join(findings, "\n\n"))),
	}
	resp, err = callLLMPlain(ctx, deps, sess, reportMsgs)
	if err != nil {
		return err
	}
	report := strings.TrimSpace(resp.Content)
	if report == "" {
		report = strings.Join(findings, "\n\n")
	}
	finishCompleted(sess, report, false)
	return nil
}

// runUntilText loops reason–act iterations until the model replies without
// tool calls, returning that reply.
func runUntilText(ctx context.Context, deps Deps, sess *Session, messages *[]ChatMessage) (string, error) {
	for sess.Iterations() < deps.maxIterations() {
		resp, hadTools, err := runIteration(ctx, deps, sess, messages)
		if err != nil {
			return "", err
		}
		if !hadTools {
			return strings.TrimSpace(resp.Content), nil
		}
	}
	return lastAssistantText(*messages), nil
}
