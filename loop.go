package analyst

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrCancelled is returned from loop helpers when the session's cooperative
// cancellation flag flips or the context ends. Strategies translate it into
// a single agent_stopped terminal event.
var ErrCancelled = errors.New("session cancelled")

// Default loop bounds.
const (
	DefaultMaxIterations = 25
	DefaultMaxPerTask    = 5
)

// toolResultPreviewLen caps the stdout/content preview carried in
// tool_result events and step summaries.
const toolResultPreviewLen = 500

// Deps bundles everything a strategy needs to run: the LLM backend, the
// tool surface, the dataset profiler, and the ambient stack.
type Deps struct {
	Provider Provider
	Tools    *ToolRegistry
	Profiler DatasetProfiler
	Logger   *slog.Logger
	Tracer   Tracer

	MaxIterations int // hard LLM-call cap per session; 0 = DefaultMaxIterations
	MaxPerTask    int // hybrid strategy inner bound; 0 = DefaultMaxPerTask
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (d Deps) maxIterations() int {
	if d.MaxIterations > 0 {
		return d.MaxIterations
	}
	return DefaultMaxIterations
}

func (d Deps) maxPerTask() int {
	if d.MaxPerTask > 0 {
		return d.MaxPerTask
	}
	return DefaultMaxPerTask
}

// --- shared loop substrate ---
//
// All five strategies drive the same frame: an LLM call with streaming
// deltas, assistant-message recording, tool dispatch with paired
// tool_call/tool_result events, and cancellation checks at the iteration
// and tool-call boundaries. Strategies differ only in who sequences tasks
// and how termination is detected.

// checkCancelled reports cooperative cancellation. Checked at the top of
// each iteration, between tool calls, and after each sandbox return.
func checkCancelled(ctx context.Context, sess *Session) error {
	if sess.Cancelled() || ctx.Err() != nil {
		return ErrCancelled
	}
	return nil
}

// record appends m to both the strategy's working slice and the session's
// canonical history.
func record(sess *Session, messages *[]ChatMessage, m ChatMessage) {
	*messages = append(*messages, m)
	// Appends against a terminal phase are dropped; the run is over anyway.
	_ = sess.AppendMessage(m)
}

// callLLM performs one streaming LLM call against the shared tool surface.
func callLLM(ctx context.Context, deps Deps, sess *Session, messages []ChatMessage) (ChatResponse, error) {
	return streamChat(ctx, deps, sess, ChatRequest{
		Messages: messages,
		Tools:    deps.Tools.Definitions(),
	})
}

// callLLMPlain performs one streaming LLM call without advertising tools.
// Used for code-driven planning and report turns where a tool call would be
// noise.
func callLLMPlain(ctx context.Context, deps Deps, sess *Session, messages []ChatMessage) (ChatResponse, error) {
	return streamChat(ctx, deps, sess, ChatRequest{Messages: messages})
}

// streamChat performs one streaming LLM call, emitting llm_streaming events
// for every delta and llm_thinking for a consolidated reasoning trace.
// Increments the session iteration counter: one LLM call, one iteration.
func streamChat(ctx context.Context, deps Deps, sess *Session, req ChatRequest) (ChatResponse, error) {
	iteration := sess.NextIteration()

	llmCtx := ctx
	var span Span
	if deps.Tracer != nil {
		llmCtx, span = deps.Tracer.Start(ctx, "session.llm_call",
			IntAttr("iteration", iteration),
			StringAttr("session_id", sess.ID))
		defer span.End()
	}

	ch := make(chan StreamEvent, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		var soFar strings.Builder
		for ev := range ch {
			if ev.Type == StreamContent {
				soFar.WriteString(ev.Delta)
			}
			sess.Emit(NewLLMStreaming(sess.ID, iteration, ev.Type, ev.Delta, soFar.String()))
		}
	}()

	resp, err := deps.Provider.ChatStream(llmCtx, req, ch)
	<-done

	if err != nil {
		if span != nil {
			span.Error(err)
		}
		return ChatResponse{}, err
	}
	if resp.Thinking != "" {
		sess.Emit(NewLLMThinking(sess.ID, resp.Thinking))
	}
	return resp, nil
}

// dispatchToolCalls validates, executes, and records every tool call of one
// assistant turn, sequentially. Tool-call and tool-result events for one call
// are emitted adjacently. LLM-authored failures land in the tool message so
// the model can self-correct; infrastructure failures abort the run.
func dispatchToolCalls(ctx context.Context, deps Deps, sess *Session, messages *[]ChatMessage, calls []ToolCall, iteration int) error {
	for _, tc := range calls {
		if err := checkCancelled(ctx, sess); err != nil {
			return err
		}

		args := map[string]any{}
		if len(tc.Args) > 0 {
			_ = json.Unmarshal(tc.Args, &args)
		}
		sess.Emit(NewToolCallEventWithID(sess.ID, tc.ID, tc.Name, args, iteration))

		if tc.Name == "run_code" {
			code, _ := args["code"].(string)
			id, _ := currentTask(sess)
			sess.Emit(NewCodeGenerated(sess.ID, id, code, "model-generated analysis code"))
		}

		result, err := safeExecute(ctx, deps, sess, tc)
		if err != nil {
			// Pair the call with a result even on abort so subscribers never
			// see a dangling tool_call.
			sess.Emit(NewToolResultEvent(sess.ID, tc.ID, tc.Name, "error", err.Error(), false, iteration))
			return err
		}

		status, hasImage := classifyToolResult(sess, tc.Name, result)
		sess.Emit(NewToolResultEvent(sess.ID, tc.ID, tc.Name, status, truncateStr(result.Content, toolResultPreviewLen), hasImage, iteration))

		if tc.Name == "run_code" && hasImage {
			if a := sess.LastArtifact(); a != nil && a.HasImage() {
				id, name := currentTask(sess)
				sess.Emit(NewImageGenerated(sess.ID, id, name, a.Image))
			}
		}

		content := result.Content
		if result.Error != "" {
			content = "error: " + result.Error
		}
		record(sess, messages, ToolResultMessage(tc.ID, content))

		if err := checkCancelled(ctx, sess); err != nil {
			return err
		}
	}
	return nil
}

// safeExecute wraps registry dispatch with panic recovery: a panicking tool
// yields an error result instead of crashing the session goroutine.
func safeExecute(ctx context.Context, deps Deps, sess *Session, tc ToolCall) (result ToolResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			deps.logger().Error("tool panicked", "tool", tc.Name, "panic", p)
			result = ToolResult{Error: fmt.Sprintf("tool %q panic: %v", tc.Name, p)}
			err = nil
		}
	}()
	return deps.Tools.Execute(ctx, sess, tc.Name, tc.Args)
}

// classifyToolResult derives the tool_result event status. run_code reports
// the sandbox status (success/error/timeout) from the artifact it appended;
// other tools report success unless the result carries an error.
func classifyToolResult(sess *Session, toolName string, result ToolResult) (status string, hasImage bool) {
	if result.Error != "" {
		return "error", false
	}
	if toolName == "run_code" {
		if a := sess.LastArtifact(); a != nil {
			return string(a.Status), a.HasImage()
		}
	}
	return "success", false
}

// runIteration executes one full reason–act cycle: LLM call, assistant
// recording, tool dispatch. Returns the response and whether the turn
// included tool calls.
func runIteration(ctx context.Context, deps Deps, sess *Session, messages *[]ChatMessage) (ChatResponse, bool, error) {
	if err := checkCancelled(ctx, sess); err != nil {
		return ChatResponse{}, false, err
	}

	resp, err := callLLM(ctx, deps, sess, *messages)
	if err != nil {
		return ChatResponse{}, false, err
	}

	record(sess, messages, ChatMessage{
		Role:      "assistant",
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})

	if len(resp.ToolCalls) == 0 {
		return resp, false, nil
	}
	if err := dispatchToolCalls(ctx, deps, sess, messages, resp.ToolCalls, sess.Iterations()); err != nil {
		return resp, true, err
	}
	return resp, true, nil
}

// currentTask returns the id and name of the task currently in progress,
// or (0, "") when none is.
func currentTask(sess *Session) (int, string) {
	for _, t := range sess.Tasks() {
		if t.Status == TaskInProgress {
			return t.ID, t.Name
		}
	}
	return 0, ""
}

// --- terminal transitions ---

// setPhase transitions the phase and emits phase_change. Invalid transitions
// (out of a terminal phase) are ignored.
func setPhase(sess *Session, p Phase) {
	if err := sess.SetPhase(p); err == nil {
		sess.Emit(NewPhaseChange(sess.ID, p))
	}
}

// finishCompleted records the report and emits the soft-completion tail:
// report_generated (when there is a report), agent_warning (on iteration
// exhaustion), then the terminal agent_completed.
func finishCompleted(sess *Session, report string, reachedMax bool) {
	_ = sess.SetReport(report)
	if report != "" {
		sess.Emit(NewReportGenerated(sess.ID, report))
	}
	incomplete := countIncomplete(sess.Tasks())
	if reachedMax {
		sess.Emit(NewAgentWarning(sess.ID,
			fmt.Sprintf("reached the iteration limit with %d task(s) unfinished", incomplete), incomplete))
	}
	setPhase(sess, PhaseCompleted)
	sess.Emit(NewAgentCompleted(sess.ID, report, sess.Images(), reachedMax, incomplete))
}

// finishStopped emits the single agent_stopped terminal event.
func finishStopped(sess *Session, reason string) {
	setPhase(sess, PhaseStopped)
	sess.Emit(NewAgentStopped(sess.ID, reason))
}

// beginRun emits agent_started, moves the session to running, profiles the
// dataset (emitting data_explored), and returns the seeded message history.
func beginRun(ctx context.Context, deps Deps, sess *Session, systemPrompt string) ([]ChatMessage, error) {
	sess.Emit(NewAgentStarted(sess.ID, sess.Request, sess.Strategy))
	setPhase(sess, PhaseRunning)

	summary := ""
	if deps.Profiler != nil {
		profile, err := deps.Profiler.Profile(ctx, sess.Dataset, "")
		if err != nil {
			return nil, fmt.Errorf("profile dataset: %w", err)
		}
		sess.Emit(NewDataExplored(sess.ID, profile.Stats()))
		summary = profile.Summary()
	}

	var messages []ChatMessage
	record(sess, &messages, SystemMessage(systemPrompt))
	record(sess, &messages, UserMessage(initialUserMessage(sess, summary)))
	return messages, nil
}

// truncateStr truncates a string to n runes.
func truncateStr(s string, n int) string {
	// Byte length ≤ n guarantees rune count ≤ n, avoiding the []rune
	// allocation for short/ASCII strings.
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
