package analyst

import "encoding/base64"

// EventType enumerates the session event taxonomy.
type EventType string

const (
	EventConnected        EventType = "connected"
	EventAgentStarted     EventType = "agent_started"
	EventPhaseChange      EventType = "phase_change"
	EventDataExplored     EventType = "data_explored"
	EventTasksPlanned     EventType = "tasks_planned"
	EventTasksUpdated     EventType = "tasks_updated"
	EventTaskStarted      EventType = "task_started"
	EventTaskCompleted    EventType = "task_completed"
	EventTaskFailed       EventType = "task_failed"
	EventLLMStreaming     EventType = "llm_streaming"
	EventLLMThinking      EventType = "llm_thinking"
	EventToolCall         EventType = "tool_call"
	EventToolResult       EventType = "tool_result"
	EventCodeGenerated    EventType = "code_generated"
	EventImageGenerated   EventType = "image_generated"
	EventReportGenerated  EventType = "report_generated"
	EventAgentWarning     EventType = "agent_warning"
	EventAgentCompleted   EventType = "agent_completed"
	EventAgentError       EventType = "agent_error"
	EventAgentStopped     EventType = "agent_stopped"
	EventSubscriberLagged EventType = "subscriber_lagged"
)

// IsTerminal reports whether the event type closes the session stream.
func (t EventType) IsTerminal() bool {
	return t == EventAgentCompleted || t == EventAgentError || t == EventAgentStopped
}

// TaskSource identifies who authored a task-list change.
type TaskSource string

const (
	SourceTool TaskSource = "tool"
	SourceLLM  TaskSource = "llm"
	SourceCode TaskSource = "code"
)

// Event is one record on a session's ordered stream. Timestamps are Unix
// milliseconds and non-decreasing per session.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp int64          `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func newEvent(sessionID string, typ EventType, payload map[string]any) Event {
	return Event{
		Type:      typ,
		Timestamp: NowUnixMilli(),
		SessionID: sessionID,
		Payload:   payload,
	}
}

// --- Typed constructors. Payload keys are fixed here, not at call sites. ---

func NewConnected(sessionID string) Event {
	return newEvent(sessionID, EventConnected, nil)
}

func NewAgentStarted(sessionID, request, strategy string) Event {
	return newEvent(sessionID, EventAgentStarted, map[string]any{
		"request":  request,
		"strategy": strategy,
	})
}

func NewPhaseChange(sessionID string, phase Phase) Event {
	return newEvent(sessionID, EventPhaseChange, map[string]any{
		"phase": string(phase),
	})
}

func NewDataExplored(sessionID string, stats map[string]any) Event {
	return newEvent(sessionID, EventDataExplored, stats)
}

func NewTasksPlanned(sessionID string, tasks []Task) Event {
	return newEvent(sessionID, EventTasksPlanned, map[string]any{
		"tasks": tasks,
	})
}

func NewTasksUpdated(sessionID string, tasks []Task, source TaskSource) Event {
	return newEvent(sessionID, EventTasksUpdated, map[string]any{
		"tasks":  tasks,
		"source": string(source),
	})
}

func NewTaskStarted(sessionID string, t Task) Event {
	return newEvent(sessionID, EventTaskStarted, map[string]any{
		"task_id":   t.ID,
		"task_name": t.Name,
	})
}

func NewTaskCompleted(sessionID string, t Task) Event {
	return newEvent(sessionID, EventTaskCompleted, map[string]any{
		"task_id":   t.ID,
		"task_name": t.Name,
	})
}

func NewTaskFailed(sessionID string, t Task, errText string) Event {
	return newEvent(sessionID, EventTaskFailed, map[string]any{
		"task_id":   t.ID,
		"task_name": t.Name,
		"error":     errText,
	})
}

func NewLLMStreaming(sessionID string, iteration int, kind StreamEventType, delta, soFar string) Event {
	return newEvent(sessionID, EventLLMStreaming, map[string]any{
		"iteration":           iteration,
		"type":                string(kind),
		"delta":               delta,
		"full_content_so_far": soFar,
	})
}

func NewLLMThinking(sessionID, text string) Event {
	return newEvent(sessionID, EventLLMThinking, map[string]any{
		"thinking": text,
	})
}

func NewToolCallEvent(sessionID, toolName string, args map[string]any, iteration int) Event {
	return newEvent(sessionID, EventToolCall, map[string]any{
		"tool_name": toolName,
		"arguments": args,
		"iteration": iteration,
		"call_id":   "",
	})
}

// NewToolCallEventWithID is NewToolCallEvent carrying the provider call id so
// subscribers can pair calls with results.
func NewToolCallEventWithID(sessionID, callID, toolName string, args map[string]any, iteration int) Event {
	ev := NewToolCallEvent(sessionID, toolName, args, iteration)
	ev.Payload["call_id"] = callID
	return ev
}

func NewToolResultEvent(sessionID, callID, toolName, status, stdoutPreview string, hasImage bool, iteration int) Event {
	return newEvent(sessionID, EventToolResult, map[string]any{
		"tool_name":      toolName,
		"status":         status,
		"stdout_preview": stdoutPreview,
		"has_image":      hasImage,
		"iteration":      iteration,
		"call_id":        callID,
	})
}

func NewCodeGenerated(sessionID string, taskID int, code, description string) Event {
	return newEvent(sessionID, EventCodeGenerated, map[string]any{
		"task_id":     taskID,
		"code":        code,
		"description": description,
	})
}

func NewImageGenerated(sessionID string, taskID int, taskName string, image []byte) Event {
	return newEvent(sessionID, EventImageGenerated, map[string]any{
		"task_id":      taskID,
		"task_name":    taskName,
		"image_base64": base64.StdEncoding.EncodeToString(image),
	})
}

func NewReportGenerated(sessionID, report string) Event {
	return newEvent(sessionID, EventReportGenerated, map[string]any{
		"report": report,
	})
}

func NewAgentWarning(sessionID, warning string, incompleteTasks int) Event {
	return newEvent(sessionID, EventAgentWarning, map[string]any{
		"warning":                warning,
		"incomplete_tasks_count": incompleteTasks,
	})
}

func NewAgentCompleted(sessionID, finalReport string, images [][]byte, reachedMax bool, incompleteTasks int) Event {
	encoded := make([]string, len(images))
	for i, img := range images {
		encoded[i] = base64.StdEncoding.EncodeToString(img)
	}
	return newEvent(sessionID, EventAgentCompleted, map[string]any{
		"final_report":           finalReport,
		"images":                 encoded,
		"reached_max_iterations": reachedMax,
		"incomplete_tasks_count": incompleteTasks,
	})
}

func NewAgentError(sessionID, errText, where string) Event {
	return newEvent(sessionID, EventAgentError, map[string]any{
		"error": errText,
		"where": where,
	})
}

func NewAgentStopped(sessionID, reason string) Event {
	return newEvent(sessionID, EventAgentStopped, map[string]any{
		"reason": reason,
	})
}

func NewSubscriberLagged(sessionID string) Event {
	return newEvent(sessionID, EventSubscriberLagged, nil)
}
