// Package todo provides the todo_write tool, through which the model owns
// the session task list in the tool-driven strategy and marks completions in
// the code-driven ones.
package todo

import (
	"context"
	"encoding/json"
	"fmt"

	analyst "github.com/nevindra/analyst"
)

// Tool implements the todo_write tool.
type Tool struct{}

// compile-time check
var _ analyst.Tool = (*Tool)(nil)

// New creates the todo tool.
func New() *Tool { return &Tool{} }

func (t *Tool) Definitions() []analyst.ToolDefinition {
	return []analyst.ToolDefinition{
		{
			Name:        "todo_write",
			Description: "Create or update the analysis task list. With merge=false the given list replaces the whole task list (initial planning). With merge=true each entry updates the task with the matching id; unknown ids are appended. Keep exactly one task in_progress at a time.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"todos": {
						"type": "array",
						"items": {
							"type": "object",
							"properties": {
								"id": {"type": "integer", "description": "Stable task ordinal"},
								"content": {"type": "string", "description": "Task name"},
								"status": {
									"type": "string",
									"enum": ["pending", "in_progress", "completed", "failed", "skipped"]
								}
							},
							"required": ["id", "status"]
						}
					},
					"merge": {
						"type": "boolean",
						"description": "false = replace the list, true = update matching ids"
					}
				},
				"required": ["todos", "merge"]
			}`),
		},
	}
}

type todoItem struct {
	ID      int    `json:"id"`
	Content string `json:"content,omitempty"`
	Status  string `json:"status"`
}

type todoArgs struct {
	Todos []todoItem `json:"todos"`
	Merge bool       `json:"merge"`
}

func (t *Tool) Execute(ctx context.Context, sess *analyst.Session, name string, args json.RawMessage) (analyst.ToolResult, error) {
	var a todoArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return analyst.ToolResult{Error: (&analyst.ErrInvalidInput{Reason: "bad arguments: " + err.Error()}).Error()}, nil
	}
	if len(a.Todos) == 0 {
		return analyst.ToolResult{Error: (&analyst.ErrInvalidInput{Reason: "todos is empty"}).Error()}, nil
	}
	for _, item := range a.Todos {
		if !analyst.ValidTaskStatus(analyst.TaskStatus(item.Status)) {
			return analyst.ToolResult{Error: (&analyst.ErrInvalidInput{Reason: fmt.Sprintf("unknown status %q for task %d", item.Status, item.ID)}).Error()}, nil
		}
	}

	before := sess.Tasks()

	var err error
	if a.Merge {
		err = sess.MutateTasks(func(tasks []analyst.Task) ([]analyst.Task, error) {
			return mergeTodos(tasks, a.Todos), nil
		})
	} else {
		err = sess.ReplaceTasks(replacementTasks(a.Todos))
	}
	if err != nil {
		// Most commonly the single-in-progress invariant; the model sees the
		// rejection and can retry with a consistent list.
		return analyst.ToolResult{Error: err.Error()}, nil
	}

	after := sess.Tasks()
	emitTransitions(sess, before, after)
	sess.Emit(analyst.NewTasksUpdated(sess.ID, after, analyst.SourceTool))

	snapshot, merr := json.Marshal(after)
	if merr != nil {
		return analyst.ToolResult{}, fmt.Errorf("marshal tasks: %w", merr)
	}
	return analyst.ToolResult{Content: string(snapshot)}, nil
}

// replacementTasks builds a fresh task list. Zero ids get positional
// ordinals.
func replacementTasks(items []todoItem) []analyst.Task {
	tasks := make([]analyst.Task, 0, len(items))
	for i, item := range items {
		id := item.ID
		if id == 0 {
			id = i + 1
		}
		tasks = append(tasks, analyst.Task{
			ID:     id,
			Name:   item.Content,
			Status: analyst.TaskStatus(item.Status),
		})
	}
	return tasks
}

// mergeTodos applies per-id updates: status always, name only when it was
// never set. Unknown ids are appended.
func mergeTodos(tasks []analyst.Task, items []todoItem) []analyst.Task {
	for _, item := range items {
		found := false
		for i := range tasks {
			if tasks[i].ID == item.ID {
				tasks[i].Status = analyst.TaskStatus(item.Status)
				if tasks[i].Name == "" && item.Content != "" {
					tasks[i].Name = item.Content
				}
				found = true
				break
			}
		}
		if !found {
			tasks = append(tasks, analyst.Task{
				ID:     item.ID,
				Name:   item.Content,
				Status: analyst.TaskStatus(item.Status),
			})
		}
	}
	return tasks
}

// emitTransitions emits task lifecycle events for every status change
// observed between two snapshots.
func emitTransitions(sess *analyst.Session, before, after []analyst.Task) {
	prev := make(map[int]analyst.TaskStatus, len(before))
	for _, t := range before {
		prev[t.ID] = t.Status
	}
	for _, t := range after {
		old, existed := prev[t.ID]
		if existed && old == t.Status {
			continue
		}
		switch t.Status {
		case analyst.TaskInProgress:
			sess.Emit(analyst.NewTaskStarted(sess.ID, t))
		case analyst.TaskCompleted:
			sess.Emit(analyst.NewTaskCompleted(sess.ID, t))
		case analyst.TaskFailed:
			sess.Emit(analyst.NewTaskFailed(sess.ID, t, t.Error))
		}
	}
}
