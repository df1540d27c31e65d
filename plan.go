package analyst

import (
	"encoding/json"
	"strings"
)

// plannedTask is the wire shape the planning prompt asks the model for.
type plannedTask struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

// parsePlan extracts a task list from a planning reply. Tolerates code
// fences and surrounding prose by slicing the outermost JSON array. Returns
// nil when nothing usable is found; callers fall back to the default plan.
func parsePlan(text string) []Task {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil
	}
	var planned []plannedTask
	if err := json.Unmarshal([]byte(text[start:end+1]), &planned); err != nil {
		return nil
	}
	var tasks []Task
	for _, p := range planned {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			continue
		}
		typ := TaskType(p.Type)
		switch typ {
		case TaskDataExploration, TaskAnalysis, TaskVisualization, TaskReport:
		default:
			typ = TaskAnalysis
		}
		tasks = append(tasks, Task{
			ID:          len(tasks) + 1,
			Name:        name,
			Description: strings.TrimSpace(p.Description),
			Type:        typ,
			Status:      TaskPending,
		})
	}
	return tasks
}

// defaultPlan is the code-authored fallback: the canonical four-stage
// analysis shape.
func defaultPlan(request string) []Task {
	return []Task{
		{ID: 1, Name: "Explore the dataset", Description: "Inspect shape, column types, and data quality.", Type: TaskDataExploration, Status: TaskPending},
		{ID: 2, Name: "Run the analysis", Description: "Answer the request: " + request, Type: TaskAnalysis, Status: TaskPending},
		{ID: 3, Name: "Create visualizations", Description: "Chart the key findings.", Type: TaskVisualization, Status: TaskPending},
		{ID: 4, Name: "Write the report", Description: "Summarize findings as a Markdown report.", Type: TaskReport, Status: TaskPending},
	}
}
