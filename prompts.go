package analyst

import (
	"fmt"
	"strings"
)

// sandboxContract documents the code-execution environment to the model.
// The fixed output names (result.png, result.json) are part of the external
// contract; changing them is a breaking change.
const sandboxContract = `Code execution environment:
- Each run_code call executes a fresh Python script in its own working directory.
- The dataset is available in the working directory (the DATASET_PATH environment
  variable holds its exact filename, e.g. "dataset.csv").
- Save any chart to "result.png" and structured findings to "result.json" in the
  working directory. Print salient findings to stdout.
- State does not persist between run_code calls; each script must be self-contained.`

const basePersona = `You are a meticulous data analyst. You explore a tabular dataset,
perform the analysis the user asked for, create charts where they help, and finish
with a well-structured Markdown report.`

func toolDrivenSystemPrompt() string {
	return strings.Join([]string{
		basePersona,
		`Work plan: first call todo_write (merge=false) to lay out your tasks, then work
through them one at a time, keeping exactly one task in_progress and updating
statuses with todo_write (merge=true) as you go. Use read_dataset to inspect the
data and run_code to execute analysis code.`,
		sandboxContract,
		`When every task is completed, reply with the final Markdown report as plain text
and no tool calls.`,
	}, "\n\n")
}

func taskDrivenSystemPrompt() string {
	return strings.Join([]string{
		basePersona,
		`The runtime owns the task plan and will tell you which task to execute next.
Focus on the current task only. Use read_dataset and run_code as needed; when you
may mark the current task finished, call todo_write (merge=true) with its id and
status "completed". Reply with a short textual summary when the task is done.`,
		sandboxContract,
	}, "\n\n")
}

func hybridSystemPrompt() string {
	return strings.Join([]string{
		basePersona,
		`The runtime fixes the order of tasks; you decide how to carry each one out.
Work only on the task named in the latest instruction. Use read_dataset and
run_code as needed, then reply with a textual summary to finish the task.`,
		sandboxContract,
	}, "\n\n")
}

func autonomousSystemPrompt() string {
	return strings.Join([]string{
		basePersona,
		`Track your own progress inline in every reply:
- Wrap private reasoning in <thinking>...</thinking>.
- Maintain your task list in a <tasks> block, one line per task:
  "- [ ] task name" for pending, "- [x] task name" for completed.
Use read_dataset and run_code to do the work. When the analysis is finished,
write the final Markdown report and include the literal marker [ANALYSIS_COMPLETE].`,
		sandboxContract,
	}, "\n\n")
}

// Staged strategy: one dedicated prompt per phase.

func stagedExplorePrompt() string {
	return strings.Join([]string{
		basePersona,
		`Phase 1 of 4 — exploration. Inspect the dataset with read_dataset and, if
needed, a quick run_code probe. Reply with a concise textual summary of the data:
shape, column meanings, quality issues. Do not analyze yet.`,
		sandboxContract,
	}, "\n\n")
}

func stagedPlanPrompt() string {
	return `Phase 2 of 4 — planning. Based on the exploration summary and the user's
request, reply with ONLY a JSON array of analysis tasks, no prose:
[{"name": "...", "description": "...", "type": "analysis|visualization|report"}]
Keep it to 2-5 focused tasks.`
}

func stagedExecutePrompt() string {
	return strings.Join([]string{
		basePersona,
		`Phase 3 of 4 — execution. Carry out the task named in the latest instruction
using run_code. Reply with a short textual summary of what the task found.`,
		sandboxContract,
	}, "\n\n")
}

func stagedReportPrompt() string {
	return `Phase 4 of 4 — reporting. Using everything found so far, reply with the
final Markdown report: a title, key findings with concrete numbers, and a short
conclusion. Plain text only, no tool calls.`
}

// planningPrompt asks the model for a machine-readable task plan. Used by
// the hybrid strategy.
func planningPrompt() string {
	return `Plan the analysis. Reply with ONLY a JSON array of tasks, no prose:
[{"name": "...", "description": "...", "type": "data_exploration|analysis|visualization|report"}]
Keep it to 2-6 focused tasks ordered from exploration to reporting.`
}

// initialUserMessage seeds the conversation with the request and the
// dataset summary produced by the initial profiling pass.
func initialUserMessage(sess *Session, datasetSummary string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the dataset %q.\n\nRequest: %s\n", sess.Dataset.Name, sess.Request)
	if datasetSummary != "" {
		b.WriteString("\nDataset summary:\n")
		b.WriteString(datasetSummary)
	}
	return b.String()
}

// executeTaskMessage is the code-injected instruction used by the
// task-driven, hybrid, and staged strategies.
func executeTaskMessage(t Task) string {
	if t.Description != "" {
		return fmt.Sprintf("Now execute task #%d: %s — %s", t.ID, t.Name, t.Description)
	}
	return fmt.Sprintf("Now execute task #%d: %s", t.ID, t.Name)
}
