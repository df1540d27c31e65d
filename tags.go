package analyst

import (
	"regexp"
	"strings"
)

// AnalysisCompleteSentinel is the literal marker the autonomous strategy
// watches for in a textual turn.
const AnalysisCompleteSentinel = "[ANALYSIS_COMPLETE]"

var (
	thinkingRe = regexp.MustCompile(`(?s)<thinking>(.*?)</thinking>`)
	tasksRe    = regexp.MustCompile(`(?s)<tasks>(.*?)</tasks>`)
	taskLineRe = regexp.MustCompile(`^- \[(x| )\] (.+)$`)
	// Trailing parenthetical status notes, ASCII or fullwidth: "（已完成）", "(done)".
	statusSuffixRe = regexp.MustCompile(`\s*[（(][^()（）]*[)）]\s*$`)
)

// ParseThinking extracts the inner text of every <thinking> block.
func ParseThinking(text string) []string {
	var out []string
	for _, m := range thinkingRe.FindAllStringSubmatch(text, -1) {
		if inner := strings.TrimSpace(m[1]); inner != "" {
			out = append(out, inner)
		}
	}
	return out
}

// StripThinking removes every <thinking> block. Reasoning traces are
// observational and never enter the conversation history.
func StripThinking(text string) string {
	return strings.TrimSpace(thinkingRe.ReplaceAllString(text, ""))
}

// ParseTaskTags extracts the task list from the first <tasks> block. Each
// line "- [x] name" yields a completed task, "- [ ] name" a pending one;
// trailing parenthetical status notes are stripped; ordinals are the 1-based
// line index. Returns ok=false for a missing block or a block with no valid
// task lines — parsing is resilient, and a malformed block never aborts the
// turn.
func ParseTaskTags(text string) ([]Task, bool) {
	m := tasksRe.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	var tasks []Task
	for _, line := range strings.Split(m[1], "\n") {
		lm := taskLineRe.FindStringSubmatch(strings.TrimSpace(line))
		if lm == nil {
			continue
		}
		status := TaskPending
		if lm[1] == "x" {
			status = TaskCompleted
		}
		name := strings.TrimSpace(statusSuffixRe.ReplaceAllString(lm[2], ""))
		if name == "" {
			continue
		}
		tasks = append(tasks, Task{
			ID:     len(tasks) + 1,
			Name:   name,
			Status: status,
		})
	}
	if len(tasks) == 0 {
		return nil, false
	}
	return tasks, true
}

// RenderTaskTags renders a task list back into a <tasks> block.
// ParseTaskTags(RenderTaskTags(l)) reproduces l for any list of pending and
// completed tasks.
func RenderTaskTags(tasks []Task) string {
	var b strings.Builder
	b.WriteString("<tasks>\n")
	for _, t := range tasks {
		mark := " "
		if t.Status == TaskCompleted {
			mark = "x"
		}
		b.WriteString("- [" + mark + "] " + t.Name + "\n")
	}
	b.WriteString("</tasks>")
	return b.String()
}

// stripStateScaffolding removes the inline state markup (thinking blocks,
// tasks block, completion sentinel) from a final turn, leaving the report.
func stripStateScaffolding(text string) string {
	text = thinkingRe.ReplaceAllString(text, "")
	text = tasksRe.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, AnalysisCompleteSentinel, "")
	return strings.TrimSpace(text)
}
