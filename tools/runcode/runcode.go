// Package runcode provides the run_code tool: it executes a model-authored
// Python snippet in the session's sandbox, records the resulting artifact on
// the session, and reports the outcome back to the model.
//
// Everything the model's code does — including crashing — is an observable
// outcome, not a tool failure. Only infrastructural faults (sandbox cannot
// spawn, filesystem denied) surface as errors, which the runtime treats as
// strategy-terminal.
package runcode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	analyst "github.com/nevindra/analyst"
	"github.com/nevindra/analyst/sandbox"
)

const (
	stdoutPreviewLen = 2000
	stderrExcerptLen = 1000
)

// Tool implements the run_code tool.
type Tool struct {
	runner  sandbox.Runner
	timeout time.Duration
}

// compile-time check
var _ analyst.Tool = (*Tool)(nil)

// New creates the run_code tool. timeout caps each execution's wall clock;
// zero keeps the runner's default.
func New(runner sandbox.Runner, timeout time.Duration) *Tool {
	return &Tool{runner: runner, timeout: timeout}
}

func (t *Tool) Definitions() []analyst.ToolDefinition {
	return []analyst.ToolDefinition{
		{
			Name:        "run_code",
			Description: "Execute a self-contained Python analysis script against the dataset. The dataset filename is in the DATASET_PATH environment variable and the file sits in the working directory. Save charts to result.png, structured findings to result.json, and print salient findings.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"code": {
						"type": "string",
						"description": "Python source to execute"
					}
				},
				"required": ["code"]
			}`),
		},
	}
}

type runArgs struct {
	Code string `json:"code"`
}

// resultPayload is what the model sees after an execution.
type resultPayload struct {
	Status        string `json:"status"`
	StdoutPreview string `json:"stdout_preview"`
	HasImage      bool   `json:"has_image"`
	HasResult     bool   `json:"has_result"`
	StderrExcerpt string `json:"stderr_excerpt,omitempty"`
	ExitCode      int    `json:"exit_code"`
}

func (t *Tool) Execute(ctx context.Context, sess *analyst.Session, name string, args json.RawMessage) (analyst.ToolResult, error) {
	var a runArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return analyst.ToolResult{Error: (&analyst.ErrInvalidInput{Reason: "bad arguments: " + err.Error()}).Error()}, nil
	}
	if strings.TrimSpace(a.Code) == "" {
		return analyst.ToolResult{Error: (&analyst.ErrInvalidInput{Reason: "code is empty"}).Error()}, nil
	}

	// One isolated working directory per call, seeded with the dataset at
	// its conventional name, removed when the call finishes.
	workDir, err := os.MkdirTemp(sess.WorkDir, "run-")
	if err != nil {
		return analyst.ToolResult{}, &analyst.ErrExecutorUnavailable{Cause: fmt.Errorf("create work dir: %w", err)}
	}
	defer os.RemoveAll(workDir)

	datasetName := "dataset." + sess.Dataset.Ext
	if err := copyFile(sess.Dataset.Path, filepath.Join(workDir, datasetName)); err != nil {
		return analyst.ToolResult{}, &analyst.ErrExecutorUnavailable{Cause: fmt.Errorf("seed dataset: %w", err)}
	}

	res, err := t.runner.Run(ctx, sandbox.Request{
		Code:    a.Code,
		WorkDir: workDir,
		Env:     []string{"DATASET_PATH=" + datasetName},
		Timeout: t.timeout,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return analyst.ToolResult{}, err
		}
		return analyst.ToolResult{}, &analyst.ErrExecutorUnavailable{Cause: err}
	}

	artifact := analyst.Artifact{
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
		Status:   res.Status,
		Image:    res.Image,
		Result:   res.ResultJSON,
		TaskID:   inProgressTaskID(sess),
	}
	if len(res.Image) > 0 {
		artifact.ImageMIME = "image/png"
	}
	if err := sess.AppendArtifact(artifact); err != nil {
		return analyst.ToolResult{}, err
	}

	payload := resultPayload{
		Status:        string(res.Status),
		StdoutPreview: truncate(res.Stdout, stdoutPreviewLen),
		HasImage:      len(res.Image) > 0,
		HasResult:     len(res.ResultJSON) > 0,
		ExitCode:      res.ExitCode,
	}
	if res.Status != analyst.ExecSuccess {
		payload.StderrExcerpt = truncate(res.Stderr, stderrExcerptLen)
	}

	content, err := json.Marshal(payload)
	if err != nil {
		return analyst.ToolResult{}, fmt.Errorf("marshal result: %w", err)
	}
	return analyst.ToolResult{Content: string(content)}, nil
}

// inProgressTaskID returns the id of the task currently in progress, or 0.
func inProgressTaskID(sess *analyst.Session) int {
	for _, t := range sess.Tasks() {
		if t.Status == analyst.TaskInProgress {
			return t.ID
		}
	}
	return 0
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}
