// Package sandbox executes model-generated analysis scripts in isolated
// child processes. Each Run call gets a pre-seeded working directory (the
// dataset at its conventional name), a hard wall-clock timeout with a
// terminate-then-kill escalation, capped output capture, and a scan for the
// fixed-name artifacts the script may produce.
package sandbox

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	analyst "github.com/nevindra/analyst"
)

// Fixed artifact names inside the working directory. These are part of the
// external contract documented to the model; changing them is a breaking
// change.
const (
	ScriptFileName = "script.py"
	ImageFileName  = "result.png"
	ResultFileName = "result.json"
)

// maxImageBytes caps the size of a loaded result.png.
const maxImageBytes = 16 << 20 // 16MB

// Runner executes one script in a sandboxed environment.
//
// Program failures (bad code, nonzero exit, timeout) are reported inside
// Result; only infrastructural failures (cannot spawn, filesystem denied)
// are returned as errors.
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// Request is the input to Runner.Run.
type Request struct {
	// Code is the Python source to execute.
	Code string
	// WorkDir is the per-call working directory, already seeded with the
	// dataset file. The script runs with WorkDir as cwd.
	WorkDir string
	// Env holds extra KEY=VALUE pairs (e.g. DATASET_PATH).
	Env []string
	// Timeout overrides the runner default when positive.
	Timeout time.Duration
}

// Result is the outcome of one execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Status   analyst.ExecStatus
	// Image holds the bytes of result.png when the script produced one.
	Image []byte
	// ResultJSON holds the parsed contents of result.json when present.
	ResultJSON map[string]any
}

// collectArtifacts scans the working directory for the fixed-name outputs
// and loads them into the result. Unreadable or malformed artifacts are
// skipped; the execution outcome stands on its own.
func collectArtifacts(workDir string, res *Result) {
	if img, err := os.ReadFile(filepath.Join(workDir, ImageFileName)); err == nil && len(img) > 0 && len(img) <= maxImageBytes {
		res.Image = img
	}
	if raw, err := os.ReadFile(filepath.Join(workDir, ResultFileName)); err == nil {
		var parsed map[string]any
		if json.Unmarshal(raw, &parsed) == nil {
			res.ResultJSON = parsed
		}
	}
}
