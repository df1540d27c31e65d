package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	analyst "github.com/nevindra/analyst"
)

// SubprocessRunner executes Python scripts in a fresh child process per
// call. On timeout the child receives SIGTERM; if it is still alive after
// the grace period it is killed.
type SubprocessRunner struct {
	pythonBin string
	cfg       runnerConfig
}

// compile-time check
var _ Runner = (*SubprocessRunner)(nil)

// NewSubprocessRunner creates a SubprocessRunner that executes scripts via
// the given Python binary (e.g. "python3").
func NewSubprocessRunner(pythonBin string, opts ...Option) *SubprocessRunner {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &SubprocessRunner{pythonBin: pythonBin, cfg: cfg}
}

// Run writes the script into the working directory and executes it there.
func (r *SubprocessRunner) Run(ctx context.Context, req Request) (Result, error) {
	timeout := r.cfg.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	scriptPath := filepath.Join(req.WorkDir, ScriptFileName)
	if err := os.WriteFile(scriptPath, []byte(req.Code), 0o644); err != nil {
		return Result{}, fmt.Errorf("sandbox: write script: %w", err)
	}

	stdout := newCappedBuffer(r.cfg.maxOutput)
	stderr := newCappedBuffer(r.cfg.maxOutput)

	cmd := exec.CommandContext(runCtx, r.pythonBin, ScriptFileName)
	cmd.Dir = req.WorkDir
	cmd.Env = r.buildEnv(req)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Overrun escalation: SIGTERM on context end, SIGKILL after the grace
	// window if the child has not exited.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.cfg.grace

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("sandbox: start subprocess: %w", err)
	}
	waitErr := cmd.Wait()

	// A client cancellation terminates the child (same escalation as a
	// timeout) and surfaces as a plain context error.
	if ctx.Err() != nil && runCtx.Err() != context.DeadlineExceeded {
		return Result{}, ctx.Err()
	}

	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		res.Status = analyst.ExecTimeout
		res.ExitCode = -1
	case waitErr == nil:
		res.Status = analyst.ExecSuccess
	default:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.Status = analyst.ExecError
			res.ExitCode = exitErr.ExitCode()
		} else {
			return Result{}, fmt.Errorf("sandbox: wait subprocess: %w", waitErr)
		}
	}

	collectArtifacts(req.WorkDir, &res)
	return res, nil
}

// buildEnv constructs a minimal environment for the child: just enough for
// Python to run, plus runner- and request-scoped variables.
func (r *SubprocessRunner) buildEnv(req Request) []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
		"LANG=en_US.UTF-8",
	}
	for k, v := range r.cfg.env {
		env = append(env, k+"="+v)
	}
	return append(env, req.Env...)
}
