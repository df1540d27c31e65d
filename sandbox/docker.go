package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	analyst "github.com/nevindra/analyst"
)

// containerWorkDir is where the host working directory is bind-mounted
// inside the container.
const containerWorkDir = "/workspace"

// DockerRunner executes scripts inside a disposable container with the
// working directory bind-mounted and networking disabled. Same contract as
// SubprocessRunner, with container-level isolation for deployments that run
// untrusted code. Overruns use the engine's stop escalation: SIGTERM, then
// SIGKILL after the grace window.
type DockerRunner struct {
	cli *client.Client
	cfg runnerConfig
}

// compile-time check
var _ Runner = (*DockerRunner)(nil)

// NewDockerRunner creates a DockerRunner from the environment's Docker
// endpoint (DOCKER_HOST et al.).
func NewDockerRunner(opts ...Option) (*DockerRunner, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandbox: docker client: %w", err)
	}
	return &DockerRunner{cli: cli, cfg: cfg}, nil
}

// Run writes the script into the working directory and executes it in a
// fresh container.
func (r *DockerRunner) Run(ctx context.Context, req Request) (Result, error) {
	timeout := r.cfg.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}

	scriptPath := filepath.Join(req.WorkDir, ScriptFileName)
	if err := os.WriteFile(scriptPath, []byte(req.Code), 0o644); err != nil {
		return Result{}, fmt.Errorf("sandbox: write script: %w", err)
	}

	absDir, err := filepath.Abs(req.WorkDir)
	if err != nil {
		return Result{}, fmt.Errorf("sandbox: resolve work dir: %w", err)
	}

	env := make([]string, 0, len(r.cfg.env)+len(req.Env))
	for k, v := range r.cfg.env {
		env = append(env, k+"="+v)
	}
	env = append(env, req.Env...)

	created, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:           r.cfg.image,
			Cmd:             []string{"python3", ScriptFileName},
			WorkingDir:      containerWorkDir,
			Env:             env,
			NetworkDisabled: true,
		},
		&container.HostConfig{
			Binds: []string{absDir + ":" + containerWorkDir},
		},
		nil, nil, "")
	if err != nil {
		return Result{}, fmt.Errorf("sandbox: create container: %w", err)
	}
	id := created.ID
	defer func() {
		// Best-effort cleanup on a background context; the request context
		// may already be done.
		rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = r.cli.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true})
	}()

	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return Result{}, fmt.Errorf("sandbox: start container: %w", err)
	}

	exitCode, timedOut, err := r.waitContainer(ctx, id, timeout)
	if err != nil {
		return Result{}, err
	}

	stdout, stderr, logErr := r.containerLogs(id)
	if logErr != nil {
		return Result{}, logErr
	}

	res := Result{
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: exitCode,
	}
	switch {
	case timedOut:
		res.Status = analyst.ExecTimeout
		res.ExitCode = -1
	case exitCode == 0:
		res.Status = analyst.ExecSuccess
	default:
		res.Status = analyst.ExecError
	}

	collectArtifacts(req.WorkDir, &res)
	return res, nil
}

// waitContainer waits for exit, stopping the container (terminate, grace,
// kill) when the wall clock or the caller's context ends.
func (r *DockerRunner) waitContainer(ctx context.Context, id string, timeout time.Duration) (exitCode int, timedOut bool, err error) {
	statusCh, errCh := r.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	stop := func() error {
		grace := int(r.cfg.grace / time.Second)
		stopCtx, cancel := context.WithTimeout(context.Background(), r.cfg.grace+10*time.Second)
		defer cancel()
		return r.cli.ContainerStop(stopCtx, id, container.StopOptions{Timeout: &grace})
	}

	select {
	case status := <-statusCh:
		return int(status.StatusCode), false, nil
	case werr := <-errCh:
		if ctx.Err() != nil {
			_ = stop()
			return 0, false, ctx.Err()
		}
		return 0, false, fmt.Errorf("sandbox: container wait: %w", werr)
	case <-timer.C:
		if serr := stop(); serr != nil {
			return 0, true, fmt.Errorf("sandbox: stop container: %w", serr)
		}
		return -1, true, nil
	case <-ctx.Done():
		_ = stop()
		return 0, false, ctx.Err()
	}
}

// containerLogs fetches and demultiplexes the container's output, applying
// the same output cap as the subprocess runner.
func (r *DockerRunner) containerLogs(id string) (string, string, error) {
	logCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	rc, err := r.cli.ContainerLogs(logCtx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", fmt.Errorf("sandbox: container logs: %w", err)
	}
	defer rc.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, rc); err != nil {
		return "", "", fmt.Errorf("sandbox: demux logs: %w", err)
	}
	return capString(stdoutBuf.String(), r.cfg.maxOutput), capString(stderrBuf.String(), r.cfg.maxOutput), nil
}

// capString truncates s to max bytes with the shared truncation marker.
func capString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + truncationMarker
}
