package queue

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cuemby/enkf/pkg/types"
)

// ExecRunner runs each step of a job as a local process in the job's run
// path. Stdout and stderr of step i go to <name>.stdout.<i> and
// <name>.stderr.<i>; the first failing step ends the job.
type ExecRunner struct {
	// Timeout bounds a single step (default: no limit)
	Timeout time.Duration
}

// NewExecRunner creates a runner for local processes
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// WithTimeout sets the per-step timeout
func (e *ExecRunner) WithTimeout(timeout time.Duration) *ExecRunner {
	e.Timeout = timeout
	return e
}

// Run executes the job's steps in order
func (e *ExecRunner) Run(ctx context.Context, job *Job) Result {
	res := Result{Iens: job.Iens, Status: types.RunStatusOK}
	for i, step := range job.Steps {
		stderrFile, err := e.runStep(ctx, job.RunPath, i, step)
		if err != nil {
			res.Status = types.RunStatusFailure
			res.FailedJob = step.Name
			res.Reason = err.Error()
			if info, statErr := os.Stat(stderrFile); statErr == nil && info.Size() > 0 {
				res.StderrFile = stderrFile
			}
			return res
		}
	}
	return res
}

func (e *ExecRunner) runStep(ctx context.Context, runPath string, i int, step Step) (string, error) {
	stdoutFile := filepath.Join(runPath, fmt.Sprintf("%s.stdout.%d", step.Name, i))
	stderrFile := filepath.Join(runPath, fmt.Sprintf("%s.stderr.%d", step.Name, i))

	if step.Executable == "" {
		return stderrFile, fmt.Errorf("no executable specified")
	}

	execCtx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	stdout, err := os.Create(stdoutFile)
	if err != nil {
		return stderrFile, fmt.Errorf("failed to create stdout file: %w", err)
	}
	defer stdout.Close()
	stderr, err := os.Create(stderrFile)
	if err != nil {
		return stderrFile, fmt.Errorf("failed to create stderr file: %w", err)
	}
	defer stderr.Close()

	cmd := exec.CommandContext(execCtx, step.Executable, step.Args...)
	cmd.Dir = runPath
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return stderrFile, fmt.Errorf("timed out after %s", e.Timeout)
		}
		return stderrFile, err
	}
	return stderrFile, nil
}
