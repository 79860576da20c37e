package engine

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/spec"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	// waitDelay bounds how long Wait keeps draining stderr after the child
	// exits. A descendant that left the process group can hold the pipe open.
	waitDelay = 500 * time.Millisecond
	// reapTimeout bounds the wait for the killed child itself.
	reapTimeout = 2 * time.Second
)

func (e *localEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	if err := validateRunSpec(runSpec); err != nil {
		return result.RunResult{}, err
	}

	cmd := exec.Command(runSpec.Cmd[0], runSpec.Cmd[1:]...)
	cmd.Dir = runSpec.WorkDir
	cmd.SysProcAttr = sysProcAttr()
	cmd.WaitDelay = waitDelay
	if len(runSpec.Env) > 0 {
		cmd.Env = append(os.Environ(), runSpec.Env...)
	}

	if runSpec.StdinPath != "" {
		stdin, err := os.Open(runSpec.StdinPath)
		if err != nil {
			return result.RunResult{}, appErr.Wrapf(err, appErr.JudgeSystemError, "open stdin failed")
		}
		defer stdin.Close()
		cmd.Stdin = stdin
	}

	limit := runSpec.Limits.StderrMaxBytes
	if limit <= 0 {
		limit = e.cfg.StderrMaxBytes
	}
	stdoutBuf := &limitedBuffer{max: limit}
	stderrBuf := &limitedBuffer{max: limit}
	cmd.Stderr = stderrBuf
	if runSpec.StdoutPath != "" {
		stdout, err := os.Create(runSpec.StdoutPath)
		if err != nil {
			return result.RunResult{}, appErr.Wrapf(err, appErr.JudgeSystemError, "create stdout failed")
		}
		defer stdout.Close()
		cmd.Stdout = stdout
	} else {
		cmd.Stdout = stdoutBuf
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return result.RunResult{}, appErr.Wrapf(err, appErr.JudgeSystemError, "start %s failed", runSpec.Cmd[0])
	}
	pid := cmd.Process.Pid
	e.register(runSpec.SubmissionID, pid)
	defer e.unregister(runSpec.SubmissionID, pid)

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- cmd.Wait()
	}()

	timer := time.NewTimer(runSpec.Limits.WallTime())
	defer timer.Stop()

	var (
		waitErr  error
		timedOut bool
		reaped   = true
	)
	select {
	case waitErr = <-waitCh:
	case <-timer.C:
		timedOut = true
		killProcessGroup(pid)
		reaped, waitErr = awaitExit(waitCh)
	case <-ctx.Done():
		killProcessGroup(pid)
		if ok, _ := awaitExit(waitCh); !ok {
			logger.Warn(ctx, "killed process was not reaped", zap.String("label", runSpec.Label), zap.Int("pid", pid))
		}
		return result.RunResult{}, appErr.Wrapf(ctx.Err(), appErr.JudgeSystemError, "run %s cancelled", runSpec.Label)
	}
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		logger.Warn(ctx, "output pipe held open after exit",
			zap.String("label", runSpec.Label),
			zap.Duration("wait_delay", waitDelay),
		)
	}

	runRes := result.RunResult{
		ExitCode: -1,
		TimedOut: timedOut,
		TimeMs:   time.Since(start).Milliseconds(),
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
	}
	if reaped {
		runRes.ExitCode = exitCode(waitErr, cmd.ProcessState)
	} else {
		logger.Warn(ctx, "killed process was not reaped", zap.String("label", runSpec.Label), zap.Int("pid", pid))
	}
	if timedOut {
		runRes.ExitCode = -1
		logger.Debug(ctx, "process killed at deadline",
			zap.String("label", runSpec.Label),
			zap.Int64("wall_time_ms", runSpec.Limits.WallTime().Milliseconds()),
		)
	}
	return runRes, nil
}

// awaitExit waits for Wait to return after a kill. ok is false when it does
// not return within reapTimeout.
func awaitExit(waitCh <-chan error) (bool, error) {
	timer := time.NewTimer(reapTimeout)
	defer timer.Stop()
	select {
	case err := <-waitCh:
		return true, err
	case <-timer.C:
		return false, nil
	}
}

func exitCode(err error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
