// Package engine spawns judged processes and enforces the wall-clock deadline.
package engine

import (
	"context"
	"sync"

	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/spec"
	appErr "codejudge/pkg/errors"
)

const defaultStderrMaxBytes int64 = 64 * 1024

// Engine executes a RunSpec as a child process.
type Engine interface {
	Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error)
	KillSubmission(ctx context.Context, submissionID string) error
}

// Config controls engine behavior.
type Config struct {
	// StderrMaxBytes bounds the captured stderr (and stdout when it is not
	// redirected to a file).
	StderrMaxBytes int64 `yaml:"stderrMaxBytes"`
}

type localEngine struct {
	cfg Config

	mu      sync.Mutex
	running map[string]map[int]struct{}
}

// NewEngine creates an engine that runs commands directly on the host, each
// in its own process group.
func NewEngine(cfg Config) Engine {
	if cfg.StderrMaxBytes <= 0 {
		cfg.StderrMaxBytes = defaultStderrMaxBytes
	}
	return &localEngine{
		cfg:     cfg,
		running: make(map[string]map[int]struct{}),
	}
}

// KillSubmission kills every process group currently running for submissionID.
func (e *localEngine) KillSubmission(ctx context.Context, submissionID string) error {
	if submissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	for _, pid := range e.snapshot(submissionID) {
		killProcessGroup(pid)
	}
	return nil
}

func (e *localEngine) register(submissionID string, pid int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pids, ok := e.running[submissionID]
	if !ok {
		pids = make(map[int]struct{})
		e.running[submissionID] = pids
	}
	pids[pid] = struct{}{}
}

func (e *localEngine) unregister(submissionID string, pid int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pids := e.running[submissionID]
	delete(pids, pid)
	if len(pids) == 0 {
		delete(e.running, submissionID)
	}
}

func (e *localEngine) snapshot(submissionID string) []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]int, 0, len(e.running[submissionID]))
	for pid := range e.running[submissionID] {
		out = append(out, pid)
	}
	return out
}

func validateRunSpec(runSpec spec.RunSpec) error {
	if runSpec.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if runSpec.WorkDir == "" {
		return appErr.ValidationError("work_dir", "required")
	}
	if len(runSpec.Cmd) == 0 {
		return appErr.ValidationError("cmd", "required")
	}
	return nil
}

// limitedBuffer keeps the first max bytes written and discards the rest while
// reporting every write as complete, so the child never blocks on a full pipe.
// It is read while os/exec may still be copying into it when a killed child
// is not reaped in time.
type limitedBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int64
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if remain := b.max - int64(len(b.buf)); remain > 0 {
		if int64(len(p)) > remain {
			b.buf = append(b.buf, p[:remain]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
