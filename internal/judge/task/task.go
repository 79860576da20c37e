// Package task drives one submission through compilation and its ordered
// tests.
package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"codejudge/internal/judge/problemstore"
	"codejudge/internal/judge/sandbox/profile"
	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/runner"
	"codejudge/internal/judge/sandbox/spec"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"
)

const outputDir = "output"

var (
	// ErrNoMoreTests is returned by NextTest once the cursor is exhausted.
	ErrNoMoreTests = errors.New("no more tests")
	// ErrNotCompiled is returned by NextTest before a successful Compile.
	ErrNotCompiled = errors.New("task is not compiled")
)

// Config describes one task.
type Config struct {
	SubmissionID string
	Source       string
	WorkDir      string
	Language     profile.LanguageSpec
	Cases        []problemstore.Case
	Runner       runner.Runner
	Limits       spec.ResourceLimit
}

// Task owns the compiled artifact and the fixed sequence of tests of one
// submission. Compile and NextTest are called by a single driver; the read
// accessors are safe from any goroutine.
type Task struct {
	submissionID string
	sourcePath   string
	workDir      string
	lang         profile.LanguageSpec
	runner       runner.Runner
	limits       spec.ResourceLimit
	tests        []*Test

	// runMu serializes Compile and NextTest.
	runMu sync.Mutex

	mu         sync.Mutex
	cursor     int
	compiled   bool
	outcome    result.CompileOutcome
	compileErr error
	failed     bool
}

// New writes the source into the work dir and prepares one Test per case.
func New(cfg Config) (*Task, error) {
	if cfg.SubmissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	if cfg.WorkDir == "" {
		return nil, appErr.ValidationError("work_dir", "required")
	}
	if cfg.Runner == nil {
		return nil, appErr.ValidationError("runner", "required")
	}
	if cfg.Language.SourceFile == "" {
		return nil, appErr.ValidationError("source_file", "required")
	}
	if err := os.MkdirAll(filepath.Join(cfg.WorkDir, outputDir), 0o755); err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "create work dir failed")
	}
	sourcePath := filepath.Join(cfg.WorkDir, cfg.Language.SourceFile)
	if err := os.WriteFile(sourcePath, []byte(cfg.Source), 0o644); err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "write source failed")
	}

	tests := make([]*Test, 0, len(cfg.Cases))
	for i, c := range cfg.Cases {
		name := c.Name
		if name == "" {
			name = strconv.Itoa(i + 1)
		}
		tests = append(tests, &Test{
			Index:        i,
			Name:         name,
			InputPath:    c.InputPath,
			ExpectedPath: c.AnswerPath,
			OutputPath:   filepath.Join(cfg.WorkDir, outputDir, fmt.Sprintf("%d.out", i)),
		})
	}

	return &Task{
		submissionID: cfg.SubmissionID,
		sourcePath:   sourcePath,
		workDir:      cfg.WorkDir,
		lang:         cfg.Language,
		runner:       cfg.Runner,
		limits:       cfg.Limits,
		tests:        tests,
	}, nil
}

// Compile invokes the compiler the first time and returns the cached outcome
// afterwards, including a cached infrastructure error.
func (t *Task) Compile(ctx context.Context) (result.CompileOutcome, error) {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	t.mu.Lock()
	if t.compiled {
		outcome, err := t.outcome, t.compileErr
		t.mu.Unlock()
		return outcome, err
	}
	t.mu.Unlock()

	outcome, err := t.runner.Compile(ctx, runner.CompileRequest{
		SubmissionID: t.submissionID,
		WorkDir:      t.workDir,
		Language:     t.lang,
	})

	t.mu.Lock()
	t.compiled = true
	t.outcome = outcome
	t.compileErr = err
	if err != nil {
		t.failed = true
	}
	t.mu.Unlock()

	if err != nil {
		return outcome, err
	}
	logger.Info(ctx, "submission compiled",
		zap.String("language", t.lang.ID),
		zap.String("code", string(outcome.Code)),
	)
	return outcome, nil
}

// HasNextTest reports whether the cursor has tests left.
func (t *Task) HasNextTest() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursor < len(t.tests)
}

// NextTest runs the test at the cursor, stores its result and advances the
// cursor by one. An infrastructure failure still consumes the test and
// records INTERNAL_ERROR for it.
func (t *Task) NextTest(ctx context.Context) (result.TestResult, error) {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	t.mu.Lock()
	if !t.compiled || t.compileErr != nil || !t.outcome.OK() {
		t.mu.Unlock()
		return result.TestResult{}, appErr.Wrap(ErrNotCompiled, appErr.TaskNotCompiled)
	}
	if t.cursor >= len(t.tests) {
		t.mu.Unlock()
		return result.TestResult{}, appErr.Wrap(ErrNoMoreTests, appErr.NoMoreTests)
	}
	test := t.tests[t.cursor]
	t.mu.Unlock()

	res, runErr := t.runner.Run(ctx, runner.RunRequest{
		SubmissionID: t.submissionID,
		Label:        "test-" + test.Name,
		WorkDir:      t.workDir,
		Language:     t.lang,
		InputPath:    test.InputPath,
		ExpectedPath: test.ExpectedPath,
		OutputPath:   test.OutputPath,
		Limits:       t.limits,
	})
	if runErr != nil {
		res = result.TestResult{Code: result.InternalError, Message: runErr.Error()}
	}
	if err := test.SetResult(res); err != nil && runErr == nil {
		runErr = err
	}

	t.mu.Lock()
	t.cursor++
	if runErr != nil {
		t.failed = true
	}
	t.mu.Unlock()

	logger.Debug(ctx, "test judged",
		zap.String("test", test.Name),
		zap.String("code", res.Code.Short()),
	)
	return res, runErr
}

// Finished reports whether judging should stop: compilation failed, the last
// test was not accepted, an infrastructure error occurred, or every test ran.
func (t *Task) Finished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failed {
		return true
	}
	if t.compiled && !t.outcome.OK() {
		return true
	}
	if t.cursor > 0 {
		if res, ok := t.tests[t.cursor-1].Result(); ok && !res.Accepted() {
			return true
		}
	}
	return t.cursor >= len(t.tests)
}

// CompileOutcome returns the cached outcome and whether Compile has run.
func (t *Task) CompileOutcome() (result.CompileOutcome, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome, t.compiled && t.compileErr == nil
}

// Progress returns the number of tests and the cursor.
func (t *Task) Progress() (total, current int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tests), t.cursor
}

// Results returns the results recorded so far, in test order.
func (t *Task) Results() []result.TestResult {
	t.mu.Lock()
	n := t.cursor
	t.mu.Unlock()
	out := make([]result.TestResult, 0, n)
	for _, test := range t.tests[:n] {
		if res, ok := test.Result(); ok {
			out = append(out, res)
		}
	}
	return out
}

// Tests returns the fixed test sequence.
func (t *Task) Tests() []*Test {
	return t.tests
}

// AllAccepted reports whether every test ran and passed.
func (t *Task) AllAccepted() bool {
	results := t.Results()
	if len(results) != len(t.tests) {
		return false
	}
	for _, res := range results {
		if !res.Accepted() {
			return false
		}
	}
	return true
}

// SourcePath returns the materialized source file.
func (t *Task) SourcePath() string {
	return t.sourcePath
}

// WorkDir returns the task's scratch directory.
func (t *Task) WorkDir() string {
	return t.workDir
}
