package task

import (
	"sync"

	"codejudge/internal/judge/sandbox/result"
	appErr "codejudge/pkg/errors"
)

// Test is one input/expected-output pairing and its write-once outcome.
type Test struct {
	Index        int
	Name         string
	InputPath    string
	ExpectedPath string
	OutputPath   string

	mu     sync.Mutex
	result *result.TestResult
}

// Result returns the outcome and whether it has been set.
func (t *Test) Result() (result.TestResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.result == nil {
		return result.TestResult{}, false
	}
	return *t.result, true
}

// SetResult records the outcome. A test is resolved at most once.
func (t *Test) SetResult(res result.TestResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.result != nil {
		return appErr.Newf(appErr.JudgeSystemError, "test %s already has a result", t.Name)
	}
	t.result = &res
	return nil
}
