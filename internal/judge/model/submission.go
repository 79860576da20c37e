package model

import (
	"context"
	"sync"
	"time"

	"codejudge/internal/judge/sandbox/result"
)

// SubmissionStatus is the lifecycle state of a submission.
type SubmissionStatus string

const (
	StatusQueued    SubmissionStatus = "QUEUED"
	StatusPending   SubmissionStatus = "PENDING"
	StatusCompleted SubmissionStatus = "COMPLETED"
)

func (s SubmissionStatus) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusPending:
		return 1
	case StatusCompleted:
		return 2
	}
	return -1
}

// Runnable is the judging work a submission carries. *task.Task implements it.
type Runnable interface {
	Compile(ctx context.Context) (result.CompileOutcome, error)
	HasNextTest() bool
	NextTest(ctx context.Context) (result.TestResult, error)
	Finished() bool
	CompileOutcome() (result.CompileOutcome, bool)
	Progress() (total, current int)
	Results() []result.TestResult
	AllAccepted() bool
}

// Submission pairs a Runnable with its correlation id and lifecycle status.
// Identity fields are fixed at construction; the rest is guarded by mu.
type Submission struct {
	ID         string
	ProblemID  int64
	UserID     string
	LanguageID string
	Task       Runnable

	mu         sync.Mutex
	status     SubmissionStatus
	failure    string
	rejection  string
	enqueuedAt time.Time
	startedAt  time.Time
	finishedAt time.Time
}

// NewSubmission creates a QUEUED submission. task may be nil for a
// submission rejected before judging.
func NewSubmission(id string, problemID int64, userID string, task Runnable) *Submission {
	return &Submission{
		ID:         id,
		ProblemID:  problemID,
		UserID:     userID,
		Task:       task,
		status:     StatusQueued,
		enqueuedAt: time.Now(),
	}
}

// Status returns the current status.
func (s *Submission) Status() SubmissionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus moves the submission forward. Backward moves are ignored and
// reported as false.
func (s *Submission) SetStatus(status SubmissionStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status.rank() <= s.status.rank() {
		return false
	}
	s.status = status
	now := time.Now()
	switch status {
	case StatusPending:
		s.startedAt = now
	case StatusCompleted:
		s.finishedAt = now
	}
	return true
}

// Fail records an infrastructure failure. The first message wins.
func (s *Submission) Fail(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure == "" {
		s.failure = msg
	}
}

// Reject marks a submission refused before judging and completes it.
func (s *Submission) Reject(msg string) {
	s.mu.Lock()
	s.rejection = msg
	s.mu.Unlock()
	s.SetStatus(StatusCompleted)
}

// FinishedAt returns the completion time, zero while not completed.
func (s *Submission) FinishedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedAt
}

// SubmissionView is a consistent copy of a submission's observable state.
type SubmissionView struct {
	ID          string                 `json:"id"`
	ProblemID   int64                  `json:"problemId"`
	UserID      string                 `json:"userId,omitempty"`
	LanguageID  string                 `json:"languageId,omitempty"`
	Status      SubmissionStatus       `json:"status"`
	Failure     string                 `json:"failure,omitempty"`
	Rejection   string                 `json:"rejection,omitempty"`
	Compile     *result.CompileOutcome `json:"compile,omitempty"`
	Results     []result.TestResult    `json:"results"`
	TotalTests  int                    `json:"totalTests"`
	CurrentTest int                    `json:"currentTest"`
	Accepted    bool                   `json:"accepted"`
	EnqueuedAt  time.Time              `json:"enqueuedAt"`
	StartedAt   time.Time              `json:"startedAt,omitempty"`
	FinishedAt  time.Time              `json:"finishedAt,omitempty"`
}

// Snapshot returns the submission's state and its task's progress.
func (s *Submission) Snapshot() SubmissionView {
	s.mu.Lock()
	view := SubmissionView{
		ID:         s.ID,
		ProblemID:  s.ProblemID,
		UserID:     s.UserID,
		LanguageID: s.LanguageID,
		Status:     s.status,
		Failure:    s.failure,
		Rejection:  s.rejection,
		EnqueuedAt: s.enqueuedAt,
		StartedAt:  s.startedAt,
		FinishedAt: s.finishedAt,
	}
	s.mu.Unlock()

	if s.Task == nil {
		return view
	}
	if outcome, ok := s.Task.CompileOutcome(); ok {
		view.Compile = &outcome
	}
	view.Results = s.Task.Results()
	view.TotalTests, view.CurrentTest = s.Task.Progress()
	view.Accepted = view.Status == StatusCompleted && view.Failure == "" && view.Rejection == "" &&
		view.Compile != nil && view.Compile.OK() && s.Task.AllAccepted()
	return view
}
