package model

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"codejudge/internal/judge/sandbox/result"
)

type stubRunnable struct {
	outcome  *result.CompileOutcome
	results  []result.TestResult
	total    int
	accepted bool
}

func (s *stubRunnable) Compile(ctx context.Context) (result.CompileOutcome, error) {
	return *s.outcome, nil
}
func (s *stubRunnable) HasNextTest() bool { return len(s.results) < s.total }
func (s *stubRunnable) NextTest(ctx context.Context) (result.TestResult, error) {
	return result.TestResult{}, nil
}
func (s *stubRunnable) Finished() bool { return true }
func (s *stubRunnable) CompileOutcome() (result.CompileOutcome, bool) {
	if s.outcome == nil {
		return result.CompileOutcome{}, false
	}
	return *s.outcome, true
}
func (s *stubRunnable) Progress() (int, int) { return s.total, len(s.results) }
func (s *stubRunnable) Results() []result.TestResult { return s.results }
func (s *stubRunnable) AllAccepted() bool { return s.accepted }

func TestStatusIsMonotonic(t *testing.T) {
	t.Parallel()
	s := NewSubmission("a", 1, "u", nil)
	if s.Status() != StatusQueued {
		t.Fatalf("initial status = %s", s.Status())
	}
	if !s.SetStatus(StatusPending) {
		t.Fatalf("QUEUED -> PENDING should succeed")
	}
	if s.SetStatus(StatusQueued) {
		t.Fatalf("PENDING -> QUEUED should be ignored")
	}
	if !s.SetStatus(StatusCompleted) {
		t.Fatalf("PENDING -> COMPLETED should succeed")
	}
	if s.SetStatus(StatusPending) || s.Status() != StatusCompleted {
		t.Fatalf("status moved backwards to %s", s.Status())
	}
	if s.FinishedAt().IsZero() {
		t.Fatalf("finish time not recorded")
	}
}

func TestFailKeepsFirstMessage(t *testing.T) {
	t.Parallel()
	s := NewSubmission("a", 1, "u", nil)
	s.Fail("disk full")
	s.Fail("second")
	if got := s.Snapshot().Failure; got != "disk full" {
		t.Fatalf("failure = %q", got)
	}
}

func TestPollFromView(t *testing.T) {
	t.Parallel()
	compileErr := &result.CompileOutcome{Code: result.CompileError, Message: "Main.java:3: error"}
	ok := &result.CompileOutcome{Code: result.CompileSuccessful}
	cases := []struct {
		name string
		view SubmissionView
		want PollResponse
	}{
		{
			name: "rejected",
			view: SubmissionView{Status: StatusCompleted, Rejection: "Illegal Library Imported: import java.net.Socket;"},
			want: PollResponse{Error: "Illegal Library Imported: import java.net.Socket;", Completed: true},
		},
		{
			name: "compile error while current",
			view: SubmissionView{Status: StatusPending, Compile: compileErr, TotalTests: 2},
			want: PollResponse{Error: "Main.java:3: error", Completed: true},
		},
		{
			name: "in progress",
			view: SubmissionView{Status: StatusPending, Compile: ok, TotalTests: 3,
				Results: []result.TestResult{{Code: result.Accepted}}},
			want: PollResponse{Tests: []string{"AC", "Pending", "Pending"}},
		},
		{
			name: "short circuited",
			view: SubmissionView{Status: StatusPending, Compile: ok, TotalTests: 3,
				Results: []result.TestResult{{Code: result.Accepted}, {Code: result.WrongAnswer}}},
			want: PollResponse{Tests: []string{"AC", "WA", "Pending"}, Completed: true},
		},
		{
			name: "done",
			view: SubmissionView{Status: StatusCompleted, Compile: ok, TotalTests: 2,
				Results: []result.TestResult{{Code: result.Accepted}, {Code: result.TimeLimitExceeded}}},
			want: PollResponse{Tests: []string{"AC", "TLE"}, Completed: true},
		},
		{
			name: "failed",
			view: SubmissionView{Status: StatusCompleted, Failure: "queue shut down"},
			want: PollResponse{Error: "queue shut down", Completed: true},
		},
	}
	for _, tc := range cases {
		got := PollFromView(tc.view)
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s: got %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

func TestQueuedResponseJSON(t *testing.T) {
	t.Parallel()
	data, err := json.Marshal(QueuedResponse(0))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"queued":true,"position":0,"completed":false}` {
		t.Fatalf("json = %s", data)
	}
}

func TestSnapshotAccepted(t *testing.T) {
	t.Parallel()
	task := &stubRunnable{
		outcome:  &result.CompileOutcome{Code: result.CompileSuccessful},
		results:  []result.TestResult{{Code: result.Accepted}},
		total:    1,
		accepted: true,
	}
	s := NewSubmission("a", 4, "u", task)
	s.SetStatus(StatusPending)
	if s.Snapshot().Accepted {
		t.Fatalf("not accepted before completion")
	}
	s.SetStatus(StatusCompleted)
	view := s.Snapshot()
	if !view.Accepted || view.TotalTests != 1 || view.CurrentTest != 1 {
		t.Fatalf("view = %+v", view)
	}
	ev := StatusEventFromView(view)
	if ev.SubmissionID != "a" || ev.ProblemID != 4 || !ev.Accepted || ev.Error != "" {
		t.Fatalf("event = %+v", ev)
	}
}
