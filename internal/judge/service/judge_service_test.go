package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codejudge/internal/judge/filter"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/problemstore"
	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/runner"
	appErr "codejudge/pkg/errors"
)

const validSource = "import java.util.Scanner;\npublic class Main { public static void main(String[] a) {} }"

type fakeProblems struct {
	problem problemstore.Problem
}

func (f *fakeProblems) Get(ctx context.Context, id int64) (problemstore.Problem, error) {
	if id != f.problem.ID {
		return problemstore.Problem{}, appErr.Newf(appErr.ProblemNotFound, "problem %d not found", id)
	}
	return f.problem, nil
}

// scriptedRunner returns codes[i] for the i-th Run call.
type scriptedRunner struct {
	codes    []result.TestCode
	compiles atomic.Int32
	runs     atomic.Int32
	gate     chan struct{}
}

func (r *scriptedRunner) Compile(ctx context.Context, req runner.CompileRequest) (result.CompileOutcome, error) {
	r.compiles.Add(1)
	if r.gate != nil {
		<-r.gate
	}
	return result.CompileOutcome{Code: result.CompileSuccessful}, nil
}

func (r *scriptedRunner) Run(ctx context.Context, req runner.RunRequest) (result.TestResult, error) {
	i := int(r.runs.Add(1)) - 1
	code := result.Accepted
	if i < len(r.codes) {
		code = r.codes[i]
	}
	return result.TestResult{Code: code}, nil
}

type memoryStatusStore struct {
	mu    sync.Mutex
	saved map[string]model.PollResponse
}

func newMemoryStatusStore() *memoryStatusStore {
	return &memoryStatusStore{saved: map[string]model.PollResponse{}}
}

func (m *memoryStatusStore) Save(ctx context.Context, id string, resp model.PollResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[id] = resp
	return nil
}

func (m *memoryStatusStore) Get(ctx context.Context, id string) (model.PollResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp, ok := m.saved[id]
	if !ok {
		return model.PollResponse{}, appErr.New(appErr.SubmissionNotFound)
	}
	return resp, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.StatusEvent
}

func (p *recordingPublisher) PublishFinalStatus(ctx context.Context, event model.StatusEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

type recordingSolved struct {
	mu    sync.Mutex
	calls []string
	diff  int
}

func (s *recordingSolved) RecordAccepted(ctx context.Context, problemID int64, userID string, difficulty int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, userID)
	s.diff = difficulty
	return 100, nil
}

type serviceFixture struct {
	svc       *Service
	runner    *scriptedRunner
	status    *memoryStatusStore
	publisher *recordingPublisher
	solved    *recordingSolved
	completed chan string
	workRoot  string
}

func newServiceFixture(t *testing.T, cases int, codes ...result.TestCode) *serviceFixture {
	t.Helper()
	problem := problemstore.Problem{ID: 7, Meta: problemstore.Meta{Title: "sum", Difficulty: 2}}
	for i := 0; i < cases; i++ {
		problem.Cases = append(problem.Cases, problemstore.Case{
			Name:       string(rune('a' + i)),
			InputPath:  "/nonexistent/in",
			AnswerPath: "/nonexistent/out",
		})
	}
	f := &serviceFixture{
		runner:    &scriptedRunner{codes: codes},
		status:    newMemoryStatusStore(),
		publisher: &recordingPublisher{},
		solved:    &recordingSolved{},
		completed: make(chan string, 16),
		workRoot:  t.TempDir(),
	}
	svc, err := NewService(Config{
		Queue: QueueConfig{
			OnComplete: func(sub *model.Submission) { f.completed <- sub.ID },
		},
		Problems:   &fakeProblems{problem: problem},
		Filter:     filter.New(nil),
		Runner:     f.runner,
		StatusRepo: f.status,
		Publisher:  f.publisher,
		Solved:     f.solved,
		WorkRoot:   f.workRoot,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	f.svc = svc
	return f
}

func TestSubmitRejectedImportNeverCompiles(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t, 2)
	f.svc.Start()
	ctx := context.Background()

	out, err := f.svc.Submit(ctx, SubmitInput{ProblemID: 7, UserID: "u1", SourceCode: "import java.net.Socket;\npublic class Main {}"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !out.Rejected || out.SubmissionID == "" {
		t.Fatalf("unexpected output: %+v", out)
	}
	resp, err := f.svc.Poll(ctx, out.SubmissionID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !resp.Completed || resp.Error != "Illegal Library Imported: import java.net.Socket;" {
		t.Fatalf("unexpected poll: %+v", resp)
	}
	if f.runner.compiles.Load() != 0 {
		t.Fatalf("compiler invoked for a rejected source")
	}
	if _, err := f.status.Get(ctx, out.SubmissionID); err != nil {
		t.Fatalf("rejection not persisted: %v", err)
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0].Error == "" {
		t.Fatalf("rejection not published: %+v", f.publisher.events)
	}
	if len(f.solved.calls) != 0 {
		t.Fatalf("rejected submission credited")
	}
}

func TestSubmitJudgesAndAwardsPoints(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t, 2)
	f.svc.Start()
	ctx := context.Background()

	out, err := f.svc.Submit(ctx, SubmitInput{ProblemID: 7, UserID: "alice", SourceCode: validSource})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, f.completed, 1)

	resp, err := f.svc.Poll(ctx, out.SubmissionID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !resp.Completed || strings.Join(resp.Tests, ",") != "AC,AC" {
		t.Fatalf("unexpected poll: %+v", resp)
	}
	f.solved.mu.Lock()
	calls, diff := f.solved.calls, f.solved.diff
	f.solved.mu.Unlock()
	if len(calls) != 1 || calls[0] != "alice" || diff != 2 {
		t.Fatalf("solve not recorded: %v difficulty %d", calls, diff)
	}
	if _, err := os.Stat(filepath.Join(f.workRoot, out.SubmissionID)); !os.IsNotExist(err) {
		t.Fatalf("work dir not removed: %v", err)
	}
	saved, err := f.status.Get(ctx, out.SubmissionID)
	if err != nil || !saved.Completed {
		t.Fatalf("final status not saved: %+v %v", saved, err)
	}
}

func TestSubmitStopsAtFirstFailure(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t, 3, result.Accepted, result.WrongAnswer, result.Accepted)
	f.svc.Start()
	ctx := context.Background()

	out, err := f.svc.Submit(ctx, SubmitInput{ProblemID: 7, UserID: "bob", SourceCode: validSource})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, f.completed, 1)

	resp, err := f.svc.Poll(ctx, out.SubmissionID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !resp.Completed || strings.Join(resp.Tests, ",") != "AC,WA,Pending" {
		t.Fatalf("unexpected poll: %+v", resp)
	}
	if f.runner.runs.Load() != 2 {
		t.Fatalf("runs = %d, want 2", f.runner.runs.Load())
	}
	if len(f.solved.calls) != 0 {
		t.Fatalf("failed submission credited")
	}
}

func TestPollQueuedAndProgress(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t, 1)
	f.runner.gate = make(chan struct{})
	f.svc.Start()
	ctx := context.Background()

	first, err := f.svc.Submit(ctx, SubmitInput{ProblemID: 7, SourceCode: validSource})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for f.svc.Progress(ctx).SubmissionID != first.SubmissionID {
		if time.Now().After(deadline) {
			t.Fatalf("first submission never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	second, err := f.svc.Submit(ctx, SubmitInput{ProblemID: 7, SourceCode: validSource})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if second.Position != 0 {
		t.Fatalf("position = %d, want 0", second.Position)
	}

	resp, err := f.svc.Poll(ctx, second.SubmissionID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !resp.Queued || resp.Position == nil || *resp.Position != 0 || resp.Completed {
		t.Fatalf("unexpected queued poll: %+v", resp)
	}
	running, err := f.svc.Poll(ctx, first.SubmissionID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if running.Completed || strings.Join(running.Tests, ",") != "Pending" {
		t.Fatalf("unexpected running poll: %+v", running)
	}
	view := f.svc.Queue(ctx)
	if view.Current != first.SubmissionID || len(view.Pending) != 1 || view.Pending[0] != second.SubmissionID {
		t.Fatalf("unexpected queue view: %+v", view)
	}
	if p := f.svc.Progress(ctx); p.TotalTests != 1 || p.CurrentTest != 0 {
		t.Fatalf("unexpected progress: %+v", p)
	}

	close(f.runner.gate)
	waitFor(t, f.completed, 2)
	if p := f.svc.Progress(ctx); p != (model.Progress{}) {
		t.Fatalf("progress while idle = %+v", p)
	}
}

func TestPollFallsBackToStatusStore(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t, 1)
	ctx := context.Background()
	_ = f.status.Save(ctx, "evicted", model.PollResponse{Tests: []string{"AC"}, Completed: true})

	resp, err := f.svc.Poll(ctx, "evicted")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !resp.Completed || resp.Tests[0] != "AC" {
		t.Fatalf("unexpected poll: %+v", resp)
	}
	_, err = f.svc.Poll(ctx, "unknown")
	if !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("err = %v, want SubmissionNotFound", err)
	}
	if !strings.Contains(err.Error(), "unknown") {
		t.Fatalf("message %q does not name the submission", err.Error())
	}
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t, 1)
	ctx := context.Background()
	f.svc.maxCodeBytes = 64

	cases := []struct {
		name string
		in   SubmitInput
		code appErr.ErrorCode
	}{
		{name: "missing problem", in: SubmitInput{SourceCode: validSource}, code: appErr.ValidationFailed},
		{name: "empty source", in: SubmitInput{ProblemID: 7, SourceCode: "  "}, code: appErr.ValidationFailed},
		{name: "oversized", in: SubmitInput{ProblemID: 7, SourceCode: strings.Repeat("x", 65)}, code: appErr.CodeTooLarge},
		{name: "unknown problem", in: SubmitInput{ProblemID: 8, SourceCode: "class A {}"}, code: appErr.ProblemNotFound},
		{name: "unknown language", in: SubmitInput{ProblemID: 7, LanguageID: "cobol", SourceCode: "class A {}"}, code: appErr.LanguageNotSupported},
	}
	for _, tc := range cases {
		if _, err := f.svc.Submit(ctx, tc.in); !appErr.Is(err, tc.code) {
			t.Fatalf("%s: err = %v, want code %v", tc.name, err, tc.code)
		}
	}
	if f.runner.compiles.Load() != 0 {
		t.Fatalf("compiler invoked for invalid input")
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t, 1)
	ctx := context.Background()
	if err := f.svc.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	_, err := f.svc.Submit(ctx, SubmitInput{ProblemID: 7, SourceCode: validSource})
	if !appErr.Is(err, appErr.JudgeQueueClosed) {
		t.Fatalf("err = %v, want JudgeQueueClosed", err)
	}
	entries, _ := os.ReadDir(f.workRoot)
	if len(entries) != 0 {
		t.Fatalf("work dir left behind: %d entries", len(entries))
	}
}
