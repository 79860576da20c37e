package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/rescue"
	"go.uber.org/zap"

	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/contextkey"
	"codejudge/pkg/utils/logger"
)

const (
	defaultHistoryLimit = 1024
	defaultHistoryTTL   = 30 * time.Minute

	shutdownFailure = "queue shut down"
	panicFailure    = "internal error while judging"
)

// ErrQueueClosed is returned by Enqueue after Shutdown.
var ErrQueueClosed = errors.New("judge queue is closed")

// JudgeFunc drives one submission to completion. A returned error marks the
// submission failed; it never stops the worker.
type JudgeFunc func(ctx context.Context, sub *model.Submission) error

// Killer terminates the processes of a submission.
type Killer interface {
	KillSubmission(ctx context.Context, submissionID string) error
}

// QueueConfig configures a JudgeQueue.
type QueueConfig struct {
	// HistoryLimit bounds the number of completed submissions kept in memory.
	HistoryLimit int
	// HistoryTTL evicts completed submissions older than this.
	HistoryTTL time.Duration
	// OnComplete runs after a submission completes, outside the queue lock.
	// It runs on the worker, or on the Shutdown caller for drained
	// submissions.
	OnComplete func(sub *model.Submission)
	// Judge overrides JudgeTask.
	Judge JudgeFunc
	// Killer is used when Shutdown gives up waiting for the in-flight
	// submission.
	Killer Killer
}

// JudgeQueue is a FIFO of submissions drained by exactly one worker.
type JudgeQueue struct {
	cfg QueueConfig

	mu        sync.Mutex
	cond      *sync.Cond
	pending   []*model.Submission
	current   *model.Submission
	history   map[string]*model.Submission
	completed []string
	started   bool
	closed    bool
	done      chan struct{}
}

// NewJudgeQueue creates a queue. Start must be called to launch the worker.
func NewJudgeQueue(cfg QueueConfig) (*JudgeQueue, error) {
	if cfg.HistoryLimit < 0 {
		return nil, appErr.ValidationError("history_limit", "must not be negative")
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.HistoryTTL <= 0 {
		cfg.HistoryTTL = defaultHistoryTTL
	}
	if cfg.Judge == nil {
		cfg.Judge = JudgeTask
	}
	q := &JudgeQueue{
		cfg:     cfg,
		history: make(map[string]*model.Submission),
		done:    make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q, nil
}

// Start launches the worker. Calling it again is a no-op.
func (q *JudgeQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	go q.run()
}

// Enqueue appends sub to the FIFO. Order is the order in which Enqueue
// calls return.
func (q *JudgeQueue) Enqueue(sub *model.Submission) error {
	if sub == nil || sub.ID == "" {
		return appErr.ValidationError("submission", "required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return appErr.Wrap(ErrQueueClosed, appErr.JudgeQueueClosed)
	}
	q.pending = append(q.pending, sub)
	q.cond.Signal()
	return nil
}

// Record stores an already completed submission in the history, for
// submissions refused before they reach the worker.
func (q *JudgeQueue) Record(sub *model.Submission) {
	if sub == nil {
		return
	}
	sub.SetStatus(model.StatusCompleted)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.history[sub.ID] = sub
	q.completed = append(q.completed, sub.ID)
	q.retainLocked(time.Now())
}

// CurrentSubmission returns the in-flight submission, or nil when idle.
func (q *JudgeQueue) CurrentSubmission() *model.Submission {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

// History returns a copy of the id to submission map. It includes the
// in-flight submission.
func (q *JudgeQueue) History() map[string]*model.Submission {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]*model.Submission, len(q.history))
	for id, sub := range q.history {
		out[id] = sub
	}
	return out
}

// PositionOf returns the 0-based index of id in the pending FIFO.
func (q *JudgeQueue) PositionOf(id string) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.positionLocked(id)
}

// Pending returns the ids waiting in the FIFO, head first.
func (q *JudgeQueue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.pending))
	for _, sub := range q.pending {
		ids = append(ids, sub.ID)
	}
	return ids
}

// Lookup finds id in the current slot, the history or the pending FIFO, in
// that order, under one lock. position is -1 unless the submission is
// pending.
func (q *JudgeQueue) Lookup(id string) (sub *model.Submission, position int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current != nil && q.current.ID == id {
		return q.current, -1, true
	}
	if sub, ok := q.history[id]; ok {
		return sub, -1, true
	}
	if pos, ok := q.positionLocked(id); ok {
		return q.pending[pos], pos, true
	}
	return nil, -1, false
}

// Shutdown stops accepting work and fails every pending submission. It waits
// for the in-flight submission to finish; when ctx ends first the in-flight
// processes are killed and ctx.Err() is returned.
func (q *JudgeQueue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return q.wait(ctx)
	}
	q.closed = true
	drained := q.pending
	q.pending = nil
	if !q.started {
		close(q.done)
	}
	q.cond.Broadcast()
	q.mu.Unlock()

	for _, sub := range drained {
		sub.Fail(shutdownFailure)
		q.complete(sub)
		q.notify(sub)
	}
	if len(drained) > 0 {
		logger.Info(ctx, "judge queue drained on shutdown", zap.Int("failed", len(drained)))
	}
	return q.wait(ctx)
}

func (q *JudgeQueue) wait(ctx context.Context) error {
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		if cur := q.CurrentSubmission(); cur != nil && q.cfg.Killer != nil {
			if err := q.cfg.Killer.KillSubmission(context.Background(), cur.ID); err != nil {
				logger.Warn(ctx, "kill in-flight submission failed", zap.String("submission_id", cur.ID), zap.Error(err))
			}
		}
		return ctx.Err()
	}
}

func (q *JudgeQueue) run() {
	defer close(q.done)
	for {
		sub, ok := q.next()
		if !ok {
			return
		}
		ctx := context.WithValue(context.Background(), contextkey.SubmissionID, sub.ID)
		logger.Info(ctx, "judging submission started", zap.Int64("problem_id", sub.ProblemID))
		q.judge(ctx, sub)
		q.complete(sub)
		view := sub.Snapshot()
		logger.Info(ctx, "judging submission completed",
			zap.Bool("accepted", view.Accepted),
			zap.Int("tests_run", view.CurrentTest),
			zap.Int("tests_total", view.TotalTests),
			zap.String("failure", view.Failure),
		)
		q.notify(sub)
	}
}

// next blocks until a submission is pending or the queue is closed. The
// popped submission becomes current, enters the history and turns PENDING
// under the same lock.
func (q *JudgeQueue) next() (*model.Submission, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}
	sub := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.current = sub
	q.history[sub.ID] = sub
	sub.SetStatus(model.StatusPending)
	return sub, true
}

func (q *JudgeQueue) judge(ctx context.Context, sub *model.Submission) {
	finished := false
	defer rescue.Recover(func() {
		if !finished {
			sub.Fail(panicFailure)
			logger.Error(ctx, "judging submission panicked")
		}
	})
	if err := q.cfg.Judge(ctx, sub); err != nil {
		sub.Fail(err.Error())
		logger.Error(ctx, "judging submission failed", zap.Error(err))
	}
	finished = true
}

// complete clears current, marks sub COMPLETED and applies retention.
func (q *JudgeQueue) complete(sub *model.Submission) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == sub {
		q.current = nil
	}
	sub.SetStatus(model.StatusCompleted)
	q.history[sub.ID] = sub
	q.completed = append(q.completed, sub.ID)
	q.retainLocked(time.Now())
}

func (q *JudgeQueue) notify(sub *model.Submission) {
	if q.cfg.OnComplete == nil {
		return
	}
	defer rescue.Recover()
	q.cfg.OnComplete(sub)
}

// retainLocked evicts completed submissions, oldest first, beyond the limit
// or past the TTL. The in-flight submission is never in completed.
func (q *JudgeQueue) retainLocked(now time.Time) {
	drop := 0
	for drop < len(q.completed) {
		id := q.completed[drop]
		sub, ok := q.history[id]
		if !ok {
			drop++
			continue
		}
		expired := now.Sub(sub.FinishedAt()) > q.cfg.HistoryTTL
		if len(q.completed)-drop <= q.cfg.HistoryLimit && !expired {
			break
		}
		if q.history[id] == sub && sub.Status() == model.StatusCompleted {
			delete(q.history, id)
		}
		drop++
	}
	if drop > 0 {
		q.completed = append([]string(nil), q.completed[drop:]...)
	}
}

func (q *JudgeQueue) positionLocked(id string) (int, bool) {
	for i, sub := range q.pending {
		if sub.ID == id {
			return i, true
		}
	}
	return 0, false
}

// JudgeTask compiles the submission's task once, then runs tests in order
// until none remain or one is not accepted.
func JudgeTask(ctx context.Context, sub *model.Submission) error {
	if sub.Task == nil {
		return appErr.New(appErr.JudgeSystemError).WithMessage("submission has no task")
	}
	outcome, err := sub.Task.Compile(ctx)
	if err != nil {
		return err
	}
	if !outcome.OK() {
		return nil
	}
	for sub.Task.HasNextTest() {
		res, err := sub.Task.NextTest(ctx)
		if err != nil {
			return err
		}
		if !res.Accepted() {
			break
		}
	}
	return nil
}
