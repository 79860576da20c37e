package service

import (
	"bytes"
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"codejudge/internal/common/storage"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/problemstore"
	"codejudge/internal/judge/repository"
	"codejudge/internal/judge/sandbox/profile"
	"codejudge/internal/judge/sandbox/runner"
	"codejudge/internal/judge/sandbox/spec"
	"codejudge/internal/judge/task"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/contextkey"
	"codejudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMaxCodeBytes  = 64 << 10
	defaultStatusTimeout = 3 * time.Second
)

// ProblemSource resolves a problem id to its test cases.
type ProblemSource interface {
	Get(ctx context.Context, id int64) (problemstore.Problem, error)
}

// SourceFilter screens source text before compilation.
type SourceFilter interface {
	Check(source string) error
}

// StatusStore keeps final poll responses after they leave memory.
type StatusStore interface {
	Save(ctx context.Context, submissionID string, resp model.PollResponse) error
	Get(ctx context.Context, submissionID string) (model.PollResponse, error)
}

// SolvedRecorder records first solves and awards points.
type SolvedRecorder interface {
	RecordAccepted(ctx context.Context, problemID int64, userID string, difficulty int) (int64, error)
}

// SourceArchive uploads accepted-for-judging sources to object storage.
type SourceArchive struct {
	Storage storage.ObjectStorage
	Bucket  string
	Prefix  string
}

// Config holds service dependencies and settings. StatusRepo, Publisher,
// Solved and SourceArchive are optional.
type Config struct {
	Queue         QueueConfig
	Problems      ProblemSource
	Filter        SourceFilter
	Runner        runner.Runner
	Languages     *profile.Registry
	StatusRepo    StatusStore
	Publisher     repository.StatusEventPublisher
	Solved        SolvedRecorder
	SourceArchive *SourceArchive
	WorkRoot      string
	Limits        spec.ResourceLimit
	MaxCodeBytes  int
	StatusTimeout time.Duration
}

// SubmitInput is one submission request.
type SubmitInput struct {
	ProblemID  int64
	UserID     string
	LanguageID string
	SourceCode string
}

// SubmitOutput identifies the accepted submission.
type SubmitOutput struct {
	SubmissionID string `json:"submissionId"`
	Position     int    `json:"position"`
	Rejected     bool   `json:"rejected,omitempty"`
}

// Service accepts submissions and answers polls over a JudgeQueue.
type Service struct {
	queue         *JudgeQueue
	problems      ProblemSource
	filter        SourceFilter
	runner        runner.Runner
	languages     *profile.Registry
	statusRepo    StatusStore
	publisher     repository.StatusEventPublisher
	solved        SolvedRecorder
	archive       *SourceArchive
	workRoot      string
	limits        spec.ResourceLimit
	maxCodeBytes  int
	statusTimeout time.Duration
}

// NewService creates a new judge service and its queue. Start launches the
// worker.
func NewService(cfg Config) (*Service, error) {
	if cfg.Problems == nil {
		return nil, appErr.ValidationError("problems", "required")
	}
	if cfg.Filter == nil {
		return nil, appErr.ValidationError("filter", "required")
	}
	if cfg.Runner == nil {
		return nil, appErr.ValidationError("runner", "required")
	}
	if cfg.WorkRoot == "" {
		return nil, appErr.ValidationError("work_root", "required")
	}
	if cfg.Languages == nil {
		cfg.Languages = profile.NewRegistry(nil)
	}
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = defaultStatusTimeout
	}
	if cfg.SourceArchive != nil && cfg.SourceArchive.Storage == nil {
		cfg.SourceArchive = nil
	}
	if err := os.MkdirAll(cfg.WorkRoot, 0o755); err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "create work root failed")
	}

	s := &Service{
		problems:      cfg.Problems,
		filter:        cfg.Filter,
		runner:        cfg.Runner,
		languages:     cfg.Languages,
		statusRepo:    cfg.StatusRepo,
		publisher:     cfg.Publisher,
		solved:        cfg.Solved,
		archive:       cfg.SourceArchive,
		workRoot:      cfg.WorkRoot,
		limits:        cfg.Limits,
		maxCodeBytes:  cfg.MaxCodeBytes,
		statusTimeout: cfg.StatusTimeout,
	}
	queueCfg := cfg.Queue
	userHook := queueCfg.OnComplete
	queueCfg.OnComplete = func(sub *model.Submission) {
		s.onComplete(sub)
		if userHook != nil {
			userHook(sub)
		}
	}
	queue, err := NewJudgeQueue(queueCfg)
	if err != nil {
		return nil, err
	}
	s.queue = queue
	return s, nil
}

// Start launches the queue worker.
func (s *Service) Start() {
	s.queue.Start()
}

// Shutdown stops the queue; see JudgeQueue.Shutdown.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.queue.Shutdown(ctx)
}

// Submit screens, prepares and enqueues one submission. A source refused by
// the filter is recorded as completed and never reaches the compiler.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (SubmitOutput, error) {
	if in.ProblemID <= 0 {
		return SubmitOutput{}, appErr.ValidationError("problem_id", "required")
	}
	if strings.TrimSpace(in.SourceCode) == "" {
		return SubmitOutput{}, appErr.ValidationError("code", "required")
	}
	if len(in.SourceCode) > s.maxCodeBytes {
		return SubmitOutput{}, appErr.Newf(appErr.CodeTooLarge, "source exceeds %d bytes", s.maxCodeBytes)
	}

	problem, err := s.problems.Get(ctx, in.ProblemID)
	if err != nil {
		return SubmitOutput{}, err
	}
	langID := in.LanguageID
	if langID == "" {
		langID = problem.Meta.Language
	}
	if langID == "" {
		langID = profile.Java.ID
	}
	lang, ok := s.languages.Get(langID)
	if !ok {
		return SubmitOutput{}, appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", langID)
	}

	id := uuid.NewString()
	ctx = context.WithValue(ctx, contextkey.SubmissionID, id)

	if err := s.filter.Check(in.SourceCode); err != nil {
		sub := model.NewSubmission(id, in.ProblemID, in.UserID, nil)
		sub.LanguageID = lang.ID
		sub.Reject(err.Error())
		s.queue.Record(sub)
		logger.Info(ctx, "submission rejected by import filter", zap.Int64("problem_id", in.ProblemID), zap.Error(err))
		s.onComplete(sub)
		return SubmitOutput{SubmissionID: id, Rejected: true}, nil
	}

	limits := s.limits
	if problem.Meta.TimeLimitMs > 0 {
		limits.WallTimeMs = problem.Meta.TimeLimitMs
	}
	workDir := filepath.Join(s.workRoot, id)
	tk, err := task.New(task.Config{
		SubmissionID: id,
		Source:       in.SourceCode,
		WorkDir:      workDir,
		Language:     lang,
		Cases:        problem.Cases,
		Runner:       s.runner,
		Limits:       limits,
	})
	if err != nil {
		_ = os.RemoveAll(workDir)
		return SubmitOutput{}, err
	}
	s.archiveSource(ctx, id, lang, in.SourceCode)

	sub := model.NewSubmission(id, in.ProblemID, in.UserID, tk)
	sub.LanguageID = lang.ID
	if err := s.queue.Enqueue(sub); err != nil {
		_ = os.RemoveAll(workDir)
		return SubmitOutput{}, err
	}
	position, _ := s.queue.PositionOf(id)
	logger.Info(ctx, "submission queued",
		zap.Int64("problem_id", in.ProblemID),
		zap.String("language", lang.ID),
		zap.Int("tests", len(problem.Cases)),
		zap.Int("position", position),
	)
	return SubmitOutput{SubmissionID: id, Position: position}, nil
}

// Poll reports the state of a submission: judging, queued, finished from
// memory, or finished from the status store once evicted.
func (s *Service) Poll(ctx context.Context, id string) (model.PollResponse, error) {
	if id == "" {
		return model.PollResponse{}, appErr.ValidationError("submission_id", "required")
	}
	sub, position, ok := s.queue.Lookup(id)
	if ok {
		if position >= 0 {
			return model.QueuedResponse(position), nil
		}
		return model.PollFromView(sub.Snapshot()), nil
	}
	if s.statusRepo == nil {
		return model.PollResponse{}, appErr.New(appErr.SubmissionNotFound).WithMessagef("submission %s not found", id)
	}
	ctxStatus, cancel := context.WithTimeout(ctx, s.statusTimeout)
	defer cancel()
	resp, err := s.statusRepo.Get(ctxStatus, id)
	if err == nil {
		return resp, nil
	}
	if !appErr.Is(err, appErr.SubmissionNotFound) {
		logger.Warn(ctx, "status lookup failed", zap.String("submission_id", id), zap.Error(err))
	}
	return model.PollResponse{}, appErr.New(appErr.SubmissionNotFound).WithMessagef("submission %s not found", id)
}

// Progress reports the in-flight submission's test position, or the zero
// value when idle.
func (s *Service) Progress(ctx context.Context) model.Progress {
	sub := s.queue.CurrentSubmission()
	if sub == nil {
		return model.Progress{}
	}
	view := sub.Snapshot()
	return model.Progress{
		SubmissionID: view.ID,
		TotalTests:   view.TotalTests,
		CurrentTest:  view.CurrentTest,
	}
}

// Queue lists the in-flight and pending submission ids.
func (s *Service) Queue(ctx context.Context) model.QueueView {
	view := model.QueueView{Pending: s.queue.Pending()}
	if sub := s.queue.CurrentSubmission(); sub != nil {
		view.Current = sub.ID
	}
	return view
}

func (s *Service) archiveSource(ctx context.Context, id string, lang profile.LanguageSpec, source string) {
	if s.archive == nil {
		return
	}
	key := path.Join(s.archive.Prefix, id, lang.SourceFile)
	ctxStorage, cancel := context.WithTimeout(ctx, s.statusTimeout)
	defer cancel()
	data := []byte(source)
	if err := s.archive.Storage.PutObject(ctxStorage, s.archive.Bucket, key, bytes.NewReader(data), int64(len(data)), "text/x-java-source"); err != nil {
		logger.Warn(ctx, "archive source failed", zap.String("key", key), zap.Error(err))
	}
}

// onComplete persists and publishes the final result, credits a full
// solve and removes the work dir. Failures are logged only.
func (s *Service) onComplete(sub *model.Submission) {
	ctx := context.WithValue(context.Background(), contextkey.SubmissionID, sub.ID)
	ctx, cancel := context.WithTimeout(ctx, s.statusTimeout)
	defer cancel()

	view := sub.Snapshot()
	if s.statusRepo != nil {
		if err := s.statusRepo.Save(ctx, sub.ID, model.PollFromView(view)); err != nil {
			logger.Warn(ctx, "save final status failed", zap.Error(err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishFinalStatus(ctx, model.StatusEventFromView(view)); err != nil {
			logger.Warn(ctx, "publish final status failed", zap.Error(err))
		}
	}
	if s.solved != nil && view.Accepted && view.UserID != "" {
		s.recordSolve(ctx, view)
	}
	if sub.Task != nil {
		if err := os.RemoveAll(filepath.Join(s.workRoot, sub.ID)); err != nil {
			logger.Warn(ctx, "remove work dir failed", zap.Error(err))
		}
	}
	logger.Info(ctx, "submission completed",
		zap.Bool("accepted", view.Accepted),
		zap.Int("tests_run", len(view.Results)),
		zap.Int("tests_total", view.TotalTests),
	)
}

func (s *Service) recordSolve(ctx context.Context, view model.SubmissionView) {
	problem, err := s.problems.Get(ctx, view.ProblemID)
	if err != nil {
		logger.Warn(ctx, "load problem for points failed", zap.Error(err))
		return
	}
	points, err := s.solved.RecordAccepted(ctx, view.ProblemID, view.UserID, problem.Meta.Difficulty)
	if err != nil {
		logger.Warn(ctx, "record solve failed", zap.Error(err))
		return
	}
	if points > 0 {
		logger.Info(ctx, "points awarded", zap.String("user_id", view.UserID), zap.Int64("points", points))
	}
}
