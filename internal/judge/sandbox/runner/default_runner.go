// Package runner compiles submissions and runs them against single tests.
package runner

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/shlex"

	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/sandbox/observer"
	"codejudge/internal/judge/sandbox/profile"
	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/spec"
	appErr "codejudge/pkg/errors"
)

const (
	compileLabel = "compile"
	// maxLineBytes bounds a single output line during comparison.
	maxLineBytes = 64 << 20
)

// DefaultRunner implements compile/run workflows on top of an Engine.
type DefaultRunner struct {
	eng     engine.Engine
	metrics observer.MetricsRecorder
}

// NewRunner creates a new runner backed by the engine.
func NewRunner(eng engine.Engine) *DefaultRunner {
	return NewRunnerWithObserver(eng, observer.NoopMetricsRecorder{})
}

// NewRunnerWithObserver creates a new runner with metrics hooks.
func NewRunnerWithObserver(eng engine.Engine, metrics observer.MetricsRecorder) *DefaultRunner {
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	return &DefaultRunner{eng: eng, metrics: metrics}
}

// Compile runs the language's compile command once. Anything written to the
// compiler's error stream counts as a compile error.
func (r *DefaultRunner) Compile(ctx context.Context, req CompileRequest) (result.CompileOutcome, error) {
	if err := validateCompileRequest(req); err != nil {
		return result.CompileOutcome{}, err
	}
	if !req.Language.CompileEnabled {
		return result.CompileOutcome{Code: result.CompileSuccessful}, nil
	}
	cmd, err := buildCommand(req.Language.CompileCmdTpl, req.Language, req.WorkDir)
	if err != nil {
		return result.CompileOutcome{}, err
	}

	runRes, err := r.eng.Run(ctx, spec.RunSpec{
		SubmissionID: req.SubmissionID,
		Label:        compileLabel,
		WorkDir:      req.WorkDir,
		Cmd:          cmd,
		Env:          req.Language.Env,
		Limits:       spec.ResourceLimit{WallTimeMs: req.Language.CompileTimeoutMs},
	})
	if err != nil {
		r.metrics.ObserveCompile(ctx, req.Language.ID, false, runRes.TimeMs)
		return result.CompileOutcome{}, err
	}

	outcome := result.CompileOutcome{Code: result.CompileSuccessful}
	switch {
	case runRes.TimedOut:
		outcome = result.CompileOutcome{Code: result.CompileError, Message: "compilation timed out"}
	case runRes.Stderr != "":
		outcome = result.CompileOutcome{Code: result.CompileError, Message: runRes.Stderr}
	}
	r.metrics.ObserveCompile(ctx, req.Language.ID, outcome.OK(), runRes.TimeMs)
	return outcome, nil
}

// Run executes the artifact with stdin from the input file and stdout to the
// scratch file. A deadline hit yields TIME_LIMIT_EXCEEDED without reading
// either file; otherwise the line-joined outputs decide AC or WA.
func (r *DefaultRunner) Run(ctx context.Context, req RunRequest) (result.TestResult, error) {
	if err := validateRunRequest(req); err != nil {
		return result.TestResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return result.TestResult{}, appErr.Wrapf(err, appErr.JudgeSystemError, "create output dir failed")
	}
	cmd, err := buildCommand(req.Language.RunCmdTpl, req.Language, req.WorkDir)
	if err != nil {
		return result.TestResult{}, err
	}

	runRes, err := r.eng.Run(ctx, spec.RunSpec{
		SubmissionID: req.SubmissionID,
		Label:        req.Label,
		WorkDir:      req.WorkDir,
		Cmd:          cmd,
		Env:          req.Language.Env,
		StdinPath:    req.InputPath,
		StdoutPath:   req.OutputPath,
		Limits:       req.Limits,
	})
	if err != nil {
		r.metrics.ObserveRun(ctx, req.Language.ID, result.InternalError.Short(), runRes.TimeMs)
		return result.TestResult{}, err
	}

	res := result.TestResult{Code: result.TimeLimitExceeded}
	if !runRes.TimedOut {
		same, err := SameOutput(req.ExpectedPath, req.OutputPath)
		if err != nil {
			return result.TestResult{}, err
		}
		res.Code = result.WrongAnswer
		if same {
			res.Code = result.Accepted
		}
	}
	r.metrics.ObserveRun(ctx, req.Language.ID, res.Code.Short(), runRes.TimeMs)
	return res, nil
}

// SameOutput reports whether two files are equal once each is read line by
// line and the lines are joined with no separator.
func SameOutput(expectedPath, actualPath string) (bool, error) {
	expected, err := joinedLines(expectedPath)
	if err != nil {
		return false, err
	}
	actual, err := joinedLines(actualPath)
	if err != nil {
		return false, err
	}
	return expected == actual, nil
}

func joinedLines(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.JudgeSystemError, "open %s failed", filepath.Base(path))
	}
	defer f.Close()

	var sb strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		sb.Write(scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		return "", appErr.Wrapf(err, appErr.JudgeSystemError, "read %s failed", filepath.Base(path))
	}
	return sb.String(), nil
}

func validateCompileRequest(req CompileRequest) error {
	if req.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if req.WorkDir == "" {
		return appErr.ValidationError("work_dir", "required")
	}
	if req.Language.ID == "" {
		return appErr.ValidationError("language_id", "required")
	}
	return nil
}

func validateRunRequest(req RunRequest) error {
	if req.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if req.WorkDir == "" {
		return appErr.ValidationError("work_dir", "required")
	}
	if req.Language.ID == "" {
		return appErr.ValidationError("language_id", "required")
	}
	if req.InputPath == "" {
		return appErr.ValidationError("input_path", "required")
	}
	if req.ExpectedPath == "" {
		return appErr.ValidationError("expected_path", "required")
	}
	if req.OutputPath == "" {
		return appErr.ValidationError("output_path", "required")
	}
	return nil
}

// buildCommand expands the placeholders and splits the template into an
// argument vector. Paths are substituted after splitting so a space in a
// path never produces an extra argument.
func buildCommand(tpl string, lang profile.LanguageSpec, workDir string) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template is required")
	}
	fields, err := shlex.Split(tpl)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	replacer := strings.NewReplacer(
		"{src}", filepath.Join(workDir, lang.SourceFile),
		"{dir}", workDir,
		"{class}", lang.ArtifactName(),
	)
	for i, f := range fields {
		fields[i] = replacer.Replace(f)
	}
	return fields, nil
}
