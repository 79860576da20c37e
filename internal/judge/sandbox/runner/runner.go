package runner

import (
	"context"

	"codejudge/internal/judge/sandbox/profile"
	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/spec"
)

// CompileRequest describes one compilation. The source must already be
// written to WorkDir/Language.SourceFile.
type CompileRequest struct {
	SubmissionID string
	WorkDir      string
	Language     profile.LanguageSpec
}

// RunRequest describes one test execution.
type RunRequest struct {
	SubmissionID string
	Label        string
	WorkDir      string
	Language     profile.LanguageSpec
	InputPath    string
	ExpectedPath string
	OutputPath   string
	Limits       spec.ResourceLimit
}

// Runner orchestrates compile and run workflows.
type Runner interface {
	Compile(ctx context.Context, req CompileRequest) (result.CompileOutcome, error)
	Run(ctx context.Context, req RunRequest) (result.TestResult, error)
}
