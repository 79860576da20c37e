// Package spec defines the process execution specification and its limits.
package spec

import "time"

// DefaultWallTimeMs is the deadline applied when none is configured.
const DefaultWallTimeMs int64 = 5000

// ResourceLimit describes limits enforced on one execution. Only the wall
// clock is enforced; the rest are bounds on what is captured.
type ResourceLimit struct {
	WallTimeMs     int64 `yaml:"wallTimeMs"`
	StderrMaxBytes int64 `yaml:"stderrMaxBytes"`
}

// WallTime returns the deadline as a duration, falling back to the default.
func (l ResourceLimit) WallTime() time.Duration {
	ms := l.WallTimeMs
	if ms <= 0 {
		ms = DefaultWallTimeMs
	}
	return time.Duration(ms) * time.Millisecond
}

// RunSpec is the execution specification for one process. Cmd is an argument
// vector and is never passed through a shell.
type RunSpec struct {
	SubmissionID string
	Label        string
	WorkDir      string
	Cmd          []string
	Env          []string
	StdinPath    string
	StdoutPath   string
	Limits       ResourceLimit
}
