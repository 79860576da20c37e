package model

import (
	"time"

	"codejudge/internal/judge/sandbox/result"
)

// PendingCode fills test slots that have not produced a result.
const PendingCode = "Pending"

// PollResponse is what a poller sees for one submission. Exactly one of
// Tests, Queued or Error is meaningful; Completed tells the client to stop.
type PollResponse struct {
	Tests     []string `json:"tests,omitempty"`
	Queued    bool     `json:"queued,omitempty"`
	Position  *int     `json:"position,omitempty"`
	Error     string   `json:"error,omitempty"`
	Completed bool     `json:"completed"`
}

// QueuedResponse reports a submission still waiting at position.
func QueuedResponse(position int) PollResponse {
	return PollResponse{Queued: true, Position: &position}
}

// PollFromView renders a snapshot. Rejections, failures and compile errors
// all surface as an error and complete the poll.
func PollFromView(v SubmissionView) PollResponse {
	switch {
	case v.Rejection != "":
		return PollResponse{Error: v.Rejection, Completed: true}
	case v.Failure != "":
		return PollResponse{Error: v.Failure, Completed: true}
	case v.Compile != nil && !v.Compile.OK():
		return PollResponse{Error: v.Compile.Message, Completed: true}
	}

	tests := make([]string, v.TotalTests)
	for i := range tests {
		tests[i] = PendingCode
		if i < len(v.Results) {
			tests[i] = v.Results[i].Code.Short()
		}
	}
	completed := v.Status == StatusCompleted
	if !completed && len(v.Results) > 0 && !v.Results[len(v.Results)-1].Accepted() {
		completed = true
	}
	return PollResponse{Tests: tests, Completed: completed}
}

// Progress reports the in-flight submission's position in its tests.
type Progress struct {
	SubmissionID string `json:"submissionId,omitempty"`
	TotalTests   int    `json:"totalTests"`
	CurrentTest  int    `json:"currentTest"`
}

// QueueView lists the in-flight submission and the pending FIFO.
type QueueView struct {
	Current string   `json:"current,omitempty"`
	Pending []string `json:"pending"`
}

// StatusEvent is the final status published when a submission completes.
type StatusEvent struct {
	SubmissionID string              `json:"submission_id"`
	ProblemID    int64               `json:"problem_id"`
	UserID       string              `json:"user_id"`
	LanguageID   string              `json:"language_id"`
	Status       SubmissionStatus    `json:"status"`
	Accepted     bool                `json:"accepted"`
	Results      []result.TestResult `json:"results"`
	Error        string              `json:"error,omitempty"`
	FinishedAt   int64               `json:"finished_at"`
}

// StatusEventFromView builds the completion event for a snapshot.
func StatusEventFromView(v SubmissionView) StatusEvent {
	finished := v.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	return StatusEvent{
		SubmissionID: v.ID,
		ProblemID:    v.ProblemID,
		UserID:       v.UserID,
		LanguageID:   v.LanguageID,
		Status:       v.Status,
		Accepted:     v.Accepted,
		Results:      v.Results,
		Error:        PollFromView(v).Error,
		FinishedAt:   finished.Unix(),
	}
}
