package models

import (
	"fmt"
	"time"
)

// JobStep names a pipeline stage; it doubles as the queue job kind
type JobStep string

const (
	JobStepDescription JobStep = "description"
	JobStepContent     JobStep = "content"
	JobStepPDF         JobStep = "pdf"
)

// ParseJobStep validates a step name coming from a caller
func ParseJobStep(s string) (JobStep, error) {
	switch step := JobStep(s); step {
	case JobStepDescription, JobStepContent, JobStepPDF:
		return step, nil
	default:
		return "", fmt.Errorf("unknown job step %q", s)
	}
}

// Priority returns the queue priority of a step. Lower is served first so
// cheap outline requests are not stuck behind long content runs.
func (s JobStep) Priority() int {
	switch s {
	case JobStepDescription:
		return 1
	case JobStepContent:
		return 2
	case JobStepPDF:
		return 3
	default:
		return 9
	}
}

// JobState is the queue-side state of a job record
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateDelayed   JobState = "delayed"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// IsTerminal reports whether the job will not run again
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// JobPayload is the producer-supplied data of a job
type JobPayload struct {
	EbookID             string       `json:"ebookId" validate:"required"`
	AgencyID            string       `json:"agencyId" validate:"required"`
	Title               string       `json:"title,omitempty"`
	TargetAudience      string       `json:"targetAudience,omitempty"`
	Industry            string       `json:"industry,omitempty"`
	Step                JobStep      `json:"step" validate:"required,oneof=description content pdf"`
	ApprovedDescription *Description `json:"approvedDescription,omitempty"`
}

// JobResult is the small summary a successful handler returns
type JobResult struct {
	Success   bool    `json:"success"`
	EbookID   string  `json:"ebookId"`
	Step      JobStep `json:"step"`
	Reference string  `json:"reference,omitempty"` // e.g. the artifact URL
	Message   string  `json:"message,omitempty"`
}

// JobRecord is the durable record of one queued job
type JobRecord struct {
	ID           string     `json:"id" badgerhold:"key"`
	Step         JobStep    `json:"step"`
	EbookID      string     `json:"ebook_id" badgerhold:"index"`
	AgencyID     string     `json:"agency_id"`
	Payload      JobPayload `json:"data"`
	Priority     int        `json:"priority"`
	State        JobState   `json:"state" badgerhold:"index"`
	Progress     int        `json:"progress"`
	Attempts     int        `json:"attempts_made"`
	MaxAttempts  int        `json:"max_attempts"`
	FailedReason string     `json:"failed_reason,omitempty"`
	ReturnValue  *JobResult `json:"return_value,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ProcessedOn  *time.Time `json:"processed_on,omitempty"`
	FinishedOn   *time.Time `json:"finished_on,omitempty"`
	NextRunAt    *time.Time `json:"next_run_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// JobStatusView is what the UI polls
type JobStatusView struct {
	ID           string     `json:"id"`
	State        JobState   `json:"state"`
	Progress     int        `json:"progress"`
	Data         JobPayload `json:"data"`
	Attempts     int        `json:"attemptsMade"`
	ProcessedOn  *time.Time `json:"processedOn,omitempty"`
	FinishedOn   *time.Time `json:"finishedOn,omitempty"`
	FailedReason string     `json:"failedReason,omitempty"`
	ReturnValue  *JobResult `json:"returnValue,omitempty"`
}

// View projects the record onto the polling shape
func (r *JobRecord) View() *JobStatusView {
	return &JobStatusView{
		ID:           r.ID,
		State:        r.State,
		Progress:     r.Progress,
		Data:         r.Payload,
		Attempts:     r.Attempts,
		ProcessedOn:  r.ProcessedOn,
		FinishedOn:   r.FinishedOn,
		FailedReason: r.FailedReason,
		ReturnValue:  r.ReturnValue,
	}
}
