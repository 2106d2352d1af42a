package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
)

var errAlreadySettled = errors.New("job already settled")

// ExhaustedError is returned by Claim when a redelivered job has no attempts left,
// typically because earlier workers stopped mid-job.
type ExhaustedError struct {
	Record *models.JobRecord
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("job %s exhausted %d attempts", e.Record.ID, e.Record.MaxAttempts)
}

// FailureOutcome describes what the queue did with a failed job
type FailureOutcome struct {
	Retrying bool
	Delay    time.Duration
	Record   *models.JobRecord
}

// Manager couples the Badger transport with durable job records. It owns
// priorities, attempts, backoff and retention.
type Manager struct {
	transport *BadgerManager
	jobs      interfaces.JobStorage
	config    Config
	validate  *validator.Validate
	logger    arbor.ILogger

	cronMu sync.Mutex
	cron   *cron.Cron
}

// NewManager creates a queue manager
func NewManager(transport *BadgerManager, jobs interfaces.JobStorage, config Config, logger arbor.ILogger) *Manager {
	return &Manager{
		transport: transport,
		jobs:      jobs,
		config:    config,
		validate:  validator.New(),
		logger:    logger,
	}
}

// Config returns the manager's configuration
func (m *Manager) Config() Config {
	return m.config
}

// Enqueue validates the payload, persists a waiting job record and queues it
// at the step's priority.
func (m *Manager) Enqueue(ctx context.Context, payload models.JobPayload) (*models.JobRecord, error) {
	if err := m.validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("invalid job payload: %w", err)
	}

	record := &models.JobRecord{
		ID:          common.NewJobID(),
		Step:        payload.Step,
		EbookID:     payload.EbookID,
		AgencyID:    payload.AgencyID,
		Payload:     payload,
		Priority:    payload.Step.Priority(),
		State:       models.JobStateWaiting,
		MaxAttempts: m.config.Attempts,
		CreatedAt:   time.Now(),
	}

	if err := m.jobs.SaveJob(ctx, record); err != nil {
		return nil, err
	}

	msg := models.QueueMessage{JobID: record.ID, Step: record.Step}
	if err := m.transport.Enqueue(ctx, record.ID, msg, record.Priority, 0); err != nil {
		if _, markErr := m.jobs.UpdateJob(ctx, record.ID, func(job *models.JobRecord) error {
			now := time.Now()
			job.State = models.JobStateFailed
			job.FailedReason = "enqueue failed: " + err.Error()
			job.FinishedOn = &now
			return nil
		}); markErr != nil {
			m.logger.Warn().Err(markErr).Str("job_id", record.ID).Msg("Failed to mark unqueued job as failed")
		}
		return nil, fmt.Errorf("failed to enqueue job %s: %w", record.ID, err)
	}

	m.logger.Info().
		Str("job_id", record.ID).
		Str("step", string(record.Step)).
		Str("ebook_id", record.EbookID).
		Int("priority", record.Priority).
		Msg("Job enqueued")

	return record, nil
}

// Status returns the polling view of a job
func (m *Manager) Status(ctx context.Context, jobID string) (*models.JobStatusView, error) {
	record, err := m.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return record.View(), nil
}

// ListByEbook returns the jobs of an ebook, newest first
func (m *Manager) ListByEbook(ctx context.Context, ebookID string) ([]*models.JobRecord, error) {
	return m.jobs.ListJobsByEbook(ctx, ebookID)
}

// Stats returns transport-level message counts
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	return m.transport.Stats(ctx)
}

// Claim receives the next job and marks it active. Returns models.ErrNoMessage
// when nothing is ready, and *ExhaustedError for a redelivery past MaxAttempts.
func (m *Manager) Claim(ctx context.Context) (*Job, error) {
	delivery, err := m.transport.Receive(ctx)
	if err != nil {
		return nil, err
	}

	exhausted := false
	record, err := m.jobs.UpdateJob(ctx, delivery.ID, func(job *models.JobRecord) error {
		if job.State.IsTerminal() {
			return errAlreadySettled
		}
		now := time.Now()
		job.Attempts++
		if job.Attempts > job.MaxAttempts {
			exhausted = true
			job.Attempts = job.MaxAttempts
			job.State = models.JobStateFailed
			if job.FailedReason == "" {
				job.FailedReason = "attempts exhausted"
			} else {
				job.FailedReason = "attempts exhausted: " + job.FailedReason
			}
			job.FinishedOn = &now
			return nil
		}
		job.State = models.JobStateActive
		job.ProcessedOn = &now
		job.NextRunAt = nil
		return nil
	})

	switch {
	case errors.Is(err, models.ErrJobNotFound), errors.Is(err, errAlreadySettled):
		m.logger.Warn().Err(err).Str("job_id", delivery.ID).Msg("Dropping queue message without a runnable job record")
		if ackErr := m.transport.Ack(ctx, delivery.ID); ackErr != nil {
			m.logger.Warn().Err(ackErr).Str("job_id", delivery.ID).Msg("Failed to drop queue message")
		}
		return nil, models.ErrNoMessage
	case err != nil:
		// Leave the message for redelivery
		if relErr := m.transport.Release(ctx, delivery.ID); relErr != nil {
			m.logger.Warn().Err(relErr).Str("job_id", delivery.ID).Msg("Failed to release message after claim error")
		}
		return nil, fmt.Errorf("failed to claim job %s: %w", delivery.ID, err)
	}

	if exhausted {
		if ackErr := m.transport.Ack(ctx, delivery.ID); ackErr != nil {
			m.logger.Warn().Err(ackErr).Str("job_id", delivery.ID).Msg("Failed to remove exhausted message")
		}
		m.prune(ctx, models.JobStateFailed)
		return nil, &ExhaustedError{Record: record}
	}

	return &Job{Record: record, manager: m, progress: record.Progress}, nil
}

// Extend keeps a claimed job's message hidden for another timeout
func (m *Manager) Extend(ctx context.Context, job *Job, timeout time.Duration) error {
	return m.transport.Extend(ctx, job.ID(), timeout)
}

// Complete records a successful job and removes its message. A record that
// is already terminal is left untouched and errAlreadySettled is returned.
func (m *Manager) Complete(ctx context.Context, job *Job, result *models.JobResult) error {
	record, err := m.jobs.UpdateJob(ctx, job.ID(), func(r *models.JobRecord) error {
		if r.State.IsTerminal() {
			return errAlreadySettled
		}
		now := time.Now()
		r.State = models.JobStateCompleted
		r.Progress = 100
		r.ReturnValue = result
		r.FailedReason = ""
		r.FinishedOn = &now
		return nil
	})
	if err != nil {
		// Message stays hidden and is redelivered after the visibility timeout
		return fmt.Errorf("failed to complete job %s: %w", job.ID(), err)
	}
	job.Record = record

	if err := m.transport.Ack(ctx, job.ID()); err != nil {
		return fmt.Errorf("failed to ack job %s: %w", job.ID(), err)
	}

	m.prune(ctx, models.JobStateCompleted)
	return nil
}

// Fail records a failed attempt. Retryable failures with attempts left are
// delayed by backoff; everything else moves to the failed set. Like Complete,
// it never rewrites a terminal record.
func (m *Manager) Fail(ctx context.Context, job *Job, cause error) (*FailureOutcome, error) {
	outcome := &FailureOutcome{}
	if !IsPermanent(cause) && job.Record.Attempts < job.Record.MaxAttempts {
		outcome.Retrying = true
		outcome.Delay = m.config.Backoff.Delay(job.Record.Attempts)
	}

	record, err := m.jobs.UpdateJob(ctx, job.ID(), func(r *models.JobRecord) error {
		if r.State.IsTerminal() {
			return errAlreadySettled
		}
		now := time.Now()
		r.FailedReason = cause.Error()
		if outcome.Retrying {
			next := now.Add(outcome.Delay)
			r.State = models.JobStateDelayed
			r.NextRunAt = &next
		} else {
			r.State = models.JobStateFailed
			r.FinishedOn = &now
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record failure of job %s: %w", job.ID(), err)
	}
	job.Record = record
	outcome.Record = record

	if outcome.Retrying {
		if err := m.transport.Retry(ctx, job.ID(), outcome.Delay); err != nil {
			return outcome, fmt.Errorf("failed to schedule retry of job %s: %w", job.ID(), err)
		}
		return outcome, nil
	}

	if err := m.transport.Ack(ctx, job.ID()); err != nil {
		return outcome, fmt.Errorf("failed to remove failed job %s: %w", job.ID(), err)
	}
	m.prune(ctx, models.JobStateFailed)
	return outcome, nil
}

// Release returns an interrupted job to the queue without consuming an attempt
func (m *Manager) Release(ctx context.Context, job *Job) error {
	record, err := m.jobs.UpdateJob(ctx, job.ID(), func(r *models.JobRecord) error {
		r.State = models.JobStateWaiting
		if r.Attempts > 0 {
			r.Attempts--
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to release job %s: %w", job.ID(), err)
	}
	job.Record = record
	return m.transport.Release(ctx, job.ID())
}

// Cleanup prunes terminal job records beyond the retention bounds
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	completed, err := m.jobs.PruneJobs(ctx, models.JobStateCompleted, m.config.KeepCompleted, m.config.CompletedMaxAge)
	if err != nil {
		return completed, err
	}
	failed, err := m.jobs.PruneJobs(ctx, models.JobStateFailed, m.config.KeepFailed, m.config.FailedMaxAge)
	return completed + failed, err
}

// StartCleanup runs Cleanup on the configured cron schedule
func (m *Manager) StartCleanup() error {
	if m.config.CleanupSchedule == "" {
		return nil
	}

	m.cronMu.Lock()
	defer m.cronMu.Unlock()
	if m.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(m.config.CleanupSchedule, func() {
		removed, err := m.Cleanup(context.Background())
		if err != nil {
			m.logger.Warn().Err(err).Msg("Scheduled job cleanup failed")
			return
		}
		m.logger.Debug().Int("removed", removed).Msg("Scheduled job cleanup finished")
	}); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", m.config.CleanupSchedule, err)
	}
	c.Start()
	m.cron = c

	m.logger.Debug().Str("schedule", m.config.CleanupSchedule).Msg("Job cleanup scheduled")
	return nil
}

// StopCleanup stops the cleanup schedule and waits for a running cleanup
func (m *Manager) StopCleanup() {
	m.cronMu.Lock()
	defer m.cronMu.Unlock()
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
	m.cron = nil
}

func (m *Manager) prune(ctx context.Context, state models.JobState) {
	keep, maxAge := m.config.KeepCompleted, m.config.CompletedMaxAge
	if state == models.JobStateFailed {
		keep, maxAge = m.config.KeepFailed, m.config.FailedMaxAge
	}
	if _, err := m.jobs.PruneJobs(ctx, state, keep, maxAge); err != nil {
		m.logger.Warn().Err(err).Str("state", string(state)).Msg("Failed to prune job records")
	}
}

// Job is a claimed job handed to a handler
type Job struct {
	Record *models.JobRecord

	manager    *Manager
	mu         sync.Mutex
	progress   int
	onProgress func(job *Job, progress int)
}

// ID returns the job ID
func (j *Job) ID() string {
	return j.Record.ID
}

// Payload returns the producer-supplied data
func (j *Job) Payload() models.JobPayload {
	return j.Record.Payload
}

// Attempt returns the 1-based attempt number of this run
func (j *Job) Attempt() int {
	return j.Record.Attempts
}

// Progress returns the last reported progress
func (j *Job) Progress() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

// UpdateProgress records progress in [0,100]. Values lower than the last
// reported progress are ignored.
func (j *Job) UpdateProgress(ctx context.Context, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	j.mu.Lock()
	if progress <= j.progress {
		j.mu.Unlock()
		return nil
	}
	j.progress = progress
	j.mu.Unlock()

	if j.manager != nil {
		if err := j.manager.jobs.UpdateProgress(ctx, j.ID(), progress); err != nil {
			return err
		}
	}
	if j.onProgress != nil {
		j.onProgress(j, progress)
	}
	return nil
}

// NewJob wraps a record in a Job that is not backed by the queue. Progress is
// tracked in memory only.
func NewJob(record *models.JobRecord) *Job {
	return &Job{Record: record, progress: record.Progress}
}
