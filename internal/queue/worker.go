package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/models"
)

// Handler processes one job and returns its result summary
type Handler func(ctx context.Context, job *Job) (*models.JobResult, error)

// EventType names a job lifecycle event
type EventType string

const (
	EventActive    EventType = "active"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventRetrying  EventType = "retrying"
	EventFailed    EventType = "failed"
	EventRequeued  EventType = "requeued"
)

// Event is emitted to the pool's EventListener
type Event struct {
	Type     EventType
	JobID    string
	Step     models.JobStep
	EbookID  string
	Attempt  int
	Progress int
	Delay    time.Duration
	Duration time.Duration
	Result   *models.JobResult
	Err      error
}

// EventListener receives job lifecycle events. It is called synchronously
// from worker goroutines and must not block.
type EventListener func(Event)

// LogEvents returns a listener that writes events to logger
func LogEvents(logger arbor.ILogger) EventListener {
	return func(e Event) {
		switch e.Type {
		case EventActive:
			logger.Info().Str("job_id", e.JobID).Str("step", string(e.Step)).Str("ebook_id", e.EbookID).Int("attempt", e.Attempt).Msg("Job started")
		case EventProgress:
			logger.Debug().Str("job_id", e.JobID).Int("progress", e.Progress).Msg("Job progress")
		case EventCompleted:
			logger.Info().Str("job_id", e.JobID).Str("step", string(e.Step)).Str("ebook_id", e.EbookID).Dur("duration", e.Duration).Msg("Job completed")
		case EventRetrying:
			logger.Warn().Err(e.Err).Str("job_id", e.JobID).Str("step", string(e.Step)).Int("attempt", e.Attempt).Dur("retry_in", e.Delay).Msg("Job failed, retrying")
		case EventFailed:
			logger.Error().Err(e.Err).Str("job_id", e.JobID).Str("step", string(e.Step)).Str("ebook_id", e.EbookID).Int("attempt", e.Attempt).Msg("Job failed")
		case EventRequeued:
			logger.Warn().Str("job_id", e.JobID).Str("step", string(e.Step)).Msg("Job interrupted by shutdown, requeued")
		}
	}
}

// WorkerPool runs a bounded number of workers that claim and process jobs
type WorkerPool struct {
	manager  *Manager
	handlers map[models.JobStep]Handler
	listener EventListener
	logger   arbor.ILogger

	mu          sync.Mutex
	running     bool
	pollCancel  context.CancelFunc
	jobCtx      context.Context
	jobCancel   context.CancelFunc
	workersDone sync.WaitGroup
}

// NewWorkerPool creates a new worker pool. A nil listener logs events.
func NewWorkerPool(manager *Manager, listener EventListener, logger arbor.ILogger) *WorkerPool {
	if listener == nil {
		listener = LogEvents(logger)
	}
	return &WorkerPool{
		manager:  manager,
		handlers: make(map[models.JobStep]Handler),
		listener: listener,
		logger:   logger,
	}
}

// RegisterHandler registers the handler for a step
func (wp *WorkerPool) RegisterHandler(step models.JobStep, handler Handler) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.handlers[step] = handler
	wp.logger.Debug().Str("step", string(step)).Msg("Job handler registered")
}

// Start starts the worker goroutines
func (wp *WorkerPool) Start() error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.running {
		return fmt.Errorf("worker pool already running")
	}
	if len(wp.handlers) == 0 {
		return fmt.Errorf("no job handlers registered")
	}

	config := wp.manager.Config()
	pollCtx, pollCancel := context.WithCancel(context.Background())
	wp.jobCtx, wp.jobCancel = context.WithCancel(context.Background())
	wp.pollCancel = pollCancel
	wp.running = true

	wp.logger.Info().
		Int("concurrency", config.Concurrency).
		Dur("poll_interval", config.PollInterval).
		Msg("Starting worker pool")

	for i := 0; i < config.Concurrency; i++ {
		wp.workersDone.Add(1)
		go wp.worker(pollCtx, i, config)
	}

	return nil
}

// Stop stops polling and waits for in-flight jobs. Jobs still running after
// the shutdown timeout are cancelled and requeued without consuming an attempt.
func (wp *WorkerPool) Stop() error {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return nil
	}
	wp.running = false
	wp.pollCancel()
	jobCancel := wp.jobCancel
	wp.mu.Unlock()

	wp.logger.Info().Msg("Stopping worker pool")

	done := make(chan struct{})
	go func() {
		wp.workersDone.Wait()
		close(done)
	}()

	timeout := wp.manager.Config().ShutdownTimeout
	select {
	case <-done:
		jobCancel()
		wp.logger.Info().Msg("Worker pool stopped")
		return nil
	case <-time.After(timeout):
		wp.logger.Warn().Dur("timeout", timeout).Msg("In-flight jobs did not finish in time, cancelling")
		jobCancel()
	}

	<-done
	wp.logger.Info().Msg("Worker pool stopped after cancelling in-flight jobs")
	return nil
}

func (wp *WorkerPool) worker(pollCtx context.Context, workerID int, config Config) {
	defer wp.workersDone.Done()

	// Stagger starts across the poll interval to spread claims
	staggerDelay := (config.PollInterval / time.Duration(config.Concurrency)) * time.Duration(workerID)
	if staggerDelay > 0 {
		select {
		case <-pollCtx.Done():
			return
		case <-time.After(staggerDelay):
		}
	}

	wp.logger.Debug().Int("worker_id", workerID).Dur("stagger_delay", staggerDelay).Msg("Worker started")

	ticker := time.NewTicker(config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pollCtx.Done():
			wp.logger.Debug().Int("worker_id", workerID).Msg("Worker stopped")
			return
		case <-ticker.C:
			// Drain whatever is ready before waiting for the next tick
			for pollCtx.Err() == nil {
				processed, err := wp.processNext(pollCtx, workerID)
				if err != nil {
					wp.logger.Warn().Err(err).Int("worker_id", workerID).Msg("Error processing job")
				}
				if !processed {
					break
				}
			}
		}
	}
}

// processNext claims and runs one job. processed is false when the queue had nothing ready.
func (wp *WorkerPool) processNext(pollCtx context.Context, workerID int) (bool, error) {
	job, err := wp.manager.Claim(pollCtx)
	if err != nil {
		var exhausted *ExhaustedError
		switch {
		case errors.Is(err, models.ErrNoMessage), errors.Is(err, context.Canceled):
			return false, nil
		case errors.As(err, &exhausted):
			wp.emit(Event{
				Type:    EventFailed,
				JobID:   exhausted.Record.ID,
				Step:    exhausted.Record.Step,
				EbookID: exhausted.Record.EbookID,
				Attempt: exhausted.Record.Attempts,
				Err:     err,
			})
			return true, nil
		default:
			return false, err
		}
	}

	wp.run(job, workerID)
	return true, nil
}

func (wp *WorkerPool) run(job *Job, workerID int) {
	ctx := wp.jobCtx
	record := job.Record
	base := Event{JobID: record.ID, Step: record.Step, EbookID: record.EbookID, Attempt: record.Attempts}

	job.onProgress = func(j *Job, progress int) {
		e := base
		e.Type = EventProgress
		e.Progress = progress
		wp.emit(e)
	}

	wp.mu.Lock()
	handler, ok := wp.handlers[record.Step]
	wp.mu.Unlock()

	active := base
	active.Type = EventActive
	wp.emit(active)

	start := time.Now()
	var result *models.JobResult
	var err error
	if !ok {
		err = Permanent(fmt.Errorf("no handler for step %q", record.Step))
	} else {
		stopHeartbeat := wp.heartbeat(ctx, job, workerID)
		result, err = wp.invoke(ctx, handler, job)
		stopHeartbeat()
	}
	duration := time.Since(start)

	// Settle with a fresh context so shutdown cannot strand the job record
	settleCtx := context.Background()

	if err != nil && ctx.Err() != nil {
		if relErr := wp.manager.Release(settleCtx, job); relErr != nil {
			wp.logger.Warn().Err(relErr).Str("job_id", record.ID).Int("worker_id", workerID).Msg("Failed to requeue interrupted job")
		}
		e := base
		e.Type = EventRequeued
		e.Err = err
		wp.emit(e)
		return
	}

	if err != nil {
		outcome, failErr := wp.manager.Fail(settleCtx, job, err)
		if errors.Is(failErr, errAlreadySettled) {
			wp.logger.Warn().Err(err).Str("job_id", record.ID).Int("worker_id", workerID).Msg("Discarding failure of an already settled job")
			return
		}
		if failErr != nil {
			wp.logger.Error().Err(failErr).Str("job_id", record.ID).Msg("Failed to record job failure")
		}
		e := base
		e.Err = err
		e.Duration = duration
		if outcome != nil && outcome.Retrying {
			e.Type = EventRetrying
			e.Delay = outcome.Delay
		} else {
			e.Type = EventFailed
		}
		wp.emit(e)
		return
	}

	if err := wp.manager.Complete(settleCtx, job, result); err != nil {
		if errors.Is(err, errAlreadySettled) {
			wp.logger.Warn().Str("job_id", record.ID).Int("worker_id", workerID).Msg("Discarding result of an already settled job")
			return
		}
		wp.logger.Error().Err(err).Str("job_id", record.ID).Msg("Failed to record job completion")
		return
	}
	e := base
	e.Type = EventCompleted
	e.Result = result
	e.Duration = duration
	wp.emit(e)
}

// heartbeat keeps a claimed message hidden while its handler runs. The
// returned func stops the renewals and waits for the last one to finish, so
// settling never races an Extend on the same message.
func (wp *WorkerPool) heartbeat(ctx context.Context, job *Job, workerID int) func() {
	timeout := wp.manager.Config().VisibilityTimeout
	interval := timeout / 3
	if interval <= 0 {
		return func() {}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := wp.manager.Extend(ctx, job, timeout); err != nil {
					wp.logger.Warn().Err(err).Str("job_id", job.ID()).Int("worker_id", workerID).Msg("Failed to extend job visibility")
				}
			}
		}
	}()

	return func() {
		close(stop)
		<-done
	}
}

func (wp *WorkerPool) invoke(ctx context.Context, handler Handler, job *Job) (result *models.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error().
				Str("job_id", job.ID()).
				Str("stack", string(debug.Stack())).
				Msgf("Job handler panicked: %v", r)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (wp *WorkerPool) emit(e Event) {
	if wp.listener != nil {
		wp.listener(e)
	}
}
