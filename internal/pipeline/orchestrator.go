package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
	"github.com/ternarybob/folio/internal/queue"
	"golang.org/x/time/rate"
)

// StageFailure is returned when a stage fails after it started changing the
// ebook. Err is the cause; PersistErr is set when recording ERROR on the
// ebook also failed.
type StageFailure struct {
	Step       models.JobStep
	EbookID    string
	Err        error
	PersistErr error
}

func (f *StageFailure) Error() string {
	msg := fmt.Sprintf("%s stage failed for ebook %s: %v", f.Step, f.EbookID, f.Err)
	if f.PersistErr != nil {
		msg += fmt.Sprintf(" (status not recorded: %v)", f.PersistErr)
	}
	return msg
}

func (f *StageFailure) Unwrap() error {
	return f.Err
}

// Orchestrator implements the description, content and pdf job handlers
type Orchestrator struct {
	ebooks    interfaces.EbookStorage
	generator interfaces.ContentGenerator
	renderer  interfaces.DocumentRenderer
	artifacts interfaces.ArtifactStore
	limiter   *rate.Limiter
	config    common.PipelineConfig
	logger    arbor.ILogger
}

// NewOrchestrator wires the stage handlers to their collaborators. The chapter
// limiter is shared by every content job this orchestrator runs.
func NewOrchestrator(
	ebooks interfaces.EbookStorage,
	generator interfaces.ContentGenerator,
	renderer interfaces.DocumentRenderer,
	artifacts interfaces.ArtifactStore,
	config common.PipelineConfig,
	logger arbor.ILogger,
) (*Orchestrator, error) {
	if ebooks == nil {
		return nil, fmt.Errorf("ebook storage is required")
	}
	if generator == nil {
		return nil, fmt.Errorf("content generator is required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("document renderer is required")
	}
	if artifacts == nil {
		return nil, fmt.Errorf("artifact store is required")
	}

	return &Orchestrator{
		ebooks:    ebooks,
		generator: generator,
		renderer:  renderer,
		artifacts: artifacts,
		limiter:   newChapterLimiter(config),
		config:    config,
		logger:    logger,
	}, nil
}

func newChapterLimiter(config common.PipelineConfig) *rate.Limiter {
	burst := config.ChapterBurst
	if burst < 1 {
		burst = 1
	}
	interval := common.Duration(config.ChapterInterval, time.Second)
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, burst)
	}
	return rate.NewLimiter(rate.Every(interval), burst)
}

// Register binds the stage handlers to a worker pool
func (o *Orchestrator) Register(pool *queue.WorkerPool) {
	pool.RegisterHandler(models.JobStepDescription, o.HandleDescription)
	pool.RegisterHandler(models.JobStepContent, o.HandleContent)
	pool.RegisterHandler(models.JobStepPDF, o.HandlePDF)
}

// load re-reads the ebook and checks the job belongs to its agency
func (o *Orchestrator) load(ctx context.Context, payload models.JobPayload) (*models.Ebook, error) {
	ebook, err := o.ebooks.GetEbook(ctx, payload.EbookID)
	if err != nil {
		return nil, err
	}
	if ebook.AgencyID != payload.AgencyID {
		return nil, models.PreconditionError("ebook %s does not belong to agency %s", payload.EbookID, payload.AgencyID)
	}
	return ebook, nil
}

// fail classifies a stage error for the queue. Precondition and not-found
// errors leave the ebook untouched and are not retried. Everything else marks
// the ebook ERROR and is retried.
func (o *Orchestrator) fail(ctx context.Context, step models.JobStep, ebookID string, err error) error {
	if errors.Is(err, models.ErrPrecondition) || errors.Is(err, models.ErrEbookNotFound) {
		o.logger.Warn().Err(err).Str("step", string(step)).Str("ebook_id", ebookID).Msg("Stage precondition failed")
		return queue.Permanent(err)
	}

	// Interrupted by shutdown; the job is requeued and the ebook keeps its in-progress status
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}

	failure := &StageFailure{Step: step, EbookID: ebookID, Err: err}
	if markErr := o.ebooks.MarkError(context.WithoutCancel(ctx), ebookID, err.Error()); markErr != nil {
		failure.PersistErr = markErr
		o.logger.Warn().
			Err(markErr).
			Str("step", string(step)).
			Str("ebook_id", ebookID).
			Msg("Failed to record ERROR status on ebook")
	}
	return failure
}

func progress(ctx context.Context, job *queue.Job, logger arbor.ILogger, value int) {
	if err := job.UpdateProgress(ctx, value); err != nil {
		logger.Warn().Err(err).Str("job_id", job.ID()).Int("progress", value).Msg("Failed to record job progress")
	}
}
