package ebooks

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
)

// CreateRequest is the input for a new ebook
type CreateRequest struct {
	AgencyID       string `json:"agency_id" validate:"required"`
	Title          string `json:"title" validate:"required,max=200"`
	TargetAudience string `json:"target_audience" validate:"max=200"`
	Industry       string `json:"industry" validate:"max=200"`
}

// Service is the producer side of the pipeline: it creates ebooks, records
// approvals and enqueues stage jobs. It never runs a stage itself.
type Service struct {
	ebooks   interfaces.EbookStorage
	jobs     interfaces.JobQueue
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewService creates a new ebook service
func NewService(ebooks interfaces.EbookStorage, jobs interfaces.JobQueue, logger arbor.ILogger) *Service {
	return &Service{
		ebooks:   ebooks,
		jobs:     jobs,
		validate: validator.New(),
		logger:   logger,
	}
}

// Create stores a new ebook in CREATED status
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Ebook, error) {
	req.AgencyID = strings.TrimSpace(req.AgencyID)
	req.Title = strings.TrimSpace(req.Title)
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}

	ebook := &models.Ebook{
		ID:       common.NewEbookID(),
		AgencyID: req.AgencyID,
		Title:    req.Title,
		Metadata: models.EbookMetadata{
			TargetAudience: strings.TrimSpace(req.TargetAudience),
			Industry:       strings.TrimSpace(req.Industry),
		},
		Status: models.EbookStatusCreated,
	}
	if err := s.ebooks.CreateEbook(ctx, ebook); err != nil {
		s.logger.Error().Err(err).Str("agency_id", req.AgencyID).Msg("Failed to create ebook")
		return nil, err
	}

	s.logger.Info().Str("ebook_id", ebook.ID).Str("agency_id", ebook.AgencyID).Str("title", ebook.Title).Msg("Ebook created")
	return ebook, nil
}

// Get returns an ebook. A non-empty agencyID scopes the lookup: an ebook of
// another agency is reported as not found.
func (s *Service) Get(ctx context.Context, id, agencyID string) (*models.Ebook, error) {
	ebook, err := s.ebooks.GetEbook(ctx, id)
	if err != nil {
		return nil, err
	}
	if agencyID != "" && ebook.AgencyID != agencyID {
		return nil, fmt.Errorf("%w: %s", models.ErrEbookNotFound, id)
	}
	return ebook, nil
}

// List returns the ebooks of an agency, newest first
func (s *Service) List(ctx context.Context, agencyID string) ([]*models.Ebook, error) {
	if strings.TrimSpace(agencyID) == "" {
		return nil, fmt.Errorf("%w: agency_id is required", models.ErrInvalidRequest)
	}
	return s.ebooks.ListEbooks(ctx, agencyID)
}

// ApproveDescription approves the generated outline. A non-nil edited
// description replaces it; edits may change the number of chapters.
func (s *Service) ApproveDescription(ctx context.Context, id string, edited *models.Description) (*models.Ebook, error) {
	if edited != nil {
		if err := s.validate.Struct(edited); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
		}
		for i := range edited.Chapters {
			if edited.Chapters[i].Number != i+1 {
				return nil, fmt.Errorf("%w: chapter %d has number %d", models.ErrInvalidRequest, i+1, edited.Chapters[i].Number)
			}
		}
	}

	ebook, err := s.ebooks.ApproveDescription(ctx, id, edited)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("ebook_id", id).
		Bool("edited", edited != nil).
		Int("chapters", len(ebook.Description.Chapters)).
		Msg("Description approved")
	return ebook, nil
}

// EnqueueStage checks the ebook is ready for step and queues the job.
// The stage re-checks everything when it runs; this only rejects requests
// that could never succeed.
func (s *Service) EnqueueStage(ctx context.Context, id string, step models.JobStep) (*models.JobRecord, error) {
	ebook, err := s.ebooks.GetEbook(ctx, id)
	if err != nil {
		return nil, err
	}

	payload := models.JobPayload{
		EbookID:        ebook.ID,
		AgencyID:       ebook.AgencyID,
		Title:          ebook.Title,
		TargetAudience: ebook.Metadata.TargetAudience,
		Industry:       ebook.Metadata.Industry,
		Step:           step,
	}

	switch step {
	case models.JobStepDescription:
		if ebook.Content != nil {
			return nil, models.PreconditionError("ebook %s already has content", ebook.ID)
		}
	case models.JobStepContent:
		if ebook.Description == nil {
			return nil, models.PreconditionError("ebook %s has no description", ebook.ID)
		}
		if !ebook.DescriptionApproved {
			return nil, models.PreconditionError("ebook %s description is not approved", ebook.ID)
		}
		payload.ApprovedDescription = ebook.Description
	case models.JobStepPDF:
		if ebook.Content == nil {
			return nil, models.PreconditionError("ebook %s has no content", ebook.ID)
		}
	default:
		return nil, fmt.Errorf("%w: unknown job step %q", models.ErrInvalidRequest, step)
	}

	record, err := s.jobs.Enqueue(ctx, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("ebook_id", ebook.ID).Str("step", string(step)).Msg("Failed to enqueue stage")
		return nil, err
	}
	return record, nil
}

// JobStatus returns the polling view of a job, scoped like Get
func (s *Service) JobStatus(ctx context.Context, jobID, agencyID string) (*models.JobStatusView, error) {
	view, err := s.jobs.Status(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if agencyID != "" && view.Data.AgencyID != agencyID {
		return nil, fmt.Errorf("%w: %s", models.ErrJobNotFound, jobID)
	}
	return view, nil
}

// ListJobs returns the jobs of an existing ebook, newest first, scoped like Get
func (s *Service) ListJobs(ctx context.Context, id, agencyID string) ([]*models.JobRecord, error) {
	if _, err := s.Get(ctx, id, agencyID); err != nil {
		return nil, err
	}
	return s.jobs.ListByEbook(ctx, id)
}
