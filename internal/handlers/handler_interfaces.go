package handlers

import (
	"context"

	"github.com/ternarybob/folio/internal/models"
	"github.com/ternarybob/folio/internal/services/ebooks"
)

// EbookService defines the methods needed from the ebook service
type EbookService interface {
	Create(ctx context.Context, req ebooks.CreateRequest) (*models.Ebook, error)
	Get(ctx context.Context, id, agencyID string) (*models.Ebook, error)
	List(ctx context.Context, agencyID string) ([]*models.Ebook, error)
	ApproveDescription(ctx context.Context, id string, edited *models.Description) (*models.Ebook, error)
	EnqueueStage(ctx context.Context, id string, step models.JobStep) (*models.JobRecord, error)
	JobStatus(ctx context.Context, jobID, agencyID string) (*models.JobStatusView, error)
	ListJobs(ctx context.Context, id, agencyID string) ([]*models.JobRecord, error)
}

// HealthChecker reports whether a dependency is usable
type HealthChecker interface {
	Ping(ctx context.Context) error
}
