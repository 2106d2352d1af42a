package interfaces

import (
	"context"

	"github.com/ternarybob/folio/internal/models"
)

// JobQueue is the producer side of the job queue
type JobQueue interface {
	Enqueue(ctx context.Context, payload models.JobPayload) (*models.JobRecord, error)
	Status(ctx context.Context, jobID string) (*models.JobStatusView, error)
	ListByEbook(ctx context.Context, ebookID string) ([]*models.JobRecord, error)
}
