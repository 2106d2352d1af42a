package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/folio/internal/models"
)

// EbookStorage persists ebooks. Every stage write runs in one transaction that
// re-reads the record, checks the status transition and writes only the
// fields that stage owns.
type EbookStorage interface {
	CreateEbook(ctx context.Context, ebook *models.Ebook) error
	GetEbook(ctx context.Context, id string) (*models.Ebook, error)
	ListEbooks(ctx context.Context, agencyID string) ([]*models.Ebook, error)

	UpdateStatus(ctx context.Context, id string, status models.EbookStatus) error
	SaveDescription(ctx context.Context, id string, description *models.Description) error
	// ApproveDescription marks the description approved, replacing it first when edited is non-nil
	ApproveDescription(ctx context.Context, id string, edited *models.Description) (*models.Ebook, error)
	SaveContent(ctx context.Context, id string, content *models.Content) error
	SavePDF(ctx context.Context, id string, url string) error
	MarkError(ctx context.Context, id string, reason string) error
}

// JobStorage persists queue job records
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.JobRecord) error
	GetJob(ctx context.Context, id string) (*models.JobRecord, error)
	// UpdateJob applies fn to the stored record inside a transaction
	UpdateJob(ctx context.Context, id string, fn func(job *models.JobRecord) error) (*models.JobRecord, error)
	// UpdateProgress never lowers the stored progress
	UpdateProgress(ctx context.Context, id string, progress int) error
	ListJobsByEbook(ctx context.Context, ebookID string) ([]*models.JobRecord, error)
	ListJobsByState(ctx context.Context, state models.JobState) ([]*models.JobRecord, error)
	// PruneJobs deletes records in state beyond the newest keep, and any older than maxAge
	PruneJobs(ctx context.Context, state models.JobState, keep int, maxAge time.Duration) (int, error)
	DeleteJob(ctx context.Context, id string) error
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	EbookStorage() EbookStorage
	JobStorage() JobStorage
	DB() interface{}
	// Ping proves the store accepts a write and reads it back
	Ping(ctx context.Context) error
	Close() error
}
