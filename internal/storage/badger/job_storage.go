package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements interfaces.JobStorage for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) *JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.JobRecord) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	job.UpdatedAt = time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = job.UpdatedAt
	}

	// Store by value: badgerhold keys its prefix on the type name
	if err := s.db.Store().Upsert(job.ID, *job); err != nil {
		return fmt.Errorf("%w: failed to save job %s: %v", models.ErrStoreWrite, job.ID, err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.JobRecord, error) {
	var job models.JobRecord
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", models.ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return &job, nil
}

func (s *JobStorage) UpdateJob(ctx context.Context, id string, fn func(job *models.JobRecord) error) (*models.JobRecord, error) {
	store := s.db.Store()
	var result models.JobRecord

	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		var fnErr error
		err = store.Badger().Update(func(tx *badger.Txn) error {
			var job models.JobRecord
			if err := store.TxGet(tx, id, &job); err != nil {
				if err == badgerhold.ErrNotFound {
					fnErr = fmt.Errorf("%w: %s", models.ErrJobNotFound, id)
					return fnErr
				}
				return err
			}
			if err := fn(&job); err != nil {
				fnErr = err
				return err
			}
			job.UpdatedAt = time.Now()
			if err := store.TxUpdate(tx, id, job); err != nil {
				return err
			}
			result = job
			return nil
		})
		if fnErr != nil {
			return nil, fnErr
		}
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}

	if err != nil {
		return nil, fmt.Errorf("%w: job %s: %v", models.ErrStoreWrite, id, err)
	}
	return &result, nil
}

func (s *JobStorage) UpdateProgress(ctx context.Context, id string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	_, err := s.UpdateJob(ctx, id, func(job *models.JobRecord) error {
		if progress > job.Progress {
			job.Progress = progress
		}
		return nil
	})
	return err
}

func (s *JobStorage) ListJobsByEbook(ctx context.Context, ebookID string) ([]*models.JobRecord, error) {
	var jobs []models.JobRecord
	query := badgerhold.Where("EbookID").Eq(ebookID).Index("EbookID").SortBy("CreatedAt").Reverse()
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs for ebook %s: %w", ebookID, err)
	}
	return toJobPointers(jobs), nil
}

func (s *JobStorage) ListJobsByState(ctx context.Context, state models.JobState) ([]*models.JobRecord, error) {
	var jobs []models.JobRecord
	if err := s.db.Store().Find(&jobs, badgerhold.Where("State").Eq(state).Index("State")); err != nil {
		return nil, fmt.Errorf("failed to list jobs in state %s: %w", state, err)
	}
	return toJobPointers(jobs), nil
}

func (s *JobStorage) PruneJobs(ctx context.Context, state models.JobState, keep int, maxAge time.Duration) (int, error) {
	jobs, err := s.ListJobsByState(ctx, state)
	if err != nil {
		return 0, err
	}

	// Newest first by finish time
	sort.Slice(jobs, func(i, j int) bool {
		return finishedAt(jobs[i]).After(finishedAt(jobs[j]))
	})

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for i, job := range jobs {
		tooMany := keep >= 0 && i >= keep
		tooOld := maxAge > 0 && finishedAt(job).Before(cutoff)
		if !tooMany && !tooOld {
			continue
		}
		if err := s.DeleteJob(ctx, job.ID); err != nil {
			return removed, err
		}
		removed++
	}

	if removed > 0 {
		s.logger.Debug().Str("state", string(state)).Int("removed", removed).Msg("Pruned job records")
	}
	return removed, nil
}

func (s *JobStorage) DeleteJob(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, models.JobRecord{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("%w: failed to delete job %s: %v", models.ErrStoreWrite, id, err)
	}
	return nil
}

func finishedAt(job *models.JobRecord) time.Time {
	if job.FinishedOn != nil {
		return *job.FinishedOn
	}
	return job.UpdatedAt
}

func toJobPointers(jobs []models.JobRecord) []*models.JobRecord {
	result := make([]*models.JobRecord, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result
}
