package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// Retries for optimistic transaction conflicts
const maxConflictRetries = 3

// EbookStorage implements interfaces.EbookStorage for Badger
type EbookStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewEbookStorage creates a new EbookStorage instance
func NewEbookStorage(db *BadgerDB, logger arbor.ILogger) *EbookStorage {
	return &EbookStorage{
		db:     db,
		logger: logger,
	}
}

func (s *EbookStorage) CreateEbook(ctx context.Context, ebook *models.Ebook) error {
	if ebook.ID == "" {
		return fmt.Errorf("ebook ID is required")
	}
	if ebook.Status == "" {
		ebook.Status = models.EbookStatusCreated
	}
	now := time.Now()
	if ebook.CreatedAt.IsZero() {
		ebook.CreatedAt = now
	}
	ebook.UpdatedAt = now

	if err := s.db.Store().Insert(ebook.ID, *ebook); err != nil {
		return fmt.Errorf("%w: failed to create ebook %s: %v", models.ErrStoreWrite, ebook.ID, err)
	}
	return nil
}

func (s *EbookStorage) GetEbook(ctx context.Context, id string) (*models.Ebook, error) {
	var ebook models.Ebook
	if err := s.db.Store().Get(id, &ebook); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", models.ErrEbookNotFound, id)
		}
		return nil, fmt.Errorf("failed to get ebook %s: %w", id, err)
	}
	return &ebook, nil
}

func (s *EbookStorage) ListEbooks(ctx context.Context, agencyID string) ([]*models.Ebook, error) {
	var ebooks []models.Ebook
	query := badgerhold.Where("AgencyID").Eq(agencyID).Index("AgencyID").SortBy("CreatedAt").Reverse()
	if err := s.db.Store().Find(&ebooks, query); err != nil {
		return nil, fmt.Errorf("failed to list ebooks for agency %s: %w", agencyID, err)
	}

	result := make([]*models.Ebook, len(ebooks))
	for i := range ebooks {
		result[i] = &ebooks[i]
	}
	return result, nil
}

func (s *EbookStorage) UpdateStatus(ctx context.Context, id string, status models.EbookStatus) error {
	_, err := s.mutate(id, func(e *models.Ebook) error {
		return transition(e, status)
	})
	return err
}

func (s *EbookStorage) SaveDescription(ctx context.Context, id string, description *models.Description) error {
	if description == nil {
		return fmt.Errorf("description is required")
	}
	_, err := s.mutate(id, func(e *models.Ebook) error {
		if e.Content != nil {
			return models.PreconditionError("ebook %s already has content", id)
		}
		if err := transition(e, models.EbookStatusDescriptionGenerated); err != nil {
			return err
		}
		e.Description = description
		e.DescriptionApproved = false
		e.ApprovedAt = nil
		e.LastError = ""
		return nil
	})
	return err
}

func (s *EbookStorage) ApproveDescription(ctx context.Context, id string, edited *models.Description) (*models.Ebook, error) {
	return s.mutate(id, func(e *models.Ebook) error {
		if e.Description == nil {
			return models.PreconditionError("ebook %s has no description to approve", id)
		}
		if e.Content != nil {
			return models.PreconditionError("ebook %s already has content", id)
		}
		if e.Status != models.EbookStatusDescriptionGenerated && e.Status != models.EbookStatusError {
			return models.PreconditionError("ebook %s cannot be approved in status %s", id, e.Status)
		}
		if edited != nil {
			e.Description = edited
		}
		now := time.Now()
		e.DescriptionApproved = true
		e.ApprovedAt = &now
		return nil
	})
}

func (s *EbookStorage) SaveContent(ctx context.Context, id string, content *models.Content) error {
	if content == nil {
		return fmt.Errorf("content is required")
	}
	_, err := s.mutate(id, func(e *models.Ebook) error {
		if err := transition(e, models.EbookStatusContentReady); err != nil {
			return err
		}
		e.Content = content
		e.LastError = ""
		return nil
	})
	return err
}

func (s *EbookStorage) SavePDF(ctx context.Context, id string, url string) error {
	if url == "" {
		return fmt.Errorf("pdf url is required")
	}
	_, err := s.mutate(id, func(e *models.Ebook) error {
		if err := transition(e, models.EbookStatusCompleted); err != nil {
			return err
		}
		e.PDFURL = url
		e.LastError = ""
		return nil
	})
	return err
}

func (s *EbookStorage) MarkError(ctx context.Context, id string, reason string) error {
	_, err := s.mutate(id, func(e *models.Ebook) error {
		if err := transition(e, models.EbookStatusError); err != nil {
			return err
		}
		e.LastError = reason
		return nil
	})
	return err
}

// mutate re-reads the ebook, applies fn and writes it back in one transaction.
// Errors from fn are returned unwrapped; write failures wrap ErrStoreWrite.
func (s *EbookStorage) mutate(id string, fn func(e *models.Ebook) error) (*models.Ebook, error) {
	store := s.db.Store()
	var result models.Ebook

	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		var fnErr error
		err = store.Badger().Update(func(tx *badger.Txn) error {
			var ebook models.Ebook
			if err := store.TxGet(tx, id, &ebook); err != nil {
				if err == badgerhold.ErrNotFound {
					fnErr = fmt.Errorf("%w: %s", models.ErrEbookNotFound, id)
					return fnErr
				}
				return err
			}
			if err := fn(&ebook); err != nil {
				fnErr = err
				return err
			}
			ebook.UpdatedAt = time.Now()
			if err := store.TxUpdate(tx, id, ebook); err != nil {
				return err
			}
			result = ebook
			return nil
		})
		if fnErr != nil {
			return nil, fnErr
		}
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		s.logger.Debug().Str("ebook_id", id).Int("attempt", attempt+1).Msg("Ebook write conflict, retrying")
	}

	if err != nil {
		return nil, fmt.Errorf("%w: ebook %s: %v", models.ErrStoreWrite, id, err)
	}
	return &result, nil
}

func transition(e *models.Ebook, next models.EbookStatus) error {
	if !e.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: ebook %s from %s to %s", models.ErrInvalidTransition, e.ID, e.Status, next)
	}
	e.Status = next
	return nil
}
