package ebooks

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
	badgerstore "github.com/ternarybob/folio/internal/storage/badger"
)

// recordingQueue keeps enqueued payloads in memory
type recordingQueue struct {
	mu       sync.Mutex
	payloads []models.JobPayload
	records  map[string]*models.JobRecord
}

func (q *recordingQueue) Enqueue(ctx context.Context, payload models.JobPayload) (*models.JobRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.records == nil {
		q.records = make(map[string]*models.JobRecord)
	}
	q.payloads = append(q.payloads, payload)
	record := &models.JobRecord{
		ID:      fmt.Sprintf("job-%d", len(q.payloads)),
		Step:    payload.Step,
		EbookID: payload.EbookID,
		Payload: payload,
		State:   models.JobStateWaiting,
	}
	q.records[record.ID] = record
	return record, nil
}

func (q *recordingQueue) Status(ctx context.Context, jobID string) (*models.JobStatusView, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	record, ok := q.records[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrJobNotFound, jobID)
	}
	return record.View(), nil
}

func (q *recordingQueue) ListByEbook(ctx context.Context, ebookID string) ([]*models.JobRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*models.JobRecord
	for _, r := range q.records {
		if r.EbookID == ebookID {
			out = append(out, r)
		}
	}
	return out, nil
}

type testService struct {
	*Service
	ebooks interfaces.EbookStorage
	queue  *recordingQueue
}

func newTestService(t *testing.T) *testService {
	t.Helper()
	logger := arbor.NewLogger()
	storage, err := badgerstore.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	q := &recordingQueue{}
	return &testService{
		Service: NewService(storage.EbookStorage(), q, logger),
		ebooks:  storage.EbookStorage(),
		queue:   q,
	}
}

func outline(chapters int) *models.Description {
	d := &models.Description{
		TargetAudience:    "Founders",
		Objectives:        []string{"Learn"},
		Benefits:          []string{"Grow"},
		TotalPages:        chapters * 5,
		EstimatedReadTime: "1 hour",
		Difficulty:        "beginner",
	}
	for i := 1; i <= chapters; i++ {
		d.Chapters = append(d.Chapters, models.ChapterOutline{Number: i, Title: fmt.Sprintf("Chapter %d", i), Summary: "Summary", PageCount: 5})
	}
	return d
}

func (s *testService) create(t *testing.T) *models.Ebook {
	t.Helper()
	ebook, err := s.Create(context.Background(), CreateRequest{AgencyID: "agency-1", Title: " Guide ", TargetAudience: "Founders", Industry: "SaaS"})
	require.NoError(t, err)
	return ebook
}

func TestCreate_StoresCreatedEbook(t *testing.T) {
	s := newTestService(t)
	ebook := s.create(t)

	assert.NotEmpty(t, ebook.ID)
	assert.Equal(t, "Guide", ebook.Title)
	assert.Equal(t, models.EbookStatusCreated, ebook.Status)

	stored, err := s.Get(context.Background(), ebook.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "SaaS", stored.Metadata.Industry)
}

func TestCreate_RejectsMissingFields(t *testing.T) {
	s := newTestService(t)

	_, err := s.Create(context.Background(), CreateRequest{AgencyID: "agency-1", Title: "  "})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)

	_, err = s.Create(context.Background(), CreateRequest{Title: "Guide"})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
}

func TestList_RequiresAgency(t *testing.T) {
	s := newTestService(t)
	s.create(t)

	_, err := s.List(context.Background(), "")
	assert.ErrorIs(t, err, models.ErrInvalidRequest)

	ebooks, err := s.List(context.Background(), "agency-1")
	require.NoError(t, err)
	assert.Len(t, ebooks, 1)

	ebooks, err = s.List(context.Background(), "agency-2")
	require.NoError(t, err)
	assert.Empty(t, ebooks)
}

func TestEnqueueStage_Description(t *testing.T) {
	s := newTestService(t)
	ebook := s.create(t)

	record, err := s.EnqueueStage(context.Background(), ebook.ID, models.JobStepDescription)
	require.NoError(t, err)
	assert.Equal(t, models.JobStepDescription, record.Step)

	require.Len(t, s.queue.payloads, 1)
	payload := s.queue.payloads[0]
	assert.Equal(t, ebook.ID, payload.EbookID)
	assert.Equal(t, "agency-1", payload.AgencyID)
	assert.Equal(t, "Founders", payload.TargetAudience)
	assert.Nil(t, payload.ApprovedDescription)
}

func TestEnqueueStage_ContentRequiresApproval(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	ebook := s.create(t)

	_, err := s.EnqueueStage(ctx, ebook.ID, models.JobStepContent)
	assert.ErrorIs(t, err, models.ErrPrecondition)

	require.NoError(t, s.ebooks.SaveDescription(ctx, ebook.ID, outline(10)))
	_, err = s.EnqueueStage(ctx, ebook.ID, models.JobStepContent)
	assert.ErrorIs(t, err, models.ErrPrecondition)
	assert.Empty(t, s.queue.payloads)

	_, err = s.ApproveDescription(ctx, ebook.ID, nil)
	require.NoError(t, err)

	_, err = s.EnqueueStage(ctx, ebook.ID, models.JobStepContent)
	require.NoError(t, err)
	require.Len(t, s.queue.payloads, 1)
	require.NotNil(t, s.queue.payloads[0].ApprovedDescription)
	assert.Len(t, s.queue.payloads[0].ApprovedDescription.Chapters, 10)
}

func TestEnqueueStage_PDFRequiresContent(t *testing.T) {
	s := newTestService(t)
	ebook := s.create(t)

	_, err := s.EnqueueStage(context.Background(), ebook.ID, models.JobStepPDF)
	assert.ErrorIs(t, err, models.ErrPrecondition)
}

func TestEnqueueStage_UnknownEbookAndStep(t *testing.T) {
	s := newTestService(t)

	_, err := s.EnqueueStage(context.Background(), "missing", models.JobStepDescription)
	assert.ErrorIs(t, err, models.ErrEbookNotFound)

	ebook := s.create(t)
	_, err = s.EnqueueStage(context.Background(), ebook.ID, models.JobStep("publish"))
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
}

func TestApproveDescription_WithEdits(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	ebook := s.create(t)
	require.NoError(t, s.ebooks.SaveDescription(ctx, ebook.ID, outline(10)))

	approved, err := s.ApproveDescription(ctx, ebook.ID, outline(3))
	require.NoError(t, err)
	assert.True(t, approved.DescriptionApproved)
	assert.Len(t, approved.Description.Chapters, 3)
}

func TestApproveDescription_RejectsInvalidEdits(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	ebook := s.create(t)
	require.NoError(t, s.ebooks.SaveDescription(ctx, ebook.ID, outline(10)))

	edited := outline(3)
	edited.Chapters[1].Number = 7
	_, err := s.ApproveDescription(ctx, ebook.ID, edited)
	assert.ErrorIs(t, err, models.ErrInvalidRequest)

	edited = outline(3)
	edited.Difficulty = "expert"
	_, err = s.ApproveDescription(ctx, ebook.ID, edited)
	assert.ErrorIs(t, err, models.ErrInvalidRequest)

	stored, err := s.Get(ctx, ebook.ID, "")
	require.NoError(t, err)
	assert.False(t, stored.DescriptionApproved)
}

func TestApproveDescription_RequiresDescription(t *testing.T) {
	s := newTestService(t)
	ebook := s.create(t)

	_, err := s.ApproveDescription(context.Background(), ebook.ID, nil)
	assert.ErrorIs(t, err, models.ErrPrecondition)
}

func TestJobs_StatusAndList(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	ebook := s.create(t)

	record, err := s.EnqueueStage(ctx, ebook.ID, models.JobStepDescription)
	require.NoError(t, err)

	view, err := s.JobStatus(ctx, record.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateWaiting, view.State)

	jobs, err := s.ListJobs(ctx, ebook.ID, "")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	_, err = s.ListJobs(ctx, "missing", "")
	assert.ErrorIs(t, err, models.ErrEbookNotFound)
}

func TestLookups_ScopedToAgency(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	ebook := s.create(t)

	record, err := s.EnqueueStage(ctx, ebook.ID, models.JobStepDescription)
	require.NoError(t, err)

	_, err = s.Get(ctx, ebook.ID, "agency-1")
	assert.NoError(t, err)
	_, err = s.Get(ctx, ebook.ID, "agency-2")
	assert.ErrorIs(t, err, models.ErrEbookNotFound)

	_, err = s.JobStatus(ctx, record.ID, "agency-1")
	assert.NoError(t, err)
	_, err = s.JobStatus(ctx, record.ID, "agency-2")
	assert.ErrorIs(t, err, models.ErrJobNotFound)

	_, err = s.ListJobs(ctx, ebook.ID, "agency-2")
	assert.ErrorIs(t, err, models.ErrEbookNotFound)
}
