package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/models"
	"github.com/ternarybob/folio/internal/queue"
	"github.com/timshannon/badgerhold/v4"
)

type eventLog struct {
	mu     sync.Mutex
	events []queue.Event
}

func (l *eventLog) listen(e queue.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) forJob(jobID string, types ...queue.EventType) []queue.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []queue.Event
	for _, e := range l.events {
		if e.JobID != jobID {
			continue
		}
		for _, t := range types {
			if e.Type == t {
				out = append(out, e)
			}
		}
	}
	return out
}

type testRuntime struct {
	*testPipeline
	queue  *queue.Manager
	pool   *queue.WorkerPool
	events *eventLog
}

func newTestRuntime(t *testing.T) *testRuntime {
	t.Helper()
	p := newTestPipeline(t)
	logger := arbor.NewLogger()

	config := queue.NewDefaultConfig()
	config.PollInterval = 10 * time.Millisecond
	config.Backoff = queue.BackoffPolicy{InitialInterval: 20 * time.Millisecond, MaxInterval: time.Second, BackoffFactor: 2}
	config.ShutdownTimeout = 2 * time.Second
	config.CleanupSchedule = ""

	db := p.storage.DB().(*badgerhold.Store).Badger()
	transport, err := queue.NewBadgerManager(db, config.QueueName, config.VisibilityTimeout)
	require.NoError(t, err)
	manager := queue.NewManager(transport, p.storage.JobStorage(), config, logger)

	events := &eventLog{}
	pool := queue.NewWorkerPool(manager, events.listen, logger)
	p.orchestrator.Register(pool)
	require.NoError(t, pool.Start())
	t.Cleanup(func() { pool.Stop() })

	return &testRuntime{testPipeline: p, queue: manager, pool: pool, events: events}
}

func (r *testRuntime) enqueue(t *testing.T, ebookID string, step models.JobStep, approved *models.Description) string {
	t.Helper()
	record, err := r.queue.Enqueue(context.Background(), models.JobPayload{
		EbookID:             ebookID,
		AgencyID:            testAgency,
		Title:               "Guide",
		Step:                step,
		ApprovedDescription: approved,
	})
	require.NoError(t, err)
	return record.ID
}

func (r *testRuntime) waitFor(t *testing.T, jobID string, state models.JobState) *models.JobStatusView {
	t.Helper()
	var view *models.JobStatusView
	require.Eventually(t, func() bool {
		v, err := r.queue.Status(context.Background(), jobID)
		if err != nil {
			return false
		}
		view = v
		return v.State == state
	}, 10*time.Second, 10*time.Millisecond)
	return view
}

func (r *testRuntime) assertProgressNonDecreasing(t *testing.T, jobID string) {
	t.Helper()
	last := -1
	for _, e := range r.events.forJob(jobID, queue.EventProgress) {
		assert.GreaterOrEqual(t, e.Progress, last)
		last = e.Progress
	}
	assert.Equal(t, 100, last)
}

func TestPipeline_EndToEnd(t *testing.T) {
	r := newTestRuntime(t)
	r.createEbook(t, "ebook-guide")

	descriptionJob := r.enqueue(t, "ebook-guide", models.JobStepDescription, nil)
	r.waitFor(t, descriptionJob, models.JobStateCompleted)
	r.assertProgressNonDecreasing(t, descriptionJob)

	e := r.ebook(t, "ebook-guide")
	assert.Equal(t, models.EbookStatusDescriptionGenerated, e.Status)
	require.Len(t, e.Description.Chapters, 10)

	contentJob := r.enqueue(t, "ebook-guide", models.JobStepContent, e.Description)
	r.waitFor(t, contentJob, models.JobStateCompleted)
	r.assertProgressNonDecreasing(t, contentJob)

	e = r.ebook(t, "ebook-guide")
	assert.Equal(t, models.EbookStatusContentReady, e.Status)
	require.Len(t, e.Content.Chapters, 10)

	pdfJob := r.enqueue(t, "ebook-guide", models.JobStepPDF, nil)
	view := r.waitFor(t, pdfJob, models.JobStateCompleted)
	r.assertProgressNonDecreasing(t, pdfJob)

	e = r.ebook(t, "ebook-guide")
	assert.Equal(t, models.EbookStatusCompleted, e.Status)
	assert.NotEmpty(t, e.PDFURL)
	assert.Equal(t, e.PDFURL, view.ReturnValue.Reference)
	assert.Equal(t, 1, view.Attempts)
}

func TestPipeline_ContentWithoutDescriptionFailsWithoutRetry(t *testing.T) {
	r := newTestRuntime(t)
	r.createEbook(t, "ebook-empty")

	jobID := r.enqueue(t, "ebook-empty", models.JobStepContent, nil)
	view := r.waitFor(t, jobID, models.JobStateFailed)

	assert.Equal(t, 1, view.Attempts)
	assert.Contains(t, view.FailedReason, "precondition failed")
	assert.Empty(t, r.events.forJob(jobID, queue.EventRetrying))
	assert.Equal(t, models.EbookStatusCreated, r.ebook(t, "ebook-empty").Status)
}

func TestPipeline_RendererUnavailableRetriesThenFails(t *testing.T) {
	r := newTestRuntime(t)
	r.renderer.mu.Lock()
	r.renderer.err = models.ErrRendererUnavailable
	r.renderer.mu.Unlock()

	r.createEbook(t, "ebook-1")
	ctx := context.Background()
	_, err := r.orchestrator.HandleDescription(ctx, newJob("ebook-1", models.JobStepDescription, nil))
	require.NoError(t, err)
	approve(t, r.testPipeline, "ebook-1")
	_, err = r.orchestrator.HandleContent(ctx, newJob("ebook-1", models.JobStepContent, nil))
	require.NoError(t, err)

	jobID := r.enqueue(t, "ebook-1", models.JobStepPDF, nil)
	view := r.waitFor(t, jobID, models.JobStateFailed)

	assert.Equal(t, 3, view.Attempts)
	assert.Contains(t, view.FailedReason, "document renderer unavailable")
	assert.Equal(t, models.EbookStatusError, r.ebook(t, "ebook-1").Status)

	retries := r.events.forJob(jobID, queue.EventRetrying)
	require.Len(t, retries, 2)
	assert.Greater(t, retries[1].Delay, retries[0].Delay)

	r.renderer.mu.Lock()
	defer r.renderer.mu.Unlock()
	assert.Equal(t, 3, r.renderer.calls)
}
