package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/models"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) listen(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) types(jobID string) []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var types []EventType
	for _, e := range r.events {
		if e.JobID == jobID && e.Type != EventProgress {
			types = append(types, e.Type)
		}
	}
	return types
}

func waitForState(t *testing.T, q *testQueue, jobID string, state models.JobState) *models.JobStatusView {
	t.Helper()
	var view *models.JobStatusView
	require.Eventually(t, func() bool {
		v, err := q.manager.Status(context.Background(), jobID)
		if err != nil {
			return false
		}
		view = v
		return v.State == state
	}, 5*time.Second, 10*time.Millisecond)
	return view
}

func TestWorkerPool_ProcessesJobs(t *testing.T) {
	q := newTestQueue(t, nil)
	recorder := &eventRecorder{}
	pool := NewWorkerPool(q.manager, recorder.listen, arbor.NewLogger())

	pool.RegisterHandler(models.JobStepDescription, func(ctx context.Context, job *Job) (*models.JobResult, error) {
		assert.NoError(t, job.UpdateProgress(ctx, 50))
		return &models.JobResult{Success: true, EbookID: job.Payload().EbookID, Step: models.JobStepDescription}, nil
	})
	require.NoError(t, pool.Start())
	defer pool.Stop()

	record, err := q.manager.Enqueue(context.Background(), payload(models.JobStepDescription))
	require.NoError(t, err)

	view := waitForState(t, q, record.ID, models.JobStateCompleted)
	assert.Equal(t, 100, view.Progress)
	assert.True(t, view.ReturnValue.Success)
	assert.Equal(t, []EventType{EventActive, EventCompleted}, recorder.types(record.ID))
}

func TestWorkerPool_RetriesUntilFailed(t *testing.T) {
	q := newTestQueue(t, nil)
	recorder := &eventRecorder{}
	pool := NewWorkerPool(q.manager, recorder.listen, arbor.NewLogger())

	var mu sync.Mutex
	calls := 0
	pool.RegisterHandler(models.JobStepContent, func(ctx context.Context, job *Job) (*models.JobResult, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil, errors.New("generator unavailable")
	})
	require.NoError(t, pool.Start())
	defer pool.Stop()

	record, err := q.manager.Enqueue(context.Background(), payload(models.JobStepContent))
	require.NoError(t, err)

	view := waitForState(t, q, record.ID, models.JobStateFailed)
	assert.Equal(t, 3, view.Attempts)

	mu.Lock()
	assert.Equal(t, 3, calls)
	mu.Unlock()
	assert.Equal(t, []EventType{
		EventActive, EventRetrying,
		EventActive, EventRetrying,
		EventActive, EventFailed,
	}, recorder.types(record.ID))
}

func TestWorkerPool_LongJobKeepsItsClaim(t *testing.T) {
	q := newTestQueue(t, func(c *Config) {
		c.Concurrency = 3
		c.VisibilityTimeout = 100 * time.Millisecond
	})
	recorder := &eventRecorder{}
	pool := NewWorkerPool(q.manager, recorder.listen, arbor.NewLogger())

	var mu sync.Mutex
	calls, running, maxRunning := 0, 0, 0
	pool.RegisterHandler(models.JobStepContent, func(ctx context.Context, job *Job) (*models.JobResult, error) {
		mu.Lock()
		calls++
		running++
		if running > maxRunning {
			maxRunning = running
		}
		mu.Unlock()

		time.Sleep(400 * time.Millisecond)

		mu.Lock()
		running--
		mu.Unlock()
		return &models.JobResult{Success: true, EbookID: job.Payload().EbookID, Step: models.JobStepContent}, nil
	})
	require.NoError(t, pool.Start())
	defer pool.Stop()

	record, err := q.manager.Enqueue(context.Background(), payload(models.JobStepContent))
	require.NoError(t, err)

	view := waitForState(t, q, record.ID, models.JobStateCompleted)
	assert.Equal(t, 1, view.Attempts)

	// Well past another visibility window; nothing may redeliver the job
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, maxRunning)
	mu.Unlock()
	assert.Equal(t, []EventType{EventActive, EventCompleted}, recorder.types(record.ID))

	view, err = q.manager.Status(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCompleted, view.State)
	assert.Empty(t, view.FailedReason)
}

func TestWorkerPool_PanicIsAFailure(t *testing.T) {
	q := newTestQueue(t, func(c *Config) { c.Attempts = 1 })
	pool := NewWorkerPool(q.manager, nil, arbor.NewLogger())
	pool.RegisterHandler(models.JobStepPDF, func(ctx context.Context, job *Job) (*models.JobResult, error) {
		panic("renderer exploded")
	})
	require.NoError(t, pool.Start())
	defer pool.Stop()

	record, err := q.manager.Enqueue(context.Background(), payload(models.JobStepPDF))
	require.NoError(t, err)

	view := waitForState(t, q, record.ID, models.JobStateFailed)
	assert.Contains(t, view.FailedReason, "renderer exploded")
}

func TestWorkerPool_StopRequeuesInterruptedJobs(t *testing.T) {
	q := newTestQueue(t, func(c *Config) {
		c.Concurrency = 1
		c.ShutdownTimeout = 50 * time.Millisecond
	})
	recorder := &eventRecorder{}
	pool := NewWorkerPool(q.manager, recorder.listen, arbor.NewLogger())

	started := make(chan struct{})
	pool.RegisterHandler(models.JobStepContent, func(ctx context.Context, job *Job) (*models.JobResult, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, pool.Start())

	record, err := q.manager.Enqueue(context.Background(), payload(models.JobStepContent))
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	require.NoError(t, pool.Stop())

	view, err := q.manager.Status(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateWaiting, view.State)
	assert.Equal(t, 0, view.Attempts)
	assert.Equal(t, []EventType{EventActive, EventRequeued}, recorder.types(record.ID))

	stats, err := q.manager.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Visible)
}

func TestWorkerPool_StartRequiresHandlers(t *testing.T) {
	q := newTestQueue(t, nil)
	pool := NewWorkerPool(q.manager, nil, arbor.NewLogger())
	assert.Error(t, pool.Start())
}
