package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
	"github.com/ternarybob/folio/internal/queue"
	badgerstore "github.com/ternarybob/folio/internal/storage/badger"
)

const (
	testAgency   = "agency-1"
	testChapters = 10
	testPages    = 5
)

// fakeGenerator returns deterministic content and can fail on demand
type fakeGenerator struct {
	mu               sync.Mutex
	chapters         int
	pages            int
	descriptionErr   error
	failChapter      int
	descriptionCalls int
	chapterCalls     int
	conclusionPoints []string
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{chapters: testChapters, pages: testPages}
}

func (g *fakeGenerator) GenerateDescription(ctx context.Context, title, targetAudience, industry string) (*models.Description, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.descriptionCalls++
	if g.descriptionErr != nil {
		return nil, g.descriptionErr
	}
	return testDescription(g.chapters, g.pages, fmt.Sprintf("run %d", g.descriptionCalls)), nil
}

func (g *fakeGenerator) GenerateIntroduction(ctx context.Context, book models.BookContext) (string, error) {
	return "Welcome to " + book.Title, nil
}

func (g *fakeGenerator) GenerateChapter(ctx context.Context, book models.BookContext, outline models.ChapterOutline) (*models.Chapter, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chapterCalls++
	if g.failChapter == outline.Number {
		return nil, fmt.Errorf("%w: chapter %d: upstream timeout", models.ErrGeneration, outline.Number)
	}
	return &models.Chapter{
		Number:    outline.Number,
		Title:     outline.Title,
		Body:      "Body of " + outline.Title,
		WordCount: 3,
		KeyPoints: []string{fmt.Sprintf("point %d", outline.Number)},
	}, nil
}

func (g *fakeGenerator) GenerateConclusion(ctx context.Context, book models.BookContext, keyPoints []string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conclusionPoints = append([]string(nil), keyPoints...)
	return "The end", nil
}

func (g *fakeGenerator) Model() string {
	return "fake-model"
}

// fakeRenderer returns a tiny document or a configured error
type fakeRenderer struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (r *fakeRenderer) Render(ctx context.Context, ebook *models.Ebook) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return []byte("%PDF-1.4 " + ebook.ID), nil
}

func (r *fakeRenderer) Extension() string {
	return "pdf"
}

// memoryArtifacts keeps saved documents in memory
type memoryArtifacts struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (a *memoryArtifacts) Save(ctx context.Context, name string, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.files == nil {
		a.files = make(map[string][]byte)
	}
	a.files[name] = data
	return "https://files.example.com/" + name, nil
}

// flakyEbooks fails selected writes of an underlying store
type flakyEbooks struct {
	interfaces.EbookStorage
	saveContentErr error
	markErrorErr   error
}

func (f *flakyEbooks) SaveContent(ctx context.Context, id string, content *models.Content) error {
	if f.saveContentErr != nil {
		return f.saveContentErr
	}
	return f.EbookStorage.SaveContent(ctx, id, content)
}

func (f *flakyEbooks) MarkError(ctx context.Context, id string, reason string) error {
	if f.markErrorErr != nil {
		return f.markErrorErr
	}
	return f.EbookStorage.MarkError(ctx, id, reason)
}

func testDescription(chapters, pages int, label string) *models.Description {
	d := &models.Description{
		TargetAudience:    "Founders",
		Objectives:        []string{"Learn " + label},
		Benefits:          []string{"Grow"},
		TotalPages:        chapters * pages,
		EstimatedReadTime: "2 hours",
		Difficulty:        "beginner",
	}
	for i := 1; i <= chapters; i++ {
		d.Chapters = append(d.Chapters, models.ChapterOutline{
			Number:    i,
			Title:     fmt.Sprintf("Chapter %d", i),
			Summary:   "Summary",
			PageCount: pages,
		})
	}
	return d
}

func testPipelineConfig() common.PipelineConfig {
	return common.PipelineConfig{
		ChapterCount:    testChapters,
		PagesPerChapter: testPages,
		ChapterInterval: "0s",
		ChapterBurst:    1,
	}
}

type testPipeline struct {
	storage      *badgerstore.Manager
	ebooks       interfaces.EbookStorage
	generator    *fakeGenerator
	renderer     *fakeRenderer
	artifacts    *memoryArtifacts
	orchestrator *Orchestrator
}

func newTestPipeline(t *testing.T) *testPipeline {
	t.Helper()
	logger := arbor.NewLogger()

	storage, err := badgerstore.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	p := &testPipeline{
		storage:   storage,
		ebooks:    storage.EbookStorage(),
		generator: newFakeGenerator(),
		renderer:  &fakeRenderer{},
		artifacts: &memoryArtifacts{},
	}
	p.rebuild(t, p.ebooks)
	return p
}

// rebuild recreates the orchestrator over a different ebook store
func (p *testPipeline) rebuild(t *testing.T, ebooks interfaces.EbookStorage) {
	t.Helper()
	o, err := NewOrchestrator(ebooks, p.generator, p.renderer, p.artifacts, testPipelineConfig(), arbor.NewLogger())
	require.NoError(t, err)
	p.orchestrator = o
}

func (p *testPipeline) createEbook(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, p.ebooks.CreateEbook(context.Background(), &models.Ebook{
		ID:       id,
		AgencyID: testAgency,
		Title:    "Guide",
		Metadata: models.EbookMetadata{TargetAudience: "Founders", Industry: "SaaS"},
	}))
}

func (p *testPipeline) ebook(t *testing.T, id string) *models.Ebook {
	t.Helper()
	e, err := p.ebooks.GetEbook(context.Background(), id)
	require.NoError(t, err)
	return e
}

func newJob(ebookID string, step models.JobStep, approved *models.Description) *queue.Job {
	return queue.NewJob(&models.JobRecord{
		ID:      "job-" + string(step),
		Step:    step,
		EbookID: ebookID,
		Payload: models.JobPayload{
			EbookID:             ebookID,
			AgencyID:            testAgency,
			Title:               "Guide",
			Step:                step,
			ApprovedDescription: approved,
		},
	})
}

func isStageFailure(err error) (*StageFailure, bool) {
	var failure *StageFailure
	ok := errors.As(err, &failure)
	return failure, ok
}
