package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	config := &common.BadgerConfig{Path: t.TempDir()}
	manager, err := NewManager(arbor.NewLogger(), config)
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	return manager
}

func testDescription(chapters, pages int) *models.Description {
	d := &models.Description{
		TargetAudience:    "Founders",
		Objectives:        []string{"Learn"},
		Benefits:          []string{"Grow"},
		TotalPages:        chapters * pages,
		EstimatedReadTime: "2 hours",
		Difficulty:        "beginner",
	}
	for i := 1; i <= chapters; i++ {
		d.Chapters = append(d.Chapters, models.ChapterOutline{Number: i, Title: "Chapter", Summary: "Summary", PageCount: pages})
	}
	return d
}

func createEbook(t *testing.T, s *EbookStorage, id string) {
	t.Helper()
	require.NoError(t, s.CreateEbook(context.Background(), &models.Ebook{
		ID:       id,
		AgencyID: "agency-1",
		Title:    "Growth Playbook",
	}))
}

func TestEbookStorage_CreateAndGet(t *testing.T) {
	m := newTestManager(t)
	s := m.EbookStorage().(*EbookStorage)
	ctx := context.Background()

	createEbook(t, s, "ebook-1")

	got, err := s.GetEbook(ctx, "ebook-1")
	require.NoError(t, err)
	assert.Equal(t, models.EbookStatusCreated, got.Status)
	assert.Equal(t, "agency-1", got.AgencyID)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = s.GetEbook(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrEbookNotFound)
}

func TestEbookStorage_ListByAgency(t *testing.T) {
	m := newTestManager(t)
	s := m.EbookStorage().(*EbookStorage)
	ctx := context.Background()

	createEbook(t, s, "ebook-1")
	createEbook(t, s, "ebook-2")
	require.NoError(t, s.CreateEbook(ctx, &models.Ebook{ID: "ebook-3", AgencyID: "agency-2", Title: "Other"}))

	list, err := s.ListEbooks(ctx, "agency-1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestEbookStorage_StageWrites(t *testing.T) {
	m := newTestManager(t)
	s := m.EbookStorage().(*EbookStorage)
	ctx := context.Background()
	createEbook(t, s, "ebook-1")

	require.NoError(t, s.SaveDescription(ctx, "ebook-1", testDescription(10, 5)))
	_, err := s.ApproveDescription(ctx, "ebook-1", nil)
	require.NoError(t, err)
	require.NoError(t, s.UpdateStatus(ctx, "ebook-1", models.EbookStatusGenerating))
	require.NoError(t, s.SaveContent(ctx, "ebook-1", &models.Content{Introduction: "intro", Conclusion: "end"}))
	require.NoError(t, s.UpdateStatus(ctx, "ebook-1", models.EbookStatusGeneratingPDF))
	require.NoError(t, s.SavePDF(ctx, "ebook-1", "/artifacts/ebook.pdf"))

	got, err := s.GetEbook(ctx, "ebook-1")
	require.NoError(t, err)
	assert.Equal(t, models.EbookStatusCompleted, got.Status)
	assert.True(t, got.DescriptionApproved)
	assert.NotNil(t, got.ApprovedAt)
	assert.Equal(t, "intro", got.Content.Introduction)
	assert.Equal(t, "/artifacts/ebook.pdf", got.PDFURL)
	assert.Len(t, got.Description.Chapters, 10)
}

func TestEbookStorage_RejectsInvalidTransitions(t *testing.T) {
	m := newTestManager(t)
	s := m.EbookStorage().(*EbookStorage)
	ctx := context.Background()
	createEbook(t, s, "ebook-1")

	err := s.SaveContent(ctx, "ebook-1", &models.Content{})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	assert.ErrorIs(t, err, models.ErrPrecondition)

	err = s.SavePDF(ctx, "ebook-1", "/x.pdf")
	assert.ErrorIs(t, err, models.ErrPrecondition)

	got, err := s.GetEbook(ctx, "ebook-1")
	require.NoError(t, err)
	assert.Equal(t, models.EbookStatusCreated, got.Status)
	assert.Nil(t, got.Content)
}

func TestEbookStorage_RerunDescriptionClearsApproval(t *testing.T) {
	m := newTestManager(t)
	s := m.EbookStorage().(*EbookStorage)
	ctx := context.Background()
	createEbook(t, s, "ebook-1")

	require.NoError(t, s.SaveDescription(ctx, "ebook-1", testDescription(10, 5)))
	_, err := s.ApproveDescription(ctx, "ebook-1", nil)
	require.NoError(t, err)

	replacement := testDescription(10, 5)
	replacement.TargetAudience = "Marketers"
	require.NoError(t, s.SaveDescription(ctx, "ebook-1", replacement))

	got, err := s.GetEbook(ctx, "ebook-1")
	require.NoError(t, err)
	assert.False(t, got.DescriptionApproved)
	assert.Nil(t, got.ApprovedAt)
	assert.Equal(t, "Marketers", got.Description.TargetAudience)
}

func TestEbookStorage_ApproveWithEdits(t *testing.T) {
	m := newTestManager(t)
	s := m.EbookStorage().(*EbookStorage)
	ctx := context.Background()
	createEbook(t, s, "ebook-1")

	_, err := s.ApproveDescription(ctx, "ebook-1", nil)
	assert.ErrorIs(t, err, models.ErrPrecondition)

	require.NoError(t, s.SaveDescription(ctx, "ebook-1", testDescription(10, 5)))
	edited := testDescription(10, 5)
	edited.Difficulty = "advanced"

	got, err := s.ApproveDescription(ctx, "ebook-1", edited)
	require.NoError(t, err)
	assert.True(t, got.DescriptionApproved)
	assert.Equal(t, "advanced", got.Description.Difficulty)
}

func TestEbookStorage_MarkErrorAndRestart(t *testing.T) {
	m := newTestManager(t)
	s := m.EbookStorage().(*EbookStorage)
	ctx := context.Background()
	createEbook(t, s, "ebook-1")

	require.NoError(t, s.MarkError(ctx, "ebook-1", "generator down"))
	got, err := s.GetEbook(ctx, "ebook-1")
	require.NoError(t, err)
	assert.Equal(t, models.EbookStatusError, got.Status)
	assert.Equal(t, "generator down", got.LastError)

	require.NoError(t, s.SaveDescription(ctx, "ebook-1", testDescription(10, 5)))
	got, err = s.GetEbook(ctx, "ebook-1")
	require.NoError(t, err)
	assert.Equal(t, models.EbookStatusDescriptionGenerated, got.Status)
	assert.Empty(t, got.LastError)
}

func TestEbookStorage_UpdatedAtAdvances(t *testing.T) {
	m := newTestManager(t)
	s := m.EbookStorage().(*EbookStorage)
	ctx := context.Background()
	createEbook(t, s, "ebook-1")

	before, err := s.GetEbook(ctx, "ebook-1")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.SaveDescription(ctx, "ebook-1", testDescription(10, 5)))

	after, err := s.GetEbook(ctx, "ebook-1")
	require.NoError(t, err)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
	assert.Equal(t, before.CreatedAt.Unix(), after.CreatedAt.Unix())
}

func TestManager_Ping(t *testing.T) {
	m := newTestManager(t)
	assert.NoError(t, m.Ping(context.Background()))
}
