package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
)

// scriptedLLM replies with the queued responses in order and records prompts
type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     [][]interfaces.Message
}

func (f *scriptedLLM) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, messages)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	next := f.responses[0]
	f.responses = f.responses[1:]
	return next, nil
}

func (f *scriptedLLM) HealthCheck(ctx context.Context) error { return nil }
func (f *scriptedLLM) Model() string                         { return "scripted" }
func (f *scriptedLLM) Close() error                          { return nil }

func newTestService(t *testing.T, llm interfaces.LLMService) *Service {
	t.Helper()
	svc, err := NewService(llm, common.PipelineConfig{
		ChapterCount:              3,
		PagesPerChapter:           2,
		DescriptionRepairAttempts: 1,
	}, arbor.NewLogger())
	require.NoError(t, err)
	return svc
}

func descriptionJSON(t *testing.T, chapters int) string {
	t.Helper()
	d := models.Description{
		TargetAudience:    "Marketing managers",
		Objectives:        []string{"Understand funnels"},
		Benefits:          []string{"More leads"},
		TotalPages:        chapters * 2,
		EstimatedReadTime: "30 minutes",
		Difficulty:        "beginner",
	}
	for i := 1; i <= chapters; i++ {
		d.Chapters = append(d.Chapters, models.ChapterOutline{
			Number:    i,
			Title:     fmt.Sprintf("Chapter %d", i),
			Summary:   "Summary",
			PageCount: 2,
		})
	}
	raw, err := json.Marshal(d)
	require.NoError(t, err)
	return string(raw)
}

func TestNewService_RequiresLLM(t *testing.T) {
	_, err := NewService(nil, common.PipelineConfig{}, arbor.NewLogger())
	assert.Error(t, err)
}

func TestGenerateDescription_ValidResponse(t *testing.T) {
	llm := &scriptedLLM{responses: []string{descriptionJSON(t, 3)}}
	svc := newTestService(t, llm)

	description, err := svc.GenerateDescription(context.Background(), "Growth Playbook", "Marketing managers", "SaaS")
	require.NoError(t, err)
	assert.Len(t, description.Chapters, 3)
	assert.Equal(t, 6, description.TotalPages)
	require.Len(t, llm.calls, 1)
	assert.Equal(t, "system", llm.calls[0][0].Role)
	assert.Contains(t, llm.calls[0][1].Content, "Growth Playbook")
	assert.Contains(t, llm.calls[0][1].Content, "exactly 3 chapters")
}

func TestGenerateDescription_AcceptsFencedJSON(t *testing.T) {
	fenced := "Here you go:\n```json\n" + descriptionJSON(t, 3) + "\n```"
	llm := &scriptedLLM{responses: []string{fenced}}
	svc := newTestService(t, llm)

	_, err := svc.GenerateDescription(context.Background(), "Growth Playbook", "", "")
	require.NoError(t, err)
}

func TestGenerateDescription_RepairsWrongChapterCount(t *testing.T) {
	llm := &scriptedLLM{responses: []string{descriptionJSON(t, 2), descriptionJSON(t, 3)}}
	svc := newTestService(t, llm)

	description, err := svc.GenerateDescription(context.Background(), "Growth Playbook", "", "")
	require.NoError(t, err)
	assert.Len(t, description.Chapters, 3)

	require.Len(t, llm.calls, 2)
	repair := llm.calls[1]
	require.Len(t, repair, 4)
	assert.Equal(t, "assistant", repair[2].Role)
	assert.Contains(t, repair[3].Content, "expected 3 chapters, got 2")
}

func TestGenerateDescription_FailsAfterRepairsExhausted(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"not json", `{"targetAudience": "x"}`}}
	svc := newTestService(t, llm)

	_, err := svc.GenerateDescription(context.Background(), "Growth Playbook", "", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrGeneration))
	assert.Len(t, llm.calls, 2)
}

func TestGenerate_ProviderErrorIsNotRepaired(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("401 unauthorized")}
	svc := newTestService(t, llm)

	_, err := svc.GenerateIntroduction(context.Background(), models.BookContext{Title: "Growth Playbook"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrGeneration))
	assert.Contains(t, err.Error(), "401 unauthorized")
	assert.Len(t, llm.calls, 1)
}

func TestGenerateChapter_UsesOutlineNumberAndCountsWords(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"title": "Funnels", "content": "  one two three four  ", "keyPoints": ["a", "b"]}`,
	}}
	svc := newTestService(t, llm)

	outline := models.ChapterOutline{Number: 2, Title: "Funnels", Summary: "How funnels work", PageCount: 2}
	chapter, err := svc.GenerateChapter(context.Background(), models.BookContext{Title: "Growth Playbook"}, outline)
	require.NoError(t, err)
	assert.Equal(t, 2, chapter.Number)
	assert.Equal(t, "one two three four", chapter.Body)
	assert.Equal(t, 4, chapter.WordCount)
	assert.Equal(t, []string{"a", "b"}, chapter.KeyPoints)
	assert.Contains(t, llm.calls[0][1].Content, "How funnels work")
}

func TestGenerateIntroductionAndConclusion(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"introduction": " Welcome. "}`,
		`{"conclusion": "Go build."}`,
	}}
	svc := newTestService(t, llm)
	book := models.BookContext{Title: "Growth Playbook"}

	intro, err := svc.GenerateIntroduction(context.Background(), book)
	require.NoError(t, err)
	assert.Equal(t, "Welcome.", intro)

	conclusion, err := svc.GenerateConclusion(context.Background(), book, []string{"Measure everything"})
	require.NoError(t, err)
	assert.Equal(t, "Go build.", conclusion)
	assert.True(t, strings.Contains(llm.calls[1][1].Content, "- Measure everything"))
	assert.Equal(t, "scripted", svc.Model())
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, extractJSON(`Sure! {"a":1} Hope that helps`))
	assert.Equal(t, "", extractJSON("no json here"))
}
