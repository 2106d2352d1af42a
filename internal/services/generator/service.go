package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
	"github.com/ternarybob/folio/internal/schemas"
)

// Service implements interfaces.ContentGenerator over an LLM chat backend.
// Malformed model output is re-prompted up to repairAttempts times; provider
// errors are returned at once.
type Service struct {
	llm             interfaces.LLMService
	chapterCount    int
	pagesPerChapter int
	repairAttempts  int
	schemas         map[string]*jsonschema.Schema
	validate        *validator.Validate
	logger          arbor.ILogger
}

type introductionResponse struct {
	Introduction string `json:"introduction" validate:"required"`
}

type conclusionResponse struct {
	Conclusion string `json:"conclusion" validate:"required"`
}

// NewService creates a content generator
func NewService(llm interfaces.LLMService, config common.PipelineConfig, logger arbor.ILogger) (*Service, error) {
	if llm == nil {
		return nil, fmt.Errorf("llm service is required")
	}

	compiled := make(map[string]*jsonschema.Schema)
	for _, name := range []string{schemas.Description, schemas.Introduction, schemas.Chapter, schemas.Conclusion} {
		schema, err := compileSchema(name)
		if err != nil {
			return nil, err
		}
		compiled[name] = schema
	}

	repairAttempts := config.DescriptionRepairAttempts
	if repairAttempts < 0 {
		repairAttempts = 0
	}

	return &Service{
		llm:             llm,
		chapterCount:    config.ChapterCount,
		pagesPerChapter: config.PagesPerChapter,
		repairAttempts:  repairAttempts,
		schemas:         compiled,
		validate:        validator.New(),
		logger:          logger,
	}, nil
}

// Model identifies the backing model
func (s *Service) Model() string {
	return s.llm.Model()
}

// GenerateDescription produces an outline with exactly the configured
// number of chapters and pages
func (s *Service) GenerateDescription(ctx context.Context, title, targetAudience, industry string) (*models.Description, error) {
	prompt := descriptionPrompt(title, targetAudience, industry, s.chapterCount, s.pagesPerChapter)

	description, err := generate(ctx, s, "description", schemas.Description, prompt, func(d *models.Description) error {
		return d.CheckShape(s.chapterCount, s.pagesPerChapter)
	})
	if err != nil {
		return nil, err
	}

	if description.TargetAudience == "" {
		description.TargetAudience = targetAudience
	}
	return description, nil
}

// GenerateIntroduction writes the book introduction
func (s *Service) GenerateIntroduction(ctx context.Context, book models.BookContext) (string, error) {
	resp, err := generate[introductionResponse](ctx, s, "introduction", schemas.Introduction, introductionPrompt(book), nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Introduction), nil
}

// GenerateChapter writes one chapter from its outline
func (s *Service) GenerateChapter(ctx context.Context, book models.BookContext, outline models.ChapterOutline) (*models.Chapter, error) {
	label := fmt.Sprintf("chapter %d", outline.Number)
	chapter, err := generate(ctx, s, label, schemas.Chapter, chapterPrompt(book, outline), func(c *models.Chapter) error {
		// The outline owns numbering; models sometimes omit or renumber
		c.Number = outline.Number
		return nil
	})
	if err != nil {
		return nil, err
	}

	chapter.Body = strings.TrimSpace(chapter.Body)
	if words := len(strings.Fields(chapter.Body)); chapter.WordCount <= 0 || chapter.WordCount > words*2 {
		chapter.WordCount = words
	}
	return chapter, nil
}

// GenerateConclusion writes the conclusion from the chapters' key points
func (s *Service) GenerateConclusion(ctx context.Context, book models.BookContext, keyPoints []string) (string, error) {
	resp, err := generate[conclusionResponse](ctx, s, "conclusion", schemas.Conclusion, conclusionPrompt(book, keyPoints), nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Conclusion), nil
}

// generate asks for JSON, validates it against the schema, decodes a fresh T,
// runs check and validates struct tags. Invalid output is re-prompted.
func generate[T any](ctx context.Context, s *Service, label, schemaName, prompt string, check func(*T) error) (*T, error) {
	base := []interfaces.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}
	messages := base

	var lastIssue error
	for attempt := 0; attempt <= s.repairAttempts; attempt++ {
		raw, err := s.llm.Chat(ctx, messages)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", models.ErrGeneration, label, err)
		}

		out := new(T)
		issue := s.decode(schemaName, raw, out, func() error {
			if check == nil {
				return nil
			}
			return check(out)
		})
		if issue == nil {
			return out, nil
		}
		lastIssue = issue

		s.logger.Warn().
			Err(issue).
			Str("part", label).
			Int("attempt", attempt+1).
			Int("max_attempts", s.repairAttempts+1).
			Msg("Generated output rejected")

		messages = append(append([]interfaces.Message{}, base...),
			interfaces.Message{Role: "assistant", Content: raw},
			interfaces.Message{Role: "user", Content: repairPrompt(schemaName, issue)},
		)
	}

	return nil, fmt.Errorf("%w: %s invalid after %d attempts: %v", models.ErrGeneration, label, s.repairAttempts+1, lastIssue)
}

// decode runs check after unmarshalling and before struct validation so it
// may fill fields the model is allowed to omit
func (s *Service) decode(schemaName, raw string, out any, check func() error) error {
	candidate := extractJSON(raw)
	if err := validateAgainstSchema(s.schemas[schemaName], candidate); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(candidate), out); err != nil {
		return fmt.Errorf("response does not decode: %w", err)
	}
	if err := check(); err != nil {
		return err
	}
	if err := s.validate.Struct(out); err != nil {
		return fmt.Errorf("response failed validation: %w", err)
	}
	return nil
}
