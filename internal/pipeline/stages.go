package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/models"
	"github.com/ternarybob/folio/internal/queue"
)

// HandleDescription generates the ebook outline. Re-running it overwrites the
// previous outline and clears its approval.
func (o *Orchestrator) HandleDescription(ctx context.Context, job *queue.Job) (*models.JobResult, error) {
	payload := job.Payload()
	progress(ctx, job, o.logger, 5)

	ebook, err := o.load(ctx, payload)
	if err != nil {
		return nil, o.fail(ctx, models.JobStepDescription, payload.EbookID, err)
	}
	switch {
	case ebook.Content != nil:
		err = models.PreconditionError("ebook %s already has content", ebook.ID)
	case ebook.Status == models.EbookStatusGenerating || ebook.Status == models.EbookStatusGeneratingPDF:
		err = models.PreconditionError("ebook %s is busy in status %s", ebook.ID, ebook.Status)
	}
	if err != nil {
		return nil, o.fail(ctx, models.JobStepDescription, ebook.ID, err)
	}
	progress(ctx, job, o.logger, 10)

	description, err := o.generator.GenerateDescription(ctx, ebook.Title, ebook.Metadata.TargetAudience, ebook.Metadata.Industry)
	if err != nil {
		return nil, o.fail(ctx, models.JobStepDescription, ebook.ID, err)
	}
	progress(ctx, job, o.logger, 70)

	if err := description.CheckShape(o.config.ChapterCount, o.config.PagesPerChapter); err != nil {
		return nil, o.fail(ctx, models.JobStepDescription, ebook.ID, fmt.Errorf("%w: %w", models.ErrGeneration, err))
	}
	progress(ctx, job, o.logger, 90)

	if err := o.ebooks.SaveDescription(ctx, ebook.ID, description); err != nil {
		return nil, o.fail(ctx, models.JobStepDescription, ebook.ID, err)
	}
	progress(ctx, job, o.logger, 100)

	o.logger.Info().
		Str("ebook_id", ebook.ID).
		Int("chapters", len(description.Chapters)).
		Int("pages", description.TotalPages).
		Msg("Description generated")

	return &models.JobResult{
		Success: true,
		EbookID: ebook.ID,
		Step:    models.JobStepDescription,
		Message: fmt.Sprintf("Description generated with %d chapters", len(description.Chapters)),
	}, nil
}

// HandleContent generates the introduction, every chapter and the conclusion,
// then persists them together. Nothing is persisted if any call fails.
func (o *Orchestrator) HandleContent(ctx context.Context, job *queue.Job) (*models.JobResult, error) {
	payload := job.Payload()
	progress(ctx, job, o.logger, 5)

	ebook, err := o.load(ctx, payload)
	if err != nil {
		return nil, o.fail(ctx, models.JobStepContent, payload.EbookID, err)
	}

	if ebook.Content != nil {
		switch ebook.Status {
		case models.EbookStatusContentReady, models.EbookStatusGeneratingPDF, models.EbookStatusCompleted:
			o.logger.Info().Str("ebook_id", ebook.ID).Str("status", string(ebook.Status)).Msg("Content already generated, skipping")
			progress(ctx, job, o.logger, 100)
			return &models.JobResult{
				Success: true,
				EbookID: ebook.ID,
				Step:    models.JobStepContent,
				Message: "Content already generated",
			}, nil
		}
	}

	if ebook.Description == nil {
		return nil, o.fail(ctx, models.JobStepContent, ebook.ID, models.PreconditionError("ebook %s has no description", ebook.ID))
	}
	if !ebook.DescriptionApproved {
		if payload.ApprovedDescription == nil {
			return nil, o.fail(ctx, models.JobStepContent, ebook.ID, models.PreconditionError("ebook %s description is not approved", ebook.ID))
		}
		ebook, err = o.ebooks.ApproveDescription(ctx, ebook.ID, payload.ApprovedDescription)
		if err != nil {
			return nil, o.fail(ctx, models.JobStepContent, payload.EbookID, err)
		}
	}
	description := ebook.Description
	if len(description.Chapters) == 0 {
		return nil, o.fail(ctx, models.JobStepContent, ebook.ID, models.PreconditionError("ebook %s description has no chapters", ebook.ID))
	}

	if err := o.ebooks.UpdateStatus(ctx, ebook.ID, models.EbookStatusGenerating); err != nil {
		return nil, o.fail(ctx, models.JobStepContent, ebook.ID, err)
	}

	content, err := o.generateContent(ctx, job, ebook, description)
	if err != nil {
		return nil, o.fail(ctx, models.JobStepContent, ebook.ID, err)
	}
	progress(ctx, job, o.logger, 95)

	if err := o.ebooks.SaveContent(ctx, ebook.ID, content); err != nil {
		return nil, o.fail(ctx, models.JobStepContent, ebook.ID, err)
	}
	progress(ctx, job, o.logger, 100)

	o.logger.Info().
		Str("ebook_id", ebook.ID).
		Int("chapters", content.Metadata.ChapterCount).
		Int("words", content.Metadata.TotalWords).
		Msg("Content generated")

	return &models.JobResult{
		Success: true,
		EbookID: ebook.ID,
		Step:    models.JobStepContent,
		Message: fmt.Sprintf("Generated %d chapters, %d words", content.Metadata.ChapterCount, content.Metadata.TotalWords),
	}, nil
}

func (o *Orchestrator) generateContent(ctx context.Context, job *queue.Job, ebook *models.Ebook, description *models.Description) (*models.Content, error) {
	book := models.BookContext{
		Title:          ebook.Title,
		TargetAudience: ebook.Metadata.TargetAudience,
		Industry:       ebook.Metadata.Industry,
		Description:    description,
	}

	introduction, err := o.generator.GenerateIntroduction(ctx, book)
	if err != nil {
		return nil, err
	}
	progress(ctx, job, o.logger, 10)

	total := len(description.Chapters)
	chapters := make([]models.Chapter, 0, total)
	var keyPoints []string
	totalWords := len(strings.Fields(introduction))

	for i, outline := range description.Chapters {
		if err := o.limiter.Wait(ctx); err != nil {
			// Wait refuses early when the deadline falls before the next token
			<-ctx.Done()
			return nil, ctx.Err()
		}

		start := time.Now()
		chapter, err := o.generator.GenerateChapter(ctx, book, outline)
		if err != nil {
			return nil, err
		}
		chapters = append(chapters, *chapter)
		keyPoints = append(keyPoints, chapter.KeyPoints...)
		totalWords += chapter.WordCount

		o.logger.Debug().
			Str("ebook_id", ebook.ID).
			Int("chapter", outline.Number).
			Int("of", total).
			Int("words", chapter.WordCount).
			Dur("duration", time.Since(start)).
			Msg("Chapter generated")

		progress(ctx, job, o.logger, 10+(i+1)*70/total)
	}

	conclusion, err := o.generator.GenerateConclusion(ctx, book, keyPoints)
	if err != nil {
		return nil, err
	}
	totalWords += len(strings.Fields(conclusion))
	progress(ctx, job, o.logger, 85)

	return &models.Content{
		Introduction: introduction,
		Chapters:     chapters,
		Conclusion:   conclusion,
		Metadata: models.ContentMetadata{
			GeneratedAt:  time.Now(),
			TotalWords:   totalWords,
			ChapterCount: len(chapters),
			Model:        o.generator.Model(),
		},
	}, nil
}

// HandlePDF renders the ebook, stores the document and records its URL
func (o *Orchestrator) HandlePDF(ctx context.Context, job *queue.Job) (*models.JobResult, error) {
	payload := job.Payload()

	ebook, err := o.load(ctx, payload)
	if err != nil {
		return nil, o.fail(ctx, models.JobStepPDF, payload.EbookID, err)
	}

	if ebook.Status == models.EbookStatusCompleted && ebook.PDFURL != "" {
		progress(ctx, job, o.logger, 100)
		return &models.JobResult{
			Success:   true,
			EbookID:   ebook.ID,
			Step:      models.JobStepPDF,
			Reference: ebook.PDFURL,
			Message:   "PDF already generated",
		}, nil
	}

	switch {
	case ebook.Description == nil:
		err = models.PreconditionError("ebook %s has no description", ebook.ID)
	case ebook.Content == nil:
		err = models.PreconditionError("ebook %s has no content", ebook.ID)
	}
	if err != nil {
		return nil, o.fail(ctx, models.JobStepPDF, ebook.ID, err)
	}

	if err := o.ebooks.UpdateStatus(ctx, ebook.ID, models.EbookStatusGeneratingPDF); err != nil {
		return nil, o.fail(ctx, models.JobStepPDF, ebook.ID, err)
	}
	progress(ctx, job, o.logger, 10)

	data, err := o.renderer.Render(ctx, ebook)
	if err != nil {
		return nil, o.fail(ctx, models.JobStepPDF, ebook.ID, err)
	}
	progress(ctx, job, o.logger, 70)

	url, err := o.artifacts.Save(ctx, common.NewArtifactName(ebook.ID, o.renderer.Extension()), data)
	if err != nil {
		return nil, o.fail(ctx, models.JobStepPDF, ebook.ID, err)
	}
	progress(ctx, job, o.logger, 90)

	if err := o.ebooks.SavePDF(ctx, ebook.ID, url); err != nil {
		return nil, o.fail(ctx, models.JobStepPDF, ebook.ID, err)
	}
	progress(ctx, job, o.logger, 100)

	o.logger.Info().Str("ebook_id", ebook.ID).Str("url", url).Int("size", len(data)).Msg("PDF generated")

	return &models.JobResult{
		Success:   true,
		EbookID:   ebook.ID,
		Step:      models.JobStepPDF,
		Reference: url,
		Message:   "PDF generated",
	}, nil
}
