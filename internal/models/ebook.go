package models

import (
	"fmt"
	"time"
)

// EbookStatus is the lifecycle state of an ebook
type EbookStatus string

const (
	EbookStatusCreated              EbookStatus = "CREATED"
	EbookStatusDescriptionGenerated EbookStatus = "DESCRIPTION_GENERATED"
	EbookStatusGenerating           EbookStatus = "GENERATING"
	EbookStatusContentReady         EbookStatus = "CONTENT_READY"
	EbookStatusGeneratingPDF        EbookStatus = "GENERATING_PDF"
	EbookStatusCompleted            EbookStatus = "COMPLETED"
	EbookStatusError                EbookStatus = "ERROR"
)

// Self-transitions cover stage re-runs and redelivered jobs.
// ERROR may be left only by a UI-initiated restart of a stage.
var ebookTransitions = map[EbookStatus][]EbookStatus{
	EbookStatusCreated:              {EbookStatusDescriptionGenerated, EbookStatusError},
	EbookStatusDescriptionGenerated: {EbookStatusDescriptionGenerated, EbookStatusGenerating, EbookStatusError},
	EbookStatusGenerating:           {EbookStatusGenerating, EbookStatusContentReady, EbookStatusError},
	EbookStatusContentReady:         {EbookStatusGeneratingPDF, EbookStatusError},
	EbookStatusGeneratingPDF:        {EbookStatusGeneratingPDF, EbookStatusCompleted, EbookStatusError},
	EbookStatusCompleted:            {},
	EbookStatusError:                {EbookStatusError, EbookStatusDescriptionGenerated, EbookStatusGenerating, EbookStatusGeneratingPDF},
}

// IsValid reports whether s is a known status
func (s EbookStatus) IsValid() bool {
	_, ok := ebookTransitions[s]
	return ok
}

// CanTransitionTo reports whether the state machine allows s -> next
func (s EbookStatus) CanTransitionTo(next EbookStatus) bool {
	for _, allowed := range ebookTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Ebook is the durable record of one generated ebook
type Ebook struct {
	ID                  string        `json:"id" badgerhold:"key"`
	AgencyID            string        `json:"agency_id" badgerhold:"index"`
	Title               string        `json:"title"`
	Metadata            EbookMetadata `json:"metadata"`
	Description         *Description  `json:"description,omitempty"`
	DescriptionApproved bool          `json:"description_approved"`
	ApprovedAt          *time.Time    `json:"approved_at,omitempty"`
	Content             *Content      `json:"content,omitempty"`
	PDFURL              string        `json:"pdf_url,omitempty"`
	Status              EbookStatus   `json:"status" badgerhold:"index"`
	LastError           string        `json:"last_error,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// EbookMetadata is fixed at creation
type EbookMetadata struct {
	TargetAudience string `json:"target_audience"`
	Industry       string `json:"industry"`
}

// Description is the outline a human approves before content generation
type Description struct {
	TargetAudience    string           `json:"targetAudience" validate:"required"`
	Objectives        []string         `json:"objectives" validate:"required,min=1,dive,required"`
	Benefits          []string         `json:"benefits" validate:"required,min=1,dive,required"`
	Chapters          []ChapterOutline `json:"chapters" validate:"required,min=1,dive"`
	TotalPages        int              `json:"totalPages" validate:"gt=0"`
	EstimatedReadTime string           `json:"estimatedReadTime" validate:"required"`
	Difficulty        string           `json:"difficulty" validate:"oneof=beginner intermediate advanced"`
}

// ChapterOutline describes one planned chapter
type ChapterOutline struct {
	Number    int    `json:"number" validate:"gt=0"`
	Title     string `json:"title" validate:"required"`
	Summary   string `json:"summary" validate:"required"`
	PageCount int    `json:"pageCount" validate:"gt=0"`
}

// CheckShape enforces the product rule: exactly chapterCount chapters numbered
// 1..chapterCount, each pagesPerChapter pages, totalling chapterCount*pagesPerChapter.
func (d *Description) CheckShape(chapterCount, pagesPerChapter int) error {
	if d == nil {
		return fmt.Errorf("description is missing")
	}
	if len(d.Chapters) != chapterCount {
		return fmt.Errorf("expected %d chapters, got %d", chapterCount, len(d.Chapters))
	}
	for i, ch := range d.Chapters {
		if ch.Number != i+1 {
			return fmt.Errorf("chapter %d has number %d", i+1, ch.Number)
		}
		if ch.PageCount != pagesPerChapter {
			return fmt.Errorf("chapter %d has %d pages, expected %d", ch.Number, ch.PageCount, pagesPerChapter)
		}
	}
	if want := chapterCount * pagesPerChapter; d.TotalPages != want {
		return fmt.Errorf("total pages %d, expected %d", d.TotalPages, want)
	}
	return nil
}

// Content is the fully generated ebook text
type Content struct {
	Introduction string          `json:"introduction"`
	Chapters     []Chapter       `json:"chapters"`
	Conclusion   string          `json:"conclusion"`
	Metadata     ContentMetadata `json:"metadata"`
}

// Chapter is one generated chapter
type Chapter struct {
	Number    int      `json:"number" validate:"gt=0"`
	Title     string   `json:"title" validate:"required"`
	Body      string   `json:"content" validate:"required"`
	WordCount int      `json:"wordCount"`
	KeyPoints []string `json:"keyPoints"`
}

// ContentMetadata summarises a generation run
type ContentMetadata struct {
	GeneratedAt  time.Time `json:"generatedAt"`
	TotalWords   int       `json:"totalWords"`
	ChapterCount int       `json:"chapterCount"`
	Model        string    `json:"model,omitempty"`
}

// BookContext is the per-book input every chapter prompt shares
type BookContext struct {
	Title          string
	TargetAudience string
	Industry       string
	Description    *Description
}
