package interfaces

import (
	"context"

	"github.com/ternarybob/folio/internal/models"
)

// ContentGenerator produces validated structured ebook text.
// Every method returns models.ErrGeneration (wrapped) when the backend fails
// or its output cannot be used.
type ContentGenerator interface {
	GenerateDescription(ctx context.Context, title, targetAudience, industry string) (*models.Description, error)
	GenerateIntroduction(ctx context.Context, book models.BookContext) (string, error)
	GenerateChapter(ctx context.Context, book models.BookContext, outline models.ChapterOutline) (*models.Chapter, error)
	GenerateConclusion(ctx context.Context, book models.BookContext, keyPoints []string) (string, error)
	// Model identifies the generator for content metadata
	Model() string
}

// DocumentRenderer turns a finished ebook into a binary document
type DocumentRenderer interface {
	Render(ctx context.Context, ebook *models.Ebook) ([]byte, error)
	// Extension is the file extension of rendered documents, without the dot
	Extension() string
}

// ArtifactStore persists rendered documents and returns their public location
type ArtifactStore interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}
