package common

import (
	"fmt"

	"github.com/google/uuid"
)

// NewEbookID generates a unique ebook ID
// Format: ebook_<uuid>
func NewEbookID() string {
	return "ebook_" + uuid.New().String()
}

// NewJobID generates a unique job ID
// Format: job_<uuid>
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewArtifactName returns a file name for a rendered ebook that cannot collide
// with earlier renders of the same ebook.
func NewArtifactName(ebookID, ext string) string {
	return fmt.Sprintf("ebook-%s-%s.%s", ebookID, uuid.New().String(), ext)
}
