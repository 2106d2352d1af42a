package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/interfaces"
)

// FileArtifactStore writes rendered documents to a local directory that the
// HTTP server exposes under PublicBaseURL
type FileArtifactStore struct {
	dir     string
	baseURL string
	logger  arbor.ILogger
}

var _ interfaces.ArtifactStore = (*FileArtifactStore)(nil)

// NewFileArtifactStore creates the artifact directory if needed
func NewFileArtifactStore(config common.ArtifactsConfig, logger arbor.ILogger) (*FileArtifactStore, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("artifact directory is required")
	}
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory %s: %w", config.Dir, err)
	}
	return &FileArtifactStore{
		dir:     config.Dir,
		baseURL: strings.TrimRight(config.PublicBaseURL, "/"),
		logger:  logger,
	}, nil
}

// Dir is the directory artifacts are written to
func (s *FileArtifactStore) Dir() string {
	return s.dir
}

// Save writes data under name and returns its public URL. The file appears
// atomically so a reader never sees a partial document.
func (s *FileArtifactStore) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if name == "" || filepath.Base(name) != name || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create artifact file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write artifact %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write artifact %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		return "", fmt.Errorf("failed to store artifact %s: %w", name, err)
	}

	url := s.baseURL + "/" + name
	s.logger.Debug().Str("name", name).Int("size", len(data)).Str("url", url).Msg("Artifact stored")
	return url, nil
}
