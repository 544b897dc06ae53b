package preview

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/kirillkom/atlas-slicer/internal/core/domain"
)

// Store keeps preview copies of selected files under a base directory and
// hands out file:// URLs for them.
type Store struct {
	basePath string
}

func New(basePath string) (*Store, error) {
	if basePath == "" {
		basePath = filepath.Join(os.TempDir(), "atlasctl-previews")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve preview dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create preview dir: %w", err)
	}
	return &Store{basePath: abs}, nil
}

func (s *Store) Create(_ context.Context, file domain.CandidateFile) (domain.LocalPreview, error) {
	key := fmt.Sprintf("%s_%s", uuid.NewString(), sanitizeFilename(file.Name))
	path := s.path(key)
	if err := os.WriteFile(path, file.Data, 0o600); err != nil {
		return domain.LocalPreview{}, fmt.Errorf("write preview: %w", err)
	}
	return domain.LocalPreview{
		Key: key,
		URL: (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String(),
	}, nil
}

func (s *Store) Release(_ context.Context, preview domain.LocalPreview) error {
	if preview.Key == "" {
		return nil
	}
	if preview.Key != filepath.Base(preview.Key) {
		return fmt.Errorf("invalid preview key %q", preview.Key)
	}
	err := os.Remove(s.path(preview.Key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove preview: %w", err)
	}
	return nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.basePath, key)
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == "_" {
		return "image.png"
	}
	return base
}
