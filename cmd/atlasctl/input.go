package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/kirillkom/atlas-slicer/internal/core/domain"
)

// loadCandidate reads path into a CandidateFile. The declared media type is
// mediaType when set, otherwise whatever the extension maps to.
func loadCandidate(path, mediaType string) (*domain.CandidateFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	declared := strings.TrimSpace(mediaType)
	if declared == "" {
		declared = mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	}
	return &domain.CandidateFile{
		Name:      filepath.Base(path),
		MediaType: declared,
		Data:      data,
	}, nil
}
