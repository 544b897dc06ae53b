package usecase

import (
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/kirillkom/atlas-slicer/internal/core/domain"
)

const MediaTypePNG = "image/png"

// MediaTypeValidator accepts files by their declared media type only.
type MediaTypeValidator struct {
	accepted string
}

func NewMediaTypeValidator(accepted string) *MediaTypeValidator {
	accepted = strings.ToLower(strings.TrimSpace(accepted))
	if accepted == "" {
		accepted = MediaTypePNG
	}
	return &MediaTypeValidator{accepted: accepted}
}

func NewPNGValidator() *MediaTypeValidator {
	return NewMediaTypeValidator(MediaTypePNG)
}

func (v *MediaTypeValidator) Validate(file *domain.CandidateFile) error {
	if file == nil {
		return domain.WrapError(domain.ErrValidation, "validate file", errors.New("no file selected"))
	}

	declared := strings.TrimSpace(file.MediaType)
	if declared == "" {
		return domain.WrapError(domain.ErrValidation, "validate file", fmt.Errorf("%q has no declared media type", file.Name))
	}
	parsed, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return domain.WrapError(domain.ErrValidation, "validate file", fmt.Errorf("parse media type %q: %w", declared, err))
	}
	if parsed != v.accepted {
		return domain.WrapError(domain.ErrValidation, "validate file", fmt.Errorf("media type %q is not %s", parsed, v.accepted))
	}
	return nil
}
