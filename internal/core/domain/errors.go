package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrUpload       = errors.New("upload failed")
	ErrProcessing   = errors.New("processing failed")
	ErrInvalidState = errors.New("invalid workflow state")
	ErrTransport    = errors.New("transport failure")
	ErrTemporary    = errors.New("temporary failure")
	ErrContract     = errors.New("contract violation")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
