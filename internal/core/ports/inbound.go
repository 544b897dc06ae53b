package ports

import (
	"context"

	"github.com/kirillkom/atlas-slicer/internal/core/domain"
)

// WorkflowController is the inbound contract for driving one upload-process-download cycle.
type WorkflowController interface {
	Select(ctx context.Context, file *domain.CandidateFile) error
	RetryUpload(ctx context.Context) error
	RequestProcess(ctx context.Context) error
	Download(ctx context.Context) error
	Reset(ctx context.Context) error
	Snapshot() domain.Snapshot
	Subscribe(fn func(domain.Snapshot)) (cancel func())
	Wait()
}
