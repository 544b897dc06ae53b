package ports

import (
	"context"
	"time"

	"github.com/kirillkom/atlas-slicer/internal/core/domain"
)

// FileValidator decides whether a candidate file may enter the workflow.
type FileValidator interface {
	Validate(file *domain.CandidateFile) error
}

// Uploader transmits file bytes to the remote service.
type Uploader interface {
	Upload(ctx context.Context, file domain.CandidateFile) (domain.AssetIdentifier, error)
}

// Processor asks the remote service to slice an uploaded asset.
type Processor interface {
	Process(ctx context.Context, asset domain.AssetIdentifier) (domain.ResultLocator, error)
}

// UserAgent fetches or opens an absolute address. Outcome is not reported back.
type UserAgent interface {
	Navigate(ctx context.Context, address string) error
}

// PreviewStore keeps local copies of selected files.
type PreviewStore interface {
	Create(ctx context.Context, file domain.CandidateFile) (domain.LocalPreview, error)
	Release(ctx context.Context, preview domain.LocalPreview) error
}

// WorkflowObserver receives workflow telemetry. CallStarted and CallFinished
// bracket every remote call, including ones whose cycle was superseded.
type WorkflowObserver interface {
	ObserveTransition(from, to domain.WorkflowState)
	ObserveStaleCompletion(operation string)
	ObserveCallStarted(operation string)
	ObserveCallFinished(operation string)
}

// RequestObserver receives per-request telemetry from remote adapters.
type RequestObserver interface {
	ObserveRequest(operation string, duration time.Duration, err error)
}

// SnapshotPublisher forwards workflow snapshots outside the process.
type SnapshotPublisher interface {
	PublishSnapshot(ctx context.Context, snapshot domain.Snapshot) error
}
