package domain

import "time"

type WorkflowState string

const (
	StateIdle         WorkflowState = "idle"
	StateFileSelected WorkflowState = "file_selected"
	StateUploading    WorkflowState = "uploading"
	StateUploaded     WorkflowState = "uploaded"
	StateProcessing   WorkflowState = "processing"
	StateReady        WorkflowState = "ready"
	StateDownloading  WorkflowState = "downloading"
)

func (s WorkflowState) String() string {
	return string(s)
}

// CycleToken tags one select->upload->process->download attempt.
type CycleToken string

// Snapshot is the observable view of a workflow at one point in time.
type Snapshot struct {
	State       WorkflowState   `json:"state"`
	Cycle       CycleToken      `json:"cycle,omitempty"`
	FileName    string          `json:"file_name,omitempty"`
	Preview     LocalPreview    `json:"preview"`
	AssetID     AssetIdentifier `json:"asset_id,omitempty"`
	Result      ResultLocator   `json:"result,omitempty"`
	DownloadURL string          `json:"download_url,omitempty"`
	Status      string          `json:"status"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
