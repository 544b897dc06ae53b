package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/atlas-slicer/internal/core/domain"
	"github.com/kirillkom/atlas-slicer/internal/core/ports"
)

const (
	StatusSelectPNG         = "please select a PNG image file"
	StatusUploading         = "uploading image..."
	StatusUploaded          = "image uploaded"
	StatusUploadFailed      = "image upload failed"
	StatusUploadError       = "error while uploading image"
	StatusUploadFirst       = "select and upload a file first"
	StatusProcessing        = "processing image..."
	StatusReady             = "processing complete, result ready for download"
	StatusProcessFailed     = "image processing failed"
	StatusProcessError      = "error while processing image"
	StatusDownloading       = "starting download..."
	StatusDownloadTriggered = "download started"
	StatusDownloadFailed    = "could not start download"
	StatusNoResult          = "no result available to download"
	StatusReset             = "workflow reset"
)

type WorkflowOptions struct {
	Status   *StatusReporter
	Observer ports.WorkflowObserver
	Logger   *slog.Logger

	// OperationTimeout bounds each remote call. Zero leaves the caller's context as is.
	OperationTimeout time.Duration
}

type subscriber struct {
	id int
	fn func(domain.Snapshot)
}

// Workflow owns the select -> upload -> process -> download cycle for a
// single image. Remote calls run asynchronously; every completion carries the
// cycle token it was started with and is dropped if that cycle was superseded.
type Workflow struct {
	validator ports.FileValidator
	uploader  ports.Uploader
	processor ports.Processor
	downloads *DownloadTrigger
	previews  ports.PreviewStore
	status    *StatusReporter
	observer  ports.WorkflowObserver
	logger    *slog.Logger
	opTimeout time.Duration
	newToken  func() domain.CycleToken

	mu        sync.Mutex
	state     domain.WorkflowState
	cycle     domain.CycleToken
	file      *domain.CandidateFile
	preview   domain.LocalPreview
	assetID   domain.AssetIdentifier
	result    domain.ResultLocator
	updatedAt time.Time
	pending   []domain.Snapshot

	// notifyMu serialises subscriber delivery in transition order.
	notifyMu    sync.Mutex
	subMu       sync.Mutex
	subscribers []subscriber
	nextSubID   int

	inflight sync.WaitGroup
}

func NewWorkflow(
	validator ports.FileValidator,
	uploader ports.Uploader,
	processor ports.Processor,
	downloads *DownloadTrigger,
	previews ports.PreviewStore,
	opts WorkflowOptions,
) *Workflow {
	status := opts.Status
	if status == nil {
		status = NewStatusReporter()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{
		validator: validator,
		uploader:  uploader,
		processor: processor,
		downloads: downloads,
		previews:  previews,
		status:    status,
		observer:  opts.Observer,
		logger:    logger,
		opTimeout: opts.OperationTimeout,
		newToken: func() domain.CycleToken {
			return domain.CycleToken(uuid.NewString())
		},
		state:     domain.StateIdle,
		updatedAt: time.Now().UTC(),
	}
}

// Select validates file and, if accepted, starts a new cycle and its upload.
// A rejected file leaves the current cycle untouched.
func (w *Workflow) Select(ctx context.Context, file *domain.CandidateFile) error {
	if err := w.validator.Validate(file); err != nil {
		w.mu.Lock()
		w.status.Report(StatusSelectPNG)
		w.emitLocked()
		w.unlockAndNotify()
		w.logger.Info("file_rejected", "error", err)
		return err
	}

	selected := *file
	var preview domain.LocalPreview
	if w.previews != nil {
		created, err := w.previews.Create(ctx, selected)
		if err != nil {
			w.logger.Warn("preview_create_failed", "file", selected.Name, "error", err)
		} else {
			preview = created
		}
	}

	w.mu.Lock()
	superseded := w.preview
	w.cycle = w.newToken()
	w.file = &selected
	w.preview = preview
	w.status.Report(fmt.Sprintf("selected file: %s", selected.Name))
	w.transition(domain.StateFileSelected)
	w.startUploadLocked(ctx)
	w.unlockAndNotify()

	w.releasePreview(ctx, superseded)
	return nil
}

// RetryUpload re-sends the selected file after a failed upload.
func (w *Workflow) RetryUpload(ctx context.Context) error {
	w.mu.Lock()
	if w.state != domain.StateFileSelected || w.file == nil {
		state := w.state
		w.status.Report(StatusSelectPNG)
		w.emitLocked()
		w.unlockAndNotify()
		return domain.WrapError(domain.ErrInvalidState, "retry upload", fmt.Errorf("state is %s", state))
	}
	w.startUploadLocked(ctx)
	w.unlockAndNotify()
	return nil
}

// RequestProcess asks the service to slice the uploaded asset. It is a no-op
// unless the workflow is in the uploaded state.
func (w *Workflow) RequestProcess(ctx context.Context) error {
	w.mu.Lock()
	if w.state != domain.StateUploaded || w.assetID == "" {
		state := w.state
		w.status.Report(StatusUploadFirst)
		w.emitLocked()
		w.unlockAndNotify()
		return domain.WrapError(domain.ErrInvalidState, "request process", fmt.Errorf("state is %s", state))
	}

	token := w.cycle
	asset := w.assetID
	w.status.Report(StatusProcessing)
	w.transition(domain.StateProcessing)

	w.trackCall("process")
	go func() {
		defer w.untrackCall("process")
		opCtx, cancel := w.operationContext(ctx)
		defer cancel()
		locator, err := w.processor.Process(opCtx, asset)
		w.finishProcess(token, locator, err)
	}()

	w.unlockAndNotify()
	return nil
}

// Download hands the result address to the user agent and returns to ready
// straight away. Every call is a separate retrieval attempt.
func (w *Workflow) Download(ctx context.Context) error {
	w.mu.Lock()
	if w.state != domain.StateReady || w.result == "" {
		state := w.state
		w.status.Report(StatusNoResult)
		w.emitLocked()
		w.unlockAndNotify()
		return domain.WrapError(domain.ErrInvalidState, "download", fmt.Errorf("state is %s", state))
	}

	locator := w.result
	w.status.Report(StatusDownloading)
	w.transition(domain.StateDownloading)

	address, err := w.downloads.Trigger(ctx, locator)
	if err != nil {
		w.logger.Warn("download_trigger_failed", "cycle", string(w.cycle), "address", address, "error", err)
		w.status.Report(StatusDownloadFailed)
	} else {
		w.logger.Info("download_triggered", "cycle", string(w.cycle), "address", address)
		w.status.Report(StatusDownloadTriggered)
	}
	w.transition(domain.StateReady)
	w.unlockAndNotify()

	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	return nil
}

// Reset drops the current cycle and returns to idle. In-flight calls are not
// aborted; their completions are discarded.
func (w *Workflow) Reset(ctx context.Context) error {
	w.mu.Lock()
	superseded := w.preview
	w.cycle = w.newToken()
	w.file = nil
	w.preview = domain.LocalPreview{}
	w.status.Report(StatusReset)
	w.transition(domain.StateIdle)
	w.unlockAndNotify()

	w.releasePreview(ctx, superseded)
	return nil
}

// Close resets the workflow and waits for in-flight calls to settle or ctx to end.
func (w *Workflow) Close(ctx context.Context) error {
	if err := w.Reset(ctx); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until all started remote calls have completed.
func (w *Workflow) Wait() {
	w.inflight.Wait()
}

func (w *Workflow) Snapshot() domain.Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

func (w *Workflow) State() domain.WorkflowState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Workflow) CanProcess() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == domain.StateUploaded && w.assetID != ""
}

func (w *Workflow) CanDownload() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == domain.StateReady && w.result != ""
}

// Subscribe registers fn for every snapshot produced after the call.
// fn runs while delivery is serialised and must not call back into the workflow.
func (w *Workflow) Subscribe(fn func(domain.Snapshot)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	w.subMu.Lock()
	w.nextSubID++
	id := w.nextSubID
	w.subscribers = append(w.subscribers, subscriber{id: id, fn: fn})
	w.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.subMu.Lock()
			defer w.subMu.Unlock()
			for i, sub := range w.subscribers {
				if sub.id == id {
					w.subscribers = append(w.subscribers[:i], w.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

func (w *Workflow) startUploadLocked(ctx context.Context) {
	token := w.cycle
	file := *w.file
	w.status.Report(StatusUploading)
	w.transition(domain.StateUploading)

	w.trackCall("upload")
	go func() {
		defer w.untrackCall("upload")
		opCtx, cancel := w.operationContext(ctx)
		defer cancel()
		asset, err := w.uploader.Upload(opCtx, file)
		w.finishUpload(token, asset, err)
	}()
}

func (w *Workflow) finishUpload(token domain.CycleToken, asset domain.AssetIdentifier, err error) {
	w.mu.Lock()
	if token != w.cycle || w.state != domain.StateUploading {
		w.mu.Unlock()
		w.discardStale("upload", token)
		return
	}

	if err == nil && asset == "" {
		err = domain.WrapError(domain.ErrUpload, "upload", errors.New("empty asset identifier"))
	}
	if err != nil {
		w.logger.Warn("upload_failed", "cycle", string(token), "error", err)
		w.status.Report(failureMessage(err, StatusUploadFailed, StatusUploadError))
		w.transition(domain.StateFileSelected)
	} else {
		w.assetID = asset
		w.status.Report(StatusUploaded)
		w.transition(domain.StateUploaded)
	}
	w.unlockAndNotify()
}

func (w *Workflow) finishProcess(token domain.CycleToken, locator domain.ResultLocator, err error) {
	w.mu.Lock()
	if token != w.cycle || w.state != domain.StateProcessing {
		w.mu.Unlock()
		w.discardStale("process", token)
		return
	}

	if err == nil && locator == "" {
		err = domain.WrapError(domain.ErrProcessing, "process", errors.New("empty result locator"))
	}
	if err != nil {
		w.logger.Warn("process_failed", "cycle", string(token), "asset", string(w.assetID), "error", err)
		w.status.Report(failureMessage(err, StatusProcessFailed, StatusProcessError))
		w.transition(domain.StateUploaded)
	} else {
		w.result = locator
		w.status.Report(StatusReady)
		w.transition(domain.StateReady)
	}
	w.unlockAndNotify()
}

// trackCall counts a remote call until untrackCall. Superseding a cycle does
// not cancel the call, so it stays counted until it returns.
func (w *Workflow) trackCall(operation string) {
	w.inflight.Add(1)
	if w.observer != nil {
		w.observer.ObserveCallStarted(operation)
	}
}

func (w *Workflow) untrackCall(operation string) {
	if w.observer != nil {
		w.observer.ObserveCallFinished(operation)
	}
	w.inflight.Done()
}

func (w *Workflow) discardStale(operation string, token domain.CycleToken) {
	w.logger.Info("stale_completion", "operation", operation, "cycle", string(token))
	if w.observer != nil {
		w.observer.ObserveStaleCompletion(operation)
	}
}

// transition must be called with mu held.
func (w *Workflow) transition(to domain.WorkflowState) {
	from := w.state
	w.state = to
	if to == domain.StateIdle || to == domain.StateFileSelected {
		w.assetID = ""
		w.result = ""
	}
	w.logger.Debug("workflow_transition", "cycle", string(w.cycle), "from", from.String(), "to", to.String())
	if w.observer != nil {
		w.observer.ObserveTransition(from, to)
	}
	w.emitLocked()
}

func (w *Workflow) emitLocked() {
	w.updatedAt = time.Now().UTC()
	w.pending = append(w.pending, w.snapshotLocked())
}

func (w *Workflow) snapshotLocked() domain.Snapshot {
	snap := domain.Snapshot{
		State:     w.state,
		Cycle:     w.cycle,
		Preview:   w.preview,
		AssetID:   w.assetID,
		Result:    w.result,
		Status:    w.status.Current(),
		UpdatedAt: w.updatedAt,
	}
	if w.file != nil {
		snap.FileName = w.file.Name
	}
	if w.result != "" && w.downloads != nil {
		snap.DownloadURL = w.downloads.Address(w.result)
	}
	return snap
}

// unlockAndNotify releases mu and delivers the snapshots queued while it was held.
func (w *Workflow) unlockAndNotify() {
	pending := w.pending
	w.pending = nil
	w.notifyMu.Lock()
	w.mu.Unlock()
	defer w.notifyMu.Unlock()

	if len(pending) == 0 {
		return
	}
	w.subMu.Lock()
	subs := make([]subscriber, len(w.subscribers))
	copy(subs, w.subscribers)
	w.subMu.Unlock()

	for _, snap := range pending {
		for _, sub := range subs {
			sub.fn(snap)
		}
	}
}

func (w *Workflow) releasePreview(ctx context.Context, preview domain.LocalPreview) {
	if w.previews == nil || preview.IsZero() {
		return
	}
	if err := w.previews.Release(ctx, preview); err != nil {
		w.logger.Warn("preview_release_failed", "key", preview.Key, "error", err)
	}
}

func (w *Workflow) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.opTimeout > 0 {
		return context.WithTimeout(ctx, w.opTimeout)
	}
	return context.WithCancel(ctx)
}

func failureMessage(err error, statusFailure, transportFailure string) string {
	if domain.IsKind(err, domain.ErrTransport) {
		return transportFailure
	}
	return statusFailure
}
