package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kirillkom/atlas-slicer/internal/core/domain"
)

type uploaderFake struct {
	calls atomic.Int32
	fn    func(call int, file domain.CandidateFile) (domain.AssetIdentifier, error)
}

func (f *uploaderFake) Upload(_ context.Context, file domain.CandidateFile) (domain.AssetIdentifier, error) {
	call := int(f.calls.Add(1))
	return f.fn(call, file)
}

type processorFake struct {
	mu     sync.Mutex
	assets []domain.AssetIdentifier
	fn     func(call int, asset domain.AssetIdentifier) (domain.ResultLocator, error)
}

func (f *processorFake) Process(_ context.Context, asset domain.AssetIdentifier) (domain.ResultLocator, error) {
	f.mu.Lock()
	f.assets = append(f.assets, asset)
	call := len(f.assets)
	f.mu.Unlock()
	return f.fn(call, asset)
}

func (f *processorFake) calls() []domain.AssetIdentifier {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.AssetIdentifier, len(f.assets))
	copy(out, f.assets)
	return out
}

type userAgentFake struct {
	mu        sync.Mutex
	addresses []string
	err       error
}

func (f *userAgentFake) Navigate(_ context.Context, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addresses = append(f.addresses, address)
	return f.err
}

type previewFake struct {
	mu       sync.Mutex
	created  int
	released []string
}

func (f *previewFake) Create(_ context.Context, file domain.CandidateFile) (domain.LocalPreview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	key := fmt.Sprintf("%d_%s", f.created, file.Name)
	return domain.LocalPreview{Key: key, URL: "file:///tmp/" + key}, nil
}

func (f *previewFake) Release(_ context.Context, preview domain.LocalPreview) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, preview.Key)
	return nil
}

type observerFake struct {
	mu          sync.Mutex
	transitions []string
	stale       map[string]int
	inFlight    map[string]int
}

func (f *observerFake) ObserveCallStarted(operation string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inFlight == nil {
		f.inFlight = map[string]int{}
	}
	f.inFlight[operation]++
}

func (f *observerFake) ObserveCallFinished(operation string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight[operation]--
}

func (f *observerFake) calls(operation string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight[operation]
}

func (f *observerFake) ObserveTransition(from, to domain.WorkflowState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, from.String()+"->"+to.String())
}

func (f *observerFake) ObserveStaleCompletion(operation string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stale == nil {
		f.stale = map[string]int{}
	}
	f.stale[operation]++
}

type workflowFixture struct {
	wf        *Workflow
	uploader  *uploaderFake
	processor *processorFake
	agent     *userAgentFake
	previews  *previewFake
	observer  *observerFake
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()
	fx := &workflowFixture{
		uploader: &uploaderFake{fn: func(int, domain.CandidateFile) (domain.AssetIdentifier, error) {
			return "abc.png", nil
		}},
		processor: &processorFake{fn: func(int, domain.AssetIdentifier) (domain.ResultLocator, error) {
			return "/files/out.zip", nil
		}},
		agent:    &userAgentFake{},
		previews: &previewFake{},
		observer: &observerFake{},
	}
	fx.wf = NewWorkflow(
		NewPNGValidator(),
		fx.uploader,
		fx.processor,
		NewDownloadTrigger("http://localhost:8080/", fx.agent),
		fx.previews,
		WorkflowOptions{
			Observer: fx.observer,
			Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
	)
	return fx
}

func pngFile(name string) *domain.CandidateFile {
	return &domain.CandidateFile{Name: name, MediaType: "image/png", Data: []byte("\x89PNG")}
}

func (fx *workflowFixture) uploadAndWait(t *testing.T, name string) {
	t.Helper()
	if err := fx.wf.Select(context.Background(), pngFile(name)); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	fx.wf.Wait()
}

func TestSelectRejectsNonPNGAndKeepsState(t *testing.T) {
	fx := newWorkflowFixture(t)

	rejected := []*domain.CandidateFile{
		nil,
		{Name: "a.jpg", MediaType: "image/jpeg"},
		{Name: "a.gif", MediaType: "image/gif"},
		{Name: "a.txt", MediaType: "text/plain"},
		{Name: "noext", MediaType: ""},
	}
	for _, file := range rejected {
		err := fx.wf.Select(context.Background(), file)
		if !domain.IsKind(err, domain.ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", file, err)
		}
		snap := fx.wf.Snapshot()
		if snap.State != domain.StateIdle {
			t.Fatalf("expected state idle after rejection, got %s", snap.State)
		}
		if snap.Status != StatusSelectPNG {
			t.Fatalf("expected rejection status, got %q", snap.Status)
		}
	}
	if fx.uploader.calls.Load() != 0 {
		t.Fatalf("expected no upload calls, got %d", fx.uploader.calls.Load())
	}
	if fx.previews.created != 0 {
		t.Fatalf("expected no previews, got %d", fx.previews.created)
	}
}

func TestSelectRejectionKeepsUploadedCycle(t *testing.T) {
	fx := newWorkflowFixture(t)
	fx.uploadAndWait(t, "sheet.png")

	err := fx.wf.Select(context.Background(), &domain.CandidateFile{Name: "photo.jpg", MediaType: "image/jpeg"})
	if !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	snap := fx.wf.Snapshot()
	if snap.State != domain.StateUploaded || snap.AssetID != "abc.png" {
		t.Fatalf("expected uploaded cycle to survive rejection, got %+v", snap)
	}
	if snap.FileName != "sheet.png" {
		t.Fatalf("expected file name sheet.png, got %q", snap.FileName)
	}
}

func TestRequestProcessIsNoOpBeforeUpload(t *testing.T) {
	fx := newWorkflowFixture(t)

	err := fx.wf.RequestProcess(context.Background())
	if !domain.IsKind(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state error in idle, got %v", err)
	}
	if fx.wf.Snapshot().Status != StatusUploadFirst {
		t.Fatalf("expected %q, got %q", StatusUploadFirst, fx.wf.Snapshot().Status)
	}

	fx.uploader.fn = func(int, domain.CandidateFile) (domain.AssetIdentifier, error) {
		return "", domain.WrapError(domain.ErrUpload, "upload", errors.New("status 500"))
	}
	fx.uploadAndWait(t, "sheet.png")
	if got := fx.wf.State(); got != domain.StateFileSelected {
		t.Fatalf("expected file_selected after failed upload, got %s", got)
	}

	err = fx.wf.RequestProcess(context.Background())
	if !domain.IsKind(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state error in file_selected, got %v", err)
	}
	fx.wf.Wait()
	if calls := fx.processor.calls(); len(calls) != 0 {
		t.Fatalf("expected processing endpoint untouched, got %v", calls)
	}
	if fx.wf.CanProcess() {
		t.Fatalf("expected CanProcess false before upload")
	}
}

func TestUploadSuccessMovesToUploaded(t *testing.T) {
	fx := newWorkflowFixture(t)

	var mu sync.Mutex
	var states []domain.WorkflowState
	cancel := fx.wf.Subscribe(func(s domain.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if len(states) == 0 || states[len(states)-1] != s.State {
			states = append(states, s.State)
		}
	})
	defer cancel()

	fx.uploadAndWait(t, "sheet.png")

	snap := fx.wf.Snapshot()
	if snap.State != domain.StateUploaded {
		t.Fatalf("expected uploaded, got %s", snap.State)
	}
	if snap.AssetID != "abc.png" {
		t.Fatalf("expected asset abc.png, got %q", snap.AssetID)
	}
	if snap.Status != StatusUploaded {
		t.Fatalf("expected status %q, got %q", StatusUploaded, snap.Status)
	}
	if snap.Preview.IsZero() {
		t.Fatalf("expected preview to be set")
	}
	if !fx.wf.CanProcess() {
		t.Fatalf("expected CanProcess true after upload")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []domain.WorkflowState{domain.StateFileSelected, domain.StateUploading, domain.StateUploaded}
	if fmt.Sprint(states) != fmt.Sprint(want) {
		t.Fatalf("expected transitions %v, got %v", want, states)
	}
}

func TestUploadFailureReturnsToFileSelected(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status string
	}{
		{
			name:   "non-success status",
			err:    domain.WrapError(domain.ErrUpload, "upload", errors.New("502 Bad Gateway")),
			status: StatusUploadFailed,
		},
		{
			name:   "transport failure",
			err:    domain.WrapError(domain.ErrUpload, "upload", domain.WrapError(domain.ErrTransport, "post", errors.New("connection refused"))),
			status: StatusUploadError,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fx := newWorkflowFixture(t)
			fx.uploader.fn = func(int, domain.CandidateFile) (domain.AssetIdentifier, error) {
				return "", tc.err
			}
			fx.uploadAndWait(t, "sheet.png")

			snap := fx.wf.Snapshot()
			if snap.State != domain.StateFileSelected {
				t.Fatalf("expected file_selected, got %s", snap.State)
			}
			if snap.AssetID != "" {
				t.Fatalf("expected asset unset, got %q", snap.AssetID)
			}
			if snap.Status != tc.status {
				t.Fatalf("expected status %q, got %q", tc.status, snap.Status)
			}
		})
	}
}

func TestRetryUploadAfterFailure(t *testing.T) {
	fx := newWorkflowFixture(t)
	fx.uploader.fn = func(call int, _ domain.CandidateFile) (domain.AssetIdentifier, error) {
		if call == 1 {
			return "", domain.WrapError(domain.ErrUpload, "upload", errors.New("503"))
		}
		return "retry.png", nil
	}
	fx.uploadAndWait(t, "sheet.png")

	if err := fx.wf.RetryUpload(context.Background()); err != nil {
		t.Fatalf("RetryUpload() error = %v", err)
	}
	fx.wf.Wait()

	snap := fx.wf.Snapshot()
	if snap.State != domain.StateUploaded || snap.AssetID != "retry.png" {
		t.Fatalf("expected uploaded retry.png, got %+v", snap)
	}
	if err := fx.wf.RetryUpload(context.Background()); !domain.IsKind(err, domain.ErrInvalidState) {
		t.Fatalf("expected retry to be rejected once uploaded, got %v", err)
	}
}

func TestProcessSuccessComposesDownloadURL(t *testing.T) {
	fx := newWorkflowFixture(t)
	fx.uploadAndWait(t, "sheet.png")

	if err := fx.wf.RequestProcess(context.Background()); err != nil {
		t.Fatalf("RequestProcess() error = %v", err)
	}
	fx.wf.Wait()

	snap := fx.wf.Snapshot()
	if snap.State != domain.StateReady {
		t.Fatalf("expected ready, got %s", snap.State)
	}
	if snap.Result != "/files/out.zip" {
		t.Fatalf("expected result locator, got %q", snap.Result)
	}
	if snap.DownloadURL != "http://localhost:8080/files/out.zip" {
		t.Fatalf("unexpected download url %q", snap.DownloadURL)
	}
	if calls := fx.processor.calls(); len(calls) != 1 || calls[0] != "abc.png" {
		t.Fatalf("expected one process call with abc.png, got %v", calls)
	}
}

func TestProcessFailureAllowsRetryWithSameAsset(t *testing.T) {
	fx := newWorkflowFixture(t)
	fx.processor.fn = func(call int, _ domain.AssetIdentifier) (domain.ResultLocator, error) {
		if call == 1 {
			return "", domain.WrapError(domain.ErrProcessing, "process", errors.New("500"))
		}
		return "/api/v1/download/sheet.zip", nil
	}
	fx.uploadAndWait(t, "sheet.png")

	if err := fx.wf.RequestProcess(context.Background()); err != nil {
		t.Fatalf("RequestProcess() error = %v", err)
	}
	fx.wf.Wait()

	snap := fx.wf.Snapshot()
	if snap.State != domain.StateUploaded || snap.AssetID != "abc.png" {
		t.Fatalf("expected uploaded with asset kept, got %+v", snap)
	}
	if snap.Result != "" {
		t.Fatalf("expected no result after failure, got %q", snap.Result)
	}
	if snap.Status != StatusProcessFailed {
		t.Fatalf("expected status %q, got %q", StatusProcessFailed, snap.Status)
	}

	if err := fx.wf.RequestProcess(context.Background()); err != nil {
		t.Fatalf("retry RequestProcess() error = %v", err)
	}
	fx.wf.Wait()

	if got := fx.wf.State(); got != domain.StateReady {
		t.Fatalf("expected ready after retry, got %s", got)
	}
	if fx.uploader.calls.Load() != 1 {
		t.Fatalf("expected no re-upload, got %d uploads", fx.uploader.calls.Load())
	}
	calls := fx.processor.calls()
	if len(calls) != 2 || calls[0] != calls[1] {
		t.Fatalf("expected two process calls with the same asset, got %v", calls)
	}
}

func TestSupersededUploadDoesNotWriteAsset(t *testing.T) {
	fx := newWorkflowFixture(t)

	release := make(chan struct{})
	started := make(chan struct{})
	fx.uploader.fn = func(call int, file domain.CandidateFile) (domain.AssetIdentifier, error) {
		if call == 1 {
			close(started)
			<-release
			return "first.png", nil
		}
		return "second.png", nil
	}

	if err := fx.wf.Select(context.Background(), pngFile("first.png")); err != nil {
		t.Fatalf("Select(first) error = %v", err)
	}
	<-started
	firstCycle := fx.wf.Snapshot().Cycle

	if err := fx.wf.Select(context.Background(), pngFile("second.png")); err != nil {
		t.Fatalf("Select(second) error = %v", err)
	}
	close(release)
	fx.wf.Wait()

	snap := fx.wf.Snapshot()
	if snap.Cycle == firstCycle {
		t.Fatalf("expected a new cycle token")
	}
	if snap.AssetID != "second.png" {
		t.Fatalf("expected asset from the active cycle, got %q", snap.AssetID)
	}
	if snap.FileName != "second.png" {
		t.Fatalf("expected second file selected, got %q", snap.FileName)
	}
	if fx.observer.stale["upload"] != 1 {
		t.Fatalf("expected one stale upload completion, got %v", fx.observer.stale)
	}
	if len(fx.previews.released) != 1 || fx.previews.released[0] != "1_first.png" {
		t.Fatalf("expected first preview released, got %v", fx.previews.released)
	}
}

func TestSupersededCallsStayInFlightUntilTheyReturn(t *testing.T) {
	fx := newWorkflowFixture(t)

	release := make(chan struct{})
	fx.uploader.fn = func(int, domain.CandidateFile) (domain.AssetIdentifier, error) {
		<-release
		return "sheet.png", nil
	}

	ctx := context.Background()
	if err := fx.wf.Select(ctx, pngFile("first.png")); err != nil {
		t.Fatalf("Select(first) error = %v", err)
	}
	if err := fx.wf.Select(ctx, pngFile("second.png")); err != nil {
		t.Fatalf("Select(second) error = %v", err)
	}
	if got := fx.observer.calls("upload"); got != 2 {
		t.Fatalf("expected 2 uploads in flight after reselect, got %d", got)
	}
	if err := fx.wf.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if got := fx.observer.calls("upload"); got != 2 {
		t.Fatalf("expected reset to leave 2 uploads in flight, got %d", got)
	}

	close(release)
	fx.wf.Wait()
	if got := fx.observer.calls("upload"); got != 0 {
		t.Fatalf("expected no uploads in flight after completion, got %d", got)
	}
	if fx.observer.stale["upload"] != 2 {
		t.Fatalf("expected both completions discarded, got %v", fx.observer.stale)
	}
}

func TestSelectDuringProcessingDiscardsResult(t *testing.T) {
	fx := newWorkflowFixture(t)

	release := make(chan struct{})
	fx.processor.fn = func(int, domain.AssetIdentifier) (domain.ResultLocator, error) {
		<-release
		return "/files/stale.zip", nil
	}
	fx.uploadAndWait(t, "first.png")
	if err := fx.wf.RequestProcess(context.Background()); err != nil {
		t.Fatalf("RequestProcess() error = %v", err)
	}

	fx.uploader.fn = func(int, domain.CandidateFile) (domain.AssetIdentifier, error) {
		return "second.png", nil
	}
	if err := fx.wf.Select(context.Background(), pngFile("second.png")); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	close(release)
	fx.wf.Wait()

	snap := fx.wf.Snapshot()
	if snap.State != domain.StateUploaded {
		t.Fatalf("expected uploaded for new cycle, got %s", snap.State)
	}
	if snap.Result != "" {
		t.Fatalf("expected stale result to be dropped, got %q", snap.Result)
	}
	if fx.observer.stale["process"] != 1 {
		t.Fatalf("expected one stale process completion, got %v", fx.observer.stale)
	}
}

func TestDownloadTwiceIssuesTwoAttempts(t *testing.T) {
	fx := newWorkflowFixture(t)
	fx.uploadAndWait(t, "sheet.png")
	if err := fx.wf.RequestProcess(context.Background()); err != nil {
		t.Fatalf("RequestProcess() error = %v", err)
	}
	fx.wf.Wait()

	var mu sync.Mutex
	var states []domain.WorkflowState
	cancel := fx.wf.Subscribe(func(s domain.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s.State)
	})
	defer cancel()

	for i := 0; i < 2; i++ {
		if err := fx.wf.Download(context.Background()); err != nil {
			t.Fatalf("Download() #%d error = %v", i+1, err)
		}
		if got := fx.wf.State(); got != domain.StateReady {
			t.Fatalf("expected ready after download, got %s", got)
		}
	}

	if len(fx.agent.addresses) != 2 {
		t.Fatalf("expected two retrieval attempts, got %d", len(fx.agent.addresses))
	}
	for _, addr := range fx.agent.addresses {
		if addr != "http://localhost:8080/files/out.zip" {
			t.Fatalf("unexpected address %q", addr)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	want := []domain.WorkflowState{domain.StateDownloading, domain.StateReady, domain.StateDownloading, domain.StateReady}
	if fmt.Sprint(states) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, states)
	}
	if fx.wf.Snapshot().Status != StatusDownloadTriggered {
		t.Fatalf("expected status %q, got %q", StatusDownloadTriggered, fx.wf.Snapshot().Status)
	}
}

func TestDownloadRequiresResult(t *testing.T) {
	fx := newWorkflowFixture(t)
	fx.uploadAndWait(t, "sheet.png")

	err := fx.wf.Download(context.Background())
	if !domain.IsKind(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state error, got %v", err)
	}
	if len(fx.agent.addresses) != 0 {
		t.Fatalf("expected no retrieval, got %v", fx.agent.addresses)
	}
	if fx.wf.State() != domain.StateUploaded {
		t.Fatalf("expected state unchanged, got %s", fx.wf.State())
	}
	if fx.wf.CanDownload() {
		t.Fatalf("expected CanDownload false without result")
	}
}

func TestDownloadAgentFailureStaysReady(t *testing.T) {
	fx := newWorkflowFixture(t)
	fx.agent.err = errors.New("no browser")
	fx.uploadAndWait(t, "sheet.png")
	if err := fx.wf.RequestProcess(context.Background()); err != nil {
		t.Fatalf("RequestProcess() error = %v", err)
	}
	fx.wf.Wait()

	if err := fx.wf.Download(context.Background()); err == nil {
		t.Fatalf("expected agent error")
	}
	snap := fx.wf.Snapshot()
	if snap.State != domain.StateReady || snap.Status != StatusDownloadFailed {
		t.Fatalf("expected ready with failure status, got %+v", snap)
	}
}

func TestResetClearsCycleAndReleasesPreview(t *testing.T) {
	fx := newWorkflowFixture(t)
	fx.uploadAndWait(t, "sheet.png")

	if err := fx.wf.Reset(context.Background()); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	snap := fx.wf.Snapshot()
	if snap.State != domain.StateIdle || snap.AssetID != "" || snap.Result != "" || snap.FileName != "" {
		t.Fatalf("expected cleared idle snapshot, got %+v", snap)
	}
	if !snap.Preview.IsZero() {
		t.Fatalf("expected preview cleared, got %+v", snap.Preview)
	}
	if len(fx.previews.released) != 1 {
		t.Fatalf("expected preview released once, got %v", fx.previews.released)
	}

	if err := fx.wf.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(fx.previews.released) != 1 {
		t.Fatalf("expected no double release, got %v", fx.previews.released)
	}
}

func TestSubscribeCancelStopsDelivery(t *testing.T) {
	fx := newWorkflowFixture(t)

	var count atomic.Int32
	cancel := fx.wf.Subscribe(func(domain.Snapshot) { count.Add(1) })
	cancel()
	cancel()

	fx.uploadAndWait(t, "sheet.png")
	if count.Load() != 0 {
		t.Fatalf("expected no deliveries after cancel, got %d", count.Load())
	}
}
