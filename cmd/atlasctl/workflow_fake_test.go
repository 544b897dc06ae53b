package main

import (
	"context"
	"sync"

	"github.com/kirillkom/atlas-slicer/internal/core/domain"
)

// scriptedWorkflow moves to fixed states on each call so command wiring can be
// tested without a service.
type scriptedWorkflow struct {
	mu    sync.Mutex
	snap  domain.Snapshot
	calls []string

	afterSelect  domain.Snapshot
	afterProcess domain.Snapshot
	selectErr    error
	downloadErr  error
	selected     *domain.CandidateFile
}

func (w *scriptedWorkflow) record(call string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, call)
}

func (w *scriptedWorkflow) Select(_ context.Context, file *domain.CandidateFile) error {
	w.record("select")
	w.mu.Lock()
	defer w.mu.Unlock()
	w.selected = file
	if w.selectErr != nil {
		return w.selectErr
	}
	w.snap = w.afterSelect
	return nil
}

func (w *scriptedWorkflow) RetryUpload(context.Context) error {
	w.record("retry")
	return nil
}

func (w *scriptedWorkflow) RequestProcess(context.Context) error {
	w.record("process")
	w.mu.Lock()
	defer w.mu.Unlock()
	w.snap = w.afterProcess
	return nil
}

func (w *scriptedWorkflow) Download(context.Context) error {
	w.record("download")
	return w.downloadErr
}

func (w *scriptedWorkflow) Reset(context.Context) error {
	w.record("reset")
	w.mu.Lock()
	defer w.mu.Unlock()
	w.snap = domain.Snapshot{State: domain.StateIdle, Status: "workflow reset"}
	return nil
}

func (w *scriptedWorkflow) Snapshot() domain.Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snap
}

func (w *scriptedWorkflow) Subscribe(func(domain.Snapshot)) func() {
	return func() {}
}

func (w *scriptedWorkflow) Wait() {
	w.record("wait")
}

func (w *scriptedWorkflow) Calls() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.calls...)
}
