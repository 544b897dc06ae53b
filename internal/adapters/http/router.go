package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/kirillkom/atlas-slicer/internal/core/domain"
	"github.com/kirillkom/atlas-slicer/internal/core/ports"
)

const (
	uploadField    = "image"
	maxUploadBytes = 32 << 20
)

// Router exposes the local workflow to other processes on this machine:
// snapshot reads always, and action endpoints when controls are enabled.
type Router struct {
	workflow ports.WorkflowController
	metrics  http.Handler
	controls bool
}

type RouterOptions struct {
	Metrics  http.Handler
	Controls bool
}

func NewRouter(workflow ports.WorkflowController, opts RouterOptions) *Router {
	return &Router{
		workflow: workflow,
		metrics:  opts.Metrics,
		controls: opts.Controls,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/workflow", rt.getSnapshot)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics)
	}
	if rt.controls {
		mux.HandleFunc("/v1/workflow/select", rt.selectFile)
		mux.HandleFunc("/v1/workflow/retry", rt.action(rt.workflow.RetryUpload))
		mux.HandleFunc("/v1/workflow/process", rt.action(rt.workflow.RequestProcess))
		mux.HandleFunc("/v1/workflow/download", rt.action(rt.workflow.Download))
		mux.HandleFunc("/v1/workflow/reset", rt.action(rt.workflow.Reset))
	}
	return requestIDMiddleware(accessLogMiddleware(mux))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) getSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, rt.workflow.Snapshot())
}

func (rt *Router) selectFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	// Remote calls must outlive this request.
	ctx := context.WithoutCancel(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile(uploadField)
	if errors.Is(err, http.ErrMissingFile) {
		// No file chosen is a rejection like any other, reported via status.
		rt.writeActionError(w, rt.workflow.Select(ctx, nil))
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart form with field 'image' is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read multipart field 'image'"})
		return
	}

	candidate := &domain.CandidateFile{
		Name:      header.Filename,
		MediaType: header.Header.Get("Content-Type"),
		Data:      data,
	}
	if err := rt.workflow.Select(ctx, candidate); err != nil {
		rt.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rt.workflow.Snapshot())
}

func (rt *Router) action(fn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		if err := fn(context.WithoutCancel(r.Context())); err != nil {
			rt.writeActionError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, rt.workflow.Snapshot())
	}
}

func (rt *Router) writeActionError(w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("action did not complete")
	}
	snap := rt.workflow.Snapshot()
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]any{
		"error":    err.Error(),
		"snapshot": snap,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
