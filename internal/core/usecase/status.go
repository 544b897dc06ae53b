package usecase

import "sync"

// StatusReporter holds the latest user-facing status line. Each Report
// replaces the previous message; nothing is kept.
type StatusReporter struct {
	mu      sync.RWMutex
	current string
}

func NewStatusReporter() *StatusReporter {
	return &StatusReporter{}
}

func (r *StatusReporter) Report(message string) {
	r.mu.Lock()
	r.current = message
	r.mu.Unlock()
}

func (r *StatusReporter) Current() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}
