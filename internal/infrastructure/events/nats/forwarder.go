package nats

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kirillkom/atlas-slicer/internal/core/domain"
)

const forwarderQueueSize = 64

// forwarder moves snapshots off the workflow's delivery path. Publishing
// happens on one goroutine so snapshots leave in the order they were queued.
type forwarder struct {
	publish func(context.Context, domain.Snapshot) error
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	queue  chan domain.Snapshot
	done   chan struct{}
}

func newForwarder(
	ctx context.Context,
	size int,
	publish func(context.Context, domain.Snapshot) error,
	logger *slog.Logger,
) *forwarder {
	if size <= 0 {
		size = forwarderQueueSize
	}
	f := &forwarder{
		publish: publish,
		logger:  logger,
		queue:   make(chan domain.Snapshot, size),
		done:    make(chan struct{}),
	}
	go f.run(ctx)
	return f
}

// enqueue never blocks.
func (f *forwarder) enqueue(snap domain.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.queue <- snap:
	default:
		f.logger.Warn("snapshot_dropped", "state", snap.State.String(), "reason", "queue full")
	}
}

// stop rejects new snapshots and waits until queued ones are published.
func (f *forwarder) stop() {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.queue)
	}
	f.mu.Unlock()
	<-f.done
}

func (f *forwarder) run(ctx context.Context) {
	defer close(f.done)
	for snap := range f.queue {
		if err := f.publish(ctx, snap); err != nil {
			f.logger.Warn("snapshot_publish_failed", "state", snap.State.String(), "error", err)
		}
	}
}
