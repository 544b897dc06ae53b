package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/atlas-slicer/internal/core/domain"
	"github.com/kirillkom/atlas-slicer/internal/infrastructure/resilience"
	"github.com/nats-io/nats.go"
)

const DefaultSubject = "atlas.workflow.snapshots"

// Publisher emits workflow snapshots so external renderers can follow the
// workflow without sharing its process.
type Publisher struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
	logger   *slog.Logger
}

type Options struct {
	Name                 string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url, subject string, options Options) (*Publisher, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := options.Name
	if name == "" {
		name = "atlasctl"
	}
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 10
	}
	retryOnFailedConnect := false
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	if subject == "" {
		subject = DefaultSubject
	}

	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Publisher{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
		logger:   logger,
	}, nil
}

func (p *Publisher) Subject() string {
	return p.subject
}

// Close flushes pending snapshots and closes the connection.
func (p *Publisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.FlushTimeout(2 * time.Second); err != nil {
		p.logger.Warn("nats_flush_failed", "error", err)
	}
	p.conn.Close()
}

func (p *Publisher) PublishSnapshot(ctx context.Context, snap domain.Snapshot) error {
	payload, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	err = p.executor.Execute(ctx, "nats.publish", func(_ context.Context) error {
		if err := p.conn.Publish(p.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}, classifyNATSError)
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// Listener returns a workflow subscriber that queues snapshots for a
// background publisher, and a stop func that drains the queue. Snapshots are
// dropped, and logged, when the queue is full.
func (p *Publisher) Listener(ctx context.Context) (listen func(domain.Snapshot), stop func()) {
	f := newForwarder(ctx, forwarderQueueSize, p.PublishSnapshot, p.logger.With("subject", p.subject))
	return f.enqueue, f.stop
}

type snapshotMessage struct {
	State       string `json:"state"`
	Cycle       string `json:"cycle,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	PreviewURL  string `json:"preview_url,omitempty"`
	AssetID     string `json:"asset_id,omitempty"`
	Result      string `json:"result,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	Status      string `json:"status"`
	UpdatedAt   string `json:"updated_at"`
}

func encodeSnapshot(snap domain.Snapshot) ([]byte, error) {
	msg := snapshotMessage{
		State:       snap.State.String(),
		Cycle:       string(snap.Cycle),
		FileName:    snap.FileName,
		PreviewURL:  snap.Preview.URL,
		AssetID:     string(snap.AssetID),
		Result:      string(snap.Result),
		DownloadURL: snap.DownloadURL,
		Status:      snap.Status,
		UpdatedAt:   snap.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return payload, nil
}
