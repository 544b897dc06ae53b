package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	httpadapter "github.com/kirillkom/atlas-slicer/internal/adapters/http"
	"github.com/kirillkom/atlas-slicer/internal/config"
	"github.com/kirillkom/atlas-slicer/internal/core/ports"
	"github.com/kirillkom/atlas-slicer/internal/core/usecase"
	"github.com/kirillkom/atlas-slicer/internal/infrastructure/atlasapi"
	natsevents "github.com/kirillkom/atlas-slicer/internal/infrastructure/events/nats"
	"github.com/kirillkom/atlas-slicer/internal/infrastructure/preview"
	"github.com/kirillkom/atlas-slicer/internal/infrastructure/resilience"
	"github.com/kirillkom/atlas-slicer/internal/infrastructure/useragent"
	"github.com/kirillkom/atlas-slicer/internal/observability/metrics"
	"golang.org/x/time/rate"
)

const serviceName = "atlasctl"

type App struct {
	Config   config.Config
	Workflow *usecase.Workflow
	Status   *usecase.StatusReporter
	Client   *atlasapi.Client
	Metrics  *metrics.WorkflowMetrics
	Executor *resilience.Executor

	// LocalAddr is the bound address of the local HTTP surface, if started.
	LocalAddr string

	logger  *slog.Logger
	closeFn []func(context.Context) error
}

type agentWaiter interface {
	ports.UserAgent
	Wait()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, logger: logger}

	app.Metrics = metrics.NewWorkflowMetrics(serviceName)
	app.Executor = resilience.NewExecutor(cfg.Resilience(), logger)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}

	var contract *atlasapi.Contract
	if cfg.ContractValidation {
		loaded, err := atlasapi.LoadContract(ctx)
		if err != nil {
			return nil, fmt.Errorf("init contract validation: %w", err)
		}
		contract = loaded
	}

	app.Client = atlasapi.New(cfg.ServiceURL, atlasapi.Options{
		Timeout:  cfg.RequestTimeout(),
		Limiter:  limiter,
		Executor: app.Executor,
		Contract: contract,
		Observer: app.Metrics,
		Logger:   logger,
	})

	previews, err := preview.New(cfg.PreviewDir)
	if err != nil {
		return nil, fmt.Errorf("init preview store: %w", err)
	}

	agent, err := newUserAgent(cfg, logger)
	if err != nil {
		return nil, err
	}
	if waiter, ok := agent.(agentWaiter); ok {
		app.onClose(func(context.Context) error {
			waiter.Wait()
			return nil
		})
	}

	app.Status = usecase.NewStatusReporter()
	app.Workflow = usecase.NewWorkflow(
		usecase.NewPNGValidator(),
		app.Client,
		app.Client,
		usecase.NewDownloadTrigger(app.Client.BaseURL(), agent),
		previews,
		usecase.WorkflowOptions{
			Status:           app.Status,
			Observer:         app.Metrics,
			Logger:           logger,
			OperationTimeout: cfg.RequestTimeout(),
		},
	)
	if cfg.NATSURL != "" {
		publisher, err := natsevents.New(cfg.NATSURL, cfg.NATSSubject, natsevents.Options{
			Name:               serviceName,
			ResilienceExecutor: app.Executor,
			Logger:             logger,
		})
		if err != nil {
			_ = app.Close(ctx)
			return nil, fmt.Errorf("init snapshot publisher: %w", err)
		}
		listen, stopForwarding := publisher.Listener(context.WithoutCancel(ctx))
		cancel := app.Workflow.Subscribe(listen)
		app.onClose(func(context.Context) error {
			publisher.Close()
			return nil
		})
		app.onClose(func(context.Context) error {
			cancel()
			stopForwarding()
			return nil
		})
	}

	if cfg.MetricsAddr != "" {
		if err := app.serveLocal(cfg.MetricsAddr, cfg.ControlAPI); err != nil {
			_ = app.Close(ctx)
			return nil, err
		}
	}

	return app, nil
}

// Close settles the workflow first, then tears the remaining components down
// in reverse registration order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Workflow != nil {
		if err := a.Workflow.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close workflow: %w", err))
		}
	}
	for i := len(a.closeFn) - 1; i >= 0; i-- {
		if err := a.closeFn[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closeFn = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closeFn = append(a.closeFn, fn)
}

// serveLocal starts the local HTTP surface: metrics, health and the workflow
// snapshot, plus action endpoints when controls is set.
func (a *App) serveLocal(addr string, controls bool) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	a.LocalAddr = listener.Addr().String()
	router := httpadapter.NewRouter(a.Workflow, httpadapter.RouterOptions{
		Metrics:  a.Metrics.Handler(),
		Controls: controls,
	})
	server := &http.Server{
		Handler:      router.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	go func() {
		a.logger.Info("local_http_listening", "addr", a.LocalAddr, "controls", controls)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("local_http_failed", "error", err)
		}
	}()
	a.onClose(func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return nil
}

func newUserAgent(cfg config.Config, logger *slog.Logger) (ports.UserAgent, error) {
	switch cfg.DownloadMode {
	case config.DownloadModeBrowser:
		return useragent.NewBrowser(logger), nil
	default:
		fetcher, err := useragent.NewFetcher(cfg.DownloadDir, nil, logger)
		if err != nil {
			return nil, fmt.Errorf("init download fetcher: %w", err)
		}
		return fetcher, nil
	}
}
