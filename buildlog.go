// Package buildlog is the public API for embedding the buildlog
// session recorder.
//
// Host runtimes construct an App and either run it as an MCP server
// (Run) or drive the subsystems directly:
//
//	app, err := buildlog.New(
//	    buildlog.WithVersion(version),
//	    buildlog.WithLogger(logger),
//	    buildlog.WithAPIKey(key),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph keeps a strict no-cycle rule: buildlog (root)
// imports internal/*, internal/* never imports the root.
package buildlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/buildlog-ai/buildlog/internal/config"
	"github.com/buildlog-ai/buildlog/internal/exporter"
	"github.com/buildlog-ai/buildlog/internal/mcp"
	"github.com/buildlog-ai/buildlog/internal/model"
	"github.com/buildlog-ai/buildlog/internal/recorder"
	"github.com/buildlog-ai/buildlog/internal/store"
	"github.com/buildlog-ai/buildlog/internal/telemetry"
	"github.com/buildlog-ai/buildlog/internal/uploader"
	"github.com/buildlog-ai/buildlog/internal/watch"
)

// App is the assembled buildlog runtime. Construct with New(), run
// with Run(). App has no public fields — use New() options.
type App struct {
	cfg     config.Config
	logger  *slog.Logger
	version string

	st      *store.Store
	rec     *recorder.Recorder
	exp     *exporter.Exporter
	client  *uploader.Client
	outbox  *uploader.OutboxWorker
	watcher *watch.Watcher // nil when no watch dir is configured
	mcpSrv  *mcp.Server

	otelShutdown telemetry.Shutdown
}

// New wires all subsystems and returns a ready-to-run App. It opens
// the local store but starts no goroutines — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// A .env file is a development convenience; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	if o.apiKey != "" {
		cfg.APIKey = o.apiKey
	}
	if o.storePath != "" {
		cfg.StorePath = o.storePath
	}
	if o.watchDir != "" {
		cfg.WatchDir = o.watchDir
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("buildlog starting", "version", version, "store", cfg.StorePath)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	if dir := filepath.Dir(cfg.StorePath); cfg.StorePath != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("store directory: %w", err)
		}
	}
	st, err := store.Open(context.Background(), cfg.StorePath, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("store: %w", err)
	}

	rec := recorder.New(logger)
	for _, fn := range o.listeners {
		fn := fn
		rec.Subscribe(func(n recorder.Notification) {
			fn(Notification{Kind: string(n.Kind), SessionID: n.SessionID.String(), Title: n.Title})
		})
	}

	exp := exporter.New(logger)
	client := uploader.New(cfg.BaseURL, cfg.APIKey, cfg.UploadTimeout, logger)
	outbox := uploader.NewOutboxWorker(st, client, logger, cfg.OutboxPollInterval, cfg.OutboxBatchSize)

	var watcher *watch.Watcher
	if cfg.WatchDir != "" {
		watcher = watch.New(rec, cfg.WatchDir, logger)
	}

	// Environment-derived session defaults; tool arguments win per call.
	defaults := recorder.StartOptions{
		Format:     model.Format(cfg.Format),
		Author:     cfg.Author,
		Editor:     cfg.Editor,
		AIProvider: cfg.AIProvider,
		AIModel:    cfg.AIModel,
	}
	mcpSrv := mcp.New(rec, exp, client, st, defaults, logger, version)

	return &App{
		cfg:          cfg,
		logger:       logger,
		version:      version,
		st:           st,
		rec:          rec,
		exp:          exp,
		client:       client,
		outbox:       outbox,
		watcher:      watcher,
		mcpSrv:       mcpSrv,
		otelShutdown: otelShutdown,
	}, nil
}

// Run starts the outbox worker and workspace watcher, serves MCP on
// stdio, and blocks until the stream closes or ctx is cancelled. On
// return, Shutdown has been called.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.outbox.Start(runCtx)
	if a.watcher != nil {
		if err := a.watcher.Start(runCtx); err != nil {
			a.logger.Warn("workspace watcher failed to start", "error", err)
			a.watcher = nil
		}
	}

	g, gCtx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return a.mcpSrv.ServeStdio()
	})
	g.Go(func() error {
		<-gCtx.Done()
		return gCtx.Err()
	})

	err := g.Wait()
	if sderr := a.Shutdown(context.Background()); sderr != nil && err == nil {
		err = sderr
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown drains the outbox, stops the watcher, and closes the store
// and telemetry providers.
func (a *App) Shutdown(ctx context.Context) error {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	a.outbox.Drain(ctx)

	var firstErr error
	if err := a.st.Close(); err != nil {
		firstErr = err
	}
	if err := a.otelShutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	a.logger.Info("buildlog stopped")
	return firstErr
}

// Recorder returns the live session recorder.
func (a *App) Recorder() *recorder.Recorder { return a.rec }

// Exporter returns the retroactive exporter.
func (a *App) Exporter() *exporter.Exporter { return a.exp }

// Uploader returns the buildlog.ai API client.
func (a *App) Uploader() *uploader.Client { return a.client }

// Store returns the local document store.
func (a *App) Store() *store.Store { return a.st }

// Outbox returns the background upload worker.
func (a *App) Outbox() *uploader.OutboxWorker { return a.outbox }
