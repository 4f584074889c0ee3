package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/infrastructure/middleware"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/infrastructure/storage"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/config"
	apihttp "github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/http"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/logging"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP grading server",
		Long: `Run the HTTP grading server.

Scores are uploaded to POST /api/analyze and graded by a pool of workers.
Progress streams from GET /api/progress/:id as server-sent events and the
finished report is read from GET /api/result/:id. Prometheus metrics are
served at /metrics.

The server shuts down gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// serve runs the server until ctx is canceled:
//
//  1. open the upload store and start its sweeper
//  2. build the engine and start its workers
//  3. serve HTTP
//  4. on cancellation, drain HTTP within the shutdown timeout, then stop
//     the workers
func serve(ctx context.Context, cfg config.Config) error {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := middleware.NewPrometheusMetrics(reg)

	store, err := storage.NewFileStore(cfg.Server.UploadDir, cfg.Server.MaxUploadBytes, logger.Named("storage"))
	if err != nil {
		return err
	}

	eng, err := buildEngine(cfg, store, metrics, logger.Named("engine"))
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Warn("close event publisher", zap.Error(err))
		}
	}()

	server, err := apihttp.NewServer(eng.orchestrator, store, logger.Named("http"), apihttp.Config{
		Addr:           cfg.Server.Addr,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Gatherer:       reg,
	})
	if err != nil {
		return err
	}

	logger.Info("starting gradeengine",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr),
		zap.Int("workers", cfg.Engine.Workers),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout),
	)

	workCtx, stopWork := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWork()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.orchestrator.Run(workCtx)
	})
	g.Go(func() error {
		store.RunSweeper(gctx, cfg.Server.SweepInterval, cfg.Server.UploadTTL)
		return nil
	})
	g.Go(func() error {
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		stopWork()
		return err
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
