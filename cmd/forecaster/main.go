// Package main implements the autoforecast forecaster service.
// The forecaster fits forecasting predictors on request or on a Prometheus
// scrape loop, and serves forecasts, leaderboards and feature importance over
// HTTP and gRPC.
package main

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HatiCode/autoforecast/cmd/forecaster/config"
	"github.com/HatiCode/autoforecast/cmd/forecaster/grpcapi"
	"github.com/HatiCode/autoforecast/cmd/forecaster/logger"
	"github.com/HatiCode/autoforecast/cmd/forecaster/metrics"
	"github.com/HatiCode/autoforecast/cmd/forecaster/router"
	"github.com/HatiCode/autoforecast/cmd/forecaster/service"
	"github.com/HatiCode/autoforecast/cmd/forecaster/store"
	"github.com/HatiCode/autoforecast/cmd/forecaster/tracing"
	"github.com/HatiCode/autoforecast/pkg/adapters"
	"github.com/HatiCode/autoforecast/pkg/features"
	"github.com/HatiCode/autoforecast/pkg/httpx"
	"github.com/HatiCode/autoforecast/pkg/tasks"
)

const version = "v0.1.0"

func main() {
	cfg := config.ParseFlags()

	logger := logger.New(cfg)
	slog.SetDefault(logger)

	logger.Info("starting autoforecast forecaster",
		"version", version,
		"workload", cfg.Workload,
		"scrape", cfg.ScrapeEnabled(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, "autoforecast-forecaster", version, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	snapshots, closer, err := store.New(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer closer.Close()

	m := metrics.New(cmp.Or(cfg.Workload, "default"))
	svc, err := service.New(service.Config{
		Defaults: tasks.ForecastSettings{
			PredictionLength: cfg.PredictionLength,
			EvalMetric:       cfg.EvalMetric,
			Preset:           cfg.Preset,
			TimeLimit:        cfg.TimeLimit,
		},
		ModelDir:     cfg.ModelDir,
		RegistrySize: cfg.RegistrySize,
		CacheSize:    cfg.CacheSize,
		CacheTTL:     cfg.CacheTTL,
		StaleAfter:   cfg.StaleAfter,
	}, snapshots, m, logger)
	if err != nil {
		logger.Error("failed to initialize service", "error", err)
		os.Exit(1)
	}

	if cfg.ScrapeEnabled() {
		adapter := &adapters.PrometheusAdapter{
			ServerURL:   cfg.PromURL,
			Query:       cfg.PromQuery,
			Covariates:  cfg.PromCovariates,
			StepSeconds: int(cfg.Step.Seconds()),
		}
		builder := features.NewBuilder()
		builder.Calendar = cfg.Calendar

		f := NewForecaster(cfg.Workload, cfg.Metric, adapter, builder, svc, cfg.Window, m, logger)
		go func() {
			if err := f.Run(ctx, cfg.Interval); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("forecast loop failed", "error", err)
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				svc.Cleanup()
			}
		}
	}()

	routes := router.Options{FitRate: cfg.FitRate, FitBurst: cfg.FitBurst}
	if p, ok := snapshots.(interface{ Ping(context.Context) error }); ok {
		routes.Health = func() error {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			return p.Ping(ctx)
		}
	}
	handler := router.SetupRoutes(svc, routes, logger)
	httpServer := httpx.NewServer(cfg.Listen, handler, logger)

	serverErr := make(chan error, 2)
	go func() {
		serverErr <- httpServer.Start()
	}()

	grpcServer := grpcapi.NewServer(svc, logger)
	if cfg.GRPCListen != "" {
		lis, err := net.Listen("tcp", cfg.GRPCListen)
		if err != nil {
			logger.Error("failed to listen", "address", cfg.GRPCListen, "error", err)
			os.Exit(1)
		}
		go func() {
			logger.Info("grpc server listening", "address", cfg.GRPCListen)
			serverErr <- grpcServer.Serve(lis)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	}

	logger.Info("shutting down")
	cancel()

	grpcServer.GracefulStop()
	if err := httpServer.Stop(10 * time.Second); err != nil {
		logger.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}
	if err := shutdownTracing(context.Background()); err != nil {
		logger.Error("tracing shutdown failed", "error", err)
	}

	logger.Info("shutdown complete")
}
