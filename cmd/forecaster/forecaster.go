package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/HatiCode/autoforecast/cmd/forecaster/metrics"
	"github.com/HatiCode/autoforecast/pkg/adapters"
	"github.com/HatiCode/autoforecast/pkg/api"
	"github.com/HatiCode/autoforecast/pkg/features"
	"github.com/HatiCode/autoforecast/pkg/timeseries"
)

// SeriesForecaster fits a series and stores the forecast as the workload's
// latest snapshot.
type SeriesForecaster interface {
	ForecastSeries(ctx context.Context, workload, metric string, ts *timeseries.TimeSeries) (api.ForecastResponse, error)
}

// Forecaster orchestrates the scrape loop: collect → build series → fit → store.
type Forecaster struct {
	workload string
	metric   string
	adapter  adapters.Adapter
	builder  *features.Builder
	svc      SeriesForecaster
	window   time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewForecaster creates a scrape loop for one workload.
func NewForecaster(
	workload, metric string,
	adapter adapters.Adapter,
	builder *features.Builder,
	svc SeriesForecaster,
	window time.Duration,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Forecaster {
	if logger == nil {
		logger = slog.Default()
	}

	return &Forecaster{
		workload: workload,
		metric:   metric,
		adapter:  adapter,
		builder:  builder,
		svc:      svc,
		window:   window,
		metrics:  m,
		logger:   logger.With("workload", workload),
	}
}

// Run executes the scrape loop at regular intervals.
// Blocks until context is canceled.
func (f *Forecaster) Run(ctx context.Context, interval time.Duration) error {
	f.logger.Info("starting forecast loop", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := f.Tick(ctx); err != nil {
		f.logger.Error("forecast tick failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("forecast loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := f.Tick(ctx); err != nil {
				f.logger.Error("forecast tick failed", "error", err)
			}
		}
	}
}

// Tick performs one forecast cycle.
func (f *Forecaster) Tick(ctx context.Context) error {
	start := time.Now()

	df, err := f.adapter.Collect(ctx, f.window)
	if err != nil {
		f.metrics.RecordError("adapter", "collect_failed")
		return fmt.Errorf("collect: %w", err)
	}
	collectDuration := time.Since(start)
	f.metrics.RecordCollect(collectDuration.Seconds())

	ts, err := f.builder.Build(df)
	if err != nil {
		f.metrics.RecordError("features", "build_failed")
		return fmt.Errorf("build features: %w", err)
	}
	f.logger.Debug("built series", "rows", ts.Len(), "covariates", len(ts.Domain.Attributes)-1)

	resp, err := f.svc.ForecastSeries(ctx, f.workload, f.metric, ts)
	if err != nil {
		return fmt.Errorf("forecast: %w", err)
	}
	for _, w := range resp.Warnings {
		f.logger.Warn("forecast warning", "warning", w)
	}

	f.logger.Info("forecast tick complete",
		"adapter", f.adapter.Name(),
		"rows", ts.Len(),
		"best_model", resp.BestModel,
		"predictor_id", resp.PredictorID,
		"forecast_points", len(resp.Forecast.Mean),
		"collect_ms", collectDuration.Milliseconds(),
		"total_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
