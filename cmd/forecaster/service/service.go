// Package service implements the forecaster operations shared by the HTTP
// router, the gRPC server and the scrape loop.
//
// Fitted predictors are kept in an LRU registry keyed by a random predictor
// ID. When a model directory is configured every fit is checkpointed under
// it, and predictors evicted from the registry are restored on demand.
// Forecast replies are cached by a fingerprint of the request.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/HatiCode/autoforecast/cmd/forecaster/metrics"
	"github.com/HatiCode/autoforecast/pkg/api"
	"github.com/HatiCode/autoforecast/pkg/automl"
	"github.com/HatiCode/autoforecast/pkg/cache"
	"github.com/HatiCode/autoforecast/pkg/forecast"
	"github.com/HatiCode/autoforecast/pkg/storage"
	"github.com/HatiCode/autoforecast/pkg/tasks"
	"github.com/HatiCode/autoforecast/pkg/timeseries"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrPredictorNotFound = errors.New("predictor not found")
	ErrSnapshotNotFound  = errors.New("snapshot not found")
)

// Config configures a Service.
type Config struct {
	Defaults tasks.ForecastSettings

	// ModelDir holds one checkpoint directory per predictor. Empty keeps
	// predictors in memory only.
	ModelDir string

	RegistrySize int
	CacheSize    int
	CacheTTL     time.Duration
	StaleAfter   time.Duration
}

type Service struct {
	cfg        Config
	store      storage.Store
	predictors *cache.LRU[string, *forecast.Wrapper]
	forecasts  *cache.LRU[string, api.ForecastResponse]
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// New returns a service storing snapshots in store.
func New(cfg Config, store storage.Store, m *metrics.Metrics, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	predictors, err := cache.New[string, *forecast.Wrapper](cfg.RegistrySize, 0)
	if err != nil {
		return nil, fmt.Errorf("predictor registry: %w", err)
	}
	forecasts, err := cache.New[string, api.ForecastResponse](cfg.CacheSize, cfg.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("forecast cache: %w", err)
	}
	return &Service{
		cfg:        cfg,
		store:      store,
		predictors: predictors,
		forecasts:  forecasts,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Forecast fits a predictor on the request series and forecasts past its
// end. Identical requests are answered from the cache while the predictor
// they produced is still available. With a workload the forecast is stored
// as that workload's latest snapshot.
func (s *Service) Forecast(ctx context.Context, req api.ForecastRequest) (api.ForecastResponse, error) {
	ts, err := req.Series.TimeSeries()
	if err != nil {
		return api.ForecastResponse{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	settings := req.Settings.Apply(s.cfg.Defaults)

	key := fingerprint(req.Series, settings)
	if resp, ok := s.forecasts.Get(key); ok {
		if _, err := s.predictor(resp.PredictorID); err == nil {
			s.metrics.RecordCacheLookup(true)
			resp.Cached = true
			if err := s.storeForecast(ctx, req.Workload, req.Metric, resp); err != nil {
				return api.ForecastResponse{}, err
			}
			return resp, nil
		}
		s.forecasts.Delete(key)
	}
	s.metrics.RecordCacheLookup(false)

	resp, err := s.fit(ctx, ts, settings)
	if err != nil {
		return resp, err
	}
	s.forecasts.Set(key, resp)

	if err := s.storeForecast(ctx, req.Workload, req.Metric, resp); err != nil {
		return api.ForecastResponse{}, err
	}
	return resp, nil
}

// ForecastSeries fits a predictor on ts with the default settings and stores
// the forecast as the workload's latest snapshot. It bypasses the cache.
func (s *Service) ForecastSeries(ctx context.Context, workload, metric string, ts *timeseries.TimeSeries) (api.ForecastResponse, error) {
	resp, err := s.fit(ctx, ts, s.cfg.Defaults)
	if err != nil {
		return resp, err
	}
	if err := s.storeForecast(ctx, workload, metric, resp); err != nil {
		return api.ForecastResponse{}, err
	}
	return resp, nil
}

func (s *Service) fit(ctx context.Context, ts *timeseries.TimeSeries, settings tasks.ForecastSettings) (api.ForecastResponse, error) {
	id := uuid.NewString()
	settings.Path = ""
	if s.cfg.ModelDir != "" {
		settings.Path = filepath.Join(s.cfg.ModelDir, id)
	}

	start := time.Now()
	res := tasks.RunForecast(ctx, ts, settings, s.logger.With("predictor_id", id))
	if res.Err != nil {
		s.metrics.RecordError("model", "fit_failed")
		return api.ForecastResponse{Warnings: res.Warnings}, res.Err
	}
	s.metrics.RecordFit(time.Since(start).Seconds())

	p := res.Predictor.Predictor()
	if board, err := p.Leaderboard(ctx, nil); err == nil {
		for _, e := range board {
			if e.Model == p.BestModel() {
				s.metrics.RecordPredict(e.PredTimeVal.Seconds())
			}
		}
	}

	fc, err := api.ForecastFromSeries(res.Forecast, automl.MeanColumn)
	if err != nil {
		return api.ForecastResponse{}, fmt.Errorf("read forecast: %w", err)
	}
	fitted, err := api.ForecastFromSeries(res.FittedValues, automl.MeanColumn)
	if err != nil {
		return api.ForecastResponse{}, fmt.Errorf("read fitted values: %w", err)
	}

	s.predictors.Set(id, res.Predictor)
	s.metrics.SetActivePredictors(s.predictors.Len())

	return api.ForecastResponse{
		PredictorID:  id,
		BestModel:    p.BestModel(),
		Forecast:     fc,
		FittedValues: fitted,
		Warnings:     res.Warnings,
	}, nil
}

// Leaderboard ranks the models of a fitted predictor, on the test series
// when the request has one.
func (s *Service) Leaderboard(ctx context.Context, id string, req api.LeaderboardRequest) (api.LeaderboardResponse, error) {
	w, err := s.predictor(id)
	if err != nil {
		return api.LeaderboardResponse{}, err
	}

	var test *timeseries.TimeSeries
	if req.Test != nil {
		if test, err = req.Test.TimeSeries(); err != nil {
			return api.LeaderboardResponse{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
	}

	res := tasks.RunLeaderboard(ctx, w, test)
	if res.Err != nil {
		s.metrics.RecordError("model", "leaderboard_failed")
		return api.LeaderboardResponse{}, res.Err
	}
	if err := res.Sort(tasks.ColumnScore, tasks.Descending); err != nil {
		return api.LeaderboardResponse{}, err
	}
	return api.LeaderboardResponse{PredictorID: id, Rows: api.LeaderboardRows(res.Rows)}, nil
}

// Importance computes feature importance of a fitted predictor on the request
// series, or on its training series when the request has none.
func (s *Service) Importance(ctx context.Context, id string, req api.ImportanceRequest) (api.ImportanceResponse, error) {
	w, err := s.predictor(id)
	if err != nil {
		return api.ImportanceResponse{}, err
	}

	data := w.TrainingSeries()
	if req.Series != nil {
		if data, err = req.Series.TimeSeries(); err != nil {
			return api.ImportanceResponse{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
	}

	res := tasks.RunImportance(ctx, w, data, req.Settings())
	if res.Err != nil {
		s.metrics.RecordError("model", "importance_failed")
		return api.ImportanceResponse{}, res.Err
	}
	return api.ImportanceResponse{PredictorID: id, Rows: api.ImportanceRows(res.Rows)}, nil
}

// Snapshot returns the latest snapshot of workload and whether it is older
// than the stale threshold.
func (s *Service) Snapshot(ctx context.Context, workload string) (api.SnapshotResponse, bool, error) {
	snap, found, err := s.store.GetLatest(ctx, workload)
	if err != nil {
		s.metrics.RecordError("store", "get_failed")
		return api.SnapshotResponse{}, false, fmt.Errorf("get snapshot: %w", err)
	}
	if !found {
		return api.SnapshotResponse{}, false, fmt.Errorf("%w: workload %q", ErrSnapshotNotFound, workload)
	}

	age := s.now().Sub(snap.GeneratedAt)
	s.metrics.SetForecastAge(age.Seconds())
	return api.SnapshotResponse(snap), age > s.cfg.StaleAfter, nil
}

// Predictors returns the IDs of the predictors held in memory, most recently
// used last.
func (s *Service) Predictors() []string {
	return s.predictors.Keys()
}

// Cleanup drops expired forecast cache entries and returns how many were removed.
func (s *Service) Cleanup() int {
	n := s.forecasts.CleanupExpired()
	if n > 0 {
		s.logger.Debug("forecast cache cleanup", "removed", n)
	}
	return n
}

// predictor looks id up in the registry, falling back to its checkpoint.
func (s *Service) predictor(id string) (*forecast.Wrapper, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrPredictorNotFound, id)
	}
	if w, ok := s.predictors.Get(id); ok {
		return w, nil
	}
	if s.cfg.ModelDir == "" {
		return nil, fmt.Errorf("%w: %q", ErrPredictorNotFound, id)
	}

	w, err := forecast.Restore(filepath.Join(s.cfg.ModelDir, id), s.logger)
	if err != nil {
		s.logger.Debug("predictor restore failed", "predictor_id", id, "error", err)
		return nil, fmt.Errorf("%w: %q", ErrPredictorNotFound, id)
	}
	s.logger.Info("predictor restored", "predictor_id", id)
	s.predictors.Set(id, w)
	s.metrics.SetActivePredictors(s.predictors.Len())
	return w, nil
}

func (s *Service) storeForecast(ctx context.Context, workload, metric string, resp api.ForecastResponse) error {
	if workload == "" {
		return nil
	}
	snap := storage.Snapshot{
		Workload:     workload,
		Metric:       metric,
		BestModel:    resp.BestModel,
		GeneratedAt:  s.now(),
		StepSeconds:  stepSeconds(resp.Forecast.Timestamps),
		HorizonSteps: len(resp.Forecast.Mean),
		Timestamps:   resp.Forecast.Timestamps,
		Values:       resp.Forecast.Mean,
		Quantiles:    resp.Forecast.Quantiles,
	}
	if err := s.store.Put(ctx, snap); err != nil {
		s.metrics.RecordError("store", "put_failed")
		return fmt.Errorf("store snapshot: %w", err)
	}
	s.metrics.SetForecastAge(0)
	s.logger.Debug("stored snapshot", "workload", workload, "best_model", resp.BestModel)
	return nil
}

func stepSeconds(times []float64) int {
	if len(times) < 2 {
		return 0
	}
	return int(times[1] - times[0])
}

// fingerprint keys the forecast cache on everything that affects the fit.
func fingerprint(s api.Series, settings tasks.ForecastSettings) string {
	h := cache.NewHasher().
		String(s.TimeName).
		Floats(s.Times).
		String(s.TargetName).
		Floats(s.Target)

	names := make([]string, 0, len(s.Covariates))
	for name := range s.Covariates {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		h.String(name).Floats(s.Covariates[name])
	}

	return h.Int(int64(settings.PredictionLength)).
		String(settings.EvalMetric).
		String(settings.Preset).
		Int(int64(settings.TimeLimit)).
		Key()
}
