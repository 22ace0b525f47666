// Package metrics provides Prometheus instrumentation for the forecaster.
//
// Metrics exposed:
//   - autoforecast_adapter_collect_seconds: Histogram of adapter collection time
//   - autoforecast_model_fit_seconds: Histogram of predictor fit time
//   - autoforecast_model_predict_seconds: Histogram of forecast time
//   - autoforecast_forecast_age_seconds: Gauge of the age of the stored forecast
//   - autoforecast_errors_total: Counter of errors by component and reason
//   - autoforecast_cache_requests_total: Counter of forecast cache lookups by result
//   - autoforecast_active_predictors: Gauge of fitted predictors held in memory
//
// Every metric carries a constant workload label, so New can be called once
// per workload against the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	AdapterCollectSeconds prometheus.Histogram
	ModelFitSeconds       prometheus.Histogram
	ModelPredictSeconds   prometheus.Histogram
	ForecastAgeSeconds    prometheus.Gauge
	ErrorsTotal           *prometheus.CounterVec
	CacheRequestsTotal    *prometheus.CounterVec
	ActivePredictors      prometheus.Gauge
}

// fitBuckets spans sub-second naive fits up to the one hour time limit.
var fitBuckets = []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600}

func New(workload string) *Metrics {
	labels := prometheus.Labels{"workload": workload}
	return &Metrics{
		AdapterCollectSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:        "autoforecast_adapter_collect_seconds",
			Help:        "Time spent collecting metrics from adapter",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}),
		ModelFitSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:        "autoforecast_model_fit_seconds",
			Help:        "Time spent fitting predictors",
			Buckets:     fitBuckets,
			ConstLabels: labels,
		}),
		ModelPredictSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:        "autoforecast_model_predict_seconds",
			Help:        "Time spent predicting forecast",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}),
		ForecastAgeSeconds: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "autoforecast_forecast_age_seconds",
			Help:        "Age of the current forecast in seconds",
			ConstLabels: labels,
		}),
		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "autoforecast_errors_total",
			Help:        "Total number of errors by component and reason",
			ConstLabels: labels,
		}, []string{"component", "reason"}),
		CacheRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "autoforecast_cache_requests_total",
			Help:        "Forecast cache lookups by result",
			ConstLabels: labels,
		}, []string{"result"}),
		ActivePredictors: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "autoforecast_active_predictors",
			Help:        "Fitted predictors held in the registry",
			ConstLabels: labels,
		}),
	}
}

func (m *Metrics) RecordCollect(seconds float64) {
	m.AdapterCollectSeconds.Observe(seconds)
}

func (m *Metrics) RecordFit(seconds float64) {
	m.ModelFitSeconds.Observe(seconds)
}

func (m *Metrics) RecordPredict(seconds float64) {
	m.ModelPredictSeconds.Observe(seconds)
}

func (m *Metrics) SetForecastAge(seconds float64) {
	m.ForecastAgeSeconds.Set(seconds)
}

func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}

// RecordCacheLookup counts a forecast cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequestsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SetActivePredictors(n int) {
	m.ActivePredictors.Set(float64(n))
}
