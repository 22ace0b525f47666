// Package config implements the autoforecast forecaster config.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"
)

// Config holds all forecaster configuration.
type Config struct {
	Listen     string
	GRPCListen string

	// Scrape loop. Disabled when PromQuery is empty.
	Workload       string
	Metric         string
	PromURL        string
	PromQuery      string
	PromCovariates map[string]string
	Step           time.Duration
	Window         time.Duration
	Interval       time.Duration
	Calendar       bool

	// Engine defaults for every fit.
	PredictionLength int
	EvalMetric       string
	Preset           string
	TimeLimit        time.Duration
	ModelDir         string

	// Storage
	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
	SnapshotDir   string
	StaleAfter    time.Duration

	// Caches and limits
	RegistrySize int
	CacheSize    int
	CacheTTL     time.Duration
	FitRate      float64
	FitBurst     int

	OTLPEndpoint string
	LogFormat    string
	LogLevel     string
}

// ParseFlags parses command-line flags and environment variables into a Config.
// Environment variables are used as fallbacks when flags are not provided.
// Exits with status 1 when the result does not validate.
func ParseFlags() *Config {
	cfg := &Config{}
	var covariates string

	// Server
	flag.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8081"), "HTTP listen address")
	flag.StringVar(&cfg.GRPCListen, "grpc-listen", getEnv("GRPC_LISTEN", ":50051"), "gRPC listen address, empty to disable")

	// Scrape loop
	flag.StringVar(&cfg.Workload, "workload", getEnv("WORKLOAD", ""), "Workload name (required with -prom-query)")
	flag.StringVar(&cfg.Metric, "metric", getEnv("METRIC", ""), "Metric name (required with -prom-query)")
	flag.StringVar(&cfg.PromURL, "prom-url", getEnv("PROM_URL", "http://localhost:9090"), "Prometheus URL")
	flag.StringVar(&cfg.PromQuery, "prom-query", getEnv("PROM_QUERY", ""), "Prometheus query of the target, empty to disable scraping")
	flag.StringVar(&covariates, "prom-covariates", getEnv("PROM_COVARIATES", ""), "Covariate queries as name=query;name=query")
	flag.DurationVar(&cfg.Step, "step", getEnvDuration("STEP", time.Minute), "Sample step size")
	flag.DurationVar(&cfg.Window, "window", getEnvDuration("WINDOW", 6*time.Hour), "Historical window")
	flag.DurationVar(&cfg.Interval, "interval", getEnvDuration("INTERVAL", 5*time.Minute), "Forecast interval")
	flag.BoolVar(&cfg.Calendar, "calendar", getEnvBool("CALENDAR", false), "Add hour and weekday covariates")

	// Engine
	flag.IntVar(&cfg.PredictionLength, "prediction-length", getEnvInt("PREDICTION_LENGTH", 24), "Forecast horizon in steps")
	flag.StringVar(&cfg.EvalMetric, "eval-metric", getEnv("EVAL_METRIC", "MASE"), "Evaluation metric")
	flag.StringVar(&cfg.Preset, "preset", getEnv("PRESET", "medium_quality"), "Engine preset")
	flag.DurationVar(&cfg.TimeLimit, "time-limit", getEnvDuration("TIME_LIMIT", 60*time.Second), "Fit time limit")
	flag.StringVar(&cfg.ModelDir, "model-dir", getEnv("MODEL_DIR", ""), "Directory for predictor checkpoints, empty to keep them in memory")

	// Storage
	flag.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Snapshot storage: memory, redis or file")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database")
	flag.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 24*time.Hour), "Redis snapshot TTL")
	flag.StringVar(&cfg.SnapshotDir, "snapshot-dir", getEnv("SNAPSHOT_DIR", "snapshots"), "Snapshot directory for file storage")
	flag.DurationVar(&cfg.StaleAfter, "stale-after", getEnvDuration("STALE_AFTER", 0), "Snapshot age marked stale, 0 for twice the interval")

	// Caches and limits
	flag.IntVar(&cfg.RegistrySize, "registry-size", getEnvInt("REGISTRY_SIZE", 64), "Fitted predictors kept in memory")
	flag.IntVar(&cfg.CacheSize, "cache-size", getEnvInt("CACHE_SIZE", 256), "Forecast responses cached by request fingerprint")
	flag.DurationVar(&cfg.CacheTTL, "cache-ttl", getEnvDuration("CACHE_TTL", 10*time.Minute), "Forecast cache TTL")
	flag.Float64Var(&cfg.FitRate, "fit-rate", getEnvFloat("FIT_RATE", 2), "Fit requests per second, 0 to disable limiting")
	flag.IntVar(&cfg.FitBurst, "fit-burst", getEnvInt("FIT_BURST", 4), "Fit request burst")

	flag.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", getEnv("OTLP_ENDPOINT", ""), "OTLP gRPC collector endpoint, empty to disable tracing")
	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	flag.Parse()

	var err error
	cfg.PromCovariates, err = ParseCovariates(covariates)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = 2 * cfg.Interval
	}

	return cfg
}

// ScrapeEnabled reports whether the Prometheus scrape loop should run.
func (c *Config) ScrapeEnabled() bool {
	return c.PromQuery != ""
}

// Validate checks flag combinations that cannot work.
func (c *Config) Validate() error {
	if c.ScrapeEnabled() {
		if c.Workload == "" {
			return errors.New("--workload is required with --prom-query")
		}
		if c.Metric == "" {
			return errors.New("--metric is required with --prom-query")
		}
		if c.Step <= 0 || c.Interval <= 0 || c.Window < c.Step {
			return fmt.Errorf("invalid scrape timing: step %s, interval %s, window %s", c.Step, c.Interval, c.Window)
		}
	}
	if !slices.Contains([]string{"memory", "redis", "file"}, c.Storage) {
		return fmt.Errorf("invalid storage type %q", c.Storage)
	}
	if c.RegistrySize < 1 || c.CacheSize < 1 {
		return fmt.Errorf("registry and cache sizes must be positive, got %d and %d", c.RegistrySize, c.CacheSize)
	}
	return nil
}

// ParseCovariates parses "name=query;name=query". Queries may contain '='.
func ParseCovariates(s string) (map[string]string, error) {
	out := make(map[string]string)
	for part := range strings.SplitSeq(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, query, ok := strings.Cut(part, "=")
		name, query = strings.TrimSpace(name), strings.TrimSpace(query)
		if !ok || name == "" || query == "" {
			return nil, fmt.Errorf("invalid covariate %q, want name=query", part)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("duplicate covariate %q", name)
		}
		out[name] = query
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
