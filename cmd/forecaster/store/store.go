// Package store builds the forecaster's snapshot storage backend.
//
// Supported backends:
//
//   - memory: in-process storage, lost on restart. The default.
//   - redis: shared storage for several forecaster instances. Connectivity
//     is checked with a ping during startup.
//   - file: one JSON file per workload under a directory, surviving restarts
//     of a single instance.
//
// The caller should treat an error as fatal; the forecaster never runs with
// a broken storage configuration.
package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/HatiCode/autoforecast/cmd/forecaster/config"
	"github.com/HatiCode/autoforecast/pkg/storage"
)

// pingTimeout bounds the startup health check of remote backends.
const pingTimeout = 5 * time.Second

// New creates the storage backend selected by cfg.Storage. The returned
// closer releases backend connections and is never nil.
func New(cfg *config.Config, logger *slog.Logger) (storage.Store, io.Closer, error) {
	switch cfg.Storage {
	case "redis":
		logger.Info("initializing redis storage",
			"addr", cfg.RedisAddr,
			"db", cfg.RedisDB,
			"ttl", cfg.RedisTTL,
		)
		redisStore, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		if err := redisStore.Ping(ctx); err != nil {
			_ = redisStore.Close()
			return nil, nil, fmt.Errorf("redis health check: %w", err)
		}
		logger.Info("redis storage initialized successfully")
		return redisStore, redisStore, nil

	case "file":
		logger.Info("initializing file storage", "dir", cfg.SnapshotDir)
		fileStore, err := storage.NewFileStore(cfg.SnapshotDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open snapshot dir: %w", err)
		}
		return fileStore, nopCloser{}, nil

	case "memory":
		logger.Info("initializing in-memory storage")
		return storage.NewMemoryStore(), nopCloser{}, nil

	default:
		return nil, nil, fmt.Errorf("invalid storage type %q", cfg.Storage)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
