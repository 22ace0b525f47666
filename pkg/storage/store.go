// Package storage persists the latest forecast snapshot of each workload.
package storage

import (
	"context"
	"errors"
	"slices"
	"time"
)

// ErrEmptyWorkload is returned by Put for a snapshot without a workload.
var ErrEmptyWorkload = errors.New("snapshot workload is empty")

// Snapshot is one forecast of a workload's metric. Timestamps are epoch
// seconds, one per value. Quantiles is keyed by quantile column name.
type Snapshot struct {
	Workload     string               `json:"workload"`
	Metric       string               `json:"metric"`
	BestModel    string               `json:"bestModel"`
	GeneratedAt  time.Time            `json:"generatedAt"`
	StepSeconds  int                  `json:"stepSeconds"`
	HorizonSteps int                  `json:"horizonSteps"`
	Timestamps   []float64            `json:"timestamps"`
	Values       []float64            `json:"values"`
	Quantiles    map[string][]float64 `json:"quantiles,omitempty"`
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Timestamps = slices.Clone(s.Timestamps)
	out.Values = slices.Clone(s.Values)
	if s.Quantiles != nil {
		out.Quantiles = make(map[string][]float64, len(s.Quantiles))
		for k, v := range s.Quantiles {
			out.Quantiles[k] = slices.Clone(v)
		}
	}
	return out
}

// Store keeps the latest snapshot per workload.
type Store interface {
	Put(ctx context.Context, s Snapshot) error
	// GetLatest reports false when the workload has no snapshot.
	GetLatest(ctx context.Context, workload string) (Snapshot, bool, error)
}
