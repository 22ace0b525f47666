package automl

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/HatiCode/autoforecast/pkg/models"
	"github.com/HatiCode/autoforecast/pkg/panel"
	"github.com/HatiCode/autoforecast/pkg/scoring"
)

// CheckpointFile is the file written inside a predictor's checkpoint directory.
const CheckpointFile = "predictor.json"

const checkpointVersion = 1

type checkpoint struct {
	Version          int               `json:"version"`
	PredictionLength int               `json:"prediction_length"`
	EvalMetric       string            `json:"eval_metric"`
	Presets          string            `json:"presets"`
	Quantiles        []float64         `json:"quantiles"`
	SeasonLength     int               `json:"season_length"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Best             string            `json:"best_model"`
	Frame            frameState        `json:"frame"`
	Models           []modelState      `json:"models"`
}

type frameState struct {
	Timestamps []time.Time   `json:"timestamps"`
	Columns    []columnState `json:"columns"`
}

type columnState struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

type modelState struct {
	Name string `json:"name"`
	candidate
	ScoreVal    float64       `json:"score_val"`
	Sigma       float64       `json:"sigma"`
	FitTime     time.Duration `json:"fit_time_ns"`
	PredTimeVal time.Duration `json:"pred_time_val_ns"`
	FitOrder    int           `json:"fit_order"`
	Members     []string      `json:"members,omitempty"`
	Weights     []float64     `json:"weights,omitempty"`
}

// Save writes the predictor checkpoint into dir.
func (p *Predictor) Save(dir string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.fitted {
		return ErrNotFitted
	}
	return writeCheckpoint(dir, newCheckpoint(p.opts, p.frame, p.season, p.entries, p.best), p.logger)
}

// newCheckpoint captures a fitted state. frame must hold no missing values.
func newCheckpoint(opts Options, frame panel.Frame, season int, entries []*entry, best string) checkpoint {
	cp := checkpoint{
		Version:          checkpointVersion,
		PredictionLength: opts.PredictionLength,
		EvalMetric:       string(opts.EvalMetric),
		Presets:          string(opts.Presets),
		Quantiles:        opts.Quantiles,
		SeasonLength:     season,
		Metadata:         opts.Metadata,
		Best:             best,
		Frame:            frameState{Timestamps: frame.Timestamps},
	}
	for _, c := range frame.Columns {
		cp.Frame.Columns = append(cp.Frame.Columns, columnState{Name: c.Name, Values: c.Values})
	}
	for _, e := range entries {
		cp.Models = append(cp.Models, modelState{
			Name:        e.name,
			candidate:   e.spec,
			ScoreVal:    e.scoreVal,
			Sigma:       e.sigma,
			FitTime:     e.fitTime,
			PredTimeVal: e.predTimeVal,
			FitOrder:    e.fitOrder,
			Members:     e.members,
			Weights:     e.weights,
		})
	}
	return cp
}

func writeCheckpoint(dir string, cp checkpoint, logger *slog.Logger) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	path := filepath.Join(dir, CheckpointFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename checkpoint: %w", err)
	}

	logger.Debug("checkpoint written", "path", path, "models", len(cp.Models))
	return nil
}

// Load rebuilds a fitted predictor from a checkpoint directory. Models are
// re-trained on the stored training frame, so forecasts match the saved
// predictor.
func Load(dir string, logger *slog.Logger) (*Predictor, error) {
	data, err := os.ReadFile(filepath.Join(dir, CheckpointFile))
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if cp.Version != checkpointVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d", cp.Version)
	}

	p, err := New(Options{
		PredictionLength: cp.PredictionLength,
		EvalMetric:       scoring.Metric(cp.EvalMetric),
		Presets:          Preset(cp.Presets),
		Path:             dir,
		Quantiles:        cp.Quantiles,
		SeasonLength:     cp.SeasonLength,
		Metadata:         cp.Metadata,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint options: %w", err)
	}

	frame := panel.NewFrame(cp.Frame.Timestamps)
	for _, c := range cp.Frame.Columns {
		frame.Columns = append(frame.Columns, panel.Column{Name: c.Name, Values: c.Values})
	}
	if err := frame.Validate(); err != nil {
		return nil, fmt.Errorf("checkpoint frame: %w", err)
	}
	full, err := features(&frame)
	if err != nil {
		return nil, fmt.Errorf("checkpoint frame: %w", err)
	}

	ctx := context.Background()
	entries := make([]*entry, 0, len(cp.Models))
	trained := make(map[string]models.Model, len(cp.Models))
	for _, ms := range cp.Models {
		e := &entry{
			name:        ms.Name,
			spec:        ms.candidate,
			scoreVal:    ms.ScoreVal,
			sigma:       ms.Sigma,
			fitTime:     ms.FitTime,
			predTimeVal: ms.PredTimeVal,
			fitOrder:    ms.FitOrder,
			members:     ms.Members,
			weights:     ms.Weights,
		}
		if e.spec.Kind != KindEnsemble {
			m, err := e.spec.build()
			if err != nil {
				return nil, fmt.Errorf("rebuild %s: %w", e.name, err)
			}
			if m.Name() != e.name {
				return nil, fmt.Errorf("rebuild %s: got model %s", e.name, m.Name())
			}
			if err := m.Train(ctx, full); err != nil {
				return nil, fmt.Errorf("retrain %s: %w", e.name, err)
			}
			e.model = m
			trained[e.name] = m
		}
		entries = append(entries, e)
	}
	for _, e := range entries {
		if e.spec.Kind == KindEnsemble {
			if err := attachEnsemble(e, trained); err != nil {
				return nil, fmt.Errorf("rebuild %s: %w", e.name, err)
			}
		}
	}
	if len(entries) == 0 {
		return nil, ErrNoModels
	}

	p.frame = frame
	p.season = cp.SeasonLength
	p.entries = entries
	p.byName = make(map[string]*entry, len(entries))
	for _, e := range entries {
		p.byName[e.name] = e
	}
	if _, ok := p.byName[cp.Best]; !ok {
		return nil, fmt.Errorf("%w: best model %q", ErrModelNotFound, cp.Best)
	}
	p.best = cp.Best
	p.fitted = true

	p.logger.Info("predictor loaded", "path", dir, "models", len(entries), "best_model", p.best)
	return p, nil
}
