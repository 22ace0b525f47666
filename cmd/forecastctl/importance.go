package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/HatiCode/autoforecast/pkg/charts"
	"github.com/HatiCode/autoforecast/pkg/forecast"
	"github.com/HatiCode/autoforecast/pkg/tasks"
)

func importanceCmd(opts *options) *cobra.Command {
	var (
		input      string
		method     string
		iterations int
		subsample  int
		model      string
		seed       uint64
		selected   []string
		chart      string
		output     string
	)

	cmd := &cobra.Command{
		Use:   "importance",
		Short: "Compute feature importance of a saved predictor",
		Long: `Scores each covariate by how much the forecast error grows when it is
shuffled (permutation) or replaced by its mean (naive). Uses the training
series unless --input is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := opts.loadSettings()
			if err != nil {
				return err
			}
			is := settings.Importance
			flags := cmd.Flags()
			if flags.Changed("method") {
				is.Method = method
			}
			if flags.Changed("iterations") {
				is.NumIterations = iterations
			}
			if flags.Changed("subsample") {
				is.SubsampleSize = subsample
			}
			if flags.Changed("model") {
				is.Model = model
			}
			if flags.Changed("seed") {
				is.Seed = seed
			}

			w, err := forecast.Restore(opts.modelDir, opts.logger(cmd))
			if err != nil {
				return fmt.Errorf("load predictor: %w", err)
			}
			data := w.TrainingSeries()
			if input != "" {
				if data, err = opts.readSeries(input); err != nil {
					return err
				}
			}

			res := tasks.RunImportance(cmd.Context(), w, data, is)
			if res.Err != nil {
				return res.Err
			}

			if chart != "" {
				if err := writeChart(chart, res.Rows); err != nil {
					return err
				}
			}

			table := res.Table
			if len(selected) > 0 {
				if table = res.SelectFeatures(selected); table == nil {
					return fmt.Errorf("none of the features %v were scored", selected)
				}
			}
			return writeTable(cmd, output, table)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&input, "input", "i", "", "CSV file to score, the training series when empty")
	f.StringVar(&method, "method", "permutation", "Method: permutation or naive")
	f.IntVar(&iterations, "iterations", tasks.DefaultIterations, "Shuffles per feature")
	f.IntVar(&subsample, "subsample", tasks.DefaultSubsample, "Rows scored per iteration")
	f.StringVar(&model, "model", "", "Model to explain, the best model when empty")
	f.Uint64Var(&seed, "seed", 0, "Random seed")
	f.StringSliceVar(&selected, "features", nil, "Only report these features")
	f.StringVar(&chart, "chart", "", "Write a PNG bar chart to this file")
	f.StringVarP(&output, "output", "o", "", "Output CSV file, stdout when empty")

	return cmd
}

func writeChart(path string, rows []tasks.ImportanceRow) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := charts.WriteImportancePNG(f, rows, "Feature importance", charts.DefaultWidth, charts.DefaultHeight); err != nil {
		f.Close()
		return fmt.Errorf("write chart %s: %w", path, err)
	}
	return f.Close()
}
