package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/HatiCode/autoforecast/pkg/tasks"
)

func forecastCmd(opts *options) *cobra.Command {
	var (
		input        string
		output       string
		fittedOutput string
		horizon      int
		metric       string
		preset       string
	)

	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Fit a predictor on a CSV series and forecast past its end",
		Long: `Fits every candidate model of the preset on the input series, saves the
predictor under --model-dir and writes the forecast of the best model as CSV.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := opts.loadSettings()
			if err != nil {
				return err
			}
			fs := settings.Forecast
			fs.Path = opts.modelDir
			if cmd.Flags().Changed("horizon") {
				fs.PredictionLength = horizon
			}
			if cmd.Flags().Changed("eval-metric") {
				fs.EvalMetric = metric
			}
			if cmd.Flags().Changed("preset") {
				fs.Preset = preset
			}

			data, err := opts.readSeries(input)
			if err != nil {
				return err
			}

			res := tasks.RunForecast(cmd.Context(), data, fs, opts.logger(cmd))
			for _, w := range res.Warnings {
				fmt.Fprintln(cmd.ErrOrStderr(), "Warning:", w)
			}
			if res.Err != nil {
				return res.Err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Best model: %s (saved to %s)\n", res.Predictor.Predictor().BestModel(), opts.modelDir)
			if fittedOutput != "" {
				if err := writeTable(cmd, fittedOutput, &res.FittedValues.Table); err != nil {
					return err
				}
			}
			return writeTable(cmd, output, &res.Forecast.Table)
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "Input CSV file (required)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Forecast CSV file, stdout when empty")
	cmd.Flags().StringVar(&fittedOutput, "fitted-output", "", "Fitted values CSV file")
	cmd.Flags().IntVar(&horizon, "horizon", tasks.DefaultPredictionLength, "Forecast horizon in steps")
	cmd.Flags().StringVar(&metric, "eval-metric", "MASE", "Evaluation metric")
	cmd.Flags().StringVar(&preset, "preset", "medium_quality", "Preset: fast_training, medium_quality, high_quality, best_quality")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}
