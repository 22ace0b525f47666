package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/HatiCode/autoforecast/pkg/forecast"
	"github.com/HatiCode/autoforecast/pkg/tasks"
	"github.com/HatiCode/autoforecast/pkg/timeseries"
)

func leaderboardCmd(opts *options) *cobra.Command {
	var (
		testFile  string
		sortBy    string
		ascending bool
		output    string
	)

	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Rank the models of a saved predictor",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := forecast.Restore(opts.modelDir, opts.logger(cmd))
			if err != nil {
				return fmt.Errorf("load predictor: %w", err)
			}

			var test *timeseries.TimeSeries
			if testFile != "" {
				if test, err = opts.readSeries(testFile); err != nil {
					return err
				}
			}

			res := tasks.RunLeaderboard(cmd.Context(), w, test)
			if res.Err != nil {
				return res.Err
			}
			order := tasks.Descending
			if ascending {
				order = tasks.Ascending
			}
			if err := res.Sort(sortBy, order); err != nil {
				return err
			}
			return writeTable(cmd, output, res.Table)
		},
	}

	cmd.Flags().StringVarP(&testFile, "test", "t", "", "Test CSV file scored instead of the validation window")
	cmd.Flags().StringVar(&sortBy, "sort", tasks.ColumnScore, "Sort column: Model, Score, Fit Time, Inference Time")
	cmd.Flags().BoolVar(&ascending, "ascending", false, "Sort ascending")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output CSV file, stdout when empty")

	return cmd
}
