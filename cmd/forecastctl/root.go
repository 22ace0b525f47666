package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/HatiCode/autoforecast/pkg/tasks"
	"github.com/HatiCode/autoforecast/pkg/timeseries"
)

// options are the flags shared by every command.
type options struct {
	settingsFile string
	timeColumn   string
	targetColumn string
	modelDir     string
	logLevel     string
}

// settingsDoc is the YAML layout of --settings. Missing keys keep the defaults.
type settingsDoc struct {
	Forecast   tasks.ForecastSettings   `yaml:"forecast"`
	Importance tasks.ImportanceSettings `yaml:"importance"`
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "forecastctl",
		Short:         "Fit and inspect time series forecasting predictors",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.settingsFile, "settings", "s", "", "YAML settings file")
	flags.StringVar(&opts.timeColumn, "time-column", "timestamp", "CSV time column")
	flags.StringVar(&opts.targetColumn, "target-column", "value", "CSV target column")
	flags.StringVarP(&opts.modelDir, "model-dir", "m", tasks.DefaultPath, "Predictor checkpoint directory")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(forecastCmd(opts))
	rootCmd.AddCommand(leaderboardCmd(opts))
	rootCmd.AddCommand(importanceCmd(opts))

	return rootCmd
}

// loadSettings returns the defaults overlaid with the settings file, if any.
func (o *options) loadSettings() (settingsDoc, error) {
	s := settingsDoc{
		Forecast:   tasks.DefaultForecastSettings(),
		Importance: tasks.DefaultImportanceSettings(),
	}
	if o.settingsFile == "" {
		return s, nil
	}
	data, err := os.ReadFile(o.settingsFile)
	if err != nil {
		return s, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse settings %s: %w", o.settingsFile, err)
	}
	return s, nil
}

func (o *options) readSeries(path string) (*timeseries.TimeSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ts, err := timeseries.ReadCSV(f, timeseries.CSVOptions{
		TimeColumn:   o.timeColumn,
		TargetColumn: o.targetColumn,
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ts, nil
}

func (o *options) logger(cmd *cobra.Command) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// writeTable writes t as CSV to path, or to the command output when path is empty.
func writeTable(cmd *cobra.Command, path string, t *timeseries.Table) error {
	if path == "" {
		return timeseries.WriteCSV(cmd.OutOrStdout(), t)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := timeseries.WriteCSV(f, t); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
