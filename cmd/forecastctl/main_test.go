package main

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/HatiCode/autoforecast/pkg/tasks"
)

// writeSeries writes n hourly rows with a daily cycle driven by a covariate.
func writeSeries(t *testing.T, dir string, n int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("timestamp,load,value\n")
	for i := range n {
		load := math.Sin(float64(i) * 0.5)
		value := 100 + 10*math.Sin(2*math.Pi*float64(i)/24) + 5*load
		fmt.Fprintf(&b, "%d,%g,%g\n", 1_700_000_000+i*3600, load, value)
	}
	path := filepath.Join(dir, "series.csv")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func readCSV(t *testing.T, s string) [][]string {
	t.Helper()
	records, err := csv.NewReader(strings.NewReader(s)).ReadAll()
	if err != nil {
		t.Fatalf("output is not CSV: %v\n%s", err, s)
	}
	return records
}

func TestForecastLeaderboardImportance(t *testing.T) {
	dir := t.TempDir()
	input := writeSeries(t, dir, 72)
	modelDir := filepath.Join(dir, "model")

	out, stderr, err := run(t, "forecast", "-i", input, "-m", modelDir, "--horizon", "4", "--preset", "fast_training")
	if err != nil {
		t.Fatalf("forecast error = %v\n%s", err, stderr)
	}
	records := readCSV(t, out)
	if len(records) != 5 {
		t.Fatalf("forecast has %d lines, want header + 4", len(records))
	}
	if !strings.Contains(stderr, "Best model:") {
		t.Errorf("stderr = %q", stderr)
	}

	out, _, err = run(t, "leaderboard", "-m", modelDir)
	if err != nil {
		t.Fatalf("leaderboard error = %v", err)
	}
	records = readCSV(t, out)
	if got := strings.Join(records[0], ","); got != "Score,Fit Time,Inference Time,Model" {
		t.Errorf("leaderboard header = %q", got)
	}
	if len(records) < 3 {
		t.Errorf("leaderboard has %d rows", len(records)-1)
	}

	if _, _, err := run(t, "leaderboard", "-m", modelDir, "--sort", "Accuracy"); !errors.Is(err, tasks.ErrUnknownColumn) {
		t.Errorf("unknown sort column error = %v", err)
	}

	chart := filepath.Join(dir, "importance.png")
	out, _, err = run(t, "importance", "-m", modelDir, "--iterations", "2", "--chart", chart, "--features", "load")
	if err != nil {
		t.Fatalf("importance error = %v", err)
	}
	records = readCSV(t, out)
	if len(records) != 2 || records[1][len(records[1])-1] != "load" {
		t.Errorf("importance output = %v", records)
	}
	png, err := os.ReadFile(chart)
	if err != nil || !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Errorf("chart not written: %v", err)
	}

	if _, _, err := run(t, "importance", "-m", modelDir, "--features", "missing"); err == nil {
		t.Error("importance with unknown features error = nil")
	}
}

func TestForecast_SettingsFile(t *testing.T) {
	dir := t.TempDir()
	input := writeSeries(t, dir, 48)
	settings := filepath.Join(dir, "settings.yaml")
	yaml := "forecast:\n  prediction_length: 3\n  preset: fast_training\n  time_limit: 20s\n"
	if err := os.WriteFile(settings, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	output := filepath.Join(dir, "forecast.csv")

	if _, stderr, err := run(t, "forecast", "-s", settings, "-i", input, "-m", filepath.Join(dir, "m"), "-o", output); err != nil {
		t.Fatalf("forecast error = %v\n%s", err, stderr)
	}
	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	if records := readCSV(t, string(data)); len(records) != 4 {
		t.Errorf("forecast has %d lines, want header + 3", len(records))
	}
}

func TestForecast_Errors(t *testing.T) {
	dir := t.TempDir()
	input := writeSeries(t, dir, 48)

	if _, _, err := run(t, "forecast"); err == nil {
		t.Error("missing --input error = nil")
	}
	if _, _, err := run(t, "forecast", "-i", input, "--target-column", "nope"); err == nil {
		t.Error("unknown target column error = nil")
	}
	if _, _, err := run(t, "forecast", "-i", input, "--horizon", "0", "-m", filepath.Join(dir, "m")); !errors.Is(err, tasks.ErrInvalidSettings) {
		t.Errorf("zero horizon error = %v", err)
	}
	if _, _, err := run(t, "leaderboard", "-m", filepath.Join(dir, "absent")); err == nil {
		t.Error("leaderboard without a saved predictor error = nil")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("forecast: [1, 2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := run(t, "forecast", "-s", bad, "-i", input); err == nil {
		t.Error("malformed settings error = nil")
	}
}
