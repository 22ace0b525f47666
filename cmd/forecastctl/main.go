// Command forecastctl fits forecasting predictors on CSV files and inspects
// the saved predictors from the command line.
//
//	forecastctl forecast --input load.csv --model-dir ./model > forecast.csv
//	forecastctl leaderboard --model-dir ./model --test holdout.csv
//	forecastctl importance --model-dir ./model --chart importance.png
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
