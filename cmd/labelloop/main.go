package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:     "labelloop",
	Short:   "Iterative text classification labeling with human correction",
	Version: version,
	Long: `labelloop builds a manually verified label set through short feedback
loops: consolidate raw text into unique records, classify small batches with
an LLM gateway, correct the predictions by hand, and merge the corrections
back as ground truth. The growing label set feeds few-shot prompts, training
exports, and evaluation runs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.AddCommand(prepareCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(tuneCmd)
	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(snapshotsCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
