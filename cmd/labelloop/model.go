package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/labelloop/internal/classify"
	"github.com/kalambet/labelloop/internal/config"
	"github.com/kalambet/labelloop/internal/evaluate"
	"github.com/kalambet/labelloop/internal/prompt"
	"github.com/kalambet/labelloop/internal/tuning"
)

// --- tune ---

var tuneCmd = &cobra.Command{
	Use:   "tune",
	Short: "Fine-tune a model on exported training data",
}

var tuneStartCmd = &cobra.Command{
	Use:   "start <training.jsonl>",
	Short: "Upload a training file and start a fine-tuning job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")
		poll, _ := cmd.Flags().GetDuration("poll")

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		client := tuning.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey)

		printStep("Uploading %s...", args[0])
		fileID, err := client.UploadFile(ctx, args[0])
		if err != nil {
			return err
		}

		job, err := client.CreateJob(ctx, tuning.JobRequest{
			TrainingFileID: fileID,
			Model:          cfg.Tuning.BaseModel,
			Suffix:         cfg.Tuning.Suffix,
			Hyperparameters: tuning.Hyperparameters{
				Epochs: cfg.Tuning.Epochs,
			},
		})
		if err != nil {
			return err
		}
		printSuccess("Created fine-tuning job %s (base model %s)", job.ID, job.Model)

		if !wait {
			printStep("Check on it with: labelloop tune status %s", job.ID)
			return nil
		}

		printStep("Waiting for job %s...", job.ID)
		job, err = client.Await(ctx, job.ID, poll)
		if err != nil {
			return err
		}
		printSuccess("Fine-tuned model ready: %s", job.FineTunedModel)
		printStep("Use it with: labelloop config set gateway.model %s", job.FineTunedModel)
		return nil
	},
}

var tuneStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the state of a fine-tuning job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		client := tuning.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey)
		job, err := client.GetJob(ctx, args[0])
		if err != nil {
			return err
		}

		printStatus("Job", "%s", job.ID)
		printStatus("Status", "%s", job.Status)
		if job.FineTunedModel != "" {
			printStatus("Model", "%s", job.FineTunedModel)
		}
		if job.Error.Message != "" {
			printError("%s", job.Error.Message)
		}
		return nil
	},
}

func init() {
	tuneStartCmd.Flags().Bool("wait", false, "block until the job finishes")
	tuneStartCmd.Flags().Duration("poll", 10*time.Second, "poll interval with --wait")
	tuneCmd.AddCommand(tuneStartCmd)
	tuneCmd.AddCommand(tuneStatusCmd)
}

// --- eval ---

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Score the model against the manually verified labels",
	Long: `Score the model against the manually verified labels.

Modes:
  baseline       definitions-only prompt, no examples
  fewshot        full example pool in the prompt
  leave-one-out  each record scored without itself in the prompt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		modeStr, _ := cmd.Flags().GetString("mode")
		mode, err := evaluate.ParseMode(modeStr)
		if err != nil {
			return err
		}
		workers, _ := cmd.Flags().GetInt("workers")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if workers <= 0 {
			workers = cfg.Classify.Workers
		}

		ctx, stop := signalContext()
		defer stop()

		db, store, err := openLabelStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		pool, err := store.ExamplePool()
		if err != nil {
			return err
		}
		pool = manualOnly(pool)
		if len(pool) == 0 {
			printWarning("No manually verified labels to evaluate against")
			return nil
		}

		gateway := classify.NewHTTPGateway(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Model, cfg.CategoryNames())
		builder := prompt.New(cfg.Categories, cfg.Batch.MaxExamples)
		evaluator := evaluate.New(gateway, builder, workers)

		printStep("Evaluating %d records (%s)...", len(pool), mode)
		report, err := evaluator.Run(ctx, mode, pool)
		if err != nil {
			return err
		}

		printStatus("Evaluated", "%d of %d", report.Evaluated, report.Total)
		if report.Failed > 0 {
			printWarning("%d records failed and were excluded from the scores", report.Failed)
		}
		printStatus("Exact match", "%.3f", report.ExactMatch)

		names := make([]string, 0, len(report.PerCategory))
		for name := range report.PerCategory {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			m := report.PerCategory[name]
			fmt.Printf("  %s  P=%.3f R=%.3f F1=%.3f\n", colorize(colorBold, name), m.Precision, m.Recall, m.F1)
		}
		return nil
	},
}

func init() {
	evalCmd.Flags().String("mode", "baseline", "evaluation mode: baseline, fewshot, leave-one-out")
	evalCmd.Flags().Int("workers", 0, "concurrent evaluation calls (default from config)")
}
