package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/labelloop/internal/classify"
	"github.com/kalambet/labelloop/internal/config"
	"github.com/kalambet/labelloop/internal/dataset"
	"github.com/kalambet/labelloop/internal/export"
	"github.com/kalambet/labelloop/internal/ingest"
	"github.com/kalambet/labelloop/internal/label"
	"github.com/kalambet/labelloop/internal/prompt"
	"github.com/kalambet/labelloop/internal/reconcile"
	"github.com/kalambet/labelloop/internal/selection"
	"github.com/kalambet/labelloop/internal/storage"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func openStore(cfg config.Config) (*storage.Store, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

func openLabelStore(cfg config.Config) (*storage.Store, *label.Store, error) {
	if len(cfg.Categories) == 0 {
		return nil, nil, fmt.Errorf("no category definitions found; create %s with a JSON array of {name, description} objects", cfg.Storage.CategoriesPath)
	}
	db, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return db, label.NewStore(db, cfg.CategoryNames()), nil
}

func manualOnly(pool []label.Assignment) []label.Assignment {
	var out []label.Assignment
	for _, a := range pool {
		if a.Source == label.SourceManual {
			out = append(out, a)
		}
	}
	return out
}

// --- prepare ---

var prepareCmd = &cobra.Command{
	Use:   "prepare [files...]",
	Short: "Consolidate raw documents into unique records",
	Long: `Consolidate raw documents into unique records.

Each document is split into text occurrences, normalized, and deduplicated
by content identity. Repeated runs over the same inputs are idempotent.

Examples:
  labelloop prepare notes.txt report.pdf
  labelloop prepare --dir ./corpus`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		if len(args) == 0 && dir == "" {
			return fmt.Errorf("nothing to prepare: pass file paths or --dir")
		}

		cfg, err := config.LoadOffline()
		if err != nil {
			return err
		}

		var occurrences []string
		for _, path := range args {
			texts, err := ingest.LoadFile(path)
			if err != nil {
				return err
			}
			occurrences = append(occurrences, texts...)
		}
		if dir != "" {
			texts, err := ingest.LoadDir(dir)
			if err != nil {
				return err
			}
			occurrences = append(occurrences, texts...)
		}

		records, stats, err := dataset.Consolidate(occurrences)
		if err != nil {
			return err
		}

		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		rows := make([]storage.Record, len(records))
		for i, r := range records {
			rows[i] = storage.Record{
				ID:              r.ID,
				TextContent:     r.TextContent,
				AppearanceCount: r.AppearanceCount,
			}
		}
		if err := db.UpsertRecords(rows); err != nil {
			return err
		}

		printSuccess("Prepared %d unique records", stats.Unique)
		printStatus("Occurrences", "%d", stats.TotalValid)
		printStatus("Repeated", "%d", stats.Repeated)
		printStatus("Single", "%d", stats.Single)
		return nil
	},
}

func init() {
	prepareCmd.Flags().String("dir", "", "directory to load recursively")
}

// --- batch ---

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Select and classify a batch of unlabeled records",
	Long: `Select and classify a batch of unlabeled records.

The selected records are sent to the gateway with the current few-shot
prompt and written to an editable batch file. Review the api_prediction
values, correct them, then run "labelloop merge".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		size, _ := cmd.Flags().GetInt("size")
		if size <= 0 {
			size = cfg.Batch.Size
		}
		methodStr, _ := cmd.Flags().GetString("method")
		if methodStr == "" {
			methodStr = cfg.Batch.Method
		}
		method, err := selection.ParseMethod(methodStr)
		if err != nil {
			return err
		}
		seed := cfg.Batch.Seed
		if cmd.Flags().Changed("seed") {
			seed, _ = cmd.Flags().GetInt64("seed")
		}
		outDir, _ := cmd.Flags().GetString("output")
		if outDir == "" {
			outDir = cfg.Storage.BatchDir
		}
		maxExamples := cfg.Batch.MaxExamples
		if cmd.Flags().Changed("max-examples") {
			maxExamples, _ = cmd.Flags().GetInt("max-examples")
		}

		ctx, stop := signalContext()
		defer stop()

		db, store, err := openLabelStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		rows, err := db.ListRecords()
		if err != nil {
			return err
		}
		pool := make([]dataset.Record, len(rows))
		for i, r := range rows {
			pool[i] = dataset.Record{ID: r.ID, TextContent: r.TextContent, AppearanceCount: r.AppearanceCount}
		}

		labeled, err := store.LabeledIDs()
		if err != nil {
			return err
		}

		selected := selection.Select(pool, labeled, size, method, seed)
		if len(selected) == 0 {
			printWarning("No unlabeled records to select")
			return nil
		}
		printStep("Classifying %d records (%s selection)...", len(selected), method)

		examples, err := store.ExamplePool()
		if err != nil {
			return err
		}
		builder := prompt.New(cfg.Categories, maxExamples)
		system := builder.System(examples)

		gateway := classify.NewHTTPGateway(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Model, cfg.CategoryNames())
		runner := classify.NewRunner(gateway, builder, cfg.Classify.Workers, cfg.Classify.MaxAttempts,
			time.Duration(cfg.Classify.BackoffMS)*time.Millisecond)

		results, err := runner.Run(ctx, system, selected)
		if err != nil {
			return err
		}

		bf := classify.BuildBatchFile(string(method), results, time.Now().UTC())
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return fmt.Errorf("creating batch dir: %w", err)
		}
		path := filepath.Join(outDir, bf.BatchID+".json")
		if err := label.WriteBatchFile(path, bf); err != nil {
			return err
		}

		if err := db.RegisterBatch(storage.Batch{
			ID:              bf.BatchID,
			SelectionMethod: bf.SelectionMethod,
			ModelRef:        bf.ModelRef,
			Path:            path,
			Status:          "pending",
			CreatedAt:       bf.CreatedAt,
		}); err != nil {
			return err
		}

		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
		}
		printSuccess("Batch %s written to %s", bf.BatchID, path)
		if failed > 0 {
			printWarning("%d records failed classification; fill their labels in by hand", failed)
		}
		printStep("Review the file, then run: labelloop merge %s", path)
		return nil
	},
}

func init() {
	batchCmd.Flags().Int("size", 0, "number of records to select (default from config)")
	batchCmd.Flags().String("method", "", "selection method: longest, shortest, medium, random")
	batchCmd.Flags().Int64("seed", 0, "seed for random selection")
	batchCmd.Flags().Int("max-examples", 0, "few-shot examples in the prompt (default from config)")
	batchCmd.Flags().String("output", "", "directory for the batch file")
}

// --- merge ---

var mergeCmd = &cobra.Command{
	Use:   "merge [files...]",
	Short: "Merge corrected batch files into the master label set",
	Long: `Merge corrected batch files into the master label set.

Without arguments every pending registered batch file is merged. Files merge
in chronological order, all entries with manual provenance. Afterwards a
snapshot of the master set is persisted and the training JSONL in the data
directory is regenerated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOffline()
		if err != nil {
			return err
		}

		db, store, err := openLabelStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		paths := args
		if len(paths) == 0 {
			batches, err := db.ListBatches()
			if err != nil {
				return err
			}
			for _, b := range batches {
				if b.Status == "pending" {
					paths = append(paths, b.Path)
				}
			}
			if len(paths) == 0 {
				printWarning("No pending batches to merge")
				return nil
			}
		}

		report, err := store.MergeBatchFiles(paths)
		if err != nil {
			return err
		}

		for _, path := range report.MergedFiles {
			bf, err := label.ReadBatchFile(path)
			if err != nil {
				continue
			}
			if err := db.MarkBatchMerged(bf.BatchID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
		}

		for _, sf := range report.SkippedFiles {
			printError("Skipped %s: %s", sf.Path, sf.Reason)
		}
		if len(report.SkippedRecords) > 0 {
			printWarning("%d entries had no labels and were skipped", len(report.SkippedRecords))
		}

		if len(report.MergedFiles) == 0 {
			printWarning("Nothing merged")
			return nil
		}

		snap, err := store.Persist()
		if err != nil {
			return err
		}

		printSuccess("Merged %d files", len(report.MergedFiles))
		printStatus("Inserted", "%d", report.Stats.Inserted)
		printStatus("Replaced", "%d", report.Stats.Replaced)
		printStatus("Unchanged", "%d", report.Stats.Unchanged)
		printStatus("Rejected", "%d", report.Stats.Rejected)
		printStatus("Snapshot", "%s (%d records)", snap.ID, snap.RecordCount)

		pool, err := store.ExamplePool()
		if err != nil {
			return err
		}
		if pool = manualOnly(pool); len(pool) > 0 {
			trainingPath := filepath.Join(cfg.Storage.DataDir, "training.jsonl")
			n, err := export.NewWriter(cfg.Categories).WriteFile(trainingPath, pool)
			if err != nil {
				return err
			}
			printStatus("Training data", "%d examples in %s", n, trainingPath)
		}
		return nil
	},
}

// --- reconcile ---

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <original> <edited>",
	Short: "Diff an edited label document and optionally merge the changes",
	Long: `Diff an edited label document against its original and optionally
merge the changes back with manual provenance.

With --snapshot the original side is read from a stored snapshot instead of
a file, and only the edited document is passed. Entries dropped from the
edited document are reported but never deleted from the master set.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		integrate, _ := cmd.Flags().GetBool("integrate")
		snapshotID, _ := cmd.Flags().GetString("snapshot")

		cfg, err := config.LoadOffline()
		if err != nil {
			return err
		}
		db, store, err := openLabelStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		var original []reconcile.Entry
		editedPath := args[len(args)-1]
		if snapshotID != "" {
			if len(args) != 1 {
				return fmt.Errorf("--snapshot replaces the original file; pass only the edited document")
			}
			assignments, err := store.SnapshotAssignments(snapshotID)
			if err != nil {
				return err
			}
			for _, a := range assignments {
				original = append(original, reconcile.Entry{
					RecordID:    a.RecordID,
					TextContent: a.TextContent,
					Categories:  a.Categories,
				})
			}
		} else {
			if len(args) != 2 {
				return fmt.Errorf("pass the original and the edited document, or use --snapshot")
			}
			original, err = reconcile.LoadEntries(args[0])
			if err != nil {
				return err
			}
		}

		edited, err := reconcile.LoadEntries(editedPath)
		if err != nil {
			return err
		}

		report, err := reconcile.Diff(original, edited, cfg.CategoryNames())
		if err != nil {
			return err
		}
		if len(report.Changes) == 0 {
			printSuccess("No changes detected")
			return nil
		}

		for _, c := range report.Changes {
			switch c.Kind {
			case reconcile.Modified:
				fmt.Printf("%s %s %v -> %v\n", colorize(colorYellow, "~"), c.RecordID, c.Before, c.After)
			case reconcile.Added:
				fmt.Printf("%s %s %v\n", colorize(colorGreen, "+"), c.RecordID, c.After)
			case reconcile.Removed:
				fmt.Printf("%s %s %v (kept in master set)\n", colorize(colorRed, "-"), c.RecordID, c.Before)
			}
		}

		if !integrate {
			printStep("Re-run with --integrate to merge these changes")
			return nil
		}

		stats, err := reconcile.Integrate(report, edited, store)
		if err != nil {
			return err
		}
		snap, err := store.Persist()
		if err != nil {
			return err
		}
		printSuccess("Integrated %d changes (inserted %d, replaced %d)",
			stats.Inserted+stats.Replaced, stats.Inserted, stats.Replaced)
		printStatus("Snapshot", "%s (%d records)", snap.ID, snap.RecordCount)
		return nil
	},
}

func init() {
	reconcileCmd.Flags().Bool("integrate", false, "merge detected changes with manual provenance")
	reconcileCmd.Flags().String("snapshot", "", "diff against a stored snapshot instead of a file")
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the label set as chat-format JSONL training data",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		includeAPI, _ := cmd.Flags().GetBool("include-api")

		cfg, err := config.LoadOffline()
		if err != nil {
			return err
		}
		db, store, err := openLabelStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		pool, err := store.ExamplePool()
		if err != nil {
			return err
		}
		if !includeAPI {
			pool = manualOnly(pool)
		}
		if len(pool) == 0 {
			printWarning("No labels to export")
			return nil
		}

		writer := export.NewWriter(cfg.Categories)
		n, err := writer.WriteFile(output, pool)
		if err != nil {
			return err
		}
		printSuccess("Exported %d training examples to %s", n, output)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("output", "training.jsonl", "output file path")
	exportCmd.Flags().Bool("include-api", false, "include uncorrected API labels")
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show labeling progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOffline()
		if err != nil {
			return err
		}
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		records, err := db.CountRecords()
		if err != nil {
			return err
		}
		labels, err := db.CountLabels()
		if err != nil {
			return err
		}

		batches, err := db.ListBatches()
		if err != nil {
			return err
		}
		pending := 0
		for _, b := range batches {
			if b.Status == "pending" {
				pending++
			}
		}

		var latest *snapshotInfo
		snap, err := db.LatestSnapshot()
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			return err
		default:
			info := toSnapshotInfo(snap)
			latest = &info
		}

		progress := 0.0
		if records > 0 {
			progress = 100 * float64(labels) / float64(records)
		}

		if jsonOut {
			return writeJSON(statusReport{
				Records:        records,
				Labeled:        labels,
				ProgressPct:    progress,
				PendingBatches: pending,
				LatestSnapshot: latest,
			})
		}

		printStatus("Records", "%d", records)
		printStatus("Labeled", "%d", labels)
		if records > 0 {
			printStatus("Progress", "%.1f%%", progress)
		}
		printStatus("Pending batches", "%d", pending)
		if latest == nil {
			printStatus("Latest snapshot", "none")
		} else {
			printStatus("Latest snapshot", "%s (%d records, %s)",
				latest.ID, latest.RecordCount, latest.CreatedAt.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&jsonOut, "json", false, "emit machine-readable JSON on stdout")
}

// --- snapshots ---

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List master set snapshots in chronological order",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOffline()
		if err != nil {
			return err
		}
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		snaps, err := db.ListSnapshots()
		if err != nil {
			return err
		}
		if jsonOut {
			infos := make([]snapshotInfo, len(snaps))
			for i, s := range snaps {
				infos[i] = toSnapshotInfo(s)
			}
			return writeJSON(infos)
		}
		if len(snaps) == 0 {
			fmt.Fprintln(stdout, "No snapshots yet.")
			return nil
		}
		for _, s := range snaps {
			printSnapshotRow(s)
		}
		return nil
	},
}

var snapshotsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a snapshot's labels as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOffline()
		if err != nil {
			return err
		}
		db, store, err := openLabelStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		assignments, err := store.SnapshotAssignments(args[0])
		if err != nil {
			return err
		}
		return writeJSON(assignments)
	},
}

func init() {
	snapshotsCmd.AddCommand(snapshotsShowCmd)
	snapshotsCmd.Flags().BoolVar(&jsonOut, "json", false, "emit machine-readable JSON on stdout")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOffline()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		if jsonOut {
			out := make(map[string]string, len(keys))
			for _, k := range keys {
				out[k.Key] = k.Value
			}
			return writeJSON(out)
		}
		for _, k := range keys {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configShowCmd.Flags().BoolVar(&jsonOut, "json", false, "emit machine-readable JSON on stdout")
}
