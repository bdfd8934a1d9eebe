package label

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"
)

// BatchFile is the human-editable unit of work produced by a labeling batch:
// the selected records together with their API predictions. A reviewer
// corrects the prediction values in place, then the file is merged back with
// manual provenance.
type BatchFile struct {
	BatchID         string       `json:"batch_id"`
	SelectionMethod string       `json:"selection_method"`
	ModelRef        string       `json:"model_ref,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	Entries         []BatchEntry `json:"entries"`
}

// BatchEntry is one record in a batch file. Prediction is nil when
// classification failed for the record after retries; Error carries the
// reason so the reviewer can fill the labels in by hand.
type BatchEntry struct {
	RecordID    string         `json:"record_id"`
	TextContent string         `json:"text_content"`
	Prediction  map[string]int `json:"api_prediction"`
	Error       string         `json:"error,omitempty"`
}

// BatchFileError marks a correction file that could not be used. The file is
// reported and skipped; the master set is left untouched for its entries.
type BatchFileError struct {
	Path   string
	Reason error
}

func (e *BatchFileError) Error() string {
	return fmt.Sprintf("batch file %s: %v", e.Path, e.Reason)
}

func (e *BatchFileError) Unwrap() error { return e.Reason }

// WriteBatchFile writes the batch as indented JSON so a human can edit the
// prediction values in place.
func WriteBatchFile(path string, b BatchFile) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling batch %s: %w", b.BatchID, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing batch file: %w", err)
	}
	return nil
}

// ReadBatchFile loads and structurally checks a batch file. Malformed files
// are returned as *BatchFileError.
func ReadBatchFile(path string) (BatchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return BatchFile{}, &BatchFileError{Path: path, Reason: err}
	}
	var b BatchFile
	if err := json.Unmarshal(data, &b); err != nil {
		return BatchFile{}, &BatchFileError{Path: path, Reason: fmt.Errorf("invalid JSON: %w", err)}
	}
	if b.CreatedAt.IsZero() {
		return BatchFile{}, &BatchFileError{Path: path, Reason: fmt.Errorf("missing created_at")}
	}
	for i, e := range b.Entries {
		if e.RecordID == "" {
			return BatchFile{}, &BatchFileError{Path: path, Reason: fmt.Errorf("entry %d: missing record_id", i)}
		}
	}
	return b, nil
}

// Assignments converts the reviewed entries into assignments with the given
// provenance. Entries without prediction values (failed and left unfilled)
// are skipped; their ids are returned separately so nothing is dropped
// silently.
func (b BatchFile) Assignments(source Source) (assignments []Assignment, skipped []string) {
	for _, e := range b.Entries {
		if e.Prediction == nil {
			skipped = append(skipped, e.RecordID)
			continue
		}
		assignments = append(assignments, Assignment{
			RecordID:    e.RecordID,
			TextContent: e.TextContent,
			Categories:  e.Prediction,
			Source:      source,
			ModelRef:    b.ModelRef,
			CreatedAt:   b.CreatedAt,
		})
	}
	return assignments, skipped
}

// SkippedFile describes a correction file that was rejected during a
// multi-batch merge.
type SkippedFile struct {
	Path   string
	Reason string
}

// MergeReport summarizes a multi-batch merge.
type MergeReport struct {
	MergedFiles    []string
	SkippedFiles   []SkippedFile
	SkippedRecords []string // entries with no labels to merge
	Stats          MergeStats
}

// MergeBatchFiles applies corrected batch files in strictly chronological
// order (oldest created_at first), so later human corrections take precedence
// over earlier ones for the same record. Every entry merges with manual
// provenance. A malformed file is reported in the result and skipped without
// touching the master set for its entries; it does not abort the remaining
// files.
func (s *Store) MergeBatchFiles(paths []string) (MergeReport, error) {
	var report MergeReport

	type loaded struct {
		path string
		file BatchFile
	}
	var files []loaded
	for _, path := range paths {
		b, err := ReadBatchFile(path)
		if err != nil {
			var bfe *BatchFileError
			if errors.As(err, &bfe) {
				report.SkippedFiles = append(report.SkippedFiles, SkippedFile{Path: path, Reason: bfe.Reason.Error()})
				continue
			}
			return report, err
		}
		files = append(files, loaded{path: path, file: b})
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].file.CreatedAt.Before(files[j].file.CreatedAt)
	})

	for _, f := range files {
		assignments, skipped := f.file.Assignments(SourceManual)
		report.SkippedRecords = append(report.SkippedRecords, skipped...)

		stats, err := s.Merge(assignments)
		if err != nil {
			// Validation failures (wrong category shape, bad values) make the
			// whole file unusable; atomicity of Merge guarantees none of its
			// entries landed.
			report.SkippedFiles = append(report.SkippedFiles, SkippedFile{Path: f.path, Reason: err.Error()})
			continue
		}

		report.MergedFiles = append(report.MergedFiles, f.path)
		report.Stats.Inserted += stats.Inserted
		report.Stats.Replaced += stats.Replaced
		report.Stats.Unchanged += stats.Unchanged
		report.Stats.Rejected += stats.Rejected
	}

	return report, nil
}
