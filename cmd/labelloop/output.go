package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kalambet/labelloop/internal/storage"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// Command results go to stdout and progress messages to stderr, so piping
// the machine output never picks up diagnostics.
var stdout io.Writer = os.Stdout

// jsonOut switches the inspection commands (status, snapshots, config show)
// to machine-readable JSON on stdout.
var jsonOut bool

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// writeJSON emits v as indented JSON on stdout for scripting.
func writeJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// statusReport is the machine-readable shape of the status command.
type statusReport struct {
	Records        int           `json:"records"`
	Labeled        int           `json:"labeled"`
	ProgressPct    float64       `json:"progress_pct"`
	PendingBatches int           `json:"pending_batches"`
	LatestSnapshot *snapshotInfo `json:"latest_snapshot"`
}

// snapshotInfo is the machine-readable shape of one snapshot row.
type snapshotInfo struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	RecordCount int       `json:"record_count"`
}

func toSnapshotInfo(s storage.Snapshot) snapshotInfo {
	return snapshotInfo{ID: s.ID, CreatedAt: s.CreatedAt, RecordCount: s.RecordCount}
}

func printSnapshotRow(s storage.Snapshot) {
	fmt.Fprintf(stdout, "%s  %s  %d records\n",
		colorize(colorCyan, s.ID),
		s.CreatedAt.Format(time.RFC3339),
		s.RecordCount,
	)
}
