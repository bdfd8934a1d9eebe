// Package reconcile diffs a human-edited export against its source snapshot
// and merges approved changes back into the master label set.
package reconcile

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/kalambet/labelloop/internal/label"
)

// Entry is one record as it appears in a review document: its identity and
// category values.
type Entry struct {
	RecordID    string         `json:"id"`
	TextContent string         `json:"text_content"`
	Categories  map[string]int `json:"categories"`
}

// ChangeKind classifies one detected difference.
type ChangeKind string

const (
	Modified ChangeKind = "modified"
	Added    ChangeKind = "added"
	Removed  ChangeKind = "removed"
)

// Change is one detected difference between the original and edited
// documents. Before is nil for added entries, After is nil for removed ones.
type Change struct {
	RecordID string         `json:"record_id"`
	Kind     ChangeKind     `json:"kind"`
	Before   map[string]int `json:"before,omitempty"`
	After    map[string]int `json:"after,omitempty"`
}

// Report is the ordered sequence of all detected diffs, stable by record id.
type Report struct {
	Changes []Change `json:"changes"`
}

// Of returns the changes of one kind, preserving order.
func (r Report) Of(kind ChangeKind) []Change {
	var out []Change
	for _, c := range r.Changes {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// SchemaMismatchError reports an entry whose category shape does not match
// the configured enumeration; no merge is performed when it occurs.
type SchemaMismatchError struct {
	RecordID string
	Detail   string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("reconcile schema mismatch on %s: %s", e.RecordID, e.Detail)
}

// Diff compares two review documents keyed by record id. Every entry in
// either document must cover exactly the configured categories with values
// in {0,1}; otherwise a *SchemaMismatchError is returned and no report is
// produced.
func Diff(original, edited []Entry, categories []string) (Report, error) {
	origByID, err := index(original, categories)
	if err != nil {
		return Report{}, err
	}
	editByID, err := index(edited, categories)
	if err != nil {
		return Report{}, err
	}

	idSet := make(map[string]struct{}, len(origByID)+len(editByID))
	for id := range origByID {
		idSet[id] = struct{}{}
	}
	for id := range editByID {
		idSet[id] = struct{}{}
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var report Report
	for _, id := range ids {
		orig, inOrig := origByID[id]
		edit, inEdit := editByID[id]
		switch {
		case inOrig && inEdit:
			if !sameValues(orig.Categories, edit.Categories) {
				report.Changes = append(report.Changes, Change{
					RecordID: id, Kind: Modified,
					Before: orig.Categories, After: edit.Categories,
				})
			}
		case inEdit:
			report.Changes = append(report.Changes, Change{
				RecordID: id, Kind: Added, After: edit.Categories,
			})
		default:
			report.Changes = append(report.Changes, Change{
				RecordID: id, Kind: Removed, Before: orig.Categories,
			})
		}
	}
	return report, nil
}

// Integrate converts every modified and added change into a manual-source
// assignment and merges it. Removed entries are reported only: dropping a
// record from a review sheet never deletes its label.
func Integrate(report Report, edited []Entry, store *label.Store) (label.MergeStats, error) {
	editByID := make(map[string]Entry, len(edited))
	for _, e := range edited {
		editByID[e.RecordID] = e
	}

	var corrections []label.Assignment
	for _, c := range report.Changes {
		if c.Kind == Removed {
			continue
		}
		entry := editByID[c.RecordID]
		corrections = append(corrections, label.Assignment{
			RecordID:    c.RecordID,
			TextContent: entry.TextContent,
			Categories:  c.After,
			Source:      label.SourceManual,
		})
	}
	return store.Merge(corrections)
}

func index(entries []Entry, categories []string) (map[string]Entry, error) {
	byID := make(map[string]Entry, len(entries))
	for _, e := range entries {
		if e.RecordID == "" {
			return nil, &SchemaMismatchError{RecordID: "(unknown)", Detail: "entry without record id"}
		}
		if err := checkShape(e.Categories, categories); err != nil {
			return nil, &SchemaMismatchError{RecordID: e.RecordID, Detail: err.Error()}
		}
		byID[e.RecordID] = e
	}
	return byID, nil
}

func checkShape(values map[string]int, categories []string) error {
	if len(values) != len(categories) {
		return fmt.Errorf("expected %d categories, got %d", len(categories), len(values))
	}
	for _, c := range categories {
		v, ok := values[c]
		if !ok {
			return fmt.Errorf("missing category %q", c)
		}
		if v != 0 && v != 1 {
			return fmt.Errorf("category %q has value %d, want 0 or 1", c, v)
		}
	}
	return nil
}

func sameValues(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// LoadEntries reads a review document from disk. Both supported shapes
// convert to entries: a batch file (entries with api_prediction values) or a
// flat array of entries.
func LoadEntries(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var flat []Entry
	if err := json.Unmarshal(data, &flat); err == nil {
		return flat, nil
	}

	var batch label.BatchFile
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("parsing %s: unrecognized document shape: %w", path, err)
	}
	entries := make([]Entry, 0, len(batch.Entries))
	for _, e := range batch.Entries {
		entries = append(entries, Entry{
			RecordID:    e.RecordID,
			TextContent: e.TextContent,
			Categories:  e.Prediction,
		})
	}
	return entries, nil
}
