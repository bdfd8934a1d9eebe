// Package label maintains the master label set: the single authoritative
// assignment per record, built from API predictions and human corrections.
package label

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/labelloop/internal/storage"
)

// Source tags the provenance of an assignment.
type Source string

const (
	SourceAPI    Source = "api"
	SourceManual Source = "manual"
)

// Assignment is the category values assigned to one record, tagged with
// provenance and time.
type Assignment struct {
	RecordID    string         `json:"id"`
	TextContent string         `json:"text_content"`
	Categories  map[string]int `json:"categories"`
	Source      Source         `json:"source"`
	ModelRef    string         `json:"model_ref,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// MergeStats summarizes one Merge call.
type MergeStats struct {
	Inserted  int // record was unlabeled, assignment added
	Replaced  int // existing assignment overwritten
	Unchanged int // incoming assignment identical to current
	Rejected  int // api assignment refused because a manual one exists
}

// Store is the authoritative label store. All mutations are serialized: Merge
// and Persist hold an exclusive lock, so two correction batches can never
// interleave their writes.
type Store struct {
	mu         sync.Mutex
	db         *storage.Store
	categories []string
}

// NewStore wraps a storage.Store with merge semantics. categories is the
// closed, ordered category enumeration from configuration; every assignment
// must cover exactly this set.
func NewStore(db *storage.Store, categories []string) *Store {
	return &Store{db: db, categories: categories}
}

// Categories returns the configured category names in order.
func (s *Store) Categories() []string {
	return s.categories
}

// LabeledIDs returns the record ids currently present in the master set.
func (s *Store) LabeledIDs() (map[string]struct{}, error) {
	return s.db.LabeledIDs()
}

// Count returns the current master set cardinality.
func (s *Store) Count() (int, error) {
	return s.db.CountLabels()
}

// ExamplePool returns all current assignments, most recently added first.
func (s *Store) ExamplePool() ([]Assignment, error) {
	rows, err := s.db.ListLabels()
	if err != nil {
		return nil, fmt.Errorf("listing labels: %w", err)
	}
	pool := make([]Assignment, 0, len(rows))
	for _, row := range rows {
		a, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		pool = append(pool, a)
	}
	return pool, nil
}

// Merge applies a batch of corrections atomically. Per record:
//
//   - absent from the master set: insert;
//   - present with source=api: replace;
//   - present with source=manual: replace only if the correction is manual
//     as well; api predictions never downgrade a human decision.
//
// Merge is idempotent: re-applying a correction that already matches the
// current assignment writes nothing.
func (s *Store) Merge(corrections []Assignment) (MergeStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeLocked(corrections)
}

func (s *Store) mergeLocked(corrections []Assignment) (MergeStats, error) {
	var stats MergeStats

	// Current state for every touched record, including earlier corrections
	// from this same batch (later entries win within one batch).
	current := make(map[string]*Assignment)
	var writes []Assignment

	for i, c := range corrections {
		if err := s.validate(c); err != nil {
			return MergeStats{}, fmt.Errorf("correction %d (%s): %w", i, c.RecordID, err)
		}

		existing, ok := current[c.RecordID]
		if !ok {
			row, err := s.db.GetLabel(c.RecordID)
			switch {
			case errors.Is(err, storage.ErrNotFound):
				// unlabeled
			case err != nil:
				return MergeStats{}, fmt.Errorf("loading label %s: %w", c.RecordID, err)
			default:
				a, err := fromRow(row)
				if err != nil {
					return MergeStats{}, err
				}
				existing = &a
			}
		}

		switch {
		case existing == nil:
			stats.Inserted++
		case existing.Source == SourceManual && c.Source == SourceAPI:
			stats.Rejected++
			continue
		case sameAssignment(*existing, c):
			stats.Unchanged++
			continue
		default:
			stats.Replaced++
		}

		a := c
		current[c.RecordID] = &a
		writes = append(writes, c)
	}

	rows := make([]storage.Label, 0, len(writes))
	for _, w := range writes {
		row, err := toRow(w)
		if err != nil {
			return MergeStats{}, err
		}
		rows = append(rows, row)
	}
	if err := s.db.UpsertLabels(rows); err != nil {
		return MergeStats{}, fmt.Errorf("writing labels: %w", err)
	}
	return stats, nil
}

// Persist freezes the current master set as a new immutable snapshot and
// appends it to the snapshot index.
func (s *Store) Persist() (storage.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.CreateSnapshot(uuid.New().String(), time.Now().UTC())
}

// validate checks an assignment against the configured category enumeration.
func (s *Store) validate(a Assignment) error {
	if a.RecordID == "" {
		return fmt.Errorf("missing record id")
	}
	if a.Source != SourceAPI && a.Source != SourceManual {
		return fmt.Errorf("invalid source %q", a.Source)
	}
	if len(a.Categories) != len(s.categories) {
		return fmt.Errorf("expected %d categories, got %d", len(s.categories), len(a.Categories))
	}
	for _, name := range s.categories {
		v, ok := a.Categories[name]
		if !ok {
			return fmt.Errorf("missing category %q", name)
		}
		if v != 0 && v != 1 {
			return fmt.Errorf("category %q has value %d, want 0 or 1", name, v)
		}
	}
	return nil
}

func sameAssignment(a, b Assignment) bool {
	if a.Source != b.Source || a.ModelRef != b.ModelRef || len(a.Categories) != len(b.Categories) {
		return false
	}
	for k, v := range a.Categories {
		if b.Categories[k] != v {
			return false
		}
	}
	return true
}

func toRow(a Assignment) (storage.Label, error) {
	cats, err := json.Marshal(a.Categories)
	if err != nil {
		return storage.Label{}, fmt.Errorf("marshalling categories for %s: %w", a.RecordID, err)
	}
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return storage.Label{
		RecordID:       a.RecordID,
		TextContent:    a.TextContent,
		CategoriesJSON: string(cats),
		Source:         string(a.Source),
		ModelRef:       a.ModelRef,
		CreatedAt:      createdAt,
	}, nil
}

func fromRow(row storage.Label) (Assignment, error) {
	var cats map[string]int
	if err := json.Unmarshal([]byte(row.CategoriesJSON), &cats); err != nil {
		return Assignment{}, fmt.Errorf("parsing categories for %s: %w", row.RecordID, err)
	}
	return Assignment{
		RecordID:    row.RecordID,
		TextContent: row.TextContent,
		Categories:  cats,
		Source:      Source(row.Source),
		ModelRef:    row.ModelRef,
		CreatedAt:   row.CreatedAt,
	}, nil
}

// SnapshotAssignments returns the frozen assignments of one snapshot, ordered
// by record id.
func (s *Store) SnapshotAssignments(snapshotID string) ([]Assignment, error) {
	rows, err := s.db.SnapshotLabels(snapshotID)
	if err != nil {
		return nil, err
	}
	out := make([]Assignment, 0, len(rows))
	for _, row := range rows {
		a, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID < out[j].RecordID })
	return out, nil
}
