package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Record is a consolidated text record as stored.
type Record struct {
	ID              string
	TextContent     string
	AppearanceCount int
	CreatedAt       time.Time
}

// Label is the authoritative assignment for one record. CategoriesJSON holds
// the category→{0,1} mapping as a JSON object; Seq is a store-wide insertion
// sequence used for recency ordering of the example pool.
type Label struct {
	RecordID       string
	TextContent    string
	CategoriesJSON string
	Source         string // "api" or "manual"
	ModelRef       string
	CreatedAt      time.Time
	Seq            int64
}

// Snapshot is one entry of the append-only master set index.
type Snapshot struct {
	ID          string
	CreatedAt   time.Time
	RecordCount int
}

// Batch is a registered batch file. Status is "pending" until the corrected
// file is merged, then "merged" (terminal).
type Batch struct {
	ID              string
	SelectionMethod string
	ModelRef        string
	Path            string
	Status          string
	CreatedAt       time.Time
}
