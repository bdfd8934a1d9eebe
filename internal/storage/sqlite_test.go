package storage

import (
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_labels_seq", "idx_snapshots_created", "idx_batches_status"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestUpsertRecordsRefreshesCounts(t *testing.T) {
	s := openTestStore(t)

	recs := []Record{
		{ID: "r1", TextContent: "alpha", AppearanceCount: 1},
		{ID: "r2", TextContent: "bravo", AppearanceCount: 2},
	}
	if err := s.UpsertRecords(recs); err != nil {
		t.Fatalf("UpsertRecords: %v", err)
	}

	recs[0].AppearanceCount = 4
	if err := s.UpsertRecords(recs[:1]); err != nil {
		t.Fatalf("UpsertRecords again: %v", err)
	}

	all, err := s.ListRecords()
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}
	if all[0].ID != "r1" || all[0].AppearanceCount != 4 {
		t.Errorf("r1 not refreshed: %+v", all[0])
	}
}

func TestLabelSequenceOrdering(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UTC()
	write := func(id string) {
		t.Helper()
		err := s.UpsertLabels([]Label{{
			RecordID: id, TextContent: "text " + id,
			CategoriesJSON: `{"a":1}`, Source: "manual", CreatedAt: now,
		}})
		if err != nil {
			t.Fatalf("UpsertLabels(%s): %v", id, err)
		}
	}

	write("r1")
	write("r2")
	write("r1") // rewrite bumps r1 back to most recent

	labels, err := s.ListLabels()
	if err != nil {
		t.Fatalf("ListLabels: %v", err)
	}
	if len(labels) != 2 {
		t.Fatalf("expected 2 labels, got %d", len(labels))
	}
	if labels[0].RecordID != "r1" || labels[1].RecordID != "r2" {
		t.Errorf("recency order wrong: %s, %s", labels[0].RecordID, labels[1].RecordID)
	}
	if labels[0].Seq <= labels[1].Seq {
		t.Errorf("rewritten label should carry higher seq: %d vs %d", labels[0].Seq, labels[1].Seq)
	}
}

func TestGetLabelNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetLabel("missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSnapshotsAppendOnly(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	if err := s.UpsertLabels([]Label{
		{RecordID: "r1", TextContent: "one", CategoriesJSON: `{"a":1}`, Source: "manual", CreatedAt: now},
	}); err != nil {
		t.Fatalf("UpsertLabels: %v", err)
	}

	snap1, err := s.CreateSnapshot("s1", now)
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if snap1.RecordCount != 1 {
		t.Errorf("snapshot count = %d, want 1", snap1.RecordCount)
	}

	// Mutate the master set after the snapshot; the frozen copy must not move.
	if err := s.UpsertLabels([]Label{
		{RecordID: "r1", TextContent: "one", CategoriesJSON: `{"a":0}`, Source: "manual", CreatedAt: now},
		{RecordID: "r2", TextContent: "two", CategoriesJSON: `{"a":1}`, Source: "api", CreatedAt: now},
	}); err != nil {
		t.Fatalf("UpsertLabels: %v", err)
	}

	snap2, err := s.CreateSnapshot("s2", now.Add(time.Second))
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if snap2.RecordCount != 2 {
		t.Errorf("second snapshot count = %d, want 2", snap2.RecordCount)
	}

	frozen, err := s.SnapshotLabels("s1")
	if err != nil {
		t.Fatalf("SnapshotLabels(s1): %v", err)
	}
	if len(frozen) != 1 || frozen[0].CategoriesJSON != `{"a":1}` {
		t.Errorf("snapshot s1 changed after later writes: %+v", frozen)
	}

	index, err := s.ListSnapshots()
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(index) != 2 || index[0].ID != "s1" || index[1].ID != "s2" {
		t.Errorf("snapshot index wrong: %+v", index)
	}

	latest, err := s.LatestSnapshot()
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if latest.ID != "s2" {
		t.Errorf("latest snapshot = %s, want s2", latest.ID)
	}
}

func TestSnapshotLabelsUnknownID(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.SnapshotLabels("nope"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBatchRegistryLifecycle(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	b := Batch{
		ID: "b1", SelectionMethod: "longest", ModelRef: "model-x",
		Path: "/tmp/b1.json", CreatedAt: now,
	}
	if err := s.RegisterBatch(b); err != nil {
		t.Fatalf("RegisterBatch: %v", err)
	}

	got, err := s.GetBatch("b1")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got.Status != "pending" {
		t.Errorf("new batch status = %q, want pending", got.Status)
	}

	if err := s.MarkBatchMerged("b1"); err != nil {
		t.Fatalf("MarkBatchMerged: %v", err)
	}
	got, err = s.GetBatch("b1")
	if err != nil {
		t.Fatalf("GetBatch after merge: %v", err)
	}
	if got.Status != "merged" {
		t.Errorf("merged batch status = %q", got.Status)
	}

	if err := s.MarkBatchMerged("missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for unknown batch, got %v", err)
	}
}
