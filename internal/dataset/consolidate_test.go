package dataset

import (
	"sort"
	"testing"

	"github.com/kalambet/labelloop/internal/identity"
)

func TestConsolidateCountsDuplicates(t *testing.T) {
	occ := []string{
		"refund request",
		"  refund   request ", // same after normalization
		"refund request",
		"shipping delay",
	}

	records, stats, err := Consolidate(occ)
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	byText := make(map[string]Record)
	for _, r := range records {
		byText[r.TextContent] = r
	}
	if got := byText["refund request"].AppearanceCount; got != 3 {
		t.Errorf("appearance_count for duplicated text = %d, want 3", got)
	}
	if got := byText["shipping delay"].AppearanceCount; got != 1 {
		t.Errorf("appearance_count for single text = %d, want 1", got)
	}

	if stats.TotalValid != 4 || stats.Unique != 2 || stats.Repeated != 1 || stats.Single != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestConsolidateDropsEmptyOccurrences(t *testing.T) {
	records, stats, err := Consolidate([]string{"", "   ", "\t\n", "real text"})
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if len(records) != 1 || records[0].TextContent != "real text" {
		t.Fatalf("expected only the real record, got %+v", records)
	}
	if stats.TotalValid != 1 {
		t.Errorf("TotalValid = %d, want 1", stats.TotalValid)
	}
}

func TestConsolidateEmptyInput(t *testing.T) {
	records, stats, err := Consolidate(nil)
	if err != nil {
		t.Fatalf("Consolidate(nil): %v", err)
	}
	if len(records) != 0 || stats.Unique != 0 {
		t.Errorf("expected empty result, got %v %+v", records, stats)
	}
}

func TestConsolidateDeterministicOrder(t *testing.T) {
	occ := []string{"charlie", "alpha", "bravo", "alpha"}

	records, _, err := Consolidate(occ)
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if !sort.SliceIsSorted(records, func(i, j int) bool { return records[i].ID < records[j].ID }) {
		t.Error("records not sorted by id")
	}

	// Same multiset in a different order must yield the same consolidated output.
	again, _, err := Consolidate([]string{"alpha", "bravo", "alpha", "charlie"})
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if len(again) != len(records) {
		t.Fatalf("length mismatch: %d vs %d", len(again), len(records))
	}
	for i := range records {
		if records[i] != again[i] {
			t.Errorf("record %d differs: %+v vs %+v", i, records[i], again[i])
		}
	}
}

func TestConsolidateRecordIDsMatchIdentity(t *testing.T) {
	records, _, err := Consolidate([]string{"  some text  "})
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if records[0].ID != identity.Identify("some text") {
		t.Errorf("record id %s does not match identity of normalized text", records[0].ID)
	}
}
