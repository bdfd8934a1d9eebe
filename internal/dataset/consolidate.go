// Package dataset consolidates raw text occurrences into deduplicated records.
package dataset

import (
	"sort"

	"github.com/kalambet/labelloop/internal/identity"
)

// Record is a deduplicated unit of text content. ID is the content hash of
// the normalized text, AppearanceCount the number of source occurrences that
// collapsed into it. Records are immutable once created.
type Record struct {
	ID              string `json:"id"`
	TextContent     string `json:"text_content"`
	AppearanceCount int    `json:"appearance_count"`
}

// Stats summarizes a consolidation run.
type Stats struct {
	TotalValid int // occurrences that survived filtering
	Unique     int // distinct records
	Repeated   int // records with AppearanceCount > 1
	Single     int // records with AppearanceCount == 1
}

// Consolidate groups raw occurrences by content identity. Empty and
// whitespace-only occurrences are dropped. The returned records carry the
// normalized text and are sorted by ID so consolidation output is
// deterministic for a given input multiset.
//
// A collision (two distinct normalized texts producing the same id) aborts
// the whole run with a *identity.CollisionError.
func Consolidate(occurrences []string) ([]Record, Stats, error) {
	reg := identity.NewRegistry()
	counts := make(map[string]int)
	texts := make(map[string]string)
	var stats Stats

	for _, occ := range occurrences {
		id, normalized, err := reg.Add(occ)
		if err != nil {
			return nil, Stats{}, err
		}
		if normalized == "" {
			continue
		}
		stats.TotalValid++
		counts[id]++
		texts[id] = normalized
	}

	records := make([]Record, 0, len(counts))
	for id, n := range counts {
		records = append(records, Record{
			ID:              id,
			TextContent:     texts[id],
			AppearanceCount: n,
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	stats.Unique = len(records)
	for _, r := range records {
		if r.AppearanceCount > 1 {
			stats.Repeated++
		} else {
			stats.Single++
		}
	}
	return records, stats, nil
}
