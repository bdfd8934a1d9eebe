// Package selection picks the next set of unlabeled records to send for
// prediction.
package selection

import (
	"fmt"
	"math/rand"
	"sort"
	"unicode/utf8"

	"github.com/kalambet/labelloop/internal/dataset"
)

// Method names a batch selection strategy.
type Method string

const (
	Longest  Method = "longest"
	Shortest Method = "shortest"
	Medium   Method = "medium"
	Random   Method = "random"
)

// DefaultSeed is the fixed seed used for random selection when the caller
// does not supply one, keeping repeated runs reproducible.
const DefaultSeed int64 = 42

// ParseMethod validates a method name from user input. "length" is accepted
// as a legacy alias for "longest".
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case Longest, Shortest, Medium, Random:
		return Method(s), nil
	}
	if s == "length" {
		return Longest, nil
	}
	return "", fmt.Errorf("unknown selection method %q (want longest, shortest, medium, or random)", s)
}

// Select returns up to size unlabeled records from pool, chosen by method.
// Results are fully deterministic for identical input: length ties fall back
// to id ordering, and random selection draws from a seeded source over the
// id-sorted pool. If fewer than size unlabeled records remain, all of them
// are returned.
func Select(pool []dataset.Record, labeled map[string]struct{}, size int, method Method, seed int64) []dataset.Record {
	if size <= 0 {
		return nil
	}

	filtered := make([]dataset.Record, 0, len(pool))
	for _, r := range pool {
		if _, ok := labeled[r.ID]; ok {
			continue
		}
		filtered = append(filtered, r)
	}
	if len(filtered) == 0 {
		return nil
	}

	// Canonical base order; every strategy starts from here.
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].ID < filtered[j].ID })

	switch method {
	case Longest:
		sort.SliceStable(filtered, func(i, j int) bool {
			return textLen(filtered[i]) > textLen(filtered[j])
		})
	case Shortest:
		sort.SliceStable(filtered, func(i, j int) bool {
			return textLen(filtered[i]) < textLen(filtered[j])
		})
	case Medium:
		mean := meanLen(filtered)
		sort.SliceStable(filtered, func(i, j int) bool {
			return distance(textLen(filtered[i]), mean) < distance(textLen(filtered[j]), mean)
		})
	case Random:
		rng := rand.New(rand.NewSource(seed))
		perm := rng.Perm(len(filtered))
		shuffled := make([]dataset.Record, len(filtered))
		for i, p := range perm {
			shuffled[i] = filtered[p]
		}
		filtered = shuffled
	}

	if size > len(filtered) {
		size = len(filtered)
	}
	return filtered[:size]
}

func textLen(r dataset.Record) int {
	return utf8.RuneCountInString(r.TextContent)
}

func meanLen(records []dataset.Record) float64 {
	var total int
	for _, r := range records {
		total += textLen(r)
	}
	return float64(total) / float64(len(records))
}

func distance(n int, mean float64) float64 {
	d := float64(n) - mean
	if d < 0 {
		return -d
	}
	return d
}
