// Package identity derives stable, content-based record identifiers.
//
// Two texts that differ only in surrounding whitespace, internal whitespace
// runs, or unicode representation (e.g. composed vs decomposed accents) map
// to the same identifier, on every machine and across restarts. Everything
// downstream (deduplication, label merging, batch selection) keys off
// these identifiers.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize returns the canonical form of text: NFKC-normalized, with
// leading/trailing whitespace removed and internal whitespace runs collapsed
// to single spaces.
func Normalize(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	return norm.NFKC.String(collapsed)
}

// Identify returns the record identifier for text: the lowercase hex SHA-256
// digest of its normalized form. Pure and deterministic.
func Identify(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}

// CollisionError reports two distinct normalized texts mapping to the same
// identifier. This is an integrity failure: the operation that produced it
// must abort rather than silently merge unrelated records.
type CollisionError struct {
	ID       string
	Existing string
	Incoming string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("identity collision on %s: %q and %q produced the same id", e.ID, e.Existing, e.Incoming)
}

// Registry tracks which normalized text each identifier was derived from,
// so that collisions are detected at the point ids are minted.
type Registry struct {
	seen map[string]string // id -> normalized text
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{seen: make(map[string]string)}
}

// Add records the id for the given text and returns its normalized form.
// Registering the same text twice is a no-op; registering a different
// normalized text under an existing id returns a *CollisionError.
func (r *Registry) Add(text string) (id, normalized string, err error) {
	normalized = Normalize(text)
	id = Identify(text)
	if prev, ok := r.seen[id]; ok {
		if prev != normalized {
			return "", "", &CollisionError{ID: id, Existing: prev, Incoming: normalized}
		}
		return id, normalized, nil
	}
	r.seen[id] = normalized
	return id, normalized, nil
}
