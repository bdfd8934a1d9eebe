// Package prompt assembles the instruction text sent to the classification
// gateway: category definitions plus a rotating set of few-shot examples
// drawn from the master label set.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/labelloop/internal/label"
)

// Category is one entry of the configured category enumeration.
type Category struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// maxExampleTextLen bounds how much of each example's text is quoted in the
// prompt, keeping the instruction size proportional to the example count.
const maxExampleTextLen = 100

// Builder renders system and user prompts for a fixed category set. Output
// depends only on the inputs: identical definitions, example pool, and
// MaxExamples always produce identical text.
type Builder struct {
	Categories  []Category
	MaxExamples int
}

// New creates a Builder. If maxExamples < 0 it is treated as 0
// (definitions-only prompts).
func New(categories []Category, maxExamples int) *Builder {
	if maxExamples < 0 {
		maxExamples = 0
	}
	return &Builder{Categories: categories, MaxExamples: maxExamples}
}

// Names returns the category names in configuration order.
func (b *Builder) Names() []string {
	names := make([]string, len(b.Categories))
	for i, c := range b.Categories {
		names[i] = c.Name
	}
	return names
}

// System builds the system instruction from the category definitions and up
// to MaxExamples entries of pool, which must be ordered most-recent-first
// (as returned by the label store). With an empty pool or MaxExamples of 0
// the prompt contains only the definitions, a valid cold-start instruction.
func (b *Builder) System(pool []label.Assignment) string {
	var sb strings.Builder
	sb.WriteString("You are a precise multi-label text classifier. ")
	sb.WriteString("For each category below, decide independently whether it applies to the given text. ")
	sb.WriteString("Answer with a JSON object mapping every category name to 0 or 1.\n\n")
	sb.WriteString("Categories:\n")
	for _, c := range b.Categories {
		fmt.Fprintf(&sb, "• %s: %s\n", c.Name, c.Description)
	}

	n := b.MaxExamples
	if n > len(pool) {
		n = len(pool)
	}
	if n > 0 {
		sb.WriteString("\nExamples:\n")
		for i, ex := range pool[:n] {
			fmt.Fprintf(&sb, "%d. Text: %s\n", i+1, truncate(ex.TextContent))
			fmt.Fprintf(&sb, "   Categories: %s\n\n", activeNames(b.Categories, ex.Categories))
		}
	}
	return sb.String()
}

// User renders the per-record request for classification.
func (b *Builder) User(text string) string {
	return fmt.Sprintf("Classify the following text.\n\nText: %s", text)
}

// UserWithKeys renders the per-record request with the expected JSON keys
// spelled out; used for training exports where the model must learn the
// exact response shape.
func (b *Builder) UserWithKeys(text string) string {
	keys, _ := json.Marshal(b.Names())
	return fmt.Sprintf("Classify the following text. Respond with a JSON object containing exactly these keys: %s\n\nText: %s", keys, text)
}

func truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= maxExampleTextLen {
		return text
	}
	return string(runes[:maxExampleTextLen]) + "..."
}

// activeNames lists the categories set to 1 in configuration order, or
// "none" when nothing applies.
func activeNames(categories []Category, values map[string]int) string {
	var active []string
	for _, c := range categories {
		if values[c.Name] == 1 {
			active = append(active, c.Name)
		}
	}
	if len(active) == 0 {
		return "none"
	}
	return strings.Join(active, ", ")
}
