// Package export writes the master label set as chat-format JSONL training
// data for supervised fine-tuning.
package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/kalambet/labelloop/internal/label"
	"github.com/kalambet/labelloop/internal/prompt"
)

// Message is one chat turn of a training example.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Example is one JSONL line: the full conversation the model is trained to
// complete.
type Example struct {
	Messages []Message `json:"messages"`
}

// Writer renders training examples from labeled assignments. The system turn
// carries only the category definitions so the tuned model does not depend
// on few-shot context at inference time.
type Writer struct {
	builder *prompt.Builder
}

// NewWriter creates a Writer for the given category definitions.
func NewWriter(categories []prompt.Category) *Writer {
	return &Writer{builder: prompt.New(categories, 0)}
}

// Example renders the training example for one assignment. The assistant
// turn is the canonical JSON answer with keys in configuration order.
func (w *Writer) Example(a label.Assignment) (Example, error) {
	answer, err := canonicalAnswer(w.builder.Names(), a.Categories)
	if err != nil {
		return Example{}, fmt.Errorf("record %s: %w", a.RecordID, err)
	}
	return Example{
		Messages: []Message{
			{Role: "system", Content: w.builder.System(nil)},
			{Role: "user", Content: w.builder.UserWithKeys(a.TextContent)},
			{Role: "assistant", Content: answer},
		},
	}, nil
}

// WriteJSONL writes one training example per assignment, ordered by record
// id so repeated exports of the same label set are byte-identical.
func (w *Writer) WriteJSONL(out io.Writer, assignments []label.Assignment) (int, error) {
	sorted := make([]label.Assignment, len(assignments))
	copy(sorted, assignments)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RecordID < sorted[j].RecordID })

	bw := bufio.NewWriter(out)
	enc := json.NewEncoder(bw)
	for _, a := range sorted {
		ex, err := w.Example(a)
		if err != nil {
			return 0, err
		}
		if err := enc.Encode(ex); err != nil {
			return 0, fmt.Errorf("encoding example: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	return len(sorted), nil
}

// WriteFile writes the JSONL export to path, creating or truncating it.
func (w *Writer) WriteFile(path string, assignments []label.Assignment) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", path, err)
	}
	n, err := w.WriteJSONL(f, assignments)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// canonicalAnswer marshals the category values with keys in configuration
// order. Go maps marshal alphabetically, so the object is built by hand.
func canonicalAnswer(names []string, values map[string]int) (string, error) {
	var buf []byte
	buf = append(buf, '{')
	for i, name := range names {
		v, ok := values[name]
		if !ok {
			return "", fmt.Errorf("missing category %q", name)
		}
		if i > 0 {
			buf = append(buf, ", "...)
		}
		key, _ := json.Marshal(name)
		buf = append(buf, key...)
		buf = append(buf, fmt.Sprintf(": %d", v)...)
	}
	buf = append(buf, '}')
	return string(buf), nil
}
