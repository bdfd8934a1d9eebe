// Package evaluate measures classification quality over the manually
// verified label set, treating the stored categories as ground truth.
package evaluate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/labelloop/internal/classify"
	"github.com/kalambet/labelloop/internal/label"
	"github.com/kalambet/labelloop/internal/prompt"
)

// Mode selects how the evaluation prompt is built for each record.
type Mode string

const (
	// ModeBaseline classifies with a definitions-only prompt.
	ModeBaseline Mode = "baseline"
	// ModeFewShot classifies with the full example pool in the prompt.
	ModeFewShot Mode = "fewshot"
	// ModeLeaveOneOut classifies each record with every example except
	// itself, so the answer is never visible in its own prompt.
	ModeLeaveOneOut Mode = "leave-one-out"
)

// ParseMode validates a mode name. "loo" is accepted as shorthand for
// leave-one-out.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeBaseline, ModeFewShot, ModeLeaveOneOut:
		return Mode(s), nil
	}
	if s == "loo" {
		return ModeLeaveOneOut, nil
	}
	return "", fmt.Errorf("unknown evaluation mode %q (want baseline, fewshot, or leave-one-out)", s)
}

// CategoryMetrics are the per-category counts and derived scores.
type CategoryMetrics struct {
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	FalseNegatives int     `json:"false_negatives"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
}

// Report summarizes one evaluation run.
type Report struct {
	Mode        Mode                       `json:"mode"`
	Total       int                        `json:"total"`
	Evaluated   int                        `json:"evaluated"`
	Failed      int                        `json:"failed"`
	ExactMatch  float64                    `json:"exact_match"`
	PerCategory map[string]CategoryMetrics `json:"per_category"`
}

// outcome pairs the stored truth with the model's answer for one record.
type outcome struct {
	want map[string]int
	got  map[string]int
}

// Evaluator runs classification over labeled records and scores the
// results.
type Evaluator struct {
	gateway classify.Gateway
	builder *prompt.Builder
	workers int
	logger  *slog.Logger
}

// New creates an Evaluator. workers <= 0 defaults to 4.
func New(gateway classify.Gateway, builder *prompt.Builder, workers int) *Evaluator {
	if workers <= 0 {
		workers = 4
	}
	return &Evaluator{
		gateway: gateway,
		builder: builder,
		workers: workers,
		logger:  slog.Default(),
	}
}

// Run classifies every assignment in pool under the given mode and scores
// the answers against the stored categories. pool must be ordered
// most-recent-first, as returned by the label store. Records whose
// classification fails after retries are counted but excluded from the
// scores; cancellation aborts the run.
func (e *Evaluator) Run(ctx context.Context, mode Mode, pool []label.Assignment) (Report, error) {
	results := make([]*outcome, len(pool))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, a := range pool {
		i, a := i, a
		g.Go(func() error {
			system := e.systemFor(mode, pool, i)
			pred, err := e.gateway.Classify(gCtx, system, e.builder.User(a.TextContent))
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				e.logger.Warn("evaluation call failed", "record_id", a.RecordID, "error", err)
				return nil
			}
			results[i] = &outcome{want: a.Categories, got: pred.Categories}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, fmt.Errorf("evaluation aborted: %w", err)
	}

	var outcomes []outcome
	for _, r := range results {
		if r != nil {
			outcomes = append(outcomes, *r)
		}
	}

	report := score(e.builder.Names(), outcomes)
	report.Mode = mode
	report.Total = len(pool)
	report.Failed = len(pool) - len(outcomes)
	return report, nil
}

// systemFor builds the per-record system prompt for the mode. Leave-one-out
// removes the evaluated record from the example pool before rendering.
func (e *Evaluator) systemFor(mode Mode, pool []label.Assignment, i int) string {
	switch mode {
	case ModeBaseline:
		baseline := prompt.New(e.builder.Categories, 0)
		return baseline.System(nil)
	case ModeLeaveOneOut:
		held := make([]label.Assignment, 0, len(pool)-1)
		held = append(held, pool[:i]...)
		held = append(held, pool[i+1:]...)
		return e.builder.System(held)
	default:
		return e.builder.System(pool)
	}
}

// score computes per-category precision, recall, and F1 plus exact-match
// accuracy over the evaluated outcomes.
func score(categories []string, outcomes []outcome) Report {
	sorted := make([]string, len(categories))
	copy(sorted, categories)
	sort.Strings(sorted)

	per := make(map[string]CategoryMetrics, len(sorted))
	exact := 0
	for _, o := range outcomes {
		match := true
		for _, c := range categories {
			if o.got[c] != o.want[c] {
				match = false
				break
			}
		}
		if match {
			exact++
		}
	}
	for _, c := range sorted {
		var m CategoryMetrics
		for _, o := range outcomes {
			switch {
			case o.got[c] == 1 && o.want[c] == 1:
				m.TruePositives++
			case o.got[c] == 1 && o.want[c] == 0:
				m.FalsePositives++
			case o.got[c] == 0 && o.want[c] == 1:
				m.FalseNegatives++
			}
		}
		if m.TruePositives+m.FalsePositives > 0 {
			m.Precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
		}
		if m.TruePositives+m.FalseNegatives > 0 {
			m.Recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		per[c] = m
	}

	report := Report{Evaluated: len(outcomes), PerCategory: per}
	if len(outcomes) > 0 {
		report.ExactMatch = float64(exact) / float64(len(outcomes))
	}
	return report
}
