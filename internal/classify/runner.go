package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/labelloop/internal/dataset"
	"github.com/kalambet/labelloop/internal/label"
)

const (
	defaultWorkers     = 4
	defaultMaxAttempts = 3
	defaultBackoff     = 500 * time.Millisecond
)

// Result is the outcome for one record in a batch: either a prediction or
// the error that remained after retries.
type Result struct {
	Record     dataset.Record
	Prediction *Prediction
	Err        error
}

// UserPrompter renders the per-record user message sent alongside the
// system instruction.
type UserPrompter interface {
	User(text string) string
}

// Runner classifies a selected batch with bounded concurrency. Per-record
// failures are retried with exponential backoff and then recorded as missing
// predictions; they never abort the sibling records. Cancelling the context
// aborts the whole batch before any file is written, leaving the label store
// untouched.
type Runner struct {
	gateway     Gateway
	prompter    UserPrompter
	workers     int
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
}

// NewRunner creates a Runner. Zero values fall back to defaults
// (4 workers, 3 attempts, 500ms initial backoff). A nil prompter sends each
// record's text verbatim as the user message.
func NewRunner(gateway Gateway, prompter UserPrompter, workers, maxAttempts int, backoff time.Duration) *Runner {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	return &Runner{
		gateway:     gateway,
		prompter:    prompter,
		workers:     workers,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		logger:      slog.Default(),
	}
}

// Run classifies every record with the given system instruction and returns
// one Result per record, in the order they were selected. All records are
// resolved, to a prediction or an explicit failure, before Run returns.
func (r *Runner) Run(ctx context.Context, system string, records []dataset.Record) ([]Result, error) {
	results := make([]Result, len(records))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers) // Bound concurrency against the gateway.

	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			pred, err := r.classifyWithRetry(gCtx, system, r.userMessage(rec.TextContent))
			if err != nil {
				if gCtx.Err() != nil {
					// Cancellation aborts the batch; per-record bookkeeping
					// is pointless once nothing will be written.
					return gCtx.Err()
				}
				r.logger.Warn("classification failed after retries",
					"record_id", rec.ID, "error", err)
				results[i] = Result{Record: rec, Err: err}
				return nil
			}
			results[i] = Result{Record: rec, Prediction: &pred}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch aborted: %w", err)
	}
	return results, nil
}

// userMessage renders the user message for a record's text.
func (r *Runner) userMessage(text string) string {
	if r.prompter == nil {
		return text
	}
	return r.prompter.User(text)
}

// classifyWithRetry retries gateway failures with exponential backoff up to
// the configured attempt count. A schema-violating reply is retried once,
// since repeating the identical request rarely fixes it. Context
// cancellation is never retried.
func (r *Runner) classifyWithRetry(ctx context.Context, system, user string) (Prediction, error) {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(r.backoff) * math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return Prediction{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		pred, err := r.gateway.Classify(ctx, system, user)
		if err == nil {
			return pred, nil
		}
		if ctx.Err() != nil {
			return Prediction{}, ctx.Err()
		}
		var ge *GatewayError
		if !errors.As(err, &ge) {
			return Prediction{}, err
		}
		lastErr = err
		attempts = attempt + 1
		if ge.Kind == MalformedResponse && attempts >= 2 {
			break
		}
	}
	return Prediction{}, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

// BuildBatchFile assembles the human-editable batch document from a
// completed run. Entries keep the selection order. The batch model_ref is
// taken from the first successful prediction.
func BuildBatchFile(method string, results []Result, createdAt time.Time) label.BatchFile {
	b := label.BatchFile{
		BatchID:         uuid.New().String(),
		SelectionMethod: method,
		CreatedAt:       createdAt.UTC(),
	}
	for _, res := range results {
		entry := label.BatchEntry{
			RecordID:    res.Record.ID,
			TextContent: res.Record.TextContent,
		}
		if res.Prediction != nil {
			entry.Prediction = res.Prediction.Categories
			if b.ModelRef == "" {
				b.ModelRef = res.Prediction.Model
			}
		} else if res.Err != nil {
			entry.Error = res.Err.Error()
		}
		b.Entries = append(b.Entries, entry)
	}
	return b
}
