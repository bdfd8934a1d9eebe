// Package classify talks to the remote classification gateway and runs
// labeling batches against it.
package classify

import (
	"context"
	"fmt"
)

// Prediction is one classification result: every configured category mapped
// to 0 or 1, plus the identifier of the model that produced it.
type Prediction struct {
	Categories map[string]int
	Model      string
}

// Gateway abstracts the remote classification service. The user argument is
// the fully rendered user message, not the raw record text.
type Gateway interface {
	Classify(ctx context.Context, system, user string) (Prediction, error)
}

// ErrorKind partitions gateway failures for retry and reporting decisions.
type ErrorKind string

const (
	// Timeout covers deadline expiry and network-level timeouts.
	Timeout ErrorKind = "timeout"
	// MalformedResponse marks a reply that violates the category schema.
	MalformedResponse ErrorKind = "malformed_response"
	// ServiceError covers non-2xx responses and transport failures.
	ServiceError ErrorKind = "service_error"
)

// GatewayError is the structured failure surfaced for a single
// classification call.
type GatewayError struct {
	Kind   ErrorKind
	Status int // HTTP status when relevant, else 0
	Err    error
}

func (e *GatewayError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("classification gateway: %s (HTTP %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("classification gateway: %s: %v", e.Kind, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }
