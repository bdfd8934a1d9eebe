// Package tuning drives supervised fine-tuning runs against an OpenAI-style
// API: uploading the exported JSONL training file, creating the job, and
// polling it to completion.
package tuning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const defaultTimeout = 120 * time.Second

// Terminal job statuses as reported by the API.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Hyperparameters are passed through to the fine-tuning job verbatim; zero
// values are omitted so the API applies its own defaults.
type Hyperparameters struct {
	Epochs                 int     `json:"n_epochs,omitempty"`
	BatchSize              int     `json:"batch_size,omitempty"`
	LearningRateMultiplier float64 `json:"learning_rate_multiplier,omitempty"`
}

// JobRequest describes a fine-tuning job to create.
type JobRequest struct {
	TrainingFileID  string          `json:"training_file"`
	Model           string          `json:"model"`
	Suffix          string          `json:"suffix,omitempty"`
	Hyperparameters Hyperparameters `json:"hyperparameters,omitzero"`
}

// Job is the API's view of a fine-tuning run.
type Job struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Model          string `json:"model"`
	FineTunedModel string `json:"fine_tuned_model"`
	Error          struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Terminal reports whether the job has reached a final status.
func (j Job) Terminal() bool {
	switch j.Status {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Client talks to the fine-tuning endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Client against the given API base URL.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// UploadFile uploads a training file with purpose fine-tune and returns the
// file id to reference from a job request.
func (c *Client) UploadFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening training file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("purpose", "fine-tune"); err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &body)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var uploaded struct {
		ID string `json:"id"`
	}
	if err := c.do(req, &uploaded); err != nil {
		return "", err
	}
	if uploaded.ID == "" {
		return "", fmt.Errorf("upload response missing file id")
	}
	return uploaded.ID, nil
}

// CreateJob starts a fine-tuning job.
func (c *Client) CreateJob(ctx context.Context, jr JobRequest) (Job, error) {
	payload, err := json.Marshal(jr)
	if err != nil {
		return Job{}, fmt.Errorf("encoding job request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/fine_tuning/jobs", bytes.NewReader(payload))
	if err != nil {
		return Job{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var job Job
	if err := c.do(req, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// GetJob fetches the current state of a job.
func (c *Client) GetJob(ctx context.Context, id string) (Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/fine_tuning/jobs/"+id, nil)
	if err != nil {
		return Job{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var job Job
	if err := c.do(req, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Await polls the job every pollInterval until it reaches a terminal status
// or ctx is cancelled. A failed or cancelled job is returned alongside an
// error describing the outcome.
func (c *Client) Await(ctx context.Context, id string, pollInterval time.Duration) (Job, error) {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return Job{}, err
		}
		if job.Terminal() {
			if job.Status != StatusSucceeded {
				msg := job.Error.Message
				if msg == "" {
					msg = "no error detail reported"
				}
				return job, fmt.Errorf("fine-tuning job %s %s: %s", id, job.Status, msg)
			}
			return job, nil
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%s returned status %d: %s", req.URL.Path, resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", req.URL.Path, err)
	}
	return nil
}
