package tuning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func writeTrainingFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "train.jsonl")
	content := `{"messages":[{"role":"system","content":"s"},{"role":"user","content":"u"},{"role":"assistant","content":"a"}]}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing training file: %v", err)
	}
	return path
}

func TestUploadFile(t *testing.T) {
	var gotPurpose, gotName, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/files" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parsing multipart form: %v", err)
		}
		gotPurpose = r.FormValue("purpose")
		if fhs := r.MultipartForm.File["file"]; len(fhs) == 1 {
			gotName = fhs[0].Filename
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "file-123"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	id, err := c.UploadFile(context.Background(), writeTrainingFile(t))
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if id != "file-123" {
		t.Errorf("file id = %q, want file-123", id)
	}
	if gotPurpose != "fine-tune" {
		t.Errorf("purpose = %q, want fine-tune", gotPurpose)
	}
	if gotName != "train.jsonl" {
		t.Errorf("filename = %q, want train.jsonl", gotName)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestUploadFileServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	_, err := c.UploadFile(context.Background(), writeTrainingFile(t))
	if err == nil {
		t.Fatal("expected error for non-2xx response")
	}
	if !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("error should carry status and body excerpt: %v", err)
	}
}

func TestCreateJob(t *testing.T) {
	var gotReq JobRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/fine_tuning/jobs" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decoding job request: %v", err)
		}
		json.NewEncoder(w).Encode(Job{ID: "ftjob-1", Status: "queued", Model: "base-model"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	job, err := c.CreateJob(context.Background(), JobRequest{
		TrainingFileID:  "file-123",
		Model:           "base-model",
		Suffix:          "labelloop",
		Hyperparameters: Hyperparameters{Epochs: 3},
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.ID != "ftjob-1" || job.Status != "queued" {
		t.Fatalf("unexpected job: %+v", job)
	}
	if gotReq.TrainingFileID != "file-123" || gotReq.Hyperparameters.Epochs != 3 {
		t.Errorf("request not passed through: %+v", gotReq)
	}
}

func TestAwaitPollsToSuccess(t *testing.T) {
	var mu sync.Mutex
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fine_tuning/jobs/ftjob-1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		mu.Lock()
		polls++
		n := polls
		mu.Unlock()
		job := Job{ID: "ftjob-1", Status: "running"}
		if n >= 3 {
			job.Status = StatusSucceeded
			job.FineTunedModel = "base-model:ft-labelloop"
		}
		json.NewEncoder(w).Encode(job)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	job, err := c.Await(context.Background(), "ftjob-1", time.Millisecond)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if job.FineTunedModel != "base-model:ft-labelloop" {
		t.Errorf("FineTunedModel = %q", job.FineTunedModel)
	}
	mu.Lock()
	defer mu.Unlock()
	if polls < 3 {
		t.Errorf("expected at least 3 polls, got %d", polls)
	}
}

func TestAwaitReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		job := Job{ID: "ftjob-1", Status: StatusFailed}
		job.Error.Message = "training file malformed"
		json.NewEncoder(w).Encode(job)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	job, err := c.Await(context.Background(), "ftjob-1", time.Millisecond)
	if err == nil {
		t.Fatal("expected error for failed job")
	}
	if !strings.Contains(err.Error(), "training file malformed") {
		t.Errorf("error should carry failure detail: %v", err)
	}
	if job.Status != StatusFailed {
		t.Errorf("job status = %q, want failed", job.Status)
	}
}

func TestAwaitCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Job{ID: "ftjob-1", Status: "running"})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	c := NewClient(srv.URL, "secret")
	_, err := c.Await(ctx, "ftjob-1", time.Hour)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}
