package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// captureStdout redirects command output into a buffer for the duration of
// the test and resets the JSON output mode.
func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := stdout
	stdout = &buf
	t.Cleanup(func() {
		stdout = old
		jsonOut = false
	})
	return &buf
}

// isolateDirs points the XDG paths at temp directories so commands never
// touch the developer's real config or data.
func isolateDirs(t *testing.T) (configDir, dataDir string) {
	t.Helper()
	configDir = t.TempDir()
	dataDir = t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)
	t.Setenv("XDG_DATA_HOME", dataDir)
	return configDir, dataDir
}

func writeTestCategories(t *testing.T, configDir string) {
	t.Helper()
	dir := filepath.Join(configDir, "labelloop")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("creating config dir: %v", err)
	}
	doc := `[{"name": "catA", "description": "about topic A"}]`
	if err := os.WriteFile(filepath.Join(dir, "categories.json"), []byte(doc), 0o644); err != nil {
		t.Fatalf("writing categories: %v", err)
	}
}

func execute(args ...string) error {
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	return rootCmd.Execute()
}

func TestPrepareCommand_MissingArgs(t *testing.T) {
	isolateDirs(t)

	err := execute("prepare")
	if err == nil {
		t.Fatal("expected error for missing input")
	}
	if !strings.Contains(err.Error(), "--dir") {
		t.Errorf("error = %q, want it to mention --dir", err.Error())
	}
}

func TestPrepareThenStatus(t *testing.T) {
	isolateDirs(t)

	input := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(input, []byte("first line\nsecond line\nfirst line\n"), 0o644); err != nil {
		t.Fatalf("writing input: %v", err)
	}

	if err := execute("prepare", input); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	// Idempotent: a second run over the same input must not fail.
	if err := execute("prepare", input); err != nil {
		t.Fatalf("second prepare: %v", err)
	}
	if err := execute("status"); err != nil {
		t.Fatalf("status: %v", err)
	}
}

func TestBatchCommand_RequiresAPIKey(t *testing.T) {
	configDir, _ := isolateDirs(t)
	writeTestCategories(t, configDir)
	t.Setenv("LABELLOOP_GATEWAY_API_KEY", "")

	err := execute("batch")
	if err == nil {
		t.Fatal("expected error without an API key")
	}
	if !strings.Contains(err.Error(), "LABELLOOP_GATEWAY_API_KEY") {
		t.Errorf("error = %q, want it to name the env var", err.Error())
	}
}

func TestReconcileCommand_ArgValidation(t *testing.T) {
	configDir, _ := isolateDirs(t)
	writeTestCategories(t, configDir)

	edited := filepath.Join(t.TempDir(), "edited.json")
	if err := os.WriteFile(edited, []byte(`[]`), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	err := execute("reconcile", edited)
	if err == nil {
		t.Fatal("expected error for a single file without --snapshot")
	}
	if !strings.Contains(err.Error(), "--snapshot") {
		t.Errorf("error = %q, want it to mention --snapshot", err.Error())
	}
}

func TestMergeCommand_NoPendingBatches(t *testing.T) {
	configDir, _ := isolateDirs(t)
	writeTestCategories(t, configDir)

	if err := execute("merge"); err != nil {
		t.Fatalf("merge with nothing pending should be a no-op, got %v", err)
	}
}

func TestEvalCommand_UnknownMode(t *testing.T) {
	isolateDirs(t)

	err := execute("eval", "--mode", "full")
	if err == nil {
		t.Fatal("expected error for unknown mode")
	}
	if !strings.Contains(err.Error(), "full") {
		t.Errorf("error = %q, want it to quote the bad mode", err.Error())
	}
}

func TestStatusCommand_JSONOutput(t *testing.T) {
	isolateDirs(t)

	input := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(input, []byte("first line\nsecond line\n"), 0o644); err != nil {
		t.Fatalf("writing input: %v", err)
	}
	if err := execute("prepare", input); err != nil {
		t.Fatalf("prepare: %v", err)
	}

	buf := captureStdout(t)
	if err := execute("status", "--json"); err != nil {
		t.Fatalf("status --json: %v", err)
	}

	var report struct {
		Records        int `json:"records"`
		Labeled        int `json:"labeled"`
		PendingBatches int `json:"pending_batches"`
	}
	if err := json.Unmarshal(buf.Bytes(), &report); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if report.Records != 2 || report.Labeled != 0 || report.PendingBatches != 0 {
		t.Errorf("report = %+v, want 2 records, 0 labeled, 0 pending", report)
	}
}

func TestSnapshotsCommand_JSONOutput(t *testing.T) {
	isolateDirs(t)

	input := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(input, []byte("a line\n"), 0o644); err != nil {
		t.Fatalf("writing input: %v", err)
	}
	if err := execute("prepare", input); err != nil {
		t.Fatalf("prepare: %v", err)
	}

	buf := captureStdout(t)
	if err := execute("snapshots", "--json"); err != nil {
		t.Fatalf("snapshots --json: %v", err)
	}

	var snaps []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(buf.Bytes(), &snaps); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if len(snaps) != 0 {
		t.Errorf("expected an empty snapshot list before any merge, got %d", len(snaps))
	}
}

func TestConfigShowCommand_JSONOutput(t *testing.T) {
	configDir, _ := isolateDirs(t)
	writeTestCategories(t, configDir)

	buf := captureStdout(t)
	if err := execute("config", "show", "--json"); err != nil {
		t.Fatalf("config show --json: %v", err)
	}

	var values map[string]string
	if err := json.Unmarshal(buf.Bytes(), &values); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if _, ok := values["gateway.base_url"]; !ok {
		t.Errorf("config JSON missing gateway.base_url: %v", values)
	}
}

func TestColorize(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if result := colorize(colorGreen, "hello"); result != "hello" {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}

	noColor = false
	if result := colorize(colorGreen, "hello"); !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}
