package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture %s: %v", name, err)
	}
	return path
}

func TestLoadFilePlainText(t *testing.T) {
	path := writeFixture(t, t.TempDir(), "notes.txt", "first line\n\n  \nsecond line\n")
	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	want := []string{"first line", "second line"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestLoadFileMarkdown(t *testing.T) {
	path := writeFixture(t, t.TempDir(), "doc.md", "# Title\n\nsome paragraph\n")
	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 occurrences, got %v", got)
	}
}

func TestLoadFileHTML(t *testing.T) {
	doc := `<html><head><style>p { color: red }</style></head><body>
<h1>Heading</h1>
<p>First <b>paragraph</b>   with   markup.</p>
<script>var ignored = 1;</script>
<ul><li>item one</li><li>item two</li></ul>
</body></html>`
	path := writeFixture(t, t.TempDir(), "page.html", doc)

	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	want := []string{"Heading", "First paragraph with markup.", "item one", "item two"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestLoadFileUnsupportedExtension(t *testing.T) {
	path := writeFixture(t, t.TempDir(), "data.csv", "a,b,c\n")
	_, err := LoadFile(path)
	var unsupported *UnsupportedTypeError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedTypeError, got %v", err)
	}
	if unsupported.Ext != ".csv" {
		t.Errorf("Ext = %q, want .csv", unsupported.Ext)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadFileBrokenPDF(t *testing.T) {
	path := writeFixture(t, t.TempDir(), "broken.pdf", "not a pdf at all")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for invalid pdf")
	}
}

func TestLoadDirStableOrder(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "b.txt", "from b\n")
	writeFixture(t, dir, "a.txt", "from a\n")
	writeFixture(t, dir, "skip.csv", "ignored\n")

	got, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	want := []string{"from a", "from b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
