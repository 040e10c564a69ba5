package rawfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAppendAccumulatesWithinOneFile(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 0, "", 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	path1, off1, err := w.Append([]byte("hello"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if off1 != 0 {
		t.Fatalf("expected first append at offset 0, got %d", off1)
	}

	path2, off2, err := w.Append([]byte("world!"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if path2 != path1 {
		t.Fatalf("expected second append to land in the same file, got %s vs %s", path2, path1)
	}
	if off2 != uint64(len("hello")) {
		t.Fatalf("expected second append at offset %d, got %d", len("hello"), off2)
	}

	data, err := os.ReadFile(filepath.Join(dir, path1))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "helloworld!" {
		t.Fatalf("unexpected file contents: %q", data)
	}
}

func TestAppendRotatesPastMaxFileSize(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 8, "", 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	path1, _, err := w.Append([]byte("01234567"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	path2, off2, err := w.Append([]byte("89"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if path2 == path1 {
		t.Fatalf("expected rotation to a new file, got the same file %s twice", path1)
	}
	if off2 != 0 {
		t.Fatalf("expected the rotated file to start at offset 0, got %d", off2)
	}
}

func TestOpenResumesAtGivenOffset(t *testing.T) {
	dir := t.TempDir()
	w1, err := Open(dir, 0, "", 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	path, _, err := w1.Append([]byte("abc"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	w2, err := Open(dir, 0, path, 3)
	if err != nil {
		t.Fatalf("Open resume: %v", err)
	}
	defer w2.Close()

	_, off, err := w2.Append([]byte("def"))
	if err != nil {
		t.Fatalf("Append after resume: %v", err)
	}
	if off != 3 {
		t.Fatalf("expected resumed append at offset 3, got %d", off)
	}

	data, err := os.ReadFile(filepath.Join(dir, path))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "abcdef" {
		t.Fatalf("unexpected file contents after resume: %q", data)
	}
}

func TestTruncateDropsTailAndLaterFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 8, "", 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	path1, _, err := w.Append([]byte("01234567"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, _, err := w.Append([]byte("rotated-to-file-2")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := w.Truncate(path1, 4); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only %s to remain, got %v", path1, entries)
	}

	data, err := os.ReadFile(filepath.Join(dir, path1))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "0123" {
		t.Fatalf("expected truncated contents %q, got %q", "0123", data)
	}

	_, off, err := w.Append([]byte("X"))
	if err != nil {
		t.Fatalf("Append after truncate: %v", err)
	}
	if off != 4 {
		t.Fatalf("expected append after truncate at offset 4, got %d", off)
	}
}
