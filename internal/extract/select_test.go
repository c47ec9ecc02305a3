package extract

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSelectScansDirectorySorted(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.pdf", nil)
	writeFile(t, dir, "A.txt", nil)
	writeFile(t, dir, ".hidden.txt", nil)
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	docs, err := Select(Selection{InputDir: dir}, "unused")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[0].Stem != "A" || docs[0].Format != ".txt" || docs[1].Stem != "b" {
		t.Fatalf("unexpected order %+v", docs)
	}
}

func TestSelectUsesDefaultDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "x.md", nil)

	docs, err := Select(Selection{}, dir)
	if err != nil || len(docs) != 1 {
		t.Fatalf("expected one document from default dir, got %v %v", docs, err)
	}
}

func TestSelectMissingDirectoryAborts(t *testing.T) {
	if _, err := Select(Selection{InputDir: filepath.Join(t.TempDir(), "nope")}, ""); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}

func TestSelectExplicitFilesKeepMissing(t *testing.T) {
	docs, err := Select(Selection{Files: []string{"/does/not/exist.pdf", "Report.PDF"}}, "")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(docs) != 2 || docs[1].Format != ".pdf" || docs[1].Stem != "Report" {
		t.Fatalf("unexpected documents %+v", docs)
	}
}

func TestSelectRejectsBothSelectors(t *testing.T) {
	_, err := Select(Selection{Files: []string{"a.pdf"}, InputDir: "dir"}, "")
	if !errors.Is(err, ErrConflictingSelectors) {
		t.Fatalf("expected ErrConflictingSelectors, got %v", err)
	}
}

func TestNormalizeKeepsMarkdownSpacing(t *testing.T) {
	in := "# Title\r\n\r\n\r\n\r\n\r\ncode:    x = 1  \n\u00A0tab\u200B\n"
	if got := Normalize(in, false); got != "# Title\n\n\ncode:    x = 1\n tab" {
		t.Fatalf("unexpected normalized text %q", got)
	}
	if got := Normalize("  col1      col2\fnext", true); got != "col1 col2\nnext" {
		t.Fatalf("unexpected collapsed text %q", got)
	}
}
