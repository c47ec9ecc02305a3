package opendocument

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/toricodesthings/batch-summarizer/internal/extract"
)

func writeODP(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "talk.odp")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("mimetype")
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	_, _ = w.Write([]byte("application/vnd.oasis.opendocument.presentation"))
	if content != "" {
		w, err = zw.Create("content.xml")
		if err != nil {
			t.Fatalf("create entry: %v", err)
		}
		_, _ = w.Write([]byte(content))
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return path
}

const odpContent = `<?xml version="1.0" encoding="UTF-8"?>
<office:document-content xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0"
  xmlns:draw="urn:oasis:names:tc:opendocument:xmlns:drawing:1.0"
  xmlns:text="urn:oasis:names:tc:opendocument:xmlns:text:1.0">
<office:body><office:presentation>
<draw:page draw:name="one">
  <draw:frame><draw:text-box><text:h>Roadmap</text:h><text:p>Goals<text:s text:c="3"/>for Q3</text:p></draw:text-box></draw:frame>
  <draw:frame><draw:text-box><text:p>left<text:tab/>right<text:line-break/>below</text:p></draw:text-box></draw:frame>
</draw:page>
<draw:page draw:name="two">
  <draw:frame><draw:text-box><text:p><text:span>spanned</text:span> text</text:p><text:p/></draw:text-box></draw:frame>
</draw:page>
</office:presentation></office:body>
</office:document-content>`

func TestODPParagraphsAndFrames(t *testing.T) {
	got, err := New().Extract(context.Background(), writeODP(t, odpContent))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := "Roadmap\nGoals   for Q3\nleft\tright\nbelow\nspanned text"
	if got.Content != want {
		t.Fatalf("unexpected text\n got: %q\nwant: %q", got.Content, want)
	}
	if got.Pages != 3 {
		t.Fatalf("expected 3 frames, got %d", got.Pages)
	}
}

func TestODPWithoutFramesCountsOnePage(t *testing.T) {
	content := `<office:document-content xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0" xmlns:text="urn:oasis:names:tc:opendocument:xmlns:text:1.0"><text:p>only text</text:p></office:document-content>`
	got, err := New().Extract(context.Background(), writeODP(t, content))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got.Pages != 1 || got.Content != "only text" {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestODPMissingContent(t *testing.T) {
	_, err := New().Extract(context.Background(), writeODP(t, ""))
	if extract.KindOf(err) != extract.KindMalformed {
		t.Fatalf("expected malformed error, got %v", err)
	}
}

func TestODPRejectsArchiveWithTooManyEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bomb.odp")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("content.xml")
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	_, _ = w.Write([]byte(`<office:document-content/>`))
	for i := 0; i < maxEntries; i++ {
		if _, err := zw.Create(fmt.Sprintf("Pictures/%d.png", i)); err != nil {
			t.Fatalf("create entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, err = New().Extract(context.Background(), path)
	if extract.KindOf(err) != extract.KindMalformed {
		t.Fatalf("expected malformed error, got %v", err)
	}
}
