package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrConflictingSelectors is returned when both an explicit file list and an
// input directory are given.
var ErrConflictingSelectors = errors.New("--files and --input-dir are mutually exclusive")

// Selection names the documents of a run: either explicit files or a
// directory. With neither set the default directory is scanned.
type Selection struct {
	Files    []string
	InputDir string
}

// Select resolves a selection to documents. Missing explicit files are kept
// and fail individually during extraction; only an unusable directory aborts.
func Select(sel Selection, defaultDir string) ([]SourceDocument, error) {
	if len(sel.Files) > 0 && strings.TrimSpace(sel.InputDir) != "" {
		return nil, ErrConflictingSelectors
	}

	if len(sel.Files) > 0 {
		docs := make([]SourceDocument, 0, len(sel.Files))
		for _, f := range sel.Files {
			if strings.TrimSpace(f) == "" {
				continue
			}
			docs = append(docs, NewSourceDocument(f))
		}
		return docs, nil
	}

	dir := strings.TrimSpace(sel.InputDir)
	if dir == "" {
		dir = defaultDir
	}
	return scanDir(dir)
}

func scanDir(dir string) ([]SourceDocument, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("input directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input directory: %s is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("input directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || !e.Type().IsRegular() {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	sort.Strings(paths)

	docs := make([]SourceDocument, 0, len(paths))
	for _, p := range paths {
		docs = append(docs, NewSourceDocument(p))
	}
	return docs, nil
}
