package runstate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// TimestampLayout is the suffix format shared by every persisted file.
const TimestampLayout = "20060102_150405"

// ErrNotFound is returned when no file matches a lookup pattern.
var ErrNotFound = errors.New("no matching file")

// WriteError marks a failed write of a run artifact. It is always fatal.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string { return fmt.Sprintf("write %s: %v", e.Path, e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// Timestamp formats t (local time) with TimestampLayout.
func Timestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// CreateTimestamped creates dir/<prefix><ts><ext> exclusively. When a file
// with that name exists (two writes in the same second) a numeric suffix is
// appended: <prefix><ts>_1<ext>, <prefix><ts>_2<ext>, ...
func CreateTimestamped(dir, prefix, ext string, now time.Time) (*os.File, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", &WriteError{Path: dir, Err: err}
	}
	base := prefix + Timestamp(now)
	for i := 0; i < 1000; i++ {
		name := base
		if i > 0 {
			name += "_" + strconv.Itoa(i)
		}
		path := filepath.Join(dir, name+ext)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", &WriteError{Path: path, Err: err}
		}
	}
	return nil, "", &WriteError{Path: filepath.Join(dir, base+ext), Err: errors.New("too many files with the same timestamp")}
}

// WriteTimestamped writes data to a new timestamped file and returns its path.
func WriteTimestamped(dir, prefix, ext string, now time.Time, data []byte) (string, error) {
	f, path, err := CreateTimestamped(dir, prefix, ext, now)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return "", &WriteError{Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return "", &WriteError{Path: path, Err: err}
	}
	return path, nil
}

// Latest returns the most recently modified regular file in dir matching the
// glob pattern. Equal modification times are broken by name, later wins.
func Latest(dir, pattern string) (string, error) {
	paths, err := newestFirst(dir, pattern)
	if err != nil {
		return "", err
	}
	return paths[0], nil
}

// newestFirst lists the regular files matching pattern by descending
// modification time; equal times fall back to descending name order.
func newestFirst(dir, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, err
	}

	type candidate struct {
		path string
		mod  time.Time
	}
	var cands []candidate
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		cands = append(cands, candidate{path: m, mod: info.ModTime()})
	}
	if len(cands) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, filepath.Join(dir, pattern))
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].mod.Equal(cands[j].mod) {
			return cands[i].path > cands[j].path
		}
		return cands[i].mod.After(cands[j].mod)
	})
	paths := make([]string, len(cands))
	for i, c := range cands {
		paths[i] = c.path
	}
	return paths, nil
}
