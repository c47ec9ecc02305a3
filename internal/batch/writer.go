package batch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/toricodesthings/batch-summarizer/internal/runstate"
)

const (
	RequestPrefix  = "batch_requests_"
	RequestPattern = RequestPrefix + "*.jsonl"
)

// WriteRequests writes records to dir/batch_requests_<ts>.jsonl, one JSON
// object per line, and returns the path.
func WriteRequests(dir string, records []Record, now time.Time) (string, error) {
	f, path, err := runstate.CreateTimestamped(dir, RequestPrefix, ".jsonl", now)
	if err != nil {
		return "", err
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			_ = f.Close()
			return "", &runstate.WriteError{Path: path, Err: fmt.Errorf("record %d: %w", i, err)}
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return "", &runstate.WriteError{Path: path, Err: err}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return "", &runstate.WriteError{Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return "", &runstate.WriteError{Path: path, Err: err}
	}
	return path, nil
}

// LatestRequests returns the most recently written request file in dir.
func LatestRequests(dir string) (string, error) {
	return runstate.Latest(dir, RequestPattern)
}
