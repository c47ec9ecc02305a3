package runstate

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	HandlePrefix  = "batch_id_"
	HandlePattern = HandlePrefix + "*.txt"
)

// Handle is a persisted remote job identifier.
type Handle struct {
	BatchID string
	Path    string
}

// SaveHandle writes the batch id to dir/batch_id_<ts>.txt.
func SaveHandle(dir, batchID string, now time.Time) (Handle, error) {
	path, err := WriteTimestamped(dir, HandlePrefix, ".txt", now, []byte(batchID))
	if err != nil {
		return Handle{}, err
	}
	return Handle{BatchID: batchID, Path: path}, nil
}

func LoadHandle(path string) (Handle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Handle{}, fmt.Errorf("read job handle: %w", err)
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return Handle{}, fmt.Errorf("job handle %s is empty", path)
	}
	return Handle{BatchID: id, Path: path}, nil
}

// LatestHandle loads the most recently written job handle in dir.
func LatestHandle(dir string) (Handle, error) {
	path, err := Latest(dir, HandlePattern)
	if err != nil {
		return Handle{}, err
	}
	return LoadHandle(path)
}
