package job

import (
	"errors"
	"fmt"
	"strings"

	"github.com/toricodesthings/batch-summarizer/internal/remote"
)

// ErrInterrupted is matched by InterruptedError.
var ErrInterrupted = errors.New("polling interrupted")

// RemoteJobError reports a batch that reached a terminal status other than
// completed. The job handle stays on disk for inspection.
type RemoteJobError struct {
	BatchID string
	Status  remote.Status
	Errors  []string
}

func (e *RemoteJobError) Error() string {
	msg := fmt.Sprintf("batch %s ended with status %s", e.BatchID, e.Status)
	if len(e.Errors) > 0 {
		msg += ": " + strings.Join(e.Errors, "; ")
	}
	return msg
}

type InterruptedError struct {
	BatchID    string
	LastStatus remote.Status
}

func (e *InterruptedError) Error() string {
	last := string(e.LastStatus)
	if last == "" {
		last = "unknown"
	}
	return fmt.Sprintf("polling batch %s interrupted (last status: %s)", e.BatchID, last)
}

func (e *InterruptedError) Is(target error) bool { return target == ErrInterrupted }
