package job

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/toricodesthings/batch-summarizer/internal/batch"
	"github.com/toricodesthings/batch-summarizer/internal/remote"
	"github.com/toricodesthings/batch-summarizer/internal/runstate"
)

// BatchAPI is the subset of the remote service the job stages need.
type BatchAPI interface {
	UploadFile(ctx context.Context, path, purpose string) (remote.File, error)
	CreateBatch(ctx context.Context, inputFileID, endpoint, window string) (remote.Batch, error)
	RetrieveBatch(ctx context.Context, id string) (remote.Batch, error)
	FileContent(ctx context.Context, id string) ([]byte, error)
}

type SubmitterConfig struct {
	WorkDir          string
	Endpoint         string
	CompletionWindow string
	Logger           *slog.Logger
	Now              func() time.Time
}

type Submission struct {
	RequestFile string
	InputFileID string
	Batch       remote.Batch
	Handle      runstate.Handle
}

type Submitter struct {
	api BatchAPI
	cfg SubmitterConfig
	log *slog.Logger
	now func() time.Time
}

func NewSubmitter(api BatchAPI, cfg SubmitterConfig) *Submitter {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Submitter{api: api, cfg: cfg, log: log, now: now}
}

// Submit uploads the request file, creates the batch and persists its id.
// Nothing is written locally unless both remote calls succeed.
func (s *Submitter) Submit(ctx context.Context, requestPath string) (Submission, error) {
	start := time.Now()
	s.log.Info("job.submit.upload", "request_file", requestPath)
	f, err := s.api.UploadFile(ctx, requestPath, remote.PurposeBatch)
	if err != nil {
		return Submission{}, err
	}

	b, err := s.api.CreateBatch(ctx, f.ID, s.cfg.Endpoint, s.cfg.CompletionWindow)
	if err != nil {
		return Submission{}, err
	}

	h, err := runstate.SaveHandle(s.cfg.WorkDir, b.ID, s.now())
	if err != nil {
		return Submission{}, fmt.Errorf("save job handle for batch %s: %w", b.ID, err)
	}

	s.log.Info("job.submit.ok",
		"batch_id", b.ID,
		"input_file_id", f.ID,
		"handle", h.Path,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return Submission{RequestFile: requestPath, InputFileID: f.ID, Batch: b, Handle: h}, nil
}

// SubmitLatest submits the most recently written request file in WorkDir.
func (s *Submitter) SubmitLatest(ctx context.Context) (Submission, error) {
	path, err := batch.LatestRequests(s.cfg.WorkDir)
	if err != nil {
		return Submission{}, fmt.Errorf("locate request file: %w", err)
	}
	return s.Submit(ctx, path)
}
