package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/toricodesthings/batch-summarizer/internal/batch"
	"github.com/toricodesthings/batch-summarizer/internal/remote"
	"github.com/toricodesthings/batch-summarizer/internal/runstate"
)

// ErrNotCompleted is returned when results are requested for a batch that
// has not finished successfully.
var ErrNotCompleted = errors.New("batch is not completed")

type ProcessorConfig struct {
	SummariesDir string
	WorkDir      string
	Logger       *slog.Logger
	Now          func() time.Time
}

// Artifact is one summary written to disk.
type Artifact struct {
	CustomID string
	SourceID string
	Path     string
}

type ProcessResult struct {
	BatchID      string
	OutputFileID string
	Artifacts    []Artifact
	LineErrors   []batch.LineError
}

type Processor struct {
	api BatchAPI
	cfg ProcessorConfig
	log *slog.Logger
	now func() time.Time
}

func NewProcessor(api BatchAPI, cfg ProcessorConfig) *Processor {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Processor{api: api, cfg: cfg, log: log, now: now}
}

// Process downloads the output of a completed batch and writes one markdown
// artifact per usable result line.
func (p *Processor) Process(ctx context.Context, b remote.Batch) (ProcessResult, error) {
	res := ProcessResult{BatchID: b.ID, OutputFileID: b.OutputFileID}
	if b.Status != remote.StatusCompleted {
		return res, fmt.Errorf("batch %s has status %s: %w", b.ID, b.Status, ErrNotCompleted)
	}
	if b.OutputFileID == "" {
		return res, fmt.Errorf("batch %s completed without an output file", b.ID)
	}

	data, err := p.api.FileContent(ctx, b.OutputFileID)
	if err != nil {
		return res, err
	}

	summaries, bad, err := batch.ParseResults(data)
	res.LineErrors = bad
	for _, le := range bad {
		p.log.Warn("job.result.skipped", "batch_id", b.ID, "line", le.Line, "custom_id", le.CustomID, "reason", le.Reason)
	}
	if err != nil {
		return res, fmt.Errorf("parse results of batch %s: %w", b.ID, err)
	}

	now := p.now()
	for _, s := range summaries {
		path, err := runstate.WriteTimestamped(p.cfg.SummariesDir, artifactStem(s.SourceID)+"_summary_", ".md", now, []byte(s.Text+"\n"))
		if err != nil {
			return res, err
		}
		res.Artifacts = append(res.Artifacts, Artifact{CustomID: s.CustomID, SourceID: s.SourceID, Path: path})
		p.log.Info("job.result.saved", "custom_id", s.CustomID, "path", path, "chars", len(s.Text))
	}

	if b.RequestCounts.Failed > 0 {
		p.log.Warn("job.result.remote_failures", "batch_id", b.ID, "failed", b.RequestCounts.Failed, "error_file_id", b.ErrorFileID)
	}
	p.log.Info("job.process.ok", "batch_id", b.ID, "artifacts", len(res.Artifacts), "skipped_lines", len(bad))
	return res, nil
}

// ProcessLatest retrieves the batch named by the newest job handle and
// processes it.
func (p *Processor) ProcessLatest(ctx context.Context) (ProcessResult, error) {
	h, err := runstate.LatestHandle(p.cfg.WorkDir)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("locate job handle: %w", err)
	}
	b, err := p.api.RetrieveBatch(ctx, h.BatchID)
	if err != nil {
		return ProcessResult{BatchID: h.BatchID}, err
	}
	return p.Process(ctx, b)
}

var stemReplacer = strings.NewReplacer("/", "_", "\\", "_", "\x00", "")

// artifactStem keeps a result identifier inside SummariesDir.
func artifactStem(id string) string {
	s := stemReplacer.Replace(id)
	if s == "" || s == "." || s == ".." {
		return "unnamed"
	}
	return s
}
