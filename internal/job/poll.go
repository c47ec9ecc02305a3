package job

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/toricodesthings/batch-summarizer/internal/remote"
)

const defaultPollInterval = 30 * time.Second

// Handler receives a completed batch. It is invoked at most once per Poll.
type Handler interface {
	Handle(ctx context.Context, b remote.Batch) error
}

type HandlerFunc func(ctx context.Context, b remote.Batch) error

func (f HandlerFunc) Handle(ctx context.Context, b remote.Batch) error { return f(ctx, b) }

type PollerConfig struct {
	Interval time.Duration
	Logger   *slog.Logger
	// Progress receives one human-readable line per status check.
	Progress io.Writer
	Now      func() time.Time
}

type Poller struct {
	api      BatchAPI
	interval time.Duration
	log      *slog.Logger
	progress io.Writer
	now      func() time.Time
}

func NewPoller(api BatchAPI, cfg PollerConfig) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Poller{api: api, interval: interval, log: log, progress: cfg.Progress, now: now}
}

// Poll checks the batch immediately and then once per interval until it
// reaches a terminal status. A completed batch is passed to h; any other
// terminal status yields *RemoteJobError. Cancelling ctx yields
// *InterruptedError with the last observed status.
func (p *Poller) Poll(ctx context.Context, batchID string, h Handler) (remote.Batch, error) {
	lim := rate.NewLimiter(rate.Every(p.interval), 1)
	var last remote.Batch
	checks := 0

	for {
		if err := lim.Wait(ctx); err != nil {
			return last, p.interrupted(batchID, last, checks)
		}

		b, err := p.api.RetrieveBatch(ctx, batchID)
		if err != nil {
			if ctx.Err() != nil {
				return last, p.interrupted(batchID, last, checks)
			}
			return last, err
		}
		last = b
		checks++
		p.report(b)

		if !b.Status.IsTerminal() {
			continue
		}
		if b.Status != remote.StatusCompleted {
			return b, &RemoteJobError{BatchID: batchID, Status: b.Status, Errors: b.ErrorDetails()}
		}

		p.log.Info("job.poll.completed", "batch_id", batchID, "checks", checks, "output_file_id", b.OutputFileID)
		if h == nil {
			return b, nil
		}
		return b, h.Handle(ctx, b)
	}
}

func (p *Poller) report(b remote.Batch) {
	p.log.Info("job.poll.status",
		"batch_id", b.ID,
		"status", b.Status,
		"completed", b.RequestCounts.Completed,
		"failed", b.RequestCounts.Failed,
		"total", b.RequestCounts.Total,
	)
	if p.progress != nil {
		fmt.Fprintf(p.progress, "[%s] Status: %s | Progress: %d/%d\n",
			p.now().Format("2006-01-02 15:04:05"), b.Status, b.RequestCounts.Completed, b.RequestCounts.Total)
	}
}

func (p *Poller) interrupted(batchID string, last remote.Batch, checks int) error {
	p.log.Warn("job.poll.interrupted", "batch_id", batchID, "last_status", last.Status, "checks", checks)
	return &InterruptedError{BatchID: batchID, LastStatus: last.Status}
}
