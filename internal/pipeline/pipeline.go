package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/toricodesthings/batch-summarizer/internal/batch"
	"github.com/toricodesthings/batch-summarizer/internal/config"
	"github.com/toricodesthings/batch-summarizer/internal/extract"
	"github.com/toricodesthings/batch-summarizer/internal/extractor"
	"github.com/toricodesthings/batch-summarizer/internal/extractors/office"
	"github.com/toricodesthings/batch-summarizer/internal/extractors/opendocument"
	"github.com/toricodesthings/batch-summarizer/internal/extractors/pdf"
	"github.com/toricodesthings/batch-summarizer/internal/extractors/plaintext"
	"github.com/toricodesthings/batch-summarizer/internal/job"
	"github.com/toricodesthings/batch-summarizer/internal/remote"
	"github.com/toricodesthings/batch-summarizer/internal/report"
	"github.com/toricodesthings/batch-summarizer/internal/runstate"
)

// ErrNoRequests is returned when no document produced a request.
var ErrNoRequests = errors.New("no documents produced summarization requests")

type Options struct {
	Config config.Config
	// Client defaults to a remote.Client built from Config.
	Client   job.BatchAPI
	Registry *extract.Registry
	Logger   *slog.Logger
	// Stdout receives the operator summary and poll progress lines.
	Stdout io.Writer
	Now    func() time.Time
}

type Pipeline struct {
	cfg      config.Config
	client   job.BatchAPI
	registry *extract.Registry
	log      *slog.Logger
	out      io.Writer
	now      func() time.Time
}

func New(opts Options) *Pipeline {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	out := opts.Stdout
	if out == nil {
		out = io.Discard
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	reg := opts.Registry
	if reg == nil {
		reg = DefaultRegistry(opts.Config, log)
	}
	return &Pipeline{cfg: opts.Config, client: opts.Client, registry: reg, log: log, out: out, now: now}
}

// DefaultRegistry registers every supported format. PDFs get the pdfcpu
// strategy first and poppler as the structural fallback.
func DefaultRegistry(cfg config.Config, log *slog.Logger) *extract.Registry {
	reg := extract.NewRegistry()
	reg.Register(plaintext.New())
	reg.Register(office.NewDOCX())
	reg.Register(office.NewPPTX())
	reg.Register(opendocument.New())
	reg.Register(pdf.NewPrimary())
	reg.RegisterFallback(pdf.NewFallback(extractor.ExtractorConfig{
		PDFInfoTimeout:   cfg.PDFInfoTimeout,
		PDFToTextTimeout: cfg.PDFToTextTimeout,
		Logger:           log,
	}))
	return reg
}

// remoteClient validates the configuration and returns the batch client.
// No remote call is made when validation fails.
func (p *Pipeline) remoteClient() (job.BatchAPI, error) {
	if err := p.cfg.Validate(); err != nil {
		return nil, err
	}
	if p.client != nil {
		return p.client, nil
	}
	c, err := remote.New(remote.Config{
		BaseURL:   p.cfg.BaseURL,
		AuthToken: p.cfg.AuthToken,
		Timeout:   p.cfg.HTTPTimeout,
		Logger:    p.log,
	})
	if err != nil {
		return nil, err
	}
	p.client = c
	return c, nil
}

// Banner logs the settings a run depends on.
func (p *Pipeline) Banner() {
	p.log.Info("summarizer.start",
		"base_url", p.cfg.BaseURL,
		"model", p.cfg.Model,
		"poll_interval", p.cfg.PollInterval.String(),
		"input_dir", p.cfg.InputDir,
		"summaries_dir", p.cfg.SummariesDir,
		"work_dir", p.cfg.WorkDir,
		"poppler", extractor.Available(),
	)
}

// Prepared is the outcome of the local stage.
type Prepared struct {
	Report      extract.Report
	Requests    int
	RequestFile string
	ReportFile  string
	Manifest    *runstate.Manifest
}

// Prepare selects and extracts documents, builds one request per usable
// extraction and writes the request file and the extraction report.
func (p *Pipeline) Prepare(ctx context.Context, sel extract.Selection) (Prepared, error) {
	docs, err := extract.Select(sel, p.cfg.InputDir)
	if err != nil {
		return Prepared{}, err
	}
	p.log.Info("prepare.selected", "documents", len(docs))

	prompt, err := batch.LoadPrompt(p.cfg.PromptFile, p.cfg.SummaryWordCount)
	if err != nil {
		return Prepared{}, err
	}

	coord := extract.NewCoordinator(p.registry, extract.Options{MaxFileBytes: p.cfg.MaxFileBytes, Logger: p.log})
	rep, err := coord.Run(ctx, docs)
	if err != nil {
		return Prepared{Report: rep}, err
	}

	builder := batch.NewBuilder(batch.Settings{
		Model:     p.cfg.Model,
		Endpoint:  p.cfg.CompletionsEndpoint,
		MaxTokens: p.cfg.MaxTokens,
	}, prompt)
	for i, o := range rep.Outcomes {
		if o.Status != extract.StatusSuccess {
			continue
		}
		if _, err := builder.Add(o.Doc, o.Result); err != nil {
			p.log.Warn("prepare.collision", "path", o.Doc.Path, "err", err)
			rep.Stats[o.Result.Method]--
			rep.Outcomes[i] = extract.Failed(o.Doc, err.Error(), err)
		}
	}

	now := p.now()
	prep := Prepared{Report: rep, Requests: builder.Len(), Manifest: runstate.NewManifest(p.cfg.WorkDir, now)}
	m := prep.Manifest
	m.Documents = len(rep.Outcomes)
	m.Succeeded = len(rep.Successes())
	m.Skipped = len(rep.Skipped())
	m.Failed = len(rep.Failed())
	m.Requests = prep.Requests

	prep.ReportFile, err = report.WriteExtraction(p.cfg.WorkDir, rep, now, p.log)
	if err != nil {
		return prep, err
	}
	m.ReportFile = prep.ReportFile

	fmt.Fprint(p.out, rep.Summary())
	if prep.Requests == 0 {
		m.Status = "no_requests"
		if err := m.Save(p.now()); err != nil {
			return prep, errors.Join(ErrNoRequests, err)
		}
		return prep, ErrNoRequests
	}

	prep.RequestFile, err = batch.WriteRequests(p.cfg.WorkDir, builder.Records(), now)
	if err != nil {
		return prep, err
	}
	m.RequestFile = prep.RequestFile
	m.Status = "prepared"
	if err := m.Save(p.now()); err != nil {
		return prep, err
	}

	fmt.Fprintf(p.out, "Created %s with %d request(s)\n", prep.RequestFile, prep.Requests)
	p.log.Info("prepare.ok", "request_file", prep.RequestFile, "requests", prep.Requests, "manifest", m.Path())
	return prep, nil
}

// Submit uploads requestFile, or the newest request file when it is empty.
// The manifest of the run that wrote the request file records the batch.
func (p *Pipeline) Submit(ctx context.Context, requestFile string) (job.Submission, error) {
	sub, err := p.submit(ctx, requestFile)
	if err != nil {
		return sub, err
	}
	if m := p.findManifest(func(m *runstate.Manifest) bool { return m.RequestFile == sub.RequestFile }); m != nil {
		recordSubmission(m, sub)
		if err := m.Save(p.now()); err != nil {
			return sub, err
		}
	}
	return sub, nil
}

func (p *Pipeline) submit(ctx context.Context, requestFile string) (job.Submission, error) {
	api, err := p.remoteClient()
	if err != nil {
		return job.Submission{}, err
	}
	s := job.NewSubmitter(api, job.SubmitterConfig{
		WorkDir:          p.cfg.WorkDir,
		Endpoint:         p.cfg.CompletionsEndpoint,
		CompletionWindow: p.cfg.CompletionWindow,
		Logger:           p.log,
		Now:              p.now,
	})
	var sub job.Submission
	if requestFile == "" {
		sub, err = s.SubmitLatest(ctx)
	} else {
		sub, err = s.Submit(ctx, requestFile)
	}
	if err != nil {
		return sub, err
	}
	fmt.Fprintf(p.out, "Submitted batch %s (handle %s)\n", sub.Batch.ID, sub.Handle.Path)
	return sub, nil
}

// Await polls batchID, or the batch in the newest job handle when it is
// empty, and writes the summaries once it completes. The outcome is recorded
// in the newest manifest that carries the batch id.
func (p *Pipeline) Await(ctx context.Context, batchID string) (job.ProcessResult, error) {
	if batchID == "" {
		if _, err := p.remoteClient(); err != nil {
			return job.ProcessResult{}, err
		}
		h, err := runstate.LatestHandle(p.cfg.WorkDir)
		if err != nil {
			return job.ProcessResult{}, fmt.Errorf("locate job handle: %w", err)
		}
		batchID = h.BatchID
	}
	res, err := p.await(ctx, batchID)
	return res, p.recordResult(batchID, res, err)
}

func (p *Pipeline) await(ctx context.Context, batchID string) (job.ProcessResult, error) {
	api, err := p.remoteClient()
	if err != nil {
		return job.ProcessResult{}, err
	}

	proc := p.processor(api)
	poller := job.NewPoller(api, job.PollerConfig{
		Interval: p.cfg.PollInterval,
		Logger:   p.log,
		Progress: p.out,
		Now:      p.now,
	})

	var res job.ProcessResult
	_, err = poller.Poll(ctx, batchID, job.HandlerFunc(func(ctx context.Context, b remote.Batch) error {
		var err error
		res, err = proc.Process(ctx, b)
		return err
	}))
	res.BatchID = batchID
	if err != nil {
		return res, err
	}
	fmt.Fprintf(p.out, "Saved %d summary file(s) to %s\n", len(res.Artifacts), p.cfg.SummariesDir)
	return res, nil
}

// Process writes the summaries of the batch in the newest job handle.
func (p *Pipeline) Process(ctx context.Context) (job.ProcessResult, error) {
	api, err := p.remoteClient()
	if err != nil {
		return job.ProcessResult{}, err
	}
	res, err := p.processor(api).ProcessLatest(ctx)
	if err != nil {
		if res.BatchID == "" {
			return res, err
		}
		return res, p.recordResult(res.BatchID, res, err)
	}
	fmt.Fprintf(p.out, "Saved %d summary file(s) to %s\n", len(res.Artifacts), p.cfg.SummariesDir)
	return res, p.recordResult(res.BatchID, res, nil)
}

// findManifest returns the newest manifest accepted by match, or nil.
func (p *Pipeline) findManifest(match func(*runstate.Manifest) bool) *runstate.Manifest {
	m, err := runstate.FindManifest(p.cfg.WorkDir, match)
	if err != nil {
		if !errors.Is(err, runstate.ErrNotFound) {
			p.log.Warn("pipeline.manifest_lookup_failed", "dir", p.cfg.WorkDir, "err", err)
		}
		return nil
	}
	return m
}

// recordResult stores a stand-alone stage outcome in the manifest of the run
// that submitted batchID. Batches submitted outside any run have none.
func (p *Pipeline) recordResult(batchID string, res job.ProcessResult, stageErr error) error {
	if errors.Is(stageErr, job.ErrNotCompleted) {
		return stageErr
	}
	m := p.findManifest(func(m *runstate.Manifest) bool { return m.BatchID == batchID })
	if m == nil {
		return stageErr
	}
	if stageErr != nil {
		return p.fail(m, stageErr)
	}
	recordProcessed(m, res)
	return m.Save(p.now())
}

func recordSubmission(m *runstate.Manifest, sub job.Submission) {
	m.InputFileID = sub.InputFileID
	m.BatchID = sub.Batch.ID
	m.HandleFile = sub.Handle.Path
	m.Status = string(sub.Batch.Status)
	m.Error = ""
}

func recordProcessed(m *runstate.Manifest, res job.ProcessResult) {
	m.Status = string(remote.StatusCompleted)
	m.OutputFileID = res.OutputFileID
	m.Error = ""
	m.Summaries = m.Summaries[:0]
	for _, a := range res.Artifacts {
		m.Summaries = append(m.Summaries, a.Path)
	}
}

func (p *Pipeline) processor(api job.BatchAPI) *job.Processor {
	return job.NewProcessor(api, job.ProcessorConfig{
		SummariesDir: p.cfg.SummariesDir,
		WorkDir:      p.cfg.WorkDir,
		Logger:       p.log,
		Now:          p.now,
	})
}

type Result struct {
	Prepared   Prepared
	Submission job.Submission
	Processed  job.ProcessResult
}

// Run executes every stage in order. The manifest is saved after each stage
// so an interrupted run can be resumed with the stand-alone stages.
func (p *Pipeline) Run(ctx context.Context, sel extract.Selection) (Result, error) {
	var res Result
	if _, err := p.remoteClient(); err != nil {
		return res, err
	}
	p.Banner()

	prep, err := p.Prepare(ctx, sel)
	res.Prepared = prep
	if err != nil {
		return res, err
	}
	m := prep.Manifest

	sub, err := p.submit(ctx, prep.RequestFile)
	res.Submission = sub
	if err != nil {
		return res, p.fail(m, err)
	}
	recordSubmission(m, sub)
	if err := m.Save(p.now()); err != nil {
		return res, err
	}

	if d := p.cfg.PropagationDelay; d > 0 {
		p.log.Info("pipeline.propagation_wait", "delay", d.String())
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			err := &job.InterruptedError{BatchID: sub.Batch.ID, LastStatus: sub.Batch.Status}
			return res, p.fail(m, err)
		case <-t.C:
		}
	}

	processed, err := p.await(ctx, sub.Batch.ID)
	res.Processed = processed
	if err != nil {
		return res, p.fail(m, err)
	}
	recordProcessed(m, processed)
	if err := m.Save(p.now()); err != nil {
		return res, err
	}
	p.log.Info("pipeline.ok", "run_id", m.RunID, "batch_id", m.BatchID, "summaries", len(m.Summaries))
	return res, nil
}

func (p *Pipeline) fail(m *runstate.Manifest, err error) error {
	var rj *job.RemoteJobError
	var ie *job.InterruptedError
	switch {
	case errors.As(err, &rj):
		m.Status = string(rj.Status)
	case errors.As(err, &ie):
		m.Status = "interrupted"
	default:
		m.Status = "error"
	}
	m.Error = err.Error()
	if serr := m.Save(p.now()); serr != nil {
		p.log.Warn("pipeline.manifest_save_failed", "path", m.Path(), "err", serr)
	}
	return err
}
