package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/toricodesthings/batch-summarizer/internal/batch"
	"github.com/toricodesthings/batch-summarizer/internal/config"
	"github.com/toricodesthings/batch-summarizer/internal/extract"
	"github.com/toricodesthings/batch-summarizer/internal/job"
	"github.com/toricodesthings/batch-summarizer/internal/remote"
	"github.com/toricodesthings/batch-summarizer/internal/runstate"
)

// fakeService answers with a summary for every uploaded request.
type fakeService struct {
	mu       sync.Mutex
	statuses []remote.Status
	calls    int
	uploaded []byte
	polls    int
}

func (f *fakeService) UploadFile(ctx context.Context, path, purpose string) (remote.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	data, err := os.ReadFile(path)
	if err != nil {
		return remote.File{}, err
	}
	f.uploaded = data
	return remote.File{ID: "file-F"}, nil
}

func (f *fakeService) CreateBatch(ctx context.Context, inputFileID, endpoint, window string) (remote.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return remote.Batch{ID: "batch-B", Status: remote.StatusValidating}, nil
}

func (f *fakeService) RetrieveBatch(ctx context.Context, id string) (remote.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	st := remote.StatusCompleted
	if f.polls < len(f.statuses) {
		st = f.statuses[f.polls]
	}
	f.polls++
	b := remote.Batch{ID: id, Status: st}
	if st == remote.StatusCompleted {
		b.OutputFileID = "file-O"
	}
	return b, nil
}

func (f *fakeService) FileContent(ctx context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	var out bytes.Buffer
	for _, line := range bytes.Split(bytes.TrimSpace(f.uploaded), []byte("\n")) {
		var rec batch.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, err
		}
		fmt.Fprintf(&out, `{"custom_id":%q,"response":{"body":{"choices":[{"message":{"content":"Summary of %s"}}]}}}`+"\n", rec.CustomID, rec.CustomID)
	}
	return out.Bytes(), nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()
	return config.Config{
		AuthToken:           "tok",
		BaseURL:             "https://api.example.test/v1",
		Model:               "test-model",
		CompletionsEndpoint: "/v1/chat/completions",
		CompletionWindow:    "1h",
		MaxTokens:           5000,
		SummaryWordCount:    300,
		PromptFile:          filepath.Join(root, "absent_prompt.txt"),
		PollInterval:        time.Millisecond,
		InputDir:            filepath.Join(root, "papers"),
		SummariesDir:        filepath.Join(root, "summaries"),
		WorkDir:             filepath.Join(root, "work"),
		MaxFileBytes:        1 << 20,
	}
}

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

var longText = strings.Repeat("Transformers replace recurrence with attention. ", 5)

func TestRunEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	writeDoc(t, cfg.InputDir, "Attention is All You Need.md", longText)
	writeDoc(t, cfg.InputDir, "notes.txt", longText)
	writeDoc(t, cfg.InputDir, "short.txt", "too short")
	writeDoc(t, cfg.InputDir, "image.png", "not supported")

	svc := &fakeService{statuses: []remote.Status{remote.StatusQueued, remote.StatusRunning, remote.StatusCompleted}}
	var out bytes.Buffer
	p := New(Options{Config: cfg, Client: svc, Stdout: &out})

	res, err := p.Run(context.Background(), extract.Selection{})
	if err != nil {
		t.Fatalf("Run: %v\n%s", err, out.String())
	}
	if res.Prepared.Requests != 2 || len(res.Processed.Artifacts) != 2 {
		t.Fatalf("requests=%d artifacts=%d", res.Prepared.Requests, len(res.Processed.Artifacts))
	}
	if len(res.Prepared.Report.Skipped()) != 2 {
		t.Fatalf("skipped = %+v", res.Prepared.Report.Skipped())
	}

	matches, _ := filepath.Glob(filepath.Join(cfg.SummariesDir, "Attention_is_All_You_Need_summary_*.md"))
	if len(matches) != 1 {
		t.Fatalf("summary artifacts = %v", matches)
	}
	got, _ := os.ReadFile(matches[0])
	if string(got) != "Summary of summary-Attention_is_All_You_Need\n" {
		t.Fatalf("artifact = %q", got)
	}

	m, err := runstate.LoadManifest(res.Prepared.Manifest.Path())
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.BatchID != "batch-B" || m.Status != "completed" || len(m.Summaries) != 2 || m.Requests != 2 {
		t.Fatalf("manifest = %+v", m)
	}

	text := out.String()
	for _, want := range []string{"2 succeeded, 2 skipped", "short.txt: insufficient text", "Status: running | Progress", "Saved 2 summary file(s)"} {
		if !strings.Contains(text, want) {
			t.Fatalf("stdout missing %q:\n%s", want, text)
		}
	}
}

func TestRunConfigErrorMakesNoRemoteCalls(t *testing.T) {
	cfg := testConfig(t)
	cfg.AuthToken = ""
	writeDoc(t, cfg.InputDir, "doc.txt", longText)

	svc := &fakeService{}
	_, err := New(Options{Config: cfg, Client: svc}).Run(context.Background(), extract.Selection{})
	var cerr *config.ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if svc.calls != 0 {
		t.Fatalf("remote calls = %d", svc.calls)
	}
	if _, err := os.Stat(cfg.WorkDir); !os.IsNotExist(err) {
		t.Fatalf("work dir created before validation: %v", err)
	}
}

func TestRunNoRequestsSubmitsNothing(t *testing.T) {
	cfg := testConfig(t)
	writeDoc(t, cfg.InputDir, "tiny.txt", "hi")

	svc := &fakeService{}
	_, err := New(Options{Config: cfg, Client: svc}).Run(context.Background(), extract.Selection{})
	if !errors.Is(err, ErrNoRequests) {
		t.Fatalf("expected ErrNoRequests, got %v", err)
	}
	if svc.calls != 0 {
		t.Fatalf("remote calls = %d", svc.calls)
	}
	if _, err := batch.LatestRequests(cfg.WorkDir); !errors.Is(err, runstate.ErrNotFound) {
		t.Fatalf("request file written: %v", err)
	}
}

func TestPrepareRecordsCollision(t *testing.T) {
	cfg := testConfig(t)
	first := writeDoc(t, cfg.InputDir, "R&D plan.txt", longText)
	writeDoc(t, cfg.InputDir, "RandD_plan.md", longText)

	prep, err := New(Options{Config: cfg}).Prepare(context.Background(), extract.Selection{})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if prep.Requests != 1 {
		t.Fatalf("requests = %d", prep.Requests)
	}
	failed := prep.Report.Failed()
	if len(failed) != 1 || failed[0].Reason != "identifier collision with "+first {
		t.Fatalf("failed = %+v", failed)
	}
	if prep.Report.Stats.Total() != 1 {
		t.Fatalf("stats = %v", prep.Report.Stats)
	}
}

func TestPrepareExplicitFilesWithMissing(t *testing.T) {
	cfg := testConfig(t)
	present := writeDoc(t, t.TempDir(), "present.txt", longText)
	missing := filepath.Join(t.TempDir(), "missing.pdf")

	prep, err := New(Options{Config: cfg}).Prepare(context.Background(), extract.Selection{Files: []string{present, missing}})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if prep.Requests != 1 || len(prep.Report.Failed()) != 1 || prep.Report.Failed()[0].Reason != "file not found" {
		t.Fatalf("report = %+v", prep.Report)
	}
	if _, err := os.Stat(prep.ReportFile); err != nil {
		t.Fatalf("report file: %v", err)
	}
}

func TestRunRemoteFailureKeepsHandle(t *testing.T) {
	cfg := testConfig(t)
	writeDoc(t, cfg.InputDir, "doc.txt", longText)

	svc := &fakeService{statuses: []remote.Status{remote.StatusQueued, remote.StatusExpired}}
	res, err := New(Options{Config: cfg, Client: svc}).Run(context.Background(), extract.Selection{})
	var rj *job.RemoteJobError
	if !errors.As(err, &rj) || rj.Status != remote.StatusExpired {
		t.Fatalf("expected RemoteJobError, got %v", err)
	}
	h, err := runstate.LatestHandle(cfg.WorkDir)
	if err != nil || h.BatchID != "batch-B" {
		t.Fatalf("handle = %+v, %v", h, err)
	}
	m, err := runstate.LoadManifest(res.Prepared.Manifest.Path())
	if err != nil || m.Status != "expired" || m.Error == "" {
		t.Fatalf("manifest = %+v, %v", m, err)
	}
}

func TestStandaloneStagesUseLatestFiles(t *testing.T) {
	cfg := testConfig(t)
	writeDoc(t, cfg.InputDir, "doc.txt", longText)
	svc := &fakeService{}
	p := New(Options{Config: cfg, Client: svc})

	prep, err := p.Prepare(context.Background(), extract.Selection{})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	sub, err := p.Submit(context.Background(), "")
	if err != nil || sub.Batch.ID != "batch-B" || len(svc.uploaded) == 0 {
		t.Fatalf("Submit = %+v, %v", sub, err)
	}
	m, err := runstate.LoadManifest(prep.Manifest.Path())
	if err != nil || m.BatchID != "batch-B" || m.InputFileID != "file-F" || m.HandleFile != sub.Handle.Path {
		t.Fatalf("manifest after submit = %+v, %v", m, err)
	}

	res, err := p.Process(context.Background())
	if err != nil || len(res.Artifacts) != 1 {
		t.Fatalf("Process = %+v, %v", res, err)
	}
	m, err = runstate.LoadManifest(prep.Manifest.Path())
	if err != nil || m.Status != "completed" || m.OutputFileID != "file-O" || len(m.Summaries) != 1 || m.Summaries[0] != res.Artifacts[0].Path {
		t.Fatalf("manifest after process = %+v, %v", m, err)
	}
}

func TestAwaitRecordsFailureInSubmittingRun(t *testing.T) {
	cfg := testConfig(t)
	writeDoc(t, cfg.InputDir, "doc.txt", longText)
	svc := &fakeService{statuses: []remote.Status{remote.StatusInProgress, remote.StatusFailed}}
	p := New(Options{Config: cfg, Client: svc})

	prep, err := p.Prepare(context.Background(), extract.Selection{})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	// A later prepare without a submission must not take the batch over.
	later, err := p.Prepare(context.Background(), extract.Selection{})
	if err != nil {
		t.Fatalf("second Prepare: %v", err)
	}
	if _, err := p.Submit(context.Background(), prep.RequestFile); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	_, err = p.Await(context.Background(), "")
	var rj *job.RemoteJobError
	if !errors.As(err, &rj) {
		t.Fatalf("expected RemoteJobError, got %v", err)
	}
	m, err := runstate.LoadManifest(prep.Manifest.Path())
	if err != nil || m.Status != "failed" || m.Error == "" {
		t.Fatalf("submitting manifest = %+v, %v", m, err)
	}
	other, err := runstate.LoadManifest(later.Manifest.Path())
	if err != nil || other.BatchID != "" || other.Status != "prepared" {
		t.Fatalf("unrelated manifest = %+v, %v", other, err)
	}
}

// onFirstWrite runs fn before the first write reaches the buffer.
type onFirstWrite struct {
	bytes.Buffer
	fn   func()
	done bool
}

func (w *onFirstWrite) Write(b []byte) (int, error) {
	if !w.done {
		w.done = true
		w.fn()
	}
	return w.Buffer.Write(b)
}

func TestNoRequestsReportsManifestWriteFailure(t *testing.T) {
	cfg := testConfig(t)
	writeDoc(t, cfg.InputDir, "tiny.txt", "hi")

	// The summary is printed after the report is written and before the
	// manifest is saved; replacing the work dir with a file there breaks
	// only the manifest write.
	out := &onFirstWrite{fn: func() {
		if err := os.Rename(cfg.WorkDir, cfg.WorkDir+".moved"); err != nil {
			t.Errorf("move work dir: %v", err)
		}
		if err := os.WriteFile(cfg.WorkDir, nil, 0o644); err != nil {
			t.Errorf("block work dir: %v", err)
		}
	}}
	_, err := New(Options{Config: cfg, Stdout: out}).Prepare(context.Background(), extract.Selection{})
	if !errors.Is(err, ErrNoRequests) {
		t.Fatalf("expected ErrNoRequests, got %v", err)
	}
	var werr *runstate.WriteError
	if !errors.As(err, &werr) {
		t.Fatalf("manifest write failure dropped: %v", err)
	}
}
