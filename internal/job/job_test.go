package job

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/toricodesthings/batch-summarizer/internal/remote"
	"github.com/toricodesthings/batch-summarizer/internal/runstate"
)

type fakeAPI struct {
	mu sync.Mutex

	uploadErr error
	createErr error
	statuses  []remote.Status
	errors    []remote.BatchError
	output    []byte

	uploads     []string
	creates     int
	retrieves   int
	contentReqs []string

	// onRetrieve runs after each status is returned.
	onRetrieve func(n int)
}

func (f *fakeAPI) UploadFile(ctx context.Context, path, purpose string) (remote.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, path)
	if f.uploadErr != nil {
		return remote.File{}, f.uploadErr
	}
	return remote.File{ID: "file-F", Purpose: purpose}, nil
}

func (f *fakeAPI) CreateBatch(ctx context.Context, inputFileID, endpoint, window string) (remote.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return remote.Batch{}, f.createErr
	}
	return remote.Batch{ID: "batch-B", Status: remote.StatusQueued, InputFileID: inputFileID, Endpoint: endpoint}, nil
}

func (f *fakeAPI) RetrieveBatch(ctx context.Context, id string) (remote.Batch, error) {
	f.mu.Lock()
	n := f.retrieves
	f.retrieves++
	st := f.statuses[len(f.statuses)-1]
	if n < len(f.statuses) {
		st = f.statuses[n]
	}
	b := remote.Batch{
		ID:            id,
		Status:        st,
		RequestCounts: remote.RequestCounts{Total: 3, Completed: min(n, 3)},
	}
	if st == remote.StatusCompleted {
		b.OutputFileID = "file-O"
		b.RequestCounts.Completed = 3
	}
	if len(f.errors) > 0 {
		b.Errors = &remote.BatchErrors{Data: f.errors}
	}
	hook := f.onRetrieve
	f.mu.Unlock()
	if hook != nil {
		hook(n + 1)
	}
	return b, nil
}

func (f *fakeAPI) FileContent(ctx context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contentReqs = append(f.contentReqs, id)
	return f.output, nil
}

const threeResults = `{"custom_id":"summary-alpha","response":{"body":{"choices":[{"message":{"content":"# Alpha"}}]}}}
{"custom_id":"summary-beta","response":{"body":{"choices":[{"message":{"content":"# Beta"}}]}}}
{"custom_id":"summary-gamma","response":{"body":{"choices":[{"message":{"content":"# Gamma"}}]}}}
`

var fixedNow = func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.Local) }

func TestSubmitPersistsHandle(t *testing.T) {
	dir := t.TempDir()
	api := &fakeAPI{}
	s := NewSubmitter(api, SubmitterConfig{WorkDir: dir, Endpoint: "/v1/chat/completions", CompletionWindow: "1h", Now: fixedNow})

	sub, err := s.Submit(context.Background(), filepath.Join(dir, "batch_requests_x.jsonl"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.InputFileID != "file-F" || sub.Batch.ID != "batch-B" {
		t.Fatalf("submission = %+v", sub)
	}
	if filepath.Base(sub.Handle.Path) != "batch_id_20240501_093000.txt" {
		t.Fatalf("handle path = %s", sub.Handle.Path)
	}
	h, err := runstate.LatestHandle(dir)
	if err != nil || h.BatchID != "batch-B" {
		t.Fatalf("LatestHandle = %+v, %v", h, err)
	}
}

func TestSubmitUploadFailureWritesNoHandle(t *testing.T) {
	dir := t.TempDir()
	api := &fakeAPI{uploadErr: errors.New("boom")}
	s := NewSubmitter(api, SubmitterConfig{WorkDir: dir})
	if _, err := s.Submit(context.Background(), "req.jsonl"); err == nil {
		t.Fatalf("expected error")
	}
	if api.creates != 0 {
		t.Fatalf("CreateBatch called after failed upload")
	}
	if _, err := runstate.LatestHandle(dir); !errors.Is(err, runstate.ErrNotFound) {
		t.Fatalf("handle written after failure: %v", err)
	}
}

func TestSubmitLatestPicksNewestRequestFile(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "batch_requests_20240101_000000.jsonl")
	newer := filepath.Join(dir, "batch_requests_20240102_000000.jsonl")
	for i, p := range []string{old, newer} {
		if err := os.WriteFile(p, []byte("{}\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		mt := time.Now().Add(time.Duration(i-2) * time.Hour)
		if err := os.Chtimes(p, mt, mt); err != nil {
			t.Fatal(err)
		}
	}
	api := &fakeAPI{}
	if _, err := NewSubmitter(api, SubmitterConfig{WorkDir: dir}).SubmitLatest(context.Background()); err != nil {
		t.Fatalf("SubmitLatest: %v", err)
	}
	if len(api.uploads) != 1 || api.uploads[0] != newer {
		t.Fatalf("uploads = %v", api.uploads)
	}
}

func TestPollCompletedProcessesOnce(t *testing.T) {
	dir := t.TempDir()
	api := &fakeAPI{
		statuses: []remote.Status{remote.StatusQueued, remote.StatusRunning, remote.StatusRunning, remote.StatusCompleted},
		output:   []byte(threeResults),
	}
	var progress bytes.Buffer
	poller := NewPoller(api, PollerConfig{Interval: time.Millisecond, Progress: &progress, Now: fixedNow})
	proc := NewProcessor(api, ProcessorConfig{SummariesDir: dir, Now: fixedNow})

	var result ProcessResult
	calls := 0
	b, err := poller.Poll(context.Background(), "batch-B", HandlerFunc(func(ctx context.Context, b remote.Batch) error {
		calls++
		var err error
		result, err = proc.Process(ctx, b)
		return err
	}))
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if b.Status != remote.StatusCompleted || calls != 1 || api.retrieves != 4 {
		t.Fatalf("status=%s handler calls=%d retrieves=%d", b.Status, calls, api.retrieves)
	}
	if len(api.contentReqs) != 1 || api.contentReqs[0] != "file-O" {
		t.Fatalf("content requests = %v", api.contentReqs)
	}
	if len(result.Artifacts) != 3 {
		t.Fatalf("artifacts = %+v", result.Artifacts)
	}
	got, err := os.ReadFile(filepath.Join(dir, "beta_summary_20240501_093000.md"))
	if err != nil || string(got) != "# Beta\n" {
		t.Fatalf("beta artifact = %q, %v", got, err)
	}

	lines := strings.Split(strings.TrimSpace(progress.String()), "\n")
	if len(lines) != 4 || lines[0] != "[2024-05-01 09:30:00] Status: queued | Progress: 0/3" || !strings.HasSuffix(lines[3], "Status: completed | Progress: 3/3") {
		t.Fatalf("progress lines = %q", lines)
	}
}

func TestPollFailedReturnsRemoteJobError(t *testing.T) {
	line := 2
	api := &fakeAPI{
		statuses: []remote.Status{remote.StatusQueued, remote.StatusFailed},
		errors:   []remote.BatchError{{Code: "invalid_request", Message: "bad model", Line: &line}},
	}
	called := false
	_, err := NewPoller(api, PollerConfig{Interval: time.Millisecond}).Poll(context.Background(), "batch-B",
		HandlerFunc(func(context.Context, remote.Batch) error { called = true; return nil }))

	var rj *RemoteJobError
	if !errors.As(err, &rj) {
		t.Fatalf("expected RemoteJobError, got %v", err)
	}
	if rj.Status != remote.StatusFailed || len(rj.Errors) != 1 || !strings.Contains(rj.Error(), "line 2: invalid_request: bad model") {
		t.Fatalf("remote job error = %v", rj)
	}
	if called || len(api.contentReqs) != 0 {
		t.Fatalf("handler ran for failed batch")
	}
}

func TestPollExpiredAndCancelledAreErrors(t *testing.T) {
	for _, st := range []remote.Status{remote.StatusExpired, remote.StatusCancelled} {
		api := &fakeAPI{statuses: []remote.Status{st}}
		_, err := NewPoller(api, PollerConfig{Interval: time.Millisecond}).Poll(context.Background(), "b", nil)
		var rj *RemoteJobError
		if !errors.As(err, &rj) || rj.Status != st {
			t.Fatalf("%s: got %v", st, err)
		}
	}
}

func TestPollUnknownStatusKeepsPolling(t *testing.T) {
	api := &fakeAPI{statuses: []remote.Status{"validating", "finalizing", "something_new", remote.StatusCompleted}}
	b, err := NewPoller(api, PollerConfig{Interval: time.Millisecond}).Poll(context.Background(), "b", nil)
	if err != nil || b.Status != remote.StatusCompleted || api.retrieves != 4 {
		t.Fatalf("status=%s retrieves=%d err=%v", b.Status, api.retrieves, err)
	}
}

func TestPollInterruptReportsLastStatus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api := &fakeAPI{statuses: []remote.Status{remote.StatusRunning}}
	api.onRetrieve = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	_, err := NewPoller(api, PollerConfig{Interval: time.Millisecond}).Poll(ctx, "batch-B", nil)
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
	var ie *InterruptedError
	if !errors.As(err, &ie) || ie.LastStatus != remote.StatusRunning || ie.BatchID != "batch-B" {
		t.Fatalf("interrupted error = %+v", ie)
	}
	if len(api.contentReqs) != 0 {
		t.Fatalf("results downloaded after interrupt")
	}
}

func TestProcessRefusesIncompleteBatch(t *testing.T) {
	api := &fakeAPI{}
	_, err := NewProcessor(api, ProcessorConfig{SummariesDir: t.TempDir()}).Process(context.Background(), remote.Batch{ID: "b", Status: remote.StatusRunning})
	if !errors.Is(err, ErrNotCompleted) {
		t.Fatalf("expected ErrNotCompleted, got %v", err)
	}
	if len(api.contentReqs) != 0 {
		t.Fatalf("content downloaded for incomplete batch")
	}
}

func TestProcessSkipsBadLines(t *testing.T) {
	dir := t.TempDir()
	api := &fakeAPI{output: []byte(`{"custom_id":"summary-ok","response":{"body":{"choices":[{"message":{"content":"fine"}}]}}}
{"custom_id":"summary-err","error":{"message":"overloaded"}}

{"custom_id":"summary-../../etc","response":{"body":{"choices":[{"message":{"content":"x"}}]}}}
`)}
	res, err := NewProcessor(api, ProcessorConfig{SummariesDir: dir, Now: fixedNow}).Process(context.Background(),
		remote.Batch{ID: "b", Status: remote.StatusCompleted, OutputFileID: "file-O"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Artifacts) != 2 || len(res.LineErrors) != 1 {
		t.Fatalf("result = %+v", res)
	}
	for _, a := range res.Artifacts {
		if filepath.Dir(a.Path) != dir {
			t.Fatalf("artifact escaped summaries dir: %s", a.Path)
		}
	}
}

func TestProcessWriteFailureIsFatal(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	api := &fakeAPI{output: []byte(threeResults)}
	_, err := NewProcessor(api, ProcessorConfig{SummariesDir: filepath.Join(blocker, "sub")}).Process(context.Background(),
		remote.Batch{ID: "b", Status: remote.StatusCompleted, OutputFileID: "file-O"})
	var we *runstate.WriteError
	if !errors.As(err, &we) {
		t.Fatalf("expected WriteError, got %v", err)
	}
}

func TestProcessLatestUsesNewestHandle(t *testing.T) {
	work := t.TempDir()
	if _, err := runstate.SaveHandle(work, "batch-B", fixedNow()); err != nil {
		t.Fatal(err)
	}
	api := &fakeAPI{statuses: []remote.Status{remote.StatusCompleted}, output: []byte(threeResults)}
	res, err := NewProcessor(api, ProcessorConfig{SummariesDir: t.TempDir(), WorkDir: work}).ProcessLatest(context.Background())
	if err != nil {
		t.Fatalf("ProcessLatest: %v", err)
	}
	if res.BatchID != "batch-B" || len(res.Artifacts) != 3 {
		t.Fatalf("result = %+v", res)
	}
}
