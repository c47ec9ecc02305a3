package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const PurposeBatch = "batch"

type Status string

const (
	StatusValidating Status = "validating"
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusRunning    Status = "running"
	StatusFinalizing Status = "finalizing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
	StatusCancelling Status = "cancelling"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further transitions are expected.
// Statuses the service adds later are treated as still running.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

type File struct {
	ID       string `json:"id"`
	Bytes    int64  `json:"bytes"`
	Filename string `json:"filename"`
	Purpose  string `json:"purpose"`
}

type RequestCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

type BatchError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    *int   `json:"line,omitempty"`
}

func (e BatchError) String() string {
	s := e.Message
	if e.Code != "" {
		s = e.Code + ": " + s
	}
	if e.Line != nil {
		s = fmt.Sprintf("line %d: %s", *e.Line, s)
	}
	return s
}

type Batch struct {
	ID               string        `json:"id"`
	Status           Status        `json:"status"`
	Endpoint         string        `json:"endpoint"`
	InputFileID      string        `json:"input_file_id"`
	CompletionWindow string        `json:"completion_window"`
	OutputFileID     string        `json:"output_file_id"`
	ErrorFileID      string        `json:"error_file_id"`
	RequestCounts    RequestCounts `json:"request_counts"`
	Errors           *BatchErrors  `json:"errors"`
}

type BatchErrors struct {
	Data []BatchError `json:"data"`
}

// ErrorDetails flattens the service-reported errors, if any.
func (b Batch) ErrorDetails() []string {
	if b.Errors == nil {
		return nil
	}
	out := make([]string, 0, len(b.Errors.Data))
	for _, e := range b.Errors.Data {
		out = append(out, e.String())
	}
	return out
}

// UploadFile sends the file at path as multipart form data.
func (c *Client) UploadFile(ctx context.Context, path, purpose string) (File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read upload: %w", err)
	}
	if len(content) == 0 {
		return File{}, errors.New("upload file is empty")
	}
	if strings.TrimSpace(purpose) == "" {
		purpose = PurposeBatch
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	_ = writer.WriteField("purpose", purpose)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(path)))
	h.Set("Content-Type", uploadContentType(content))
	fw, err := writer.CreatePart(h)
	if err != nil {
		return File{}, err
	}
	_, _ = fw.Write(content)
	_ = writer.Close()

	data, err := c.do(ctx, http.MethodPost, "/files", writer.FormDataContentType(), body, maxJSONResponse)
	if err != nil {
		return File{}, fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	if f.ID == "" {
		return File{}, errors.New("upload response missing file id")
	}
	c.log.Info("remote.file.uploaded", "file_id", f.ID, "bytes", len(content), "name", filepath.Base(path))
	return f, nil
}

func uploadContentType(content []byte) string {
	mt := mimetype.Detect(content)
	if mt.Is("application/x-ndjson") || mt.Is("application/json") {
		return mt.String()
	}
	return "application/jsonl"
}

type createBatchRequest struct {
	InputFileID      string `json:"input_file_id"`
	Endpoint         string `json:"endpoint"`
	CompletionWindow string `json:"completion_window"`
}

func (c *Client) CreateBatch(ctx context.Context, inputFileID, endpoint, window string) (Batch, error) {
	if inputFileID == "" {
		return Batch{}, errors.New("input file id required")
	}
	var b Batch
	req := createBatchRequest{InputFileID: inputFileID, Endpoint: endpoint, CompletionWindow: window}
	if err := c.doJSON(ctx, http.MethodPost, "/batches", req, &b); err != nil {
		return Batch{}, fmt.Errorf("create batch: %w", err)
	}
	if b.ID == "" {
		return Batch{}, errors.New("create batch response missing id")
	}
	c.log.Info("remote.batch.created", "batch_id", b.ID, "status", b.Status, "input_file_id", inputFileID)
	return b, nil
}

func (c *Client) RetrieveBatch(ctx context.Context, id string) (Batch, error) {
	if id == "" {
		return Batch{}, errors.New("batch id required")
	}
	var b Batch
	if err := c.doJSON(ctx, http.MethodGet, "/batches/"+url.PathEscape(id), nil, &b); err != nil {
		return Batch{}, fmt.Errorf("retrieve batch %s: %w", id, err)
	}
	return b, nil
}

// FileContent downloads the raw bytes of a stored file.
func (c *Client) FileContent(ctx context.Context, id string) ([]byte, error) {
	if id == "" {
		return nil, errors.New("file id required")
	}
	data, err := c.do(ctx, http.MethodGet, "/files/"+url.PathEscape(id)+"/content", "", nil, maxContentBytes)
	if err != nil {
		return nil, fmt.Errorf("download file %s: %w", id, err)
	}
	return data, nil
}
