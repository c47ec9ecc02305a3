package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultTimeout   = 120 * time.Second
	maxJSONResponse  = 10 << 20
	maxContentBytes  = 1 << 30
	maxErrorBodySize = 64 << 10
	userAgent        = "batch-summarizer/1.0"
)

// ErrTokenMissing is returned before any request when no bearer token is set.
var ErrTokenMissing = errors.New("remote: auth token not configured")

type Config struct {
	BaseURL    string
	AuthToken  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to an OpenAI-compatible batch inference service.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *slog.Logger
}

func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("remote: invalid base URL %q", cfg.BaseURL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{baseURL: base, token: cfg.AuthToken, http: hc, log: log}, nil
}

type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("remote %d (%s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("remote %d: %s", e.StatusCode, e.Message)
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func parseAPIError(statusCode int, body []byte) error {
	var parsed apiErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && strings.TrimSpace(parsed.Error.Message) != "" {
		return &APIError{StatusCode: statusCode, Type: strings.TrimSpace(parsed.Error.Type), Message: parsed.Error.Message}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(statusCode)
	}
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return &APIError{StatusCode: statusCode, Message: msg}
}

// do sends one request and returns the response body, capped at limit.
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, limit int64) ([]byte, error) {
	if strings.TrimSpace(c.token) == "" {
		return nil, ErrTokenMissing
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	reqID := uuid.NewString()
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("remote.request.error", "req_id", reqID, "method", method, "path", path,
			"elapsed_ms", time.Since(start).Milliseconds(), "err", err)
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		c.log.Warn("remote.request.status", "req_id", reqID, "method", method, "path", path,
			"status", resp.StatusCode, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, parseAPIError(resp.StatusCode, data)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%s %s: response exceeds %d bytes", method, path, limit)
	}
	c.log.Debug("remote.request.ok", "req_id", reqID, "method", method, "path", path,
		"status", resp.StatusCode, "bytes", len(data), "elapsed_ms", time.Since(start).Milliseconds())
	return data, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}
	data, err := c.do(ctx, method, path, contentType, body, maxJSONResponse)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}
