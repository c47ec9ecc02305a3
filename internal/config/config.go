package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvAuthToken = "DOUBLEWORD_AUTH_TOKEN"
	EnvBaseURL   = "DOUBLEWORD_BASE_URL"
)

type Config struct {
	// Remote batch service
	AuthToken           string
	BaseURL             string
	Model               string
	CompletionsEndpoint string
	CompletionWindow    string
	MaxTokens           int
	HTTPTimeout         time.Duration

	// Prompting
	SummaryWordCount int
	PromptFile       string

	// Polling
	PollInterval     time.Duration
	PropagationDelay time.Duration

	// Filesystem layout
	InputDir     string
	SummariesDir string
	WorkDir      string

	// Extraction limits
	MaxFileBytes     int64
	PDFInfoTimeout   time.Duration
	PDFToTextTimeout time.Duration

	LogLevel string
}

func Load() Config {
	return Config{
		AuthToken:           envStr(EnvAuthToken, ""),
		BaseURL:             envStr(EnvBaseURL, ""),
		Model:               envStr("DOUBLEWORD_MODEL", "Qwen/Qwen3-VL-235B-A22B-Instruct-FP8"),
		CompletionsEndpoint: envStr("CHAT_COMPLETIONS_ENDPOINT", "/v1/chat/completions"),
		CompletionWindow:    envStr("COMPLETION_WINDOW", "1h"),
		MaxTokens:           envInt("MAX_TOKENS", 5000),
		HTTPTimeout:         envDur("HTTP_TIMEOUT", 120*time.Second),

		SummaryWordCount: envInt("SUMMARY_WORD_COUNT", 2000),
		PromptFile:       envStr("PROMPT_FILE", "summarisation_prompt_sample.txt"),

		PollInterval:     envSeconds("POLLING_INTERVAL", 30*time.Second),
		PropagationDelay: envDur("PROPAGATION_DELAY", 10*time.Second),

		InputDir:     envStr("INPUT_DIR", "data/papers"),
		SummariesDir: envStr("SUMMARIES_DIR", "data/summaries"),
		WorkDir:      envStr("WORK_DIR", "."),

		MaxFileBytes:     int64(envInt("MAX_FILE_BYTES", int(200<<20))),
		PDFInfoTimeout:   envDur("PDFINFO_TIMEOUT", 5*time.Second),
		PDFToTextTimeout: envDur("PDFTOTEXT_TIMEOUT", 60*time.Second),

		LogLevel: envStr("LOG_LEVEL", "info"),
	}
}

// LoadDotEnv reads KEY=VALUE pairs from path into the process environment.
// Variables already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ConfigurationError lists every setting that prevents the pipeline from
// talking to the remote service.
type ConfigurationError struct {
	Missing []string
	Invalid []string
}

func (e *ConfigurationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required environment variables: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid settings: "+strings.Join(e.Invalid, ", "))
	}
	return "configuration: " + strings.Join(parts, "; ")
}

func (c Config) Validate() error {
	cerr := &ConfigurationError{}
	if strings.TrimSpace(c.AuthToken) == "" {
		cerr.Missing = append(cerr.Missing, EnvAuthToken)
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		cerr.Missing = append(cerr.Missing, EnvBaseURL)
	} else if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		cerr.Invalid = append(cerr.Invalid, EnvBaseURL+" must be an http(s) URL")
	}
	if strings.TrimSpace(c.Model) == "" {
		cerr.Invalid = append(cerr.Invalid, "DOUBLEWORD_MODEL is empty")
	}
	if len(cerr.Missing) > 0 || len(cerr.Invalid) > 0 {
		return cerr
	}
	return nil
}

func envStr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envDur(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// envSeconds accepts either a bare number of seconds ("30") or a Go duration ("45s").
func envSeconds(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n <= 0 {
			return fallback
		}
		return time.Duration(n) * time.Second
	}
	return envDur(key, fallback)
}
