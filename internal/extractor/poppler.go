package extractor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrPasswordProtected = errors.New("PDF is password protected")
	ErrDamaged           = errors.New("PDF file is damaged or corrupted")
	ErrUnreadable        = errors.New("unable to open PDF")
	ErrTimeout           = errors.New("poppler timeout")
	ErrToolMissing       = errors.New("poppler tool not installed")
	ErrOutputTooLarge    = errors.New("extracted text too large")
)

type ExtractorConfig struct {
	PDFInfoTimeout   time.Duration
	PDFToTextTimeout time.Duration
	MaxOutputBytes   int64
	Logger           *slog.Logger
}

// Sensible defaults if you pass zeros.
func (c ExtractorConfig) withDefaults() ExtractorConfig {
	out := c
	if out.PDFInfoTimeout <= 0 {
		out.PDFInfoTimeout = 5 * time.Second
	}
	if out.PDFToTextTimeout <= 0 {
		out.PDFToTextTimeout = 60 * time.Second
	}
	if out.MaxOutputBytes <= 0 {
		out.MaxOutputBytes = 50 << 20
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

type PDFInfo struct {
	Pages     int
	Encrypted bool
	Raw       string // full pdfinfo stdout (for debugging if needed)
}

var (
	pageCountRegex = regexp.MustCompile(`(?m)^Pages:\s+(\d+)\s*$`)
	encryptedRegex = regexp.MustCompile(`(?mi)^Encrypted:\s+yes`)
)

// Available reports whether both poppler tools are on PATH.
func Available() bool {
	for _, tool := range []string{"pdfinfo", "pdftotext"} {
		if _, err := exec.LookPath(tool); err != nil {
			return false
		}
	}
	return true
}

// GetPDFInfo runs pdfinfo once and extracts page count + encryption flag.
func GetPDFInfo(ctx context.Context, pdfPath string, cfg ExtractorConfig) (PDFInfo, error) {
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithTimeout(ctx, cfg.PDFInfoTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "pdfinfo", pdfPath)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return PDFInfo{}, classifyPopplerErr(cfg.Logger, "pdfinfo", err, ctx, stderr.String())
	}

	out := stdout.String()

	pages, err := parsePages(out)
	if err != nil {
		return PDFInfo{}, err
	}

	return PDFInfo{
		Pages:     pages,
		Encrypted: encryptedRegex.MatchString(out),
		Raw:       out,
	}, nil
}

// PageCount extracts total pages using pdfinfo (compat wrapper).
func PageCount(ctx context.Context, pdfPath string, cfg ExtractorConfig) (int, error) {
	info, err := GetPDFInfo(ctx, pdfPath, cfg)
	if err != nil {
		return 0, err
	}
	return info.Pages, nil
}

// ExtractAllPages extracts text for the whole PDF with pdftotext -layout.
// Output is capped to cfg.MaxOutputBytes to avoid OOM.
func ExtractAllPages(ctx context.Context, pdfPath string, cfg ExtractorConfig) (string, error) {
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithTimeout(ctx, cfg.PDFToTextTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx,
		"pdftotext",
		"-layout",
		"-nopgbrk",
		"-enc", "UTF-8",
		pdfPath,
		"-",
	)

	text, stderrStr, err := runCommandCaptureLimited(cmd, cfg.MaxOutputBytes+1)
	if err != nil {
		return "", classifyPdftotextErr(cfg.Logger, err, ctx, stderrStr)
	}
	return text, nil
}

// --- internals ---

func parsePages(pdfinfoOut string) (int, error) {
	matches := pageCountRegex.FindStringSubmatch(pdfinfoOut)
	if len(matches) == 2 {
		n, err := strconv.Atoi(matches[1])
		if err != nil {
			return 0, fmt.Errorf("pdfinfo: invalid page count: %w", err)
		}
		return validatePages(n)
	}

	// Fallback: scan lines to handle formatting variations
	sc := bufio.NewScanner(strings.NewReader(pdfinfoOut))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(strings.ToLower(line), "pages:") {
			fields := strings.Fields(line[len("pages:"):])
			if len(fields) == 0 {
				break
			}
			n, err := strconv.Atoi(fields[0])
			if err != nil {
				return 0, fmt.Errorf("pdfinfo: invalid page count: %w", err)
			}
			return validatePages(n)
		}
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("pdfinfo: scan failed: %w", err)
	}

	return 0, fmt.Errorf("pdfinfo: pages field not found in output")
}

func validatePages(count int) (int, error) {
	if count < 0 || count > 50000 {
		return 0, fmt.Errorf("pdfinfo: unreasonable page count: %d", count)
	}
	return count, nil
}

var errOutputLimit = errors.New("output exceeds limit")

// runCommandCaptureLimited runs cmd and captures stdout up to maxBytes (inclusive of sentinel).
// It captures stderr fully (usually small) for error reporting.
func runCommandCaptureLimited(cmd *exec.Cmd, maxBytes int64) (stdoutText string, stderrText string, err error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", "", fmt.Errorf("stdout pipe: %w", err)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", "", fmt.Errorf("start: %w", err)
	}

	lr := io.LimitReader(stdoutPipe, maxBytes)
	outBytes, readErr := io.ReadAll(lr)

	if readErr == nil && int64(len(outBytes)) >= maxBytes {
		// Stop the producer instead of waiting for it to drain.
		_ = cmd.Process.Kill()
	}

	waitErr := cmd.Wait()
	stderrStr := strings.TrimSpace(stderr.String())

	if readErr != nil {
		return "", stderrStr, fmt.Errorf("read stdout: %w", readErr)
	}
	if int64(len(outBytes)) >= maxBytes {
		return "", stderrStr, errOutputLimit
	}
	if waitErr != nil {
		return "", stderrStr, waitErr
	}

	return string(outBytes), stderrStr, nil
}

// isHelpOrUsageOutput returns true when stderr looks like a poppler
// usage / help dump rather than an actual processing error.
func isHelpOrUsageOutput(stderr string) bool {
	return strings.Contains(stderr, "version ") && strings.Contains(stderr, "Usage:")
}

var (
	passwordMarkers = []string{"Incorrect password", "Command Line Error: Incorrect password"}
	damagedMarkers  = []string{"PDF file is damaged", "Syntax Error", "Couldn't find trailer dictionary", "May not be a PDF file"}
)

func classifyPopplerErr(log *slog.Logger, tool string, err error, ctx context.Context, stderr string) error {
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%s: %w", tool, ErrTimeout)
	}
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%s: %w", tool, ErrToolMissing)
	}
	stderr = strings.TrimSpace(stderr)
	if stderr != "" {
		// Help text mentions "password" and "damaged" too; don't keyword-match it.
		if isHelpOrUsageOutput(stderr) {
			logPopplerErr(log, tool, stderr)
			return fmt.Errorf("%s failed (bad invocation): %s", tool, truncate(stderr, 200))
		}
		if containsAny(stderr, passwordMarkers...) {
			logPopplerErr(log, tool, stderr)
			return ErrPasswordProtected
		}
		if containsAny(stderr, damagedMarkers...) {
			logPopplerErr(log, tool, stderr)
			return ErrDamaged
		}
		if strings.Contains(stderr, "I/O Error") && strings.Contains(stderr, "Couldn't open file") {
			logPopplerErr(log, tool, stderr)
			return ErrUnreadable
		}
		return fmt.Errorf("%s failed: %s", tool, truncate(stderr, 500))
	}
	return fmt.Errorf("%s failed: %w", tool, err)
}

func classifyPdftotextErr(log *slog.Logger, err error, ctx context.Context, stderr string) error {
	if errors.Is(err, errOutputLimit) {
		return ErrOutputTooLarge
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("pdftotext canceled: %w", ctx.Err())
	}
	return classifyPopplerErr(log, "pdftotext", err, ctx, stderr)
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func logPopplerErr(log *slog.Logger, tool, stderr string) {
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		return
	}
	log.Debug("poppler.stderr", "tool", tool, "stderr", truncate(msg, 500))
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
