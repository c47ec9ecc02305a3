package extract

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"
)

// MinTextLength is the smallest trimmed rune count worth sending for
// summarization. Shorter extractions are skipped.
const MinTextLength = 100

type Options struct {
	MaxFileBytes int64
	Logger       *slog.Logger
}

// Coordinator drives each SourceDocument to exactly one Outcome.
type Coordinator struct {
	registry     *Registry
	maxFileBytes int64
	log          *slog.Logger
}

func NewCoordinator(registry *Registry, opts Options) *Coordinator {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{registry: registry, maxFileBytes: opts.MaxFileBytes, log: log}
}

func (c *Coordinator) Extract(ctx context.Context, doc SourceDocument) Outcome {
	route, err := c.registry.Resolve(doc.Format)
	if err != nil {
		o := Skipped(doc, ReasonUnsupported)
		o.Err = err
		return o
	}

	info, err := os.Stat(doc.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Failed(doc, "file not found", NewError(KindIO, route.Primary.Name(), err))
	case err != nil:
		return Failed(doc, err.Error(), NewError(KindIO, route.Primary.Name(), err))
	case !info.Mode().IsRegular():
		return Failed(doc, "not a regular file", nil)
	case c.maxFileBytes > 0 && info.Size() > c.maxFileBytes:
		o := Skipped(doc, ReasonTooLarge)
		o.Err = fmt.Errorf("file size %d exceeds %dMB limit", info.Size(), c.maxFileBytes/(1<<20))
		return o
	}

	mt := sniffMIMEType(doc.Path)
	if !contentMatches(mt, route.Primary.SupportedTypes()) {
		c.log.Warn("extract.content_mismatch",
			"path", doc.Path,
			"extension", doc.Format,
			"sniffed", mt,
		)
	}

	res, err := c.run(ctx, route, doc)
	if err != nil {
		o := Failed(doc, err.Error(), err)
		o.MIMEType = mt
		return o
	}

	res.Text = Normalize(res.Text, collapsesSpaces(res.Method))
	if utf8.RuneCountInString(strings.TrimSpace(res.Text)) < MinTextLength {
		o := Skipped(doc, ReasonInsufficient)
		o.MIMEType = mt
		return o
	}

	o := Success(doc, res)
	o.MIMEType = mt
	return o
}

// run applies the primary strategy and, only for structural failures, the
// fallback exactly once.
func (c *Coordinator) run(ctx context.Context, route Route, doc SourceDocument) (Result, error) {
	text, err := route.Primary.Extract(ctx, doc.Path)
	if err == nil {
		return Result{Text: text.Content, PageCount: text.Pages, Method: route.Primary.Method()}, nil
	}
	if route.Fallback == nil || KindOf(err) != KindStructural {
		return Result{}, err
	}

	c.log.Info("extract.fallback",
		"path", doc.Path,
		"primary", route.Primary.Name(),
		"fallback", route.Fallback.Name(),
		"error", err.Error(),
	)

	text, ferr := route.Fallback.Extract(ctx, doc.Path)
	if ferr != nil {
		return Result{}, &fallbackError{primary: err, fallback: ferr}
	}
	return Result{Text: text.Content, PageCount: text.Pages, Method: route.Fallback.Method()}, nil
}

// Run extracts docs sequentially. Cancellation stops before the next
// document and returns the outcomes gathered so far with ctx.Err().
func (c *Coordinator) Run(ctx context.Context, docs []SourceDocument) (Report, error) {
	rep := Report{Outcomes: make([]Outcome, 0, len(docs)), Stats: Statistics{}}
	total := len(docs)

	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		start := time.Now()
		o := c.Extract(ctx, doc)
		rep.Outcomes = append(rep.Outcomes, o)
		if o.Status == StatusSuccess {
			rep.Stats.Add(o.Result.Method)
		}
		c.logOutcome(i+1, total, o, time.Since(start))
	}
	return rep, nil
}

func (c *Coordinator) logOutcome(index, total int, o Outcome, elapsed time.Duration) {
	attrs := []any{
		"index", fmt.Sprintf("%d/%d", index, total),
		"path", o.Doc.Path,
		"outcome", string(o.Status),
		"elapsed_ms", elapsed.Milliseconds(),
	}
	switch o.Status {
	case StatusSuccess:
		_, chars := BuildCounts(o.Result.Text)
		attrs = append(attrs,
			"method", string(o.Result.Method),
			"chars", chars,
			"pages", o.Result.PageCount,
		)
		c.log.Info("extract.document", attrs...)
	case StatusSkipped:
		c.log.Info("extract.document", append(attrs, "reason", o.Reason)...)
	default:
		attrs = append(attrs, "reason", o.Reason)
		var ee *ExtractionError
		if errors.As(o.Err, &ee) {
			attrs = append(attrs, "kind", ee.Kind.String(), "strategy", ee.Strategy)
		}
		c.log.Warn("extract.document", attrs...)
	}
}

func collapsesSpaces(m Method) bool {
	return m == MethodPDFPrimary || m == MethodPDFFallback
}

type fallbackError struct {
	primary  error
	fallback error
}

func (e *fallbackError) Error() string {
	return fmt.Sprintf("primary: %v, fallback: %v", e.primary, e.fallback)
}

func (e *fallbackError) Unwrap() []error { return []error{e.primary, e.fallback} }
