package pdf

import (
	"context"
	"errors"
	"os"

	"github.com/toricodesthings/batch-summarizer/internal/extract"
	"github.com/toricodesthings/batch-summarizer/internal/extractor"
)

// Fallback is the layout-tolerant strategy backed by poppler.
type Fallback struct {
	cfg extractor.ExtractorConfig
}

func NewFallback(cfg extractor.ExtractorConfig) *Fallback {
	return &Fallback{cfg: cfg}
}

func (e *Fallback) Name() string          { return "pdf/pdftotext" }
func (e *Fallback) Method() extract.Method { return extract.MethodPDFFallback }

func (e *Fallback) SupportedTypes() []string {
	return []string{"application/pdf"}
}

func (e *Fallback) SupportedExtensions() []string {
	return []string{".pdf"}
}

func (e *Fallback) Extract(ctx context.Context, path string) (extract.Text, error) {
	if _, err := os.Stat(path); err != nil {
		return extract.Text{}, extract.NewError(extract.KindIO, e.Name(), err)
	}

	// A page count is informational; a pdfinfo failure only matters when
	// it already tells us the document cannot be read.
	pages, err := extractor.PageCount(ctx, path, e.cfg)
	if err != nil && errors.Is(err, extractor.ErrPasswordProtected) {
		return extract.Text{}, extract.NewError(extract.KindUnsupportedFeature, e.Name(), err)
	}

	text, err := extractor.ExtractAllPages(ctx, path, e.cfg)
	if err != nil {
		return extract.Text{}, extract.NewError(fallbackKind(err), e.Name(), err)
	}
	return extract.Text{Content: text, Pages: pages}, nil
}

func fallbackKind(err error) extract.Kind {
	switch {
	case errors.Is(err, extractor.ErrPasswordProtected):
		return extract.KindUnsupportedFeature
	case errors.Is(err, extractor.ErrUnreadable), errors.Is(err, extractor.ErrToolMissing),
		errors.Is(err, extractor.ErrTimeout), errors.Is(err, context.Canceled):
		return extract.KindIO
	default:
		return extract.KindMalformed
	}
}
