package plaintext

import (
	"bytes"
	"context"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"

	"github.com/toricodesthings/batch-summarizer/internal/extract"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Extractor handles plain text and markdown. Content is passed through
// verbatim; markdown is not rendered or stripped.
type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Name() string { return "text" }

func (e *Extractor) Method() extract.Method { return extract.MethodText }

func (e *Extractor) SupportedTypes() []string {
	return []string{"text/plain", "text/markdown", "application/octet-stream"}
}

func (e *Extractor) SupportedExtensions() []string {
	return []string{".txt", ".text", ".md", ".markdown"}
}

func (e *Extractor) Extract(ctx context.Context, path string) (extract.Text, error) {
	if err := ctx.Err(); err != nil {
		return extract.Text{}, extract.NewError(extract.KindIO, e.Name(), err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return extract.Text{}, extract.NewError(extract.KindIO, e.Name(), err)
	}
	return extract.Text{Content: decode(b), Pages: 1}, nil
}

// decode returns b as UTF-8. A byte order mark selects the encoding when
// present; otherwise undecodable sequences are dropped.
func decode(b []byte) string {
	if utf8.Valid(b) {
		return string(bytes.TrimPrefix(b, utf8BOM))
	}
	if enc, name, certain := charset.DetermineEncoding(b, "text/plain"); certain && name != "utf-8" {
		if out, err := enc.NewDecoder().Bytes(b); err == nil {
			return strings.TrimPrefix(string(out), "\uFEFF")
		}
	}
	return strings.ToValidUTF8(string(b), "")
}
