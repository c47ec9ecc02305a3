package opendocument

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"io/fs"
	"strconv"
	"strings"

	"github.com/toricodesthings/batch-summarizer/internal/extract"
)

const (
	textNS = "urn:oasis:names:tc:opendocument:xmlns:text:1.0"
	drawNS = "urn:oasis:names:tc:opendocument:xmlns:drawing:1.0"

	maxContentBytes = 64 << 20
	maxEntries      = 10000
)

// Extractor handles OpenDocument presentations.
type Extractor struct{}

func New() *Extractor { return &Extractor{} }

func (e *Extractor) Name() string           { return "document/odp" }
func (e *Extractor) Method() extract.Method { return extract.MethodODP }
func (e *Extractor) SupportedTypes() []string {
	return []string{"application/vnd.oasis.opendocument.presentation", "application/zip"}
}
func (e *Extractor) SupportedExtensions() []string { return []string{".odp"} }

func (e *Extractor) Extract(ctx context.Context, path string) (extract.Text, error) {
	if err := ctx.Err(); err != nil {
		return extract.Text{}, extract.NewError(extract.KindIO, e.Name(), err)
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return extract.Text{}, extract.NewError(extract.KindIO, e.Name(), err)
		}
		return extract.Text{}, extract.NewError(extract.KindMalformed, e.Name(), err)
	}
	defer zr.Close()
	if len(zr.File) > maxEntries {
		return extract.Text{}, extract.Errorf(extract.KindMalformed, e.Name(), "archive has %d entries (limit %d)", len(zr.File), maxEntries)
	}

	content, err := readContent(&zr.Reader)
	if err != nil {
		return extract.Text{}, extract.NewError(extract.KindMalformed, e.Name(), err)
	}

	paragraphs, frames, err := odfParagraphs(content)
	if err != nil && len(paragraphs) == 0 {
		return extract.Text{}, extract.NewError(extract.KindMalformed, e.Name(), err)
	}

	pages := frames
	if pages < 1 {
		pages = 1
	}
	return extract.Text{Content: strings.Join(paragraphs, "\n"), Pages: pages}, nil
}

func readContent(zr *zip.Reader) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != "content.xml" {
			continue
		}
		if f.UncompressedSize64 > maxContentBytes {
			return nil, errors.New("content.xml exceeds size limit")
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		b, err := io.ReadAll(io.LimitReader(rc, maxContentBytes+1))
		if err != nil {
			return nil, err
		}
		if len(b) > maxContentBytes {
			return nil, errors.New("content.xml exceeds size limit")
		}
		return b, nil
	}
	return nil, errors.New("content.xml not found")
}

// odfParagraphs returns every text:p and text:h in document order and the
// number of draw:frame elements seen on the way.
func odfParagraphs(b []byte) ([]string, int, error) {
	dec := xml.NewDecoder(bytes.NewReader(b))
	var out []string
	frames := 0

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return out, frames, nil
		}
		if err != nil {
			return out, frames, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch {
		case se.Name.Local == "frame" && isNS(se.Name, drawNS, "draw"):
			frames++
		case (se.Name.Local == "p" || se.Name.Local == "h") && isNS(se.Name, textNS, "text"):
			text, err := odfCollectText(dec)
			if text = strings.TrimSpace(text); text != "" {
				out = append(out, text)
			}
			if err != nil {
				return out, frames, err
			}
		}
	}
}

// odfCollectText reads all text inside an element until its closing tag,
// expanding text:s, text:tab and text:line-break.
func odfCollectText(dec *xml.Decoder) (string, error) {
	var sb strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return sb.String(), err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch t.Name.Local {
			case "tab":
				sb.WriteByte('\t')
			case "line-break":
				sb.WriteByte('\n')
			case "s":
				n := 1
				for _, a := range t.Attr {
					if a.Name.Local == "c" {
						if v, err := strconv.Atoi(a.Value); err == nil && v > 0 && v < 1000 {
							n = v
						}
					}
				}
				sb.WriteString(strings.Repeat(" ", n))
			}
		case xml.EndElement:
			depth--
		case xml.CharData:
			sb.Write(t)
		}
	}
	return sb.String(), nil
}

func isNS(n xml.Name, ns, prefix string) bool {
	return n.Space == ns || n.Space == prefix || n.Space == ""
}
