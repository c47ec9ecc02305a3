package office

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/toricodesthings/batch-summarizer/internal/extract"
)

const wordprocessingNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

type DOCXExtractor struct{}

func NewDOCX() *DOCXExtractor {
	return &DOCXExtractor{}
}

func (e *DOCXExtractor) Name() string           { return "document/docx" }
func (e *DOCXExtractor) Method() extract.Method { return extract.MethodDOCX }
func (e *DOCXExtractor) SupportedTypes() []string {
	return []string{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", "application/zip"}
}
func (e *DOCXExtractor) SupportedExtensions() []string { return []string{".docx"} }

func (e *DOCXExtractor) Extract(ctx context.Context, path string) (extract.Text, error) {
	if err := ctx.Err(); err != nil {
		return extract.Text{}, extract.NewError(extract.KindIO, e.Name(), err)
	}

	zr, err := openArchive(path, e.Name())
	if err != nil {
		return extract.Text{}, err
	}
	defer zr.Close()

	body, err := readZipFile(&zr.Reader, "word/document.xml", defaultMaxZipEntryBytes)
	if err != nil {
		return extract.Text{}, extract.NewError(extract.KindMalformed, e.Name(), err)
	}

	paragraphs, err := docxParagraphs(body)
	if err != nil && len(paragraphs) == 0 {
		return extract.Text{}, extract.NewError(extract.KindMalformed, e.Name(), err)
	}

	text := strings.Join(paragraphs, "\n")
	return extract.Text{Content: text, Pages: estimatePages(text)}, nil
}

// docxParagraphs walks word/document.xml and returns the text of every
// <w:p> in document order, table cells included. Text read before a
// decoding error is returned along with the error.
func docxParagraphs(b []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(b))

	var out []string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "p" || !inWordNS(se.Name) {
			continue
		}
		text, err := docxParagraph(dec)
		if text = strings.TrimSpace(text); text != "" {
			out = append(out, text)
		}
		if err != nil {
			return out, err
		}
	}
}

// docxParagraph reads one <w:p> element up to its end tag.
func docxParagraph(dec *xml.Decoder) (string, error) {
	var sb strings.Builder
	depth := 1
	inText := false

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
			if !inWordNS(t.Name) {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br", "cr":
				sb.WriteByte('\n')
			case "p":
				// Nested paragraph (text box content): keep it on its own line.
				if sb.Len() > 0 {
					sb.WriteByte('\n')
				}
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		case xml.EndElement:
			depth--
			if t.Name.Local == "t" {
				inText = false
			}
		}
	}
	return sb.String(), nil
}

// inWordNS also accepts the bare prefix for documents missing the xmlns
// declaration.
func inWordNS(n xml.Name) bool {
	return n.Space == wordprocessingNS || n.Space == "w" || n.Space == ""
}
