package office

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/toricodesthings/batch-summarizer/internal/extract"
)

const (
	presentationNS = "http://schemas.openxmlformats.org/presentationml/2006/main"
	drawingNS      = "http://schemas.openxmlformats.org/drawingml/2006/main"
)

var slideNameRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

type PPTXExtractor struct{}

func NewPPTX() *PPTXExtractor {
	return &PPTXExtractor{}
}

func (e *PPTXExtractor) Name() string           { return "document/pptx" }
func (e *PPTXExtractor) Method() extract.Method { return extract.MethodPPTX }
func (e *PPTXExtractor) SupportedTypes() []string {
	return []string{"application/vnd.openxmlformats-officedocument.presentationml.presentation", "application/zip"}
}
func (e *PPTXExtractor) SupportedExtensions() []string { return []string{".pptx"} }

func (e *PPTXExtractor) Extract(ctx context.Context, path string) (extract.Text, error) {
	if err := ctx.Err(); err != nil {
		return extract.Text{}, extract.NewError(extract.KindIO, e.Name(), err)
	}

	zr, err := openArchive(path, e.Name())
	if err != nil {
		return extract.Text{}, err
	}
	defer zr.Close()

	slides := presentationOrder(&zr.Reader)
	if len(slides) == 0 {
		slides = numericOrder(&zr.Reader)
	}

	var shapes []string
	for _, s := range slides {
		b, err := readZipFile(&zr.Reader, s, defaultMaxZipEntryBytes)
		if err != nil {
			return extract.Text{}, extract.NewError(extract.KindMalformed, e.Name(), err)
		}
		texts, err := pptxShapeTexts(b)
		shapes = append(shapes, texts...)
		if err != nil && len(texts) == 0 {
			return extract.Text{}, extract.Errorf(extract.KindMalformed, e.Name(), "%s: %w", s, err)
		}
	}

	return extract.Text{Content: strings.Join(shapes, "\n"), Pages: len(slides)}, nil
}

type presentationXML struct {
	SlideIDs []struct {
		RID string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
	} `xml:"sldIdLst>sldId"`
}

type relationshipsXML struct {
	Relationships []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

// presentationOrder lists slide parts in the order of the deck's sldIdLst,
// which is the order the slides are shown in. It returns nil when the
// presentation part or its relationships are missing or unreadable.
func presentationOrder(zr *zip.Reader) []string {
	presB, err := readZipFile(zr, "ppt/presentation.xml", defaultMaxZipEntryBytes)
	if err != nil {
		return nil
	}
	relsB, err := readZipFile(zr, "ppt/_rels/presentation.xml.rels", defaultMaxZipEntryBytes)
	if err != nil {
		return nil
	}
	var pres presentationXML
	if err := xml.Unmarshal(presB, &pres); err != nil {
		return nil
	}
	var rels relationshipsXML
	if err := xml.Unmarshal(relsB, &rels); err != nil {
		return nil
	}

	targets := make(map[string]string, len(rels.Relationships))
	for _, r := range rels.Relationships {
		t := r.Target
		if strings.HasPrefix(t, "/") {
			t = strings.TrimPrefix(t, "/")
		} else {
			t = path.Join("ppt", t)
		}
		targets[r.ID] = t
	}
	present := make(map[string]bool, len(zr.File))
	for _, f := range zr.File {
		present[f.Name] = true
	}

	var slides []string
	for _, id := range pres.SlideIDs {
		if t, ok := targets[id.RID]; ok && present[t] {
			slides = append(slides, t)
		}
	}
	return slides
}

// numericOrder lists ppt/slides/slideN.xml parts by N, so slide10 follows
// slide9.
func numericOrder(zr *zip.Reader) []string {
	type slide struct {
		num  int
		name string
	}
	var slides []slide
	for _, f := range zr.File {
		m := slideNameRe.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		slides = append(slides, slide{num: n, name: f.Name})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })
	names := make([]string, len(slides))
	for i, s := range slides {
		names[i] = s.name
	}
	return names
}

// pptxShapeTexts returns the text of every text-bearing <p:sp> on a slide.
// Paragraphs of one shape are joined by newlines.
func pptxShapeTexts(b []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(b))

	var shapes []string
	var paras []string
	var para strings.Builder
	shapeDepth := 0
	inText := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return shapes, nil
		}
		if err != nil {
			return shapes, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Local == "sp" && inNS(t.Name, presentationNS):
				shapeDepth++
				if shapeDepth == 1 {
					paras = nil
				}
			case shapeDepth > 0 && t.Name.Local == "p" && inNS(t.Name, drawingNS):
				para.Reset()
			case shapeDepth > 0 && t.Name.Local == "t" && inNS(t.Name, drawingNS):
				inText = true
			case shapeDepth > 0 && t.Name.Local == "br" && inNS(t.Name, drawingNS):
				para.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		case xml.EndElement:
			switch {
			case t.Name.Local == "t" && inNS(t.Name, drawingNS):
				inText = false
			case shapeDepth > 0 && t.Name.Local == "p" && inNS(t.Name, drawingNS):
				if s := strings.TrimSpace(para.String()); s != "" {
					paras = append(paras, s)
				}
				para.Reset()
			case t.Name.Local == "sp" && inNS(t.Name, presentationNS):
				shapeDepth--
				if shapeDepth == 0 && len(paras) > 0 {
					shapes = append(shapes, strings.Join(paras, "\n"))
					paras = nil
				}
			}
		}
	}
}

func inNS(n xml.Name, ns string) bool {
	if n.Space == ns || n.Space == "" {
		return true
	}
	switch ns {
	case presentationNS:
		return n.Space == "p"
	case drawingNS:
		return n.Space == "a"
	}
	return false
}
