package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/toricodesthings/batch-summarizer/internal/extract"
)

var disableConfigDir sync.Once

// Primary is the fast structural strategy: pdfcpu parses the object graph and
// text is read from each page's content stream.
type Primary struct{}

func NewPrimary() *Primary { return &Primary{} }

func (e *Primary) Name() string          { return "pdf/pdfcpu" }
func (e *Primary) Method() extract.Method { return extract.MethodPDFPrimary }

func (e *Primary) SupportedTypes() []string {
	return []string{"application/pdf"}
}

func (e *Primary) SupportedExtensions() []string {
	return []string{".pdf"}
}

func (e *Primary) Extract(ctx context.Context, path string) (text extract.Text, err error) {
	defer func() {
		// pdfcpu panics on some dangling references and absent dictionary
		// entries; those are parser limitations, not corrupt input.
		if r := recover(); r != nil {
			text = extract.Text{}
			err = extract.Errorf(extract.KindStructural, e.Name(), "pdfcpu panic: %v", r)
		}
	}()

	disableConfigDir.Do(api.DisableConfigDir)

	f, err := os.Open(path)
	if err != nil {
		return extract.Text{}, extract.NewError(extract.KindIO, e.Name(), err)
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return extract.Text{}, extract.NewError(classify(err), e.Name(), fmt.Errorf("pdfcpu read: %w", err))
	}

	var all strings.Builder
	for pageNr := 1; pageNr <= pctx.PageCount; pageNr++ {
		if err := ctx.Err(); err != nil {
			return extract.Text{}, extract.NewError(extract.KindIO, e.Name(), err)
		}
		pageText, err := pageContentText(pctx, pageNr)
		if err != nil {
			return extract.Text{}, extract.NewError(classify(err), e.Name(), fmt.Errorf("page %d: %w", pageNr, err))
		}
		if all.Len() > 0 {
			all.WriteByte('\n')
		}
		all.WriteString(pageText)
	}

	return extract.Text{Content: all.String(), Pages: pctx.PageCount}, nil
}

func pageContentText(pctx *model.Context, pageNr int) (string, error) {
	r, err := pdfcpu.ExtractPageContent(pctx, pageNr)
	if err != nil {
		return "", err
	}
	if r == nil {
		// Page without a content stream.
		return "", nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return contentStreamText(data, pageFonts(pctx, pageNr))
}

// pageFonts resolves the font resources of a page, inherited ones included.
// Fonts that cannot be dereferenced are left out and decoded as single-byte
// text.
func pageFonts(pctx *model.Context, pageNr int) map[string]*font {
	_, _, inh, err := pctx.PageDict(pageNr, false)
	if err != nil || inh == nil || inh.Resources == nil {
		return nil
	}
	obj, ok := inh.Resources.Find("Font")
	if !ok {
		return nil
	}
	fontDict, err := pctx.DereferenceDict(obj)
	if err != nil || fontDict == nil {
		return nil
	}
	fonts := make(map[string]*font, len(fontDict))
	for name, ref := range fontDict {
		fd, err := pctx.DereferenceDict(ref)
		if err != nil || fd == nil {
			continue
		}
		f := &font{}
		if st := fd.NameEntry("Subtype"); st != nil && *st == "Type0" {
			f.composite = true
		}
		if o, ok := fd.Find("ToUnicode"); ok {
			f.cmap = readToUnicode(pctx, o)
		}
		fonts[name] = f
	}
	return fonts
}

func readToUnicode(pctx *model.Context, o types.Object) *toUnicode {
	sd, _, err := pctx.DereferenceStreamDict(o)
	if err != nil || sd == nil {
		return nil
	}
	if err := sd.Decode(); err != nil {
		return nil
	}
	cm := parseToUnicode(sd.Content)
	if len(cm.chars) == 0 {
		return nil
	}
	return cm
}

var (
	structuralMarkers  = []string{"bbox", "missing", "not found", "no entry", "mediabox", "cropbox", "invalid key", "dict key"}
	unsupportedMarkers = []string{"encrypt", "password", "decrypt"}
)

// classify maps pdfcpu errors to extraction kinds. Bounding-box and
// missing-key conditions are structural so the layout strategy gets a turn.
func classify(err error) extract.Kind {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return extract.KindIO
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return extract.KindIO
	}
	if errors.Is(err, errNoToUnicode) {
		return extract.KindStructural
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, unsupportedMarkers...):
		return extract.KindUnsupportedFeature
	case containsAny(msg, structuralMarkers...):
		return extract.KindStructural
	default:
		return extract.KindMalformed
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
