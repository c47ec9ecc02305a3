package extract

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// SourceDocument is one input file. Format is the lower-cased extension and
// Stem the base name without it.
type SourceDocument struct {
	Path   string
	Format string
	Stem   string
}

func NewSourceDocument(path string) SourceDocument {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return SourceDocument{
		Path:   path,
		Format: strings.ToLower(ext),
		Stem:   strings.TrimSuffix(base, ext),
	}
}

func sniffMIMEType(path string) string {
	m, err := mimetype.DetectFile(path)
	if err == nil && m != nil {
		return strings.ToLower(strings.TrimSpace(m.String()))
	}

	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	if n <= 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(http.DetectContentType(buf[:n])))
}

// contentMatches reports whether the sniffed type is one the extractor
// declares. Types without a declaration are accepted.
func contentMatches(sniffed string, declared []string) bool {
	if sniffed == "" || len(declared) == 0 {
		return true
	}
	for _, d := range declared {
		if mimetype.EqualsAny(sniffed, d) {
			return true
		}
	}
	// mimetype reports the most specific type; walk the parents as well.
	if m := mimetype.Lookup(baseType(sniffed)); m != nil {
		for p := m.Parent(); p != nil; p = p.Parent() {
			for _, d := range declared {
				if p.Is(d) {
					return true
				}
			}
		}
	}
	return false
}

func baseType(mt string) string {
	if i := strings.Index(mt, ";"); i > 0 {
		return strings.TrimSpace(mt[:i])
	}
	return mt
}
