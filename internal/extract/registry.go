package extract

import (
	"strings"
)

// Route is the ordered pair of strategies for one extension. Fallback is nil
// for every format except PDF.
type Route struct {
	Primary  Extractor
	Fallback Extractor
}

type Registry struct {
	byExtension map[string]Route
	extractors  []Extractor
}

func NewRegistry() *Registry {
	return &Registry{
		byExtension: make(map[string]Route),
		extractors:  make([]Extractor, 0),
	}
}

func (r *Registry) Register(e Extractor) {
	r.extractors = append(r.extractors, e)
	for _, ext := range e.SupportedExtensions() {
		key := normalizeExt(ext)
		if key == "" {
			continue
		}
		route := r.byExtension[key]
		route.Primary = e
		r.byExtension[key] = route
	}
}

// RegisterFallback installs e as the second strategy for its extensions.
func (r *Registry) RegisterFallback(e Extractor) {
	r.extractors = append(r.extractors, e)
	for _, ext := range e.SupportedExtensions() {
		key := normalizeExt(ext)
		if key == "" {
			continue
		}
		route := r.byExtension[key]
		route.Fallback = e
		r.byExtension[key] = route
	}
}

func (r *Registry) Resolve(extension string) (Route, error) {
	ext := normalizeExt(extension)
	route, ok := r.byExtension[ext]
	if !ok || route.Primary == nil {
		return Route{}, &UnsupportedFormatError{Ext: ext}
	}
	return route, nil
}

func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.byExtension))
	for ext, route := range r.byExtension {
		if route.Primary != nil {
			out = append(out, ext)
		}
	}
	return out
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
