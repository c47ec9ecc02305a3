package extract

import "context"

// Extractor is implemented by every format strategy. Extract must not depend
// on any other extractor so strategies for one format compose freely.
type Extractor interface {
	Extract(ctx context.Context, path string) (Text, error)
	SupportedTypes() []string
	SupportedExtensions() []string
	Name() string
	Method() Method
}

// Text is the raw output of a single strategy.
type Text struct {
	Content string
	Pages   int
}
