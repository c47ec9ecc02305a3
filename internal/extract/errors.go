package extract

import (
	"errors"
	"fmt"
)

// Kind is the closed set of extraction failure classes. The fallback decision
// is keyed off the kind, never off error text.
type Kind int

const (
	// KindMalformed is a corrupt or unparseable input.
	KindMalformed Kind = iota
	// KindStructural is a known parser limitation (bounding box or missing
	// dictionary key) that a different strategy may get past.
	KindStructural
	// KindUnsupportedFeature is encryption, password protection and similar.
	KindUnsupportedFeature
	// KindIO is a read failure on the source file.
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindStructural:
		return "structural"
	case KindUnsupportedFeature:
		return "unsupported_feature"
	case KindIO:
		return "io"
	default:
		return "malformed"
	}
}

type ExtractionError struct {
	Kind     Kind
	Strategy string
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.Err == nil {
		return e.Kind.String() + " extraction error"
	}
	return e.Err.Error()
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func NewError(kind Kind, strategy string, err error) *ExtractionError {
	return &ExtractionError{Kind: kind, Strategy: strategy, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, strategy, format string, args ...any) *ExtractionError {
	return NewError(kind, strategy, fmt.Errorf(format, args...))
}

// KindOf reports the kind of err. Unclassified errors are KindMalformed.
func KindOf(err error) Kind {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindMalformed
}

// UnsupportedFormatError is returned by the registry for extensions with no
// registered extractor.
type UnsupportedFormatError struct {
	Ext string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Ext == "" {
		return "unsupported file type (no extension)"
	}
	return fmt.Sprintf("unsupported file type %q", e.Ext)
}
