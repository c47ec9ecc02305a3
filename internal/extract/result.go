package extract

import (
	"fmt"
	"sort"
	"strings"
)

type Method string

const (
	MethodPDFPrimary  Method = "pdf_primary"
	MethodPDFFallback Method = "pdf_fallback"
	MethodText        Method = "text"
	MethodDOCX        Method = "docx"
	MethodPPTX        Method = "pptx"
	MethodODP         Method = "odp"
)

// Result is produced once per document that extracted successfully.
type Result struct {
	Text      string
	PageCount int
	Method    Method
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

const (
	ReasonUnsupported  = "unsupported file type"
	ReasonInsufficient = "insufficient text"
	ReasonTooLarge     = "file too large"
)

// Outcome is the single verdict for one SourceDocument. Result is set only
// for StatusSuccess; Reason only for Skipped and Failed.
type Outcome struct {
	Doc      SourceDocument
	Status   Status
	Result   Result
	Reason   string
	MIMEType string
	Err      error
}

func Success(doc SourceDocument, res Result) Outcome {
	return Outcome{Doc: doc, Status: StatusSuccess, Result: res}
}

func Skipped(doc SourceDocument, reason string) Outcome {
	return Outcome{Doc: doc, Status: StatusSkipped, Reason: reason}
}

func Failed(doc SourceDocument, reason string, err error) Outcome {
	return Outcome{Doc: doc, Status: StatusFailed, Reason: reason, Err: err}
}

// Statistics counts successful extractions per method.
type Statistics map[Method]int

func (s Statistics) Add(m Method) { s[m]++ }

func (s Statistics) Total() int {
	n := 0
	for _, c := range s {
		n += c
	}
	return n
}

// Methods returns the methods with a non-zero count, sorted by name.
func (s Statistics) Methods() []Method {
	out := make([]Method, 0, len(s))
	for m, c := range s {
		if c > 0 {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Report holds every outcome of a run in input order.
type Report struct {
	Outcomes []Outcome
	Stats    Statistics
}

func (r Report) filter(st Status) []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == st {
			out = append(out, o)
		}
	}
	return out
}

func (r Report) Successes() []Outcome { return r.filter(StatusSuccess) }
func (r Report) Skipped() []Outcome   { return r.filter(StatusSkipped) }
func (r Report) Failed() []Outcome    { return r.filter(StatusFailed) }

// Summary renders the end-of-run text shown to operators.
func (r Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Processed %d document(s): %d succeeded, %d skipped, %d failed\n",
		len(r.Outcomes), len(r.Successes()), len(r.Skipped()), len(r.Failed()))
	if methods := r.Stats.Methods(); len(methods) > 0 {
		b.WriteString("Extraction methods:\n")
		for _, m := range methods {
			fmt.Fprintf(&b, "  %s: %d\n", m, r.Stats[m])
		}
	}
	for _, set := range []struct {
		title string
		items []Outcome
	}{{"Skipped", r.Skipped()}, {"Failed", r.Failed()}} {
		if len(set.items) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s:\n", set.title)
		for _, o := range set.items {
			fmt.Fprintf(&b, "  %s: %s\n", o.Doc.Path, o.Reason)
		}
	}
	return b.String()
}

func BuildCounts(text string) (wordCount int, charCount int) {
	charCount = len([]rune(text))
	wordCount = 0
	inWord := false
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' || r == '\r' {
			if inWord {
				wordCount++
				inWord = false
			}
			continue
		}
		inWord = true
	}
	if inWord {
		wordCount++
	}
	return
}
