package batch

import (
	"errors"
	"fmt"

	"github.com/toricodesthings/batch-summarizer/internal/extract"
)

// ErrDuplicateID is matched by DuplicateIDError.
var ErrDuplicateID = errors.New("duplicate custom id")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Body struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
}

// Record is one line of the request file.
type Record struct {
	CustomID string `json:"custom_id"`
	Method   string `json:"method"`
	URL      string `json:"url"`
	Body     Body   `json:"body"`
}

type Settings struct {
	Model     string
	Endpoint  string
	MaxTokens int
}

type DuplicateIDError struct {
	ID     string
	First  string
	Second string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("identifier collision with %s", e.First)
}

func (e *DuplicateIDError) Is(target error) bool { return target == ErrDuplicateID }

// Builder turns successful extractions into request records and refuses
// a second document that sanitizes to an id already taken.
type Builder struct {
	settings Settings
	prompt   Prompt
	seen     map[string]string
	records  []Record
}

func NewBuilder(settings Settings, prompt Prompt) *Builder {
	return &Builder{settings: settings, prompt: prompt, seen: make(map[string]string)}
}

func (b *Builder) Add(doc extract.SourceDocument, res extract.Result) (Record, error) {
	id := CustomID(doc.Stem)
	if first, ok := b.seen[id]; ok {
		return Record{}, &DuplicateIDError{ID: id, First: first, Second: doc.Path}
	}
	b.seen[id] = doc.Path

	rec := Record{
		CustomID: id,
		Method:   "POST",
		URL:      b.settings.Endpoint,
		Body: Body{
			Model:     b.settings.Model,
			Messages:  []Message{{Role: "user", Content: b.prompt.Render(res.Text)}},
			MaxTokens: b.settings.MaxTokens,
		},
	}
	b.records = append(b.records, rec)
	return rec, nil
}

// Records returns the accepted records in insertion order.
func (b *Builder) Records() []Record {
	out := make([]Record, len(b.records))
	copy(out, b.records)
	return out
}

func (b *Builder) Len() int { return len(b.records) }
