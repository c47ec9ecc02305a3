package batch

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// WordCountPlaceholder is substituted with the configured summary length.
const WordCountPlaceholder = "{WORD_COUNT}"

//go:embed prompt.txt
var defaultPrompt string

// Prompt is a summarization template with the word count already applied.
type Prompt struct {
	template string
}

// NewPrompt substitutes wordCount into template.
func NewPrompt(template string, wordCount int) Prompt {
	return Prompt{template: strings.ReplaceAll(template, WordCountPlaceholder, strconv.Itoa(wordCount))}
}

// LoadPrompt reads the template at path. A missing file selects the
// built-in template; any other read error is returned.
func LoadPrompt(path string, wordCount int) (Prompt, error) {
	if strings.TrimSpace(path) == "" {
		return NewPrompt(defaultPrompt, wordCount), nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewPrompt(defaultPrompt, wordCount), nil
	}
	if err != nil {
		return Prompt{}, fmt.Errorf("read prompt template: %w", err)
	}
	if strings.TrimSpace(string(b)) == "" {
		return Prompt{}, fmt.Errorf("prompt template %s is empty", path)
	}
	return NewPrompt(string(b), wordCount), nil
}

func (p Prompt) Template() string { return p.template }

// Render builds the user message for one document.
func (p Prompt) Render(documentText string) string {
	return p.template + "\n\nDocument text:\n" + documentText
}
