package extract

import "strings"

// Normalize cleans extracted text for prompting: unified line endings,
// invisible characters removed, trailing whitespace trimmed and blank runs
// capped at two lines. With collapseSpaces, runs of inner whitespace are
// folded to one space while leading indentation is kept; this is for
// layout-mode output padded with columns of spaces.
func Normalize(text string, collapseSpaces bool) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\f", "\n")

	text = strings.Map(func(r rune) rune {
		switch r {
		case '\u200B', '\u200C', '\u200D', '\uFEFF':
			return -1
		case '\u00A0':
			return ' '
		case '\u00AD':
			return -1
		default:
			return r
		}
	}, text)

	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	consecutiveEmpty := 0

	for _, line := range lines {
		line = strings.TrimRight(line, " \t")

		if strings.TrimSpace(line) == "" {
			consecutiveEmpty++
			if consecutiveEmpty <= 2 {
				cleaned = append(cleaned, "")
			}
			continue
		}
		consecutiveEmpty = 0

		if collapseSpaces {
			leading := len(line) - len(strings.TrimLeft(line, " \t"))
			content := strings.Join(strings.Fields(line), " ")
			line = strings.Repeat(" ", leading) + content
		}
		cleaned = append(cleaned, line)
	}

	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}
