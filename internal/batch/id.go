package batch

import "strings"

const (
	// IDPrefix is prepended to every sanitized stem.
	IDPrefix = "summary-"
	// MaxStemLength leaves room for IDPrefix inside the 64 character limit
	// the remote service puts on custom ids.
	MaxStemLength = 55
)

var idReplacer = strings.NewReplacer("%", "_", " ", "_", "&", "and")

// SanitizeID maps a file stem to the identifier used in request ids and
// artifact names. It is deterministic; distinct stems may collide.
func SanitizeID(stem string) string {
	s := idReplacer.Replace(stem)
	r := []rune(s)
	if len(r) > MaxStemLength {
		r = r[:MaxStemLength]
	}
	return string(r)
}

func CustomID(stem string) string {
	return IDPrefix + SanitizeID(stem)
}

// SourceID recovers the sanitized identifier from a custom id.
func SourceID(customID string) string {
	return strings.TrimPrefix(customID, IDPrefix)
}
