package pdf

import (
	"strings"
	"unicode/utf16"
)

// maxRangeCodes bounds how many codes a single bfrange may expand to.
const maxRangeCodes = 1 << 16

type codeRange struct {
	lo, hi []byte
}

// toUnicode is a parsed ToUnicode CMap: the codespace decides how many bytes
// make up one character code, bfchar and bfrange map codes to text.
type toUnicode struct {
	codespace []codeRange
	chars     map[uint32]string
}

// parseToUnicode reads the bfchar, bfrange and codespacerange sections of a
// decoded CMap stream. Everything else in the PostScript wrapper is ignored.
func parseToUnicode(data []byte) *toUnicode {
	cm := &toUnicode{chars: make(map[uint32]string)}
	lx := &lexer{data: data}

	type entry struct {
		raw   []byte
		items [][]byte
		array bool
	}
	var (
		entries []entry
		array   [][]byte
		inArray bool
	)

	for {
		tok, ok := lx.next()
		if !ok {
			break
		}
		switch tok.kind {
		case tokArrayStart:
			inArray = true
			array = nil
		case tokArrayEnd:
			if inArray {
				entries = append(entries, entry{items: array, array: true})
			}
			inArray = false
		case tokString:
			if inArray {
				array = append(array, tok.raw)
			} else {
				entries = append(entries, entry{raw: tok.raw})
			}
		case tokOperator:
			switch string(tok.raw) {
			case "endcodespacerange":
				for i := 0; i+1 < len(entries); i += 2 {
					lo, hi := entries[i].raw, entries[i+1].raw
					if len(lo) > 0 && len(lo) == len(hi) {
						cm.codespace = append(cm.codespace, codeRange{lo: lo, hi: hi})
					}
				}
			case "endbfchar":
				for i := 0; i+1 < len(entries); i += 2 {
					if len(entries[i].raw) > 0 {
						cm.chars[codeValue(entries[i].raw)] = utf16Text(entries[i+1].raw)
					}
				}
			case "endbfrange":
				for i := 0; i+2 < len(entries); i += 3 {
					cm.addRange(entries[i].raw, entries[i+1].raw, entries[i+2].raw, entries[i+2].items, entries[i+2].array)
				}
			}
			entries = entries[:0]
		}
	}
	return cm
}

func (cm *toUnicode) addRange(lo, hi, dst []byte, items [][]byte, isArray bool) {
	if len(lo) == 0 || len(hi) == 0 {
		return
	}
	start, end := codeValue(lo), codeValue(hi)
	if end < start || end-start >= maxRangeCodes {
		return
	}
	if isArray {
		for i, it := range items {
			if start+uint32(i) > end {
				break
			}
			cm.chars[start+uint32(i)] = utf16Text(it)
		}
		return
	}
	units := utf16Units(dst)
	if len(units) == 0 {
		return
	}
	for c := start; c <= end; c++ {
		u := append([]uint16(nil), units...)
		u[len(u)-1] += uint16(c - start)
		cm.chars[c] = string(utf16.Decode(u))
	}
}

// decode maps the bytes of a shown string to text. Codes without a mapping
// are dropped.
func (cm *toUnicode) decode(raw []byte, defaultWidth int) string {
	var sb strings.Builder
	for i := 0; i < len(raw); {
		n := cm.codeLength(raw[i:], defaultWidth)
		if txt, ok := cm.chars[codeValue(raw[i:i+n])]; ok {
			sb.WriteString(txt)
		}
		i += n
	}
	return sb.String()
}

func (cm *toUnicode) codeLength(b []byte, defaultWidth int) int {
	for _, r := range cm.codespace {
		n := len(r.lo)
		if n > len(b) {
			continue
		}
		inside := true
		for k := 0; k < n; k++ {
			if b[k] < r.lo[k] || b[k] > r.hi[k] {
				inside = false
				break
			}
		}
		if inside {
			return n
		}
	}
	if defaultWidth > len(b) || defaultWidth < 1 {
		return len(b)
	}
	return defaultWidth
}

func codeValue(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v
}

func utf16Units(b []byte) []uint16 {
	u := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		u = append(u, uint16(b[i])<<8|uint16(b[i+1]))
	}
	if len(b)%2 == 1 {
		u = append(u, uint16(b[len(b)-1]))
	}
	return u
}

func utf16Text(b []byte) string {
	return string(utf16.Decode(utf16Units(b)))
}
