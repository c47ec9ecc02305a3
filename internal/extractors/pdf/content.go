package pdf

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
)

// wordGap is the TJ kerning adjustment, in thousandths of a text space unit,
// beyond which a gap is rendered as a space.
const wordGap = -200

type operandKind int

const (
	opNumber operandKind = iota
	opString
	opArray
	opName
	opOther
)

// errNoToUnicode marks a composite font whose glyph codes cannot be mapped
// back to text without a layout engine.
var errNoToUnicode = errors.New("type0 font missing ToUnicode map")

// font is the part of a page font resource the text walker needs.
type font struct {
	// composite fonts (Type0) use multi-byte codes that only a CMap can map.
	composite bool
	cmap      *toUnicode
}

func (f *font) decode(raw []byte) (string, error) {
	switch {
	case f == nil:
		return decodeTextString(raw), nil
	case f.composite && f.cmap == nil:
		return "", errNoToUnicode
	case f.composite:
		return f.cmap.decode(raw, 2), nil
	case f.cmap != nil:
		if s := f.cmap.decode(raw, 1); s != "" {
			return s, nil
		}
	}
	return decodeTextString(raw), nil
}

type operand struct {
	kind  operandKind
	num   float64
	str   string
	items []operand
}

// contentStreamText walks the text operators of a decoded content stream
// (Tj, TJ, ', ", Td, TD, T*, Tm, ET) and returns the shown strings with
// line breaks where the text line changes. Strings are decoded through the
// font selected by the last Tf; fonts may be nil.
func contentStreamText(data []byte, fonts map[string]*font) (string, error) {
	lx := &lexer{data: data}
	var sb strings.Builder
	var operands []operand
	var array []operand
	inArray := false
	var current *font
	currentName := ""

	newline := func() {
		s := sb.String()
		if len(s) > 0 && !strings.HasSuffix(s, "\n") {
			sb.WriteByte('\n')
		}
	}
	space := func() {
		s := sb.String()
		if len(s) > 0 && !strings.HasSuffix(s, " ") && !strings.HasSuffix(s, "\n") {
			sb.WriteByte(' ')
		}
	}

	for {
		tok, ok := lx.next()
		if !ok {
			break
		}
		var v operand
		switch tok.kind {
		case tokArrayStart:
			inArray = true
			array = array[:0]
			continue
		case tokArrayEnd:
			if inArray {
				items := make([]operand, len(array))
				copy(items, array)
				operands = append(operands, operand{kind: opArray, items: items})
			}
			inArray = false
			continue
		case tokString:
			str, err := current.decode(tok.raw)
			if err != nil {
				return "", fmt.Errorf("font %s: %w", currentName, err)
			}
			v = operand{kind: opString, str: str}
		case tokName:
			v = operand{kind: opName, str: string(tok.raw)}
		case tokNumber:
			n, _ := strconv.ParseFloat(string(tok.raw), 64)
			v = operand{kind: opNumber, num: n}
		case tokOther:
			v = operand{kind: opOther}
		case tokOperator:
			op := string(tok.raw)
			switch op {
			case "Tf":
				if n := len(operands); n >= 2 && operands[n-2].kind == opName {
					currentName = operands[n-2].str
					current = fonts[currentName]
				}
			case "Tj":
				if s, ok := lastString(operands); ok {
					sb.WriteString(s)
				}
			case "'":
				newline()
				if s, ok := lastString(operands); ok {
					sb.WriteString(s)
				}
			case `"`:
				newline()
				if s, ok := lastString(operands); ok {
					sb.WriteString(s)
				}
			case "TJ":
				if n := len(operands); n > 0 && operands[n-1].kind == opArray {
					for _, it := range operands[n-1].items {
						switch it.kind {
						case opString:
							sb.WriteString(it.str)
						case opNumber:
							if it.num < wordGap {
								space()
							}
						}
					}
				}
			case "Td", "TD":
				if n := len(operands); n >= 2 && operands[n-1].kind == opNumber && operands[n-1].num != 0 {
					newline()
				} else {
					space()
				}
			case "T*", "Tm", "ET":
				newline()
			case "ID":
				lx.skipInlineImage()
			}
			operands = operands[:0]
			continue
		}
		if inArray {
			array = append(array, v)
		} else {
			operands = append(operands, v)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func lastString(ops []operand) (string, bool) {
	if n := len(ops); n > 0 && ops[n-1].kind == opString {
		return ops[n-1].str, true
	}
	return "", false
}

// decodeTextString turns string bytes into text. UTF-16BE strings carry a
// byte order mark; anything else is treated as single-byte text.
func decodeTextString(raw []byte) string {
	if len(raw) >= 2 && raw[0] == 0xFE && raw[1] == 0xFF {
		body := raw[2:]
		u := make([]uint16, 0, len(body)/2)
		for i := 0; i+1 < len(body); i += 2 {
			u = append(u, uint16(body[i])<<8|uint16(body[i+1]))
		}
		return string(utf16.Decode(u))
	}
	var sb strings.Builder
	for _, b := range raw {
		switch {
		case b == '\n' || b == '\t':
			sb.WriteByte(b)
		case b == '\r':
			sb.WriteByte('\n')
		case b < 0x20 || b == 0x7F:
			// control bytes are glyph ids in symbolic fonts
		default:
			sb.WriteRune(rune(b))
		}
	}
	return sb.String()
}

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokString
	tokArrayStart
	tokArrayEnd
	tokName
	tokOperator
	tokOther
)

type token struct {
	kind tokenKind
	raw  []byte
}

type lexer struct {
	data []byte
	pos  int
}

func isWhite(b byte) bool {
	switch b {
	case ' ', '\t', '\r', '\n', '\f', 0:
		return true
	}
	return false
}

func isDelim(b byte) bool {
	switch b {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (lx *lexer) next() (token, bool) {
	for lx.pos < len(lx.data) {
		b := lx.data[lx.pos]
		switch {
		case isWhite(b):
			lx.pos++
		case b == '%':
			for lx.pos < len(lx.data) && lx.data[lx.pos] != '\n' && lx.data[lx.pos] != '\r' {
				lx.pos++
			}
		case b == '(':
			lx.pos++
			return token{kind: tokString, raw: lx.literalString()}, true
		case b == '<':
			if lx.pos+1 < len(lx.data) && lx.data[lx.pos+1] == '<' {
				lx.pos += 2
				return token{kind: tokOther}, true
			}
			lx.pos++
			return token{kind: tokString, raw: lx.hexString()}, true
		case b == '>':
			lx.pos++
			if lx.pos < len(lx.data) && lx.data[lx.pos] == '>' {
				lx.pos++
			}
			return token{kind: tokOther}, true
		case b == '[':
			lx.pos++
			return token{kind: tokArrayStart}, true
		case b == ']':
			lx.pos++
			return token{kind: tokArrayEnd}, true
		case b == '/':
			lx.pos++
			return token{kind: tokName, raw: lx.name()}, true
		case b == '{' || b == '}' || b == ')':
			lx.pos++
		default:
			word := lx.regular()
			if isNumber(word) {
				return token{kind: tokNumber, raw: word}, true
			}
			return token{kind: tokOperator, raw: word}, true
		}
	}
	return token{}, false
}

func (lx *lexer) regular() []byte {
	start := lx.pos
	for lx.pos < len(lx.data) && !isWhite(lx.data[lx.pos]) && !isDelim(lx.data[lx.pos]) {
		lx.pos++
	}
	if lx.pos == start && lx.pos < len(lx.data) {
		lx.pos++
	}
	return lx.data[start:lx.pos]
}

func (lx *lexer) name() []byte {
	start := lx.pos
	for lx.pos < len(lx.data) && !isWhite(lx.data[lx.pos]) && !isDelim(lx.data[lx.pos]) {
		lx.pos++
	}
	return lx.data[start:lx.pos]
}

func isNumber(word []byte) bool {
	if len(word) == 0 {
		return false
	}
	digits := 0
	for i, c := range word {
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '.':
		case (c == '-' || c == '+') && i == 0:
		default:
			return false
		}
	}
	return digits > 0
}

// literalString reads a (...) string after the opening paren, honouring
// nested parentheses and backslash escapes.
func (lx *lexer) literalString() []byte {
	var out []byte
	depth := 1
	for lx.pos < len(lx.data) {
		c := lx.data[lx.pos]
		lx.pos++
		switch c {
		case '\\':
			if lx.pos >= len(lx.data) {
				return out
			}
			e := lx.data[lx.pos]
			lx.pos++
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '\r':
				if lx.pos < len(lx.data) && lx.data[lx.pos] == '\n' {
					lx.pos++
				}
			case '\n':
				// line continuation
			default:
				if e >= '0' && e <= '7' {
					val := int(e - '0')
					for k := 0; k < 2 && lx.pos < len(lx.data); k++ {
						d := lx.data[lx.pos]
						if d < '0' || d > '7' {
							break
						}
						val = val*8 + int(d-'0')
						lx.pos++
					}
					out = append(out, byte(val))
				} else {
					out = append(out, e)
				}
			}
		case '(':
			depth++
			out = append(out, c)
		case ')':
			depth--
			if depth == 0 {
				return out
			}
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}
	return out
}

func (lx *lexer) hexString() []byte {
	var out []byte
	var hi byte
	half := false
	for lx.pos < len(lx.data) {
		c := lx.data[lx.pos]
		lx.pos++
		if c == '>' {
			break
		}
		v, ok := hexVal(c)
		if !ok {
			continue
		}
		if !half {
			hi = v
			half = true
			continue
		}
		out = append(out, hi<<4|v)
		half = false
	}
	if half {
		out = append(out, hi<<4)
	}
	return out
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// skipInlineImage advances past binary image data up to the EI operator.
func (lx *lexer) skipInlineImage() {
	if lx.pos < len(lx.data) && isWhite(lx.data[lx.pos]) {
		lx.pos++
	}
	for lx.pos+1 < len(lx.data) {
		if lx.data[lx.pos] == 'E' && lx.data[lx.pos+1] == 'I' &&
			(lx.pos == 0 || isWhite(lx.data[lx.pos-1])) &&
			(lx.pos+2 >= len(lx.data) || isWhite(lx.data[lx.pos+2])) {
			lx.pos += 2
			return
		}
		lx.pos++
	}
	lx.pos = len(lx.data)
}
