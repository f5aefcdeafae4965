package signature

import (
	"fmt"
	"strings"
)

// ParseError reports an unbalanced delimiter, the only unrecoverable parse
// condition. Position is a byte offset into the decoded string. For an
// opener that is never closed (or closed by the wrong delimiter) it points
// at the opener; for a closer with no opener it points at the closer.
type ParseError struct {
	Position  int
	Delimiter byte
	Msg       string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at position %d: %s %q", e.Position, e.Msg, string(e.Delimiter))
}

// decodeSegment applies lenient percent-decoding to a raw path segment.
// '+' decodes to a single space (multi-word names and documentation text),
// %XX decodes to its byte, and malformed escapes pass through literally so
// that decoding is total. %2B survives as a literal '+'.
func decodeSegment(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c == '+':
			b.WriteByte(' ')
		case c == '%' && i+2 < len(raw) && isHex(raw[i+1]) && isHex(raw[i+2]):
			b.WriteByte(unhex(raw[i+1])<<4 | unhex(raw[i+2]))
			i += 2
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// splitDoc separates the signature text from the free-text documentation
// suffix. The split happens at the first '|' at bracket depth zero; a '|'
// nested inside (), {}, <> or [] belongs to a union type and never splits.
// The signature part is balance-checked as a side effect; the doc part is
// free text and is not.
func splitDoc(decoded string) (sig, doc string, err *ParseError) {
	type opener struct {
		ch  byte
		pos int
	}
	var stack []opener
	for i := 0; i < len(decoded); i++ {
		c := decoded[i]
		switch c {
		case '(', '{', '<', '[':
			stack = append(stack, opener{c, i})
		case ')', '}', ']':
			if len(stack) == 0 {
				return "", "", &ParseError{Position: i, Delimiter: c, Msg: "no opener for"}
			}
			top := stack[len(stack)-1]
			if matching(top.ch) != c {
				return "", "", &ParseError{Position: top.pos, Delimiter: top.ch, Msg: "unmatched"}
			}
			stack = stack[:len(stack)-1]
		case '>':
			// '=>' is the callback-type arrow, not a generic closer.
			if i > 0 && decoded[i-1] == '=' {
				continue
			}
			if len(stack) == 0 {
				return "", "", &ParseError{Position: i, Delimiter: c, Msg: "no opener for"}
			}
			top := stack[len(stack)-1]
			if top.ch != '<' {
				return "", "", &ParseError{Position: top.pos, Delimiter: top.ch, Msg: "unmatched"}
			}
			stack = stack[:len(stack)-1]
		case '|':
			if len(stack) == 0 {
				return decoded[:i], strings.TrimSpace(decoded[i+1:]), nil
			}
		}
	}
	if len(stack) > 0 {
		top := stack[len(stack)-1]
		return "", "", &ParseError{Position: top.pos, Delimiter: top.ch, Msg: "unmatched"}
	}
	return decoded, "", nil
}

func matching(open byte) byte {
	switch open {
	case '(':
		return ')'
	case '{':
		return '}'
	case '<':
		return '>'
	default:
		return ']'
	}
}

// splitTop splits s on sep at bracket depth zero. Empty fields are dropped.
// Balance is assumed (splitDoc has already checked the signature text).
func splitTop(s string, sep byte) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '(', '{', '<', '[':
			depth++
		case ')', '}', ']':
			depth--
		case '>':
			if i > 0 && s[i-1] == '=' {
				continue
			}
			depth--
		case sep:
			if depth == 0 {
				if f := strings.TrimSpace(s[start:i]); f != "" {
					parts = append(parts, f)
				}
				start = i + 1
			}
		}
	}
	if f := strings.TrimSpace(s[start:]); f != "" {
		parts = append(parts, f)
	}
	return parts
}

// indexTop returns the index of the first sep at bracket depth zero, or -1.
func indexTop(s string, sep byte) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '(', '{', '<', '[':
			depth++
		case ')', '}', ']':
			depth--
		case '>':
			if i > 0 && s[i-1] == '=' {
				continue
			}
			depth--
		case sep:
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// matchIndex returns the index of the closer matching the opener at
// s[open]. Balance is assumed; -1 means the text ended first.
func matchIndex(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(', '{', '<', '[':
			depth++
		case ')', '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		case '>':
			if i > 0 && s[i-1] == '=' {
				continue
			}
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// collapse trims surrounding whitespace and collapses interior runs to a
// single space, so "+"-joined multi-word names normalize identically no
// matter how they were encoded.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
