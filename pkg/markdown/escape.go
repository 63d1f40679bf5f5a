package markdown

import (
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark/util"
)

// delimiterAhead stands for an emphasis delimiter whose character is not
// chosen yet. It is punctuation to the flanking rules and equals neither
// delimiter character.
const delimiterAhead = '•'

// isSpaceRune treats 0, the end of the block, as whitespace.
func isSpaceRune(r rune) bool {
	return r == 0 || util.IsSpaceRune(r)
}

// isWordRune reports whether r is neither whitespace nor punctuation.
func isWordRune(r rune) bool {
	return !isSpaceRune(r) && !util.IsPunctRune(r)
}

// flanking reports whether a run of delimiter c between before and after
// can open and can close emphasis.
func flanking(c byte, before, after rune) (canOpen, canClose bool) {
	bSpace, aSpace := isSpaceRune(before), isSpaceRune(after)
	bPunct, aPunct := util.IsPunctRune(before), util.IsPunctRune(after)
	left := !aSpace && (!aPunct || bSpace || bPunct)
	right := !bSpace && (!bPunct || aSpace || aPunct)
	if c == '_' {
		return left && (!right || bPunct), right && (!left || aPunct)
	}
	return left, right
}

// escape writes s, backslash-escaping the characters that would otherwise
// be read as markup. next is the rune expected after s (0 at the end of
// the block).
func (w *inlineWriter) escape(s string, next rune) {
	for i := 0; i < len(s); {
		c := s[i]
		if c == '\n' {
			w.newline()
			i++
			continue
		}
		if w.lineStart() {
			if c == ' ' || c == '\t' {
				i++
				continue
			}
			line := s[i:]
			if j := strings.IndexByte(line, '\n'); j >= 0 {
				line = line[:j]
			}
			if m := orderedMarker.FindString(line); m != "" && (len(line) == len(m) || line[len(m)] == ' ' || line[len(m)] == '\t') {
				w.buf = append(w.buf, m[:len(m)-1]...)
				w.buf = append(w.buf, '\\', m[len(m)-1])
				i += len(m)
				continue
			}
			if lineMarkup(line) || (c == '[' && w.label && w.blockStart()) {
				w.buf = append(w.buf, '\\', c)
				i++
				continue
			}
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		after := next
		if i+size < len(s) {
			after, _ = utf8.DecodeRuneInString(s[i+size:])
		}
		if needsEscape(c, w.last(), after, s[i:], w.inLink) {
			w.buf = append(w.buf, '\\')
		}
		w.buf = append(w.buf, s[i:i+size]...)
		i += size
	}
}

// lineMarkup reports whether a line starting with rest would open a block
// construct or end the paragraph.
func lineMarkup(rest string) bool {
	switch rest[0] {
	case '>':
		return true
	case '#':
		return headingMarker.MatchString(rest)
	case '-', '+', '*':
		if bulletMarker.MatchString(rest) {
			return true
		}
	case '~':
		return strings.HasPrefix(rest, "~~~")
	}
	if strings.IndexByte("-=_*", rest[0]) >= 0 && strings.Trim(rest, string(rest[0])+" \t") == "" {
		return true
	}
	return tableDelimiter(rest)
}

// tableDelimiter reports whether rest could be the delimiter row of a pipe
// table, which would turn the line above it into a table header.
func tableDelimiter(rest string) bool {
	return strings.Contains(rest, "-") && strings.Trim(rest, "-|: \t") == ""
}

func needsEscape(c byte, prev, next rune, rest string, inLink bool) bool {
	switch c {
	case '\\', '`':
		return true
	case '*':
		return !(isSpaceRune(prev) && isSpaceRune(next))
	case '_':
		if isSpaceRune(prev) && isSpaceRune(next) {
			return false
		}
		return !(isWordRune(prev) && isWordRune(next))
	case '[':
		return inLink
	case ']':
		return inLink || next == '('
	case '!':
		return next == '['
	case '<':
		return next == '/' || next == '!' || next == '?' ||
			(next >= 'a' && next <= 'z') || (next >= 'A' && next <= 'Z')
	case '&':
		return entityRef.MatchString(rest)
	}
	return false
}
