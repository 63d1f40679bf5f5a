package markdown

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark/util"
)

// Serialize renders doc as markdown. Blocks are separated by a blank line
// and command blocks are skipped. The output carries no trailing newline.
func Serialize(doc Document) string {
	parts := make([]string, 0, len(doc))
	for _, b := range doc {
		switch {
		case b.Kind == KindCommand:
			continue
		case b.Kind.Level() > 0:
			parts = append(parts, renderHeading(b))
		case b.Kind == KindBlockquote:
			parts = append(parts, renderQuote(b.PlainText()))
		case b.Kind == KindCode:
			parts = append(parts, renderCode(b.Lang, b.PlainText()))
		default:
			parts = append(parts, renderInline(b.Children, '\n'))
		}
	}
	return strings.Join(parts, "\n\n")
}

func renderHeading(b Block) string {
	marker := strings.Repeat("#", b.Level())
	runs := make([]Run, len(b.Children))
	for i, r := range b.Children {
		r.Text = strings.ReplaceAll(r.Text, "\n", " ")
		runs[i] = r
	}
	body := renderInline(runs, ' ')
	if strings.TrimSpace(body) == "" {
		return marker
	}
	// A trailing run of hashes would be read as a closing sequence.
	if m := trailingHashes.FindStringSubmatchIndex(body); m != nil {
		body = body[:m[2]] + `\` + body[m[2]:]
	}
	return marker + " " + body
}

func renderQuote(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		if l == "" {
			lines[i] = ">"
			continue
		}
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n")
}

func renderCode(lang, text string) string {
	char := byte('`')
	if strings.ContainsRune(lang, '`') {
		char = '~'
	}
	fence := strings.Repeat(string(char), max(3, longestRun(text, char)+1))
	lang = strings.ReplaceAll(lang, "\n", " ")
	if text == "" {
		return fence + lang + "\n" + fence
	}
	return fence + lang + "\n" + text + "\n" + fence
}

func longestRun(s string, c byte) int {
	longest, cur := 0, 0
	for i := 0; i < len(s); i++ {
		if s[i] != c {
			cur = 0
			continue
		}
		cur++
		longest = max(longest, cur)
	}
	return longest
}

// Inline rendering groups runs by target, then bold, then italic, so that a
// style shared by neighbouring runs is opened once.
const (
	levelTarget = iota
	levelBold
	levelItalic
	levelLeaf
)

type inlineWriter struct {
	buf    []byte
	ctx    rune // rune preceding the output
	inLink bool
	label  bool // the block reads like a link reference definition
	ref    bool // spell the next text rune as a character reference
	mark   int  // buffer length after the last emphasis delimiter
}

// renderInline renders runs; ctx is the rune preceding the output ('\n'
// for a block start).
func renderInline(runs []Run, ctx rune) string {
	runs = trimEnd(mergeRuns(runs))
	w := &inlineWriter{ctx: ctx, mark: -1}
	if ctx == '\n' {
		var sb strings.Builder
		for _, r := range runs {
			sb.WriteString(r.Text)
		}
		w.label = linkLabel.MatchString(strings.TrimLeft(sb.String(), " \t"))
	}
	w.targets(runs, 0)
	return string(w.buf)
}

// trimEnd drops the whitespace ending the last text runs, which the parser
// strips from the final line.
func trimEnd(runs []Run) []Run {
	for len(runs) > 0 {
		r := &runs[len(runs)-1]
		if r.Code || r.Raw || r.Image != "" || r.Href != "" {
			break
		}
		r.Text = strings.TrimRight(r.Text, " \t\n")
		if r.Text != "" {
			break
		}
		runs = runs[:len(runs)-1]
	}
	return runs
}

func (w *inlineWriter) last() rune {
	if len(w.buf) == 0 {
		return w.ctx
	}
	r, _ := utf8.DecodeLastRune(w.buf)
	return r
}

func (w *inlineWriter) lineStart() bool { return w.last() == '\n' }

func (w *inlineWriter) blockStart() bool { return len(w.buf) == 0 && w.ctx == '\n' }

func (w *inlineWriter) write(s string) {
	w.ref = false
	w.buf = append(w.buf, s...)
}

// newline ends the current line. An empty line or one ending in blanks
// gets a visible hard break so the parser keeps it as written.
func (w *inlineWriter) newline() {
	switch w.last() {
	case '\n', ' ', '\t':
		w.buf = append(w.buf, '\\', '\n')
	default:
		w.buf = append(w.buf, '\n')
	}
}

func targetOf(r Run) string {
	if r.Image != "" {
		return ""
	}
	return r.Href
}

func (w *inlineWriter) targets(runs []Run, next rune) {
	for i := 0; i < len(runs); {
		href := targetOf(runs[i])
		j := i + 1
		for j < len(runs) && targetOf(runs[j]) == href {
			j++
		}
		group, after := runs[i:j], nextRune(runs[j:], next, levelTarget)
		if href == "" {
			w.emphasis(group, after, levelBold)
		} else {
			w.write("[")
			w.inLink = true
			w.emphasis(group, ']', levelBold)
			w.inLink = false
			w.write("](" + destination(href) + ")")
		}
		i = j
	}
}

func styleAt(r Run, level int) bool {
	if level == levelBold {
		return r.Bold
	}
	return r.Italic
}

func (w *inlineWriter) emphasis(runs []Run, next rune, level int) {
	for i := 0; i < len(runs); {
		on := styleAt(runs[i], level)
		j := i + 1
		for j < len(runs) && styleAt(runs[j], level) == on {
			j++
		}
		group, after := runs[i:j], nextRune(runs[j:], next, level)
		switch {
		case !on && level == levelBold:
			w.emphasis(group, after, levelItalic)
		case !on:
			w.leaves(group, after)
		default:
			w.wrap(group, after, level)
		}
		i = j
	}
}

// wrap emits group inside emphasis delimiters, keeping surrounding
// whitespace outside of them. The delimiter character is the first one
// that opens and closes where it stands. When none does, the rune that
// blocks it is written as a character reference instead.
func (w *inlineWriter) wrap(group []Run, next rune, level int) {
	lead, inner, trail := splitSpace(group)
	w.escape(lead, 0)
	if blankRuns(inner) {
		w.escape(trail, next)
		return
	}
	after := next
	if trail != "" {
		after, _ = utf8.DecodeRuneInString(trail)
	}
	before, taken := w.last(), w.trailingDelimiter()
	chars, n := "_*", 1
	if level == levelBold {
		chars, n = "*_", 2
	}
	for i := 0; i < len(chars); i++ {
		c := chars[i]
		if c == taken || after == rune(c) {
			continue
		}
		if body := w.content(inner, level, c); fits(c, before, body, after) {
			w.emit(strings.Repeat(string(c), n), body)
			w.escape(trail, next)
			return
		}
	}
	// A bold span that is italic throughout can share one run of three.
	if level == levelBold && allItalic(inner) && taken != '*' && after != '*' {
		if body := w.content(inner, levelItalic, '*'); fits('*', before, body, after) {
			w.emit("***", body)
			w.escape(trail, next)
			return
		}
	}

	c := byte('*')
	if taken == '*' || after == '*' {
		c = '_'
	}
	body := w.content(inner, level, c)
	if body == "" {
		w.escape(trail, next)
		return
	}
	first, _ := utf8.DecodeRuneInString(body)
	last, _ := utf8.DecodeLastRuneInString(body)
	if canOpen, _ := flanking(c, before, first); !canOpen && len(w.buf) > 0 {
		w.spellLast()
	}
	w.emit(strings.Repeat(string(c), n), body)
	if _, canClose := flanking(c, last, after); !canClose {
		w.ref = true
	}
	w.escape(trail, next)
}

// content renders the runs inside a span delimited by c.
func (w *inlineWriter) content(inner []Run, level int, c byte) string {
	sub := &inlineWriter{ctx: rune(c), inLink: w.inLink, mark: -1}
	if level == levelBold {
		sub.emphasis(inner, rune(c), levelItalic)
	} else {
		sub.leaves(inner, rune(c))
	}
	return string(sub.buf)
}

func fits(c byte, before rune, body string, after rune) bool {
	if body == "" {
		return false
	}
	first, _ := utf8.DecodeRuneInString(body)
	last, _ := utf8.DecodeLastRuneInString(body)
	canOpen, _ := flanking(c, before, first)
	_, canClose := flanking(c, last, after)
	return canOpen && canClose
}

func (w *inlineWriter) emit(delim, body string) {
	w.write(delim)
	w.buf = append(w.buf, body...)
	w.buf = append(w.buf, delim...)
	w.mark = len(w.buf)
}

// trailingDelimiter returns the emphasis character the output ends with
// when it is not escaped, or 0.
func (w *inlineWriter) trailingDelimiter() byte {
	if len(w.buf) == 0 {
		if w.ctx == '*' || w.ctx == '_' {
			return byte(w.ctx)
		}
		return 0
	}
	n := len(w.buf) - 1
	if c := w.buf[n]; (c == '*' || c == '_') && !escapedAt(w.buf, n) {
		return c
	}
	return 0
}

// escapedAt reports whether b[i] follows an odd number of backslashes.
func escapedAt(b []byte, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && b[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}

// spellLast rewrites the last rune of the output as a character reference,
// which the flanking rules read as punctuation.
func (w *inlineWriter) spellLast() {
	r, size := utf8.DecodeLastRune(w.buf)
	w.buf = w.buf[:len(w.buf)-size]
	// An intraword underscore would now sit next to punctuation.
	if n := len(w.buf); n > 0 && n != w.mark && w.buf[n-1] == '_' && !escapedAt(w.buf, n-1) {
		w.buf = append(w.buf[:n-1], '\\', '_')
	}
	w.buf = appendReference(w.buf, r)
}

func appendReference(b []byte, r rune) []byte {
	b = append(b, "&#"...)
	b = strconv.AppendInt(b, int64(r), 10)
	return append(b, ';')
}

func allItalic(runs []Run) bool {
	for _, r := range runs {
		if !r.Italic && (r.Text != "" || r.Image != "") {
			return false
		}
	}
	return true
}

func (w *inlineWriter) leaves(runs []Run, next rune) {
	for i, r := range runs {
		after := nextRune(runs[i+1:], next, levelLeaf)
		switch {
		case r.Image != "":
			w.write("![")
			inLink := w.inLink
			w.inLink = true
			w.escape(r.Text, ']')
			w.inLink = inLink
			w.write("](" + destination(r.Image) + ")")
		case r.Raw:
			w.write(r.Text)
		case r.Code:
			w.write(codeSpan(r.Text))
		default:
			w.text(r.Text, after)
		}
	}
}

func (w *inlineWriter) text(s string, next rune) {
	if w.ref && s != "" {
		r, size := utf8.DecodeRuneInString(s)
		w.buf = appendReference(w.buf, r)
		s = s[size:]
	}
	w.ref = false
	w.escape(s, next)
}

// nextRune estimates the first rune the rendering of runs produces at the
// given grouping level, falling back to next when runs render nothing.
func nextRune(runs []Run, next rune, level int) rune {
	for _, r := range runs {
		if r.Image != "" {
			return '!'
		}
		if level <= levelTarget && r.Href != "" {
			return '['
		}
		if r.Text == "" {
			continue
		}
		first, _ := utf8.DecodeRuneInString(r.Text)
		styled := (level <= levelBold && r.Bold) || (level <= levelItalic && r.Italic)
		switch {
		case styled && !r.Code && !r.Raw && util.IsSpaceRune(first):
			return first
		case styled:
			return delimiterAhead
		case r.Code:
			return '`'
		}
		return first
	}
	return next
}

// splitSpace moves leading and trailing whitespace of plain-text runs out
// of group.
func splitSpace(group []Run) (lead string, inner []Run, trail string) {
	inner = append([]Run(nil), group...)
	for i := range inner {
		r := &inner[i]
		if r.Code || r.Raw || r.Image != "" {
			break
		}
		t := strings.TrimLeftFunc(r.Text, util.IsSpaceRune)
		lead += r.Text[:len(r.Text)-len(t)]
		r.Text = t
		if t != "" {
			break
		}
	}
	for i := len(inner) - 1; i >= 0; i-- {
		r := &inner[i]
		if r.Code || r.Raw || r.Image != "" {
			break
		}
		t := strings.TrimRightFunc(r.Text, util.IsSpaceRune)
		trail = r.Text[len(t):] + trail
		r.Text = t
		if t != "" {
			break
		}
	}
	return lead, inner, trail
}

func blankRuns(runs []Run) bool {
	for _, r := range runs {
		if r.Text != "" || r.Image != "" {
			return false
		}
	}
	return true
}

func codeSpan(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if s == "" {
		return ""
	}
	fence := strings.Repeat("`", longestRun(s, '`')+1)
	if s[0] == '`' || s[len(s)-1] == '`' ||
		(s[0] == ' ' && s[len(s)-1] == ' ' && strings.Trim(s, " ") != "") {
		s = " " + s + " "
	}
	return fence + s + fence
}

// destination renders a link target, switching to the angle-bracket form
// when the target holds spaces or unbalanced parentheses.
func destination(u string) string {
	u = strings.NewReplacer("\r", "", "\n", "").Replace(u)
	angle := strings.ContainsAny(u, " \t<>") || !balancedParens(u)
	var sb strings.Builder
	if angle {
		sb.WriteByte('<')
	}
	for i := 0; i < len(u); i++ {
		c := u[i]
		switch {
		case c == '\\':
			sb.WriteString(`\\`)
			continue
		case angle && (c == '<' || c == '>'):
			sb.WriteByte('\\')
		case c == '&' && entityRef.MatchString(u[i:]):
			sb.WriteByte('\\')
		}
		sb.WriteByte(c)
	}
	if angle {
		sb.WriteByte('>')
	}
	return sb.String()
}

func balancedParens(s string) bool {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}
