package markdown

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// Policy controls what the parser does with block constructs the document
// model cannot represent (lists, tables, thematic breaks, HTML blocks).
type Policy int

const (
	// DropUnsupported discards unsupported blocks.
	DropUnsupported Policy = iota
	// PreserveUnsupported keeps the source of an unsupported block as a
	// paragraph holding a single raw run.
	PreserveUnsupported
)

// Tables are enabled so that pipe tables are recognised as one block
// instead of being read as paragraphs.
var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// Option configures a Parser.
type Option func(*Parser)

// WithUnsupported sets the policy for unsupported blocks.
func WithUnsupported(p Policy) Option {
	return func(ps *Parser) {
		ps.unsupported = p
	}
}

// Parser converts markdown text into a Document. A Parser is immutable and
// safe for concurrent use.
type Parser struct {
	unsupported Policy
}

// NewParser returns a parser with the given options applied.
func NewParser(opts ...Option) *Parser {
	p := &Parser{unsupported: DropUnsupported}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var defaultParser = NewParser()

// Deserialize parses markdown into a Document, dropping unsupported blocks.
// Blank input yields an empty document.
func Deserialize(markdown string) Document {
	return defaultParser.Parse(markdown)
}

// NormalizeNewlines converts CRLF and CR line endings to LF.
func NormalizeNewlines(s string) string {
	if !strings.ContainsRune(s, '\r') {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// Parse converts markdown into a Document.
func (p *Parser) Parse(markdown string) Document {
	buf := []byte(NormalizeNewlines(markdown))
	root := md.Parser().Parse(text.NewReader(buf))
	src := newSource(buf)

	var nodes []ast.Node
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		nodes = append(nodes, n)
	}
	spans := make([]span, len(nodes))
	for i, n := range nodes {
		spans[i] = src.spanOf(n)
	}

	doc := Document{}
	prevLast := -1
	for i, n := range nodes {
		sp := spans[i]
		switch n := n.(type) {
		case *ast.Heading:
			doc = append(doc, Block{Kind: HeadingKind(n.Level), Children: inlineRuns(n, buf)})
		case *ast.Paragraph:
			doc = append(doc, Block{Kind: KindParagraph, Children: inlineRuns(n, buf)})
		case *ast.FencedCodeBlock:
			lang := ""
			if n.Info != nil {
				lang = string(n.Info.Segment.Value(buf))
			}
			doc = append(doc, NewCode(lang, codeText(n, buf)))
		case *ast.CodeBlock:
			doc = append(doc, NewCode("", codeText(n, buf)))
		case *ast.Blockquote:
			doc = append(doc, NewBlockquote(quoteText(src, sp, prevLast, nextStart(spans, i, src))))
		default:
			if p.unsupported == PreserveUnsupported {
				if raw, ok := rawBlock(src, n, spans, i, prevLast); ok {
					doc = append(doc, Block{Kind: KindParagraph, Children: []Run{{Text: raw, Raw: true}}})
				}
			}
		}
		if sp.ok {
			prevLast = max(prevLast, sp.last)
		}
	}
	return doc
}

// nextStart returns the first line of the block after i, or the line count
// when i is the last block. It returns -1 when the next block owns no
// segment and its position is unknown.
func nextStart(spans []span, i int, src *source) int {
	if i+1 >= len(spans) {
		return src.lines()
	}
	if !spans[i+1].ok {
		return -1
	}
	return spans[i+1].first
}

func quoteText(src *source, sp span, prevLast, next int) string {
	if !sp.ok {
		return ""
	}
	first, last := sp.first, sp.last
	for first-1 > prevLast && isQuoteLine(src.line(first-1)) {
		first--
	}
	limit := next
	if limit < 0 {
		limit = last + 1
	}
	for last+1 < limit && isQuoteLine(src.line(last+1)) {
		last++
	}
	return unquote(src.text(first, last))
}

// rawBlock recovers the source text of an unsupported top-level block.
func rawBlock(src *source, n ast.Node, spans []span, i, prevLast int) (string, bool) {
	sp := spans[i]
	if !sp.ok {
		if n.Kind() != ast.KindThematicBreak {
			return "", false
		}
		limit := nextStart(spans, i, src)
		if limit < 0 {
			limit = src.lines()
		}
		for l := prevLast + 1; l < limit; l++ {
			if thematicBreak.MatchString(src.line(l)) {
				return strings.TrimSpace(src.line(l)), true
			}
		}
		return "---", true
	}
	last := sp.last
	if next := nextStart(spans, i, src); next >= 0 {
		last = max(last, next-1)
	}
	for last > sp.last && src.blank(last) {
		last--
	}
	return src.text(sp.first, last), true
}

func codeText(n ast.Node, buf []byte) string {
	var sb strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(buf))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// style is the set of inline styles accumulated while descending the
// inline tree.
type style struct {
	bold, italic bool
	href         string
}

func inlineRuns(n ast.Node, buf []byte) []Run {
	return mergeRuns(collectRuns(n, buf, style{}, nil))
}

func collectRuns(n ast.Node, buf []byte, st style, out []Run) []Run {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch c := c.(type) {
		case *ast.Text:
			out = append(out, st.run(unescape(c.Segment.Value(buf))))
			if c.SoftLineBreak() || c.HardLineBreak() {
				out = append(out, st.run("\n"))
			}
		case *ast.String:
			out = append(out, st.run(string(c.Value)))
		case *ast.CodeSpan:
			r := st.run(codeSpanText(c, buf))
			r.Code = true
			out = append(out, r)
		case *ast.Emphasis:
			inner := st
			if c.Level >= 2 {
				inner.bold = true
			} else {
				inner.italic = true
			}
			out = collectRuns(c, buf, inner, out)
		case *ast.Link:
			inner := st
			inner.href = unescape(c.Destination)
			out = collectRuns(c, buf, inner, out)
		case *ast.Image:
			r := st.run(plainText(c, buf))
			r.Image = unescape(c.Destination)
			r.Href = ""
			out = append(out, r)
		case *ast.AutoLink:
			r := st.run("<" + string(c.Label(buf)) + ">")
			r.Raw = true
			out = append(out, r)
		case *ast.RawHTML:
			var sb strings.Builder
			for i := 0; i < c.Segments.Len(); i++ {
				seg := c.Segments.At(i)
				sb.Write(seg.Value(buf))
			}
			r := st.run(sb.String())
			r.Raw = true
			out = append(out, r)
		default:
			out = collectRuns(c, buf, st, out)
		}
	}
	return out
}

func (st style) run(text string) Run {
	return Run{Text: text, Bold: st.bold, Italic: st.italic, Href: st.href}
}

func codeSpanText(n *ast.CodeSpan, buf []byte) string {
	var sb strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		t, ok := c.(*ast.Text)
		if !ok {
			continue
		}
		v := t.Segment.Value(buf)
		if len(v) > 0 && v[len(v)-1] == '\n' {
			sb.Write(v[:len(v)-1])
			sb.WriteByte(' ')
			continue
		}
		sb.Write(v)
	}
	return sb.String()
}

// plainText flattens the text of n's descendants, as used for image alt text.
func plainText(n ast.Node, buf []byte) string {
	var sb strings.Builder
	for _, r := range collectRuns(n, buf, style{}, nil) {
		sb.WriteString(r.Text)
	}
	return sb.String()
}

// unescape resolves backslash escapes and entity references.
func unescape(v []byte) string {
	if !strings.ContainsAny(string(v), `\&`) {
		return string(v)
	}
	out := make([]byte, 0, len(v))
	for i := 0; i < len(v); {
		c := v[i]
		if c == '\\' && i+1 < len(v) && util.IsPunct(v[i+1]) {
			out = append(out, v[i+1])
			i += 2
			continue
		}
		if c == '&' {
			if m := entityRef.Find(v[i:]); m != nil {
				r := util.ResolveNumericReferences(m)
				r = util.ResolveEntityNames(r)
				out = append(out, r...)
				i += len(m)
				continue
			}
		}
		out = append(out, c)
		i++
	}
	return string(out)
}
