package markdown

import (
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark/ast"
)

// source indexes the lines of a parsed buffer so block ranges can be
// recovered from goldmark segment offsets.
type source struct {
	buf    []byte
	starts []int
}

func newSource(buf []byte) *source {
	starts := []int{0}
	for i, c := range buf {
		if c == '\n' && i+1 < len(buf) {
			starts = append(starts, i+1)
		}
	}
	return &source{buf: buf, starts: starts}
}

func (s *source) lines() int { return len(s.starts) }

// lineOf returns the index of the line containing offset off.
func (s *source) lineOf(off int) int {
	return sort.Search(len(s.starts), func(i int) bool { return s.starts[i] > off }) - 1
}

func (s *source) line(i int) string {
	end := len(s.buf)
	if i+1 < len(s.starts) {
		end = s.starts[i+1]
	}
	return strings.TrimSuffix(string(s.buf[s.starts[i]:end]), "\n")
}

func (s *source) blank(i int) bool {
	return strings.TrimSpace(s.line(i)) == ""
}

// text joins lines first..last inclusive.
func (s *source) text(first, last int) string {
	parts := make([]string, 0, last-first+1)
	for i := first; i <= last; i++ {
		parts = append(parts, s.line(i))
	}
	return strings.Join(parts, "\n")
}

// span is an inclusive range of source lines.
type span struct {
	first, last int
	ok          bool
}

func (sp *span) add(line int) {
	if !sp.ok {
		sp.first, sp.last, sp.ok = line, line, true
		return
	}
	sp.first = min(sp.first, line)
	sp.last = max(sp.last, line)
}

// spanOf returns the lines covered by the segments of n and its descendants.
// Nodes that own no segment at all (thematic breaks, empty fences) yield a
// span with ok == false.
func (s *source) spanOf(n ast.Node) span {
	var sp span
	addOffset := func(off int) {
		if off >= 0 && off < len(s.buf) {
			sp.add(s.lineOf(off))
		}
	}
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch c := c.(type) {
		case *ast.Text:
			if c.Segment.Len() > 0 {
				addOffset(c.Segment.Start)
				addOffset(c.Segment.Stop - 1)
			}
		case *ast.RawHTML:
			for i := 0; i < c.Segments.Len(); i++ {
				seg := c.Segments.At(i)
				addOffset(seg.Start)
				addOffset(max(seg.Start, seg.Stop-1))
			}
		case *ast.FencedCodeBlock:
			if c.Info != nil {
				addOffset(c.Info.Segment.Start)
			} else if c.Lines().Len() > 0 {
				if l := s.lineOf(c.Lines().At(0).Start); l > 0 {
					sp.add(l - 1)
				}
			}
		case *ast.HTMLBlock:
			if c.HasClosure() {
				addOffset(c.ClosureLine.Start)
			}
		}
		if c.Type() == ast.TypeBlock {
			lines := c.Lines()
			if cnt := lines.Len(); cnt > 0 {
				addOffset(lines.At(0).Start)
				last := lines.At(cnt - 1)
				addOffset(max(last.Start, last.Stop-1))
			}
		}
		return ast.WalkContinue, nil
	})
	return sp
}

var (
	quoteMarker    = regexp.MustCompile(`^ {0,3}> ?`)
	thematicBreak  = regexp.MustCompile(`^ {0,3}(?:(?:\*[ \t]*){3,}|(?:-[ \t]*){3,}|(?:_[ \t]*){3,})$`)
	entityRef      = regexp.MustCompile(`^&(?:#[0-9]{1,7}|#[xX][0-9a-fA-F]{1,6}|[A-Za-z][A-Za-z0-9]{1,31});`)
	orderedMarker  = regexp.MustCompile(`^[0-9]{1,9}[.)]`)
	headingMarker  = regexp.MustCompile(`^#{1,6}(?:[ \t]|$)`)
	bulletMarker   = regexp.MustCompile(`^[-+*](?:[ \t]|$)`)
	trailingHashes = regexp.MustCompile(`(?:^|[ \t])(#+)$`)
	linkLabel      = regexp.MustCompile(`^\[(?:[^\]]|\]\()*\]:`) // "](" is printed escaped, which a label may hold
)

func isQuoteLine(line string) bool {
	return quoteMarker.MatchString(line)
}

// unquote strips one level of blockquote markers from every line.
// Lazy continuation lines are kept as they are.
func unquote(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = quoteMarker.ReplaceAllString(l, "")
	}
	return strings.Join(lines, "\n")
}
