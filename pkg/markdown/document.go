// Package markdown converts markdown text into a block/run document tree and back.
//
// The document model is deliberately small: headings (levels 1-4), paragraphs,
// blockquotes and code blocks, each holding a flat list of styled text runs.
// Deserialize and Serialize are pure functions; they never fail and share no
// mutable state, so they may be called concurrently.
package markdown

import "strings"

// BlockKind identifies the kind of a Block.
type BlockKind string

// Block kinds. The string values are the element types used by the editor.
const (
	KindHeadingOne   BlockKind = "heading-one"
	KindHeadingTwo   BlockKind = "heading-two"
	KindHeadingThree BlockKind = "heading-three"
	KindHeadingFour  BlockKind = "heading-four"
	KindParagraph    BlockKind = "paragraph"
	KindBlockquote   BlockKind = "blockquote"
	KindCode         BlockKind = "code"
	// KindCommand is an editor-session placeholder. It is never produced by
	// the parser and is skipped by the printer.
	KindCommand BlockKind = "command"
)

var headingKinds = [...]BlockKind{KindHeadingOne, KindHeadingTwo, KindHeadingThree, KindHeadingFour}

// MaxHeadingLevel is the deepest heading the model represents.
const MaxHeadingLevel = len(headingKinds)

// HeadingKind returns the heading kind for level, clamped to 1..MaxHeadingLevel.
func HeadingKind(level int) BlockKind {
	if level < 1 {
		level = 1
	}
	if level > MaxHeadingLevel {
		level = MaxHeadingLevel
	}
	return headingKinds[level-1]
}

// Valid reports whether k is a known block kind.
func (k BlockKind) Valid() bool {
	switch k {
	case KindParagraph, KindBlockquote, KindCode, KindCommand:
		return true
	}
	return k.Level() > 0
}

// Level returns the heading level of k, or 0 if k is not a heading.
func (k BlockKind) Level() int {
	for i, hk := range headingKinds {
		if k == hk {
			return i + 1
		}
	}
	return 0
}

// Run is a span of text with style flags.
//
// Href and Image are alternative targets; when both are set the run is
// printed as an image. Raw marks text copied verbatim from an inline
// construct the model does not represent (inline HTML, autolinks).
type Run struct {
	Text   string `json:"text"`
	Bold   bool   `json:"bold,omitempty"`
	Italic bool   `json:"italic,omitempty"`
	Code   bool   `json:"code,omitempty"`
	Href   string `json:"href,omitempty"`
	Image  string `json:"image,omitempty"`
	Raw    bool   `json:"raw,omitempty"`
}

// Plain reports whether the run carries no style and no target.
func (r Run) Plain() bool {
	return !r.Bold && !r.Italic && !r.Code && r.Href == "" && r.Image == "" && !r.Raw
}

func (r Run) sameStyle(o Run) bool {
	return r.Bold == o.Bold &&
		r.Italic == o.Italic &&
		r.Code == o.Code &&
		r.Href == o.Href &&
		r.Image == o.Image &&
		r.Raw == o.Raw
}

// Block is a structural unit of a Document.
type Block struct {
	Kind     BlockKind `json:"type"`
	Children []Run     `json:"children"`
	// Lang is the info string of a fenced code block.
	Lang string `json:"lang,omitempty"`
}

// Level returns the heading level of the block, or 0.
func (b Block) Level() int {
	return b.Kind.Level()
}

// PlainText returns the concatenated text of the block's runs.
func (b Block) PlainText() string {
	var sb strings.Builder
	for _, r := range b.Children {
		sb.WriteString(r.Text)
	}
	return sb.String()
}

// Document is an ordered sequence of blocks.
type Document []Block

// PlainText returns the text of all blocks separated by blank lines.
func (d Document) PlainText() string {
	parts := make([]string, 0, len(d))
	for _, b := range d {
		if b.Kind == KindCommand {
			continue
		}
		parts = append(parts, b.PlainText())
	}
	return strings.Join(parts, "\n\n")
}

// NewParagraph returns a paragraph holding a single plain run.
func NewParagraph(text string) Block {
	return Block{Kind: KindParagraph, Children: []Run{{Text: text}}}
}

// NewHeading returns a heading of the given level holding a single plain run.
func NewHeading(level int, text string) Block {
	return Block{Kind: HeadingKind(level), Children: []Run{{Text: text}}}
}

// NewBlockquote returns a blockquote holding text verbatim.
func NewBlockquote(text string) Block {
	return Block{Kind: KindBlockquote, Children: []Run{{Text: text}}}
}

// NewCode returns a code block holding text verbatim.
func NewCode(lang, text string) Block {
	return Block{Kind: KindCode, Lang: lang, Children: []Run{{Text: text}}}
}

// mergeRuns joins adjacent runs of identical style and guarantees that the
// result holds at least one run. Images are never merged.
func mergeRuns(runs []Run) []Run {
	out := make([]Run, 0, len(runs))
	for _, r := range runs {
		if r.Text == "" && r.Image == "" && r.Href == "" {
			continue
		}
		if n := len(out); n > 0 && r.Image == "" && out[n-1].sameStyle(r) {
			out[n-1].Text += r.Text
			continue
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return []Run{{}}
	}
	return out
}
