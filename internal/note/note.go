// Package note decodes vault files into YAML frontmatter and a markdown
// document, and encodes them back without disturbing the bytes the editor
// did not touch.
package note

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/starford/extt/pkg/markdown"
)

// ErrNotText is returned by Decode for content that is not valid UTF-8.
var ErrNotText = errors.New("note: content is not valid UTF-8")

var (
	wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)
	tagRe      = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
	schemeRe   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*:`)
)

// Vault files keep blocks the document model cannot represent.
var bodyParser = markdown.NewParser(markdown.WithUnsupported(markdown.PreserveUnsupported))

// Note is a decoded vault file.
type Note struct {
	Frontmatter map[string]any
	Document    markdown.Document

	head     string         // frontmatter block as read, fences included
	original map[string]any // frontmatter as read, to detect edits
	gap      int            // line breaks between frontmatter and body
	trailing int            // line breaks after the body
	crlf     bool
}

// New returns an empty note that encodes with LF line endings and a single
// final newline.
func New() *Note {
	return &Note{Document: markdown.Document{}, trailing: 1}
}

// Decode splits raw into frontmatter and body and parses the body. Invalid
// YAML frontmatter is treated as part of the body.
func Decode(raw []byte) (*Note, error) {
	if !utf8.Valid(raw) {
		return nil, ErrNotText
	}
	n := &Note{crlf: strings.Contains(string(raw), "\r\n")}
	text := markdown.NormalizeNewlines(string(raw))

	if head, block, ok := splitFrontmatter(text); ok {
		var fm map[string]any
		if err := yaml.Unmarshal([]byte(block), &fm); err == nil {
			original, _ := clone(fm).(map[string]any)
			n.Frontmatter, n.original, n.head = fm, original, head
			text = text[len(head):]
		}
	}

	body := strings.TrimLeft(text, "\n")
	if body == "" {
		n.trailing = len(text)
	} else {
		n.gap = len(text) - len(body)
		trimmed := strings.TrimRight(body, "\n")
		n.trailing = len(body) - len(trimmed)
		body = trimmed
	}
	n.Document = bodyParser.Parse(body)
	return n, nil
}

// clone deep-copies a decoded YAML value so that edits to nested maps and
// sequences of one copy do not show in the other.
func clone(v any) any {
	switch v := v.(type) {
	case map[string]any:
		if v == nil {
			return v
		}
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = clone(e)
		}
		return out
	case map[any]any:
		out := make(map[any]any, len(v))
		for k, e := range v {
			out[k] = clone(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = clone(e)
		}
		return out
	}
	return v
}

// splitFrontmatter returns the frontmatter block including its fences and
// the YAML between them. Leading blank lines belong to the block.
func splitFrontmatter(text string) (head, block string, ok bool) {
	const delim = "---"
	trimmed := strings.TrimLeft(text, "\n")
	lead := len(text) - len(trimmed)

	first, rest, found := strings.Cut(trimmed, "\n")
	if !found || strings.TrimRight(first, " \t") != delim {
		return "", "", false
	}
	offset := lead + len(first) + 1
	for len(rest) > 0 {
		line, next, more := strings.Cut(rest, "\n")
		if strings.TrimRight(line, " \t") == delim {
			end := offset + len(line)
			return text[:end], text[lead+len(first)+1 : offset], true
		}
		if !more {
			break
		}
		offset += len(line) + 1
		rest = next
	}
	return "", "", false
}

// Encode renders the note. Frontmatter that was not modified since Decode is
// written back verbatim.
func Encode(n *Note) ([]byte, error) {
	var sb strings.Builder
	switch {
	case n.head != "" && reflect.DeepEqual(n.Frontmatter, n.original):
		sb.WriteString(n.head)
	case len(n.Frontmatter) > 0:
		out, err := yaml.Marshal(n.Frontmatter)
		if err != nil {
			return nil, fmt.Errorf("note: encode frontmatter: %w", err)
		}
		sb.WriteString("---\n")
		sb.Write(out)
		sb.WriteString("---")
	}

	body := markdown.Serialize(n.Document)
	if body != "" {
		if sb.Len() > 0 {
			sb.WriteString(strings.Repeat("\n", max(n.gap, 1)))
		}
		sb.WriteString(body)
	}
	trailing := n.trailing
	if sb.Len() > 0 {
		trailing = max(trailing, 1)
	}
	sb.WriteString(strings.Repeat("\n", trailing))

	out := sb.String()
	if n.crlf {
		out = strings.ReplaceAll(out, "\n", "\r\n")
	}
	return []byte(out), nil
}

// Body returns the serialised document without frontmatter.
func (n *Note) Body() string {
	return markdown.Serialize(n.Document)
}

// SetBody replaces the document with the parse of body.
func (n *Note) SetBody(body string) {
	n.Document = bodyParser.Parse(body)
}

// SetTitle sets the frontmatter title when the note has frontmatter,
// otherwise it replaces or inserts the leading heading-one block.
func (n *Note) SetTitle(title string) {
	if n.Frontmatter != nil {
		n.Frontmatter["title"] = title
		return
	}
	if len(n.Document) > 0 && n.Document[0].Kind == markdown.KindHeadingOne {
		n.Document[0] = markdown.NewHeading(1, title)
		return
	}
	n.Document = append(markdown.Document{markdown.NewHeading(1, title)}, n.Document...)
}

// Title returns the frontmatter title, else the text of the first
// heading-one block, else "".
func (n *Note) Title() string {
	if s, ok := n.Frontmatter["title"].(string); ok && s != "" {
		return s
	}
	for _, b := range n.Document {
		if b.Kind == markdown.KindHeadingOne {
			return strings.TrimSpace(b.PlainText())
		}
	}
	return ""
}

// Tags returns the frontmatter tags followed by inline #tags, deduplicated.
func (n *Note) Tags() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(t string) {
		t = strings.TrimSpace(t)
		if t == "" {
			return
		}
		if _, dup := seen[t]; dup {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}

	switch v := n.Frontmatter["tags"].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			add(s)
		}
	}

	for _, text := range n.prose() {
		for _, m := range tagRe.FindAllStringSubmatch(text, -1) {
			add(m[1])
		}
	}
	return out
}

// Links returns deduplicated link targets: wikilink targets with aliases
// removed, and vault-relative markdown links without their extension.
func (n *Note) Links() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(t string) {
		t = strings.TrimSpace(t)
		if t == "" {
			return
		}
		if _, dup := seen[t]; dup {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}

	for _, text := range n.prose() {
		for _, m := range wikilinkRe.FindAllStringSubmatch(text, -1) {
			target, _, _ := strings.Cut(m[1], "|")
			add(target)
		}
	}
	for _, b := range n.Document {
		for _, r := range b.Children {
			if target, ok := localTarget(r.Href); ok {
				add(target)
			}
		}
	}
	return out
}

// prose returns the text of every non-code run grouped per block, which is
// where tags and wikilinks are recognised.
func (n *Note) prose() []string {
	var out []string
	for _, b := range n.Document {
		if b.Kind == markdown.KindCode || b.Kind == markdown.KindCommand {
			continue
		}
		var sb strings.Builder
		for _, r := range b.Children {
			if r.Code {
				sb.WriteByte(' ')
				continue
			}
			sb.WriteString(r.Text)
		}
		out = append(out, sb.String())
	}
	return out
}

func localTarget(href string) (string, bool) {
	if href == "" || schemeRe.MatchString(href) || strings.HasPrefix(href, "#") {
		return "", false
	}
	href, _, _ = strings.Cut(href, "#")
	if !strings.HasSuffix(strings.ToLower(href), ".md") {
		return "", false
	}
	href = strings.TrimPrefix(href, "./")
	return strings.TrimSuffix(href, href[len(href)-3:]), true
}
