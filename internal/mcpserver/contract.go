package mcpserver

const fence = "```"

// NoteFormatContract describes the note format and the Markdown subset that
// the document tree represents.
const NoteFormatContract = `# extt Note Format

A note is a UTF-8 Markdown file with optional YAML frontmatter.

## Structure

` + fence + `markdown
---
title: Human-readable title   # optional; otherwise the first "# " heading is the title
tags: [tag-one, tag-two]      # optional; list or comma-separated string
---

# Heading

Body text. Link other notes with [[wikilinks]] or [text](other-note.md).
Inline #tags in prose are indexed too.
` + fence + `

## Supported Markdown subset

Only these constructs survive a read_document / write_document round trip:

| Block         | Markdown                                  |
|---------------|-------------------------------------------|
| heading-one   | ` + "`# text`" + `                                  |
| heading-two   | ` + "`## text`" + `                                 |
| heading-three | ` + "`### text`" + `                                |
| heading-four  | ` + "`#### text` (deeper headings become level four)" + ` |
| paragraph     | plain text; single line breaks are kept    |
| blockquote    | ` + "`> text`" + ` on every line                        |
| code          | fenced code block with optional language   |

Inline runs may be **bold**, _italic_, ` + "`code`" + `, [linked](https://example.com)
or images ` + "`![alt](path.png)`" + `. Styles combine freely.

Lists, tables, horizontal rules and raw HTML blocks are not part of the document
tree. They are kept verbatim when a note is edited through write_document, but
appear as plain paragraphs in read_document. Prefer the subset above.

## Rules

1. File paths end with ` + "`.md`" + `, use forward slashes and stay inside the vault.
2. Wikilink targets are file stems or titles, without ` + "`.md`" + `: ` + "`[[folder/note]]`" + `,
   ` + "`[[note|alias]]`" + `.
3. Blocks are separated by one blank line; files end with a single newline.
4. Pass the checksum from read_document as if_match to avoid overwriting
   concurrent edits.

## Document tree example

` + fence + `json
[
  {"type": "heading-one", "children": [{"text": "Weekly standup"}]},
  {"type": "paragraph", "children": [
    {"text": "Owner: "},
    {"text": "Alice", "bold": true},
    {"text": ", see "},
    {"text": "the roadmap", "href": "projects/roadmap.md"}
  ]},
  {"type": "code", "lang": "sh", "children": [{"text": "make release"}]}
]
` + fence + `
`
