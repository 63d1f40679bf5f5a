package api

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/extt/internal/index"
	"github.com/starford/extt/internal/models"
	"github.com/starford/extt/internal/noteservice"
	"github.com/starford/extt/pkg/markdown"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 10 << 20

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest struct {
	Path    string `json:"path" example:"notes/hello.md" validate:"required"`
	Content string `json:"content" example:"# Hello\nWorld" validate:"required"`
}

// Validate checks required fields.
func (r *CreateNoteRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Path, validation.Required),
		validation.Field(&r.Content, validation.Required),
	)
}

// UpdateNoteRequest is the request body for updating a note.
type UpdateNoteRequest struct {
	Content string `json:"content" example:"# Updated\nContent" validate:"required"`
}

// Validate checks required fields.
func (r *UpdateNoteRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Content, validation.Required),
	)
}

// MoveNoteRequest is the request body for renaming a note.
type MoveNoteRequest struct {
	From string `json:"from" example:"inbox/idea.md" validate:"required"`
	To   string `json:"to" example:"projects/idea.md" validate:"required"`
}

// Validate checks required fields.
func (r *MoveNoteRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.From, validation.Required),
		validation.Field(&r.To, validation.Required, validation.By(func(any) error {
			if r.To == r.From {
				return errors.New("must differ from source")
			}
			return nil
		})),
	)
}

// SaveDocumentRequest is the request body for PUT /documents/*.
type SaveDocumentRequest struct {
	Document markdown.Document `json:"document" validate:"required"`
}

// Validate checks that every block has a known kind.
func (r *SaveDocumentRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Document, validation.NotNil, validation.Each(validation.By(validBlock))),
	)
}

// RenderRequest is the request body for POST /markdown/render.
type RenderRequest struct {
	Document markdown.Document `json:"document" validate:"required"`
}

// Validate checks that every block has a known kind.
func (r *RenderRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Document, validation.NotNil, validation.Each(validation.By(validBlock))),
	)
}

// ParseRequest is the request body for POST /markdown/parse.
type ParseRequest struct {
	Markdown string `json:"markdown" example:"# Title\n\nSome **bold** text."`
	// PreserveUnsupported keeps lists, tables and other unsupported blocks
	// as raw paragraphs instead of dropping them.
	PreserveUnsupported bool `json:"preserve_unsupported,omitempty"`
}

// Validate accepts any markdown text.
func (r *ParseRequest) Validate() error { return nil }

func validBlock(v any) error {
	b, ok := v.(markdown.Block)
	if !ok {
		return errors.New("must be a block")
	}
	if !b.Kind.Valid() {
		return fmt.Errorf("unknown block type %q", b.Kind)
	}
	return nil
}

// NoteDetail is the full note response type (aliased from the domain layer).
type NoteDetail = noteservice.NoteDetail

// DocumentDetail is a note body as a document tree (aliased from the domain layer).
type DocumentDetail = noteservice.DocumentDetail

// NoteListItem is a lightweight item in a list response (aliased from the domain layer).
type NoteListItem = noteservice.NoteListItem

// NoteListResponse wraps paginated note listings.
type NoteListResponse struct {
	Notes []NoteListItem `json:"notes" validate:"required"`
	Total int            `json:"total" example:"42" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []index.SearchResult `json:"results" validate:"required"`
}

// GraphResponse wraps the knowledge graph.
type GraphResponse struct {
	Nodes []index.GraphNode `json:"nodes" validate:"required"`
	Links []models.Link     `json:"links" validate:"required"`
}

// DocumentResponse carries a document tree.
type DocumentResponse struct {
	Document markdown.Document `json:"document" validate:"required"`
}

// MarkdownResponse carries markdown text.
type MarkdownResponse struct {
	Markdown string `json:"markdown" validate:"required"`
}

// PendingSaveResponse is returned when a document save was queued.
type PendingSaveResponse struct {
	Path    string `json:"path" example:"notes/hello.md"`
	DelayMS int64  `json:"delay_ms" example:"500"`
}
