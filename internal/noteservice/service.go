// Package noteservice coordinates the vault, the note codec and the index.
package noteservice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/starford/extt/internal/apperr"
	"github.com/starford/extt/internal/checksum"
	"github.com/starford/extt/internal/index"
	"github.com/starford/extt/internal/models"
	"github.com/starford/extt/internal/note"
	"github.com/starford/extt/internal/storage"
	"github.com/starford/extt/pkg/markdown"
)

// NoteDetail is the full representation of a note.
type NoteDetail struct {
	Path        string         `json:"path"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	Checksum    string         `json:"checksum"`
	Tags        []string       `json:"tags"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Backlinks   []string       `json:"backlinks"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// DocumentDetail is a note body as a document tree.
type DocumentDetail struct {
	Path        string            `json:"path"`
	Title       string            `json:"title"`
	Checksum    string            `json:"checksum"`
	Frontmatter map[string]any    `json:"frontmatter,omitempty"`
	Document    markdown.Document `json:"document"`
}

// NoteListItem is a lightweight item in a list response.
type NoteListItem struct {
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	Checksum  string    `json:"checksum"`
	Tags      []string  `json:"tags"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Service coordinates storage and index operations.
type Service struct {
	store storage.Provider
	db    index.NoteIndex

	mu sync.Mutex // serialises read-modify-write cycles on the vault
}

// NewService creates a new note service.
func NewService(store storage.Provider, db index.NoteIndex) *Service {
	return &Service{store: store, db: db}
}

// notFound maps a missing file onto apperr.ErrNotFound.
func notFound(path string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("noteservice: %s: %w", path, apperr.ErrNotFound)
	}
	return err
}

// GetNote reads a note from storage, decodes it, and enriches it with backlinks.
func (s *Service) GetNote(_ context.Context, path string) (*NoteDetail, error) {
	data, err := s.store.Read(path)
	if err != nil {
		return nil, notFound(path, err)
	}
	return s.buildNoteDetail(path, data)
}

// GetDocument reads a note and returns its body as a document tree.
func (s *Service) GetDocument(_ context.Context, path string) (*DocumentDetail, error) {
	data, err := s.store.Read(path)
	if err != nil {
		return nil, notFound(path, err)
	}
	n, err := note.Decode(data)
	if err != nil {
		return nil, err
	}
	return &DocumentDetail{
		Path:        path,
		Title:       n.Title(),
		Checksum:    checksum.Sum(data),
		Frontmatter: n.Frontmatter,
		Document:    n.Document,
	}, nil
}

// CreateNote writes a new note and indexes it.
func (s *Service) CreateNote(_ context.Context, path string, content []byte) (*NoteDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.store.Stat(path); err == nil {
		return nil, fmt.Errorf("noteservice: create %s: %w", path, apperr.ErrAlreadyExists)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return s.write(path, content)
}

// UpdateNote writes updated content with optimistic concurrency. An empty
// ifMatch skips the check.
func (s *Service) UpdateNote(_ context.Context, path string, content []byte, ifMatch string) (*NoteDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.Read(path)
	if err != nil {
		return nil, notFound(path, err)
	}
	if !checksum.Match(ifMatch, existing) {
		return nil, fmt.Errorf("noteservice: update %s: %w", path, apperr.ErrConflict)
	}
	return s.write(path, content)
}

// SaveDocument replaces the body of an existing note with the markdown for
// doc. Frontmatter, line endings and final newlines are kept.
func (s *Service) SaveDocument(_ context.Context, path string, doc markdown.Document, ifMatch string) (*NoteDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.Read(path)
	if err != nil {
		return nil, notFound(path, err)
	}
	if !checksum.Match(ifMatch, existing) {
		return nil, fmt.Errorf("noteservice: save %s: %w", path, apperr.ErrConflict)
	}
	n, err := note.Decode(existing)
	if err != nil {
		return nil, err
	}
	n.Document = doc
	content, err := note.Encode(n)
	if err != nil {
		return nil, err
	}
	return s.write(path, content)
}

func (s *Service) write(path string, content []byte) (*NoteDetail, error) {
	if err := s.store.Write(path, content); err != nil {
		return nil, err
	}
	if err := s.IndexFile(path, content); err != nil {
		return nil, err
	}
	return s.buildNoteDetail(path, content)
}

// DeleteNote removes a note from storage and index.
func (s *Service) DeleteNote(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Delete(path); err != nil {
		return notFound(path, err)
	}
	return s.db.DeleteNote(path)
}

// MoveNote renames a note. The target must not exist.
func (s *Service) MoveNote(_ context.Context, oldPath, newPath string) (*NoteDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Move(oldPath, newPath); err != nil {
		return nil, notFound(oldPath, err)
	}
	data, err := s.store.Read(newPath)
	if err != nil {
		return nil, err
	}
	if err := s.db.MoveNote(oldPath, newPath); err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		if err := s.IndexFile(newPath, data); err != nil {
			return nil, err
		}
	}
	return s.buildNoteDetail(newPath, data)
}

// ListNotes returns paginated notes with optional tag filter.
func (s *Service) ListNotes(_ context.Context, limit, offset int, tag, sort string) ([]NoteListItem, int, error) {
	rows, total, err := s.db.ListNotes(limit, offset, tag, sort)
	if err != nil {
		return nil, 0, err
	}
	items := make([]NoteListItem, len(rows))
	for i, r := range rows {
		items[i] = NoteListItem{
			Path:      r.Path,
			Title:     r.Title,
			Checksum:  r.Checksum,
			Tags:      nonNilSlice(r.Tags),
			UpdatedAt: r.UpdatedAt,
		}
	}
	return items, total, nil
}

// Search delegates full-text search to the index.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	return s.db.Search(query, limit)
}

// Graph returns all nodes and links for graph visualization.
func (s *Service) Graph(_ context.Context) ([]index.GraphNode, []models.Link, error) {
	nodes, links, err := s.db.Graph()
	return nonNilSlice(nodes), nonNilSlice(links), err
}

// Backlinks returns all note paths that link to the given target.
func (s *Service) Backlinks(_ context.Context, target string) ([]string, error) {
	bl, err := s.db.Backlinks(target)
	return nonNilSlice(bl), err
}

// IndexFile decodes data and upserts it into the index.
func (s *Service) IndexFile(path string, data []byte) error {
	return index.IndexFile(s.db, path, data)
}

// buildNoteDetail constructs a NoteDetail from raw data without re-reading the file.
func (s *Service) buildNoteDetail(path string, data []byte) (*NoteDetail, error) {
	n, err := note.Decode(data)
	if err != nil {
		return nil, err
	}
	bl, err := s.db.Backlinks(path)
	if err != nil {
		return nil, err
	}
	updated := time.Now()
	if meta, err := s.store.Stat(path); err == nil {
		updated = meta.UpdatedAt
	}
	return &NoteDetail{
		Path:        path,
		Title:       n.Title(),
		Content:     string(data),
		Checksum:    checksum.Sum(data),
		Tags:        nonNilSlice(n.Tags()),
		Frontmatter: n.Frontmatter,
		Backlinks:   nonNilSlice(bl),
		UpdatedAt:   updated,
	}, nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
