// Package models defines the vault types shared by storage and the index.
package models

import "time"

// NoteMetadata describes a markdown file on disk.
type NoteMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Link is a directed edge between two notes. Target is a link target as
// written in the source note (a wikilink name or a vault path without its
// extension) until the index resolves it to a note path.
type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}
