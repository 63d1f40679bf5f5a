// Package apperr holds the sentinel errors shared by the service, HTTP and
// MCP layers.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidPath reports a vault path that is absolute, escapes the
	// vault root or does not name a markdown file.
	ErrInvalidPath = errors.New("invalid path")
)
