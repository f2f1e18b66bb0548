// Package apperr defines the error taxonomy shared by the index, the query
// components and the outer surfaces (CLI, HTTP, MCP).
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrMalformedQuery = errors.New("malformed query")
	ErrExtraction     = errors.New("extraction failed")
	ErrIO             = errors.New("io failure")
	ErrCorruptIndex   = errors.New("corrupt index")
	ErrConflict       = errors.New("conflict")
)

// NotFoundError reports a lookup of an id or name that does not exist.
type NotFoundError struct {
	Kind string // "node", "foreshadow", "entity", "file"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound is shorthand for &NotFoundError{Kind: kind, ID: id}.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// MalformedQueryError names the offending query parameter.
type MalformedQueryError struct {
	Param  string
	Reason string
}

func (e *MalformedQueryError) Error() string {
	return fmt.Sprintf("malformed query: %s %s", e.Param, e.Reason)
}

func (e *MalformedQueryError) Is(target error) bool { return target == ErrMalformedQuery }

// ExtractionError wraps a per-file extraction failure.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }

// Extraction wraps err as an ExtractionError for path.
func Extraction(path string, err error) error {
	return &ExtractionError{Path: path, Err: err}
}

// IO tags err as an I/O failure while keeping it inspectable.
func IO(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrIO, err)
}

// Corrupt tags err as a corrupt persisted index.
func Corrupt(detail string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrCorruptIndex, detail)
	}
	return fmt.Errorf("%w: %s: %w", ErrCorruptIndex, detail, err)
}
