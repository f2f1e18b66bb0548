package indexer

import "github.com/starford/plotweave/internal/graph"

// EventKind names an index change.
type EventKind string

const (
	EventFileIndexed  EventKind = "file.indexed"
	EventFileRemoved  EventKind = "file.removed"
	EventFileFailed   EventKind = "file.failed"
	EventGraphUpdated EventKind = "graph.updated"
)

// Event is delivered to OnChange hooks after each index change.
type Event struct {
	Kind     EventKind           `json:"kind"`
	Path     string              `json:"path,omitempty"`
	FileKind string              `json:"file_kind,omitempty"`
	Version  uint64              `json:"version,omitempty"`
	Error    string              `json:"error,omitempty"`
	Commit   *graph.CommitResult `json:"commit,omitempty"`
}
