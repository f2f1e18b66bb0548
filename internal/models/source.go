// Package models defines the file-level types shared by storage and the indexer.
package models

import "time"

// SourceFile describes one Markdown file of the novel project.
type SourceFile struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileState is where a tracked source file stands in the indexing lifecycle.
type FileState string

const (
	StateUnseen  FileState = "unseen"
	StateStale   FileState = "stale"
	StateIndexed FileState = "indexed"
	StateRemoved FileState = "removed"
)

// FileStatus is the indexer's view of a source file.
type FileStatus struct {
	Path      string    `json:"path"`
	Kind      string    `json:"kind"`
	State     FileState `json:"state"`
	Version   string    `json:"version,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
