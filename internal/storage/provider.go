// Package storage defines read access to the novel project's source files.
package storage

import (
	"path"
	"strings"

	"github.com/starford/plotweave/internal/models"
)

// Provider is the interface for project file operations. Paths are
// slash-separated and relative to the project root.
type Provider interface {
	// Root returns the absolute project directory.
	Root() string
	// Rel converts an absolute path under Root into a provider path.
	Rel(abs string) (string, error)
	// List returns metadata for every source file under dir. A missing dir
	// yields an empty list.
	List(dir string) ([]models.SourceFile, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
}

// IsSource reports whether name is a Markdown file worth indexing. Hidden
// files and editor temp files are skipped.
func IsSource(name string) bool {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~") || strings.HasPrefix(base, "#") {
		return false
	}
	return strings.EqualFold(path.Ext(base), ".md")
}
