// Package testutil provides shared test helpers for setting up projects,
// databases and graph stores.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/plotweave/internal/extract"
	"github.com/starford/plotweave/internal/graph"
	"github.com/starford/plotweave/internal/index"
	"github.com/starford/plotweave/internal/storage"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	db, err := index.Open(filepath.Join(t.TempDir(), "plotweave-test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestStore returns a graph store persisted to a temporary database.
func TestStore(t *testing.T) (*graph.Store, *index.DB) {
	t.Helper()
	db := TestDB(t)
	st, err := db.Load(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	store, err := graph.NewStore(db, st)
	if err != nil {
		t.Fatal(err)
	}
	return store, db
}

// TestProject creates a temporary project directory holding files
// (slash-separated relative path → content) and a storage.Provider for it.
func TestProject(t *testing.T, files map[string]string) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	for _, sub := range []string{"chapters", "settings"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	for p, content := range files {
		WriteFile(t, dir, p, content)
	}
	fs, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, fs
}

// WriteFile writes content to a project-relative path, creating directories.
func WriteFile(t *testing.T, root, p, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(p))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// Extractor returns an extractor with default cues and a 0.3
// co-occurrence confidence.
func Extractor(t *testing.T) *extract.Extractor {
	t.Helper()
	x, err := extract.New(extract.Config{CooccurrenceConfidence: 0.3})
	if err != nil {
		t.Fatal(err)
	}
	return x
}
