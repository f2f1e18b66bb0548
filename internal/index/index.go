package index

import (
	"context"

	"github.com/starford/plotweave/internal/graph"
)

// TextIndex is the read side used by the retriever.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with fakes.
type TextIndex interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
	Excerpt(ctx context.Context, path, term string) (string, error)
}

// Store is the full persistence surface used at startup and by the indexer.
type Store interface {
	graph.Persister
	TextIndex
	Load(ctx context.Context) (*graph.State, error)
	Body(ctx context.Context, path string) (string, error)
	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)
