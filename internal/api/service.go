package api

import (
	"context"

	"github.com/starford/plotweave/internal/foreshadow"
	"github.com/starford/plotweave/internal/graph"
	"github.com/starford/plotweave/internal/indexer"
	"github.com/starford/plotweave/internal/network"
	"github.com/starford/plotweave/internal/retrieve"
	"github.com/starford/plotweave/internal/service"
)

// Service is the query surface the handlers need. *service.Service
// implements it.
type Service interface {
	DefaultQuery(text string) retrieve.Query
	Retrieve(ctx context.Context, q retrieve.Query) ([]retrieve.Result, error)
	Network(ctx context.Context, names []string) (*network.Network, error)
	Trace(ctx context.Context, id string) (*foreshadow.Chain, error)
	Foreshadows(ctx context.Context, openOnly bool) []*foreshadow.Chain
	Node(ctx context.Context, id string) (*service.NodeDetail, error)
	Neighbors(ctx context.Context, id, predicate, direction string) ([]graph.Neighbor, error)
	Path(ctx context.Context, from, to string) (*service.PathResult, error)
	Stats(ctx context.Context) service.Stats
	Rebuild(ctx context.Context, opts indexer.RebuildOptions) (*indexer.RebuildStats, error)
}

var _ Service = (*service.Service)(nil)
