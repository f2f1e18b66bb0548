// Package service is the read/query facade shared by the HTTP API, the MCP
// server and the CLI.
package service

import (
	"context"
	"errors"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/starford/plotweave/internal/apperr"
	"github.com/starford/plotweave/internal/foreshadow"
	"github.com/starford/plotweave/internal/graph"
	"github.com/starford/plotweave/internal/indexer"
	"github.com/starford/plotweave/internal/network"
	"github.com/starford/plotweave/internal/retrieve"
)

// NodeDetail is a node together with its adjacent edges.
type NodeDetail struct {
	Node      *graph.Node      `json:"node"`
	Neighbors []graph.Neighbor `json:"neighbors"`
}

// PathResult is a shortest path between two nodes.
type PathResult struct {
	From *graph.Node `json:"from"`
	To   *graph.Node `json:"to"`
	Hops []graph.Hop `json:"hops"`
}

// ProcessStats describes the running process.
type ProcessStats struct {
	PID        int    `json:"pid"`
	RSSBytes   uint64 `json:"rss_bytes,omitempty"`
	Goroutines int    `json:"goroutines"`
	Uptime     string `json:"uptime"`
}

// Stats combines index and process statistics.
type Stats struct {
	indexer.Stats
	Process ProcessStats `json:"process"`
}

// Service coordinates the indexer and the read-only query engines.
type Service struct {
	ix        *indexer.Indexer
	retriever *retrieve.Retriever
	network   *network.Builder
	tracer    *foreshadow.Tracer
	started   time.Time
}

// New creates a Service over an indexer and its query engines.
func New(ix *indexer.Indexer, r *retrieve.Retriever, nb *network.Builder, tr *foreshadow.Tracer) *Service {
	return &Service{ix: ix, retriever: r, network: nb, tracer: tr, started: time.Now()}
}

// Indexer returns the underlying indexer.
func (s *Service) Indexer() *indexer.Indexer { return s.ix }

// DefaultQuery returns a query for text with the configured hop count and
// limit.
func (s *Service) DefaultQuery(text string) retrieve.Query {
	cfg := s.retriever.Config()
	return retrieve.Query{Text: text, MaxHops: cfg.DefaultMaxHops, Limit: cfg.DefaultLimit}
}

// Retrieve runs a context retrieval query.
func (s *Service) Retrieve(ctx context.Context, q retrieve.Query) ([]retrieve.Result, error) {
	return s.retriever.Retrieve(ctx, q)
}

// Network builds the relationship network for names.
func (s *Service) Network(_ context.Context, names []string) (*network.Network, error) {
	return s.network.Build(names)
}

// Trace returns a foreshadow chain by id or name.
func (s *Service) Trace(_ context.Context, id string) (*foreshadow.Chain, error) {
	return s.tracer.Trace(id)
}

// Foreshadows lists foreshadow chains, only unresolved ones when openOnly.
func (s *Service) Foreshadows(_ context.Context, openOnly bool) []*foreshadow.Chain {
	if openOnly {
		return nonNil(s.tracer.Open())
	}
	return nonNil(s.tracer.List())
}

// Node returns the node with id, or the first node named id, with its
// neighbours.
func (s *Service) Node(_ context.Context, id string) (*NodeDetail, error) {
	snap := s.ix.Store().Snapshot()
	n, err := resolve(snap, id)
	if err != nil {
		return nil, err
	}
	nbs, err := snap.Neighbors(n.ID, nil, graph.Both)
	if err != nil {
		return nil, err
	}
	return &NodeDetail{Node: n, Neighbors: nonNil(nbs)}, nil
}

// Neighbors lists the edges adjacent to a node. predicate and direction
// are optional; unknown values are malformed queries.
func (s *Service) Neighbors(_ context.Context, id, predicate, direction string) ([]graph.Neighbor, error) {
	var filter graph.Filter
	if predicate != "" {
		var preds []graph.Predicate
		for _, raw := range strings.Split(predicate, ",") {
			p, err := graph.ParsePredicate(raw)
			if err != nil {
				return nil, &apperr.MalformedQueryError{Param: "predicate", Reason: err.Error()}
			}
			preds = append(preds, p)
		}
		filter = graph.Only(preds...)
	}
	dir, err := graph.ParseDirection(direction)
	if err != nil {
		return nil, &apperr.MalformedQueryError{Param: "direction", Reason: err.Error()}
	}
	snap := s.ix.Store().Snapshot()
	n, err := resolve(snap, id)
	if err != nil {
		return nil, err
	}
	nbs, err := snap.Neighbors(n.ID, filter, dir)
	return nonNil(nbs), err
}

// Path returns the shortest path between two nodes given by id or name.
func (s *Service) Path(_ context.Context, from, to string) (*PathResult, error) {
	if from == "" {
		return nil, &apperr.MalformedQueryError{Param: "from", Reason: "is required"}
	}
	if to == "" {
		return nil, &apperr.MalformedQueryError{Param: "to", Reason: "is required"}
	}
	snap := s.ix.Store().Snapshot()
	a, err := resolve(snap, from)
	if err != nil {
		return nil, err
	}
	b, err := resolve(snap, to)
	if err != nil {
		return nil, err
	}
	hops, err := snap.ShortestPath(a.ID, b.ID, nil)
	if errors.Is(err, graph.ErrNoPath) {
		return nil, apperr.NotFound("path", from+" -> "+to)
	}
	if err != nil {
		return nil, err
	}
	return &PathResult{From: a, To: b, Hops: hops}, nil
}

// Stats reports graph counts, file states and process resource usage.
func (s *Service) Stats(_ context.Context) Stats {
	st := Stats{
		Stats: s.ix.Stats(),
		Process: ProcessStats{
			PID:        os.Getpid(),
			Goroutines: runtime.NumGoroutine(),
			Uptime:     time.Since(s.started).Round(time.Second).String(),
		},
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			st.Process.RSSBytes = mem.RSS
		}
	}
	return st
}

// Rebuild reconciles the index with the project files.
func (s *Service) Rebuild(ctx context.Context, opts indexer.RebuildOptions) (*indexer.RebuildStats, error) {
	return s.ix.Rebuild(ctx, opts)
}

// Export writes the current graph as JSON.
func (s *Service) Export(w io.Writer) error {
	return s.ix.Store().Snapshot().Export(w)
}

func resolve(snap *graph.Snapshot, idOrName string) (*graph.Node, error) {
	if n, err := snap.Node(idOrName); err == nil {
		return n, nil
	}
	if found := snap.FindByName(idOrName); len(found) > 0 {
		return found[0], nil
	}
	return nil, apperr.NotFound("node", idOrName)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
