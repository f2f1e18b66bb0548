// Package network builds character relationship networks from the graph.
//
// Communities are the connected components over edges whose strength is
// strictly above the configured threshold. Everything is derived from the
// snapshot in node insertion order, so the same graph yields the same
// network.
package network

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/plotweave/internal/apperr"
	"github.com/starford/plotweave/internal/graph"
)

// Config tunes community detection.
type Config struct {
	StrengthThreshold float64 `yaml:"strength_threshold" env:"STRENGTH_THRESHOLD"`
}

// DefaultConfig returns a 0.5 strength threshold.
func DefaultConfig() Config { return Config{StrengthThreshold: 0.5} }

// Validate validates the network configuration.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.StrengthThreshold, validation.Min(0.0), validation.Max(1.0)),
	)
}

// Member is a node of the network with its centrality.
type Member struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Label graph.Label `json:"label"`
	// Degree counts distinct neighbours in the network.
	Degree int `json:"degree"`
	// StrongDegree counts neighbours joined by an edge above the threshold.
	StrongDegree int `json:"strong_degree"`
	Community    int `json:"community"`
}

// Link aggregates every edge with the same source, predicate and target.
type Link struct {
	Source    string          `json:"source"`
	Predicate graph.Predicate `json:"predicate"`
	Target    string          `json:"target"`
	Strength  float64         `json:"strength"`
	Files     []string        `json:"files"`
	Strong    bool            `json:"strong"`
}

// Community is one connected component of strong links.
type Community struct {
	ID      int      `json:"id"`
	Members []string `json:"members"`
}

// Network is the result of Build.
type Network struct {
	Nodes       []Member    `json:"nodes"`
	Edges       []Link      `json:"edges"`
	Communities []Community `json:"communities"`
	Threshold   float64     `json:"threshold"`
}

// SnapshotSource supplies the current graph snapshot.
type SnapshotSource interface {
	Snapshot() *graph.Snapshot
}

// Builder computes networks from the latest snapshot.
type Builder struct {
	cfg   Config
	graph SnapshotSource
}

// New validates cfg and returns a Builder.
func New(cfg Config, g SnapshotSource) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("network: config: %w", err)
	}
	return &Builder{cfg: cfg, graph: g}, nil
}

// Build returns the network over the named characters and locations. An
// empty names list selects every character.
func (b *Builder) Build(names []string) (*Network, error) {
	snap := b.graph.Snapshot()
	selected, err := resolve(snap, names)
	if err != nil {
		return nil, err
	}

	idx := make(map[string]int, len(selected))
	members := make([]Member, len(selected))
	for i, n := range selected {
		idx[n.ID] = i
		members[i] = Member{ID: n.ID, Name: n.Name, Label: n.Label}
	}

	links := aggregate(snap, idx)
	uf := newUnionFind(len(members))
	neighbours := make([]map[int]bool, len(members))
	strong := make([]map[int]bool, len(members))
	for i := range members {
		neighbours[i] = make(map[int]bool)
		strong[i] = make(map[int]bool)
	}
	for i := range links {
		l := &links[i]
		s, t := idx[l.Source], idx[l.Target]
		if s == t {
			continue
		}
		neighbours[s][t], neighbours[t][s] = true, true
		if l.Strength > b.cfg.StrengthThreshold {
			l.Strong = true
			strong[s][t], strong[t][s] = true, true
			uf.union(s, t)
		}
	}

	roots := make(map[int]int)
	var communities []Community
	for i := range members {
		members[i].Degree = len(neighbours[i])
		members[i].StrongDegree = len(strong[i])
		r := uf.find(i)
		c, ok := roots[r]
		if !ok {
			c = len(communities)
			roots[r] = c
			communities = append(communities, Community{ID: c})
		}
		members[i].Community = c
		communities[c].Members = append(communities[c].Members, members[i].ID)
	}

	return &Network{Nodes: members, Edges: links, Communities: communities, Threshold: b.cfg.StrengthThreshold}, nil
}

// resolve maps names to Character or Location nodes, ordered by Seq.
func resolve(snap *graph.Snapshot, names []string) ([]*graph.Node, error) {
	if len(names) == 0 {
		return snap.Nodes(graph.Character), nil
	}
	seen := make(map[string]bool)
	var out []*graph.Node
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		found := snap.FindByName(name, graph.Character, graph.Location)
		if len(found) == 0 {
			return nil, apperr.NotFound("entity", name)
		}
		for _, n := range found {
			if !seen[n.ID] {
				seen[n.ID] = true
				out = append(out, n)
			}
		}
	}
	slices.SortFunc(out, func(a, b *graph.Node) int { return cmp.Compare(a.Seq, b.Seq) })
	return out, nil
}

type linkKey struct {
	source    string
	predicate graph.Predicate
	target    string
}

// aggregate folds relational edges between selected nodes into links,
// keeping the strongest strength and every contributing file.
func aggregate(snap *graph.Snapshot, selected map[string]int) []Link {
	byKey := make(map[linkKey]int)
	var out []Link
	for _, e := range snap.Edges() {
		if e.Predicate.Structural() {
			continue
		}
		if _, ok := selected[e.Source]; !ok {
			continue
		}
		if _, ok := selected[e.Target]; !ok {
			continue
		}
		k := linkKey{e.Source, e.Predicate, e.Target}
		i, ok := byKey[k]
		if !ok {
			byKey[k] = len(out)
			out = append(out, Link{Source: e.Source, Predicate: e.Predicate, Target: e.Target, Strength: e.Strength(), Files: []string{e.OriginFile}})
			continue
		}
		l := &out[i]
		l.Strength = max(l.Strength, e.Strength())
		if !slices.Contains(l.Files, e.OriginFile) {
			l.Files = append(l.Files, e.OriginFile)
		}
	}
	for i := range out {
		slices.Sort(out[i].Files)
	}
	return out
}

type unionFind struct{ parent []int }

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

// union keeps the smaller index as root so component ids follow Seq order.
func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}
