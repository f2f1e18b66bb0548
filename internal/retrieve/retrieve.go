// Package retrieve answers free-text queries with ranked chapters and
// entities, combining bounded graph expansion with literal text search.
//
// Scoring is deterministic: a node reached in h hops scores HopDecay^h, a
// text hit scores TextConfidence, and a target found both ways keeps the
// higher score.
package retrieve

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/starford/plotweave/internal/graph"
	"github.com/starford/plotweave/internal/index"
	"github.com/starford/plotweave/internal/textnorm"
)

// TargetKind says what a result points at.
type TargetKind string

const (
	TargetChapter TargetKind = "chapter"
	TargetFile    TargetKind = "file"
	TargetEntity  TargetKind = "entity"
)

// Source says which retrieval channel produced a result.
type Source string

const (
	SourceGraph Source = "graph"
	SourceText  Source = "text"
)

// Target is the chapter, file or entity a result refers to.
type Target struct {
	Kind   TargetKind  `json:"kind"`
	ID     string      `json:"id"`
	Name   string      `json:"name,omitempty"`
	Label  graph.Label `json:"label,omitempty"`
	Path   string      `json:"path,omitempty"`
	Number int         `json:"number,omitempty"`
	Title  string      `json:"title,omitempty"`
}

// Step is one node along a result's graph path. The first step is the
// matched candidate and carries no predicate.
type Step struct {
	NodeID    string          `json:"node_id"`
	Name      string          `json:"name"`
	Predicate graph.Predicate `json:"predicate,omitempty"`
	Forward   bool            `json:"forward,omitempty"`
}

// Result is one ranked retrieval hit.
type Result struct {
	Target     Target  `json:"target"`
	Source     Source  `json:"source"`
	Confidence float64 `json:"confidence"`
	Hops       int     `json:"hops"`
	Path       []Step  `json:"path,omitempty"`
	Excerpt    string  `json:"excerpt,omitempty"`
	// Anchor is the entity whose mention ties a graph hit to its chapter.
	Anchor string `json:"anchor,omitempty"`

	order  int
	anchor *graph.Node
}

// SnapshotSource supplies the current graph snapshot.
type SnapshotSource interface {
	Snapshot() *graph.Snapshot
}

// Retriever is read-only and safe for concurrent use.
type Retriever struct {
	cfg   Config
	graph SnapshotSource
	text  index.TextIndex
}

// New validates cfg and builds a Retriever.
func New(cfg Config, g SnapshotSource, text index.TextIndex) (*Retriever, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("retrieve: config: %w", err)
	}
	return &Retriever{cfg: cfg, graph: g, text: text}, nil
}

// Config returns the retriever configuration.
func (r *Retriever) Config() Config { return r.cfg }

var chapterMention = regexp.MustCompile(`第\s*0*(\d+)\s*章|(?i:\bch(?:apter)?[_-]?0*(\d+)\b)`)

// Retrieve runs q against the latest snapshot. A blank query returns an
// empty result.
func (r *Retriever) Retrieve(ctx context.Context, q Query) ([]Result, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(q.Text) == "" {
		return []Result{}, nil
	}
	snap := r.graph.Snapshot()
	m := &merger{byKey: make(map[string]*Result)}

	for _, c := range candidates(snap, q.Text) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.expand(snap, c, q.MaxHops, m)
	}

	if r.text != nil {
		hits, err := r.text.Search(ctx, q.Text, max(q.Limit, 50))
		if err != nil {
			return nil, err
		}
		chapters := chaptersByPath(snap)
		for _, h := range hits {
			res := &Result{Source: SourceText, Confidence: r.cfg.TextConfidence, Excerpt: h.Snippet}
			if n, ok := chapters[h.Path]; ok {
				res.Target = chapterTarget(n)
			} else {
				res.Target = Target{Kind: TargetFile, ID: h.Path, Path: h.Path, Title: h.Title}
			}
			m.add(res)
		}
	}

	out := m.sorted()
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	for i := range out {
		r.excerpt(ctx, &out[i])
	}
	return out, nil
}

// candidates returns nodes whose folded name or alias occurs in the query,
// plus chapters mentioned by number, in node insertion order.
func candidates(snap *graph.Snapshot, query string) []*graph.Node {
	folded := textnorm.Fold(query)
	seen := make(map[string]bool)
	var out []*graph.Node
	for _, e := range snap.Names() {
		if e.Folded == "" || seen[e.NodeID] || !strings.Contains(folded, e.Folded) {
			continue
		}
		if n, err := snap.Node(e.NodeID); err == nil {
			seen[n.ID] = true
			out = append(out, n)
		}
	}
	for _, m := range chapterMention.FindAllStringSubmatch(query, -1) {
		digits := m[1]
		if digits == "" {
			digits = m[2]
		}
		num, err := strconv.Atoi(digits)
		if err != nil {
			continue
		}
		if n, ok := snap.ChapterByNumber(num); ok && !seen[n.ID] {
			seen[n.ID] = true
			out = append(out, n)
		}
	}
	slices.SortStableFunc(out, func(a, b *graph.Node) int { return cmp.Compare(a.Seq, b.Seq) })
	return out
}

// expand walks relational edges from a candidate and turns every reached
// node into results: chapters directly, other nodes through the chapters
// that evidence them, and unevidenced nodes as entity results.
func (r *Retriever) expand(snap *graph.Snapshot, start *graph.Node, maxHops int, m *merger) {
	reached, err := snap.Expand(start.ID, maxHops, graph.RelationalFilter())
	if err != nil {
		return
	}
	structural := graph.StructuralFilter()
	for _, rc := range reached {
		conf := math.Pow(r.cfg.HopDecay, float64(rc.Hops))
		path := steps(snap, start, rc.Path)
		if rc.Node.Label == graph.Chapter {
			m.add(&Result{Target: chapterTarget(rc.Node), Source: SourceGraph, Confidence: conf, Hops: rc.Hops, Path: path, anchor: start, Anchor: start.Name})
			continue
		}
		evidenced := false
		nbs, _ := snap.Neighbors(rc.Node.ID, structural, graph.Both)
		for _, nb := range nbs {
			if nb.Node.Label != graph.Chapter {
				continue
			}
			evidenced = true
			m.add(&Result{Target: chapterTarget(nb.Node), Source: SourceGraph, Confidence: conf, Hops: rc.Hops, Path: path, anchor: rc.Node, Anchor: rc.Node.Name})
		}
		if !evidenced {
			m.add(&Result{
				Target:     Target{Kind: TargetEntity, ID: rc.Node.ID, Name: rc.Node.Name, Label: rc.Node.Label, Path: rc.Node.Properties.String("source")},
				Source:     SourceGraph,
				Confidence: conf,
				Hops:       rc.Hops,
				Path:       path,
				Excerpt:    rc.Node.Properties.String("description"),
				Anchor:     rc.Node.Name,
			})
		}
	}
}

func steps(snap *graph.Snapshot, start *graph.Node, hops []graph.Hop) []Step {
	out := make([]Step, 0, len(hops)+1)
	out = append(out, Step{NodeID: start.ID, Name: start.Name})
	for _, h := range hops {
		name := ""
		if n, err := snap.Node(h.To); err == nil {
			name = n.Name
		}
		out = append(out, Step{NodeID: h.To, Name: name, Predicate: h.Predicate, Forward: h.Forward})
	}
	return out
}

func chapterTarget(n *graph.Node) Target {
	return Target{
		Kind:   TargetChapter,
		ID:     n.ID,
		Name:   n.Name,
		Label:  graph.Chapter,
		Path:   n.Properties.String("path"),
		Number: n.Properties.Int("number"),
		Title:  n.Properties.String("title"),
	}
}

func chaptersByPath(snap *graph.Snapshot) map[string]*graph.Node {
	out := make(map[string]*graph.Node)
	for _, n := range snap.Nodes(graph.Chapter) {
		if p := n.Properties.String("path"); p != "" {
			out[p] = n
		}
	}
	return out
}

// excerpt fills graph hits on chapters with the text around the anchor
// entity, trying its name and then its aliases.
func (r *Retriever) excerpt(ctx context.Context, res *Result) {
	if r.text == nil || res.Target.Kind != TargetChapter || res.anchor == nil || res.Target.Path == "" {
		return
	}
	terms := append([]string{res.anchor.Name}, res.anchor.Aliases()...)
	for _, t := range terms {
		if ex, err := r.text.Excerpt(ctx, res.Target.Path, t); err == nil && ex != "" {
			res.Excerpt = ex
			return
		}
	}
}

// merger unions results by target.
type merger struct {
	byKey map[string]*Result
	list  []*Result
}

func (m *merger) add(res *Result) {
	key := string(res.Target.Kind) + ":" + res.Target.ID
	if res.Target.Kind == TargetChapter {
		key = "chapter:" + res.Target.ID
	}
	prev, ok := m.byKey[key]
	if !ok {
		res.order = len(m.list)
		m.byKey[key] = res
		m.list = append(m.list, res)
		return
	}
	switch {
	case res.Source == SourceGraph && prev.Source == SourceText:
		// Graph evidence replaces the text hit but keeps the higher score.
		conf := math.Max(prev.Confidence, res.Confidence)
		snippet := prev.Excerpt
		res.order = prev.order
		*prev = *res
		prev.Confidence = conf
		if prev.Excerpt == "" {
			prev.Excerpt = snippet
		}
	case res.Source == SourceText && prev.Source == SourceGraph:
		prev.Confidence = math.Max(prev.Confidence, res.Confidence)
		if prev.Excerpt == "" {
			prev.Excerpt = res.Excerpt
		}
	case res.Confidence > prev.Confidence:
		res.order = prev.order
		*prev = *res
	}
}

// sorted orders by confidence, graph before text, shorter paths, then
// discovery order.
func (m *merger) sorted() []Result {
	out := make([]Result, 0, len(m.list))
	for _, r := range m.list {
		out = append(out, *r)
	}
	slices.SortStableFunc(out, func(a, b Result) int {
		if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
			return c
		}
		if a.Source != b.Source {
			if a.Source == SourceGraph {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(a.Hops, b.Hops); c != 0 {
			return c
		}
		return cmp.Compare(a.order, b.order)
	})
	return out
}
