// Package foreshadow traces setup, hint and payoff chains for Foreshadow
// nodes.
package foreshadow

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/starford/plotweave/internal/apperr"
	"github.com/starford/plotweave/internal/graph"
)

// Status is the resolution state of a chain.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// Anomaly kinds.
const (
	MissingSetup           = "missing_setup"
	ExtraSetup             = "extra_setup"
	ExtraFulfillment       = "extra_fulfillment"
	HintOutOfOrder         = "hint_out_of_order"
	FulfillmentBeforeSetup = "fulfillment_before_setup"
)

// ChapterRef identifies a chapter in a chain.
type ChapterRef struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Number int    `json:"number"`
	Path   string `json:"path,omitempty"`
	Title  string `json:"title,omitempty"`
}

// Anomaly is a chain inconsistency worth a writer's attention.
type Anomaly struct {
	Kind    string `json:"kind"`
	Chapter int    `json:"chapter,omitempty"`
	Detail  string `json:"detail"`
}

// Chain is the traced structure of one foreshadow.
type Chain struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Setup       *ChapterRef `json:"setup"`
	// Hints lie strictly after the setup and before the fulfillment, in
	// ascending chapter order.
	Hints       []ChapterRef `json:"hints"`
	Fulfillment *ChapterRef  `json:"fulfillment"`
	Status      Status       `json:"status"`
	Anomalies   []Anomaly    `json:"anomalies,omitempty"`

	seq int64
}

// SnapshotSource supplies the current graph snapshot.
type SnapshotSource interface {
	Snapshot() *graph.Snapshot
}

// Tracer reads foreshadow chains from the latest snapshot.
type Tracer struct {
	graph SnapshotSource
}

// New returns a Tracer over g.
func New(g SnapshotSource) *Tracer {
	return &Tracer{graph: g}
}

// Trace returns the chain for a foreshadow node id or name.
func (t *Tracer) Trace(idOrName string) (*Chain, error) {
	snap := t.graph.Snapshot()
	if n, err := snap.Node(idOrName); err == nil && n.Label == graph.Foreshadow {
		return trace(snap, n), nil
	}
	if found := snap.FindByName(idOrName, graph.Foreshadow); len(found) > 0 {
		return trace(snap, found[0]), nil
	}
	return nil, apperr.NotFound("foreshadow", idOrName)
}

// List returns every chain ordered by setup chapter; chains without a
// setup come last.
func (t *Tracer) List() []*Chain {
	snap := t.graph.Snapshot()
	nodes := snap.Nodes(graph.Foreshadow)
	out := make([]*Chain, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, trace(snap, n))
	}
	slices.SortStableFunc(out, func(a, b *Chain) int {
		if (a.Setup == nil) != (b.Setup == nil) {
			if a.Setup == nil {
				return 1
			}
			return -1
		}
		if a.Setup != nil {
			if c := cmp.Compare(a.Setup.Number, b.Setup.Number); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.seq, b.seq)
	})
	return out
}

// Open returns the unresolved chains.
func (t *Tracer) Open() []*Chain {
	var out []*Chain
	for _, c := range t.List() {
		if c.Status == StatusOpen {
			out = append(out, c)
		}
	}
	return out
}

func trace(snap *graph.Snapshot, fs *graph.Node) *Chain {
	c := &Chain{
		ID:          fs.ID,
		Name:        fs.Name,
		Description: fs.Properties.String("description"),
		Hints:       []ChapterRef{},
		Status:      StatusOpen,
		seq:         fs.Seq,
	}

	var setups, mentions, hints, payoffs []ChapterRef
	nbs, _ := snap.Neighbors(fs.ID, graph.Only(graph.Foreshadows, graph.Mentions, graph.Fulfills), graph.Both)
	for _, nb := range nbs {
		if nb.Node.Label != graph.Chapter {
			continue
		}
		ref := chapterRef(nb.Node)
		switch {
		case nb.Edge.Predicate == graph.Foreshadows && nb.Edge.Target == fs.ID:
			setups = appendChapter(setups, ref)
		case nb.Edge.Predicate == graph.Mentions && nb.Edge.Target == fs.ID:
			mentions = appendChapter(mentions, ref)
		case nb.Edge.Predicate == graph.Fulfills && nb.Edge.Source == fs.ID:
			payoffs = appendChapter(payoffs, ref)
		}
	}
	// A mention inside the setup or payoff chapter is part of that beat,
	// not a hint.
	for _, r := range mentions {
		if !hasChapter(setups, r) && !hasChapter(payoffs, r) {
			hints = appendChapter(hints, r)
		}
	}
	byNumber := func(a, b ChapterRef) int { return cmp.Compare(a.Number, b.Number) }
	slices.SortFunc(setups, byNumber)
	slices.SortFunc(hints, byNumber)
	slices.SortFunc(payoffs, byNumber)

	if len(setups) == 0 {
		c.Anomalies = append(c.Anomalies, Anomaly{Kind: MissingSetup, Detail: "no chapter sets up this foreshadow"})
	} else {
		c.Setup = &setups[0]
		for _, s := range setups[1:] {
			c.Anomalies = append(c.Anomalies, Anomaly{Kind: ExtraSetup, Chapter: s.Number, Detail: fmt.Sprintf("also set up in %s", s.Name)})
		}
	}
	if len(payoffs) > 0 {
		c.Fulfillment = &payoffs[0]
		c.Status = StatusResolved
		for _, p := range payoffs[1:] {
			c.Anomalies = append(c.Anomalies, Anomaly{Kind: ExtraFulfillment, Chapter: p.Number, Detail: fmt.Sprintf("also fulfilled in %s", p.Name)})
		}
		if c.Setup != nil && c.Fulfillment.Number <= c.Setup.Number {
			c.Anomalies = append(c.Anomalies, Anomaly{
				Kind:    FulfillmentBeforeSetup,
				Chapter: c.Fulfillment.Number,
				Detail:  fmt.Sprintf("fulfilled in %s, set up in %s", c.Fulfillment.Name, c.Setup.Name),
			})
		}
	}

	for _, h := range hints {
		if inRange(h.Number, c.Setup, c.Fulfillment) {
			c.Hints = append(c.Hints, h)
			continue
		}
		c.Anomalies = append(c.Anomalies, Anomaly{Kind: HintOutOfOrder, Chapter: h.Number, Detail: fmt.Sprintf("hint in %s lies outside the chain", h.Name)})
	}
	return c
}

// inRange reports whether n is strictly after setup and strictly before
// fulfillment; a missing bound is open.
func inRange(n int, setup, fulfillment *ChapterRef) bool {
	if setup != nil && n <= setup.Number {
		return false
	}
	if fulfillment != nil && n >= fulfillment.Number {
		return false
	}
	return true
}

func hasChapter(list []ChapterRef, ref ChapterRef) bool {
	return slices.ContainsFunc(list, func(r ChapterRef) bool { return r.ID == ref.ID })
}

func appendChapter(list []ChapterRef, ref ChapterRef) []ChapterRef {
	if hasChapter(list, ref) {
		return list
	}
	return append(list, ref)
}

func chapterRef(n *graph.Node) ChapterRef {
	return ChapterRef{
		ID:     n.ID,
		Name:   n.Name,
		Number: n.Properties.Int("number"),
		Path:   n.Properties.String("path"),
		Title:  n.Properties.String("title"),
	}
}
