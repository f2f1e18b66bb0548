package extract

import (
	"github.com/starford/plotweave/internal/graph"
)

// Ref addresses a node by its natural key.
type Ref struct {
	Label graph.Label `json:"label"`
	Name  string      `json:"name"`
}

// NodeFact is a candidate node.
type NodeFact struct {
	Ref
	Properties map[string]any `json:"properties,omitempty"`
	// Declared nodes are anchored to the file so they survive orphan pruning.
	Declared bool `json:"declared,omitempty"`
}

// EdgeFact is a candidate edge between two node refs.
type EdgeFact struct {
	From       Ref             `json:"from"`
	Predicate  graph.Predicate `json:"predicate"`
	To         Ref             `json:"to"`
	Properties map[string]any  `json:"properties,omitempty"`
}

// Facts is everything extracted from one file.
type Facts struct {
	File   string `json:"file"`
	Kind   string `json:"kind"`
	Title  string `json:"title"`
	Body   string `json:"-"`
	Number int    `json:"number,omitempty"`
	// Entities declared by a settings file, used to build the dictionary.
	Entities []Entity   `json:"entities,omitempty"`
	Nodes    []NodeFact `json:"nodes"`
	Edges    []EdgeFact `json:"edges"`

	nodeIdx map[Ref]int
	edgeIdx map[edgeRef]int
}

type edgeRef struct {
	from Ref
	p    graph.Predicate
	to   Ref
}

func newFacts(file, kind string) *Facts {
	return &Facts{
		File:    file,
		Kind:    kind,
		nodeIdx: make(map[Ref]int),
		edgeIdx: make(map[edgeRef]int),
	}
}

// node records a node, merging properties into an earlier record.
func (f *Facts) node(r Ref, props map[string]any, declared bool) Ref {
	if i, ok := f.nodeIdx[r]; ok {
		n := &f.Nodes[i]
		if len(props) > 0 && n.Properties == nil {
			n.Properties = make(map[string]any, len(props))
		}
		for k, v := range props {
			n.Properties[k] = v
		}
		n.Declared = n.Declared || declared
		return r
	}
	f.nodeIdx[r] = len(f.Nodes)
	f.Nodes = append(f.Nodes, NodeFact{Ref: r, Properties: props, Declared: declared})
	return r
}

// edge records an edge; a repeated edge keeps its first position and
// takes the later properties.
func (f *Facts) edge(from Ref, p graph.Predicate, to Ref, props map[string]any) {
	f.node(from, nil, false)
	f.node(to, nil, false)
	k := edgeRef{from, p, to}
	if i, ok := f.edgeIdx[k]; ok {
		e := &f.Edges[i]
		if e.Properties == nil {
			e.Properties = make(map[string]any, len(props))
		}
		for key, v := range props {
			e.Properties[key] = v
		}
		return
	}
	f.edgeIdx[k] = len(f.Edges)
	f.Edges = append(f.Edges, EdgeFact{From: from, Predicate: p, To: to, Properties: props})
}

// Edge returns the recorded edge for (from, p, to).
func (f *Facts) Edge(from Ref, p graph.Predicate, to Ref) (EdgeFact, bool) {
	i, ok := f.edgeIdx[edgeRef{from, p, to}]
	if !ok {
		return EdgeFact{}, false
	}
	return f.Edges[i], true
}

// Declared returns refs of the nodes the file declares.
func (f *Facts) Declared() []Ref {
	var out []Ref
	for _, n := range f.Nodes {
		if n.Declared {
			out = append(out, n.Ref)
		}
	}
	return out
}
